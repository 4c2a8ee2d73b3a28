package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"github.com/petervdpas/peercall/internal/call"
)

const maxBody = 64 << 10

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid JSON body: "+err.Error()))
		return err
	}
	return nil
}

// statusFor maps call errors onto HTTP status codes.
func statusFor(err error) int {
	var neg *call.NegotiationError
	var media *call.MediaAcquisitionError
	switch {
	case errors.Is(err, call.ErrInvalidPeer):
		return http.StatusBadRequest
	case errors.As(err, &neg):
		return http.StatusConflict
	case errors.Is(err, call.ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &media):
		return http.StatusFailedDependency
	}
	return http.StatusInternalServerError
}

// queryInt parses a positive integer query parameter; def when absent.
func queryInt(r *http.Request, name string, def, max int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
