package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/petervdpas/peercall/internal/applog"
)

const maxLogLines = 1000

func registerAPILogRoutes(r chi.Router, d Deps) {
	if d.Logs == nil {
		return
	}
	r.Get("/api/logs", logsHandler(d.Logs))
	r.Get("/api/logs/stream", logStreamHandler(d.Logs))
}

// GET /api/logs?n=100 or /api/logs?since=<seq>
func logsHandler(logs LogSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s := r.URL.Query().Get("since"); s != "" {
			seq, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, errors.New("since must be a sequence number"))
				return
			}
			writeJSON(w, nonNil(logs.Since(seq)))
			return
		}
		n, err := queryInt(r, "n", 0, maxLogLines)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, nonNil(logs.Last(n)))
	}
}

// GET /api/logs/stream (server-sent events). A reconnecting client sends
// Last-Event-ID and first receives the lines it missed.
func logStreamHandler(logs LogSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
			return
		}

		lines, stop := logs.Follow()
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Connection", "keep-alive")

		var sent uint64
		if id := r.Header.Get("Last-Event-ID"); id != "" {
			if seq, err := strconv.ParseUint(id, 10, 64); err == nil {
				for _, e := range logs.Since(seq) {
					writeLogEvent(w, e)
					sent = e.Seq
				}
			}
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case e, ok := <-lines:
				if !ok {
					return
				}
				if e.Seq <= sent {
					continue
				}
				writeLogEvent(w, e)
				sent = e.Seq
				flusher.Flush()
			}
		}
	}
}

func writeLogEvent(w http.ResponseWriter, e applog.Entry) {
	b, _ := json.Marshal(e)
	_, _ = fmt.Fprintf(w, "id: %d\nevent: log\ndata: %s\n\n", e.Seq, b)
}

func nonNil(entries []applog.Entry) []applog.Entry {
	if entries == nil {
		return []applog.Entry{}
	}
	return entries
}
