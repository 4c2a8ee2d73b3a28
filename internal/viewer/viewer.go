// Package viewer is the local HTTP surface of a peer: identity, call
// control, status, history and logs.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/petervdpas/peercall/internal/viewer/routes"
)

type Viewer struct {
	Call    routes.Caller
	History routes.History // nil when history is disabled
	Logs    routes.LogSource // nil hides /api/logs

	// canonical base URL for share links (e.g. http://127.0.0.1:8080)
	BaseURL string

	Logger zerolog.Logger
}

// Handler builds the router.
func (v Viewer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(v.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Dur("took", d).
			Msg("http")
	}))
	r.Use(middleware.Recoverer)
	r.Use(noCache)

	d := routes.Deps{
		Call:    v.Call,
		History: v.History,
		Logs:    v.Logs,
		BaseURL: v.BaseURL,
	}
	routes.Register(r, d)
	return r
}

// Start serves on addr until ctx is cancelled.
func Start(ctx context.Context, addr string, v Viewer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, v)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, v Viewer) error {
	if v.BaseURL == "" {
		// fallback (should not happen if wired correctly)
		v.BaseURL = "http://" + ln.Addr().String()
	}
	srv := &http.Server{
		Handler:           v.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
