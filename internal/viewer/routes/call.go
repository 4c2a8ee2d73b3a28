package routes

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/storage"
)

// restartTimeout bounds media and identity acquisition after a reset.
const restartTimeout = 30 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The viewer only listens on loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerCallRoutes(r chi.Router, d Deps) {
	r.Route("/api/call", func(r chi.Router) {
		// POST /api/call/start {remote_peer}
		r.Post("/start", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				RemotePeer string `json:"remote_peer"`
			}
			if decodeJSON(w, req, &body) != nil {
				return
			}
			remote := call.PeerIdentity(strings.TrimSpace(body.RemotePeer))
			if remote == "" {
				writeError(w, req, http.StatusBadRequest, errors.New("missing remote_peer"))
				return
			}
			if err := d.Call.Call(req.Context(), remote); err != nil {
				writeError(w, req, statusFor(err), err)
				return
			}
			writeJSON(w, map[string]any{"status": "offering", "remote_peer": remote})
		})

		r.Post("/hangup", func(w http.ResponseWriter, req *http.Request) {
			if err := d.Call.Hangup(req.Context()); err != nil {
				writeError(w, req, statusFor(err), err)
				return
			}
			writeJSON(w, map[string]string{"status": "closed"})
		})

		// POST /api/call/reset returns to idle and acquires media again so
		// the peer is ready for the next call.
		r.Post("/reset", func(w http.ResponseWriter, req *http.Request) {
			if err := d.Call.Reset(req.Context()); err != nil {
				writeError(w, req, statusFor(err), err)
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), restartTimeout)
			defer cancel()
			if err := d.Call.Start(ctx); err != nil {
				writeError(w, req, statusFor(err), err)
				return
			}
			writeJSON(w, selfInfo(d))
		})

		// GET /api/call/status: engine state, streams with RTP stats and the
		// recent transitions.
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, d.Call.Status())
		})

		r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
			if d.History == nil {
				writeError(w, req, http.StatusNotFound, errors.New("call history disabled"))
				return
			}
			limit, err := queryInt(req, "limit", storage.DefaultListLimit, 500)
			if err != nil {
				writeError(w, req, http.StatusBadRequest, err)
				return
			}
			calls, err := d.History.ListCalls(req.Context(), limit)
			if err != nil {
				writeError(w, req, http.StatusInternalServerError, err)
				return
			}
			peers, err := d.History.RecentPeers(req.Context(), limit)
			if err != nil {
				writeError(w, req, http.StatusInternalServerError, err)
				return
			}
			if calls == nil {
				calls = []call.CallRecord{}
			}
			if peers == nil {
				peers = []storage.RecentPeer{}
			}
			writeJSON(w, map[string]any{"calls": calls, "peers": peers})
		})

		// GET /api/call/events streams render-surface events over a websocket.
		// The first frame is the current self descriptor.
		r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
			serveEvents(w, req, d)
		})
	})
}

func serveEvents(w http.ResponseWriter, req *http.Request, d Deps) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		hlog.FromRequest(req).Warn().Err(err).Msg("events upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := d.Call.Subscribe()
	defer cancel()

	// Drain incoming messages (ping/pong, close frames) without blocking.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v) == nil
	}
	if !write(call.Event{Type: call.EventIdentity, Peer: d.Call.Self(), At: time.Now()}) {
		return
	}

	for {
		select {
		case <-req.Context().Done():
			return
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "call manager closed"),
					time.Now().Add(time.Second))
				return
			}
			if !write(ev) {
				return
			}
		}
	}
}
