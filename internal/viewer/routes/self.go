package routes

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/petervdpas/peercall/internal/call"
)

// SelfInfo describes this peer for the render surface.
type SelfInfo struct {
	PeerID   call.PeerIdentity `json:"peer_id"`
	ShareURL string            `json:"share_url,omitempty"`
	State    call.CallState    `json:"state"`
}

// ShareURL is the link a remote peer needs to dial self.
func ShareURL(base string, self call.PeerIdentity) string {
	if self == "" {
		return ""
	}
	return base + "/?id=" + url.QueryEscape(string(self))
}

func selfInfo(d Deps) SelfInfo {
	self := d.Call.Self()
	return SelfInfo{
		PeerID:   self,
		ShareURL: ShareURL(d.BaseURL, self),
		State:    d.Call.Status().Engine.State,
	}
}

func registerSelfRoutes(r chi.Router, d Deps) {
	// GET / keeps the identity in the URL so it can be copied and shared.
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		self := d.Call.Self()
		if self != "" && req.URL.Query().Get("id") != string(self) {
			http.Redirect(w, req, "/?id="+url.QueryEscape(string(self)), http.StatusFound)
			return
		}
		writeJSON(w, selfInfo(d))
	})

	r.Get("/api/self", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, selfInfo(d))
	})
}
