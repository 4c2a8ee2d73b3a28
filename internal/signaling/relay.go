package signaling

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/util"
)

const (
	maxRelayPeers   = 256
	relaySendBuffer = 64
)

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay is a websocket signaling relay. Each peer holds one socket; frames
// are forwarded to the socket registered under Frame.To. The relay stamps
// Frame.From itself so peers cannot speak for each other.
type Relay struct {
	log    zerolog.Logger
	assign func() call.PeerIdentity

	mu    sync.Mutex
	peers map[string]*relayPeer
}

type relayPeer struct {
	id   string
	send chan []byte
}

// NewRelay returns a relay that names anonymous peers with assign, or with
// call.PetnameGenerator when assign is nil.
func NewRelay(assign func() call.PeerIdentity) *Relay {
	if assign == nil {
		assign = call.PetnameGenerator
	}
	return &Relay{
		log:    log.With().Str("component", "relay").Logger(),
		assign: assign,
		peers:  make(map[string]*relayPeer),
	}
}

// Peers returns the number of connected peers.
func (r *Relay) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("peer")
	if id != "" {
		clean, err := util.ValidatePeerName(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id = clean
	} else {
		id = string(r.assign())
	}

	p := &relayPeer{id: id, send: make(chan []byte, relaySendBuffer)}
	if err := r.add(p); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	conn, err := relayUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.remove(p)
		r.log.Warn().Err(err).Str("peer", id).Msg("upgrade failed")
		return
	}
	r.log.Info().Str("peer", id).Msg("peer connected")

	welcome, _ := encode(Frame{Type: FrameWelcome, PeerID: id})
	p.send <- welcome

	go r.writeLoop(conn, p)
	r.readLoop(conn, p)
}

func (r *Relay) add(p *relayPeer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) >= maxRelayPeers {
		return errors.New("relay full")
	}
	if _, taken := r.peers[p.id]; taken {
		return errors.New("peer id already connected")
	}
	r.peers[p.id] = p
	return nil
}

func (r *Relay) remove(p *relayPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[p.id]; ok && cur == p {
		delete(r.peers, p.id)
		close(p.send)
	}
}

func (r *Relay) readLoop(conn *websocket.Conn, p *relayPeer) {
	defer func() {
		r.remove(p)
		_ = conn.Close()
		r.log.Info().Str("peer", p.id).Msg("peer disconnected")
	}()
	conn.SetReadLimit(wsMaxFrame)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := decode(data)
		if err != nil {
			r.reply(p, Frame{Type: FrameError, Error: err.Error()})
			continue
		}
		if _, ok := f.Message(); !ok {
			r.reply(p, Frame{Type: FrameError, Error: "only offer, answer and candidate frames are relayed"})
			continue
		}
		f.From = p.id
		r.forward(p, f)
	}
}

func (r *Relay) forward(from *relayPeer, f Frame) {
	b, err := encode(f)
	if err != nil {
		return
	}
	r.mu.Lock()
	dst, ok := r.peers[f.To]
	delivered := false
	if ok {
		select {
		case dst.send <- b:
			delivered = true
		default:
		}
	}
	r.mu.Unlock()

	if !delivered {
		reason := "peer offline"
		if ok {
			reason = "peer not reading"
		}
		r.log.Debug().Str("from", from.id).Str("to", f.To).Str("type", string(f.Type)).Msg(reason)
		r.reply(from, Frame{Type: FrameUndeliverable, To: f.To, Error: reason})
	}
}

func (r *Relay) reply(p *relayPeer, f Frame) {
	b, err := encode(f)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[p.id]; !ok || cur != p {
		return
	}
	select {
	case p.send <- b:
	default:
	}
}

func (r *Relay) writeLoop(conn *websocket.Conn, p *relayPeer) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case b, ok := <-p.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
