package signaling

import (
	"context"
	"sync"

	"github.com/petervdpas/peercall/internal/call"
)

// Hub connects LoopbackChannels inside one process. Frames still pass
// through the JSON encoding so the wire format is exercised end to end.
type Hub struct {
	mu    sync.Mutex
	peers map[call.PeerIdentity]*LoopbackChannel
}

func NewHub() *Hub {
	return &Hub{peers: make(map[call.PeerIdentity]*LoopbackChannel)}
}

// Join registers peer on the hub. Joining twice replaces the earlier channel.
func (h *Hub) Join(peer call.PeerIdentity) *LoopbackChannel {
	c := &LoopbackChannel{hub: h, self: peer}
	h.mu.Lock()
	if old, ok := h.peers[peer]; ok {
		old.detach()
	}
	h.peers[peer] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) leave(c *LoopbackChannel) {
	h.mu.Lock()
	if cur, ok := h.peers[c.self]; ok && cur == c {
		delete(h.peers, c.self)
	}
	h.mu.Unlock()
}

func (h *Hub) lookup(peer call.PeerIdentity) (*LoopbackChannel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.peers[peer]
	return c, ok
}

// LoopbackChannel is a call.Signaler bound to a Hub.
type LoopbackChannel struct {
	hub  *Hub
	self call.PeerIdentity

	mu     sync.Mutex
	subs   fanout
	closed bool
}

var _ call.Signaler = (*LoopbackChannel)(nil)

func (c *LoopbackChannel) Self() call.PeerIdentity { return c.self }

// Send returns a *call.ChannelError when to is not on the hub.
func (c *LoopbackChannel) Send(ctx context.Context, to call.PeerIdentity, msg call.NegotiationMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &call.ChannelError{Peer: to, Err: ErrClosed}
	}

	f, err := FrameFor(to, msg)
	if err != nil {
		return err
	}
	f.From = string(c.self)
	b, err := encode(f)
	if err != nil {
		return err
	}

	dst, ok := c.hub.lookup(to)
	if !ok {
		return &call.ChannelError{Peer: to, Err: call.ErrUndeliverable}
	}
	in, err := decode(b)
	if err != nil {
		return err
	}
	env, _ := in.Envelope()
	if !dst.deliver(env) {
		return &call.ChannelError{Peer: to, Err: call.ErrUndeliverable}
	}
	return nil
}

func (c *LoopbackChannel) deliver(env call.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.subs.deliver(env)
	return true
}

func (c *LoopbackChannel) Subscribe() (<-chan call.Envelope, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		ch := make(chan call.Envelope)
		close(ch)
		return ch, func() {}
	}
	ch := c.subs.add(64)
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.subs.remove(ch) {
			close(ch)
		}
	}
}

func (c *LoopbackChannel) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.subs.closeAll()
	}
}

// Close leaves the hub. Safe to call more than once.
func (c *LoopbackChannel) Close() error {
	c.hub.leave(c)
	c.detach()
	return nil
}
