// Package signaling carries call.NegotiationMessage values between peers.
// Three transports share one JSON frame: a websocket relay, an MQTT broker
// and an in-process hub.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/peercall/internal/call"
)

// FrameType discriminates Frame.
type FrameType string

const (
	FrameOffer         FrameType = "offer"
	FrameAnswer        FrameType = "answer"
	FrameCandidate     FrameType = "candidate"
	FrameWelcome       FrameType = "welcome"
	FrameUndeliverable FrameType = "undeliverable"
	FrameError         FrameType = "error"
)

// Frame is one message on the wire.
type Frame struct {
	Type      FrameType                `json:"type"`
	From      string                   `json:"from,omitempty"`
	To        string                   `json:"to,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	PeerID    string                   `json:"peer_id,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

var errUnknownFrame = errors.New("unknown frame type")

// FrameFor wraps an outbound negotiation message addressed to to.
func FrameFor(to call.PeerIdentity, msg call.NegotiationMessage) (Frame, error) {
	f := Frame{From: string(msg.From), To: string(to)}
	switch msg.Kind {
	case call.KindOffer:
		f.Type, f.SDP = FrameOffer, msg.SDP
	case call.KindAnswer:
		f.Type, f.SDP = FrameAnswer, msg.SDP
	case call.KindCandidate:
		if msg.Candidate == nil {
			return Frame{}, errors.New("candidate message without candidate")
		}
		f.Type, f.Candidate = FrameCandidate, msg.Candidate
	default:
		return Frame{}, fmt.Errorf("%w: %q", errUnknownFrame, msg.Kind)
	}
	return f, nil
}

// Message converts a negotiation frame back into a call message. ok is false
// for control frames.
func (f Frame) Message() (call.NegotiationMessage, bool) {
	from := call.PeerIdentity(f.From)
	switch f.Type {
	case FrameOffer:
		return call.Offer(from, f.SDP), true
	case FrameAnswer:
		return call.Answer(from, f.SDP), true
	case FrameCandidate:
		return call.NegotiationMessage{Kind: call.KindCandidate, From: from, Candidate: f.Candidate}, true
	}
	return call.NegotiationMessage{}, false
}

// Envelope maps a frame to what the session consumes. Frames that are
// neither negotiation nor delivery failures yield ok=false.
func (f Frame) Envelope() (call.Envelope, bool) {
	if msg, ok := f.Message(); ok {
		return call.Envelope{Message: &msg}, true
	}
	if f.Type == FrameUndeliverable {
		cause := call.ErrUndeliverable
		if f.Error != "" {
			cause = fmt.Errorf("%w: %s", call.ErrUndeliverable, f.Error)
		}
		return call.Envelope{Err: &call.ChannelError{Peer: call.PeerIdentity(f.To), Err: cause}}, true
	}
	return call.Envelope{}, false
}

func encode(f Frame) ([]byte, error) { return json.Marshal(f) }

func decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, err
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", errUnknownFrame)
	}
	return f, nil
}

// fanout is the subscriber list every adapter embeds. Slow subscribers drop
// envelopes rather than stalling the transport reader.
type fanout struct {
	subs map[chan call.Envelope]struct{}
}

func (f *fanout) add(size int) chan call.Envelope {
	if f.subs == nil {
		f.subs = make(map[chan call.Envelope]struct{})
	}
	ch := make(chan call.Envelope, size)
	f.subs[ch] = struct{}{}
	return ch
}

// remove reports whether ch was still registered; the caller closes it.
func (f *fanout) remove(ch chan call.Envelope) bool {
	if _, ok := f.subs[ch]; !ok {
		return false
	}
	delete(f.subs, ch)
	return true
}

func (f *fanout) deliver(env call.Envelope) (dropped int) {
	for ch := range f.subs {
		select {
		case ch <- env:
		default:
			dropped++
		}
	}
	return dropped
}

func (f *fanout) closeAll() {
	for ch := range f.subs {
		close(ch)
		delete(f.subs, ch)
	}
}
