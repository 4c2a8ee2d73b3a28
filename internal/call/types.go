package call

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// PeerIdentity identifies one peer for the lifetime of a session.
type PeerIdentity string

func (p PeerIdentity) String() string { return string(p) }

// CallState is the single state a session is in at any moment.
type CallState int

const (
	StateIdle CallState = iota
	StateAcquiringMedia
	StateAwaitingPeer
	StateOffering
	StateAnswering
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateAcquiringMedia: "acquiring-media",
	StateAwaitingPeer:   "awaiting-peer",
	StateOffering:       "offering",
	StateAnswering:      "answering",
	StateConnecting:     "connecting",
	StateConnected:      "connected",
	StateFailed:         "failed",
	StateClosed:         "closed",
}

func (s CallState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name in JSON status output.
func (s CallState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *CallState) UnmarshalText(b []byte) error {
	v, ok := ParseCallState(string(b))
	if !ok {
		return fmt.Errorf("unknown call state %q", b)
	}
	*s = v
	return nil
}

// ParseCallState is the inverse of CallState.String.
func ParseCallState(name string) (CallState, bool) {
	for i, n := range stateNames {
		if n == name {
			return CallState(i), true
		}
	}
	return StateIdle, false
}

// Terminal reports whether no negotiation can happen without a reset.
func (s CallState) Terminal() bool { return s == StateFailed || s == StateClosed }

// Role tags a stream as captured here or delivered by the remote peer.
type Role string

const (
	RoleLocal  Role = "local"
	RoleRemote Role = "remote"
)

// Constraints lists the track kinds requested from the capture devices.
type Constraints struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// MessageKind discriminates NegotiationMessage.
type MessageKind string

const (
	KindOffer     MessageKind = "offer"
	KindAnswer    MessageKind = "answer"
	KindCandidate MessageKind = "candidate"
)

// NegotiationMessage is one half of the signaling exchange. Exactly one of SDP
// (offer/answer) or Candidate (candidate) is meaningful, depending on Kind.
type NegotiationMessage struct {
	Kind      MessageKind              `json:"type"`
	From      PeerIdentity             `json:"from"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func Offer(from PeerIdentity, sdp string) NegotiationMessage {
	return NegotiationMessage{Kind: KindOffer, From: from, SDP: sdp}
}

func Answer(from PeerIdentity, sdp string) NegotiationMessage {
	return NegotiationMessage{Kind: KindAnswer, From: from, SDP: sdp}
}

func IceCandidate(from PeerIdentity, c webrtc.ICECandidateInit) NegotiationMessage {
	return NegotiationMessage{Kind: KindCandidate, From: from, Candidate: &c}
}

// Envelope is one inbound item from a Signaler: either a message from a peer
// or a delivery failure the transport reported for an earlier Send.
type Envelope struct {
	Message *NegotiationMessage
	Err     *ChannelError
}

// Signaler is the only surface the call package needs from a signaling
// transport. Adapters live in internal/signaling.
type Signaler interface {
	// Send delivers msg to the peer identified by to.
	Send(ctx context.Context, to PeerIdentity, msg NegotiationMessage) error
	// Subscribe returns inbound envelopes until cancel is called.
	Subscribe() (ch <-chan Envelope, cancel func())
}

// Renderer is the external render surface. It is told about every stream the
// sink attaches and is responsible for any visual element.
type Renderer interface {
	OnStreamReady(h *MediaStreamHandle, role Role, peer PeerIdentity)
}

// StreamRemover is optionally implemented by a Renderer that wants detach
// notifications too.
type StreamRemover interface {
	OnStreamRemoved(role Role, peer PeerIdentity)
}

// Transition records one state change.
type Transition struct {
	From  CallState    `json:"from"`
	To    CallState    `json:"to"`
	Cause string       `json:"cause"`
	Round int          `json:"round"`
	Peer  PeerIdentity `json:"peer,omitempty"`
	At    time.Time    `json:"at"`
}

// Direction of a negotiation round, from this peer's point of view.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// CallRecord is written to history when a negotiation round ends.
type CallRecord struct {
	ID         string       `json:"id"`
	LocalPeer  PeerIdentity `json:"local_peer"`
	RemotePeer PeerIdentity `json:"remote_peer"`
	Direction  Direction    `json:"direction"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    time.Time    `json:"ended_at"`
	FinalState CallState    `json:"final_state"`
	Error      string       `json:"error,omitempty"`
}

// Recorder persists finished calls.
type Recorder interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}
