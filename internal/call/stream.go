package call

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MediaStreamHandle references a local capture stream or a stream delivered by
// the remote peer. Local handles own their tracks; Stop releases them.
type MediaStreamHandle struct {
	ID    string
	Owner PeerIdentity
	Role  Role

	mu      sync.Mutex
	kinds   []webrtc.RTPCodecType
	tracks  []webrtc.TrackLocal
	stop    func()
	stopped bool

	packets atomic.Uint64
	bytes   atomic.Uint64
}

// NewLocalStream wraps captured tracks. stop is called once by Stop and may be nil.
func NewLocalStream(owner PeerIdentity, tracks []webrtc.TrackLocal, stop func()) *MediaStreamHandle {
	h := &MediaStreamHandle{
		ID:     uuid.NewString(),
		Owner:  owner,
		Role:   RoleLocal,
		tracks: tracks,
		stop:   stop,
	}
	for _, t := range tracks {
		h.kinds = append(h.kinds, t.Kind())
	}
	return h
}

func newRemoteStream(id string, owner PeerIdentity) *MediaStreamHandle {
	if id == "" {
		id = uuid.NewString()
	}
	return &MediaStreamHandle{ID: id, Owner: owner, Role: RoleRemote}
}

func (h *MediaStreamHandle) addKind(k webrtc.RTPCodecType) {
	h.mu.Lock()
	h.kinds = append(h.kinds, k)
	h.mu.Unlock()
}

// Tracks returns the local tracks to send. Remote handles return nil.
func (h *MediaStreamHandle) Tracks() []webrtc.TrackLocal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]webrtc.TrackLocal, len(h.tracks))
	copy(out, h.tracks)
	return out
}

// Kinds lists the media kinds carried, e.g. ["video", "audio"].
func (h *MediaStreamHandle) Kinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.kinds))
	for _, k := range h.kinds {
		out = append(out, k.String())
	}
	return out
}

func (h *MediaStreamHandle) hasKind(k webrtc.RTPCodecType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, have := range h.kinds {
		if have == k {
			return true
		}
	}
	return false
}

// Stop releases the underlying tracks. Idempotent.
func (h *MediaStreamHandle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	stop := h.stop
	h.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (h *MediaStreamHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *MediaStreamHandle) countPacket(p *rtp.Packet) {
	h.packets.Add(1)
	h.bytes.Add(uint64(len(p.Payload)))
}

// StreamStatus is the JSON view of a handle.
type StreamStatus struct {
	ID      string       `json:"id"`
	Owner   PeerIdentity `json:"owner"`
	Role    Role         `json:"role"`
	Kinds   []string     `json:"kinds"`
	Packets uint64       `json:"rtp_packets,omitempty"`
	Bytes   uint64       `json:"rtp_bytes,omitempty"`
}

func (h *MediaStreamHandle) Status() StreamStatus {
	return StreamStatus{
		ID:      h.ID,
		Owner:   h.Owner,
		Role:    h.Role,
		Kinds:   h.Kinds(),
		Packets: h.packets.Load(),
		Bytes:   h.bytes.Load(),
	}
}
