package call

import (
	"sort"
	"sync"
)

type sinkKey struct {
	role  Role
	owner PeerIdentity
}

// StreamSink tracks attached streams by (role, owner). A second attach with the
// same tag replaces the first.
type StreamSink struct {
	mu       sync.RWMutex
	attached map[sinkKey]*MediaStreamHandle
	renderer Renderer
}

// NewStreamSink notifies r about attachments. r may be nil.
func NewStreamSink(r Renderer) *StreamSink {
	return &StreamSink{attached: make(map[sinkKey]*MediaStreamHandle), renderer: r}
}

// Attach registers h under (h.Role, h.Owner) and tells the renderer.
func (s *StreamSink) Attach(h *MediaStreamHandle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.attached[sinkKey{h.Role, h.Owner}] = h
	r := s.renderer
	s.mu.Unlock()
	if r != nil {
		r.OnStreamReady(h, h.Role, h.Owner)
	}
}

// Detach removes every attachment owned by owner.
func (s *StreamSink) Detach(owner PeerIdentity) {
	s.mu.Lock()
	var removed []sinkKey
	for k := range s.attached {
		if k.owner == owner {
			delete(s.attached, k)
			removed = append(removed, k)
		}
	}
	r := s.renderer
	s.mu.Unlock()
	s.notifyRemoved(r, removed)
}

func (s *StreamSink) DetachAll() {
	s.mu.Lock()
	removed := make([]sinkKey, 0, len(s.attached))
	for k := range s.attached {
		removed = append(removed, k)
	}
	s.attached = make(map[sinkKey]*MediaStreamHandle)
	r := s.renderer
	s.mu.Unlock()
	s.notifyRemoved(r, removed)
}

func (s *StreamSink) notifyRemoved(r Renderer, keys []sinkKey) {
	rm, ok := r.(StreamRemover)
	if !ok {
		return
	}
	for _, k := range keys {
		rm.OnStreamRemoved(k.role, k.owner)
	}
}

func (s *StreamSink) Get(role Role, owner PeerIdentity) (*MediaStreamHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.attached[sinkKey{role, owner}]
	return h, ok
}

func (s *StreamSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attached)
}

// Snapshot lists the attached streams, local first.
func (s *StreamSink) Snapshot() []StreamStatus {
	s.mu.RLock()
	out := make([]StreamStatus, 0, len(s.attached))
	for _, h := range s.attached {
		out = append(out, h.Status())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role == RoleLocal
		}
		return out[i].Owner < out[j].Owner
	})
	return out
}
