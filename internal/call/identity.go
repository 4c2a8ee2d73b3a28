package call

import (
	"context"
	"sync"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
)

// IdentityProvider resolves the local peer's identity. Repeated calls within
// one session return the same value.
type IdentityProvider interface {
	Resolve(ctx context.Context) (PeerIdentity, error)
}

// UUIDGenerator produces random UUID identities.
func UUIDGenerator() PeerIdentity { return PeerIdentity(uuid.NewString()) }

// PetnameGenerator produces readable identities such as "brave-otter-3f9c".
// The uuid suffix keeps two peers picking the same words apart.
func PetnameGenerator() PeerIdentity {
	return PeerIdentity(petname.Generate(2, "-") + "-" + uuid.NewString()[:4])
}

// RandomIdentity generates its identity on first Resolve.
type RandomIdentity struct {
	gen  func() PeerIdentity
	once sync.Once
	id   PeerIdentity
}

// NewRandomIdentity uses gen, or UUIDGenerator when gen is nil.
func NewRandomIdentity(gen func() PeerIdentity) *RandomIdentity {
	if gen == nil {
		gen = UUIDGenerator
	}
	return &RandomIdentity{gen: gen}
}

func (r *RandomIdentity) Resolve(context.Context) (PeerIdentity, error) {
	r.once.Do(func() { r.id = r.gen() })
	return r.id, nil
}

// StaticIdentity always resolves to itself.
type StaticIdentity PeerIdentity

func (s StaticIdentity) Resolve(context.Context) (PeerIdentity, error) {
	if s == "" {
		return "", ErrInvalidPeer
	}
	return PeerIdentity(s), nil
}

// AssignedIdentity waits for an external party (usually the signaling relay)
// to hand out the identity. Resolve blocks until Assign or ctx cancellation.
type AssignedIdentity struct {
	mu    sync.Mutex
	id    PeerIdentity
	ready chan struct{}
}

func NewAssignedIdentity() *AssignedIdentity {
	return &AssignedIdentity{ready: make(chan struct{})}
}

// Assign sets the identity. Only the first non-empty assignment sticks.
func (a *AssignedIdentity) Assign(id PeerIdentity) bool {
	if id == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id != "" {
		return a.id == id
	}
	a.id = id
	close(a.ready)
	return true
}

func (a *AssignedIdentity) Resolve(ctx context.Context) (PeerIdentity, error) {
	select {
	case <-a.ready:
		a.mu.Lock()
		id := a.id
		a.mu.Unlock()
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
