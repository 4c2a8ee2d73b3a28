package call

// GlareResolver decides what happens when a remote offer arrives while our own
// offer is outstanding. Returning nil yields: the engine rolls back its offer
// and answers the remote one. Returning an error discards the remote offer.
type GlareResolver interface {
	ResolveGlare(self, remote PeerIdentity) error
}

// GlareFunc adapts a function to GlareResolver.
type GlareFunc func(self, remote PeerIdentity) error

func (f GlareFunc) ResolveGlare(self, remote PeerIdentity) error { return f(self, remote) }

// RejectGlare keeps the local offer and discards the colliding one.
var RejectGlare GlareResolver = GlareFunc(func(PeerIdentity, PeerIdentity) error { return ErrGlare })

// PoliteGlare yields when self sorts after remote, so exactly one side of a
// collision backs off.
var PoliteGlare GlareResolver = GlareFunc(func(self, remote PeerIdentity) error {
	if self > remote {
		return nil
	}
	return ErrGlare
})
