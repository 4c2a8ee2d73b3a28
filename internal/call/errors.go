package call

import (
	"errors"
	"fmt"
)

// Media acquisition failures.
var (
	ErrPermissionDenied     = errors.New("media permission denied")
	ErrNoDevice             = errors.New("no media device available")
	ErrAcquisitionCancelled = errors.New("media acquisition cancelled")
)

// Negotiation failures.
var (
	ErrInvalidState       = errors.New("operation not valid in current state")
	ErrMalformedSDP       = errors.New("malformed session description")
	ErrDuplicateAnswer    = errors.New("remote description already set")
	ErrNoLocalMedia       = errors.New("no local media attached")
	ErrInvalidPeer        = errors.New("invalid remote peer")
	ErrPeerMismatch       = errors.New("message from unexpected peer")
	ErrCandidateRejected  = errors.New("ice candidate rejected")
	ErrGlare              = errors.New("offer collided with local offer")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrDescription        = errors.New("session description failed")
	ErrConnectionFailed   = errors.New("peer connection failed")
)

// Signaling failures.
var ErrUndeliverable = errors.New("signaling message undeliverable")

// ErrSessionClosed is returned by session operations after Close.
var ErrSessionClosed = errors.New("call session closed")

// MediaAcquisitionError reports why local capture could not start.
type MediaAcquisitionError struct {
	Reason error // one of ErrPermissionDenied, ErrNoDevice, ErrAcquisitionCancelled
	Err    error // platform error, may be nil
}

func (e *MediaAcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquire media: %v: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("acquire media: %v", e.Reason)
}

func (e *MediaAcquisitionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// NegotiationError reports a rejected or failed negotiation step. Fatal errors
// moved the session to Failed; non-fatal ones left the state unchanged.
type NegotiationError struct {
	Op    string
	State CallState
	Fatal bool
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s (state %s): %v", e.Op, e.State, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// ChannelError reports a message the signaling transport could not deliver.
type ChannelError struct {
	Peer PeerIdentity
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("signal to %s: %v", e.Peer, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

func negErr(op string, st CallState, fatal bool, err error) *NegotiationError {
	return &NegotiationError{Op: op, State: st, Fatal: fatal, Err: err}
}
