package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// transitions is the allowed-successor table. Closed is reachable from
// everywhere and handled separately.
var transitions = map[CallState][]CallState{
	StateIdle:           {StateAcquiringMedia, StateAwaitingPeer},
	StateAcquiringMedia: {StateAwaitingPeer, StateFailed},
	StateAwaitingPeer:   {StateOffering, StateAnswering},
	StateOffering:       {StateConnecting, StateAnswering, StateFailed},
	StateAnswering:      {StateConnecting, StateFailed},
	StateConnecting:     {StateConnected, StateFailed},
	StateConnected:      {},
	StateFailed:         {StateIdle},
	StateClosed:         {StateIdle},
}

// CanTransition reports whether from -> to is an edge of the call graph.
func CanTransition(from, to CallState) bool {
	if to == StateClosed {
		return from != StateClosed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EngineConfig wires an Engine to its collaborators.
type EngineConfig struct {
	Self          PeerIdentity
	Signaler      Signaler
	Sink          *StreamSink
	Glare         GlareResolver
	OnTransition  func(Transition)
	LoggerFactory logging.LoggerFactory
}

// Engine is the negotiation state machine for one session. It is not safe for
// concurrent use; the session loop is its only caller.
type Engine struct {
	self         PeerIdentity
	sig          Signaler
	sink         *StreamSink
	glare        GlareResolver
	onTransition func(Transition)
	log          logging.LeveledLogger

	state     CallState
	round     int
	pc        PeerConnection
	local     *MediaStreamHandle
	remote    PeerIdentity
	direction Direction
	localSet  bool
	remoteSet bool
	queue     CandidateQueue
	streams   map[string]*MediaStreamHandle
	noTracks  bool
	lastErr   error
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Sink == nil {
		cfg.Sink = NewStreamSink(nil)
	}
	if cfg.Glare == nil {
		cfg.Glare = RejectGlare
	}
	return &Engine{
		self:         cfg.Self,
		sig:          cfg.Signaler,
		sink:         cfg.Sink,
		glare:        cfg.Glare,
		onTransition: cfg.OnTransition,
		log:          loggerFor(cfg.LoggerFactory, "engine"),
		streams:      make(map[string]*MediaStreamHandle),
	}
}

func (e *Engine) State() CallState { return e.state }

// Conn is the current peer connection, nil outside a round.
func (e *Engine) Conn() PeerConnection { return e.pc }

func (e *Engine) Remote() PeerIdentity { return e.remote }

func (e *Engine) Round() int { return e.round }

// SetSelf records the local identity once it is resolved.
func (e *Engine) SetSelf(id PeerIdentity) { e.self = id }

// EngineStatus is a point-in-time view of the engine.
type EngineStatus struct {
	State                CallState    `json:"state"`
	Round                int          `json:"round"`
	Remote               PeerIdentity `json:"remote_peer,omitempty"`
	Direction            Direction    `json:"direction,omitempty"`
	LocalDescriptionSet  bool         `json:"local_description_set"`
	RemoteDescriptionSet bool         `json:"remote_description_set"`
	QueuedCandidates     int          `json:"queued_candidates"`
	NoLocalTracks        bool         `json:"no_local_tracks,omitempty"`
	LastError            string       `json:"last_error,omitempty"`
}

func (e *Engine) Status() EngineStatus {
	st := EngineStatus{
		State:                e.state,
		Round:                e.round,
		Remote:               e.remote,
		Direction:            e.direction,
		LocalDescriptionSet:  e.localSet,
		RemoteDescriptionSet: e.remoteSet,
		QueuedCandidates:     e.queue.Len(),
		NoLocalTracks:        e.noTracks,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// LastError is the error that moved the engine to Failed, if any.
func (e *Engine) LastError() error { return e.lastErr }

func (e *Engine) transition(to CallState, cause string) {
	from := e.state
	e.state = to
	e.log.Debugf("CALL [%s]: %s -> %s (%s)", e.self, from, to, cause)
	if e.onTransition != nil {
		e.onTransition(Transition{
			From:  from,
			To:    to,
			Cause: cause,
			Round: e.round,
			Peer:  e.remote,
			At:    time.Now(),
		})
	}
}

// reject reports a non-fatal error; the state is left as it was.
func (e *Engine) reject(op string, err error) error {
	ne := negErr(op, e.state, false, err)
	e.log.Warnf("CALL [%s]: %v", e.self, ne)
	return ne
}

// fail moves to Failed when the graph allows it and reports the error.
func (e *Engine) fail(op string, err error) error {
	if !CanTransition(e.state, StateFailed) {
		return e.reject(op, err)
	}
	ne := negErr(op, e.state, true, err)
	e.lastErr = ne
	e.log.Errorf("CALL [%s]: %v", e.self, ne)
	// The round is dead: stop ICE/DTLS and take remote streams off the sink.
	// Local media survives for the next round.
	e.release()
	e.transition(StateFailed, ne.Error())
	return ne
}

func (e *Engine) require(op string, states ...CallState) error {
	for _, s := range states {
		if e.state == s {
			return nil
		}
	}
	return e.reject(op, ErrInvalidState)
}

// BeginAcquire marks the start of a session: Idle -> AcquiringMedia.
func (e *Engine) BeginAcquire() error {
	if err := e.require("start", StateIdle); err != nil {
		return err
	}
	e.transition(StateAcquiringMedia, "start")
	return nil
}

// AcquireFailed records a start failure (identity, media or connection setup).
func (e *Engine) AcquireFailed(err error) error {
	if rerr := e.require("start", StateAcquiringMedia); rerr != nil {
		return rerr
	}
	e.lastErr = err
	e.log.Errorf("CALL [%s]: start failed: %v", e.self, err)
	e.transition(StateFailed, err.Error())
	return err
}

// CreateLocalConnection adopts pc for this round, adds the local tracks and
// moves to AwaitingPeer.
func (e *Engine) CreateLocalConnection(pc PeerConnection, local *MediaStreamHandle) error {
	const op = "create local connection"
	if err := e.require(op, StateIdle, StateAcquiringMedia); err != nil {
		return err
	}
	if pc == nil || local == nil {
		return e.reject(op, ErrNoLocalMedia)
	}
	for _, t := range local.Tracks() {
		if _, err := pc.AddTrack(t); err != nil {
			_ = pc.Close()
			return e.fail(op, fmt.Errorf("add %s track: %w", t.Kind(), err))
		}
	}
	if err := addRecvOnlyTransceivers(pc, local); err != nil {
		_ = pc.Close()
		return e.fail(op, fmt.Errorf("add recvonly transceiver: %w", err))
	}
	e.pc = pc
	e.local = local
	e.transition(StateAwaitingPeer, "local connection ready")
	return nil
}

func (e *Engine) beginRound(remote PeerIdentity, dir Direction) {
	e.round++
	e.remote = remote
	e.direction = dir
	e.localSet = false
	e.remoteSet = false
	e.lastErr = nil
}

// InitiateCall is the caller path: AwaitingPeer -> Offering.
func (e *Engine) InitiateCall(ctx context.Context, remote PeerIdentity) error {
	const op = "initiate call"
	if err := e.require(op, StateAwaitingPeer); err != nil {
		return err
	}
	if e.local == nil || e.pc == nil {
		return e.reject(op, ErrNoLocalMedia)
	}
	if remote == "" || remote == e.self {
		return e.reject(op, fmt.Errorf("%w: %q", ErrInvalidPeer, remote))
	}

	e.noTracks = len(e.local.Tracks()) == 0
	if e.noTracks {
		e.log.Warnf("CALL [%s]: offering to %s without local tracks", e.self, remote)
	}

	e.beginRound(remote, DirectionOutgoing)
	e.transition(StateOffering, "call "+remote.String())

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return e.fail(op, fmt.Errorf("%w: create offer: %v", ErrDescription, err))
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return e.fail(op, fmt.Errorf("%w: set local offer: %v", ErrDescription, err))
	}
	e.localSet = true

	if err := e.sig.Send(ctx, remote, Offer(e.self, offer.SDP)); err != nil {
		return e.fail(op, &ChannelError{Peer: remote, Err: err})
	}
	e.log.Infof("CALL [%s]: offer sent to %s", e.self, remote)
	return nil
}

// ReceiveOffer is the callee path: AwaitingPeer -> Answering -> Connecting.
// While Offering, the glare resolver decides whether to yield.
func (e *Engine) ReceiveOffer(ctx context.Context, msg NegotiationMessage) error {
	const op = "receive offer"
	if err := e.require(op, StateAwaitingPeer, StateOffering); err != nil {
		return err
	}
	if e.pc == nil {
		return e.reject(op, ErrNoLocalMedia)
	}
	if msg.From == "" || msg.From == e.self {
		return e.reject(op, fmt.Errorf("%w: %q", ErrInvalidPeer, msg.From))
	}
	if err := validateSDP(msg.SDP); err != nil {
		return e.reject(op, err)
	}

	if e.state == StateOffering {
		if msg.From != e.remote {
			return e.reject(op, ErrInvalidState)
		}
		if err := e.glare.ResolveGlare(e.self, msg.From); err != nil {
			return e.reject(op, err)
		}
		e.log.Infof("CALL [%s]: glare with %s, rolling back local offer", e.self, msg.From)
		if err := e.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return e.fail(op, fmt.Errorf("%w: rollback: %v", ErrDescription, err))
		}
		e.localSet = false
		e.direction = DirectionIncoming
		e.transition(StateAnswering, "glare: yield to "+msg.From.String())
	} else {
		e.beginRound(msg.From, DirectionIncoming)
		e.transition(StateAnswering, "offer from "+msg.From.String())
	}

	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
		return e.fail(op, fmt.Errorf("%w: set remote offer: %v", ErrDescription, err))
	}
	e.remoteSet = true
	e.drainQueue()

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return e.fail(op, fmt.Errorf("%w: create answer: %v", ErrDescription, err))
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return e.fail(op, fmt.Errorf("%w: set local answer: %v", ErrDescription, err))
	}
	e.localSet = true

	if err := e.sig.Send(ctx, msg.From, Answer(e.self, answer.SDP)); err != nil {
		return e.fail(op, &ChannelError{Peer: msg.From, Err: err})
	}
	e.log.Infof("CALL [%s]: answer sent to %s", e.self, msg.From)
	e.transition(StateConnecting, "answer sent")
	return nil
}

// ReceiveAnswer completes the caller path: Offering -> Connecting.
func (e *Engine) ReceiveAnswer(msg NegotiationMessage) error {
	const op = "receive answer"
	switch {
	case e.state.Terminal():
		return e.reject(op, ErrInvalidState)
	case e.remoteSet:
		return e.reject(op, ErrDuplicateAnswer)
	case e.state != StateOffering:
		return e.reject(op, ErrInvalidState)
	case msg.From != e.remote:
		return e.reject(op, fmt.Errorf("%w: answer from %q, calling %q", ErrPeerMismatch, msg.From, e.remote))
	}
	if err := validateSDP(msg.SDP); err != nil {
		return e.reject(op, err)
	}
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
		return e.fail(op, fmt.Errorf("%w: set remote answer: %v", ErrDescription, err))
	}
	e.remoteSet = true
	e.drainQueue()
	e.transition(StateConnecting, "answer from "+msg.From.String())
	return nil
}

// ReceiveICECandidate applies a remote candidate, or queues it until the
// remote description is set.
func (e *Engine) ReceiveICECandidate(msg NegotiationMessage) error {
	const op = "receive candidate"
	if e.state.Terminal() {
		return e.reject(op, ErrInvalidState)
	}
	if msg.Candidate == nil {
		return e.reject(op, fmt.Errorf("%w: empty candidate", ErrCandidateRejected))
	}
	if e.remote != "" && msg.From != e.remote {
		return e.reject(op, fmt.Errorf("%w: candidate from %q", ErrPeerMismatch, msg.From))
	}
	if !e.remoteSet {
		if !e.queue.Push(msg.From, *msg.Candidate) {
			return e.reject(op, fmt.Errorf("%w: queue full for %q", ErrCandidateRejected, msg.From))
		}
		e.log.Debugf("CALL [%s]: queued candidate from %s (%d pending)", e.self, msg.From, e.queue.Len())
		return nil
	}
	return e.applyCandidate(*msg.Candidate)
}

func (e *Engine) applyCandidate(c webrtc.ICECandidateInit) error {
	if err := e.pc.AddICECandidate(c); err != nil {
		return e.reject("apply candidate", fmt.Errorf("%w: %v", ErrCandidateRejected, err))
	}
	return nil
}

// drainQueue applies queued candidates in receipt order once the remote
// description is set. Candidates from anyone but the negotiated peer are dropped.
func (e *Engine) drainQueue() {
	if !e.remoteSet {
		return
	}
	for _, q := range e.queue.Drain() {
		if q.From != e.remote {
			e.log.Debugf("CALL [%s]: dropping queued candidate from %s", e.self, q.From)
			continue
		}
		_ = e.applyCandidate(q.Candidate)
	}
}

// LocalCandidate trickles a locally gathered candidate to the remote peer.
func (e *Engine) LocalCandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	if e.state.Terminal() || e.remote == "" {
		return nil
	}
	if err := e.sig.Send(ctx, e.remote, IceCandidate(e.self, c)); err != nil {
		e.log.Warnf("CALL [%s]: send candidate to %s: %v", e.self, e.remote, err)
		return &ChannelError{Peer: e.remote, Err: err}
	}
	return nil
}

// IncomingTrack attaches (or re-attaches) the remote stream a track belongs to.
// origin defaults to the negotiated remote peer.
func (e *Engine) IncomingTrack(streamID string, kind webrtc.RTPCodecType, origin PeerIdentity) *MediaStreamHandle {
	if e.state.Terminal() || e.pc == nil {
		return nil
	}
	if origin == "" {
		origin = e.remote
	}
	h, ok := e.streams[streamID]
	if !ok {
		h = newRemoteStream(streamID, origin)
		e.streams[streamID] = h
	}
	h.addKind(kind)
	e.log.Infof("CALL [%s]: remote %s track on stream %s from %s", e.self, kind, h.ID, origin)
	e.sink.Attach(h)
	return h
}

// ConnectionStateChanged maps peer connection state onto the call graph.
func (e *Engine) ConnectionStateChanged(st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateConnected:
		if e.state == StateConnecting {
			e.transition(StateConnected, "ice connected")
		}
	case webrtc.PeerConnectionStateFailed:
		switch e.state {
		case StateOffering, StateAnswering, StateConnecting:
			_ = e.fail("connection", ErrConnectionFailed)
		case StateConnected:
			e.lastErr = ErrConnectionFailed
			e.closeWith("connection failed")
		}
	case webrtc.PeerConnectionStateClosed:
		if !e.state.Terminal() && e.state != StateIdle {
			e.closeWith("connection closed")
		}
	case webrtc.PeerConnectionStateDisconnected:
		e.log.Warnf("CALL [%s]: connection to %s disconnected, waiting for ICE", e.self, e.remote)
	}
}

// ChannelFailed handles a delivery failure reported by the transport.
func (e *Engine) ChannelFailed(cerr *ChannelError) error {
	switch e.state {
	case StateOffering, StateAnswering, StateConnecting:
		if cerr.Peer == e.remote {
			return e.fail("signal", cerr)
		}
	}
	e.log.Warnf("CALL [%s]: %v", e.self, cerr)
	return nil
}

// Timeout fails the given round if it is still negotiating.
func (e *Engine) Timeout(round int) error {
	if round != e.round {
		return nil
	}
	switch e.state {
	case StateOffering, StateAnswering, StateConnecting:
		return e.fail("negotiate", ErrNegotiationTimeout)
	}
	return nil
}

// RemoteStreamEnded closes a connected call once the remote media stops.
func (e *Engine) RemoteStreamEnded(owner PeerIdentity) error {
	if err := e.require("remote stream ended", StateConnected); err != nil {
		return err
	}
	e.closeWith("remote stream ended")
	return nil
}

// Hangup ends a connected call.
func (e *Engine) Hangup() error {
	if err := e.require("hangup", StateConnected); err != nil {
		return err
	}
	e.closeWith("hangup")
	return nil
}

// Close moves to Closed from any state and releases the connection.
// Repeated calls are no-ops.
func (e *Engine) Close() {
	if e.state == StateClosed {
		return
	}
	e.closeWith("close")
}

func (e *Engine) closeWith(cause string) {
	e.release()
	e.transition(StateClosed, cause)
}

func (e *Engine) release() {
	if e.pc != nil {
		if err := e.pc.Close(); err != nil {
			e.log.Debugf("CALL [%s]: close peer connection: %v", e.self, err)
		}
		e.pc = nil
	}
	for id, h := range e.streams {
		e.sink.Detach(h.Owner)
		delete(e.streams, id)
	}
	e.queue.Drain()
}

// Reset returns a failed or closed engine to Idle, discarding the round.
func (e *Engine) Reset() error {
	if err := e.require("reset", StateFailed, StateClosed); err != nil {
		return err
	}
	e.release()
	e.local = nil
	e.remote = ""
	e.direction = ""
	e.localSet = false
	e.remoteSet = false
	e.noTracks = false
	e.lastErr = nil
	e.transition(StateIdle, "reset")
	return nil
}

// validateSDP rejects payloads pion/sdp cannot parse or that carry no media.
func validateSDP(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrMalformedSDP)
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSDP, err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrMalformedSDP)
	}
	return nil
}

// IsFatal reports whether err moved the session to Failed.
func IsFatal(err error) bool {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.Fatal
	}
	var me *MediaAcquisitionError
	return errors.As(err, &me)
}
