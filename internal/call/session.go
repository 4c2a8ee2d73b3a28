package call

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/petervdpas/peercall/internal/util"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

const (
	eventQueueSize    = 256
	transitionHistory = 64
	pliInterval       = 3 * time.Second
	defaultSendWait   = 10 * time.Second
)

// SessionConfig wires a Session. Identity, Media, Signaler and
// NewPeerConnection are required.
type SessionConfig struct {
	Identity          IdentityProvider
	Media             MediaAcquirer
	Constraints       Constraints
	Signaler          Signaler
	NewPeerConnection PeerConnectionFactory
	Renderer          Renderer
	Glare             GlareResolver

	// NegotiationTimeout fails a round that has not connected in time.
	// Zero waits forever.
	NegotiationTimeout time.Duration
	// SendTimeout bounds each signaling send. Defaults to 10s.
	SendTimeout time.Duration

	LoggerFactory logging.LoggerFactory

	// OnStateChange and OnIdentity run on the session loop and must not call
	// back into the session synchronously.
	OnStateChange func(Transition)
	OnIdentity    func(PeerIdentity)
}

// Session is one call lifecycle: identity, local media, negotiation and
// stream attachment. Every trigger is funnelled through a single event loop.
type Session struct {
	cfg    SessionConfig
	log    logging.LeveledLogger
	sink   *StreamSink
	engine *Engine

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	// loop-only
	self      PeerIdentity
	local     *MediaStreamHandle
	gen       int
	pending   context.CancelFunc
	startDone chan<- error
	subCancel func()
	timer     *time.Timer

	mu          sync.RWMutex
	snap        SessionStatus
	transitions *util.RingBuffer[Transition]
}

// SessionStatus is the JSON view served by the status endpoint.
type SessionStatus struct {
	Self    PeerIdentity   `json:"peer_id,omitempty"`
	Engine  EngineStatus   `json:"engine"`
	Streams []StreamStatus `json:"streams"`
	History []Transition   `json:"transitions,omitempty"`
}

func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.Identity == nil:
		return nil, errors.New("call: session needs an identity provider")
	case cfg.Media == nil:
		return nil, errors.New("call: session needs a media acquirer")
	case cfg.Signaler == nil:
		return nil, errors.New("call: session needs a signaler")
	case cfg.NewPeerConnection == nil:
		return nil, errors.New("call: session needs a peer connection factory")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendWait
	}
	s := &Session{
		cfg:         cfg,
		log:         loggerFor(cfg.LoggerFactory, "call"),
		sink:        NewStreamSink(cfg.Renderer),
		events:      make(chan func(), eventQueueSize),
		done:        make(chan struct{}),
		transitions: util.NewRingBuffer[Transition](transitionHistory),
	}
	s.engine = NewEngine(EngineConfig{
		Signaler:      cfg.Signaler,
		Sink:          s.sink,
		Glare:         cfg.Glare,
		OnTransition:  s.onTransition,
		LoggerFactory: cfg.LoggerFactory,
	})
	s.refresh()
	go s.loop()
	return s, nil
}

func (s *Session) loop() {
	for {
		select {
		case fn := <-s.events:
			fn()
			s.refresh()
		case <-s.done:
			return
		}
	}
}

// post queues fn on the loop. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and waits for its result. The status snapshot is
// refreshed before the caller resumes.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !s.post(func() {
		err := fn()
		s.refresh()
		errc <- err
	}) {
		return ErrSessionClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) sendCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.SendTimeout)
}

func (s *Session) refresh() {
	st := SessionStatus{
		Self:    s.self,
		Engine:  s.engine.Status(),
		Streams: s.sink.Snapshot(),
	}
	s.mu.Lock()
	s.snap = st
	s.mu.Unlock()
}

func (s *Session) onTransition(t Transition) {
	s.transitions.Push(t)
	switch {
	case t.From == StateAwaitingPeer && (t.To == StateOffering || t.To == StateAnswering):
		s.armTimeout(t.Round)
	case t.To == StateConnected || t.To.Terminal() || t.To == StateIdle:
		s.stopTimeout()
	}
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(t)
	}
}

func (s *Session) armTimeout(round int) {
	s.stopTimeout()
	if s.cfg.NegotiationTimeout <= 0 {
		return
	}
	s.timer = time.AfterFunc(s.cfg.NegotiationTimeout, func() {
		s.post(func() { _ = s.engine.Timeout(round) })
	})
}

func (s *Session) stopTimeout() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Start resolves the identity, acquires local media and prepares the peer
// connection. It returns once the session is AwaitingPeer or has failed.
// Cancelling ctx while pending closes the session.
func (s *Session) Start(ctx context.Context) error {
	done := make(chan error, 1)
	var gen int
	err := s.do(ctx, func() error {
		if err := s.engine.BeginAcquire(); err != nil {
			return err
		}
		s.gen++
		gen = s.gen
		pctx, cancel := context.WithCancel(ctx)
		s.pending = cancel
		s.startDone = done
		reuse := s.local
		if reuse != nil && reuse.Stopped() {
			reuse = nil
		}
		go s.acquire(pctx, gen, reuse)
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.post(func() { s.abortStart(gen, ctx.Err()) })
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

// acquire runs the suspension points off the loop and re-enters through it.
func (s *Session) acquire(ctx context.Context, gen int, reuse *MediaStreamHandle) {
	id, err := s.cfg.Identity.Resolve(ctx)
	if err != nil {
		s.post(func() { s.startFailed(ctx, gen, err) })
		return
	}
	s.post(func() { s.identityResolved(gen, id) })

	h := reuse
	if h == nil {
		h, err = s.cfg.Media.Acquire(ctx, id, s.cfg.Constraints)
		if err != nil {
			s.post(func() { s.startFailed(ctx, gen, err) })
			return
		}
	}

	pc, err := s.cfg.NewPeerConnection(ctx)
	if err != nil {
		if h != reuse {
			h.Stop()
		}
		s.post(func() { s.startFailed(ctx, gen, err) })
		return
	}

	if !s.post(func() { s.mediaReady(gen, h, pc) }) {
		h.Stop()
		_ = pc.Close()
	}
}

func (s *Session) stale(gen int) bool {
	return gen != s.gen || s.engine.State() != StateAcquiringMedia
}

func (s *Session) identityResolved(gen int, id PeerIdentity) {
	if s.stale(gen) || s.self == id {
		return
	}
	s.self = id
	s.engine.SetSelf(id)
	s.log.Infof("CALL [%s]: identity resolved", id)
	if s.cfg.OnIdentity != nil {
		s.cfg.OnIdentity(id)
	}
}

func (s *Session) mediaReady(gen int, h *MediaStreamHandle, pc PeerConnection) {
	if s.stale(gen) {
		s.log.Debugf("CALL [%s]: discarding late media for start #%d", s.self, gen)
		if h != s.local {
			h.Stop()
		}
		_ = pc.Close()
		return
	}
	s.releasePending()
	s.local = h
	s.wire(pc)
	s.sink.Attach(h)
	if err := s.engine.CreateLocalConnection(pc, h); err != nil {
		s.sink.Detach(h.Owner)
		s.finishStart(err)
		return
	}
	s.subscribe()
	s.finishStart(nil)
}

func (s *Session) startFailed(ctx context.Context, gen int, err error) {
	if s.stale(gen) {
		return
	}
	cause := ctx.Err()
	s.releasePending()
	if cause != nil {
		s.engine.Close()
		s.finishStart(&MediaAcquisitionError{Reason: ErrAcquisitionCancelled, Err: cause})
		return
	}
	s.finishStart(s.engine.AcquireFailed(err))
}

func (s *Session) abortStart(gen int, cause error) {
	if s.stale(gen) {
		return
	}
	s.releasePending()
	s.engine.Close()
	s.finishStart(&MediaAcquisitionError{Reason: ErrAcquisitionCancelled, Err: cause})
}

func (s *Session) releasePending() {
	if s.pending != nil {
		s.pending()
		s.pending = nil
	}
}

func (s *Session) finishStart(err error) {
	if s.startDone != nil {
		s.refresh()
		s.startDone <- err
		s.startDone = nil
	}
}

// wire routes pion callbacks for pc onto the loop. Callbacks for a connection
// the engine no longer owns are dropped.
func (s *Session) wire(pc PeerConnection) {
	current := func() bool { return s.engine.Conn() == pc }

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.post(func() {
			if !current() {
				return
			}
			ctx, cancel := s.sendCtx()
			defer cancel()
			_ = s.engine.LocalCandidate(ctx, init)
		})
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.post(func() {
			if current() {
				s.engine.ConnectionStateChanged(st)
			}
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.post(func() {
			if !current() {
				return
			}
			h := s.engine.IncomingTrack(track.StreamID(), track.Kind(), "")
			if h != nil {
				go s.drain(pc, track, h)
			}
		})
	})
}

// drain reads RTP from a remote track for stats and end detection, and asks
// for keyframes on video so a late renderer gets a picture.
func (s *Session) drain(pc PeerConnection, track *webrtc.TrackRemote, h *MediaStreamHandle) {
	stop := make(chan struct{})
	defer close(stop)

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go func() {
			ticker := time.NewTicker(pliInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}
					if err := pc.WriteRTCP([]rtcp.Packet{pli}); err != nil {
						return
					}
				}
			}
		}()
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debugf("CALL [%s]: remote %s track: %v", s.self, track.Kind(), err)
			}
			s.post(func() {
				if s.engine.Conn() == pc && s.engine.State() == StateConnected {
					_ = s.engine.RemoteStreamEnded(h.Owner)
				}
			})
			return
		}
		h.countPacket(pkt)
	}
}

// subscribe starts routing inbound signaling into the loop.
func (s *Session) subscribe() {
	if s.subCancel != nil {
		return
	}
	ch, cancel := s.cfg.Signaler.Subscribe()
	s.subCancel = cancel
	go s.dispatchLoop(ch)
}

func (s *Session) dispatchLoop(ch <-chan Envelope) {
	for {
		select {
		case <-s.done:
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(env)
		}
	}
}

func (s *Session) dispatch(env Envelope) {
	switch {
	case env.Err != nil:
		cerr := env.Err
		s.post(func() { _ = s.engine.ChannelFailed(cerr) })
	case env.Message != nil:
		msg := *env.Message
		s.post(func() { _ = s.route(msg) })
	}
}

func (s *Session) route(msg NegotiationMessage) error {
	switch msg.Kind {
	case KindOffer:
		ctx, cancel := s.sendCtx()
		defer cancel()
		return s.engine.ReceiveOffer(ctx, msg)
	case KindAnswer:
		return s.engine.ReceiveAnswer(msg)
	case KindCandidate:
		return s.engine.ReceiveICECandidate(msg)
	}
	return s.engine.reject("deliver", errors.New("unknown message kind "+string(msg.Kind)))
}

// Call offers a call to remote.
func (s *Session) Call(ctx context.Context, remote PeerIdentity) error {
	return s.do(ctx, func() error {
		sctx, cancel := s.sendCtx()
		defer cancel()
		return s.engine.InitiateCall(sctx, remote)
	})
}

// Deliver hands an externally received message to the engine.
func (s *Session) Deliver(ctx context.Context, msg NegotiationMessage) error {
	return s.do(ctx, func() error { return s.route(msg) })
}

// Hangup ends a connected call, or cancels one still negotiating.
func (s *Session) Hangup(ctx context.Context) error {
	return s.do(ctx, func() error {
		switch s.engine.State() {
		case StateConnected:
			return s.engine.Hangup()
		case StateOffering, StateAnswering, StateConnecting:
			s.engine.Close()
			return nil
		}
		return s.engine.reject("hangup", ErrInvalidState)
	})
}

// Teardown stops local media, closes the engine and detaches every stream.
// Safe to call repeatedly.
func (s *Session) Teardown(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.teardown()
		return nil
	})
}

func (s *Session) teardown() {
	if s.pending != nil {
		s.releasePending()
		s.finishStart(&MediaAcquisitionError{Reason: ErrAcquisitionCancelled})
	}
	s.stopTimeout()
	if s.local != nil {
		s.local.Stop()
	}
	s.engine.Close()
	s.sink.DetachAll()
	if s.subCancel != nil {
		s.subCancel()
		s.subCancel = nil
	}
}

// Reset returns a failed or closed session to Idle so Start can run again.
func (s *Session) Reset(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.engine.Reset(); err != nil {
			return err
		}
		if s.local != nil && s.local.Stopped() {
			s.local = nil
		}
		return nil
	})
}

func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	st := s.snap
	s.mu.RUnlock()
	st.History = s.transitions.Snapshot()
	return st
}

func (s *Session) State() CallState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Engine.State
}

// Identity is the resolved local identity, empty before Start resolves it.
func (s *Session) Identity() PeerIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Self
}

// Sink exposes the attached streams.
func (s *Session) Sink() *StreamSink { return s.sink }

// Close tears the session down and stops its loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.Teardown(ctx)
		cancel()
		close(s.done)
	})
}
