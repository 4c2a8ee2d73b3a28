// Package call manages one-to-one WebRTC call sessions using Pion.
// Coupling to the rest of peercall is via the Signaler, Renderer and Recorder
// interfaces only.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Event types pushed to subscribers.
const (
	EventStreamReady   = "stream-ready"
	EventStreamRemoved = "stream-removed"
	EventState         = "state"
	EventIdentity      = "identity"
)

// Event is one render-surface notification.
type Event struct {
	Type       string        `json:"type"`
	Role       Role          `json:"role,omitempty"`
	Peer       PeerIdentity  `json:"peer,omitempty"`
	Stream     *StreamStatus `json:"stream,omitempty"`
	Transition *Transition   `json:"transition,omitempty"`
	At         time.Time     `json:"at"`
}

// ManagerConfig configures New. Session.Renderer, OnStateChange and
// OnIdentity are chained behind the manager's own handlers.
type ManagerConfig struct {
	Session  SessionConfig
	Recorder Recorder
}

// Manager owns the call session and fans its events out to subscribers.
type Manager struct {
	session  *Session
	recorder Recorder
	log      logging.LeveledLogger

	next    Renderer
	onState func(Transition)
	onIdent func(PeerIdentity)

	subMu sync.RWMutex
	subs  map[chan Event]struct{}

	// loop-only
	self    PeerIdentity
	current *CallRecord

	recWG sync.WaitGroup
	done  chan struct{}
}

// New creates a Manager and its session.
func New(cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		recorder: cfg.Recorder,
		log:      loggerFor(cfg.Session.LoggerFactory, "call"),
		next:     cfg.Session.Renderer,
		onState:  cfg.Session.OnStateChange,
		onIdent:  cfg.Session.OnIdentity,
		subs:     make(map[chan Event]struct{}),
		done:     make(chan struct{}),
	}
	sc := cfg.Session
	sc.Renderer = m
	sc.OnStateChange = m.handleTransition
	sc.OnIdentity = m.handleIdentity
	sess, err := NewSession(sc)
	if err != nil {
		return nil, err
	}
	m.session = sess
	return m, nil
}

func (m *Manager) Session() *Session { return m.session }

func (m *Manager) Start(ctx context.Context) error { return m.session.Start(ctx) }

func (m *Manager) Call(ctx context.Context, remote PeerIdentity) error {
	return m.session.Call(ctx, remote)
}

func (m *Manager) Deliver(ctx context.Context, msg NegotiationMessage) error {
	return m.session.Deliver(ctx, msg)
}

func (m *Manager) Hangup(ctx context.Context) error { return m.session.Hangup(ctx) }

func (m *Manager) Reset(ctx context.Context) error { return m.session.Reset(ctx) }

func (m *Manager) Status() SessionStatus { return m.session.Status() }

func (m *Manager) Self() PeerIdentity { return m.session.Identity() }

// Subscribe registers for events. Slow subscribers miss events rather than
// stalling the session.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) publish(ev Event) {
	ev.At = time.Now()
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// OnStreamReady implements Renderer.
func (m *Manager) OnStreamReady(h *MediaStreamHandle, role Role, peer PeerIdentity) {
	st := h.Status()
	m.publish(Event{Type: EventStreamReady, Role: role, Peer: peer, Stream: &st})
	if m.next != nil {
		m.next.OnStreamReady(h, role, peer)
	}
}

// OnStreamRemoved implements StreamRemover.
func (m *Manager) OnStreamRemoved(role Role, peer PeerIdentity) {
	m.publish(Event{Type: EventStreamRemoved, Role: role, Peer: peer})
	if rm, ok := m.next.(StreamRemover); ok {
		rm.OnStreamRemoved(role, peer)
	}
}

func (m *Manager) handleIdentity(id PeerIdentity) {
	m.self = id
	m.publish(Event{Type: EventIdentity, Peer: id})
	if m.onIdent != nil {
		m.onIdent(id)
	}
}

func (m *Manager) handleTransition(t Transition) {
	m.publish(Event{Type: EventState, Peer: t.Peer, Transition: &t})
	m.track(t)
	if m.onState != nil {
		m.onState(t)
	}
}

// track opens a history record when a round starts and writes it when the
// round ends.
func (m *Manager) track(t Transition) {
	switch {
	case t.From == StateAwaitingPeer && (t.To == StateOffering || t.To == StateAnswering):
		dir := DirectionOutgoing
		if t.To == StateAnswering {
			dir = DirectionIncoming
		}
		m.current = &CallRecord{
			ID:         uuid.NewString(),
			LocalPeer:  m.self,
			RemotePeer: t.Peer,
			Direction:  dir,
			StartedAt:  t.At,
		}
	case m.current == nil:
	case t.From == StateOffering && t.To == StateAnswering:
		m.current.Direction = DirectionIncoming
	case t.To.Terminal():
		rec := *m.current
		m.current = nil
		rec.EndedAt = t.At
		rec.FinalState = t.To
		if t.To == StateFailed {
			rec.Error = t.Cause
		}
		m.record(rec)
	}
}

func (m *Manager) record(rec CallRecord) {
	if m.recorder == nil {
		return
	}
	m.recWG.Add(1)
	go func() {
		defer m.recWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.recorder.RecordCall(ctx, rec); err != nil {
			m.log.Warnf("CALL: record call %s: %v", rec.ID, err)
		}
	}()
}

// Close tears down the session, waits for pending history writes and drops
// every subscriber.
func (m *Manager) Close() {
	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}
	m.session.Close()
	m.recWG.Wait()

	m.subMu.Lock()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
	m.subMu.Unlock()
}
