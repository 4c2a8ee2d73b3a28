package call

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine   *Engine
	pc       *fakePC
	sig      *fakeSignaler
	sink     *StreamSink
	renderer *recordingRenderer
	trans    []Transition
}

func newEngineFixture(t *testing.T, glare GlareResolver) *engineFixture {
	t.Helper()
	f := &engineFixture{
		pc:       &fakePC{},
		sig:      newFakeSignaler(),
		renderer: &recordingRenderer{},
	}
	f.sink = NewStreamSink(f.renderer)
	f.engine = NewEngine(EngineConfig{
		Self:         "peer-1",
		Signaler:     f.sig,
		Sink:         f.sink,
		Glare:        glare,
		OnTransition: func(tr Transition) { f.trans = append(f.trans, tr) },
	})
	return f
}

// ready brings the engine to AwaitingPeer with an audio-only local stream.
func (f *engineFixture) ready(t *testing.T) {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	require.NoError(t, err)
	local := NewLocalStream("peer-1", []webrtc.TrackLocal{track}, nil)
	require.NoError(t, f.engine.CreateLocalConnection(f.pc, local))
	require.Equal(t, StateAwaitingPeer, f.engine.State())
}

func (f *engineFixture) toConnecting(t *testing.T) {
	t.Helper()
	f.ready(t)
	require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
	require.NoError(t, f.engine.ReceiveAnswer(Answer("peer-2", testSDP)))
	require.Equal(t, StateConnecting, f.engine.State())
}

func (f *engineFixture) toConnected(t *testing.T) {
	t.Helper()
	f.toConnecting(t)
	f.engine.ConnectionStateChanged(webrtc.PeerConnectionStateConnected)
	require.Equal(t, StateConnected, f.engine.State())
}

func requireNegErr(t *testing.T, err error, target error, fatal bool) {
	t.Helper()
	require.Error(t, err)
	var ne *NegotiationError
	require.True(t, errors.As(err, &ne), "want *NegotiationError, got %T", err)
	assert.ErrorIs(t, err, target)
	assert.Equal(t, fatal, ne.Fatal)
}

func TestCanTransition(t *testing.T) {
	valid := [][2]CallState{
		{StateIdle, StateAcquiringMedia},
		{StateIdle, StateAwaitingPeer},
		{StateAcquiringMedia, StateAwaitingPeer},
		{StateAcquiringMedia, StateFailed},
		{StateAwaitingPeer, StateOffering},
		{StateAwaitingPeer, StateAnswering},
		{StateOffering, StateConnecting},
		{StateOffering, StateAnswering},
		{StateAnswering, StateConnecting},
		{StateConnecting, StateConnected},
		{StateOffering, StateFailed},
		{StateAnswering, StateFailed},
		{StateConnecting, StateFailed},
		{StateConnected, StateClosed},
		{StateFailed, StateIdle},
		{StateClosed, StateIdle},
	}
	for _, v := range valid {
		assert.True(t, CanTransition(v[0], v[1]), "%s -> %s", v[0], v[1])
	}
	for s := StateIdle; s <= StateFailed; s++ {
		assert.True(t, CanTransition(s, StateClosed), "%s -> closed", s)
	}

	invalid := [][2]CallState{
		{StateIdle, StateOffering},
		{StateIdle, StateConnected},
		{StateAwaitingPeer, StateConnecting},
		{StateAwaitingPeer, StateFailed},
		{StateConnecting, StateOffering},
		{StateConnected, StateFailed},
		{StateConnected, StateIdle},
		{StateClosed, StateClosed},
		{StateClosed, StateAwaitingPeer},
	}
	for _, v := range invalid {
		assert.False(t, CanTransition(v[0], v[1]), "%s -> %s", v[0], v[1])
	}
}

func TestEngineRejectsInvalidSource(t *testing.T) {
	ctx := context.Background()
	ops := map[string]func(e *Engine) error{
		"initiate": func(e *Engine) error { return e.InitiateCall(ctx, "peer-2") },
		"offer":    func(e *Engine) error { return e.ReceiveOffer(ctx, Offer("peer-2", testSDP)) },
		"answer":   func(e *Engine) error { return e.ReceiveAnswer(Answer("peer-2", testSDP)) },
		"hangup":   func(e *Engine) error { return e.Hangup() },
		"ended":    func(e *Engine) error { return e.RemoteStreamEnded("peer-2") },
		"reset":    func(e *Engine) error { return e.Reset() },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			f := newEngineFixture(t, nil)
			err := op(f.engine)
			requireNegErr(t, err, ErrInvalidState, false)
			assert.Equal(t, StateIdle, f.engine.State())
			assert.Empty(t, f.trans)
		})
	}

	t.Run("initiate while connecting", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.toConnecting(t)
		err := f.engine.InitiateCall(ctx, "peer-3")
		requireNegErr(t, err, ErrInvalidState, false)
		assert.Equal(t, StateConnecting, f.engine.State())
	})

	t.Run("late offer while connecting", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.toConnecting(t)
		err := f.engine.ReceiveOffer(ctx, Offer("peer-3", testSDP))
		requireNegErr(t, err, ErrInvalidState, false)
		assert.Equal(t, StateConnecting, f.engine.State())
	})
}

func TestEngineCallerPath(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.ready(t)

	require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
	assert.Equal(t, StateOffering, f.engine.State())
	sent := f.sig.last()
	assert.Equal(t, PeerIdentity("peer-2"), sent.to)
	assert.Equal(t, KindOffer, sent.msg.Kind)
	assert.Equal(t, PeerIdentity("peer-1"), sent.msg.From)
	require.Len(t, f.pc.local, 1)
	assert.Equal(t, webrtc.SDPTypeOffer, f.pc.local[0].Type)

	require.NoError(t, f.engine.ReceiveAnswer(Answer("peer-2", testSDP)))
	assert.Equal(t, StateConnecting, f.engine.State())

	f.engine.ConnectionStateChanged(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, StateConnected, f.engine.State())

	var path []CallState
	for _, tr := range f.trans {
		path = append(path, tr.To)
	}
	assert.Equal(t, []CallState{StateAwaitingPeer, StateOffering, StateConnecting, StateConnected}, path)
	assert.Equal(t, 1, f.trans[len(f.trans)-1].Round)
}

func TestEngineCalleePath(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.ready(t)

	require.NoError(t, f.engine.ReceiveOffer(context.Background(), Offer("peer-2", testSDP)))
	assert.Equal(t, StateConnecting, f.engine.State())
	assert.Equal(t, PeerIdentity("peer-2"), f.engine.Remote())
	assert.Equal(t, DirectionIncoming, f.engine.Status().Direction)

	sent := f.sig.last()
	assert.Equal(t, PeerIdentity("peer-2"), sent.to)
	assert.Equal(t, KindAnswer, sent.msg.Kind)
	require.Len(t, f.pc.remote, 1)
	assert.Equal(t, webrtc.SDPTypeOffer, f.pc.remote[0].Type)
	require.Len(t, f.pc.local, 1)
	assert.Equal(t, webrtc.SDPTypeAnswer, f.pc.local[0].Type)

	err := f.engine.ReceiveOffer(context.Background(), Offer("peer-2", testSDP))
	requireNegErr(t, err, ErrInvalidState, false)
}

func TestEngineInitiateCallValidation(t *testing.T) {
	t.Run("empty peer", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		requireNegErr(t, f.engine.InitiateCall(context.Background(), ""), ErrInvalidPeer, false)
		assert.Equal(t, StateAwaitingPeer, f.engine.State())
	})
	t.Run("self", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		requireNegErr(t, f.engine.InitiateCall(context.Background(), "peer-1"), ErrInvalidPeer, false)
		assert.Equal(t, StateAwaitingPeer, f.engine.State())
	})
	t.Run("no local media", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		requireNegErr(t, f.engine.CreateLocalConnection(f.pc, nil), ErrNoLocalMedia, false)
		assert.Equal(t, StateIdle, f.engine.State())
	})
	t.Run("trackless offer is flagged", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		require.NoError(t, f.engine.CreateLocalConnection(f.pc, NewLocalStream("peer-1", nil, nil)))
		assert.ElementsMatch(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio}, f.pc.transceivers)
		require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
		assert.True(t, f.engine.Status().NoLocalTracks)
	})
	t.Run("create offer fails", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		f.pc.offerErr = errors.New("boom")
		err := f.engine.InitiateCall(context.Background(), "peer-2")
		requireNegErr(t, err, ErrDescription, true)
		assert.Equal(t, StateFailed, f.engine.State())
		assert.True(t, IsFatal(err))
	})
	t.Run("send fails", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		f.sig.sendErr = ErrUndeliverable
		err := f.engine.InitiateCall(context.Background(), "peer-2")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUndeliverable)
		var ce *ChannelError
		assert.True(t, errors.As(err, &ce))
		assert.Equal(t, StateFailed, f.engine.State())
	})
}

func TestEngineMalformedOfferLeavesState(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.ready(t)
	for _, raw := range []string{"", "not an sdp", "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"} {
		err := f.engine.ReceiveOffer(context.Background(), Offer("peer-2", raw))
		requireNegErr(t, err, ErrMalformedSDP, false)
		assert.Equal(t, StateAwaitingPeer, f.engine.State())
	}
	assert.Empty(t, f.pc.remote)
	assert.Empty(t, f.sig.sentKinds())
}

func TestEngineAnswerHandling(t *testing.T) {
	t.Run("duplicate answer", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
		msg := Answer("peer-2", testSDP)
		require.NoError(t, f.engine.ReceiveAnswer(msg))
		requireNegErr(t, f.engine.ReceiveAnswer(msg), ErrDuplicateAnswer, false)
		assert.Equal(t, StateConnecting, f.engine.State())
		assert.Len(t, f.pc.remote, 1)
	})
	t.Run("answer from someone else", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
		requireNegErr(t, f.engine.ReceiveAnswer(Answer("peer-3", testSDP)), ErrPeerMismatch, false)
		assert.Equal(t, StateOffering, f.engine.State())
	})
	t.Run("malformed answer", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
		requireNegErr(t, f.engine.ReceiveAnswer(Answer("peer-2", "garbage")), ErrMalformedSDP, false)
		assert.Equal(t, StateOffering, f.engine.State())
	})
	t.Run("set remote fails", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
		f.pc.setRemoteErr = errors.New("incompatible")
		requireNegErr(t, f.engine.ReceiveAnswer(Answer("peer-2", testSDP)), ErrDescription, true)
		assert.Equal(t, StateFailed, f.engine.State())
		assert.NotEmpty(t, f.engine.Status().LastError)
	})
}

func TestEngineCandidateOrdering(t *testing.T) {
	t.Run("caller", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))

		require.NoError(t, f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: "peer-2", Candidate: candidate("c1")}))
		require.NoError(t, f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: "peer-2", Candidate: candidate("c2")}))
		assert.Equal(t, 2, f.engine.Status().QueuedCandidates)
		assert.Empty(t, f.pc.appliedCandidates())

		require.NoError(t, f.engine.ReceiveAnswer(Answer("peer-2", testSDP)))
		assert.Equal(t, []string{"c1", "c2"}, f.pc.appliedCandidates())
		assert.Zero(t, f.engine.Status().QueuedCandidates)

		require.NoError(t, f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: "peer-2", Candidate: candidate("c3")}))
		assert.Equal(t, []string{"c1", "c2", "c3"}, f.pc.appliedCandidates())
	})

	t.Run("callee queues before the offer", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		for _, c := range []string{"c1", "stray", "c2"} {
			from := PeerIdentity("peer-2")
			if c == "stray" {
				from = "peer-9"
			}
			require.NoError(t, f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: from, Candidate: candidate(c)}))
		}
		require.NoError(t, f.engine.ReceiveOffer(context.Background(), Offer("peer-2", testSDP)))
		assert.Equal(t, []string{"c1", "c2"}, f.pc.appliedCandidates())
	})

	t.Run("strangers cannot grow the queue without bound", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		for i := 0; i < MaxQueuedPerPeer; i++ {
			require.NoError(t, f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: "peer-9", Candidate: candidate("stray")}))
		}
		err := f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: "peer-9", Candidate: candidate("stray")})
		requireNegErr(t, err, ErrCandidateRejected, false)
		assert.Equal(t, MaxQueuedPerPeer, f.engine.Status().QueuedCandidates)
		assert.Equal(t, StateAwaitingPeer, f.engine.State())

		require.NoError(t, f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: "peer-2", Candidate: candidate("c1")}))
		require.NoError(t, f.engine.ReceiveOffer(context.Background(), Offer("peer-2", testSDP)))
		assert.Equal(t, []string{"c1"}, f.pc.appliedCandidates())
	})

	t.Run("mismatched peer", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.toConnecting(t)
		err := f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: "peer-3", Candidate: candidate("x")})
		requireNegErr(t, err, ErrPeerMismatch, false)
	})

	t.Run("application failure is not fatal", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.toConnecting(t)
		f.pc.candidateErr = errors.New("bad candidate")
		err := f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: "peer-2", Candidate: candidate("x")})
		requireNegErr(t, err, ErrCandidateRejected, false)
		assert.Equal(t, StateConnecting, f.engine.State())
	})

	t.Run("terminal", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.engine.Close()
		err := f.engine.ReceiveICECandidate(NegotiationMessage{Kind: KindCandidate, From: "peer-2", Candidate: candidate("x")})
		requireNegErr(t, err, ErrInvalidState, false)
	})
}

func TestEngineLocalCandidateTrickle(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.ready(t)
	require.NoError(t, f.engine.LocalCandidate(context.Background(), webrtc.ICECandidateInit{Candidate: "early"}))
	assert.Empty(t, f.sig.sentKinds())

	require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
	require.NoError(t, f.engine.LocalCandidate(context.Background(), webrtc.ICECandidateInit{Candidate: "host"}))
	sent := f.sig.last()
	assert.Equal(t, KindCandidate, sent.msg.Kind)
	assert.Equal(t, PeerIdentity("peer-2"), sent.to)
	require.NotNil(t, sent.msg.Candidate)
	assert.Equal(t, "host", sent.msg.Candidate.Candidate)
}

func TestEngineGlare(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
		err := f.engine.ReceiveOffer(context.Background(), Offer("peer-2", testSDP))
		requireNegErr(t, err, ErrGlare, false)
		assert.Equal(t, StateOffering, f.engine.State())
	})

	t.Run("yield rolls back", func(t *testing.T) {
		f := newEngineFixture(t, GlareFunc(func(PeerIdentity, PeerIdentity) error { return nil }))
		f.ready(t)
		require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
		require.NoError(t, f.engine.ReceiveOffer(context.Background(), Offer("peer-2", testSDP)))
		assert.Equal(t, StateConnecting, f.engine.State())

		require.Len(t, f.pc.local, 3)
		assert.Equal(t, webrtc.SDPTypeRollback, f.pc.local[1].Type)
		assert.Equal(t, webrtc.SDPTypeAnswer, f.pc.local[2].Type)
		assert.Equal(t, []MessageKind{KindOffer, KindAnswer}, f.sig.sentKinds())
		assert.Equal(t, DirectionIncoming, f.engine.Status().Direction)
	})

	t.Run("polite ordering", func(t *testing.T) {
		assert.NoError(t, PoliteGlare.ResolveGlare("peer-b", "peer-a"))
		assert.ErrorIs(t, PoliteGlare.ResolveGlare("peer-a", "peer-b"), ErrGlare)
	})
}

func TestEngineConnectionState(t *testing.T) {
	t.Run("failed while connecting", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.toConnecting(t)
		f.engine.ConnectionStateChanged(webrtc.PeerConnectionStateFailed)
		assert.Equal(t, StateFailed, f.engine.State())
		assert.ErrorIs(t, f.engine.LastError(), ErrConnectionFailed)
	})
	t.Run("failed releases the round", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.toConnecting(t)
		require.NotNil(t, f.engine.IncomingTrack("remote-stream", webrtc.RTPCodecTypeVideo, ""))
		_, ok := f.sink.Get(RoleRemote, "peer-2")
		require.True(t, ok)

		f.engine.ConnectionStateChanged(webrtc.PeerConnectionStateFailed)
		assert.Equal(t, StateFailed, f.engine.State())
		_, ok = f.sink.Get(RoleRemote, "peer-2")
		assert.False(t, ok, "remote stream still attached")
		assert.Equal(t, []readyCall{{role: RoleRemote, peer: "peer-2"}}, f.renderer.removedCalls())
		assert.Equal(t, 1, f.pc.closeCount())
		assert.Nil(t, f.engine.Conn())

		require.NoError(t, f.engine.Reset())
		assert.Equal(t, StateIdle, f.engine.State())
		assert.Equal(t, 1, f.pc.closeCount())
	})
	t.Run("failed once connected closes", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.toConnected(t)
		f.engine.ConnectionStateChanged(webrtc.PeerConnectionStateFailed)
		assert.Equal(t, StateClosed, f.engine.State())
		assert.Equal(t, 1, f.pc.closeCount())
	})
	t.Run("disconnected is transient", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.toConnected(t)
		f.engine.ConnectionStateChanged(webrtc.PeerConnectionStateDisconnected)
		assert.Equal(t, StateConnected, f.engine.State())
	})
	t.Run("connected ignored before answer", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.ready(t)
		f.engine.ConnectionStateChanged(webrtc.PeerConnectionStateConnected)
		assert.Equal(t, StateAwaitingPeer, f.engine.State())
	})
}

func TestEngineRemoteStreams(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.toConnected(t)

	h1 := f.engine.IncomingTrack("remote-stream", webrtc.RTPCodecTypeVideo, "")
	h2 := f.engine.IncomingTrack("remote-stream", webrtc.RTPCodecTypeAudio, "")
	require.NotNil(t, h1)
	assert.Same(t, h1, h2)
	assert.Equal(t, []string{"video", "audio"}, h1.Kinds())

	got, ok := f.sink.Get(RoleRemote, "peer-2")
	require.True(t, ok)
	assert.Same(t, h1, got)
	assert.Len(t, f.renderer.readyCalls(), 2)

	require.NoError(t, f.engine.RemoteStreamEnded("peer-2"))
	assert.Equal(t, StateClosed, f.engine.State())
	_, ok = f.sink.Get(RoleRemote, "peer-2")
	assert.False(t, ok)
	assert.Nil(t, f.engine.IncomingTrack("late", webrtc.RTPCodecTypeVideo, ""))
}

func TestEngineCloseIdempotent(t *testing.T) {
	setups := map[string]func(t *testing.T, f *engineFixture){
		"idle":          func(*testing.T, *engineFixture) {},
		"awaiting-peer": func(t *testing.T, f *engineFixture) { f.ready(t) },
		"connecting":    func(t *testing.T, f *engineFixture) { f.toConnecting(t) },
		"connected":     func(t *testing.T, f *engineFixture) { f.toConnected(t) },
		"failed": func(t *testing.T, f *engineFixture) {
			f.ready(t)
			f.pc.offerErr = errors.New("boom")
			_ = f.engine.InitiateCall(context.Background(), "peer-2")
			require.Equal(t, StateFailed, f.engine.State())
		},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			f := newEngineFixture(t, nil)
			setup(t, f)
			for i := 0; i < 3; i++ {
				f.engine.Close()
				assert.Equal(t, StateClosed, f.engine.State())
			}
			closes := 0
			for _, tr := range f.trans {
				if tr.To == StateClosed {
					closes++
				}
			}
			assert.Equal(t, 1, closes)
			assert.LessOrEqual(t, f.pc.closeCount(), 1)
		})
	}
}

func TestEngineHangupAndReset(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.toConnecting(t)
	requireNegErr(t, f.engine.Hangup(), ErrInvalidState, false)
	requireNegErr(t, f.engine.Reset(), ErrInvalidState, false)

	f.engine.ConnectionStateChanged(webrtc.PeerConnectionStateConnected)
	require.NoError(t, f.engine.Hangup())
	assert.Equal(t, StateClosed, f.engine.State())

	require.NoError(t, f.engine.Reset())
	st := f.engine.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Empty(t, st.Remote)
	assert.False(t, st.LocalDescriptionSet)
	assert.False(t, st.RemoteDescriptionSet)
	assert.Nil(t, f.engine.Conn())
}

func TestEngineTimeout(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.ready(t)
	require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))

	require.NoError(t, f.engine.Timeout(f.engine.Round()-1))
	assert.Equal(t, StateOffering, f.engine.State())

	err := f.engine.Timeout(f.engine.Round())
	requireNegErr(t, err, ErrNegotiationTimeout, true)
	assert.Equal(t, StateFailed, f.engine.State())
}

func TestEngineChannelFailure(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.ready(t)
	require.NoError(t, f.engine.ChannelFailed(&ChannelError{Peer: "peer-2", Err: ErrUndeliverable}))
	assert.Equal(t, StateAwaitingPeer, f.engine.State())

	require.NoError(t, f.engine.InitiateCall(context.Background(), "peer-2"))
	err := f.engine.ChannelFailed(&ChannelError{Peer: "peer-2", Err: ErrUndeliverable})
	assert.ErrorIs(t, err, ErrUndeliverable)
	assert.Equal(t, StateFailed, f.engine.State())
}
