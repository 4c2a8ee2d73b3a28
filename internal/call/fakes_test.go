package call

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

const testSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

// fakePC records what the engine does to it.
type fakePC struct {
	mu sync.Mutex

	offerErr     error
	answerErr    error
	setLocalErr  error
	setRemoteErr error
	candidateErr error
	addTrackErr  error

	local        []webrtc.SessionDescription
	remote       []webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	tracks       []webrtc.TrackLocal
	transceivers []webrtc.RTPCodecType
	closed       int

	onICE   func(*webrtc.ICECandidate)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState func(webrtc.PeerConnectionState)
}

func (p *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (p *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	if p.answerErr != nil {
		return webrtc.SessionDescription{}, p.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, nil
}

func (p *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setLocalErr != nil {
		return p.setLocalErr
	}
	p.local = append(p.local, d)
	return nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setRemoteErr != nil {
		return p.setRemoteErr
	}
	p.remote = append(p.remote, d)
	return nil
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 {
		return errors.New("remote description not set")
	}
	if p.candidateErr != nil {
		return p.candidateErr
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePC) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	if p.addTrackErr != nil {
		return nil, p.addTrackErr
	}
	p.tracks = append(p.tracks, t)
	return nil, nil
}

func (p *fakePC) AddTransceiverFromKind(kind webrtc.RTPCodecType, _ ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	p.transceivers = append(p.transceivers, kind)
	return nil, nil
}

func (p *fakePC) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	p.onICE = f
	p.mu.Unlock()
}

func (p *fakePC) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	p.onTrack = f
	p.mu.Unlock()
}

func (p *fakePC) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = f
	p.mu.Unlock()
}

func (p *fakePC) WriteRTCP([]rtcp.Packet) error { return nil }

func (p *fakePC) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

// fireState simulates pion reporting a connection state change.
func (p *fakePC) fireState(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	f := p.onState
	p.mu.Unlock()
	if f != nil {
		f(st)
	}
}

func (p *fakePC) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.candidates))
	for _, c := range p.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

func (p *fakePC) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type sentMsg struct {
	to  PeerIdentity
	msg NegotiationMessage
}

// fakeSignaler records sends and lets tests push inbound envelopes.
type fakeSignaler struct {
	mu      sync.Mutex
	sent    []sentMsg
	sendErr error
	inbox   chan Envelope
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{inbox: make(chan Envelope, 16)}
}

func (f *fakeSignaler) Send(_ context.Context, to PeerIdentity, msg NegotiationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMsg{to: to, msg: msg})
	return nil
}

func (f *fakeSignaler) Subscribe() (<-chan Envelope, func()) { return f.inbox, func() {} }

func (f *fakeSignaler) sentKinds() []MessageKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MessageKind, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.msg.Kind)
	}
	return out
}

func (f *fakeSignaler) last() sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMsg{}
	}
	return f.sent[len(f.sent)-1]
}

type readyCall struct {
	role Role
	peer PeerIdentity
	id   string
}

type recordingRenderer struct {
	mu      sync.Mutex
	ready   []readyCall
	removed []readyCall
}

func (r *recordingRenderer) OnStreamReady(h *MediaStreamHandle, role Role, peer PeerIdentity) {
	r.mu.Lock()
	r.ready = append(r.ready, readyCall{role: role, peer: peer, id: h.ID})
	r.mu.Unlock()
}

func (r *recordingRenderer) OnStreamRemoved(role Role, peer PeerIdentity) {
	r.mu.Lock()
	r.removed = append(r.removed, readyCall{role: role, peer: peer})
	r.mu.Unlock()
}

func (r *recordingRenderer) readyCalls() []readyCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]readyCall(nil), r.ready...)
}

func (r *recordingRenderer) removedCalls() []readyCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]readyCall(nil), r.removed...)
}

// acquirerFunc adapts a function to MediaAcquirer.
type acquirerFunc func(ctx context.Context, owner PeerIdentity, c Constraints) (*MediaStreamHandle, error)

func (f acquirerFunc) Acquire(ctx context.Context, owner PeerIdentity, c Constraints) (*MediaStreamHandle, error) {
	return f(ctx, owner, c)
}

func candidate(s string) *webrtc.ICECandidateInit {
	return &webrtc.ICECandidateInit{Candidate: s}
}
