package call

import (
	"context"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the slice of *webrtc.PeerConnection the engine drives.
type PeerConnection interface {
	CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(opts *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	WriteRTCP(pkts []rtcp.Packet) error
	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// PeerConnectionFactory builds the connection for one session round.
type PeerConnectionFactory func(ctx context.Context) (PeerConnection, error)

// DefaultSTUN is used when no ICE servers are configured.
var DefaultSTUN = webrtc.ICEServer{URLs: []string{"stun:stun.l.google.com:19302"}}

// PionConfig configures NewPionFactory.
type PionConfig struct {
	ICEServers []webrtc.ICEServer
	// ICEServerSource, when set, is asked for servers on every new connection
	// and takes precedence over ICEServers.
	ICEServerSource func(ctx context.Context) []webrtc.ICEServer

	// ICE timeouts; zero keeps pion's defaults.
	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepaliveInterval   time.Duration

	// IncludeLoopback gathers 127.0.0.1 candidates, for same-host peers.
	IncludeLoopback bool

	// Media, when it implements MediaEngineConfigurer, registers its codecs.
	Media MediaAcquirer

	LoggerFactory logging.LoggerFactory
}

// NewPionFactory returns a factory producing real pion peer connections.
func NewPionFactory(cfg PionConfig) PeerConnectionFactory {
	return func(ctx context.Context) (PeerConnection, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mediaEngine := &webrtc.MediaEngine{}
		if mc, ok := cfg.Media.(MediaEngineConfigurer); ok {
			if err := mc.ConfigureMediaEngine(mediaEngine); err != nil {
				return nil, err
			}
		} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}

		interceptorRegistry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
			return nil, err
		}

		se := webrtc.SettingEngine{}
		if cfg.LoggerFactory != nil {
			se.LoggerFactory = cfg.LoggerFactory
		}
		if cfg.ICEDisconnectedTimeout > 0 || cfg.ICEFailedTimeout > 0 {
			keepalive := cfg.ICEKeepaliveInterval
			if keepalive <= 0 {
				keepalive = 2 * time.Second
			}
			se.SetICETimeouts(cfg.ICEDisconnectedTimeout, cfg.ICEFailedTimeout, keepalive)
		}
		if cfg.IncludeLoopback {
			se.SetIncludeLoopbackCandidate(true)
		}

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		)

		servers := cfg.ICEServers
		if cfg.ICEServerSource != nil {
			servers = cfg.ICEServerSource(ctx)
		}
		if len(servers) == 0 {
			servers = []webrtc.ICEServer{DefaultSTUN}
		}
		return api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	}
}
