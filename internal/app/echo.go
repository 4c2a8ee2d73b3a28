package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/signaling"
)

// EchoPeer answers calls on the loopback transport so a single process has
// someone to dial.
const EchoPeer call.PeerIdentity = "echo"

type logRenderer struct{ who call.PeerIdentity }

func (r logRenderer) OnStreamReady(h *call.MediaStreamHandle, role call.Role, peer call.PeerIdentity) {
	log.Debug().Str("session", string(r.who)).Str("role", string(role)).Str("peer", string(peer)).
		Str("stream", h.ID).Msg("stream ready")
}

// startEcho runs a receive-only session that re-arms itself after every call.
func startEcho(ctx context.Context, hub *signaling.Hub, pcs call.PeerConnectionFactory) (*call.Session, error) {
	rearm := make(chan struct{}, 1)

	s, err := call.NewSession(call.SessionConfig{
		Identity:          call.StaticIdentity(EchoPeer),
		Media:             call.ReceiveOnlyAcquirer{},
		Constraints:       call.Constraints{Video: true, Audio: true},
		Signaler:          hub.Join(EchoPeer),
		NewPeerConnection: pcs,
		Renderer:          logRenderer{who: EchoPeer},
		OnStateChange: func(t call.Transition) {
			if t.To.Terminal() {
				select {
				case rearm <- struct{}{}:
				default:
				}
			}
		},
	})
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-rearm:
			}
			// Let the caller see its own hangup before the echo resets.
			time.Sleep(100 * time.Millisecond)
			if err := s.Reset(ctx); err != nil {
				log.Warn().Err(err).Msg("echo reset")
				continue
			}
			if err := s.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("echo restart")
			}
		}
	}()
	log.Info().Str("peer", string(EchoPeer)).Msg("loopback echo peer ready")
	return s, nil
}
