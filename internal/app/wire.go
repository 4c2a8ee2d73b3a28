package app

import (
	"context"
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/config"
	"github.com/petervdpas/peercall/internal/iceconfig"
	"github.com/petervdpas/peercall/internal/signaling"
)

// signaler is a call.Signaler the app can shut down.
type signaler interface {
	call.Signaler
	Close() error
}

// newIdentity maps identity.mode onto a provider. assigned is non-nil only
// for mode=assigned, where the relay hands out the name.
func newIdentity(c config.Identity) (p call.IdentityProvider, assigned *call.AssignedIdentity, err error) {
	switch c.Mode {
	case config.IdentityRandom:
		return call.NewRandomIdentity(call.UUIDGenerator), nil, nil
	case config.IdentityPetname, "":
		return call.NewRandomIdentity(call.PetnameGenerator), nil, nil
	case config.IdentityStatic:
		return call.StaticIdentity(c.PeerID), nil, nil
	case config.IdentityAssigned:
		a := call.NewAssignedIdentity()
		return a, a, nil
	}
	return nil, nil, fmt.Errorf("unknown identity mode %q", c.Mode)
}

func newGlare(mode string) call.GlareResolver {
	if mode == "polite" {
		return call.PoliteGlare
	}
	return call.RejectGlare
}

// newAcquirer returns device capture, or receive-only when capture is off or
// unavailable on this platform.
func newAcquirer(c config.Media, lf logging.LoggerFactory) call.MediaAcquirer {
	if c.ReceiveOnly {
		return call.ReceiveOnlyAcquirer{}
	}
	a, err := call.NewDeviceAcquirer(call.DeviceOptions{
		MaxWidth:     c.MaxWidth,
		MaxHeight:    c.MaxHeight,
		VideoBitRate: c.VideoBitrate,
	}, lf)
	if err != nil {
		log.Warn().Err(err).Msg("media capture unavailable, running receive-only")
		return call.ReceiveOnlyAcquirer{}
	}
	return a
}

func newPeerConnections(cfg config.Config, media call.MediaAcquirer, lf logging.LoggerFactory) call.PeerConnectionFactory {
	ice := iceconfig.New(cfg.ICE)
	return call.NewPionFactory(call.PionConfig{
		ICEServerSource:        ice.Fetch,
		ICEDisconnectedTimeout: seconds(cfg.Negotiation.ICEDisconnectedSeconds),
		ICEFailedTimeout:       seconds(cfg.Negotiation.ICEFailedSeconds),
		IncludeLoopback:        cfg.Signaling.Transport == config.TransportLoopback,
		Media:                  media,
		LoggerFactory:          lf,
	})
}

// dialSignaler connects the configured transport. For every mode but
// assigned the identity is resolved first because the transport needs it.
func dialSignaler(ctx context.Context, cfg config.Config, id call.IdentityProvider, assigned *call.AssignedIdentity, hub *signaling.Hub) (signaler, error) {
	var self call.PeerIdentity
	if assigned == nil {
		var err error
		if self, err = id.Resolve(ctx); err != nil {
			return nil, fmt.Errorf("resolve identity: %w", err)
		}
	}

	switch cfg.Signaling.Transport {
	case config.TransportWS:
		wc := signaling.WSConfig{URL: cfg.Signaling.URL, Peer: self}
		if assigned != nil {
			wc.OnAssigned = func(p call.PeerIdentity) { assigned.Assign(p) }
		}
		ch, err := signaling.DialWS(ctx, wc)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case config.TransportMQTT:
		ch, err := signaling.DialMQTT(ctx, signaling.MQTTConfig{
			Broker:      cfg.Signaling.URL,
			TopicPrefix: cfg.Signaling.TopicPrefix,
			Peer:        self,
			Username:    cfg.Signaling.Username,
			Password:    cfg.Signaling.Password,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	case config.TransportLoopback:
		return hub.Join(self), nil
	}
	return nil, fmt.Errorf("unknown signaling transport %q", cfg.Signaling.Transport)
}
