//go:build !linux

package call

import (
	"context"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// DeviceAcquirer has no capture drivers outside Linux; every request fails
// with ErrNoDevice. Use ReceiveOnlyAcquirer for headless peers.
type DeviceAcquirer struct {
	log logging.LeveledLogger
}

func NewDeviceAcquirer(_ DeviceOptions, lf logging.LoggerFactory) (*DeviceAcquirer, error) {
	return &DeviceAcquirer{log: loggerFor(lf, "media")}, nil
}

func (a *DeviceAcquirer) ConfigureMediaEngine(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (a *DeviceAcquirer) Acquire(ctx context.Context, _ PeerIdentity, _ Constraints) (*MediaStreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &MediaAcquisitionError{Reason: ErrAcquisitionCancelled, Err: err}
	}
	a.log.Warn("no capture drivers on this platform")
	return nil, &MediaAcquisitionError{Reason: ErrNoDevice}
}
