package call

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
)

// MediaAcquirer requests local capture. It never retries; the caller decides
// what to do with a *MediaAcquisitionError.
type MediaAcquirer interface {
	Acquire(ctx context.Context, owner PeerIdentity, c Constraints) (*MediaStreamHandle, error)
}

// MediaEngineConfigurer is implemented by acquirers whose tracks need specific
// codecs registered on the peer connection's media engine.
type MediaEngineConfigurer interface {
	ConfigureMediaEngine(m *webrtc.MediaEngine) error
}

// DeviceOptions tunes device capture.
type DeviceOptions struct {
	MaxWidth     int
	MaxHeight    int
	VideoBitRate int
}

// ReceiveOnlyAcquirer yields a local stream without tracks, for peers that
// only watch. Offers built from it are flagged as carrying no local tracks.
type ReceiveOnlyAcquirer struct{}

func (ReceiveOnlyAcquirer) Acquire(ctx context.Context, owner PeerIdentity, _ Constraints) (*MediaStreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &MediaAcquisitionError{Reason: ErrAcquisitionCancelled, Err: err}
	}
	return NewLocalStream(owner, nil, nil), nil
}

// classifyMediaError maps a platform capture error onto the acquisition reasons.
func classifyMediaError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrAcquisitionCancelled
	case errors.Is(err, os.ErrPermission):
		return ErrPermissionDenied
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not allowed") {
		return ErrPermissionDenied
	}
	return ErrNoDevice
}

// addRecvOnlyTransceivers adds recvonly transceivers for every kind the local
// stream does not send, so CreateOffer/CreateAnswer always produce m-lines we
// can receive on.
func addRecvOnlyTransceivers(pc PeerConnection, local *MediaStreamHandle) error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if local != nil && local.hasKind(kind) {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}
