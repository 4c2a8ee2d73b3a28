//go:build linux

package call

import (
	"context"

	"github.com/pion/logging"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// DeviceAcquirer captures camera/microphone via pion/mediadevices (V4L2 +
// malgo on Linux) and encodes VP8 + Opus.
type DeviceAcquirer struct {
	opts          DeviceOptions
	codecSelector *mediadevices.CodecSelector
	log           logging.LeveledLogger
}

func NewDeviceAcquirer(opts DeviceOptions, lf logging.LoggerFactory) (*DeviceAcquirer, error) {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 640
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = 480
	}
	if opts.VideoBitRate <= 0 {
		opts.VideoBitRate = 1_500_000
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = opts.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceAcquirer{
		opts: opts,
		codecSelector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: loggerFor(lf, "media"),
	}, nil
}

// ConfigureMediaEngine registers the encoders' codecs so the offer advertises them.
func (a *DeviceAcquirer) ConfigureMediaEngine(m *webrtc.MediaEngine) error {
	a.codecSelector.Populate(m)
	return nil
}

func (a *DeviceAcquirer) Acquire(ctx context.Context, owner PeerIdentity, c Constraints) (*MediaStreamHandle, error) {
	if !c.Video && !c.Audio {
		return nil, &MediaAcquisitionError{Reason: ErrNoDevice}
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, &MediaAcquisitionError{Reason: ErrNoDevice}
	}
	for _, d := range devices {
		a.log.Debugf("media device kind=%v label=%q", d.Kind, d.Label)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: a.codecSelector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only: MJPEG nodes on some cameras hand out broken
			// frames that poison the VP8 encoder.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: a.opts.MaxWidth}
			mc.Height = prop.IntRanged{Max: a.opts.MaxHeight}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(constraints)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &MediaAcquisitionError{Reason: classifyMediaError(r.err), Err: r.err}
		}
		return a.wrap(owner, r.stream), nil
	case <-ctx.Done():
		// GetUserMedia cannot be interrupted; release whatever it opens late.
		go func() {
			if r := <-done; r.err == nil {
				for _, t := range r.stream.GetTracks() {
					t.Close()
				}
			}
		}()
		return nil, &MediaAcquisitionError{Reason: ErrAcquisitionCancelled, Err: ctx.Err()}
	}
}

func (a *DeviceAcquirer) wrap(owner PeerIdentity, stream mediadevices.MediaStream) *MediaStreamHandle {
	mtracks := stream.GetTracks()
	tracks := make([]webrtc.TrackLocal, 0, len(mtracks))
	for _, t := range mtracks {
		t.OnEnded(func(err error) {
			if err != nil {
				a.log.Warnf("local %s track ended: %v", t.Kind(), err)
			}
		})
		tracks = append(tracks, t)
	}
	a.log.Infof("local media captured: %d tracks", len(tracks))
	return NewLocalStream(owner, tracks, func() {
		for _, t := range mtracks {
			t.Close()
		}
	})
}
