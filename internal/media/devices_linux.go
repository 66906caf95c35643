//go:build linux

package media

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/helpdeck/callkit/internal/domain"
)

// DeviceSource captures camera/microphone/display through pion/mediadevices
// (V4L2 + malgo + X11 on Linux), encoding VP8 + Opus.
type DeviceSource struct {
	selector *mediadevices.CodecSelector
}

func NewDeviceSource() (*DeviceSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (s *DeviceSource) Populate(me *webrtc.MediaEngine) error {
	s.selector.Populate(me)
	return nil
}

func (s *DeviceSource) UserMedia(wantVideo bool) ([]Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if wantVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only: some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
	}

	tracks := stream.GetTracks()
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	log.Info().Str("module", "media").Int("tracks", len(out)).Bool("video", wantVideo).Msg("local media captured")
	return out, nil
}

func (s *DeviceSource) DisplayMedia() (Track, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: s.selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrScreenShareDenied, err)
	}
	videos := stream.GetVideoTracks()
	if len(videos) == 0 {
		return nil, fmt.Errorf("%w: no display video track", domain.ErrScreenShareDenied)
	}
	log.Info().Str("module", "media").Msg("display capture started")
	return videos[0], nil
}
