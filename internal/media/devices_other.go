//go:build !linux

package media

import (
	"fmt"
	"runtime"

	"github.com/pion/webrtc/v4"

	"github.com/helpdeck/callkit/internal/domain"
)

// DeviceSource has no capture backend off Linux; every acquisition fails
// with the taxonomy error so callers behave the same as a denied permission.
type DeviceSource struct{}

func NewDeviceSource() (*DeviceSource, error) { return &DeviceSource{}, nil }

func (s *DeviceSource) Populate(*webrtc.MediaEngine) error { return nil }

func (s *DeviceSource) UserMedia(bool) ([]Track, error) {
	return nil, fmt.Errorf("%w: no capture backend on %s", domain.ErrMediaAcquisition, runtime.GOOS)
}

func (s *DeviceSource) DisplayMedia() (Track, error) {
	return nil, fmt.Errorf("%w: no capture backend on %s", domain.ErrScreenShareDenied, runtime.GOOS)
}
