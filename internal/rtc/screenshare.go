package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/helpdeck/callkit/internal/domain"
	"github.com/helpdeck/callkit/internal/media"
)

// TrackSender is the slice of *webrtc.RTPSender the switcher needs: it only
// ever swaps the track on a sender it looks up, never the sender itself and
// never the connection's lifecycle.
type TrackSender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}

// ScreenShare substitutes the outgoing video with a captured display surface
// and reverts, all without renegotiation: the sender/receiver pairing never
// changes, only the track content does.
type ScreenShare struct {
	source media.Source
	lookup func() (TrackSender, bool)

	mu      sync.Mutex
	active  bool
	camera  webrtc.TrackLocal
	display media.Track
}

func NewScreenShare(source media.Source, lookup func() (TrackSender, bool)) *ScreenShare {
	return &ScreenShare{source: source, lookup: lookup}
}

// Start acquires display capture and replaces the camera track in place.
// Calling it while already sharing is a no-op, so the video sender never
// carries more than one active track. A denied capture picker leaves the
// camera streaming untouched.
func (s *ScreenShare) Start() error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sender, ok := s.lookup()
	if !ok {
		return fmt.Errorf("%w: no outgoing video sender", domain.ErrScreenShareDenied)
	}

	display, err := s.source.DisplayMedia()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.active {
		// Lost the race with a concurrent Start; keep the existing share.
		s.mu.Unlock()
		_ = display.Close()
		return nil
	}
	// The camera track object is retained, not destroyed, so reverting
	// needs no fresh permission prompt.
	s.camera = sender.Track()
	if err := sender.ReplaceTrack(display); err != nil {
		s.mu.Unlock()
		_ = display.Close()
		return fmt.Errorf("%w: replace track: %v", domain.ErrScreenShareDenied, err)
	}
	s.display = display
	s.active = true
	s.mu.Unlock()

	// The user can end the capture from the OS/browser chrome rather than
	// our own controls; revert automatically when that happens.
	display.OnEnded(func(error) {
		log.Info().Str("module", "rtc").Msg("display capture ended externally")
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("auto revert")
		}
	})

	log.Info().Str("module", "rtc").Msg("screen share started")
	return nil
}

// Stop reverts to the camera track. Idempotent.
func (s *ScreenShare) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	display := s.display
	camera := s.camera
	s.display = nil
	s.camera = nil
	s.mu.Unlock()

	if display != nil {
		_ = display.Close()
	}
	sender, ok := s.lookup()
	if !ok {
		return nil
	}
	if err := sender.ReplaceTrack(camera); err != nil {
		return fmt.Errorf("restore camera track: %w", err)
	}
	log.Info().Str("module", "rtc").Msg("screen share stopped")
	return nil
}

func (s *ScreenShare) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
