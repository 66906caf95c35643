// Package media abstracts local capture so the negotiator never talks to
// device drivers directly.
package media

import "github.com/pion/webrtc/v4"

// Track is a closable local media track. pion/mediadevices tracks satisfy
// this; tests substitute in-memory tracks.
type Track interface {
	webrtc.TrackLocal
	// OnEnded fires when the capture stops outside our control, e.g. the
	// user ends a screen share from the OS chrome.
	OnEnded(func(error))
	Close() error
}

// Source acquires local capture.
type Source interface {
	// UserMedia opens microphone capture, plus camera when wantVideo.
	// Failure is terminal for that side's outgoing media.
	UserMedia(wantVideo bool) ([]Track, error)
	// DisplayMedia opens a video-only display capture.
	DisplayMedia() (Track, error)
	// Populate registers the source's capture codecs on the media engine
	// backing the peer connection.
	Populate(*webrtc.MediaEngine) error
}
