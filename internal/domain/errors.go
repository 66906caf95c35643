package domain

import "errors"

// Error taxonomy. Platform and pion errors are converted into these at
// component boundaries; nothing below a component surfaces raw errors to the
// session controller.
var (
	// ErrMediaAcquisition: camera/microphone unavailable or permission
	// denied. Fatal to that side's outgoing media, never retried here.
	ErrMediaAcquisition = errors.New("media acquisition failed")

	// ErrScreenShareDenied: the user cancelled the display-capture picker.
	// Non-fatal; the camera keeps streaming.
	ErrScreenShareDenied = errors.New("screen share denied")

	// ErrSignalingUnavailable: relay connection dropped or never came up.
	// Retryable offline status, not a crash.
	ErrSignalingUnavailable = errors.New("signaling unavailable")

	// ErrNegotiationFailed: ICE reached failed. Recovery is a caller-driven
	// full close + reconnect.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrFileTransferAborted: malformed transfer metadata or stray frames.
	// One bad transfer must not tear down the call.
	ErrFileTransferAborted = errors.New("file transfer aborted")

	// ErrUnauthenticated: the relay refuses join-call without a valid
	// identity on the connection.
	ErrUnauthenticated = errors.New("unauthenticated")
)
