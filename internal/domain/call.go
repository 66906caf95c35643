// Package domain contains the entities and wire shapes shared by the relay
// and the client side of the call subsystem. No logic lives here.
package domain

type (
	CallID        string
	ParticipantID string
)

// CallKind selects the media profile of a session.
type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

// CallStatus is the lifecycle-service view of a session.
// pending -> active -> ended; ended is terminal.
type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallActive  CallStatus = "active"
	CallEnded   CallStatus = "ended"
)

// CallSession identifies one call. The lifecycle service assigns the ID and
// owns the invited-vs-joined roster; Participants here is the relay's view of
// who has actually joined.
type CallSession struct {
	ID           CallID          `json:"id"`
	Kind         CallKind        `json:"kind"`
	Status       CallStatus      `json:"status"`
	Participants []ParticipantID `json:"participants,omitempty"`
}

func (k CallKind) WantsVideo() bool { return k == CallVideo }
