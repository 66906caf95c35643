package domain

import "encoding/json"

// SignalType discriminates the three halves of the negotiation exchange.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// SignalEnvelope is one in-flight signaling message. The payload (an SDP
// description or an ICE candidate) is opaque to the relay; only membership
// and delivery are its business. Never persisted.
type SignalEnvelope struct {
	CallID  CallID          `json:"callId,omitempty"`
	Type    SignalType      `json:"signalType"`
	Payload json.RawMessage `json:"data"`
	// To targets one member; empty means every other member of the call.
	To ParticipantID `json:"to,omitempty"`
	// From is stamped by the relay on delivery, never trusted from clients.
	From ParticipantID `json:"from,omitempty"`
}

// PeerStatus is the lightweight out-of-band mute/video state a peer
// advertises so the far side's UI can reflect it without inspecting media.
type PeerStatus struct {
	Muted        bool `json:"muted"`
	VideoEnabled bool `json:"videoEnabled"`
}

// Client <-> relay message types. Everything on the signaling socket is one
// JSON object with a "type" field; the rest of the shape depends on the type.
const (
	MsgJoinCall  = "join-call"
	MsgLeaveCall = "leave-call"
	MsgSignal    = "signal"
	MsgStatus    = "status"
	MsgPing      = "ping"

	MsgCallState  = "call-state"
	MsgPeerJoined = "peer-joined"
	MsgPeerLeft   = "peer-left"
	MsgCallEnded  = "call-ended"
	MsgPong       = "pong"
	MsgError      = "error"
)

// ClientMessage is the envelope a client writes to the relay socket.
type ClientMessage struct {
	Type   string          `json:"type"`
	CallID CallID          `json:"callId,omitempty"`
	Signal *SignalEnvelope `json:"signal,omitempty"`
	Status *PeerStatus     `json:"status,omitempty"`
}

// ServerMessage is the envelope the relay writes to a client socket.
type ServerMessage struct {
	Type         string          `json:"type"`
	Signal       *SignalEnvelope `json:"signal,omitempty"`
	Status       *PeerStatus     `json:"status,omitempty"`
	From         ParticipantID   `json:"from,omitempty"`
	Participants []ParticipantID `json:"participants,omitempty"`
	Error        string          `json:"error,omitempty"`
}
