// Package signalclient is the client end of the relay's signaling socket.
package signalclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/helpdeck/callkit/internal/domain"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

// Handlers receive the relay's inbound events. Every handler runs on the
// single read goroutine; the call layer is event-driven, one logical thread
// of control per call.
type Handlers struct {
	OnSignal     func(domain.SignalEnvelope)
	OnCallState  func(others []domain.ParticipantID)
	OnPeerJoined func(domain.ParticipantID)
	OnPeerLeft   func(domain.ParticipantID)
	OnCallEnded  func(domain.ParticipantID)
	OnStatus     func(domain.ParticipantID, domain.PeerStatus)
	// OnDisconnect fires once when the socket dies for any reason other
	// than a local Close.
	OnDisconnect func(error)
}

// Client is one connection to the relay, scoped to one call.
type Client struct {
	ws       *websocket.Conn
	callID   domain.CallID
	handlers Handlers
	send     chan []byte

	mu     sync.Mutex
	closed bool
}

// Dial connects and authenticates with the bearer token minted by the
// external identity service.
func Dial(ctx context.Context, url, token string, h Handlers) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
		}
		return nil, fmt.Errorf("%w: dial: %v", domain.ErrSignalingUnavailable, err)
	}

	c := &Client{
		ws:       ws,
		handlers: h,
		send:     make(chan []byte, sendBuffer),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Join enters the call's relay channel. Idempotent on the relay side.
func (c *Client) Join(callID domain.CallID) error {
	c.mu.Lock()
	c.callID = callID
	c.mu.Unlock()
	return c.enqueue(domain.ClientMessage{Type: domain.MsgJoinCall, CallID: callID})
}

// Leave exits the channel; safe when never joined.
func (c *Client) Leave() error {
	c.mu.Lock()
	callID := c.callID
	c.mu.Unlock()
	if callID == "" {
		return nil
	}
	return c.enqueue(domain.ClientMessage{Type: domain.MsgLeaveCall, CallID: callID})
}

// SendSignal relays one negotiation payload to the other call members.
// Implements the negotiator's SignalSender.
func (c *Client) SendSignal(t domain.SignalType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode signal: %v", domain.ErrSignalingUnavailable, err)
	}
	c.mu.Lock()
	callID := c.callID
	c.mu.Unlock()
	return c.enqueue(domain.ClientMessage{
		Type:   domain.MsgSignal,
		CallID: callID,
		Signal: &domain.SignalEnvelope{Type: t, Payload: raw},
	})
}

// SendStatus advertises the local mute/video state out-of-band.
func (c *Client) SendStatus(st domain.PeerStatus) error {
	c.mu.Lock()
	callID := c.callID
	c.mu.Unlock()
	return c.enqueue(domain.ClientMessage{Type: domain.MsgStatus, CallID: callID, Status: &st})
}

// Close is idempotent and releases the socket exactly once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = c.ws.Close()
}

func (c *Client) enqueue(msg domain.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrSignalingUnavailable, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrSignalingUnavailable
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", domain.ErrSignalingUnavailable)
	}
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signalclient").Msg("write error")
			return
		}
	}
}

func (c *Client) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && c.handlers.OnDisconnect != nil {
				c.handlers.OnDisconnect(fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, err))
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg domain.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signalclient").Msg("bad server message")
		return
	}

	switch msg.Type {
	case domain.MsgSignal:
		if msg.Signal != nil && c.handlers.OnSignal != nil {
			c.handlers.OnSignal(*msg.Signal)
		}
	case domain.MsgCallState:
		if c.handlers.OnCallState != nil {
			c.handlers.OnCallState(msg.Participants)
		}
	case domain.MsgPeerJoined:
		if c.handlers.OnPeerJoined != nil {
			c.handlers.OnPeerJoined(msg.From)
		}
	case domain.MsgPeerLeft:
		if c.handlers.OnPeerLeft != nil {
			c.handlers.OnPeerLeft(msg.From)
		}
	case domain.MsgCallEnded:
		if c.handlers.OnCallEnded != nil {
			c.handlers.OnCallEnded(msg.From)
		}
	case domain.MsgStatus:
		if msg.Status != nil && c.handlers.OnStatus != nil {
			c.handlers.OnStatus(msg.From, *msg.Status)
		}
	case domain.MsgPong:
	case domain.MsgError:
		log.Warn().Str("module", "signalclient").Str("error", msg.Error).Msg("relay error")
	default:
		log.Warn().Str("module", "signalclient").Str("type", msg.Type).Msg("unknown server message")
	}
}
