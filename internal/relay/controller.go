package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/helpdeck/callkit/internal/config"
	"github.com/helpdeck/callkit/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller serves the signaling socket: one connection per authenticated
// participant, dispatching join/leave/signal/status messages against the hub.
type Controller struct {
	hub     *Hub
	limiter *JoinRateLimiter
	metrics *metrics

	readLimit  int64
	pingPeriod time.Duration
	sendBuffer int
}

func NewController(hub *Hub, cfg *config.Config, reg prometheus.Registerer) *Controller {
	return &Controller{
		hub:        hub,
		limiter:    NewJoinRateLimiter(10, time.Minute),
		metrics:    newMetrics(reg),
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		sendBuffer: cfg.SendBuffer,
	}
}

// session is one connected participant and the calls it has joined.
// dispatch runs on the single readPump goroutine, so joined needs no lock.
type session struct {
	// id distinguishes concurrent sockets of the same participant in logs.
	id     string
	pid    domain.ParticipantID
	conn   *Conn
	joined map[domain.CallID]bool
}

// HandleCalls upgrades the request and runs the connection's pumps. The auth
// middleware has already bound the participant identity; a request without
// one never gets a socket.
func (ctl *Controller) HandleCalls(ctx context.Context, c *gin.Context) {
	pid := domain.ParticipantID(c.GetString("participant_id"))
	if pid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": domain.ErrUnauthenticated.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	conn := newConn(ws, ctl.sendBuffer)
	sess := &session{
		id:     uuid.NewString(),
		pid:    pid,
		conn:   conn,
		joined: make(map[domain.CallID]bool),
	}
	log.Info().Str("module", "relay").Str("session", sess.id).Str("participant", string(pid)).Msg("new signaling connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.metrics.connections.Inc()

	go conn.writePump(ctx, ctl.pingPeriod)
	go func() {
		conn.readPump(ctx, ctl.readLimit, func(data []byte) { ctl.dispatch(sess, data) })
		cancel()
		ctl.teardown(sess)
		ctl.metrics.connections.Dec()
	}()
}

func (ctl *Controller) dispatch(sess *session, data []byte) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad json")
		ctl.sendError(sess, "bad_payload")
		return
	}

	switch msg.Type {
	case domain.MsgJoinCall:
		ctl.handleJoin(sess, msg.CallID)
	case domain.MsgLeaveCall:
		ctl.handleLeave(sess, msg.CallID)
	case domain.MsgSignal:
		ctl.handleSignal(sess, msg)
	case domain.MsgStatus:
		ctl.handleStatus(sess, msg)
	case domain.MsgPing:
		ctl.sendJSON(sess.conn, domain.ServerMessage{Type: domain.MsgPong})
	default:
		log.Warn().Str("module", "relay").Str("type", msg.Type).Msg("unknown message")
	}
}

func (ctl *Controller) handleJoin(sess *session, callID domain.CallID) {
	if callID == "" {
		ctl.sendError(sess, "missing call id")
		return
	}
	if !ctl.limiter.Allow(sess.pid) {
		ctl.sendError(sess, "rate_limited")
		return
	}

	others := ctl.hub.Join(callID, sess.pid, sess.conn)
	sess.joined[callID] = true
	ctl.metrics.joins.Inc()

	ctl.sendJSON(sess.conn, domain.ServerMessage{
		Type:         domain.MsgCallState,
		Participants: others,
	})
	ctl.broadcast(callID, sess.pid, domain.ServerMessage{
		Type: domain.MsgPeerJoined,
		From: sess.pid,
	})
}

// handleLeave is the explicit hangup path: the remaining members learn the
// call is over, not merely that a peer dropped.
func (ctl *Controller) handleLeave(sess *session, callID domain.CallID) {
	if !sess.joined[callID] {
		// Idempotent: leaving a call you are not in is fine.
		return
	}
	delete(sess.joined, callID)
	ctl.broadcast(callID, sess.pid, domain.ServerMessage{
		Type: domain.MsgCallEnded,
		From: sess.pid,
	})
	ctl.hub.Leave(callID, sess.pid)
}

// handleSignal forwards an opaque envelope. The relay stamps the sender and
// strips callId/to before delivery; it never inspects the payload.
func (ctl *Controller) handleSignal(sess *session, msg domain.ClientMessage) {
	if msg.Signal == nil {
		ctl.sendError(sess, "missing signal")
		return
	}
	callID := msg.CallID
	if callID == "" {
		callID = msg.Signal.CallID
	}
	if !sess.joined[callID] {
		ctl.sendError(sess, "not joined")
		return
	}

	out := domain.ServerMessage{
		Type: domain.MsgSignal,
		Signal: &domain.SignalEnvelope{
			Type:    msg.Signal.Type,
			Payload: msg.Signal.Payload,
			From:    sess.pid,
		},
		From: sess.pid,
	}
	data, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal signal")
		return
	}
	sent, dropped := ctl.hub.Deliver(callID, sess.pid, msg.Signal.To, data)
	ctl.metrics.signals.WithLabelValues(string(msg.Signal.Type)).Inc()
	ctl.metrics.drops.Add(float64(dropped))
	if sent == 0 && dropped == 0 {
		// No other members yet; the sender retries when a peer joins.
		log.Debug().Str("module", "relay").Str("call_id", string(callID)).Str("signal", string(msg.Signal.Type)).Msg("no recipients")
	}
}

func (ctl *Controller) handleStatus(sess *session, msg domain.ClientMessage) {
	if msg.Status == nil || !sess.joined[msg.CallID] {
		return
	}
	ctl.broadcast(msg.CallID, sess.pid, domain.ServerMessage{
		Type:   domain.MsgStatus,
		Status: msg.Status,
		From:   sess.pid,
	})
}

// teardown runs once the read pump exits, releasing every membership the
// connection still holds.
func (ctl *Controller) teardown(sess *session) {
	for callID := range sess.joined {
		ctl.hub.Leave(callID, sess.pid)
		ctl.broadcast(callID, sess.pid, domain.ServerMessage{
			Type: domain.MsgPeerLeft,
			From: sess.pid,
		})
	}
	sess.conn.Close()
	log.Info().Str("module", "relay").Str("session", sess.id).Str("participant", string(sess.pid)).Msg("connection torn down")
}

func (ctl *Controller) broadcast(callID domain.CallID, from domain.ParticipantID, v domain.ServerMessage) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal broadcast")
		return
	}
	_, dropped := ctl.hub.Deliver(callID, from, "", data)
	ctl.metrics.drops.Add(float64(dropped))
}

func (ctl *Controller) sendError(sess *session, reason string) {
	ctl.sendJSON(sess.conn, domain.ServerMessage{Type: domain.MsgError, Error: reason})
}

func (ctl *Controller) sendJSON(c *Conn, v domain.ServerMessage) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(data)
}
