package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/helpdeck/callkit/internal/domain"
)

// sender is what the hub needs from a member's transport.
type sender interface {
	TrySend(data []byte) error
}

// Hub is the relay's per-process membership table: which participants are
// currently joined to which call, and the socket each one is reachable on.
// It owns no call business state; the lifecycle service's roster is the
// source of truth for who is invited. A multi-instance deployment needs an
// external pub/sub to fan signaling across processes; this table is scoped
// to one process lifetime.
type Hub struct {
	mu    sync.RWMutex
	calls map[domain.CallID]map[domain.ParticipantID]sender
}

func NewHub() *Hub {
	return &Hub{calls: make(map[domain.CallID]map[domain.ParticipantID]sender)}
}

// Join adds the participant to the call's membership. Idempotent: joining
// again just rebinds the connection (reconnects replace the stale socket).
// Returns the other members present at join time.
func (h *Hub) Join(callID domain.CallID, pid domain.ParticipantID, conn sender) []domain.ParticipantID {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.calls[callID]
	if !ok {
		members = make(map[domain.ParticipantID]sender)
		h.calls[callID] = members
	}
	members[pid] = conn

	others := make([]domain.ParticipantID, 0, len(members)-1)
	for id := range members {
		if id != pid {
			others = append(others, id)
		}
	}
	log.Info().Str("module", "relay.hub").Str("call_id", string(callID)).Str("participant", string(pid)).Msg("joined call")
	return others
}

// Leave removes membership. Idempotent; safe on an already-left member.
// Empty calls are dropped from the table.
func (h *Hub) Leave(callID domain.CallID, pid domain.ParticipantID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.calls[callID]
	if !ok {
		return
	}
	if _, ok := members[pid]; !ok {
		return
	}
	delete(members, pid)
	if len(members) == 0 {
		delete(h.calls, callID)
	}
	log.Info().Str("module", "relay.hub").Str("call_id", string(callID)).Str("participant", string(pid)).Msg("left call")
}

// Members returns a snapshot of the call's current membership.
func (h *Hub) Members(callID domain.CallID) []domain.ParticipantID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.calls[callID]
	out := make([]domain.ParticipantID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// IsMember reports whether pid is currently joined to callID.
func (h *Hub) IsMember(callID domain.CallID, pid domain.ParticipantID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.calls[callID][pid]
	return ok
}

// Deliver sends data to the explicit target, or to every member except the
// sender when target is empty. A call with no other members is a silent
// no-op: the sender treats the following silence as "peer not yet joined".
// Returns how many sends were attempted and how many were dropped on
// backpressure.
func (h *Hub) Deliver(callID domain.CallID, from, target domain.ParticipantID, data []byte) (sent, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, conn := range h.calls[callID] {
		if id == from {
			continue
		}
		if target != "" && id != target {
			continue
		}
		if err := conn.TrySend(data); err != nil {
			dropped++
			log.Warn().Str("module", "relay.hub").Str("call_id", string(callID)).Str("to", string(id)).Err(err).Msg("drop on deliver")
			continue
		}
		sent++
	}
	return sent, dropped
}
