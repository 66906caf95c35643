package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeck/callkit/internal/domain"
)

type fakeSender struct {
	got  [][]byte
	fail bool
}

func (f *fakeSender) TrySend(data []byte) error {
	if f.fail {
		return errors.New("buffer full")
	}
	f.got = append(f.got, data)
	return nil
}

func TestHubJoinIdempotent(t *testing.T) {
	h := NewHub()
	a := &fakeSender{}

	others := h.Join("call-1", "alice", a)
	assert.Empty(t, others)

	// Re-joining just rebinds; membership does not duplicate.
	others = h.Join("call-1", "alice", a)
	assert.Empty(t, others)
	assert.Len(t, h.Members("call-1"), 1)
}

func TestHubJoinReportsOthers(t *testing.T) {
	h := NewHub()
	h.Join("call-1", "alice", &fakeSender{})
	others := h.Join("call-1", "bob", &fakeSender{})

	require.Len(t, others, 1)
	assert.Equal(t, domain.ParticipantID("alice"), others[0])
}

func TestHubLeaveIdempotent(t *testing.T) {
	h := NewHub()
	h.Join("call-1", "alice", &fakeSender{})

	h.Leave("call-1", "alice")
	h.Leave("call-1", "alice")
	h.Leave("call-1", "never-joined")
	h.Leave("no-such-call", "alice")

	assert.Empty(t, h.Members("call-1"))
}

func TestHubDeliverBroadcastSkipsSender(t *testing.T) {
	h := NewHub()
	alice := &fakeSender{}
	bob := &fakeSender{}
	carol := &fakeSender{}
	h.Join("call-1", "alice", alice)
	h.Join("call-1", "bob", bob)
	h.Join("call-1", "carol", carol)

	sent, dropped := h.Deliver("call-1", "alice", "", []byte("hi"))

	assert.Equal(t, 2, sent)
	assert.Zero(t, dropped)
	assert.Empty(t, alice.got)
	assert.Len(t, bob.got, 1)
	assert.Len(t, carol.got, 1)
}

func TestHubDeliverTargeted(t *testing.T) {
	h := NewHub()
	bob := &fakeSender{}
	carol := &fakeSender{}
	h.Join("call-1", "alice", &fakeSender{})
	h.Join("call-1", "bob", bob)
	h.Join("call-1", "carol", carol)

	sent, _ := h.Deliver("call-1", "alice", "bob", []byte("hi"))

	assert.Equal(t, 1, sent)
	assert.Len(t, bob.got, 1)
	assert.Empty(t, carol.got)
}

func TestHubDeliverLoneMemberNoOp(t *testing.T) {
	h := NewHub()
	alice := &fakeSender{}
	h.Join("call-1", "alice", alice)

	sent, dropped := h.Deliver("call-1", "alice", "", []byte("hi"))

	assert.Zero(t, sent)
	assert.Zero(t, dropped)
	assert.Empty(t, alice.got)
}

func TestHubDeliverCountsDrops(t *testing.T) {
	h := NewHub()
	h.Join("call-1", "alice", &fakeSender{})
	h.Join("call-1", "bob", &fakeSender{fail: true})

	sent, dropped := h.Deliver("call-1", "alice", "", []byte("hi"))

	assert.Zero(t, sent)
	assert.Equal(t, 1, dropped)
}

func TestHubIsMember(t *testing.T) {
	h := NewHub()
	h.Join("call-1", "alice", &fakeSender{})

	assert.True(t, h.IsMember("call-1", "alice"))
	assert.False(t, h.IsMember("call-1", "bob"))
	assert.False(t, h.IsMember("call-2", "alice"))
}
