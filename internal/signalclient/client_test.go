package signalclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeck/callkit/internal/config"
	"github.com/helpdeck/callkit/internal/domain"
	"github.com/helpdeck/callkit/internal/httpapi"
	"github.com/helpdeck/callkit/internal/relay"
)

const testSecret = "client-test-secret"

func startRelay(t *testing.T) string {
	t.Helper()
	cfg := &config.Config{
		Mode:       "release",
		Secret:     testSecret,
		ReadLimit:  32768,
		PingPeriod: time.Minute,
		SendBuffer: 8,
	}
	hub := relay.NewHub()
	ctl := relay.NewController(hub, cfg, prometheus.NewRegistry())
	srv := httptest.NewServer(httpapi.SetupRouter(context.Background(), cfg, ctl, prometheus.NewRegistry()))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/calls"
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// events collects handler callbacks on channels so tests can wait on them.
type events struct {
	callState  chan []domain.ParticipantID
	peerJoined chan domain.ParticipantID
	signals    chan domain.SignalEnvelope
	status     chan domain.PeerStatus
	ended      chan domain.ParticipantID
	disconnect chan error
}

func newEvents() *events {
	return &events{
		callState:  make(chan []domain.ParticipantID, 4),
		peerJoined: make(chan domain.ParticipantID, 4),
		signals:    make(chan domain.SignalEnvelope, 4),
		status:     make(chan domain.PeerStatus, 4),
		ended:      make(chan domain.ParticipantID, 4),
		disconnect: make(chan error, 4),
	}
}

func (e *events) handlers() Handlers {
	return Handlers{
		OnSignal:     func(env domain.SignalEnvelope) { e.signals <- env },
		OnCallState:  func(others []domain.ParticipantID) { e.callState <- others },
		OnPeerJoined: func(pid domain.ParticipantID) { e.peerJoined <- pid },
		OnStatus:     func(_ domain.ParticipantID, st domain.PeerStatus) { e.status <- st },
		OnCallEnded:  func(pid domain.ParticipantID) { e.ended <- pid },
		OnDisconnect: func(err error) { e.disconnect <- err },
	}
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestDialRejectsMissingToken(t *testing.T) {
	url := startRelay(t)

	_, err := Dial(context.Background(), url, "", Handlers{})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestDialUnreachableRelay(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/api/ws/calls", signToken(t, "alice"), Handlers{})
	require.ErrorIs(t, err, domain.ErrSignalingUnavailable)
}

func TestJoinAndSignalRoundTrip(t *testing.T) {
	url := startRelay(t)
	aliceEv, bobEv := newEvents(), newEvents()

	alice, err := Dial(context.Background(), url, signToken(t, "alice"), aliceEv.handlers())
	require.NoError(t, err)
	t.Cleanup(alice.Close)
	bob, err := Dial(context.Background(), url, signToken(t, "bob"), bobEv.handlers())
	require.NoError(t, err)
	t.Cleanup(bob.Close)

	require.NoError(t, alice.Join("call-1"))
	assert.Empty(t, recv(t, aliceEv.callState, "alice call-state"))

	require.NoError(t, bob.Join("call-1"))
	others := recv(t, bobEv.callState, "bob call-state")
	require.Len(t, others, 1)
	assert.Equal(t, domain.ParticipantID("alice"), others[0])
	assert.Equal(t, domain.ParticipantID("bob"), recv(t, aliceEv.peerJoined, "peer-joined"))

	require.NoError(t, alice.SendSignal(domain.SignalOffer, map[string]string{"type": "offer", "sdp": "v=0"}))
	env := recv(t, bobEv.signals, "forwarded offer")
	assert.Equal(t, domain.SignalOffer, env.Type)
	assert.Equal(t, domain.ParticipantID("alice"), env.From)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(env.Payload))
}

func TestStatusRoundTrip(t *testing.T) {
	url := startRelay(t)
	aliceEv, bobEv := newEvents(), newEvents()

	alice, err := Dial(context.Background(), url, signToken(t, "alice"), aliceEv.handlers())
	require.NoError(t, err)
	t.Cleanup(alice.Close)
	bob, err := Dial(context.Background(), url, signToken(t, "bob"), bobEv.handlers())
	require.NoError(t, err)
	t.Cleanup(bob.Close)

	require.NoError(t, alice.Join("call-1"))
	recv(t, aliceEv.callState, "alice call-state")
	require.NoError(t, bob.Join("call-1"))
	recv(t, bobEv.callState, "bob call-state")
	recv(t, aliceEv.peerJoined, "peer-joined")

	require.NoError(t, alice.SendStatus(domain.PeerStatus{Muted: true, VideoEnabled: true}))
	st := recv(t, bobEv.status, "status")
	assert.True(t, st.Muted)
	assert.True(t, st.VideoEnabled)
}

func TestLeaveEndsCallForPeer(t *testing.T) {
	url := startRelay(t)
	aliceEv, bobEv := newEvents(), newEvents()

	alice, err := Dial(context.Background(), url, signToken(t, "alice"), aliceEv.handlers())
	require.NoError(t, err)
	t.Cleanup(alice.Close)
	bob, err := Dial(context.Background(), url, signToken(t, "bob"), bobEv.handlers())
	require.NoError(t, err)
	t.Cleanup(bob.Close)

	require.NoError(t, alice.Join("call-1"))
	recv(t, aliceEv.callState, "alice call-state")
	require.NoError(t, bob.Join("call-1"))
	recv(t, bobEv.callState, "bob call-state")
	recv(t, aliceEv.peerJoined, "peer-joined")

	require.NoError(t, bob.Leave())
	assert.Equal(t, domain.ParticipantID("bob"), recv(t, aliceEv.ended, "call-ended"))
}

func TestLeaveWithoutJoinIsNoOp(t *testing.T) {
	url := startRelay(t)
	alice, err := Dial(context.Background(), url, signToken(t, "alice"), Handlers{})
	require.NoError(t, err)
	t.Cleanup(alice.Close)

	require.NoError(t, alice.Leave())
}

func TestCloseIsIdempotentAndSilent(t *testing.T) {
	url := startRelay(t)
	ev := newEvents()
	alice, err := Dial(context.Background(), url, signToken(t, "alice"), ev.handlers())
	require.NoError(t, err)

	alice.Close()
	alice.Close()

	// A local close must not be reported as a lost connection.
	select {
	case err := <-ev.disconnect:
		t.Fatalf("unexpected disconnect callback: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.ErrorIs(t, alice.Join("call-1"), domain.ErrSignalingUnavailable)
}
