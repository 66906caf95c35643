package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nonexistent")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICE.STUNURLs)
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.Timeout)
	assert.Equal(t, "ws://localhost:8080/api/ws/calls", cfg.Client.RelayURL)
}

func TestICEServersSTUNOnly(t *testing.T) {
	ice := ICEConfig{STUNURLs: []string{"stun:a.example:3478", "stun:b.example:3478"}}

	servers := ice.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:a.example:3478"}, servers[0].URLs)
	assert.Empty(t, servers[0].Username)
}

func TestICEServersWithTURN(t *testing.T) {
	ice := ICEConfig{
		STUNURLs:       []string{"stun:a.example:3478"},
		TURNURL:        "turn:relay.example:3478",
		TURNUsername:   "user",
		TURNCredential: "pass",
	}

	servers := ice.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"turn:relay.example:3478"}, servers[1].URLs)
	assert.Equal(t, "user", servers[1].Username)
	assert.Equal(t, "pass", servers[1].Credential)
}
