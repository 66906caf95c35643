package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdeck/callkit/internal/config"
	"github.com/helpdeck/callkit/internal/domain"
)

func newClientFor(srv *httptest.Server) *Client {
	return NewClient(config.LifecycleConfig{BaseURL: srv.URL, Token: "svc-token"})
}

func TestCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calls", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var params CreateParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, domain.CallVideo, params.Kind)
		assert.Equal(t, "conv-7", params.ConversationID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(CallRecord{
			ID:     "call-42",
			Kind:   params.Kind,
			Status: domain.CallPending,
		})
	}))
	defer srv.Close()

	rec, err := newClientFor(srv).Create(context.Background(), CreateParams{
		ConversationID: "conv-7",
		Kind:           domain.CallVideo,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallID("call-42"), rec.ID)
	assert.Equal(t, domain.CallPending, rec.Status)
}

func TestEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calls/call-42/end", r.URL.Path)
		_ = json.NewEncoder(w).Encode(CallRecord{ID: "call-42", Status: domain.CallEnded})
	}))
	defer srv.Close()

	rec, err := newClientFor(srv).End(context.Background(), "call-42")
	require.NoError(t, err)
	assert.Equal(t, domain.CallEnded, rec.Status)
}

func TestAddParticipant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calls/call-42/participants", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-9", body["userId"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newClientFor(srv).AddParticipant(context.Background(), "call-42", "user-9")
	require.NoError(t, err)
}

func TestNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newClientFor(srv).Create(context.Background(), CreateParams{Kind: domain.CallVoice})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestNoTokenOmitsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(CallRecord{ID: "call-1"})
	}))
	defer srv.Close()

	c := NewClient(config.LifecycleConfig{BaseURL: srv.URL})
	_, err := c.Create(context.Background(), CreateParams{Kind: domain.CallVoice})
	require.NoError(t, err)
}
