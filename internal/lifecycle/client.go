// Package lifecycle is a thin client for the external call-record service.
// That service owns call records and the invited roster; this subsystem only
// creates, ends, and appends participants to them.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/helpdeck/callkit/internal/config"
	"github.com/helpdeck/callkit/internal/domain"
)

// CallRecord is the service's representation of a call.
type CallRecord struct {
	ID             domain.CallID     `json:"id"`
	ConversationID string            `json:"conversationId,omitempty"`
	Kind           domain.CallKind   `json:"type"`
	Status         domain.CallStatus `json:"status"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CreateParams describes a new call record.
type CreateParams struct {
	ConversationID string            `json:"conversationId,omitempty"`
	Kind           domain.CallKind   `json:"type"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg config.LifecycleConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Create registers a new call record; the returned ID is the session's
// stable identifier for its whole lifetime.
func (c *Client) Create(ctx context.Context, params CreateParams) (*CallRecord, error) {
	var rec CallRecord
	if err := c.do(ctx, http.MethodPost, "/calls", params, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// End marks the record terminal. The record itself is retained by the
// service; only the status moves.
func (c *Client) End(ctx context.Context, callID domain.CallID) (*CallRecord, error) {
	var rec CallRecord
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/calls/%s/end", callID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AddParticipant appends a user to the call's invited roster.
func (c *Client) AddParticipant(ctx context.Context, callID domain.CallID, userID string) error {
	body := map[string]string{"userId": userID}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/calls/%s/participants", callID), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lifecycle: encode request: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("lifecycle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lifecycle: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Str("module", "lifecycle").Str("path", path).Int("status", resp.StatusCode).Msg("request failed")
		return fmt.Errorf("lifecycle: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("lifecycle: decode response: %w", err)
	}
	return nil
}
