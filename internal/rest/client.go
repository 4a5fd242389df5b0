// Package rest provides the authenticated HTTP bootstrap client used to
// fetch the initial conversation snapshot before the socket channel is live.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/moviesquad/messenger/internal/protocol"
)

// DefaultTimeout bounds each bootstrap request.
const DefaultTimeout = 5 * time.Second

// Client calls the conversations endpoint with a bearer credential. Request
// failures are returned to the caller as errors; the store keeps its
// last-known-good state and the shell surfaces a retry affordance.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a Client for the given API base URL (e.g.
// "http://localhost:8080") and session credential.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Conversations fetches the full conversation list snapshot.
func (c *Client) Conversations(ctx context.Context) ([]protocol.Conversation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/chat/conversations", nil)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: fetch conversations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rest: fetch conversations: unexpected status %d", resp.StatusCode)
	}

	var convos []protocol.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&convos); err != nil {
		return nil, fmt.Errorf("rest: decode conversations: %w", err)
	}
	return convos, nil
}
