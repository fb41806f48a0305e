// Package agentclient implements the §4.5 liveness-probe HTTP call against
// a session's own in-VM agent, grounded on core/external's http.Client +
// JSON-decode idiom (same timeout-via-context, no retry).
package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthResponse is the agent's /health payload (§4.5 step 2/3).
type HealthResponse struct {
	ConnectedClients int
	IdleSince        *time.Time
	SessionDuration  time.Duration
}

type healthWire struct {
	ConnectedClients       int        `json:"connected_clients"`
	IdleSince              *time.Time `json:"idle_since,omitempty"`
	SessionDurationSeconds float64    `json:"session_duration"`
}

// Client calls a host agent's /health endpoint.
type Client struct {
	http *http.Client
}

func New() *Client {
	return &Client{http: &http.Client{}}
}

// Health issues GET http://address:port/health. The caller is responsible
// for bounding ctx to the 5s probe timeout (§4.5 step 2).
func (c *Client) Health(ctx context.Context, address string, port int) (HealthResponse, error) {
	url := fmt.Sprintf("http://%s:%d/health", address, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthResponse{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return HealthResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HealthResponse{}, fmt.Errorf("agent health: unexpected status %d", resp.StatusCode)
	}

	var wire healthWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return HealthResponse{}, err
	}

	return HealthResponse{
		ConnectedClients: wire.ConnectedClients,
		IdleSince:        wire.IdleSince,
		SessionDuration:  time.Duration(wire.SessionDurationSeconds * float64(time.Second)),
	}, nil
}
