// Package p1 implements the HostDriver contract against provider P1's REST
// inventory+instance API (§4.3, §6.4): bearer-token auth, 5xx/transport
// errors retryable, 4xx not.
package p1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/hostdriver"
	"github.com/cloudplay/fleet-control-plane/core/models"
)

// InventoryNode is one entry of GET /inventory.
type InventoryNode struct {
	ID            string            `json:"id"`
	City          string            `json:"city"`
	Region        string            `json:"region"`
	Country       string            `json:"country"`
	VCPU          int               `json:"vcpu"`
	MemoryGiB     int               `json:"memory_gib"`
	GPUCount      int               `json:"gpu_count"`
	HasAddress    bool              `json:"has_dedicated_address"`
	PricePerHour  float64           `json:"price_per_hour"`
	Tags          map[string]string `json:"tags,omitempty"`
}

type instanceResponse struct {
	ID       string            `json:"id"`
	State    string            `json:"state"`
	Address  string            `json:"address,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Client is the P1 adapter.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration // total request timeout; connect timeout is fixed at 15s via Transport
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
			},
		},
	}
}

func (c *Client) Provider() models.Provider { return models.ProviderP1 }

// Translate maps P1's vendor strings to the shared lifecycle vocabulary.
// Unrecognized strings map to UNKNOWN, as §4.3 requires.
func (c *Client) Translate(providerState string) models.HostState {
	switch providerState {
	case "pending", "provisioning":
		return models.HostStateCreating
	case "running":
		return models.HostStateRunning
	case "stopped":
		return models.HostStateStopped
	case "terminated":
		return models.HostStateDestroyed
	case "error":
		return models.HostStateFailed
	default:
		return models.HostStateUnknown
	}
}

// GetInventory fetches the current node inventory for the Location Optimizer.
func (c *Client) GetInventory(ctx context.Context) ([]InventoryNode, error) {
	var nodes []InventoryNode
	if err := c.do(ctx, http.MethodGet, "/inventory", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (c *Client) Create(ctx context.Context, in hostdriver.CreateInput) (hostdriver.CreateResult, error) {
	body := map[string]interface{}{
		"node_id": in.PlacementHint,
		"tier":    string(in.Tier),
		"tags":    in.Tags,
	}
	if in.UserSSHKey != "" {
		body["ssh_key"] = in.UserSSHKey
	}

	var resp instanceResponse
	if err := c.do(ctx, http.MethodPost, "/instances", body, &resp); err != nil {
		return hostdriver.CreateResult{}, err
	}
	return hostdriver.CreateResult{ProviderHandle: resp.ID, ProviderMetadata: resp.Metadata}, nil
}

func (c *Client) Describe(ctx context.Context, providerHandle string) (hostdriver.DescribeResult, error) {
	var resp instanceResponse
	if err := c.do(ctx, http.MethodGet, "/instances/"+providerHandle, nil, &resp); err != nil {
		return hostdriver.DescribeResult{}, err
	}
	return hostdriver.DescribeResult{ProviderState: resp.State, Address: resp.Address}, nil
}

func (c *Client) Start(ctx context.Context, providerHandle string) error {
	return c.do(ctx, http.MethodPost, "/instances/"+providerHandle+"/start", nil, nil)
}

func (c *Client) Stop(ctx context.Context, providerHandle string) error {
	return c.do(ctx, http.MethodPost, "/instances/"+providerHandle+"/stop", nil, nil)
}

func (c *Client) Destroy(ctx context.Context, providerHandle string) error {
	err := c.do(ctx, http.MethodDelete, "/instances/"+providerHandle, nil, nil)
	if err != nil && apperr.IsKind(err, apperr.KindNotFound) {
		return nil // idempotent
	}
	return err
}

// Configure triggers P1's remote install step against a freshly-created
// instance, per §4.4.2 step 4.
func (c *Client) Configure(ctx context.Context, providerHandle string) error {
	return c.do(ctx, http.MethodPost, "/instances/"+providerHandle+"/configure", nil, nil)
}

func (c *Client) WaitReady(ctx context.Context, providerHandle string, maxWait time.Duration) (hostdriver.DescribeResult, error) {
	return hostdriver.PollUntilReady(ctx, maxWait, c.Translate, func(ctx context.Context) (hostdriver.DescribeResult, error) {
		return c.Describe(ctx, providerHandle)
	})
}

// do issues an HTTP call against the P1 API and classifies failures per §4.3:
// 5xx and transport errors are retryable, 4xx are not.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "encode request body", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.NewProviderError("p1 transport error", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperr.New(apperr.KindNotFound, "p1: instance not found")
	}
	if resp.StatusCode >= 500 {
		return apperr.NewProviderError(fmt.Sprintf("p1 server error: %d", resp.StatusCode), true, nil)
	}
	if resp.StatusCode >= 400 {
		return apperr.NewProviderError(fmt.Sprintf("p1 client error: %d", resp.StatusCode), false, nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.Wrap(apperr.KindInternal, "decode p1 response", err)
		}
	}
	return nil
}
