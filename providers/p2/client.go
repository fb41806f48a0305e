// Package p2 implements the HostDriver contract by wrapping a command-line
// tool (§4.3, §6.4). Exit code 0 is ok; non-zero is a non-retryable
// ProviderError. stdout/stderr are streamed into a bounded ring buffer
// retained in provider_metadata for diagnostics.
package p2

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/hostdriver"
	"github.com/cloudplay/fleet-control-plane/core/models"
)

const ringBufferCap = 64 * 1024 // bytes retained per invocation, newest wins

// Client is the P2 adapter.
type Client struct {
	binaryPath string
	configPath string
}

// Region is one entry of the static named-region table consulted by the
// Location Optimizer's fallback path (§4.2).
type Region struct {
	Code string
	Lat  float64
	Lon  float64
}

func New(binaryPath, configPath string) *Client {
	return &Client{binaryPath: binaryPath, configPath: configPath}
}

func (c *Client) Provider() models.Provider { return models.ProviderP2 }

// Translate maps the CLI's `describe` state column to the shared lifecycle
// vocabulary. Unrecognized strings map to UNKNOWN, as §4.3 requires.
func (c *Client) Translate(providerState string) models.HostState {
	switch strings.ToLower(providerState) {
	case "provisioning", "booting":
		return models.HostStateCreating
	case "running", "active":
		return models.HostStateRunning
	case "stopped", "halted":
		return models.HostStateStopped
	case "destroyed", "terminated":
		return models.HostStateDestroyed
	case "error", "failed":
		return models.HostStateFailed
	default:
		return models.HostStateUnknown
	}
}

func tierSizing(tier models.Tier) (cpu, memoryGB int) {
	switch tier {
	case models.TierLow:
		return 2, 4
	case models.TierMid:
		return 4, 8
	case models.TierHigh:
		return 8, 16
	default:
		return 2, 4
	}
}

func (c *Client) Create(ctx context.Context, in hostdriver.CreateInput) (hostdriver.CreateResult, error) {
	cpu, mem := tierSizing(in.Tier)
	name := in.Tags["name"]
	if name == "" {
		name = "host-" + in.PlacementHint
	}
	out, err := c.run(ctx,
		"create",
		"--name", name,
		"--cpu", strconv.Itoa(cpu),
		"--memory", strconv.Itoa(mem),
		"--region", in.PlacementHint,
		"--auto-stop-timeout", "0",
	)
	if err != nil {
		return hostdriver.CreateResult{}, err
	}

	handle := strings.TrimSpace(out.lastLine())
	return hostdriver.CreateResult{
		ProviderHandle:   handle,
		ProviderMetadata: map[string]string{"cli_output": out.String()},
	}, nil
}

func (c *Client) Describe(ctx context.Context, providerHandle string) (hostdriver.DescribeResult, error) {
	out, err := c.run(ctx, "describe", providerHandle)
	if err != nil {
		return hostdriver.DescribeResult{}, err
	}
	state, address := parseDescribeOutput(out.String())
	return hostdriver.DescribeResult{ProviderState: state, Address: address}, nil
}

func (c *Client) Start(ctx context.Context, providerHandle string) error {
	_, err := c.run(ctx, "start", providerHandle)
	return err
}

func (c *Client) Stop(ctx context.Context, providerHandle string) error {
	_, err := c.run(ctx, "stop", providerHandle)
	return err
}

func (c *Client) Destroy(ctx context.Context, providerHandle string) error {
	_, err := c.run(ctx, "destroy", providerHandle)
	if err != nil && apperr.IsKind(err, apperr.KindNotFound) {
		return nil // idempotent
	}
	return err
}

// Configure is a no-op for P2: its CLI-provisioned hosts need no separate
// environment-setup invocation, per §4.4.2 step 4.
func (c *Client) Configure(ctx context.Context, providerHandle string) error {
	return nil
}

func (c *Client) WaitReady(ctx context.Context, providerHandle string, maxWait time.Duration) (hostdriver.DescribeResult, error) {
	return hostdriver.PollUntilReady(ctx, maxWait, c.Translate, func(ctx context.Context) (hostdriver.DescribeResult, error) {
		return c.Describe(ctx, providerHandle)
	})
}

// run executes the CLI tool with the shared config path and classifies the
// result: exit code 0 is ok, non-zero is a non-retryable ProviderError.
func (c *Client) run(ctx context.Context, args ...string) (*ringBuffer, error) {
	fullArgs := append([]string{"--config", c.configPath}, args...)
	cmd := exec.CommandContext(ctx, c.binaryPath, fullArgs...)

	buf := newRingBuffer(ringBufferCap)
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Run(); err != nil {
		if strings.Contains(strings.ToLower(buf.String()), "not found") {
			return nil, apperr.New(apperr.KindNotFound, "p2: handle not found")
		}
		return nil, apperr.NewProviderError(fmt.Sprintf("p2 cli exited non-zero: %v", err), false, err)
	}
	return buf, nil
}

func parseDescribeOutput(s string) (state, address string) {
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "state="):
			state = strings.TrimPrefix(line, "state=")
		case strings.HasPrefix(line, "address="):
			address = strings.TrimPrefix(line, "address=")
		}
	}
	return state, address
}

// ringBuffer is a bounded, concurrency-safe byte sink that retains only the
// most recent bytes written to it, per §9's "avoid unbounded memory growth".
type ringBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	cap int
}

func newRingBuffer(capBytes int) *ringBuffer {
	return &ringBuffer{cap: capBytes}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(p)
	if r.buf.Len() > r.cap {
		excess := r.buf.Len() - r.cap
		r.buf.Next(excess)
	}
	return len(p), nil
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func (r *ringBuffer) lastLine() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := strings.Split(strings.TrimSpace(r.buf.String()), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
