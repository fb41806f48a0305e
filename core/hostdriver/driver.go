// Package hostdriver defines the common contract both provider adapters
// implement, per §4.3.
package hostdriver

import (
	"context"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/models"
)

// CreateInput carries everything an adapter needs to accept a create call.
type CreateInput struct {
	Tier          models.Tier
	PlacementHint string // provider-specific: P1 inventory node ID, P2 region code
	UserSSHKey    string // optional
	Tags          map[string]string
}

// CreateResult is returned on a successful create.
type CreateResult struct {
	ProviderHandle   string
	ProviderMetadata map[string]string
}

// DescribeResult is the adapter's view of a host's current state.
type DescribeResult struct {
	ProviderState string // raw vendor string, pass through Translate to get a models.HostState
	Address       string // empty if not yet assigned
}

// HostDriver is the common operation set both provider adapters implement.
// Adapters perform no retries internally; retry policy lives in the
// Orchestrator (§7).
type HostDriver interface {
	Create(ctx context.Context, in CreateInput) (CreateResult, error)
	Describe(ctx context.Context, providerHandle string) (DescribeResult, error)
	Start(ctx context.Context, providerHandle string) error
	Stop(ctx context.Context, providerHandle string) error
	// Destroy is idempotent: destroying an already-absent handle is not an error.
	Destroy(ctx context.Context, providerHandle string) error
	// Configure runs the out-of-band environment setup step against a
	// newly-reachable host (§4.4.2 step 4): P1 triggers a remote install,
	// P2 is a no-op. Failure here is terminal for the provisioning attempt.
	Configure(ctx context.Context, providerHandle string) error
	// WaitReady polls Describe until ProviderState translates to RUNNING and an
	// address is present, or maxWait elapses, in which case it returns a
	// Timeout *apperr.Error.
	WaitReady(ctx context.Context, providerHandle string, maxWait time.Duration) (DescribeResult, error)
	// Translate maps a vendor state string to the shared lifecycle vocabulary.
	// The mapping is total: unrecognized strings map to models.HostStateUnknown.
	Translate(providerState string) models.HostState
	// Provider identifies which of P1/P2 this driver implements.
	Provider() models.Provider
}
