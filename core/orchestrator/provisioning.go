package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/hostdriver"
	"github.com/cloudplay/fleet-control-plane/core/models"
	"github.com/cloudplay/fleet-control-plane/core/placement"
	"github.com/cloudplay/fleet-control-plane/metrics"
)

// runProvisioning drives the §4.4.2 five-step provisioning sequence:
// placement -> create -> wait_ready -> configure -> ready. Grounded on the
// teacher's provisionAndExecuteJob (core/resource_manager/provisioner.go),
// whose placeholder `time.Sleep` stand-in for readiness is replaced here with
// the real WaitReady call, and whose single-attempt create is replaced with
// the retry/backoff policy below.
func (o *Orchestrator) runProvisioning(ctx context.Context, host *models.Host, profile *models.PlatformProfile) {
	start := time.Now()
	provider := string(host.Provider)

	driver, ok := o.drivers[host.Provider]
	if !ok {
		o.fail(host.ID, fmt.Sprintf("no driver registered for provider %s", host.Provider))
		metrics.ProvisioningDuration.WithLabelValues(provider, "failure").Observe(time.Since(start).Seconds())
		return
	}

	if o.cancelled(host.ID) {
		return
	}

	placements, err := o.rankCandidates(ctx, host, profile)
	if err != nil {
		o.fail(host.ID, "placement: "+err.Error())
		metrics.ProvisioningDuration.WithLabelValues(provider, "failure").Observe(time.Since(start).Seconds())
		return
	}

	result, chosen, err := o.createWithRetry(ctx, driver, host, placements)
	if err != nil {
		o.fail(host.ID, "create: "+err.Error())
		metrics.ProvisioningDuration.WithLabelValues(provider, "failure").Observe(time.Since(start).Seconds())
		return
	}

	if _, err := o.hosts.CompareAndSetState(host.ID, []models.HostState{models.HostStateCreating}, models.HostStateCreating, "provider_create_succeeded", map[string]interface{}{"node_id": chosen.NodeID}); err != nil {
		o.log.Warn("state touch after create failed", "host_id", host.ID, "error", err)
	}
	if err := o.hosts.UpdateProvisioningFields(host.ID, result.ProviderHandle, result.ProviderMetadata, "", false); err != nil {
		o.fail(host.ID, "persist provider handle: "+err.Error())
		metrics.ProvisioningDuration.WithLabelValues(provider, "failure").Observe(time.Since(start).Seconds())
		return
	}
	host.ProviderHandle = result.ProviderHandle

	if o.cancelled(host.ID) {
		o.destroyBestEffort(driver, result.ProviderHandle)
		return
	}

	ceiling := o.cfg.WaitReadyCeiling[host.Tier]
	if ceiling <= 0 {
		ceiling = 10 * time.Minute
	}
	describe, err := hostdriver.PollUntilReady(ctx, ceiling, driver.Translate, func(ctx context.Context) (hostdriver.DescribeResult, error) {
		return driver.Describe(ctx, result.ProviderHandle)
	})
	if err != nil {
		o.fail(host.ID, "wait_ready: "+err.Error())
		o.destroyBestEffort(driver, result.ProviderHandle)
		metrics.ProvisioningDuration.WithLabelValues(provider, "failure").Observe(time.Since(start).Seconds())
		return
	}

	if o.cancelled(host.ID) {
		o.destroyBestEffort(driver, result.ProviderHandle)
		return
	}

	applied, err := o.hosts.CompareAndSetState(host.ID, []models.HostState{models.HostStateCreating}, models.HostStateConfiguring, "provider_ready", nil)
	if err != nil || !applied {
		return
	}

	// §4.4.2 step 4: issue the out-of-band environment-setup invocation
	// (P1 remote install, P2 no-op) before declaring the host READY.
	if err := driver.Configure(ctx, result.ProviderHandle); err != nil {
		o.failConfigure(host.ID, "configure: "+err.Error())
		o.destroyBestEffort(driver, result.ProviderHandle)
		metrics.ProvisioningDuration.WithLabelValues(provider, "failure").Observe(time.Since(start).Seconds())
		return
	}

	if err := o.hosts.UpdateProvisioningFields(host.ID, result.ProviderHandle, result.ProviderMetadata, describe.Address, true); err != nil {
		o.fail(host.ID, "persist address: "+err.Error())
		metrics.ProvisioningDuration.WithLabelValues(provider, "failure").Observe(time.Since(start).Seconds())
		return
	}

	if o.cancelled(host.ID) {
		o.destroyBestEffort(driver, result.ProviderHandle)
		return
	}

	if _, err := o.hosts.CompareAndSetState(host.ID, []models.HostState{models.HostStateConfiguring}, models.HostStateReady, "environment_ready", nil); err != nil {
		o.fail(host.ID, "mark ready: "+err.Error())
		metrics.ProvisioningDuration.WithLabelValues(provider, "failure").Observe(time.Since(start).Seconds())
		return
	}

	metrics.ProvisioningDuration.WithLabelValues(provider, "success").Observe(time.Since(start).Seconds())
}

// rankCandidates resolves a ranked placement list from the Location Optimizer
// for the host's provider, applying the PlatformProfile's hardware minima.
func (o *Orchestrator) rankCandidates(ctx context.Context, host *models.Host, profile *models.PlatformProfile) ([]placement.Placement, error) {
	switch host.Provider {
	case models.ProviderP1:
		minima := placement.Minima{MinVCPU: profile.MinVCPU, MinMemoryGiB: profile.MinMemoryGiB, MinGPUCount: profile.MinGPUCount}
		return o.optimizer.RankP1(ctx, host.UserCoord, minima)
	case models.ProviderP2:
		var coord models.Coord
		if host.UserCoord != nil {
			coord = *host.UserCoord
		}
		return o.optimizer.RankP2(ctx, coord)
	default:
		return nil, fmt.Errorf("unknown provider %s", host.Provider)
	}
}

// createWithRetry attempts Create across the ranked candidate list, retrying
// a given candidate with exponential backoff on retryable ProviderError, and
// falling through to the next candidate once retries on one are exhausted.
func (o *Orchestrator) createWithRetry(ctx context.Context, driver hostdriver.HostDriver, host *models.Host, placements []placement.Placement) (hostdriver.CreateResult, placement.Placement, error) {
	if len(placements) == 0 {
		return hostdriver.CreateResult{}, placement.Placement{}, fmt.Errorf("no placement candidates")
	}

	var lastErr error
	for _, p := range placements {
		backoff := o.cfg.RetryInitialBackoff
		for attempt := 0; attempt < o.cfg.RetryMaxAttempts; attempt++ {
			if o.cancelled(host.ID) {
				return hostdriver.CreateResult{}, placement.Placement{}, fmt.Errorf("provisioning cancelled")
			}
			res, err := driver.Create(ctx, hostdriver.CreateInput{
				Tier:          host.Tier,
				PlacementHint: p.NodeID,
				Tags:          map[string]string{"platform": host.Platform, "user_id": host.UserID},
			})
			if err == nil {
				return res, p, nil
			}
			lastErr = err
			if !isRetryable(err) {
				break
			}
			select {
			case <-ctx.Done():
				return hostdriver.CreateResult{}, placement.Placement{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= time.Duration(o.cfg.RetryFactor)
			if backoff > o.cfg.RetryMaxBackoff {
				backoff = o.cfg.RetryMaxBackoff
			}
		}
	}
	return hostdriver.CreateResult{}, placement.Placement{}, lastErr
}

func isRetryable(err error) bool {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Kind == apperr.KindProviderError && e.Retryable
	}
	return false
}

// cancelled reports whether the host has already moved to DESTROYED while the
// background task was between steps — §4.4.2's "check cancellation between
// steps" requirement.
func (o *Orchestrator) cancelled(hostID string) bool {
	h, err := o.hosts.GetHost(hostID)
	if err != nil {
		return true
	}
	return h.State == models.HostStateDestroyed
}

func (o *Orchestrator) fail(hostID, reason string) {
	if err := o.hosts.RecordLastError(hostID, reason); err != nil {
		o.log.Error("record last_error failed", "host_id", hostID, "error", err)
	}
	if _, err := o.hosts.CompareAndSetState(hostID, nonTerminalStates(), models.HostStateProvisionFailed, reason, nil); err != nil {
		o.log.Error("transition to PROVISION_FAILED failed", "host_id", hostID, "error", err)
	}
}

// failConfigure implements §4.4.2 step 4's distinct failure path: a failed
// environment-setup invocation transitions CONFIGURING to FAILED (not
// PROVISION_FAILED); the caller then destroys the provider-side host via
// destroyBestEffort.
func (o *Orchestrator) failConfigure(hostID, reason string) {
	if err := o.hosts.RecordLastError(hostID, reason); err != nil {
		o.log.Error("record last_error failed", "host_id", hostID, "error", err)
	}
	if _, err := o.hosts.CompareAndSetState(hostID, []models.HostState{models.HostStateConfiguring}, models.HostStateFailed, reason, nil); err != nil {
		o.log.Error("transition to FAILED failed", "host_id", hostID, "error", err)
	}
}

func (o *Orchestrator) destroyBestEffort(driver hostdriver.HostDriver, providerHandle string) {
	if providerHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := driver.Destroy(ctx, providerHandle); err != nil {
		o.log.Warn("best-effort destroy after cancellation failed", "provider_handle", providerHandle, "error", err)
	}
}
