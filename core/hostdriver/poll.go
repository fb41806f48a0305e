package hostdriver

import (
	"context"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/models"
)

const pollInterval = 10 * time.Second

// PollUntilReady polls describe every 10s (§5) until the translated state is
// RUNNING and an address is present, or maxWait elapses. Both adapters share
// this loop; only the describe function differs.
func PollUntilReady(ctx context.Context, maxWait time.Duration, translate func(string) models.HostState, describe func(context.Context) (DescribeResult, error)) (DescribeResult, error) {
	deadline := time.Now().Add(maxWait)
	if maxWait <= 0 {
		return DescribeResult{}, apperr.New(apperr.KindTimeout, "wait_ready: max_wait=0")
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		result, err := describe(ctx)
		if err == nil && translate(result.ProviderState) == models.HostStateRunning && result.Address != "" {
			return result, nil
		}

		if time.Now().After(deadline) {
			return DescribeResult{}, apperr.New(apperr.KindTimeout, "wait_ready: timed out waiting for running state with address")
		}

		select {
		case <-ctx.Done():
			return DescribeResult{}, apperr.Wrap(apperr.KindTimeout, "wait_ready: context cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}
