package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudplay/fleet-control-plane/core/models"
)

type fakeHostLister struct {
	hosts []*models.Host
}

func (f *fakeHostLister) ListForBilling(t0, t1 time.Time, provider *models.Provider, userID *string) ([]*models.Host, error) {
	return f.hosts, nil
}

type fakePlatforms struct {
	family   string
	maxHours float64
}

func (f *fakePlatforms) PlatformFamily(platform string) (string, float64, bool) {
	return f.family, f.maxHours, true
}

func TestCompute_ElapsedHoursTimesRate(t *testing.T) {
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	lastActivity := created.Add(3 * time.Hour)

	host := &models.Host{
		ID:           "h1",
		Tier:         models.TierMid,
		Platform:     "plat-A",
		Provider:     models.ProviderP1,
		UserID:       "u1",
		CreatedAt:    created,
		LastActivity: &lastActivity,
	}

	rates := &models.RateTable{
		Rates: map[models.RateKey]float64{
			{Tier: models.TierMid, PlatformFamily: "family-a", Provider: models.ProviderP1}: 0.50,
		},
		Multipliers: map[string]float64{"family-a": 1.0},
	}

	roll := New(&fakeHostLister{hosts: []*models.Host{host}}, &fakePlatforms{family: "family-a", maxHours: 100}, rates)

	result, err := roll.Compute(created, lastActivity.Add(time.Hour), nil, nil)
	require.NoError(t, err)
	require.Len(t, result.PerHost, 1)

	assert.InDelta(t, 3.0, result.PerHost[0].ElapsedHours, 1e-9)
	assert.InDelta(t, 1.5, result.PerHost[0].EstimatedCost, 1e-9)
	assert.InDelta(t, 1.5, result.Totals.EstimatedCost, 1e-9)
}

func TestCompute_ClampsToMaxSessionHours(t *testing.T) {
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	lastActivity := created.Add(10 * time.Hour)

	host := &models.Host{
		ID: "h1", Tier: models.TierLow, Platform: "plat-A", Provider: models.ProviderP2,
		CreatedAt: created, LastActivity: &lastActivity,
	}
	rates := &models.RateTable{
		Rates: map[models.RateKey]float64{
			{Tier: models.TierLow, PlatformFamily: "family-a", Provider: models.ProviderP2}: 1.0,
		},
	}
	roll := New(&fakeHostLister{hosts: []*models.Host{host}}, &fakePlatforms{family: "family-a", maxHours: 4}, rates)

	result, err := roll.Compute(created, lastActivity, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, result.PerHost[0].ElapsedHours, 1e-9, "elapsed hours must clamp to max_session_hours")
}
