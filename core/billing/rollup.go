// Package billing implements the Billing Rollup of §4.6: a pure query over
// persisted Host records and the rate table, grounded on the teacher's
// CostTracker elapsed-hours-times-rate formula (core/monitoring/cost_tracker.go).
package billing

import (
	"math"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/models"
)

// HostLister is the subset of the host repository the rollup depends on.
type HostLister interface {
	ListForBilling(t0, t1 time.Time, provider *models.Provider, userID *string) ([]*models.Host, error)
}

// PlatformFamilyLookup resolves a platform tag to its billing family, used
// to key the rate table and the per-family multiplier.
type PlatformFamilyLookup interface {
	PlatformFamily(platform string) (family string, maxSessionHours float64, ok bool)
}

// HostCost is one line of the per-host billing breakdown.
type HostCost struct {
	HostID        string  `json:"host_id"`
	Provider      models.Provider `json:"provider"`
	UserID        string  `json:"user_id"`
	ElapsedHours  float64 `json:"elapsed_hours"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Totals summarizes a Rollup result.
type Totals struct {
	Hours         float64 `json:"hours"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Result is the §4.6 rollup response shape.
type Result struct {
	PerHost []HostCost `json:"per_host"`
	Totals  Totals     `json:"totals"`
}

// Rollup computes billing over a time window.
type Rollup struct {
	hosts     HostLister
	platforms PlatformFamilyLookup
	rates     *models.RateTable
}

func New(hosts HostLister, platforms PlatformFamilyLookup, rates *models.RateTable) *Rollup {
	return &Rollup{hosts: hosts, platforms: platforms, rates: rates}
}

// Compute implements §4.6's contract over [t0, t1], with optional provider/user_id filters.
func (b *Rollup) Compute(t0, t1 time.Time, provider *models.Provider, userID *string) (Result, error) {
	hosts, err := b.hosts.ListForBilling(t0, t1, provider, userID)
	if err != nil {
		return Result{}, err
	}

	result := Result{PerHost: make([]HostCost, 0, len(hosts))}
	for _, h := range hosts {
		cost := b.hostCost(h, t0, t1)
		result.PerHost = append(result.PerHost, cost)
		result.Totals.Hours = round4(result.Totals.Hours + cost.ElapsedHours)
		result.Totals.EstimatedCost = round4(result.Totals.EstimatedCost + cost.EstimatedCost)
	}
	return result, nil
}

func (b *Rollup) hostCost(h *models.Host, t0, t1 time.Time) HostCost {
	family, maxHours, ok := b.platforms.PlatformFamily(h.Platform)
	if !ok {
		family = h.Platform
	}

	activityEnd := t1
	if h.LastActivity != nil && h.LastActivity.Before(activityEnd) {
		activityEnd = *h.LastActivity
	}
	windowStart := t0
	if h.CreatedAt.After(windowStart) {
		windowStart = h.CreatedAt
	}

	elapsed := activityEnd.Sub(windowStart).Hours()
	if elapsed < 0 {
		elapsed = 0
	}
	if maxHours > 0 && elapsed > maxHours {
		elapsed = maxHours
	}

	rate, _ := b.rates.Rate(models.RateKey{Tier: h.Tier, PlatformFamily: family, Provider: h.Provider})
	multiplier := b.rates.Multiplier(family)
	cost := elapsed * rate * multiplier

	return HostCost{
		HostID:        h.ID,
		Provider:      h.Provider,
		UserID:        h.UserID,
		ElapsedHours:  round4(elapsed),
		EstimatedCost: round4(cost),
	}
}

// round4 rounds half away from zero to 4 decimal places, per §4.6: "no
// floating-point rounding past 4 decimal places".
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
