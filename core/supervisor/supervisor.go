// Package supervisor implements the Health Supervisor of §4.5: a ticking
// background sweep over persisted Host records, grounded on the teacher's
// Scheduler ticking loop (core/scheduler/scheduler.go) — here driving health
// probes and TTL sweeps instead of job dispatch.
package supervisor

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/agentclient"
	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/hostdriver"
	"github.com/cloudplay/fleet-control-plane/core/models"
	"github.com/cloudplay/fleet-control-plane/metrics"
)

// HostStore is the subset of the host repository the Supervisor depends on.
type HostStore interface {
	ListByStates(states ...models.HostState) ([]*models.Host, error)
	ListStoppedOlderThan(cutoff time.Time) ([]*models.Host, error)
	ListForBilling(t0, t1 time.Time, provider *models.Provider, userID *string) ([]*models.Host, error)
	CompareAndSetState(hostID string, fromStates []models.HostState, toState models.HostState, reason string, meta map[string]interface{}) (bool, error)
	IncrementUnhealthyStrikes(hostID string) (int, error)
	ResetUnhealthyStrikes(hostID string) error
	TouchActivity(hostID string, at time.Time) error
	InsertEvent(hostID string, reason string, meta map[string]interface{}) error
}

// AgentHealthChecker probes a host's own agent, per §4.5 step 2.
type AgentHealthChecker interface {
	Health(ctx context.Context, address string, port int) (agentclient.HealthResponse, error)
}

// PlatformFamilyLookup resolves a platform's max_session_hours, used by the
// hard-stop check.
type PlatformFamilyLookup interface {
	PlatformFamily(platform string) (family string, maxSessionHours float64, ok bool)
}

// Drivers resolves a provider's HostDriver implementation, used for provider-level stops and destroys.
type Drivers map[models.Provider]hostdriver.HostDriver

// Config carries the §4.5 sweep tunables.
type Config struct {
	LivenessInterval   time.Duration
	LivenessJitter     float64 // fraction, e.g. 0.10 for ±10%
	HealthProbeTimeout time.Duration
	UnhealthyStrikes   int
	IdleThreshold      time.Duration
	LongStoppedInterval time.Duration
	StoppedTTL         time.Duration
	SpendCapSoft       float64
	SpendCapHard       float64
}

func DefaultConfig() Config {
	return Config{
		LivenessInterval:    15 * time.Minute,
		LivenessJitter:      0.10,
		HealthProbeTimeout:  5 * time.Second,
		UnhealthyStrikes:    3,
		IdleThreshold:       10 * time.Minute,
		LongStoppedInterval: 24 * time.Hour,
		StoppedTTL:          48 * time.Hour,
	}
}

// Supervisor runs the liveness and long-stopped sweeps. The spend-cap check
// is CheckSpendCap, which Run does not call.
type Supervisor struct {
	hosts     HostStore
	platforms PlatformFamilyLookup
	drivers   Drivers
	health    AgentHealthChecker
	cfg       Config
	log       *slog.Logger

	lastLongStoppedSweep time.Time
}

func New(hosts HostStore, platforms PlatformFamilyLookup, drivers Drivers, health AgentHealthChecker, cfg Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if health == nil {
		health = agentclient.New()
	}
	return &Supervisor{hosts: hosts, platforms: platforms, drivers: drivers, health: health, cfg: cfg, log: log}
}

// Run blocks, ticking the liveness sweep at cfg.LivenessInterval ± jitter
// until ctx is cancelled. Grounded on the teacher's Scheduler.Start ticker loop.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		interval := s.jitteredInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			s.sweepOnce(ctx)
		}
	}
}

func (s *Supervisor) jitteredInterval() time.Duration {
	base := s.cfg.LivenessInterval
	if base <= 0 {
		base = 15 * time.Minute
	}
	jitter := s.cfg.LivenessJitter
	if jitter <= 0 {
		return base
	}
	delta := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(base) * (1 + delta))
}

func (s *Supervisor) sweepOnce(ctx context.Context) {
	s.livenessSweep(ctx)

	if time.Since(s.lastLongStoppedSweep) >= s.cfg.LongStoppedInterval {
		s.longStoppedSweep(ctx)
		s.lastLongStoppedSweep = time.Now()
	}
}

// livenessSweep implements §4.5's health-probe loop over RUNNING/IDLE hosts:
// a failed or timed-out probe increments the strike counter; the third strike
// moves the host to FAILED and destroys it. It also enforces the IDLE threshold and the
// per-platform max_session_hours hard stop.
func (s *Supervisor) livenessSweep(ctx context.Context) {
	hosts, err := s.hosts.ListByStates(models.HostStateRunning, models.HostStateIdle)
	if err != nil {
		s.log.Error("liveness sweep: list hosts failed", "error", err)
		return
	}

	now := time.Now()
	for _, h := range hosts {
		if s.enforceMaxSessionHours(h, now) {
			continue
		}
		if h.State == models.HostStateIdle {
			s.enforceIdleThreshold(h, now)
			continue
		}
		s.probeHealth(ctx, h)
	}
}

// probeHealth implements §4.5 step 2/3: HTTP-GET the host's own agent
// /health and drive the decision matrix from its response, rather than
// asking the provider adapter for its own view of the instance.
func (s *Supervisor) probeHealth(ctx context.Context, h *models.Host) {
	if h.Address == "" {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthProbeTimeout)
	defer cancel()

	resp, err := s.health.Health(probeCtx, h.Address, h.AgentPort)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(string(h.Provider), "true").Inc()

		strikes, serr := s.hosts.IncrementUnhealthyStrikes(h.ID)
		if serr != nil {
			s.log.Error("increment unhealthy strikes failed", "host_id", h.ID, "error", serr)
			return
		}
		if strikes >= s.cfg.UnhealthyStrikes {
			s.forceFail(ctx, h, "unhealthy_strikes_exceeded")
		}
		return
	}

	if h.UnhealthyStrikes > 0 {
		_ = s.hosts.ResetUnhealthyStrikes(h.ID)
	}

	switch {
	case resp.ConnectedClients == 0 && resp.IdleSince != nil && time.Since(*resp.IdleSince) >= s.cfg.IdleThreshold:
		s.markIdle(h)
	case resp.SessionDuration > 0 && s.exceedsMaxSessionHours(h, resp.SessionDuration):
		s.forceStop(ctx, h, "max_session_hours_exceeded")
	default:
		if err := s.hosts.TouchActivity(h.ID, time.Now()); err != nil {
			s.log.Error("touch activity failed", "host_id", h.ID, "error", err)
		}
	}
}

// markIdle implements the matrix's "connected_clients = 0 and idle_since
// older than idle_threshold" branch: transition to IDLE if not already,
// and enqueue the provider-level stop the matrix calls for.
func (s *Supervisor) markIdle(h *models.Host) {
	if h.State != models.HostStateIdle {
		if _, err := s.hosts.CompareAndSetState(h.ID, []models.HostState{models.HostStateRunning, models.HostStateReady}, models.HostStateIdle, "agent_idle_detected", nil); err != nil {
			s.log.Error("mark idle cas failed", "host_id", h.ID, "error", err)
			return
		}
	}
	s.enqueueProviderStop(h)
}

func (s *Supervisor) exceedsMaxSessionHours(h *models.Host, dur time.Duration) bool {
	_, maxHours, ok := s.platforms.PlatformFamily(h.Platform)
	if !ok || maxHours <= 0 {
		return false
	}
	return dur.Hours() > maxHours
}

// enforceIdleThreshold stops a session that has sat IDLE (client disconnected,
// no activity) past cfg.IdleThreshold.
func (s *Supervisor) enforceIdleThreshold(h *models.Host, now time.Time) {
	if h.LastClientDisconnect == nil {
		return
	}
	if now.Sub(*h.LastClientDisconnect) < s.cfg.IdleThreshold {
		return
	}
	if _, err := s.hosts.CompareAndSetState(h.ID, []models.HostState{models.HostStateIdle}, models.HostStateStopped, "idle_threshold_exceeded", nil); err != nil {
		s.log.Error("idle-threshold stop failed", "host_id", h.ID, "error", err)
		return
	}
	s.enqueueProviderStop(h)
}

// enforceMaxSessionHours implements the hard-stop half of §4.5: a session
// that has run longer than the platform's max_session_hours is force-stopped
// regardless of activity. Returns true if it stopped the host.
func (s *Supervisor) enforceMaxSessionHours(h *models.Host, now time.Time) bool {
	if h.SessionStartedAt == nil {
		return false
	}
	_, maxHours, ok := s.platforms.PlatformFamily(h.Platform)
	if !ok || maxHours <= 0 {
		return false
	}
	if now.Sub(*h.SessionStartedAt).Hours() < maxHours {
		return false
	}
	s.forceStop(context.Background(), h, "max_session_hours_exceeded")
	return true
}

func (s *Supervisor) forceStop(ctx context.Context, h *models.Host, reason string) {
	applied, err := s.hosts.CompareAndSetState(h.ID, []models.HostState{models.HostStateRunning, models.HostStateIdle, models.HostStateReady}, models.HostStateStopped, reason, nil)
	if err != nil {
		s.log.Error("force-stop cas failed", "host_id", h.ID, "error", err)
		return
	}
	if !applied {
		return
	}
	metrics.SupervisorActions.WithLabelValues(reason).Inc()
	s.enqueueProviderStop(h)
}

// forceFail implements the matrix's 3rd-unhealthy-strike branch: transition
// to FAILED (never STOPPED — a FAILED host is not a clean, recoverable
// shutdown) and destroy the underlying instance, not just stop it.
func (s *Supervisor) forceFail(ctx context.Context, h *models.Host, reason string) {
	if _, err := s.hosts.CompareAndSetState(h.ID, []models.HostState{models.HostStateRunning, models.HostStateIdle, models.HostStateReady}, models.HostStateFailed, reason, nil); err != nil {
		s.log.Error("force-fail cas failed", "host_id", h.ID, "error", err)
		return
	}
	metrics.SupervisorActions.WithLabelValues(reason).Inc()
	s.enqueueProviderDestroy(h)
}

func (s *Supervisor) enqueueProviderStop(h *models.Host) {
	driver, ok := s.drivers[h.Provider]
	if !ok || h.ProviderHandle == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := driver.Stop(ctx, h.ProviderHandle); err != nil {
			s.log.Warn("supervisor-triggered stop failed", "host_id", h.ID, "error", err)
		}
	}()
}

func (s *Supervisor) enqueueProviderDestroy(h *models.Host) {
	driver, ok := s.drivers[h.Provider]
	if !ok || h.ProviderHandle == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := driver.Destroy(ctx, h.ProviderHandle); err != nil {
			s.log.Warn("supervisor-triggered destroy failed", "host_id", h.ID, "error", err)
		}
	}()
}

// longStoppedSweep implements §4.5's 24h-interval sweep that destroys hosts
// that have sat STOPPED past stopped_ttl (default 48h).
func (s *Supervisor) longStoppedSweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.StoppedTTL)
	hosts, err := s.hosts.ListStoppedOlderThan(cutoff)
	if err != nil {
		s.log.Error("long-stopped sweep: list failed", "error", err)
		return
	}
	for _, h := range hosts {
		if _, err := s.hosts.CompareAndSetState(h.ID, []models.HostState{models.HostStateStopped}, models.HostStateDestroyed, "stopped_ttl_exceeded", nil); err != nil {
			s.log.Error("long-stopped destroy cas failed", "host_id", h.ID, "error", err)
			continue
		}
		driver, ok := s.drivers[h.Provider]
		if !ok || h.ProviderHandle == "" {
			continue
		}
		go func(handle string, d hostdriver.HostDriver) {
			dctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := d.Destroy(dctx, handle); err != nil {
				s.log.Warn("long-stopped destroy adapter call failed", "provider_handle", handle, "error", err)
			}
		}(h.ProviderHandle, driver)
	}
}

// CheckSpendCap implements the SPEC_FULL.md §D.3 spend-cap check: a soft cap
// records a warning event; a hard cap force-stops every READY, RUNNING or
// IDLE host. Hosts still in NEW, CREATING or CONFIGURING are not stopped.
// The caller supplies currentSpend; neither Run nor any other code in this
// repository calls CheckSpendCap.
func (s *Supervisor) CheckSpendCap(ctx context.Context, windowStart, windowEnd time.Time, currentSpend float64) error {
	if s.cfg.SpendCapHard > 0 && currentSpend >= s.cfg.SpendCapHard {
		return s.drainAll(ctx, "spend_cap_hard_exceeded")
	}
	if s.cfg.SpendCapSoft > 0 && currentSpend >= s.cfg.SpendCapSoft {
		return s.recordSpendWarning(currentSpend)
	}
	return nil
}

// recordSpendWarning stamps the warning as a host_events row on every
// currently active host, since every event row carries a host_id. GET /billing
// does not return these rows.
func (s *Supervisor) recordSpendWarning(currentSpend float64) error {
	hosts, err := s.hosts.ListByStates(
		models.HostStateReady, models.HostStateRunning, models.HostStateIdle,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "list hosts for spend warning", err)
	}
	meta := map[string]interface{}{"spend": currentSpend, "cap": s.cfg.SpendCapSoft}
	for _, h := range hosts {
		if err := s.hosts.InsertEvent(h.ID, "spend_cap_soft_exceeded", meta); err != nil {
			s.log.Error("record spend warning failed", "host_id", h.ID, "error", err)
		}
	}
	return nil
}

func (s *Supervisor) drainAll(ctx context.Context, reason string) error {
	hosts, err := s.hosts.ListByStates(
		models.HostStateNew, models.HostStateCreating, models.HostStateConfiguring,
		models.HostStateReady, models.HostStateRunning, models.HostStateIdle,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "list hosts for drain", err)
	}
	for _, h := range hosts {
		s.forceStop(ctx, h, reason)
	}
	return nil
}
