// Package orchestrator implements the Session Orchestrator of §4.4: the
// stateful service owning the Host state machine, the public session API,
// the background provisioning task, and the agent-callback API. Grounded on
// the teacher's Scheduler (core/scheduler/scheduler.go), which wires
// repository + optimizer + provisioner + executor the same way and drives a
// status-transition-with-reason-logging background goroutine per job.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/hostdriver"
	"github.com/cloudplay/fleet-control-plane/core/manifest"
	"github.com/cloudplay/fleet-control-plane/core/models"
	"github.com/cloudplay/fleet-control-plane/core/placement"
)

// HostStore is the subset of the host repository the Orchestrator depends on.
type HostStore interface {
	CreateHost(h *models.Host) error
	GetHost(id string) (*models.Host, error)
	CompareAndSetState(hostID string, fromStates []models.HostState, toState models.HostState, reason string, meta map[string]interface{}) (bool, error)
	UpdateProvisioningFields(hostID, providerHandle string, providerMetadata map[string]string, address string, environmentReady bool) error
	RecordLastError(hostID, lastError string) error
	TouchActivity(hostID string, at time.Time) error
	SetSessionStarted(hostID string, at time.Time) error
	SetLastClientDisconnect(hostID string, since time.Time) error
	ApplySaveEvent(hostID string, accumulatedSeconds int64, seq int64) error
	FindActiveByUserAndPlatform(userID, platform string) (*models.Host, error)
}

// PlatformStore is the subset of the platform repository the Orchestrator depends on.
type PlatformStore interface {
	Get(platform string) (*models.PlatformProfile, error)
}

// RateLookup is the subset of the rate table the Orchestrator depends on for
// the §4.4.1 step-3 hourly_cost_cap check.
type RateLookup interface {
	Rate(key models.RateKey) (float64, bool)
}

// LocationOptimizer is the subset of the Location Optimizer the provisioning
// task depends on.
type LocationOptimizer interface {
	RankP1(ctx context.Context, userCoord *models.Coord, minima placement.Minima) ([]placement.Placement, error)
	RankP2(ctx context.Context, userCoord models.Coord) ([]placement.Placement, error)
}

// Drivers resolves a provider's HostDriver implementation.
type Drivers map[models.Provider]hostdriver.HostDriver

// Config carries the tunables SPEC_FULL.md §E groups under `provisioning` and
// per-tier ceilings.
type Config struct {
	MaxInFlightProvisioning int
	WaitReadyCeiling        map[models.Tier]time.Duration
	RetryInitialBackoff     time.Duration
	RetryFactor             float64
	RetryMaxBackoff         time.Duration
	RetryMaxAttempts        int
	DefaultAgentPort        int
}

func DefaultConfig() Config {
	return Config{
		MaxInFlightProvisioning: 32,
		WaitReadyCeiling: map[models.Tier]time.Duration{
			models.TierLow:  10 * time.Minute,
			models.TierMid:  10 * time.Minute,
			models.TierHigh: 15 * time.Minute,
		},
		RetryInitialBackoff: 2 * time.Second,
		RetryFactor:         2,
		RetryMaxBackoff:     30 * time.Second,
		RetryMaxAttempts:    3,
		DefaultAgentPort:    9443,
	}
}

// Orchestrator owns the Host lifecycle state machine.
type Orchestrator struct {
	hosts     HostStore
	platforms PlatformStore
	rates     RateLookup
	optimizer LocationOptimizer
	drivers   Drivers
	cfg       Config
	log       *slog.Logger

	// sem bounds in-flight provisioning tasks (§9): a buffered channel used
	// as a non-blocking semaphore. A full channel means the pool is at
	// capacity; request_session returns 503 immediately rather than queueing.
	sem chan struct{}
}

func New(hosts HostStore, platforms PlatformStore, rates RateLookup, optimizer LocationOptimizer, drivers Drivers, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		hosts:     hosts,
		platforms: platforms,
		rates:     rates,
		optimizer: optimizer,
		drivers:   drivers,
		cfg:       cfg,
		log:       log,
		sem:       make(chan struct{}, cfg.MaxInFlightProvisioning),
	}
}

// RequestSession implements §4.4.1 request_session.
func (o *Orchestrator) RequestSession(ctx context.Context, userID, platform string, userCoord *models.Coord, saveRef string) (*models.Host, error) {
	profile, err := o.platforms.Get(platform)
	if err != nil {
		return nil, apperr.New(apperr.KindUnknownPlatform, fmt.Sprintf("unknown platform %q", platform))
	}

	if existing, err := o.hosts.FindActiveByUserAndPlatform(userID, platform); err == nil && existing != nil {
		if existing.State == models.HostStateStopped {
			if err := o.startExistingHost(ctx, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	pref, tier, err := o.selectProvider(profile)
	if err != nil {
		return nil, err
	}

	select {
	case o.sem <- struct{}{}:
	default:
		return nil, apperr.New(apperr.KindInsufficientProviders, "provisioning pool at capacity")
	}

	host := &models.Host{
		Tier:      tier,
		Platform:  platform,
		Provider:  pref.Provider,
		State:     models.HostStateCreating,
		UserCoord: userCoord,
		UserID:    userID,
		SaveRef:   saveRef,
		AgentPort: o.cfg.DefaultAgentPort,
	}

	if err := o.hosts.CreateHost(host); err != nil {
		<-o.sem
		return nil, apperr.Wrap(apperr.KindInternal, "persist host", err)
	}

	go func() {
		defer func() { <-o.sem }()
		o.runProvisioning(context.Background(), host, profile)
	}()

	return host, nil
}

// selectProvider walks the profile's preference list in priority order,
// skipping disabled entries and entries whose hourly_cost_cap is exceeded.
func (o *Orchestrator) selectProvider(profile *models.PlatformProfile) (models.ProviderPreference, models.Tier, error) {
	prefs := append([]models.ProviderPreference(nil), profile.ProviderPreferences...)
	sortByPriority(prefs)

	for _, pref := range prefs {
		if !pref.Enabled {
			continue
		}
		tier := profile.DefaultTier
		if pref.TierOverride != nil {
			tier = *pref.TierOverride
		}
		if pref.HourlyCostCap != nil {
			family := profile.PlatformFamily
			rate, ok := o.rates.Rate(models.RateKey{Tier: tier, PlatformFamily: family, Provider: pref.Provider})
			if ok && rate > *pref.HourlyCostCap {
				continue
			}
		}
		return pref, tier, nil
	}
	return models.ProviderPreference{}, "", apperr.New(apperr.KindInsufficientProviders, "every provider preference is disabled or capped out")
}

func sortByPriority(prefs []models.ProviderPreference) {
	for i := 1; i < len(prefs); i++ {
		for j := i; j > 0 && prefs[j].Priority < prefs[j-1].Priority; j-- {
			prefs[j], prefs[j-1] = prefs[j-1], prefs[j]
		}
	}
}

func (o *Orchestrator) startExistingHost(ctx context.Context, h *models.Host) error {
	applied, err := o.hosts.CompareAndSetState(h.ID, []models.HostState{models.HostStateStopped}, models.HostStateReady, "implicit_start_on_request", nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "restart stopped host", err)
	}
	if !applied {
		return nil // lost the race to a concurrent transition; caller's view is already stale-safe
	}
	driver, ok := o.drivers[h.Provider]
	if !ok {
		return apperr.New(apperr.KindInternal, "no driver for provider")
	}
	if err := driver.Start(ctx, h.ProviderHandle); err != nil {
		o.log.Error("restart failed", "host_id", h.ID, "error", err)
	}
	h.State = models.HostStateReady
	return nil
}

// StopSession implements §4.4.1 stop_session: CAS {RUNNING, IDLE, READY} ->
// STOPPED, idempotent.
func (o *Orchestrator) StopSession(ctx context.Context, hostID string) error {
	h, err := o.hosts.GetHost(hostID)
	if err != nil {
		return apperr.New(apperr.KindNotFound, "host not found")
	}
	if h.State == models.HostStateStopped {
		return nil
	}
	if h.State.Terminal() {
		return apperr.New(apperr.KindGone, "host is in a terminal state")
	}

	applied, err := o.hosts.CompareAndSetState(hostID, []models.HostState{models.HostStateRunning, models.HostStateIdle, models.HostStateReady}, models.HostStateStopped, "stop_requested", nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "cas stop", err)
	}
	if !applied {
		return nil // lost the race: another transition already won, treat as idempotent-ok
	}

	o.enqueueStop(h)
	return nil
}

// DestroySession implements §4.4.1 destroy_session: CAS any non-terminal ->
// DESTROYED, idempotent.
func (o *Orchestrator) DestroySession(ctx context.Context, hostID string) error {
	h, err := o.hosts.GetHost(hostID)
	if err != nil {
		return apperr.New(apperr.KindNotFound, "host not found")
	}
	if h.State == models.HostStateDestroyed {
		return nil
	}

	applied, err := o.hosts.CompareAndSetState(hostID, nonTerminalStates(), models.HostStateDestroyed, "destroy_requested", nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "cas destroy", err)
	}
	if !applied {
		return nil
	}

	o.enqueueDestroy(h)
	return nil
}

// DescribeSession returns the persisted Host record, no provider call.
func (o *Orchestrator) DescribeSession(hostID string) (*models.Host, error) {
	h, err := o.hosts.GetHost(hostID)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "host not found")
	}
	return h, nil
}

// GetManifest assembles the §6.3 SessionManifest for the agent's fetch callback.
func (o *Orchestrator) GetManifest(ctx context.Context, hostID string) (models.SessionManifest, error) {
	h, err := o.hosts.GetHost(hostID)
	if err != nil {
		return models.SessionManifest{}, apperr.New(apperr.KindNotFound, "host not found")
	}
	profile, err := o.platforms.Get(h.Platform)
	if err != nil {
		return models.SessionManifest{}, apperr.New(apperr.KindUnknownPlatform, "platform profile missing for host")
	}
	return manifest.BuildFor(profile, manifest.SessionInputs{
		SessionID: h.ID,
		HostID:    h.ID,
		UserID:    h.UserID,
		SaveRef:   h.SaveRef,
	})
}

func nonTerminalStates() []models.HostState {
	return []models.HostState{
		models.HostStateNew, models.HostStateCreating, models.HostStateConfiguring,
		models.HostStateReady, models.HostStateRunning, models.HostStateIdle, models.HostStateStopped,
	}
}

func (o *Orchestrator) enqueueStop(h *models.Host) {
	go func() {
		driver, ok := o.drivers[h.Provider]
		if !ok || h.ProviderHandle == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := driver.Stop(ctx, h.ProviderHandle); err != nil {
			o.log.Error("adapter stop failed", "host_id", h.ID, "error", err)
		}
	}()
}

func (o *Orchestrator) enqueueDestroy(h *models.Host) {
	go func() {
		driver, ok := o.drivers[h.Provider]
		if !ok || h.ProviderHandle == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := driver.Destroy(ctx, h.ProviderHandle); err != nil {
			o.log.Error("adapter destroy failed", "host_id", h.ID, "error", err)
		}
	}()
}
