package models

import "time"

// Tier is a coarse capability class determining default vCPU/RAM/GPU requirements.
type Tier string

const (
	TierLow  Tier = "T_LOW"
	TierMid  Tier = "T_MID"
	TierHigh Tier = "T_HIGH"
)

// Provider identifies one of the two supported fleet providers.
type Provider string

const (
	ProviderP1 Provider = "P1"
	ProviderP2 Provider = "P2"
)

// HostState is the shared lifecycle vocabulary every provider adapter and
// the orchestrator translate into.
type HostState string

const (
	HostStateNew              HostState = "NEW"
	HostStateCreating         HostState = "CREATING"
	HostStateConfiguring      HostState = "CONFIGURING"
	HostStateReady            HostState = "READY"
	HostStateRunning          HostState = "RUNNING"
	HostStateIdle             HostState = "IDLE"
	HostStateStopped          HostState = "STOPPED"
	HostStateDestroyed        HostState = "DESTROYED"
	HostStateFailed           HostState = "FAILED"
	HostStateProvisionFailed  HostState = "PROVISION_FAILED"
	HostStateUnknown          HostState = "UNKNOWN"
)

// Terminal reports whether no further Orchestrator-issued transitions leave this state.
func (s HostState) Terminal() bool {
	switch s {
	case HostStateDestroyed, HostStateFailed, HostStateProvisionFailed:
		return true
	default:
		return false
	}
}

// Coord is a latitude/longitude pair.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Host is a single provisioned compute instance hosting one streaming session.
type Host struct {
	ID       string `json:"host_id"`
	Tier     Tier   `json:"tier"`
	Platform string `json:"platform"`

	Provider         Provider          `json:"provider"`
	ProviderHandle   string            `json:"provider_handle,omitempty"`
	ProviderMetadata map[string]string `json:"provider_metadata,omitempty"`

	Address   string `json:"address,omitempty"`
	AgentPort int    `json:"agent_port"`

	State           HostState  `json:"state"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	AutoStopTimeout time.Duration `json:"auto_stop_timeout"`

	UserCoord *Coord `json:"user_coord,omitempty"`

	EnvironmentReady bool `json:"environment_ready"`
	SavesMounted     bool `json:"saves_mounted"`

	UserID string `json:"user_id"`

	// Orchestration-internal bookkeeping, not part of the §3 entity proper
	// but required to implement the invariants the state machine enforces.
	UnhealthyStrikes       int        `json:"-"`
	LastClientDisconnect   *time.Time `json:"-"`
	LastError              string     `json:"last_error,omitempty"`
	SessionStartedAt       *time.Time `json:"-"`
	AccumulatedSeconds     int64      `json:"-"`
	LastSeq                int64      `json:"-"`
	SaveRef                string     `json:"save_ref,omitempty"`
}

// Validate enforces the §3 Host invariants that are checkable without a store round-trip.
func (h *Host) Validate() error {
	if h.State != HostStateCreating && h.State != HostStateNew && h.ProviderHandle == "" {
		return ErrMissingProviderHandle
	}
	if h.State == HostStateRunning && (h.Address == "" || !h.EnvironmentReady) {
		return ErrRunningRequiresAddress
	}
	return nil
}

var (
	ErrMissingProviderHandle  = simpleErr("provider_handle must be set for any state beyond CREATING")
	ErrRunningRequiresAddress = simpleErr("RUNNING requires a non-empty address and environment_ready=true")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
