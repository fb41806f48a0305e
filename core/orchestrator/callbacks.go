package orchestrator

import (
	"time"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/models"
)

// AgentCallback is the envelope every agent callback carries, per §4.4.3:
// each event is stamped with a per-host monotonically increasing sequence
// number used to suppress duplicate or out-of-order delivery.
type AgentCallback struct {
	HostID string
	Seq    int64
	At     time.Time
}

// HandleStarted implements the `started` callback: the agent has booted the
// platform image and accepted the client connection. CAS READY -> RUNNING and
// records the session start time (first-write-wins, per SetSessionStarted).
func (o *Orchestrator) HandleStarted(cb AgentCallback) error {
	h, err := o.hosts.GetHost(cb.HostID)
	if err != nil {
		return apperr.New(apperr.KindNotFound, "host not found")
	}
	if h.LastSeq >= cb.Seq && cb.Seq != 0 {
		return nil // duplicate or stale delivery, §4.4.3 dedup
	}

	if _, err := o.hosts.CompareAndSetState(cb.HostID, []models.HostState{models.HostStateReady}, models.HostStateRunning, "agent_started", nil); err != nil {
		return apperr.Wrap(apperr.KindInternal, "cas running", err)
	}
	if err := o.hosts.SetSessionStarted(cb.HostID, cb.At); err != nil {
		return apperr.Wrap(apperr.KindInternal, "set session started", err)
	}
	return o.hosts.TouchActivity(cb.HostID, cb.At)
}

// HandleSaveEvent implements the `save_event` callback: the agent reports
// cumulative playtime seconds for the current session. Applied idempotently
// via ApplySaveEvent's replace-not-increment GREATEST() semantics (§4.4.3,
// §8.7), so duplicate or reordered deliveries converge regardless of arrival
// order. Any agent activity callback arriving while the host is IDLE is also
// a wake-up signal, per §4.4's IDLE -> RUNNING transition.
func (o *Orchestrator) HandleSaveEvent(cb AgentCallback, accumulatedSeconds int64) error {
	if _, err := o.hosts.CompareAndSetState(cb.HostID, []models.HostState{models.HostStateIdle}, models.HostStateRunning, "agent_activity", nil); err != nil {
		return apperr.Wrap(apperr.KindInternal, "cas running", err)
	}
	if err := o.hosts.ApplySaveEvent(cb.HostID, accumulatedSeconds, cb.Seq); err != nil {
		return apperr.Wrap(apperr.KindInternal, "apply save_event", err)
	}
	return o.hosts.TouchActivity(cb.HostID, cb.At)
}

// HandleIdle implements the `idle` callback: the client disconnected or the
// platform reports no input activity. CAS RUNNING -> IDLE and records the
// disconnect time the Supervisor's idle-threshold sweep measures against.
func (o *Orchestrator) HandleIdle(cb AgentCallback) error {
	if _, err := o.hosts.CompareAndSetState(cb.HostID, []models.HostState{models.HostStateRunning}, models.HostStateIdle, "agent_idle", nil); err != nil {
		return apperr.Wrap(apperr.KindInternal, "cas idle", err)
	}
	return o.hosts.SetLastClientDisconnect(cb.HostID, cb.At)
}

// HandleEnded implements the `ended` callback: the agent is shutting the
// platform process down cleanly (distinct from the Supervisor force-stopping
// an unhealthy host). CAS {RUNNING, IDLE} -> STOPPED and schedules the
// provider-level stop.
func (o *Orchestrator) HandleEnded(cb AgentCallback) error {
	h, err := o.hosts.GetHost(cb.HostID)
	if err != nil {
		return apperr.New(apperr.KindNotFound, "host not found")
	}

	applied, err := o.hosts.CompareAndSetState(cb.HostID, []models.HostState{models.HostStateRunning, models.HostStateIdle}, models.HostStateStopped, "agent_ended", nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "cas stopped", err)
	}
	if !applied {
		return nil
	}
	o.enqueueStop(h)
	return nil
}
