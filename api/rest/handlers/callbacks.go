package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/orchestrator"
)

// CallbackHandler implements the §6.2 Agent Callback API: manifest fetch plus
// the four lifecycle callbacks, each idempotent on monotonic_seq.
type CallbackHandler struct {
	orch *orchestrator.Orchestrator
}

func NewCallbackHandler(orch *orchestrator.Orchestrator) *CallbackHandler {
	return &CallbackHandler{orch: orch}
}

// GetManifest handles GET /hosts/{vm_token}/manifest. vm_token is the Host ID
// in this implementation — the agent authenticates with a per-host bearer
// token issued at create time, out of scope for this control plane (§1's
// end-user-auth Non-goal).
func (h *CallbackHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["vm_token"]
	manifest, err := h.orch.GetManifest(r.Context(), hostID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

type startedBody struct {
	StartedAt time.Time `json:"started_at"`
	Seq       int64     `json:"seq"`
}

// Started handles POST /hosts/{host_id}/started.
func (h *CallbackHandler) Started(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	var body startedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}
	at := body.StartedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := h.orch.HandleStarted(orchestrator.AgentCallback{HostID: hostID, Seq: body.Seq, At: at}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type saveEventBody struct {
	WallClock              time.Time `json:"wall_clock"`
	SaveSlotID             string    `json:"save_slot_id"`
	BaseAccumulatedSeconds int64     `json:"base_accumulated_seconds"`
	Seq                    int64     `json:"seq"`
}

// SaveEvent handles POST /hosts/{host_id}/save_event. Per §4.4.3, the
// reported accumulated_seconds is derived as
// base_accumulated_seconds + (wall_clock - session_started_at); the repository's
// GREATEST()-based ApplySaveEvent makes the eventual write order-independent.
func (h *CallbackHandler) SaveEvent(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	var body saveEventBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}

	session, err := h.orch.DescribeSession(hostID)
	if err != nil {
		writeError(w, err)
		return
	}

	accumulated := body.BaseAccumulatedSeconds
	if session.SessionStartedAt != nil && !body.WallClock.IsZero() {
		elapsed := int64(body.WallClock.Sub(*session.SessionStartedAt).Seconds())
		if elapsed > 0 {
			accumulated = body.BaseAccumulatedSeconds + elapsed
		}
	}

	if err := h.orch.HandleSaveEvent(orchestrator.AgentCallback{HostID: hostID, Seq: body.Seq, At: time.Now()}, accumulated); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type idleBody struct {
	LastClientDisconnect time.Time `json:"last_client_disconnect"`
	Seq                  int64     `json:"seq"`
}

// Idle handles POST /hosts/{host_id}/idle.
func (h *CallbackHandler) Idle(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	var body idleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}
	at := body.LastClientDisconnect
	if at.IsZero() {
		at = time.Now()
	}
	if err := h.orch.HandleIdle(orchestrator.AgentCallback{HostID: hostID, Seq: body.Seq, At: at}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type endedBody struct {
	EndedAt time.Time `json:"ended_at"`
	Seq     int64     `json:"seq"`
}

// Ended handles POST /hosts/{host_id}/ended.
func (h *CallbackHandler) Ended(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	var body endedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}
	at := body.EndedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := h.orch.HandleEnded(orchestrator.AgentCallback{HostID: hostID, Seq: body.Seq, At: at}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
