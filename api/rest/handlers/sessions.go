// Package handlers implements the §6.1/§6.2 REST surface, grounded on the
// teacher's JobHandler (request decode -> repository/orchestrator call ->
// JSON encode), adapted from job-submission semantics to session lifecycle.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/models"
	"github.com/cloudplay/fleet-control-plane/core/orchestrator"
)

// SessionHandler handles POST/GET/stop/destroy against /sessions, per §6.1.
type SessionHandler struct {
	orch *orchestrator.Orchestrator
}

func NewSessionHandler(orch *orchestrator.Orchestrator) *SessionHandler {
	return &SessionHandler{orch: orch}
}

type requestSessionBody struct {
	UserID    string       `json:"user_id"`
	Platform  string       `json:"platform"`
	UserCoord *models.Coord `json:"user_coord,omitempty"`
	SaveRef   string       `json:"save_ref,omitempty"`
}

// RequestSession handles POST /sessions.
func (h *SessionHandler) RequestSession(w http.ResponseWriter, r *http.Request) {
	var body requestSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}
	if body.UserID == "" || body.Platform == "" {
		writeError(w, apperr.New(apperr.KindBadRequest, "user_id and platform are required"))
		return
	}
	if body.UserCoord != nil {
		if body.UserCoord.Lat < -90 || body.UserCoord.Lat > 90 || body.UserCoord.Lon < -180 || body.UserCoord.Lon > 180 {
			writeError(w, apperr.New(apperr.KindBadCoord, "user_coord out of domain"))
			return
		}
	}

	host, err := h.orch.RequestSession(r.Context(), body.UserID, body.Platform, body.UserCoord, body.SaveRef)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, host)
}

// DescribeSession handles GET /sessions/{host_id}.
func (h *SessionHandler) DescribeSession(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	host, err := h.orch.DescribeSession(hostID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, host)
}

// StopSession handles POST /sessions/{host_id}/stop.
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	if err := h.orch.StopSession(r.Context(), hostID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DestroySession handles DELETE /sessions/{host_id}.
func (h *SessionHandler) DestroySession(w http.ResponseWriter, r *http.Request) {
	hostID := mux.Vars(r)["host_id"]
	if err := h.orch.DestroySession(r.Context(), hostID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeJSON is a small shared helper mirroring the teacher's inline
// w.Header/WriteHeader/Encode sequence at every handler call site.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the §6.1 error envelope: {"error": "<kind>", "detail": "<string>"}.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = &apperr.Error{Kind: apperr.KindInternal, Message: err.Error()}
	}
	ae2 := apperr.AtAPIEdge(ae)
	var final *apperr.Error
	errors.As(ae2, &final)
	writeJSON(w, apperr.HTTPStatus(final), errorBody{Error: string(final.Kind), Detail: final.Message})
}
