package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/models"
	"github.com/cloudplay/fleet-control-plane/core/repository"
)

// PlatformHandler implements §6.1's PlatformProfile CRUD surface.
type PlatformHandler struct {
	platforms *repository.PlatformRepository
}

func NewPlatformHandler(platforms *repository.PlatformRepository) *PlatformHandler {
	return &PlatformHandler{platforms: platforms}
}

// ListPlatforms handles GET /platforms.
func (h *PlatformHandler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.platforms.List()
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInternal, "list platforms", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": profiles})
}

// GetPlatform handles GET /platforms/{platform}.
func (h *PlatformHandler) GetPlatform(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	p, err := h.platforms.Get(platform)
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, apperr.New(apperr.KindUnknownPlatform, "unknown platform"))
			return
		}
		writeError(w, apperr.Wrap(apperr.KindInternal, "get platform", err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutPlatform handles PUT /platforms/{platform}.
func (h *PlatformHandler) PutPlatform(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]

	var p models.PlatformProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}
	p.Platform = platform

	if err := p.Validate(); err != nil {
		writeError(w, apperr.New(apperr.KindBadRequest, err.Error()))
		return
	}

	if err := h.platforms.Upsert(&p); err != nil {
		writeError(w, apperr.Wrap(apperr.KindInternal, "upsert platform", err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
