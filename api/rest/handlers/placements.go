package handlers

import (
	"net/http"
	"strconv"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/models"
	"github.com/cloudplay/fleet-control-plane/core/placement"
	"github.com/cloudplay/fleet-control-plane/core/repository"
)

// PlacementHandler implements the side-effect-free §6.1 Optimizer query
// GET /placements/candidates.
type PlacementHandler struct {
	optimizer *placement.Optimizer
	platforms *repository.PlatformRepository
}

func NewPlacementHandler(optimizer *placement.Optimizer, platforms *repository.PlatformRepository) *PlacementHandler {
	return &PlacementHandler{optimizer: optimizer, platforms: platforms}
}

// ListCandidates handles GET /placements/candidates?provider=&lat=&lon=&platform=.
func (h *PlacementHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := models.Provider(q.Get("provider"))
	platformTag := q.Get("platform")

	var coord models.Coord
	var hasCoord bool
	if latStr, lonStr := q.Get("lat"), q.Get("lon"); latStr != "" && lonStr != "" {
		lat, err1 := strconv.ParseFloat(latStr, 64)
		lon, err2 := strconv.ParseFloat(lonStr, 64)
		if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			writeError(w, apperr.New(apperr.KindBadCoord, "lat/lon out of domain"))
			return
		}
		coord = models.Coord{Lat: lat, Lon: lon}
		hasCoord = true
	}

	switch provider {
	case models.ProviderP1:
		minima := placement.Minima{}
		if platformTag != "" {
			if p, err := h.platforms.Get(platformTag); err == nil {
				minima = placement.Minima{MinVCPU: p.MinVCPU, MinMemoryGiB: p.MinMemoryGiB, MinGPUCount: p.MinGPUCount}
			}
		}
		var userCoord *models.Coord
		if hasCoord {
			userCoord = &coord
		}
		placements, err := h.optimizer.RankP1(r.Context(), userCoord, minima)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": placements})
	case models.ProviderP2:
		placements, err := h.optimizer.RankP2(r.Context(), coord)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": placements})
	default:
		writeError(w, apperr.New(apperr.KindBadRequest, "provider must be P1 or P2"))
	}
}
