package handlers

import (
	"net/http"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/apperr"
	"github.com/cloudplay/fleet-control-plane/core/billing"
	"github.com/cloudplay/fleet-control-plane/core/models"
)

// BillingHandler implements the read-only §6.1 GET /billing rollup.
type BillingHandler struct {
	rollup *billing.Rollup
}

func NewBillingHandler(rollup *billing.Rollup) *BillingHandler {
	return &BillingHandler{rollup: rollup}
}

// GetBilling handles GET /billing?from=&to=&provider=&user_id=.
func (h *BillingHandler) GetBilling(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	t0, t1, err := parseWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindBadRequest, err.Error()))
		return
	}

	var provider *models.Provider
	if raw := q.Get("provider"); raw != "" {
		p := models.Provider(raw)
		provider = &p
	}
	var userID *string
	if raw := q.Get("user_id"); raw != "" {
		userID = &raw
	}

	result, err := h.rollup.Compute(t0, t1, provider, userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInternal, "compute billing rollup", err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func parseWindow(fromStr, toStr string) (time.Time, time.Time, error) {
	t1 := time.Now()
	if toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		t1 = parsed
	}

	t0 := t1.AddDate(0, -1, 0)
	if fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		t0 = parsed
	}

	return t0, t1, nil
}
