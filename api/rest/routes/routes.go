// Package routes wires the HTTP surface of SPEC_FULL.md §6.1/§6.2 onto a
// gorilla/mux router, grounded on the teacher's SetupRoutes subrouter layout.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudplay/fleet-control-plane/api/rest/handlers"
	"github.com/cloudplay/fleet-control-plane/core/billing"
	"github.com/cloudplay/fleet-control-plane/core/orchestrator"
	"github.com/cloudplay/fleet-control-plane/core/placement"
	"github.com/cloudplay/fleet-control-plane/core/repository"
)

// Deps bundles the collaborators SetupRoutes wires into handlers.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Platforms    *repository.PlatformRepository
	Optimizer    *placement.Optimizer
	Billing      *billing.Rollup
	CORSOrigins  []string
}

// SetupRoutes configures the public API, the agent callback API, and the
// operational endpoints (/metrics, /healthz).
func SetupRoutes(r *mux.Router, deps Deps) {
	sessionHandler := handlers.NewSessionHandler(deps.Orchestrator)
	platformHandler := handlers.NewPlatformHandler(deps.Platforms)
	placementHandler := handlers.NewPlacementHandler(deps.Optimizer, deps.Platforms)
	billingHandler := handlers.NewBillingHandler(deps.Billing)
	callbackHandler := handlers.NewCallbackHandler(deps.Orchestrator)

	r.Use(corsMiddleware(deps.CORSOrigins))

	r.HandleFunc("/sessions", sessionHandler.RequestSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{host_id}", sessionHandler.DescribeSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{host_id}/stop", sessionHandler.StopSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{host_id}", sessionHandler.DestroySession).Methods(http.MethodDelete)

	r.HandleFunc("/platforms", platformHandler.ListPlatforms).Methods(http.MethodGet)
	r.HandleFunc("/platforms/{platform}", platformHandler.GetPlatform).Methods(http.MethodGet)
	r.HandleFunc("/platforms/{platform}", platformHandler.PutPlatform).Methods(http.MethodPut)

	r.HandleFunc("/placements/candidates", placementHandler.ListCandidates).Methods(http.MethodGet)
	r.HandleFunc("/billing", billingHandler.GetBilling).Methods(http.MethodGet)

	r.HandleFunc("/hosts/{vm_token}/manifest", callbackHandler.GetManifest).Methods(http.MethodGet)
	r.HandleFunc("/hosts/{host_id}/started", callbackHandler.Started).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{host_id}/save_event", callbackHandler.SaveEvent).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{host_id}/idle", callbackHandler.Idle).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{host_id}/ended", callbackHandler.Ended).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// corsMiddleware is hand-rolled mux middleware: no CORS library appears
// anywhere in the retrieved example pack, so this is one of the few
// stdlib-only ambient surfaces (see DESIGN.md).
func corsMiddleware(allowedOrigins []string) mux.MiddlewareFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
