package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloudplay/fleet-control-plane/api/rest/routes"
	"github.com/cloudplay/fleet-control-plane/config"
	"github.com/cloudplay/fleet-control-plane/core/agentclient"
	"github.com/cloudplay/fleet-control-plane/core/billing"
	"github.com/cloudplay/fleet-control-plane/core/external"
	"github.com/cloudplay/fleet-control-plane/core/geocoder"
	"github.com/cloudplay/fleet-control-plane/core/models"
	"github.com/cloudplay/fleet-control-plane/core/orchestrator"
	"github.com/cloudplay/fleet-control-plane/core/placement"
	"github.com/cloudplay/fleet-control-plane/core/ratetable"
	"github.com/cloudplay/fleet-control-plane/core/repository"
	"github.com/cloudplay/fleet-control-plane/core/supervisor"
	"github.com/cloudplay/fleet-control-plane/logging"
	"github.com/cloudplay/fleet-control-plane/providers/p1"
	"github.com/cloudplay/fleet-control-plane/providers/p2"
)

func main() {
	cfg, err := config.Load(os.Getenv("FLEET_CONFIG_PATH"))
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}

	log := logging.New(cfg.Log)
	log.Info("starting", "app", cfg.App.Name, "environment", cfg.App.Environment)

	db, err := repository.NewDB(cfg.Persistence.DatabaseURL)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rates := ratetable.NewLoader(cfg.RateTablePath)
	if err := rates.Load(); err != nil {
		log.Error("load rate table", "path", cfg.RateTablePath, "error", err)
		os.Exit(1)
	}

	// SIGHUP reloads the rate file into the loader. The orchestrator and the
	// billing rollup built below hold the table loaded here at startup, so a
	// reload does not change their rates.
	hups := make(chan os.Signal, 1)
	signal.Notify(hups, syscall.SIGHUP)
	go func() {
		for range hups {
			if err := rates.Load(); err != nil {
				log.Error("reload rate table", "error", err)
				continue
			}
			log.Info("rate table reloaded")
		}
	}()

	gazetteer := external.NewHTTPGazetteer(cfg.External.GeocoderEndpoint, 5*time.Second)
	geo := geocoder.New(gazetteer, 5*time.Second)

	locationFinder := external.NewHTTPLocationFinder(cfg.External.LocationFinderEndpoint, cfg.External.LocationFinderProjectID, 5*time.Second)

	drivers := orchestrator.Drivers{}
	supervisorDrivers := supervisor.Drivers{}
	var inventory placement.Inventory

	if cfg.Providers.P1.Enabled {
		p1Client := p1.New(p1.Config{
			BaseURL: cfg.Providers.P1.APIBaseURL,
			Token:   cfg.P1Token(),
		})
		drivers[models.ProviderP1] = p1Client
		supervisorDrivers[models.ProviderP1] = p1Client
		inventory = p1Client
	}
	if cfg.Providers.P2.Enabled {
		p2Client := p2.New(cfg.Providers.P2.CLIBinaryPath, cfg.Providers.P2.CLIConfigPath)
		drivers[models.ProviderP2] = p2Client
		supervisorDrivers[models.ProviderP2] = p2Client
	}

	optimizer := placement.New(geo, inventory, locationFinder)

	hostRepo := repository.NewHostRepository(db)
	platformRepo := repository.NewPlatformRepository(db)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.MaxInFlightProvisioning = cfg.Provisioning.MaxInFlight
	if ceilings := cfg.WaitReadyCeilingDurations(); len(ceilings) > 0 {
		for tier, d := range ceilings {
			orchCfg.WaitReadyCeiling[models.Tier(tier)] = d
		}
	}

	orch := orchestrator.New(hostRepo, platformRepo, rates.Table(), optimizer, drivers, orchCfg, log)

	supCfg := supervisor.DefaultConfig()
	supCfg.LivenessInterval = cfg.Supervisor.LivenessInterval
	supCfg.LivenessJitter = cfg.Supervisor.LivenessJitter
	supCfg.IdleThreshold = cfg.Supervisor.IdleThreshold
	supCfg.StoppedTTL = cfg.Supervisor.StoppedTTL
	supCfg.SpendCapSoft = cfg.Supervisor.MonthlySoftCapUSD
	supCfg.SpendCapHard = cfg.Supervisor.MonthlyHardCapUSD

	sup := supervisor.New(hostRepo, platformRepo, supervisorDrivers, agentclient.New(), supCfg, log)

	rollup := billing.New(hostRepo, platformRepo, rates.Table())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sup.Run(ctx)

	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Deps{
		Orchestrator: orch,
		Platforms:    platformRepo,
		Optimizer:    optimizer,
		Billing:      rollup,
		CORSOrigins:  cfg.HTTP.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.BindAddress, cfg.HTTP.Port),
		Handler: r,
	}

	go func() {
		log.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("exited")
}
