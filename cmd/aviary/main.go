// Command aviary runs the browser-session orchestrator: the session
// registry, profile manager, admission gate, activity ledger, and the HTTP
// control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/aviary/pkg/activity"
	"github.com/odvcencio/aviary/pkg/api"
	"github.com/odvcencio/aviary/pkg/config"
	"github.com/odvcencio/aviary/pkg/dashboard"
	"github.com/odvcencio/aviary/pkg/dispatch"
	"github.com/odvcencio/aviary/pkg/gate"
	"github.com/odvcencio/aviary/pkg/logging"
	"github.com/odvcencio/aviary/pkg/profile"
	"github.com/odvcencio/aviary/pkg/session"
	"github.com/odvcencio/aviary/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "aviary: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addrOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addrOverride != "" {
		cfg.Server.Address = addrOverride
	}

	runID := time.Now().UTC().Format("20060102-150405")
	logger, err := logging.NewLogger(cfg.Logging.Dir, runID)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	hub := telemetry.NewHub()
	defer hub.Close()

	profiles := profile.NewManager(profile.Config{
		PersistentDir: cfg.Profile.PersistentDir,
		TempDir:       cfg.Profile.TempDir,
	}, hub, logger)

	meta, err := session.NewMetadataStore(cfg.Sessions.MetadataDir)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(meta, profiles, cfg.Sessions.MaxTabResults, hub, logger)
	admission := gate.New(hub)
	ledger := activity.NewLedger(cfg.Activity.RecentBufferSize, hub)

	handlers := dispatch.NewHandlerRegistry()
	if err := dispatch.RegisterBuiltins(handlers, registry); err != nil {
		return err
	}
	dispatcher := dispatch.NewDispatcher(handlers, registry, admission, ledger, logger)

	dispatch.RegisterSessionGauge(func() int {
		sessions, _, _ := registry.Counts()
		return sessions
	})

	collector := dashboard.NewCollector(registry, admission, ledger)

	server := api.NewServer(api.Config{
		Registry:   registry,
		Profiles:   profiles,
		Gate:       admission,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Collector:  collector,
		Hub:        hub,
		Logger:     logger,
		ProfileDefaults: api.ProfileDefaults{
			RealProfileDir:          cfg.Profile.RealProfileDir,
			AllowPersistentFallback: cfg.Profile.AllowPersistentFallback,
			AllowTempFallback:       cfg.Profile.AllowTempFallback,
		},
	})

	// Clear anything a previous run left behind before serving.
	if removed := registry.SweepStale(cfg.Sessions.StaleAge); removed > 0 {
		logger.Info(logging.CategorySweep, "startup_sweep", "", map[string]any{"removed": removed})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(cfg.Server.Address)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Sessions.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				registry.SweepStale(cfg.Sessions.StaleAge)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
