package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"scrapcore/internal/browsersession"
	"scrapcore/internal/config"
	"scrapcore/internal/correlation"
	"scrapcore/internal/eventbus"
	"scrapcore/internal/recorder"
	"scrapcore/internal/resourcemon"
	"scrapcore/internal/scheduler"
	"scrapcore/internal/selector"
	"scrapcore/internal/selectorconfig"
	"scrapcore/internal/snapshot"
	"scrapcore/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to the scrapcore config file (overrides workspace config)")
	snapshotsDir := flag.String("snapshots-dir", "", "Override the configured snapshot output directory")
	noWorkspace := flag.Bool("no-workspace", false, "Disable .scrapcore/ workspace discovery")
	workspaceDir := flag.String("workspace-dir", "", "Explicit workspace root (skip walk-up discovery)")
	initWorkspace := flag.Bool("init-workspace", false, "Create .scrapcore/ template in current directory and exit")
	flag.Parse()

	if *initWorkspace {
		root := "."
		if *workspaceDir != "" {
			root = *workspaceDir
		}
		if err := config.InitWorkspace(root); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		log.Printf("created .scrapcore/ workspace in %s", root)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	}

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, opts)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if wsDir != "" {
		log.Printf("using workspace config from %s", wsDir)
	}
	if *snapshotsDir != "" {
		cfg.Snapshot.Dir = *snapshotsDir
	}

	if cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			log.SetOutput(io.Discard)
		}
	}

	bus := eventbus.New()

	trace, err := recorder.New("data/traces")
	if err != nil {
		log.Printf("flight recorder: failed to initialize: %v", err)
	} else if err := trace.Start(bus, cfg.Server.Name); err != nil {
		log.Printf("flight recorder: failed to start: %v", err)
	} else {
		defer trace.Stop()
	}

	selectorStore := selectorconfig.NewStore()
	if cfg.Selectors.Dir != "" {
		snap, err := selectorconfig.Load(cfg.Selectors.Dir)
		if err != nil {
			log.Printf("selector descriptors: failed to load %s: %v", cfg.Selectors.Dir, err)
		} else {
			selectorStore.Swap(snap)
		}
	}
	engine := selector.New(selectorStore, bus)
	log.Printf("selector engine ready (%d descriptors loaded)", len(selectorStore.Active().Names()))
	_ = engine // held for the operation surface that drives Resolve/Interact; not invoked directly from this entry point

	sessionStore, err := storage.New(cfg.Browser.SessionStore, bus)
	if err != nil {
		log.Fatalf("failed to initialize session store: %v", err)
	}

	sessionManager := browsersession.New(cfg.Browser, bus, sessionStore)
	if cfg.Browser.AutoStart {
		if err := sessionManager.Start(ctx); err != nil {
			log.Fatalf("failed to initialize browser session manager: %v", err)
		}
	} else {
		log.Printf("browser auto-start disabled; sessions must be created explicitly")
	}

	snapshotManager, err := snapshot.New(cfg.Snapshot.Dir, bus)
	if err != nil {
		log.Fatalf("failed to initialize snapshot manager: %v", err)
	}
	log.Printf("snapshot manager ready (dir=%s)", cfg.Snapshot.Dir)
	_ = snapshotManager // held for the operation surface that drives Capture/Replay; not invoked directly from this entry point

	kernel := scheduler.New(cfg.Scheduler)
	log.Printf("scheduler ready (max_concurrent_sessions=%d)", kernel.AvailableSessionSlots())

	if cfg.Resource.Enabled {
		monitor := resourcemon.New(cfg.Resource, bus, sessionManager, sessionManager, 0, cfg.Snapshot.Dir)
		go monitor.Run(ctx)
	}

	startupID := correlation.New()
	log.Printf("scrapcore %s started (correlation_id=%s)", cfg.Server.Version, startupID)

	<-ctx.Done()

	shutdownID := correlation.New()
	log.Printf("shutting down (correlation_id=%s)", shutdownID)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.CreateSessionTimeoutDuration())
	defer cancel()
	if err := sessionManager.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("session manager shutdown reported errors: %v", err)
	}
}
