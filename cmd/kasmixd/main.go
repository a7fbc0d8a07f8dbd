package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"kasmix/internal/api"
	"kasmix/internal/bridge"
	"kasmix/internal/chainadapter"
	"kasmix/internal/coinjoin"
	"kasmix/internal/config"
	"kasmix/internal/control"
	"kasmix/internal/logging"
	"kasmix/internal/mixer"
	"kasmix/internal/scheduler"
	"kasmix/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("kasmixd %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: kasmixd <command>

Commands:
  serve     Start the Control Surface API, the CoinJoin Bridge, and the
            background scheduler
  version   Print version information
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting kasmixd",
		"version", version,
		"network", cfg.Network,
		"port", cfg.Port,
		"dbPath", cfg.DBPath,
		"logLevel", cfg.LogLevel,
	)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	slog.Info("store opened", "path", cfg.DBPath)

	chain := chainadapter.NewClient(cfg.NodeURL, cfg.NodeReconnectMin, cfg.NodeReconnectMax)
	defer chain.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), config.RPCRequestTimeout)
	if err := chain.Ping(pingCtx); err != nil {
		slog.Warn("node unreachable at startup, will keep retrying lazily", "url", cfg.NodeURL, "error", err)
	}
	pingCancel()

	mixerEngine := mixer.New(st, chain, cfg.Network, cfg.IntermediateDelay)
	coinjoinEngine := coinjoin.New(st, chain)
	surface := control.New(st, mixerEngine, coinjoinEngine, cfg.Network)

	hub := bridge.NewHub()
	bridgeServer := bridge.NewServer(hub)

	hubStop := make(chan struct{})
	go hub.Run(hubStop)
	defer close(hubStop)

	statsEvents := surface.Subscribe()
	go logStatsSnapshots(statsEvents)
	defer surface.Unsubscribe(statsEvents)

	router := api.NewRouter(cfg, surface, bridgeServer)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	sched := scheduler.New([]scheduler.Task{
		{
			Name:     "mixer_deposit_watch",
			Interval: config.DepositWatchTickPeriod,
			Run:      mixerEngine.TickDeposits,
		},
		{
			Name:     "mixer_intermediate_watch",
			Interval: config.IntermediateWatchTickPeriod,
			Run:      mixerEngine.TickIntermediates,
		},
		{
			Name:     "coinjoin_round_formation",
			Interval: config.SchedulerTickPeriod,
			Run:      func(context.Context) error { return coinjoinEngine.TickRounds() },
		},
		{
			Name:     "bridge_idle_sweep",
			Interval: config.RoundIdleTimeout,
			Run: func(context.Context) error {
				stale := hub.SweepIdleRounds()
				if len(stale) > 0 {
					slog.Info("bridge idle sweep aborted rounds", "rounds", stale)
				}
				return nil
			},
		},
		{
			Name:     "bridge_signature_stall_sweep",
			Interval: config.SignatureWaitTimeout,
			Run: func(context.Context) error {
				stalled := hub.SweepStalledSignaturePhase()
				if len(stalled) > 0 {
					slog.Info("bridge signature stall sweep aborted rounds", "rounds", stalled)
				}
				return nil
			},
		},
		{
			Name:     "stats_snapshot",
			Interval: config.StatsSnapshotInterval,
			Run: func(context.Context) error {
				if result := surface.Stats(); !result.OK {
					return fmt.Errorf("stats snapshot: %s", result.Message)
				}
				return nil
			},
		},
	})

	sched.Start(context.Background())

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// logStatsSnapshots turns stats-snapshot breadcrumbs from the Control
// Surface's event bus into structured log lines. It is the only consumer:
// this never becomes a new external API surface (§5 "Supplemented features").
func logStatsSnapshots(events <-chan control.Event) {
	for event := range events {
		slog.Info("stats snapshot", "type", event.Type, "data", event.Data)
	}
}
