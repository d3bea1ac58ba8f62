package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anagora/agora-bridge/internal/archive"
	"github.com/anagora/agora-bridge/internal/bridge"
	"github.com/anagora/agora-bridge/internal/bus"
	"github.com/anagora/agora-bridge/internal/channels"
	"github.com/anagora/agora-bridge/internal/channels/mastodon"
	"github.com/anagora/agora-bridge/internal/channels/telegram"
	"github.com/anagora/agora-bridge/internal/config"
	"github.com/anagora/agora-bridge/internal/gateway"
	"github.com/anagora/agora-bridge/internal/ledger"
	"github.com/anagora/agora-bridge/internal/optin"
	"github.com/anagora/agora-bridge/internal/reply"
	"github.com/anagora/agora-bridge/internal/sched"
	"github.com/anagora/agora-bridge/internal/telemetry"
)

func runBridge() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Load config
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Flag overrides beat both file and env.
	if outputDir != "" {
		cfg.Agora.OutputDir = outputDir
	}
	if dryRun {
		cfg.Agora.DryRun = true
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(flushCtx)
	}()

	msgBus := bus.New()

	// Dedup ledger. No output dir means the bridge observes but never
	// replies.
	var store ledger.Store
	if cfg.Agora.OutputDir == "" {
		slog.Warn("no output dir configured: observing only, no replies will be posted")
	} else {
		switch cfg.Ledger.Backend {
		case "sqlite":
			store, err = ledger.NewSQLiteStore(cfg.Ledger.Path)
		default:
			store, err = ledger.NewFileStore(cfg.Agora.OutputDir)
		}
		if err != nil {
			slog.Error("failed to open ledger", "backend", cfg.Ledger.Backend, "error", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	var archiver *archive.Archiver
	if cfg.Agora.OutputDir != "" {
		archiver, err = archive.New(filepath.Join(cfg.Agora.OutputDir, "stream"))
		if err != nil {
			slog.Error("failed to open archive dir", "error", err)
			os.Exit(1)
		}
	}

	// Platform channels
	manager := channels.NewManager(msgBus, cfg.Channels.Mastodon.RateLimitRPM)

	var followers reply.FollowerChecker
	if cfg.Channels.Mastodon.Enabled {
		mc := mastodon.New(cfg.Channels.Mastodon, msgBus)
		manager.RegisterChannel(mc.Name(), mc)
		followers = mc
	}
	if cfg.Channels.Telegram.Enabled {
		tc, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("failed to create telegram channel", "error", err)
			os.Exit(1)
		}
		manager.RegisterChannel(tc.Name(), tc)
	}

	// Hint policy is left nil so the engine derives it from the config on
	// every message; the fsnotify reload then applies to hints too.
	engine := bridge.New(bridge.Deps{
		Config:   cfg,
		Store:    store,
		Optin:    optin.NewResolver(store, cfg.AllowlistCopy),
		Composer: reply.NewComposer(cfg.Agora.BaseURL, followers),
		Archiver: archiver,
		Events:   msgBus,
		Outbound: msgBus.PublishOutbound,
	})

	go consumeInboundMessages(ctx, msgBus, engine)

	if err := manager.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}

	if catchUp || cfg.Channels.Mastodon.CatchUp {
		go func() {
			if err := manager.CatchUpAll(ctx); err != nil {
				slog.Warn("startup catch-up failed", "error", err)
			}
		}()
	}

	// Background jobs
	scheduler := sched.New()
	if cfg.Bot.FollowBack {
		if err := scheduler.Add(sched.Job{Name: "follow-back", Expr: cfg.Sched.FollowBackCron, Run: manager.FollowBackAll}); err != nil {
			slog.Error("bad schedule", "error", err)
			os.Exit(1)
		}
	}
	if cfg.Channels.Mastodon.CatchUp {
		if err := scheduler.Add(sched.Job{Name: "catch-up", Expr: cfg.Sched.CatchUpCron, Run: manager.CatchUpAll}); err != nil {
			slog.Error("bad schedule", "error", err)
			os.Exit(1)
		}
	}
	go scheduler.Run(ctx)

	// Live policy reload
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		go func() {
			if err := cfg.WatchPolicy(ctx, cfgPath); err != nil && ctx.Err() == nil {
				slog.Warn("config watcher exited", "error", err)
			}
		}()
	}

	// Ops surface
	if cfg.Gateway.Enabled {
		gw := gateway.NewServer(cfg, msgBus, manager)
		go func() {
			if err := gw.Start(ctx); err != nil {
				slog.Error("gateway failed", "error", err)
			}
		}()
	}

	slog.Info("bridge running",
		"agora", cfg.Agora.BaseURL,
		"output_dir", cfg.Agora.OutputDir,
		"dry_run", cfg.Agora.DryRun,
	)

	<-ctx.Done()
	slog.Info("shutting down")
	msgBus.Broadcast(bus.Event{Name: bus.EventShutdown})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.StopAll(shutdownCtx)
}
