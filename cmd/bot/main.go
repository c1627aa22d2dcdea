package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"whistleblower/internal/bot"
	"whistleblower/internal/config"
	"whistleblower/internal/matcher"
	"whistleblower/internal/notify"
	"whistleblower/internal/queue"
	"whistleblower/internal/server"
	"whistleblower/internal/slackclient"
	"whistleblower/internal/storage"
	"whistleblower/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	backend, err := storage.ParseDSN(cfg.DatabaseURL)
	if err != nil {
		log.Error("parse database url", "error", err)
		os.Exit(1)
	}
	if backend.Driver == "sqlite" && backend.Source != ":memory:" {
		if dir := filepath.Dir(backend.Source); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				log.Error("create data directory", "path", dir, "error", err)
				os.Exit(1)
			}
		}
	}

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", "driver", backend.Driver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api := slackclient.New(cfg.SlackBotToken, log)
	b := bot.New(
		api,
		bot.NewIdentity(api),
		subscription.New(store, log),
		matcher.New(store),
		notify.New(store, api, cfg.NotifyConcurrency, log),
		cfg,
		log,
	)

	pool := queue.New(b, cfg.Workers, cfg.QueueSize, log)
	srv := server.New(store, pool, cfg.SlackSigningSecret, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "driver", backend.Driver, "addr", cfg.ListenAddr, "workers", cfg.Workers)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.Run(ctx, cfg.ListenAddr)
	})

	if err := g.Wait(); err != nil {
		log.Error("bot stopped", "error", err)
		os.Exit(1)
	}

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
