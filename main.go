// Package main implements a one-shot job that checks npm dist-tags for new
// versions and posts Discord webhook notifications when they change.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"npm-release-notifier/avatar"
	"npm-release-notifier/compose"
	"npm-release-notifier/config"
	"npm-release-notifier/poll"
	"npm-release-notifier/registry"
	"npm-release-notifier/state"
	"npm-release-notifier/storage"
	"npm-release-notifier/webhook"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout is reserved for the emitted state document.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return 1
	}
	level.Set(cfg.LogLevel)

	backend, err := storage.Open(ctx, cfg.StatePath, storage.Options{
		GoogleCredentialsJSON: cfg.GoogleCredentialsJSON,
	}, logger)
	if err != nil {
		if storage.IsInvalidLocation(err) {
			logger.Error("Invalid STATE_PATH", "location", cfg.StatePath, "error", err)
			return 1
		}
		// Without history every target counts as first seen.
		logger.Warn("Failed to open state storage, continuing with empty state",
			"location", cfg.StatePath,
			"error", err)
		backend = storage.NewMemory()
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("Failed to close state storage", "error", err)
		}
	}()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	profiles := registry.NewProfileClient(httpClient, cfg.ProfileURL, cfg.ProfileRate, logger)
	avatars := avatar.New(backend, profiles, logger)
	avatars.Load(ctx)

	states := state.New(backend, logger)
	states.Load(ctx)

	var sender webhook.Provider
	if cfg.DryRun {
		logger.Info("Dry run enabled, notifications will only be logged")
		sender = webhook.NewMockProvider(logger)
	} else {
		sender = webhook.NewDiscordProvider(httpClient, cfg.WebhookURL, logger)
	}

	monitor := poll.New(
		registry.New(httpClient, cfg.RegistryURL, logger),
		states,
		compose.New(cfg.Templates, avatars, logger),
		sender,
		avatars,
		logger,
	)

	start := time.Now()
	summary, err := monitor.CheckAll(ctx, cfg.Targets)
	if err != nil {
		logger.Warn("Run interrupted", "error", err)
	}

	if summary.Changed() {
		logger.Info("Updates sent", "changed", summary.Count(poll.Changed), "duration_ms", time.Since(start).Milliseconds())
		if cfg.EmitState {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(states.Snapshot()); err != nil {
				logger.Warn("Failed to emit state", "error", err)
			}
		}
	} else {
		logger.Info("No updates detected", "duration_ms", time.Since(start).Milliseconds())
	}

	return 0
}
