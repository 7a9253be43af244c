package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nintendo-user96/Monika-sub000/internal/ai"
	"github.com/Nintendo-user96/Monika-sub000/internal/bot"
	"github.com/Nintendo-user96/Monika-sub000/internal/cache"
	"github.com/Nintendo-user96/Monika-sub000/internal/config"
	"github.com/Nintendo-user96/Monika-sub000/internal/discord"
	"github.com/Nintendo-user96/Monika-sub000/internal/keypool"
	"github.com/Nintendo-user96/Monika-sub000/internal/logging"
	"github.com/Nintendo-user96/Monika-sub000/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.NewLogger().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("bot stopped", "error", err)
		os.Exit(1)
	}
}

// run starts every component and blocks until ctx is done. Everything it
// opens is closed before it returns, on success or failure.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	poolCfg := keypool.Config{
		BatchSize: cfg.Rotation.ValidationBatchSize,
		Blackout: keypool.Blackout{
			StartHour: cfg.Rotation.BlackoutStartHour,
			EndHour:   cfg.Rotation.BlackoutEndHour,
		},
		Logger: logger,
	}

	var health func(ctx context.Context) error
	if cfg.RedisURL != "" {
		store, err := cache.NewStateStore(cfg.RedisURL, cache.DefaultPrefix, logger)
		if err != nil {
			logger.Warn("redis unavailable, credential state will not persist", "error", err)
		} else {
			defer store.Close()
			poolCfg.Store = store
			health = store.Ping
		}
	}

	probe := ai.Probe(cfg.BaseURL, nil)

	logger.InfoContext(ctx, "validating credentials", "candidates", len(cfg.APIKeys))
	pool, err := keypool.Validate(ctx, cfg.APIKeys, probe, poolCfg)
	if err != nil {
		return fmt.Errorf("no usable API keys, refusing to start: %w", err)
	}
	defer pool.Close()

	if err := pool.Restore(ctx); err != nil {
		logger.WarnContext(ctx, "failed to restore credential state", "error", err)
	}

	orchestrator := keypool.NewOrchestrator(pool, keypool.OrchestratorConfig{
		Retries:        cfg.Rotation.Retries,
		Cooldown:       cfg.Rotation.Cooldown(),
		GlobalCooldown: cfg.Rotation.GlobalCooldown(),
	}, logger)

	pool.StartIdleRotation(cfg.Rotation.IdleInterval())
	go revalidateOnHangup(ctx, pool, probe, logger)

	metricsServer := metrics.NewServer(cfg.MetricsAddr, func() any {
		return map[string]any{
			"blackout_active": pool.BlackoutActive(),
			"credentials":     pool.Status(),
		}
	}, health)
	go func() {
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}()

	session, err := discord.NewDiscordSession(cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("error creating Discord session: %w", err)
	}

	aiClient := ai.NewAIClient(orchestrator, cfg.BaseURL, logger)
	chatBot := bot.NewBot(cfg, session, aiClient, pool, probe, logger)

	if err := chatBot.Start(ctx); err != nil {
		return fmt.Errorf("error starting bot: %w", err)
	}

	logger.InfoContext(ctx, "bot is now running, press CTRL-C to exit")
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := chatBot.Close(shutdownCtx); err != nil {
		logger.Error("error closing Discord session", "error", err)
	}
	return nil
}

// revalidateOnHangup re-probes the configured keys on every SIGHUP.
func revalidateOnHangup(ctx context.Context, pool *keypool.Pool, probe keypool.ProbeFunc, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.InfoContext(ctx, "SIGHUP received, revalidating credentials")
			if err := pool.Revalidate(ctx, probe); err != nil {
				logger.ErrorContext(ctx, "revalidation failed, keeping current pool", "error", err)
			}
		}
	}
}
