package keypool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Nintendo-user96/Monika-sub000/internal/metrics"
)

// CallFunc is one unit of downstream work performed with cred. Errors
// should be classified with NewFailure so the orchestrator can react.
type CallFunc func(ctx context.Context, cred *Credential) error

// OrchestratorConfig holds the retry and cooldown policy.
type OrchestratorConfig struct {
	Retries        int           // Attempts that consume budget before giving up
	Cooldown       time.Duration // Per-credential cooldown after a failure
	GlobalCooldown time.Duration // Sleep when every credential is cooling down
	BaseBackoff    time.Duration // First rate-limit backoff
	MaxBackoff     time.Duration // Backoff cap
}

// DefaultOrchestratorConfig returns the stock retry policy.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Retries:        20,
		Cooldown:       15 * time.Second,
		GlobalCooldown: 60 * time.Second,
		BaseBackoff:    2 * time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

func (cfg OrchestratorConfig) withDefaults() OrchestratorConfig {
	def := DefaultOrchestratorConfig()
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.GlobalCooldown <= 0 {
		cfg.GlobalCooldown = def.GlobalCooldown
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return cfg
}

// Orchestrator runs calls against the pool, absorbing transient failures
// through cooldown, rotation, backoff and blackout waits.
type Orchestrator struct {
	pool   *Pool
	cfg    OrchestratorConfig
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator over pool.
func NewOrchestrator(pool *Pool, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = pool.logger
	}
	return &Orchestrator{
		pool:   pool,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Pool returns the underlying credential pool.
func (o *Orchestrator) Pool() *Pool {
	return o.pool
}

// Do runs fn until it succeeds, fails fatally or the retry budget runs
// out. Blackout waits do not consume budget. On exhaustion the last error
// returned by fn is surfaced unchanged.
func (o *Orchestrator) Do(ctx context.Context, fn CallFunc) error {
	logger := o.logger.With("call_id", uuid.NewString())
	backoff := o.cfg.BaseBackoff
	var lastErr error

	for attempt := 0; attempt < o.cfg.Retries; {
		if err := ctx.Err(); err != nil {
			return err
		}

		cred, err := o.acquire(ctx, logger)
		if err != nil {
			return err
		}

		err = fn(ctx, cred)
		if err == nil {
			metrics.CallAttemptsTotal.WithLabelValues("success").Inc()
			return nil
		}
		lastErr = err

		kind := KindOf(err)
		switch kind {
		case FailureScheduledUnavailable:
			metrics.CallAttemptsTotal.WithLabelValues("scheduled").Inc()
			logger.InfoContext(ctx, "backend on scheduled break", "key", cred.Masked(), "error", err)
			if err := o.waitScheduled(ctx); err != nil {
				return err
			}
			continue

		case FailureRateLimited:
			attempt++
			metrics.CallAttemptsTotal.WithLabelValues("rate_limited").Inc()
			o.pool.MarkCooldown(cred, o.cfg.Cooldown)
			logger.WarnContext(ctx, "rate limited",
				"key", cred.Masked(),
				"attempt", attempt,
				"retries", o.cfg.Retries,
				"error", err)
			if attempt >= o.cfg.Retries {
				continue
			}

			delay, label := backoff, "backoff"
			if len(o.pool.Available()) == 0 {
				delay, label = o.cfg.GlobalCooldown, "global_cooldown"
			} else {
				backoff *= 2
				if backoff > o.cfg.MaxBackoff {
					backoff = o.cfg.MaxBackoff
				}
			}
			metrics.BackoffSeconds.WithLabelValues(label).Observe(delay.Seconds())
			logger.InfoContext(ctx, "waiting before next attempt", "delay", delay.String(), "kind", label)
			if err := o.pool.clock.Sleep(ctx, delay); err != nil {
				return err
			}
			if _, err := o.pool.rotate(ctx, "rate_limited"); err != nil {
				return err
			}

		case FailureInvalidCredential:
			attempt++
			metrics.CallAttemptsTotal.WithLabelValues("invalid_credential").Inc()
			backoff = o.cfg.BaseBackoff
			o.pool.MarkCooldown(cred, o.cfg.Cooldown)
			logger.WarnContext(ctx, "credential rejected",
				"key", cred.Masked(),
				"attempt", attempt,
				"error", err)
			if len(o.pool.Available()) == 0 {
				logger.ErrorContext(ctx, "no usable credentials left")
				return fmt.Errorf("%w: %w", ErrNoValidCredentials, err)
			}
			if attempt >= o.cfg.Retries {
				continue
			}
			if _, err := o.pool.rotate(ctx, "invalid_credential"); err != nil {
				return err
			}

		default:
			metrics.CallAttemptsTotal.WithLabelValues("fatal").Inc()
			logger.ErrorContext(ctx, "downstream call failed", "key", cred.Masked(), "error", err)
			return err
		}
	}

	metrics.RetriesExhaustedTotal.Inc()
	logger.ErrorContext(ctx, "retry budget exhausted", "retries", o.cfg.Retries, "error", lastErr)
	return lastErr
}

// acquire issues a credential, waiting out the blackout window and
// rotating away from a cooling credential as needed.
func (o *Orchestrator) acquire(ctx context.Context, logger *slog.Logger) (*Credential, error) {
	for {
		cred, err := o.pool.Issue()
		switch {
		case err == nil:
			return cred, nil
		case errors.Is(err, ErrBlackoutActive):
			if err := o.pool.WaitUntilBlackoutEnds(ctx); err != nil {
				return nil, err
			}
		case errors.Is(err, ErrCredentialCoolingDown):
			logger.DebugContext(ctx, "current credential cooling down, rotating")
			if _, err := o.pool.rotate(ctx, "cooling_down"); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

// waitScheduled waits out a break reported by the backend. Outside the
// local window the length of the break is unknown, so the global
// cooldown is used instead.
func (o *Orchestrator) waitScheduled(ctx context.Context) error {
	if o.pool.BlackoutActive() {
		return o.pool.WaitUntilBlackoutEnds(ctx)
	}
	metrics.BackoffSeconds.WithLabelValues("global_cooldown").Observe(o.cfg.GlobalCooldown.Seconds())
	return o.pool.clock.Sleep(ctx, o.cfg.GlobalCooldown)
}
