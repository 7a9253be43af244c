// Package keypool rotates a set of API credentials in front of a
// rate-limited backend: per-key cooldowns, least-recently-used rotation,
// a daily blackout window, retrying calls and idle-triggered rotation.
package keypool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Nintendo-user96/Monika-sub000/internal/metrics"
)

const (
	DefaultBatchSize         = 5
	DefaultLongWaitThreshold = 5 * time.Minute
	persistTimeout           = 2 * time.Second
)

// SavedState is the persisted view of one credential, keyed by fingerprint.
type SavedState struct {
	CooldownUntil time.Time `json:"cooldown_until"`
	Uses          int64     `json:"uses"`
	Cooldowns     int64     `json:"cooldowns"`
	LastUsed      time.Time `json:"last_used"`
}

// StateStore persists credential state across restarts.
type StateStore interface {
	Load(ctx context.Context) (map[string]SavedState, error)
	Save(ctx context.Context, fingerprint string, state SavedState) error
}

// Config holds the pool configuration. Zero values take defaults.
type Config struct {
	BatchSize         int           // Concurrent probes per validation batch
	Blackout          Blackout      // Daily window during which Issue refuses
	LongWaitThreshold time.Duration // Rotate waits longer than this are logged as warnings
	Clock             Clock
	Logger            *slog.Logger
	Store             StateStore // Optional
}

func (cfg Config) withDefaults() Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LongWaitThreshold <= 0 {
		cfg.LongWaitThreshold = DefaultLongWaitThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Pool is the set of valid credentials plus the one handed out by default.
type Pool struct {
	mu           sync.Mutex
	creds        []*Credential
	current      *Credential
	lastActivity time.Time

	candidates        []string
	blackout          Blackout
	batchSize         int
	longWaitThreshold time.Duration
	clock             Clock
	logger            *slog.Logger
	store             StateStore

	idleMu     sync.Mutex
	idleCancel context.CancelFunc
	idleDone   chan struct{}
}

// New builds a pool from keys without probing them. Blank and duplicate
// keys are dropped; the first remaining key becomes current.
func New(keys []string, cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	candidates := normalizeKeys(keys)

	p := &Pool{
		candidates:        candidates,
		blackout:          cfg.Blackout,
		batchSize:         cfg.BatchSize,
		longWaitThreshold: cfg.LongWaitThreshold,
		clock:             cfg.Clock,
		logger:            cfg.Logger,
		store:             cfg.Store,
	}
	p.lastActivity = p.clock.Now()

	creds := make([]*Credential, 0, len(candidates))
	for _, k := range candidates {
		creds = append(creds, newCredential(k))
	}
	if len(creds) == 0 {
		return nil, ErrNoValidCredentials
	}
	p.creds = creds
	p.current = creds[0]
	metrics.CredentialsValid.Set(float64(len(creds)))
	return p, nil
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Current returns the credential handed out by default.
func (p *Pool) Current() *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Issue hands out the current credential. It refuses inside the blackout
// window and while the current credential is cooling down. A successful
// issuance resets the idle timer.
func (p *Pool) Issue() (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if p.blackout.Active(now.Hour()) {
		return nil, ErrBlackoutActive
	}
	if p.current == nil {
		return nil, ErrNoValidCredentials
	}
	if !p.current.available(now) {
		return nil, ErrCredentialCoolingDown
	}
	p.lastActivity = now
	return p.current, nil
}

// MarkCooldown suspends cred for d. It never fails; persistence problems
// are logged.
func (p *Pool) MarkCooldown(cred *Credential, d time.Duration) {
	p.mu.Lock()
	now := p.clock.Now()
	cred.cooldownUntil = now.Add(d)
	cred.cooldowns++
	state := snapshot(cred)
	available := p.countAvailable(now)
	p.mu.Unlock()

	metrics.CredentialCooldownsTotal.Inc()
	metrics.CredentialsAvailable.Set(float64(available))
	p.logger.Info("credential cooling down",
		"key", cred.Masked(),
		"duration", d.String(),
		"available", available)

	p.persist(cred.Fingerprint(), state)
}

// Available returns every credential whose cooldown has elapsed.
func (p *Pool) Available() []*Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	out := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.available(now) {
			out = append(out, c)
		}
	}
	return out
}

// Rotate makes the least recently used available credential current.
// When every credential is cooling down it sleeps until the soonest one
// recovers and tries again. An empty pool fails immediately.
func (p *Pool) Rotate(ctx context.Context) (*Credential, error) {
	return p.rotate(ctx, "manual")
}

func (p *Pool) rotate(ctx context.Context, reason string) (*Credential, error) {
	for {
		p.mu.Lock()
		if len(p.creds) == 0 {
			p.mu.Unlock()
			return nil, ErrNoValidCredentials
		}

		now := p.clock.Now()
		if next := p.leastRecentlyUsed(now); next != nil {
			previous := p.current
			p.current = next
			next.lastUsed = now
			next.uses++
			state := snapshot(next)
			available := p.countAvailable(now)
			p.mu.Unlock()

			metrics.CredentialRotationsTotal.WithLabelValues(reason).Inc()
			metrics.CredentialsAvailable.Set(float64(available))
			attrs := []any{"key", next.Masked(), "reason", reason}
			if previous != nil {
				attrs = append(attrs, "previous", previous.Masked())
			}
			p.logger.InfoContext(ctx, "rotated credential", attrs...)
			p.persist(next.Fingerprint(), state)
			return next, nil
		}

		wait := p.soonestCooldown().Sub(now)
		p.mu.Unlock()

		if wait > p.longWaitThreshold {
			p.logger.WarnContext(ctx, "all credentials cooling down for an unusually long time",
				"wait", wait.String(),
				"threshold", p.longWaitThreshold.String())
		} else {
			p.logger.InfoContext(ctx, "all credentials cooling down, waiting", "wait", wait.String())
		}

		if err := p.clock.Sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("keypool: rotate interrupted: %w", err)
		}
	}
}

// leastRecentlyUsed must be called with mu held. Ties keep pool order.
func (p *Pool) leastRecentlyUsed(now time.Time) *Credential {
	var best *Credential
	for _, c := range p.creds {
		if !c.available(now) {
			continue
		}
		if best == nil || c.lastUsed.Before(best.lastUsed) {
			best = c
		}
	}
	return best
}

// soonestCooldown must be called with mu held on a non-empty pool.
func (p *Pool) soonestCooldown() time.Time {
	soonest := p.creds[0].cooldownUntil
	for _, c := range p.creds[1:] {
		if c.cooldownUntil.Before(soonest) {
			soonest = c.cooldownUntil
		}
	}
	return soonest
}

// countAvailable must be called with mu held.
func (p *Pool) countAvailable(now time.Time) int {
	n := 0
	for _, c := range p.creds {
		if c.available(now) {
			n++
		}
	}
	return n
}

// Restore loads persisted state for credentials currently in the pool.
func (p *Pool) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	saved, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("keypool: restore state: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	restored := 0
	for _, c := range p.creds {
		s, ok := saved[c.Fingerprint()]
		if !ok {
			continue
		}
		c.cooldownUntil = s.CooldownUntil
		c.uses = s.Uses
		c.cooldowns = s.Cooldowns
		c.lastUsed = s.LastUsed
		restored++
	}
	p.logger.InfoContext(ctx, "restored credential state", "restored", restored, "pool_size", len(p.creds))
	return nil
}

func (p *Pool) persist(fingerprint string, state SavedState) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.store.Save(ctx, fingerprint, state); err != nil {
		p.logger.Warn("failed to persist credential state", "fingerprint", fingerprint, "error", err)
	}
}

// snapshot must be called with mu held.
func snapshot(c *Credential) SavedState {
	return SavedState{
		CooldownUntil: c.cooldownUntil,
		Uses:          c.uses,
		Cooldowns:     c.cooldowns,
		LastUsed:      c.lastUsed,
	}
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
