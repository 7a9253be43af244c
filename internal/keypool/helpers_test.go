package keypool

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances its time on every Sleep instead of blocking.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(ctx context.Context, n int) error
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, n); err != nil {
			return err
		}
	}
	c.Advance(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) TotalSlept() time.Duration {
	var total time.Duration
	for _, d := range c.Sleeps() {
		total += d
	}
	return total
}

// daytime is well outside the default blackout window.
func daytime() time.Time {
	return time.Date(2024, time.March, 10, 10, 0, 0, 0, time.Local)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(t *testing.T, clock *fakeClock, keys ...string) *Pool {
	t.Helper()
	p, err := New(keys, Config{
		Blackout: DefaultBlackout,
		Clock:    clock,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	return p
}

func statusByKey(p *Pool) map[string]CredentialStatus {
	out := make(map[string]CredentialStatus)
	for _, s := range p.Status() {
		out[s.Key] = s
	}
	return out
}

type memoryStore struct {
	mu     sync.Mutex
	states map[string]SavedState
}

func (m *memoryStore) Load(ctx context.Context) (map[string]SavedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]SavedState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) Save(ctx context.Context, fingerprint string, state SavedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string]SavedState)
	}
	m.states[fingerprint] = state
	return nil
}
