package keypool

import (
	"context"
	"time"
)

// MinIdleInterval is the floor applied to the idle rotation interval.
const MinIdleInterval = 5 * time.Minute

// StartIdleRotation launches the background loop that rotates once
// whenever nothing has been issued for a full interval. The loop is owned
// by the pool and stopped by Close. Calling it again restarts the loop.
func (p *Pool) StartIdleRotation(interval time.Duration) {
	if interval < MinIdleInterval {
		interval = MinIdleInterval
	}

	p.stopIdleRotation()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.idleMu.Lock()
	p.idleCancel = cancel
	p.idleDone = done
	p.idleMu.Unlock()

	p.logger.Info("idle rotation started", "interval", interval.String())
	go func() {
		defer close(done)
		p.runIdleRotation(ctx, interval)
	}()
}

// Close stops background work owned by the pool. It is safe to call more
// than once.
func (p *Pool) Close() error {
	p.stopIdleRotation()
	return nil
}

func (p *Pool) stopIdleRotation() {
	p.idleMu.Lock()
	cancel, done := p.idleCancel, p.idleDone
	p.idleCancel, p.idleDone = nil, nil
	p.idleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Pool) runIdleRotation(ctx context.Context, interval time.Duration) {
	for {
		if err := p.clock.Sleep(ctx, interval); err != nil {
			return
		}
		p.rotateIfIdle(ctx, interval)
	}
}

// rotateIfIdle rotates once when the last issuance is at least interval old.
func (p *Pool) rotateIfIdle(ctx context.Context, interval time.Duration) bool {
	p.mu.Lock()
	idle := p.clock.Now().Sub(p.lastActivity)
	p.mu.Unlock()

	if idle < interval {
		return false
	}

	p.logger.InfoContext(ctx, "no credential issued recently, rotating", "idle", idle.String())
	if _, err := p.rotate(ctx, "idle"); err != nil {
		if ctx.Err() == nil {
			p.logger.WarnContext(ctx, "idle rotation failed", "error", err)
		}
		return false
	}
	return true
}
