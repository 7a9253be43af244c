package keypool

import (
	"context"
	"time"

	"github.com/Nintendo-user96/Monika-sub000/internal/metrics"
)

// Blackout is a fixed daily wall-clock window during which no credential
// may be issued. The window starts at StartHour:00 and ends at EndHour:00
// and may wrap past midnight. StartHour == EndHour disables it.
type Blackout struct {
	StartHour int
	EndHour   int
}

// DefaultBlackout is the 23:00-04:00 window.
var DefaultBlackout = Blackout{StartHour: 23, EndHour: 4}

// Enabled reports whether the window covers any hour at all.
func (b Blackout) Enabled() bool {
	return b.StartHour != b.EndHour
}

// Active reports whether hour (0-23, local) falls inside the window.
func (b Blackout) Active(hour int) bool {
	switch {
	case !b.Enabled():
		return false
	case b.StartHour < b.EndHour:
		return hour >= b.StartHour && hour < b.EndHour
	default:
		return hour >= b.StartHour || hour < b.EndHour
	}
}

// Remaining returns how long until the window ends, measured from now.
// It is zero when now is outside the window.
func (b Blackout) Remaining(now time.Time) time.Duration {
	if !b.Active(now.Hour()) {
		return 0
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), b.EndHour, 0, 0, 0, now.Location())
	if !end.After(now) {
		end = end.AddDate(0, 0, 1)
	}
	return end.Sub(now)
}

// BlackoutActive reports whether issuance would currently be refused.
func (p *Pool) BlackoutActive() bool {
	return p.blackout.Active(p.clock.Now().Hour())
}

// WaitUntilBlackoutEnds suspends the caller until the blackout window is
// over. It returns immediately when the window is not active.
func (p *Pool) WaitUntilBlackoutEnds(ctx context.Context) error {
	now := p.clock.Now()
	wait := p.blackout.Remaining(now)
	if wait <= 0 {
		return nil
	}

	p.logger.InfoContext(ctx, "blackout window entered, waiting",
		"wait", wait.String(),
		"resumes_at", now.Add(wait).Format(time.RFC3339))
	metrics.BlackoutActive.Set(1)
	defer metrics.BlackoutActive.Set(0)

	if err := p.clock.Sleep(ctx, wait); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "blackout window ended")
	return nil
}
