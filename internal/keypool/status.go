package keypool

import "time"

// CredentialStatus is a log-safe view of one credential.
type CredentialStatus struct {
	Key               string        `json:"key"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	Uses              int64         `json:"uses"`
	Cooldowns         int64         `json:"cooldowns"`
	LastUsed          time.Time     `json:"last_used,omitempty"`
	Current           bool          `json:"current"`
}

// Status reports every credential in pool order.
func (p *Pool) Status() []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	out := make([]CredentialStatus, 0, len(p.creds))
	for _, c := range p.creds {
		var remaining time.Duration
		if !c.available(now) {
			remaining = c.cooldownUntil.Sub(now)
		}
		out = append(out, CredentialStatus{
			Key:               c.Masked(),
			CooldownRemaining: remaining,
			Uses:              c.uses,
			Cooldowns:         c.cooldowns,
			LastUsed:          c.lastUsed,
			Current:           c == p.current,
		})
	}
	return out
}
