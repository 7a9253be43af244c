package keypool

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Credential is one API key together with its cooldown and usage stats.
// The secret is immutable; every other field is guarded by the owning
// Pool's mutex and is only reachable through Pool methods.
type Credential struct {
	key         string
	fingerprint string

	cooldownUntil time.Time
	uses          int64
	cooldowns     int64
	lastUsed      time.Time
}

func newCredential(key string) *Credential {
	sum := sha256.Sum256([]byte(key))
	return &Credential{
		key:         key,
		fingerprint: hex.EncodeToString(sum[:8]),
	}
}

// Key returns the secret. Never log it; use Masked instead.
func (c *Credential) Key() string {
	return c.key
}

// Masked returns a short, log-safe prefix of the secret.
func (c *Credential) Masked() string {
	return MaskKey(c.key)
}

// Fingerprint is a stable, non-reversible identifier for persistence.
func (c *Credential) Fingerprint() string {
	return c.fingerprint
}

// MaskKey keeps at most the first six characters of a secret.
func MaskKey(key string) string {
	n := 6
	if len(key) <= 8 {
		n = len(key) / 4
	}
	return key[:n] + "..."
}

// available must be called with the pool mutex held.
func (c *Credential) available(now time.Time) bool {
	return !now.Before(c.cooldownUntil)
}
