package keypool

import (
	"context"
	"sync"

	"github.com/Nintendo-user96/Monika-sub000/internal/metrics"
)

// ProbeFunc performs a cheap liveness call with key and returns nil when
// the backend accepts it.
type ProbeFunc func(ctx context.Context, key string) error

// Validate probes every key and builds a pool from the survivors, in input
// order. Probes run concurrently in batches of cfg.BatchSize; a failed
// probe never cancels its siblings.
func Validate(ctx context.Context, keys []string, probe ProbeFunc, cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	candidates := normalizeKeys(keys)

	valid := probeAll(ctx, candidates, probe, cfg.BatchSize)
	cfg.Logger.InfoContext(ctx, "credential validation finished",
		"candidates", len(candidates),
		"valid", len(valid))
	if len(valid) == 0 {
		metrics.CredentialsValid.Set(0)
		return nil, ErrNoValidCredentials
	}

	p, err := New(valid, cfg)
	if err != nil {
		return nil, err
	}
	p.candidates = candidates
	return p, nil
}

// Revalidate re-probes the original candidate list. Credentials that were
// already in the pool keep their stats. When nothing survives the pool is
// left as it was and ErrNoValidCredentials is returned.
func (p *Pool) Revalidate(ctx context.Context, probe ProbeFunc) error {
	valid := probeAll(ctx, p.candidates, probe, p.batchSize)
	p.logger.InfoContext(ctx, "credential revalidation finished",
		"candidates", len(p.candidates),
		"valid", len(valid))
	if len(valid) == 0 {
		return ErrNoValidCredentials
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	existing := make(map[string]*Credential, len(p.creds))
	for _, c := range p.creds {
		existing[c.key] = c
	}

	creds := make([]*Credential, 0, len(valid))
	currentKept := false
	for _, k := range valid {
		c, ok := existing[k]
		if !ok {
			c = newCredential(k)
		}
		if c == p.current {
			currentKept = true
		}
		creds = append(creds, c)
	}
	p.creds = creds
	if !currentKept {
		p.current = creds[0]
	}
	metrics.CredentialsValid.Set(float64(len(creds)))
	return nil
}

func probeAll(ctx context.Context, keys []string, probe ProbeFunc, batchSize int) []string {
	ok := make([]bool, len(keys))

	for start := 0; start < len(keys); start += batchSize {
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok[i] = probeOne(ctx, keys[i], probe)
			}(i)
		}
		wg.Wait()
	}

	valid := make([]string, 0, len(keys))
	for i, k := range keys {
		if ok[i] {
			valid = append(valid, k)
		}
	}
	return valid
}

func probeOne(ctx context.Context, key string, probe ProbeFunc) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return probe(ctx, key) == nil
}
