// Package cache persists credential pool state in Redis so cooldowns and
// usage counters survive a restart.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Nintendo-user96/Monika-sub000/internal/keypool"
)

const (
	DefaultPrefix = "monika"
	KeyStateTTL   = 7 * 24 * time.Hour
	pingTimeout   = 5 * time.Second
)

// StateStore implements keypool.StateStore on a Redis hash keyed by
// credential fingerprint. Raw keys are never written.
type StateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ keypool.StateStore = (*StateStore)(nil)

// NewStateStore connects to url and verifies the connection.
func NewStateStore(url, prefix string, logger *slog.Logger) (*StateStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStateStore(client, prefix, logger), nil
}

func newStateStore(client *redis.Client, prefix string, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{
		client: client,
		prefix: prefix,
		ttl:    KeyStateTTL,
		logger: logger,
	}
}

func (s *StateStore) Key(parts ...string) string {
	if s.prefix == "" {
		return strings.Join(parts, ":")
	}
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *StateStore) hashKey() string {
	return s.Key("keystate")
}

// Load returns every saved credential state. Entries that fail to decode
// are skipped and logged by fingerprint.
func (s *StateStore) Load(ctx context.Context) (map[string]keypool.SavedState, error) {
	raw, err := s.client.HGetAll(ctx, s.hashKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load key state: %w", err)
	}
	return s.decode(ctx, raw), nil
}

func (s *StateStore) decode(ctx context.Context, raw map[string]string) map[string]keypool.SavedState {
	states, bad := decodeStates(raw)
	if len(bad) > 0 {
		sort.Strings(bad)
		s.logger.WarnContext(ctx, "skipped undecodable credential state",
			"hash", s.hashKey(),
			"skipped", len(bad),
			"fingerprints", bad)
	}
	return states
}

// Save writes one credential state and refreshes the hash expiry.
func (s *StateStore) Save(ctx context.Context, fingerprint string, state keypool.SavedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	key := s.hashKey()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fingerprint, data)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save key state: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable. It backs /healthz.
func (s *StateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *StateStore) Close() error {
	return s.client.Close()
}

// decodeStates parses hash fields into states and reports the fields it
// could not decode.
func decodeStates(raw map[string]string) (map[string]keypool.SavedState, []string) {
	states := make(map[string]keypool.SavedState, len(raw))
	var bad []string
	for fp, v := range raw {
		var st keypool.SavedState
		if err := json.Unmarshal([]byte(v), &st); err != nil {
			bad = append(bad, fp)
			continue
		}
		states[fp] = st
	}
	return states, bad
}
