package history

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/techfix/deskagent/internal/log"
)

// RedisStore persists the turn log as a JSON blob under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore creates a store backed by the given redis client.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
		logger: log.Component("history.redis"),
	}
}

// Load implements Store. Missing or corrupt data falls back to the greeting
// seed; only transport failures surface as errors.
func (s *RedisStore) Load(ctx context.Context) ([]Turn, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return Seed(), nil
	}
	if err != nil {
		return nil, err
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		s.logger.Warn("discarding corrupt history", "key", s.key, "error", err)
		return Seed(), nil
	}
	if len(turns) == 0 {
		return Seed(), nil
	}
	return turns, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, turns []Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, 0).Err()
}

var _ Store = (*RedisStore)(nil)
