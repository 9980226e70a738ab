// Package redis stores checkpoints in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// saveScript only moves a checkpoint forward.
// KEYS[1] = checkpoint key
// ARGV[1] = block number
var saveScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]))
local next = tonumber(ARGV[1])
if current == nil or next > current then
    redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// CheckpointStore keeps one key per network.
type CheckpointStore struct {
	client *redis.Client
	prefix string
}

func NewCheckpointStore(addr, password string, db int, prefix string) *CheckpointStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if prefix == "" {
		prefix = "monitor:checkpoint:"
	}
	return &CheckpointStore{client: rdb, prefix: prefix}
}

// Ping checks connectivity.
func (s *CheckpointStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *CheckpointStore) Close() error {
	return s.client.Close()
}

func (s *CheckpointStore) key(network string) string {
	return s.prefix + network
}

func (s *CheckpointStore) Load(ctx context.Context, network string) (uint64, bool, error) {
	raw, err := s.client.Get(ctx, s.key(network)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get checkpoint: %w", err)
	}
	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse checkpoint %q: %w", raw, err)
	}
	return block, true, nil
}

func (s *CheckpointStore) Save(ctx context.Context, network string, block uint64) error {
	err := saveScript.Run(ctx, s.client, []string{s.key(network)}, strconv.FormatUint(block, 10)).Err()
	if err != nil {
		return fmt.Errorf("redis save checkpoint: %w", err)
	}
	return nil
}
