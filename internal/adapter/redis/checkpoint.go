// Package redis implements the checkpoint store on Redis. Each thread is
// one JSON string key; updates use WATCH/MULTI for the version check.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
)

var _ checkpointstore.Store = (*CheckpointStore)(nil)

// Options holds the connection settings for a Redis server.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// CheckpointStore persists checkpoints under KeyPrefix+threadID.
type CheckpointStore struct {
	client *redis.Client
	prefix string
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, opts Options) (*CheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	slog.Info("redis checkpoint store connected", "addr", opts.Addr, "db", opts.DB)
	return NewCheckpointStore(client, opts.KeyPrefix), nil
}

// NewCheckpointStore wraps an existing client.
func NewCheckpointStore(client *redis.Client, prefix string) *CheckpointStore {
	return &CheckpointStore{client: client, prefix: prefix}
}

// Close closes the underlying client.
func (s *CheckpointStore) Close() error {
	return s.client.Close()
}

func (s *CheckpointStore) key(threadID string) string {
	return s.prefix + threadID
}

func (s *CheckpointStore) Create(ctx context.Context, cp *checkpoint.Checkpoint) error {
	stored := cp.Clone()
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(cp.ThreadID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", cp.ThreadID, err)
	}
	if !ok {
		return fmt.Errorf("create checkpoint %s: %w", cp.ThreadID, domain.ErrThreadConflict)
	}
	cp.Version = 1
	return nil
}

func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	return s.load(ctx, s.client, threadID)
}

func (s *CheckpointStore) Update(ctx context.Context, cp *checkpoint.Checkpoint, expectedVersion int64) error {
	stored := cp.Clone()
	stored.Version = expectedVersion + 1
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := s.key(cp.ThreadID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, cp.ThreadID)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return fmt.Errorf("version %d, expected %d: %w", cur.Version, expectedVersion, domain.ErrThreadConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, domain.ErrThreadConflict)
	case err != nil:
		return fmt.Errorf("update checkpoint %s: %w", cp.ThreadID, err)
	}
	cp.Version = stored.Version
	return nil
}

func (s *CheckpointStore) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

func (s *CheckpointStore) load(ctx context.Context, c redis.Cmdable, threadID string) (*checkpoint.Checkpoint, error) {
	data, err := c.Get(ctx, s.key(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("get checkpoint %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get checkpoint %s: %w", threadID, err)
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &cp, nil
}
