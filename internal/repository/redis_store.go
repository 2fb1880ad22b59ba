package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document snapshot under one string key.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. Keys are "<prefix><room>/<doc>".
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// LoadText returns the stored text, or "" for a missing key.
func (s *RedisStore) LoadText(ctx context.Context, room, doc string) (string, error) {
	text, err := s.rdb.Get(ctx, s.key(room, doc)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load snapshot from redis: %w", err)
	}
	return text, nil
}

// SaveText overwrites the snapshot key with no expiry.
func (s *RedisStore) SaveText(ctx context.Context, room, doc, text string) error {
	if err := s.rdb.Set(ctx, s.key(room, doc), text, 0).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) key(room, doc string) string {
	return s.prefix + StorageName(room) + "/" + StorageName(doc)
}
