package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each tenant as a JSON value under prefix+id.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, opts *redis.Options, prefix string) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) Save(ctx context.Context, cfg Config) (string, error) {
	rec, err := prepare(cfg)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal tenant: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.prefix+rec.TenantID, data, 0).Result()
	if err != nil {
		return "", fmt.Errorf("store tenant: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("store tenant: id %s already taken", rec.TenantID)
	}
	return rec.TenantID, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Config, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	var rec Config
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse tenant: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
