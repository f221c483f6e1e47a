// Package redis provides a Redis-backed session provider with native set
// support, suitable for sharing sessions and the federation index across
// processes and sandboxes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/marmos91/artifactgrid/pkg/provider/session"
)

// ProviderName is the registered name of this adapter.
const ProviderName = "redis"

// Config holds configuration for the Redis provider.
type Config struct {
	// URL is a redis:// connection URL. Required.
	URL string

	// DialTimeout bounds the initial connection. Default: 5s.
	DialTimeout time.Duration
}

// Store is the Redis implementation of session.Provider.
type Store struct {
	client *goredis.Client
}

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Get implements session.Provider.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", fmt.Errorf("%w: %s", session.ErrKeyNotFound, key)
		}
		return "", err
	}
	return val, nil
}

// SetEx implements session.Provider.
func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Set(ctx, key, value, 0).Err()
	}
	return s.client.SetEx(ctx, key, value, ttl).Err()
}

// Delete implements session.Provider.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Expire implements session.Provider.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrKeyNotFound, key)
	}
	return nil
}

// Keys implements session.Provider using SCAN, which stays safe on large
// keyspaces where KEYS would block the server.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// SAdd implements session.SetProvider.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

// SRem implements session.SetProvider.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, key, args...).Err()
}

// SMembers implements session.SetProvider.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

// Close implements session.Provider.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ensure Store implements session.Provider with native sets.
var (
	_ session.Provider    = (*Store)(nil)
	_ session.SetProvider = (*Store)(nil)
)
