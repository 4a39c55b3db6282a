package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "npm-release-notifier:"

// Redis stores each key as a plain string value.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
	prefix string // Prepended to every key
}

func openRedis(ctx context.Context, url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", ErrInvalidLocation, err)
	}
	client := redis.NewClient(opts)

	// Fail fast so a bad location is reported before any registry traffic.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Using Redis storage", "addr", opts.Addr, "db", opts.DB)
	return &Redis{client: client, logger: logger, prefix: redisKeyPrefix}, nil
}

// Read returns the value stored for key.
func (r *Redis) Read(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, r.prefix+cleaned).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Write stores data under key with no expiry.
func (r *Redis) Write(ctx context.Context, key string, data []byte) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+cleaned, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	r.logger.Debug("Object saved to redis", "key", cleaned, "bytes", len(data))
	return nil
}

// List scans for keys with the given prefix.
func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
