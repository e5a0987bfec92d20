// Package cache keeps built tables of contents in Redis, keyed so that any
// structure or view change produces a different key.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"nexus/manuals/internal/toc"
)

const defaultTTL = 5 * time.Minute

// Key identifies one cached table of contents. ViewStamp changes whenever the
// view mapping is edited; it is empty for the canonical structure.
// Key identifies one cached table of contents. ContentStamp tracks the
// linked system documents, whose titles and revisions change outside the
// manual's version counter.
type Key struct {
	ManualID     string
	Version      int
	ViewID       string
	ViewStamp    string
	ContentStamp string
	Compact      bool
}

type TOCCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTOCCache connects to Redis and pings it before returning.
func NewTOCCache(redisURL string, ttl time.Duration) (*TOCCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewTOCCacheWithClient(client, ttl), nil
}

func NewTOCCacheWithClient(client *redis.Client, ttl time.Duration) *TOCCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TOCCache{client: client, prefix: "manuals:toc:", ttl: ttl}
}

func (c *TOCCache) entryKey(k Key) string {
	view := k.ViewID
	if view == "" {
		view = "canonical"
	}
	if k.ViewStamp != "" {
		view += "@" + k.ViewStamp
	}
	key := c.prefix + k.ManualID + ":v" + strconv.Itoa(k.Version) + ":" + view + ":" + strconv.FormatBool(k.Compact)
	if k.ContentStamp != "" {
		key += ":c" + k.ContentStamp
	}
	return key
}

func (c *TOCCache) indexKey(manualID string) string {
	return c.prefix + "keys:" + manualID
}

// Get reports false on a miss.
func (c *TOCCache) Get(ctx context.Context, k Key) ([]toc.Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.entryKey(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get toc: %w", err)
	}

	var entries []toc.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("unmarshal toc: %w", err)
	}
	return entries, true, nil
}

// Set stores entries and records the key under the manual's index so
// Invalidate can find it.
func (c *TOCCache) Set(ctx context.Context, k Key, entries []toc.Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal toc: %w", err)
	}

	key := c.entryKey(k)
	index := c.indexKey(k.ManualID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, c.ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save toc: %w", err)
	}
	return nil
}

// Invalidate drops every cached table of contents of a manual.
func (c *TOCCache) Invalidate(ctx context.Context, manualID string) error {
	index := c.indexKey(manualID)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("list toc keys: %w", err)
	}
	keys = append(keys, index)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate toc: %w", err)
	}
	return nil
}

func (c *TOCCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *TOCCache) Close() error {
	return c.client.Close()
}
