// Package drafts holds DraftCache backends shared between processes.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gatekeeper "github.com/goliatone/go-gatekeeper"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long abandoned drafts survive
const DefaultTTL = 7 * 24 * time.Hour

// RedisCache stores drafts as a JSON document per owner
type RedisCache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ gatekeeper.DraftCache = (*RedisCache)(nil)

// Option configures a RedisCache
type Option func(*RedisCache)

// WithTTL sets the expiry refreshed on every save, zero keeps drafts forever
func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		c.ttl = ttl
	}
}

// WithPrefix namespaces keys when several apps share a redis
func WithPrefix(prefix string) Option {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

func NewRedisCache(client goredis.UniversalClient, opts ...Option) *RedisCache {
	c := &RedisCache{
		client: client,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RedisCache) key(owner string) string {
	return c.prefix + gatekeeper.DraftKey(owner)
}

func (c *RedisCache) Load(ctx context.Context, owner string) (gatekeeper.Drafts, error) {
	raw, err := c.client.Get(ctx, c.key(owner)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return gatekeeper.Drafts{}, nil
		}
		return nil, err
	}

	drafts := gatekeeper.Drafts{}
	if err := json.Unmarshal(raw, &drafts); err != nil {
		// a corrupt entry is dropped, drafts are disposable
		_ = c.client.Del(ctx, c.key(owner)).Err()
		return gatekeeper.Drafts{}, nil
	}
	return drafts, nil
}

func (c *RedisCache) Save(ctx context.Context, owner string, drafts gatekeeper.Drafts) error {
	if drafts == nil {
		drafts = gatekeeper.Drafts{}
	}

	raw, err := json.Marshal(drafts)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(owner), raw, c.ttl).Err()
}

func (c *RedisCache) Clear(ctx context.Context, owner string) error {
	return c.client.Del(ctx, c.key(owner)).Err()
}
