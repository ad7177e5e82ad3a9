// Package statecache mirrors the last known property values of every
// hosted thing into Redis and fans events out over Redis pub/sub, so other
// services can read device state without calling the HTTP API.
//
// Layout, with the default "webthing" prefix:
//
//	webthing:thing:{id}:properties   hash of property name -> JSON value
//	webthing:thing:{id}:events       pub/sub channel of event JSON
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/webthing-core/internal/infrastructure/config"
	"github.com/nerrad567/webthing-core/internal/thing"
)

// DefaultKeyPrefix is used when redis.key_prefix is empty.
const DefaultKeyPrefix = "webthing"

const pingTimeout = 5 * time.Second

// Sentinel errors.
var (
	ErrDisabled         = errors.New("statecache: disabled in configuration")
	ErrConnectionFailed = errors.New("statecache: connection failed")
)

// Connect opens a Redis client for cfg and pings it.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return rdb, nil
}

// Cache reads and writes thing state in Redis.
type Cache struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// New creates a Cache. A zero ttl keeps keys until they are pruned.
func New(rdb redis.Cmdable, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// PropertiesKey is the hash holding a thing's property values.
func (c *Cache) PropertiesKey(thingID string) string {
	return c.prefix + ":thing:" + thingID + ":properties"
}

// EventsChannel is the pub/sub channel for a thing's events.
func (c *Cache) EventsChannel(thingID string) string {
	return c.prefix + ":thing:" + thingID + ":events"
}

// SetProperty stores the JSON encoding of value and refreshes the TTL.
func (c *Cache) SetProperty(ctx context.Context, thingID, name string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", thingID, name, err)
	}

	key := c.PropertiesKey(thingID)
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, name, b)
		if c.ttl > 0 {
			p.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("caching %s/%s: %w", thingID, name, err)
	}
	return nil
}

// Property returns the cached JSON value, or nil when nothing is cached.
func (c *Cache) Property(ctx context.Context, thingID, name string) (json.RawMessage, error) {
	b, err := c.rdb.HGet(ctx, c.PropertiesKey(thingID), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Properties returns every cached value of a thing.
func (c *Cache) Properties(ctx context.Context, thingID string) (map[string]json.RawMessage, error) {
	all, err := c.rdb.HGetAll(ctx, c.PropertiesKey(thingID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(all))
	for k, v := range all {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

// PublishEvent publishes e to the thing's event channel.
func (c *Cache) PublishEvent(ctx context.Context, thingID string, e thing.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", e.Name(), err)
	}
	return c.rdb.Publish(ctx, c.EventsChannel(thingID), b).Err()
}

// Delete drops a thing's cached properties.
func (c *Cache) Delete(ctx context.Context, thingID string) error {
	return c.rdb.Del(ctx, c.PropertiesKey(thingID)).Err()
}

// RemoveAllExcept deletes cached state of things not in keepIDs and
// returns the removed IDs. Run at startup to forget things that are no
// longer hosted.
func (c *Cache) RemoveAllExcept(ctx context.Context, keepIDs []string) ([]string, error) {
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}

	head := c.prefix + ":thing:"
	const tail = ":properties"

	var removed []string
	iter := c.rdb.Scan(ctx, 0, head+"*"+tail, 100).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(full, head), tail)
		if _, ok := keep[id]; ok {
			continue
		}
		if err := c.rdb.Del(ctx, full).Err(); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Name implements notify.Sink.
func (c *Cache) Name() string { return "statecache" }

// Handle implements notify.Sink. Action notifications are ignored.
func (c *Cache) Handle(ctx context.Context, n thing.Notification) error {
	switch n.Kind {
	case thing.KindPropertyStatus:
		return c.SetProperty(ctx, n.ThingID, n.Name, n.Payload)
	case thing.KindEvent:
		if e, ok := n.Payload.(thing.Event); ok {
			return c.PublishEvent(ctx, n.ThingID, e)
		}
	}
	return nil
}
