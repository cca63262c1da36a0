// Package cache is the two-tier lookup cache used by the response
// pipeline: a bounded in-process tier backed by an optional Redis tier
// sharing the same key space.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nextlevelbuilder/astra/internal/metrics"
	"github.com/nextlevelbuilder/astra/internal/platform"
)

// TTLClass selects one of the fixed expiry tiers.
type TTLClass string

const (
	TTLShort  TTLClass = "short"  // 5 minutes
	TTLMedium TTLClass = "medium" // 30 minutes
	TTLLong   TTLClass = "long"   // 1 hour
)

// Duration maps a class to its expiry.
func (c TTLClass) Duration() time.Duration {
	switch c {
	case TTLMedium:
		return 30 * time.Minute
	case TTLLong:
		return time.Hour
	default:
		return 5 * time.Minute
	}
}

// DefaultCapacity bounds tier 1 when no capacity is configured.
const DefaultCapacity = 1000

type entry struct {
	key        string
	value      []byte
	insertedAt time.Time
	expiresAt  time.Time
	elem       *list.Element
}

// Cache is safe for concurrent use. Tier-1 eviction removes the oldest
// entry by insertion time when over capacity; reads do not refresh age.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    *list.List // front = oldest insertion
	capacity int

	rdb *redis.Client
	log *slog.Logger
	met *metrics.Metrics
}

// New builds a cache. rdb may be nil for tier-1-only operation; met may
// be nil in tests.
func New(capacity int, rdb *redis.Client, log *slog.Logger, met *metrics.Metrics) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:  make(map[string]*entry, capacity),
		order:    list.New(),
		capacity: capacity,
		rdb:      rdb,
		log:      log,
		met:      met,
	}
}

func (c *Cache) countLookup(result string) {
	if c.met != nil {
		c.met.CacheLookups.WithLabelValues(result).Inc()
	}
}

// Get consults tier 1 first, then tier 2, back-filling tier 1 on a
// tier-2 hit. Expired tier-1 entries are evicted lazily.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			v := e.value
			c.mu.Unlock()
			c.countLookup("hit")
			return v, true
		}
		c.removeLocked(e)
	}
	c.mu.Unlock()

	if c.rdb == nil {
		c.countLookup("miss")
		return nil, false
	}
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.countLookup("miss")
		return nil, false
	}
	if err != nil {
		c.log.Warn("tier-2 cache read failed", "key", key, "error", err)
		c.countLookup("miss")
		return nil, false
	}
	ttl, err := c.rdb.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = TTLShort.Duration()
	}
	c.setTier1(key, val, ttl, now)
	c.countLookup("hit")
	return val, true
}

// Set writes both tiers with the class's TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, class TTLClass) {
	ttl := class.Duration()
	c.setTier1(key, value, ttl, time.Now())
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			c.log.Warn("tier-2 cache write failed", "key", key, "error", err)
		}
	}
}

func (c *Cache) setTier1(key string, value []byte, ttl time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
	e := &entry{key: key, value: value, insertedAt: now, expiresAt: now.Add(ttl)}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
	for len(c.entries) > c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// Sweep drops expired tier-1 entries; called periodically by the core.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var dropped int
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if !now.Before(e.expiresAt) {
			c.removeLocked(e)
			dropped++
		}
		el = next
	}
	return dropped
}

// Len reports the current tier-1 entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// SentimentKey caches sentiment analysis per message content.
func SentimentKey(message string) string {
	return "sentiment:" + hash(message)
}

// TopicsKey caches topic extraction per message content.
func TopicsKey(message string) string {
	return "topics:" + hash(message)
}

// ResponseKey caches full provider responses.
func ResponseKey(guild platform.GuildID, user platform.UserID, message string) string {
	return fmt.Sprintf("response:%d:%d:%s", guild, user, hash(message))
}

// ProfileKey caches user profiles.
func ProfileKey(user platform.UserID, guild platform.GuildID) string {
	return fmt.Sprintf("profile:%d:%d", user, guild)
}
