package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"lottery-sync/models"
	"lottery-sync/monitoring"

	"github.com/redis/go-redis/v9"
)

// InventoryCache is the short-TTL read-through cache of per-item snapshots.
// The TTL is long enough to collapse a burst of near-simultaneous reads and
// short enough that a hit is never trusted as ground truth for a purchase
// decision. Push events overwrite entries in place with a full snapshot, so
// readers never see a torn value.
type InventoryCache struct {
	redis   *redis.Client
	fetcher InventoryFetcher
	ttl     time.Duration
}

func NewInventoryCache(redisClient *redis.Client, fetcher InventoryFetcher, ttl time.Duration) *InventoryCache {
	return &InventoryCache{
		redis:   redisClient,
		fetcher: fetcher,
		ttl:     ttl,
	}
}

// Get returns the snapshot for an item, consulting the cache first unless
// useCache is false (the manual-refresh path, which bypasses the TTL
// entirely). Returned snapshots are copies; callers can't corrupt the cache.
func (c *InventoryCache) Get(ctx context.Context, itemID string, useCache bool) (*models.InventorySnapshot, error) {
	key := inventoryKey(itemID)

	if useCache {
		if snap := c.readEntry(ctx, key); snap != nil {
			monitoring.RecordCacheRead("hit")
			return snap, nil
		}
		monitoring.RecordCacheRead("miss")
	} else {
		monitoring.RecordCacheRead("bypass")
	}

	snap, err := c.fetcher.FetchInventory(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("InventoryCache.Get: %w", err)
	}
	if !snap.Consistent() {
		// Server-authoritative data should never violate the count
		// invariant; if it does we still hand it out, but never cache it.
		log.Printf("inventory cache: inconsistent snapshot for item %s, not caching", itemID)
		return snap, nil
	}

	// A push snapshot may have landed while the fetch was in flight. The
	// later server timestamp wins regardless of which side delivered it, so
	// re-check before storing; only the explicit manual refresh writes
	// unconditionally.
	if useCache {
		if existing := c.readEntry(ctx, key); existing != nil && existing.NewerThan(snap) {
			log.Printf("inventory cache: pull result for item %s is %s behind the cached entry, keeping cache",
				itemID, existing.ServerTime.Sub(snap.ServerTime))
			return existing, nil
		}
	}

	c.store(ctx, key, snap)
	return snap, nil
}

// ApplyUpdate overwrites the entry for a push-delivered snapshot. The entry
// is replaced, not invalidated, because the payload already carries the full
// current state. An older snapshot than the one stored is discarded (the
// recency tie-break between racing pull and push data).
func (c *InventoryCache) ApplyUpdate(ctx context.Context, snap *models.InventorySnapshot) {
	if !snap.Consistent() {
		log.Printf("inventory cache: inconsistent push snapshot for item %s, dropping entry", snap.ItemID)
		c.Invalidate(ctx, snap.ItemID)
		return
	}

	key := inventoryKey(snap.ItemID)
	if existing := c.readEntry(ctx, key); existing != nil && existing.ServerTime.After(snap.ServerTime) {
		log.Printf("inventory cache: stale push for item %s (%s behind), keeping cached entry",
			snap.ItemID, existing.ServerTime.Sub(snap.ServerTime))
		return
	}

	c.store(ctx, key, snap)
}

// Invalidate drops the entries for the given items, or every entry when
// called with no arguments (a later view should not trust pre-existing
// cache).
func (c *InventoryCache) Invalidate(ctx context.Context, itemIDs ...string) {
	if len(itemIDs) == 0 {
		keys, err := c.redis.Keys(ctx, "inventory:item:*").Result()
		if err != nil {
			log.Printf("inventory cache: invalidate all: %v", err)
			return
		}
		if len(keys) > 0 {
			c.redis.Del(ctx, keys...)
		}
		return
	}

	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = inventoryKey(id)
	}
	c.redis.Del(ctx, keys...)
}

func (c *InventoryCache) readEntry(ctx context.Context, key string) *models.InventorySnapshot {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("inventory cache: read %s: %v", key, err)
		return nil
	}

	var snap models.InventorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("inventory cache: corrupt entry %s: %v", key, err)
		c.redis.Del(ctx, key)
		return nil
	}
	if !snap.Consistent() {
		// Treated as stale: drop it and let the caller re-fetch.
		log.Printf("inventory cache: inconsistent entry %s, dropping", key)
		c.redis.Del(ctx, key)
		return nil
	}
	return &snap
}

func (c *InventoryCache) store(ctx context.Context, key string, snap *models.InventorySnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("inventory cache: marshal %s: %v", key, err)
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("inventory cache: store %s: %v", key, err)
	}
}

func inventoryKey(itemID string) string {
	return fmt.Sprintf("inventory:item:%s", itemID)
}
