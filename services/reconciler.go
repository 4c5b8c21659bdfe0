package services

import (
	"context"
	"log"
	"sync"
)

// Reconciler merges push-delivered state into the cache and the local
// reservation list. While connected, push events are the primary source of
// truth; while disconnected, the TTL-driven pull path takes over on its own.
// Recency tie-breaking between the two lives in InventoryCache.ApplyUpdate
// and ReservationClient.ApplyStatus / merge.
type Reconciler struct {
	channel      *RealtimeChannel
	cache        *InventoryCache
	reservations *ReservationClient
	tracker      *ExpiryTracker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewReconciler(channel *RealtimeChannel, cache *InventoryCache, reservations *ReservationClient, tracker *ExpiryTracker) *Reconciler {
	return &Reconciler{
		channel:      channel,
		cache:        cache,
		reservations: reservations,
		tracker:      tracker,
		stopCh:       make(chan struct{}),
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return

		case ev := <-r.channel.InventoryEvents():
			snap := ev.Snapshot
			r.cache.ApplyUpdate(ctx, &snap)

		case ev := <-r.channel.ReservationEvents():
			r.reservations.ApplyStatus(ev)
			r.tracker.Observe(ev)

		case ev := <-r.channel.FavoriteEvents():
			// Favorites belong to the catalog surface; surfaced for
			// completeness only.
			log.Printf("reconciler: favorite update for item %s (user %s)", ev.ItemID, ev.UserID)

		case ev := <-r.channel.EntryEvents():
			log.Printf("reconciler: entry %s on item %s is now %s", ev.EntryID, ev.ItemID, ev.Status)

		case ev := <-r.channel.NotificationEvents():
			log.Printf("reconciler: notification: %s: %s", ev.Title, ev.Message)

		case ev := <-r.channel.RawEvents():
			// Catch-all: unknown topics are logged, never dropped silently.
			log.Printf("reconciler: unrecognized event topic %q", ev.Topic)
		}
	}
}
