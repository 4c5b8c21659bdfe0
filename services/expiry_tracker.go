package services

import (
	"context"
	"log"
	"sync"
	"time"

	"lottery-sync/internal/clock"
	"lottery-sync/models"
	"lottery-sync/monitoring"
)

// ExpiryTracker watches pending reservations and, when one reaches its
// expires-at, asks the server rather than flipping the state locally: a
// just-in-time payment completion may have raced the expiry, and the server
// is the one that knows. A single goroutine serves every countdown.
type ExpiryTracker struct {
	client *ReservationClient
	clock  clock.Clock
	tick   time.Duration

	mu      sync.Mutex
	entries map[string]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewExpiryTracker(client *ReservationClient, clk clock.Clock, tick time.Duration) *ExpiryTracker {
	return &ExpiryTracker{
		client:  client,
		clock:   clk,
		tick:    tick,
		entries: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// Track starts (or stops) watching a reservation based on its state. Safe to
// call repeatedly with the same record; terminal states untrack it.
func (t *ExpiryTracker) Track(r models.Reservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Status != models.ReservationPending || r.ExpiresAt.IsZero() {
		delete(t.entries, r.ID)
		monitoring.SetTrackedReservations(len(t.entries))
		return
	}

	t.entries[r.ID] = r.ExpiresAt
	monitoring.SetTrackedReservations(len(t.entries))
}

// Observe reacts to a push-delivered status change: terminal states stop the
// countdown no matter which source reported them first.
func (t *ExpiryTracker) Observe(ev models.ReservationStatusEvent) {
	if !ev.Status.IsTerminal() {
		return
	}
	t.mu.Lock()
	delete(t.entries, ev.ReservationID)
	monitoring.SetTrackedReservations(len(t.entries))
	t.mu.Unlock()
}

// TrackedCount returns the number of reservations currently counting down.
func (t *ExpiryTracker) TrackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Start launches the tick loop.
func (t *ExpiryTracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.loop(ctx)
}

func (t *ExpiryTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

func (t *ExpiryTracker) loop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// sweep re-fetches every reservation whose deadline has passed. Each one is
// removed from the countdown map first so a slow fetch is not retriggered on
// the next tick; Track re-arms it if the server says it is still pending.
func (t *ExpiryTracker) sweep(ctx context.Context) {
	now := t.clock.Now()

	t.mu.Lock()
	var due []string
	for id, expiresAt := range t.entries {
		if !now.Before(expiresAt) {
			due = append(due, id)
		}
	}
	for _, id := range due {
		delete(t.entries, id)
	}
	monitoring.SetTrackedReservations(len(t.entries))
	t.mu.Unlock()

	for _, id := range due {
		t.refetch(ctx, id)
	}

	t.client.Prune()
}

func (t *ExpiryTracker) refetch(ctx context.Context, id string) {
	r, err := t.client.Refresh(ctx, id)
	if err != nil {
		log.Printf("expiry tracker: re-fetch of %s failed: %v", id, err)
		return
	}

	if r.Status == models.ReservationPending && r.ExpiresAt.After(t.clock.Now()) {
		// The server extended the hold; keep counting down.
		t.Track(r)
		return
	}
	if !r.Status.IsTerminal() {
		log.Printf("expiry tracker: %s past expiry but still %s, leaving to push events", id, r.Status)
	}
}
