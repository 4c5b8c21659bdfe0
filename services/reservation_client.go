package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"lottery-sync/internal/clock"
	"lottery-sync/internal/status"
	"lottery-sync/models"
	"lottery-sync/monitoring"
)

// ReservationClient drives the reservation lifecycle against the pull API and
// keeps the local in-memory list the UI reads from. The list is append-only
// keyed by id; entries leave it only on cancellation success or when a
// terminal entry ages out.
type ReservationClient struct {
	api         ReservationAPI
	clock       clock.Clock
	maxQuantity int
	retention   time.Duration

	mu           sync.RWMutex
	reservations map[string]*models.Reservation
	order        []string
}

func NewReservationClient(api ReservationAPI, clk clock.Clock, maxQuantity int, retention time.Duration) *ReservationClient {
	return &ReservationClient{
		api:          api,
		clock:        clk,
		maxQuantity:  maxQuantity,
		retention:    retention,
		reservations: make(map[string]*models.Reservation),
	}
}

// Create reserves quantity units of an item. The local quantity check only
// avoids a wasted round trip; the server's response is authoritative and
// overrides any client-side optimism.
func (c *ReservationClient) Create(ctx context.Context, itemID string, quantity int, paymentMethodID string) (models.Reservation, error) {
	if quantity <= 0 || quantity > c.maxQuantity {
		monitoring.RecordReservationOp("create", "invalid_quantity")
		return models.Reservation{}, fmt.Errorf("Create: quantity %d: %w", quantity, status.ErrInvalidQuantity)
	}

	r, err := c.api.CreateReservation(ctx, itemID, quantity, paymentMethodID)
	if err != nil {
		monitoring.RecordReservationOp("create", "error")
		return models.Reservation{}, fmt.Errorf("Create: %w", err)
	}

	c.mu.Lock()
	if _, exists := c.reservations[r.ID]; !exists {
		c.reservations[r.ID] = r
		c.order = append(c.order, r.ID)
	}
	c.mu.Unlock()

	monitoring.RecordReservationOp("create", "ok")
	return *r, nil
}

// Get returns the local copy of a reservation.
func (c *ReservationClient) Get(id string) (models.Reservation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.reservations[id]
	if !ok {
		return models.Reservation{}, status.ErrReservationNotFound
	}
	return *r, nil
}

// List returns local copies in creation order.
func (c *ReservationClient) List() []models.Reservation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Reservation, 0, len(c.order))
	for _, id := range c.order {
		if r, ok := c.reservations[id]; ok {
			out = append(out, *r)
		}
	}
	return out
}

// Cancel aborts a pending reservation. The user confirmation belongs to the
// UI layer; calling sites must only reach here once the user has agreed.
func (c *ReservationClient) Cancel(ctx context.Context, id string) error {
	if err := c.api.CancelReservation(ctx, id); err != nil {
		monitoring.RecordReservationOp("cancel", "error")
		return fmt.Errorf("Cancel: %w", err)
	}

	c.remove(id)
	monitoring.RecordReservationOp("cancel", "ok")
	return nil
}

// Refresh re-fetches a reservation from the server, bypassing the local list,
// and merges the authoritative answer in. Used by the expiry tracker and the
// manual-refresh path.
func (c *ReservationClient) Refresh(ctx context.Context, id string) (models.Reservation, error) {
	r, err := c.api.GetReservation(ctx, id)
	if err != nil {
		return models.Reservation{}, fmt.Errorf("Refresh: %w", err)
	}

	c.merge(r)
	if merged, err := c.Get(id); err == nil {
		return merged, nil
	}
	return *r, nil
}

// SyncList replaces the local list with the server's view, bypassing every
// cache (explicit user refresh).
func (c *ReservationClient) SyncList(ctx context.Context) ([]models.Reservation, error) {
	list, err := c.api.ListReservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("SyncList: %w", err)
	}

	c.mu.Lock()
	c.reservations = make(map[string]*models.Reservation, len(list))
	c.order = c.order[:0]
	for i := range list {
		r := list[i]
		c.reservations[r.ID] = &r
		c.order = append(c.order, r.ID)
	}
	c.mu.Unlock()

	return list, nil
}

// ApplyStatus folds a push-delivered status change into the local record.
// Terminal states are final: any event arriving after one is ignored, and
// transitions that would move backward are rejected.
func (c *ReservationClient) ApplyStatus(ev models.ReservationStatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.reservations[ev.ReservationID]
	if !ok {
		// A status for a reservation created in another session; nothing
		// local to update.
		return
	}

	if r.Status == ev.Status {
		return
	}
	if !r.Status.CanTransitionTo(ev.Status) {
		log.Printf("reservation %s: ignoring %s -> %s (not a forward transition)",
			r.ID, r.Status, ev.Status)
		return
	}

	r.Status = ev.Status
	if ev.ErrorMessage != "" {
		r.ErrorMessage = ev.ErrorMessage
	}
	if ev.ProcessedAt != nil {
		r.ProcessedAt = ev.ProcessedAt
	} else if ev.Status.IsTerminal() && r.ProcessedAt == nil {
		now := c.clock.Now()
		r.ProcessedAt = &now
	}
}

// Prune drops terminal reservations that have been observable long enough
// for the UI to have rendered them.
func (c *ReservationClient) Prune() {
	cutoff := c.clock.Now().Add(-c.retention)

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, id := range c.order {
		r, ok := c.reservations[id]
		if !ok {
			continue
		}
		if r.Status.IsTerminal() && r.ProcessedAt != nil && r.ProcessedAt.Before(cutoff) {
			delete(c.reservations, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
}

// merge applies a server-fetched record over the local one, honoring the
// forward-only state machine (a stale read must not resurrect a terminal
// reservation).
func (c *ReservationClient) merge(r *models.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	local, ok := c.reservations[r.ID]
	if !ok {
		c.reservations[r.ID] = r
		c.order = append(c.order, r.ID)
		return
	}

	if local.Status != r.Status && !local.Status.CanTransitionTo(r.Status) {
		log.Printf("reservation %s: server reports %s but local state %s is final, keeping local",
			r.ID, r.Status, local.Status)
		return
	}
	*local = *r
}

func (c *ReservationClient) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.reservations[id]; !ok {
		return
	}
	delete(c.reservations, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
