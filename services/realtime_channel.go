package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"lottery-sync/config"
	"lottery-sync/internal/status"
	"lottery-sync/models"
	"lottery-sync/monitoring"
	"lottery-sync/utils"
)

type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// RealtimeChannel owns the single physical push connection of this process.
// It establishes the connection behind CredentialGate and ConnectionLock,
// reconnects with three-band backoff on unexpected drops, and fans incoming
// events out to typed streams. Any failure leaves the rest of the app in
// pull-only mode; nothing here panics or escalates past an error return.
type RealtimeChannel struct {
	cfg       *config.Config
	gate      *CredentialGate
	lock      *ConnectionLock
	transport Transport
	backoff   utils.Backoff
	userID    string

	mu            sync.Mutex
	state         ChannelState
	interests     map[string]struct{}
	connWaiters   []chan error
	stopRequested bool
	lastErrClass  status.ChannelErrorClass

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	inventoryCh    chan models.InventoryEvent
	reservationCh  chan models.ReservationStatusEvent
	favoriteCh     chan models.FavoriteEvent
	entryCh        chan models.EntryStatusEvent
	notificationCh chan models.NotificationEvent
	rawCh          chan models.RawEvent
}

func NewRealtimeChannel(cfg *config.Config, gate *CredentialGate, lock *ConnectionLock, transport Transport, userID string) *RealtimeChannel {
	c := &RealtimeChannel{
		cfg:       cfg,
		gate:      gate,
		lock:      lock,
		transport: transport,
		backoff: utils.Backoff{
			Short:     cfg.BackoffShort,
			Medium:    cfg.BackoffMedium,
			Long:      cfg.BackoffLong,
			ShortMax:  cfg.BackoffShortMax,
			MediumMax: cfg.BackoffMediumMax,
		},
		userID:    userID,
		state:     StateDisconnected,
		interests: make(map[string]struct{}),
		stopCh:    make(chan struct{}),

		inventoryCh:    make(chan models.InventoryEvent, 64),
		reservationCh:  make(chan models.ReservationStatusEvent, 64),
		favoriteCh:     make(chan models.FavoriteEvent, 16),
		entryCh:        make(chan models.EntryStatusEvent, 16),
		notificationCh: make(chan models.NotificationEvent, 16),
		rawCh:          make(chan models.RawEvent, 16),
	}

	c.wg.Add(1)
	go c.run()

	return c
}

// Typed event streams. Exactly one stream receives each event; unrecognized
// topics land on RawEvents instead of being dropped.
func (c *RealtimeChannel) InventoryEvents() <-chan models.InventoryEvent { return c.inventoryCh }
func (c *RealtimeChannel) ReservationEvents() <-chan models.ReservationStatusEvent {
	return c.reservationCh
}
func (c *RealtimeChannel) FavoriteEvents() <-chan models.FavoriteEvent         { return c.favoriteCh }
func (c *RealtimeChannel) EntryEvents() <-chan models.EntryStatusEvent         { return c.entryCh }
func (c *RealtimeChannel) NotificationEvents() <-chan models.NotificationEvent { return c.notificationCh }
func (c *RealtimeChannel) RawEvents() <-chan models.RawEvent                   { return c.rawCh }

func (c *RealtimeChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastErrorClass returns the classification of the most recent channel
// failure, for the status surface.
func (c *RealtimeChannel) LastErrorClass() status.ChannelErrorClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErrClass
}

// EnsureConnection brings the channel to connected, or returns an error the
// caller treats as "continue without live updates". Callers that lose the
// TryAcquire race wait for the winner and check the final state instead of
// duplicating the handshake.
func (c *RealtimeChannel) EnsureConnection(ctx context.Context) error {
	if c.State() == StateConnected {
		return nil
	}

	if !c.lock.TryAcquire() {
		if err := c.lock.AwaitRelease(ctx); err != nil {
			return fmt.Errorf("EnsureConnection: %w", err)
		}
		if c.State() == StateConnected {
			return nil
		}
		return status.ErrNotConnected
	}
	defer c.lock.Release()

	// The previous holder may have connected while we waited on TryAcquire.
	if c.State() == StateConnected {
		return nil
	}

	c.setState(StateConnecting)
	if err := c.attempt(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

// attempt runs one full handshake: credential check, subscribe, then wait for
// the transport to report connected within the connect timeout.
func (c *RealtimeChannel) attempt(ctx context.Context) error {
	token, err := c.gate.EnsureFresh(ctx)
	if err != nil {
		c.noteError(status.ChannelErrAuthentication)
		return err
	}
	c.transport.SetToken(token)

	waiter := c.addWaiter()
	c.transport.Subscribe(c.subscriptionChannels()...)

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case err := <-waiter:
		return err

	case <-timer.C:
		c.noteError(status.ChannelErrTimeout)
		return status.ErrConnectTimeout

	case <-ctx.Done():
		return ctx.Err()

	case <-c.stopCh:
		return status.ErrStopped
	}
}

// Watch joins the interest group for an item. Best-effort: while not
// connected it only records intent, which is re-applied on every connected
// transition, so a join issued mid-reconnect is never lost.
func (c *RealtimeChannel) Watch(itemID string) {
	c.mu.Lock()
	c.interests[itemID] = struct{}{}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		log.Printf("realtime channel: not connected, join for item %s deferred", itemID)
		return
	}
	c.transport.Subscribe(itemChannel(itemID))
}

// Unwatch leaves an item's interest group.
func (c *RealtimeChannel) Unwatch(itemID string) {
	c.mu.Lock()
	delete(c.interests, itemID)
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		log.Printf("realtime channel: not connected, leave for item %s is a no-op", itemID)
		return
	}
	c.transport.Unsubscribe(itemChannel(itemID))
}

// Interests returns the item ids currently watched.
func (c *RealtimeChannel) Interests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.interests))
	for id := range c.interests {
		out = append(out, id)
	}
	return out
}

// Stop tears the channel down for good. Teardown is bounded by the stop
// timeout; a misbehaving transport is abandoned, never waited on forever.
func (c *RealtimeChannel) Stop() error {
	c.mu.Lock()
	c.stopRequested = true
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
	defer cancel()

	err := c.transport.Close(ctx)
	c.setState(StateDisconnected)
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("Stop: %w", err)
	}
	return nil
}

// run is the single consumer of transport status and messages for the life
// of the channel. Because nothing is ever re-registered, a reconnect cannot
// leave duplicate handlers behind.
func (c *RealtimeChannel) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return

		case st := <-c.transport.Status():
			c.handleStatus(st)

		case msg := <-c.transport.Messages():
			c.dispatch(msg)
		}
	}
}

func (c *RealtimeChannel) handleStatus(st TransportStatus) {
	if st.Connected {
		c.setState(StateConnected)
		c.notifyWaiters(nil)
		c.reapplyInterests()
		return
	}

	c.noteError(st.Class)
	chErr := &status.ChannelError{Class: st.Class, Err: st.Err}

	c.mu.Lock()
	stopped := c.stopRequested
	state := c.state
	c.mu.Unlock()

	if stopped {
		c.notifyWaiters(status.ErrStopped)
		return
	}

	switch state {
	case StateConnecting, StateReconnecting:
		// An attempt is in flight; its waiter decides what happens next.
		c.notifyWaiters(chErr)

	case StateConnected:
		// Transport-level drop with no stop requested.
		log.Printf("realtime channel: connection lost (%s), entering reconnect", st.Class)
		if !st.Class.Retryable() {
			log.Printf("realtime channel: %s error is not retryable, going offline", st.Class)
			c.setState(StateDisconnected)
			return
		}
		c.setState(StateReconnecting)
		c.wg.Add(1)
		go c.reconnectLoop()
	}
}

// reconnectLoop drives backoff-paced reconnect attempts until one succeeds,
// an authentication failure ends them, or the channel is stopped. The
// credential gate is consulted before every attempt; it may have expired
// while we were offline.
func (c *RealtimeChannel) reconnectLoop() {
	defer c.wg.Done()

	for attempt := 1; ; attempt++ {
		delay := c.backoff.Delay(attempt)

		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}

		if c.State() != StateReconnecting {
			// Someone else (an explicit EnsureConnection) got there first.
			return
		}

		err := c.reconnectOnce()
		if err == nil {
			log.Printf("realtime channel: reconnected after %d attempt(s)", attempt)
			monitoring.RecordReconnect("success")
			return
		}

		var chErr *status.ChannelError
		if errors.As(err, &chErr) && !chErr.Class.Retryable() {
			log.Printf("realtime channel: reconnect abandoned: %v", err)
			monitoring.RecordReconnect("auth_failed")
			c.setState(StateDisconnected)
			return
		}
		if errors.Is(err, status.ErrRefreshFailed) || errors.Is(err, status.ErrCredentialExpired) ||
			errors.Is(err, status.ErrCredentialMissing) || errors.Is(err, status.ErrCredentialMalformed) {
			log.Printf("realtime channel: credential unrecoverable, going offline: %v", err)
			monitoring.RecordReconnect("auth_failed")
			c.setState(StateDisconnected)
			return
		}
		if errors.Is(err, status.ErrStopped) {
			return
		}

		monitoring.RecordReconnect("failure")
		log.Printf("realtime channel: reconnect attempt %d failed: %v", attempt, err)
	}
}

func (c *RealtimeChannel) reconnectOnce() error {
	if !c.lock.TryAcquire() {
		// A competing establishment attempt holds the lock; let it finish.
		return status.ErrNotConnected
	}
	defer c.lock.Release()

	// Drop whatever half-open subscription the dead connection left behind
	// before dialing again.
	c.transport.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	return c.attempt(ctx)
}

// reapplyInterests re-subscribes the persisted interest set on every
// connected transition. Joins are idempotent, so this is safe after both
// first connect and reconnect.
func (c *RealtimeChannel) reapplyInterests() {
	channels := c.subscriptionChannels()
	if len(channels) == 0 {
		return
	}
	c.transport.Subscribe(channels...)
}

func (c *RealtimeChannel) subscriptionChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := []string{userChannel(c.userID), "notifications"}
	for id := range c.interests {
		channels = append(channels, itemChannel(id))
	}
	return channels
}

// dispatch routes one wire message to exactly one typed stream.
func (c *RealtimeChannel) dispatch(msg TransportMessage) {
	ev, err := models.ParseChannelEvent(msg.Payload)
	if err != nil {
		log.Printf("realtime channel: undecodable event on %s: %v", msg.Channel, err)
		return
	}

	monitoring.RecordEventDispatched(ev.Kind.String())

	switch ev.Kind {
	case models.EventInventoryUpdated:
		// Payloads without a server timestamp fall back to the transport's
		// publish time so the recency tie-break still holds.
		if ev.Inventory.Snapshot.ServerTime.IsZero() {
			ev.Inventory.Snapshot.ServerTime = TimetokenTime(msg.Timetoken)
		}
		sendEvent(c.inventoryCh, *ev.Inventory, "inventory")

	case models.EventReservationStatus:
		if ev.ReservationStatus.ServerTime.IsZero() {
			ev.ReservationStatus.ServerTime = TimetokenTime(msg.Timetoken)
		}
		sendEvent(c.reservationCh, *ev.ReservationStatus, "reservation")

	case models.EventFavoriteUpdated:
		sendEvent(c.favoriteCh, *ev.Favorite, "favorite")

	case models.EventEntryStatus:
		sendEvent(c.entryCh, *ev.EntryStatus, "entry")

	case models.EventNotification:
		sendEvent(c.notificationCh, *ev.Notification, "notification")

	default:
		sendEvent(c.rawCh, *ev.Raw, "raw")
	}
}

func sendEvent[T any](ch chan T, ev T, name string) {
	select {
	case ch <- ev:
	default:
		log.Printf("realtime channel: %s stream full, dropping event", name)
	}
}

func (c *RealtimeChannel) setState(s ChannelState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	monitoring.SetChannelState(int(s))
}

func (c *RealtimeChannel) noteError(class status.ChannelErrorClass) {
	c.mu.Lock()
	c.lastErrClass = class
	c.mu.Unlock()
}

func (c *RealtimeChannel) addWaiter() chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := make(chan error, 1)
	c.connWaiters = append(c.connWaiters, w)
	return w
}

func (c *RealtimeChannel) notifyWaiters(err error) {
	c.mu.Lock()
	waiters := c.connWaiters
	c.connWaiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}
}

func userChannel(userID string) string {
	return "user-" + userID
}

func itemChannel(itemID string) string {
	return "item-" + itemID
}
