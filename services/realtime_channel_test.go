package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lottery-sync/config"
	"lottery-sync/internal/status"
	"lottery-sync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport stands in for the push SDK. It reports connected on the first
// Subscribe while offline (after optionally failing a configured number of
// attempts) and stays silent on subscribes issued while already connected, the
// way a real transport treats an idempotent channel join.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	closed    bool

	token           string
	subscribeCalls  [][]string
	unsubCalls      [][]string
	disconnectCalls int

	// attempts counts Subscribe calls made while offline, i.e. real
	// connection handshakes.
	attempts int

	// failuresLeft makes that many offline subscribes fail before one
	// succeeds. silent suppresses all status emission (timeout testing).
	failuresLeft int
	failClass    status.ChannelErrorClass
	silent       bool

	statusCh  chan TransportStatus
	messageCh chan TransportMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failClass: status.ChannelErrNetwork,
		statusCh:  make(chan TransportStatus, 16),
		messageCh: make(chan TransportMessage, 16),
	}
}

func (f *fakeTransport) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeTransport) Subscribe(channels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribeCalls = append(f.subscribeCalls, channels)
	if f.connected || f.silent {
		return
	}

	f.attempts++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		f.statusCh <- TransportStatus{Class: f.failClass, Err: errors.New("subscribe refused")}
		return
	}
	f.connected = true
	f.statusCh <- TransportStatus{Connected: true}
}

func (f *fakeTransport) Unsubscribe(channels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubCalls = append(f.unsubCalls, channels)
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnectCalls++
}

func (f *fakeTransport) Status() <-chan TransportStatus   { return f.statusCh }
func (f *fakeTransport) Messages() <-chan TransportMessage { return f.messageCh }

func (f *fakeTransport) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

// drop simulates the server closing the connection under us.
func (f *fakeTransport) drop(class status.ChannelErrorClass) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.statusCh <- TransportStatus{Class: class, Err: errors.New("connection dropped")}
}

func (f *fakeTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeTransport) allSubscribed() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for _, call := range f.subscribeCalls {
		for _, ch := range call {
			out[ch] = true
		}
	}
	return out
}

func channelTestConfig() *config.Config {
	return &config.Config{
		ConnectTimeout:   200 * time.Millisecond,
		LockWaitTimeout:  500 * time.Millisecond,
		StopTimeout:      100 * time.Millisecond,
		BackoffShort:     5 * time.Millisecond,
		BackoffMedium:    10 * time.Millisecond,
		BackoffLong:      20 * time.Millisecond,
		BackoffShortMax:  5,
		BackoffMediumMax: 15,
	}
}

func newTestChannel(t *testing.T, transport Transport) *RealtimeChannel {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	auth := &fakeAuthProvider{token: testJWT(t, "u1"), expiry: now.Add(time.Hour)}
	return newTestChannelWithAuth(t, transport, auth, now)
}

func newTestChannelWithAuth(t *testing.T, transport Transport, auth AuthProvider, now time.Time) *RealtimeChannel {
	t.Helper()
	cfg := channelTestConfig()
	gate := testGate(auth, now)
	lock := NewConnectionLock(cfg.LockWaitTimeout)
	ch := NewRealtimeChannel(cfg, gate, lock, transport, "u1")
	t.Cleanup(func() { _ = ch.Stop() })
	return ch
}

func TestRealtimeChannel_Connect(t *testing.T) {
	transport := newFakeTransport()
	ch := newTestChannel(t, transport)

	require.NoError(t, ch.EnsureConnection(context.Background()))

	assert.Equal(t, StateConnected, ch.State())
	assert.Equal(t, 1, transport.attemptCount())
	subscribed := transport.allSubscribed()
	assert.True(t, subscribed["user-u1"], "per-user channel joined")
	assert.True(t, subscribed["notifications"], "broadcast channel joined")
	assert.NotEmpty(t, transport.token, "credential installed before subscribe")
}

func TestRealtimeChannel_EnsureConnectionIdempotent(t *testing.T) {
	transport := newFakeTransport()
	ch := newTestChannel(t, transport)

	require.NoError(t, ch.EnsureConnection(context.Background()))
	require.NoError(t, ch.EnsureConnection(context.Background()))

	assert.Equal(t, 1, transport.attemptCount(), "an established channel is reused, not re-dialed")
}

// Many goroutines race EnsureConnection; exactly one physical handshake runs
// and every caller comes back connected.
func TestRealtimeChannel_ConcurrentEnsureSingleHandshake(t *testing.T) {
	transport := newFakeTransport()
	ch := newTestChannel(t, transport)

	const callers = 20
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ch.EnsureConnection(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, StateConnected, ch.State())
	assert.Equal(t, 1, transport.attemptCount())
}

// An invalid credential aborts before anything touches the network.
func TestRealtimeChannel_CredentialFailureNeverSubscribes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	transport := newFakeTransport()
	auth := &fakeAuthProvider{token: testJWT(t, "u1"), expiry: now.Add(-time.Minute)}
	ch := newTestChannelWithAuth(t, transport, auth, now)

	err := ch.EnsureConnection(context.Background())

	assert.True(t, errors.Is(err, status.ErrCredentialExpired))
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Zero(t, transport.attemptCount(), "no subscribe without a valid credential")
}

func TestRealtimeChannel_ConnectTimeout(t *testing.T) {
	transport := newFakeTransport()
	transport.silent = true
	ch := newTestChannel(t, transport)

	err := ch.EnsureConnection(context.Background())

	assert.True(t, errors.Is(err, status.ErrConnectTimeout))
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, status.ChannelErrTimeout, ch.LastErrorClass())
}

// An authentication refusal from the transport is terminal: the attempt fails
// and no reconnect loop starts.
func TestRealtimeChannel_AuthDeniedNotRetried(t *testing.T) {
	transport := newFakeTransport()
	transport.failuresLeft = 100
	transport.failClass = status.ChannelErrAuthentication
	ch := newTestChannel(t, transport)

	err := ch.EnsureConnection(context.Background())

	var chErr *status.ChannelError
	require.True(t, errors.As(err, &chErr))
	assert.Equal(t, status.ChannelErrAuthentication, chErr.Class)
	assert.Equal(t, StateDisconnected, ch.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, transport.attemptCount(), "authentication failures must not be retried")
}

// An unexpected network drop triggers backoff-paced reconnects. The first
// attempt here fails, the second lands, and interests survive the round trip.
func TestRealtimeChannel_ReconnectAfterDrop(t *testing.T) {
	transport := newFakeTransport()
	ch := newTestChannel(t, transport)

	require.NoError(t, ch.EnsureConnection(context.Background()))
	ch.Watch("41")

	transport.mu.Lock()
	transport.failuresLeft = 1
	transport.mu.Unlock()
	transport.drop(status.ChannelErrNetwork)

	assert.Eventually(t, func() bool {
		return ch.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond, "channel should reconnect on its own")

	assert.Equal(t, 3, transport.attemptCount(), "initial connect, one failed retry, one successful retry")
	assert.True(t, transport.allSubscribed()["item-41"], "interest set re-applied after reconnect")

	transport.mu.Lock()
	disconnects := transport.disconnectCalls
	transport.mu.Unlock()
	assert.GreaterOrEqual(t, disconnects, 1, "the stale subscription is torn down before re-dialing")
}

// After a reconnect exactly one consumer reads the transport, so each event
// is delivered once.
func TestRealtimeChannel_NoDuplicateDeliveryAfterReconnect(t *testing.T) {
	transport := newFakeTransport()
	ch := newTestChannel(t, transport)

	require.NoError(t, ch.EnsureConnection(context.Background()))
	transport.drop(status.ChannelErrNetwork)
	require.Eventually(t, func() bool {
		return ch.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	transport.messageCh <- TransportMessage{
		Channel: "item-41",
		Payload: map[string]any{
			"type":     "inventory_updated",
			"snapshot": map[string]any{"item_id": "41", "total": 10, "available": 4, "reserved": 3, "sold": 3},
		},
		Timetoken: 17_000_000_000_000_000,
	}

	select {
	case ev := <-ch.InventoryEvents():
		assert.Equal(t, "41", ev.Snapshot.ItemID)
	case <-time.After(time.Second):
		t.Fatal("inventory event not delivered")
	}

	select {
	case ev := <-ch.InventoryEvents():
		t.Fatalf("event delivered twice: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRealtimeChannel_WatchDeferredUntilConnected(t *testing.T) {
	transport := newFakeTransport()
	ch := newTestChannel(t, transport)

	ch.Watch("41")
	assert.Empty(t, transport.allSubscribed(), "joins while offline are recorded, not sent")
	assert.Equal(t, []string{"41"}, ch.Interests())

	require.NoError(t, ch.EnsureConnection(context.Background()))
	assert.True(t, transport.allSubscribed()["item-41"], "deferred join applied on connect")

	ch.Watch("42")
	assert.True(t, transport.allSubscribed()["item-42"], "live joins go straight to the transport")

	ch.Unwatch("42")
	transport.mu.Lock()
	unsubs := transport.unsubCalls
	transport.mu.Unlock()
	require.Len(t, unsubs, 1)
	assert.Equal(t, []string{"item-42"}, unsubs[0])
}

func TestRealtimeChannel_DispatchTypedStreams(t *testing.T) {
	transport := newFakeTransport()
	ch := newTestChannel(t, transport)
	require.NoError(t, ch.EnsureConnection(context.Background()))

	serverTime := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	transport.messageCh <- TransportMessage{
		Channel: "user-u1",
		Payload: map[string]any{
			"type":           "reservation_status",
			"reservation_id": "res-1",
			"status":         "completed",
			"server_time":    serverTime.Format(time.RFC3339),
		},
	}
	transport.messageCh <- TransportMessage{
		Channel: "notifications",
		Payload: map[string]any{"type": "notification", "title": "draw closing", "message": "10 minutes left"},
	}
	transport.messageCh <- TransportMessage{
		Channel: "user-u1",
		Payload: map[string]any{"type": "jackpot_rollover", "amount": 12},
	}

	select {
	case ev := <-ch.ReservationEvents():
		assert.Equal(t, "res-1", ev.ReservationID)
		assert.Equal(t, models.ReservationCompleted, ev.Status)
		assert.True(t, ev.ServerTime.Equal(serverTime))
	case <-time.After(time.Second):
		t.Fatal("reservation event not delivered")
	}

	select {
	case ev := <-ch.NotificationEvents():
		assert.Equal(t, "draw closing", ev.Title)
	case <-time.After(time.Second):
		t.Fatal("notification event not delivered")
	}

	select {
	case ev := <-ch.RawEvents():
		assert.Equal(t, "jackpot_rollover", ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("unrecognized event not delivered on the raw stream")
	}
}

// A push payload without its own timestamp takes the transport publish time,
// keeping the pull/push recency comparison meaningful.
func TestRealtimeChannel_TimetokenFallback(t *testing.T) {
	transport := newFakeTransport()
	ch := newTestChannel(t, transport)
	require.NoError(t, ch.EnsureConnection(context.Background()))

	var tt int64 = 17_485_632_000_000_000
	transport.messageCh <- TransportMessage{
		Channel: "item-41",
		Payload: map[string]any{
			"type":     "inventory_updated",
			"snapshot": map[string]any{"item_id": "41", "total": 10, "available": 4},
		},
		Timetoken: tt,
	}

	select {
	case ev := <-ch.InventoryEvents():
		assert.True(t, ev.Snapshot.ServerTime.Equal(TimetokenTime(tt)))
	case <-time.After(time.Second):
		t.Fatal("inventory event not delivered")
	}
}

func TestRealtimeChannel_StopIsFinal(t *testing.T) {
	transport := newFakeTransport()
	ch := newTestChannel(t, transport)
	require.NoError(t, ch.EnsureConnection(context.Background()))

	require.NoError(t, ch.Stop())

	assert.Equal(t, StateDisconnected, ch.State())
	transport.mu.Lock()
	closed := transport.closed
	transport.mu.Unlock()
	assert.True(t, closed)

	require.NoError(t, ch.Stop(), "Stop is idempotent")
}
