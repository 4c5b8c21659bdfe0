package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"lottery-sync/config"
	"lottery-sync/internal/status"

	pubnub "github.com/pubnub/go/v7"
)

// TransportStatus is a connection-level status change reported by the
// underlying push transport.
type TransportStatus struct {
	Connected bool
	Class     status.ChannelErrorClass
	Err       error
}

// TransportMessage is one push event as delivered on the wire.
type TransportMessage struct {
	Channel string
	Payload map[string]any

	// Timetoken is the server-side publish time in 100ns units, used as the
	// recency tie-breaker when the payload carries no timestamp of its own.
	Timetoken int64
}

// Transport is the physical push connection. RealtimeChannel owns exactly one
// and drives all reconnect policy itself; implementations must not retry on
// their own.
type Transport interface {
	// SetToken installs the bearer credential used for the next subscribe.
	SetToken(token string)

	// Subscribe adds channels to the active subscription, (re)opening the
	// connection if needed. Outcomes arrive on Status.
	Subscribe(channels ...string)

	// Unsubscribe removes channels from the active subscription.
	Unsubscribe(channels ...string)

	// Disconnect drops the subscription without tearing the transport down.
	Disconnect()

	Status() <-chan TransportStatus
	Messages() <-chan TransportMessage

	// Close tears the transport down for good. It must return once teardown
	// finishes or ctx expires, whichever comes first.
	Close(ctx context.Context) error
}

// pubnubTransport adapts the PubNub v7 SDK to the Transport interface. The
// SDK's own reconnection policy stays disabled; RealtimeChannel owns backoff.
type pubnubTransport struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener

	statusCh  chan TransportStatus
	messageCh chan TransportMessage
	done      chan struct{}
}

var _ Transport = (*pubnubTransport)(nil)

// NewPubNubTransport builds the production transport. clientID becomes the
// PubNub user id so the server can address this process directly.
func NewPubNubTransport(cfg *config.Config, clientID string) Transport {
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(clientID))
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.PNReconnectionPolicy = pubnub.PNNonePolicy

	pn := pubnub.NewPubNub(pnConfig)

	t := &pubnubTransport{
		pn:        pn,
		listener:  pubnub.NewListener(),
		statusCh:  make(chan TransportStatus, 16),
		messageCh: make(chan TransportMessage, 64),
		done:      make(chan struct{}),
	}

	pn.AddListener(t.listener)
	go t.pump()

	return t
}

// pump forwards SDK listener events into the neutral channels.
func (t *pubnubTransport) pump() {
	for {
		select {
		case <-t.done:
			return

		case st := <-t.listener.Status:
			if st == nil {
				continue
			}
			t.forwardStatus(st)

		case msg := <-t.listener.Message:
			if msg == nil {
				continue
			}
			t.forwardMessage(msg)
		}
	}
}

func (t *pubnubTransport) forwardStatus(st *pubnub.PNStatus) {
	var out TransportStatus

	switch st.Category {
	case pubnub.PNConnectedCategory, pubnub.PNReconnectedCategory:
		out = TransportStatus{Connected: true}

	case pubnub.PNAccessDeniedCategory:
		out = TransportStatus{
			Class: status.ChannelErrAuthentication,
			Err:   fmt.Errorf("pubnub: access denied (status %d)", st.StatusCode),
		}

	case pubnub.PNTimeoutCategory:
		out = TransportStatus{
			Class: status.ChannelErrTimeout,
			Err:   fmt.Errorf("pubnub: timeout (status %d)", st.StatusCode),
		}

	case pubnub.PNBadRequestCategory:
		out = TransportStatus{
			Class: status.ChannelErrServer,
			Err:   fmt.Errorf("pubnub: bad request (status %d)", st.StatusCode),
		}

	case pubnub.PNDisconnectedCategory, pubnub.PNLoopStopCategory,
		pubnub.PNReconnectionAttemptsExhausted:
		out = TransportStatus{
			Class: status.ChannelErrNetwork,
			Err:   fmt.Errorf("pubnub: disconnected (category %d)", st.Category),
		}

	case pubnub.PNCancelledCategory, pubnub.PNAcknowledgmentCategory:
		// Operation-level noise, not a connection state change.
		return

	default:
		if !st.Error {
			return
		}
		out = TransportStatus{
			Class: status.ChannelErrUnknown,
			Err:   fmt.Errorf("pubnub: category %d (status %d)", st.Category, st.StatusCode),
		}
	}

	select {
	case t.statusCh <- out:
	default:
		log.Printf("pubnub transport: status channel full, dropping %+v", out)
	}
}

func (t *pubnubTransport) forwardMessage(msg *pubnub.PNMessage) {
	payload, ok := msg.Message.(map[string]any)
	if !ok {
		// Non-object payloads still reach the catch-all stream.
		payload = map[string]any{"data": msg.Message}
	}

	out := TransportMessage{
		Channel:   msg.Channel,
		Payload:   payload,
		Timetoken: msg.Timetoken,
	}

	select {
	case t.messageCh <- out:
	default:
		log.Printf("pubnub transport: message channel full, dropping event on %s", msg.Channel)
	}
}

func (t *pubnubTransport) Status() <-chan TransportStatus {
	return t.statusCh
}

func (t *pubnubTransport) Messages() <-chan TransportMessage {
	return t.messageCh
}

func (t *pubnubTransport) SetToken(token string) {
	t.pn.SetToken(token)
}

func (t *pubnubTransport) Subscribe(channels ...string) {
	t.pn.Subscribe().Channels(channels).Execute()
}

func (t *pubnubTransport) Unsubscribe(channels ...string) {
	t.pn.Unsubscribe().Channels(channels).Execute()
}

func (t *pubnubTransport) Disconnect() {
	t.pn.UnsubscribeAll()
}

func (t *pubnubTransport) Close(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		t.pn.UnsubscribeAll()
		t.pn.Destroy()
		close(finished)
	}()

	select {
	case <-finished:
		close(t.done)
		return nil

	case <-ctx.Done():
		// Forced teardown: the pump stops even if the SDK is wedged.
		close(t.done)
		return fmt.Errorf("pubnub transport: close: %w", ctx.Err())
	}
}

// TimetokenTime converts a PubNub timetoken (100ns units since the epoch)
// into a time.Time.
func TimetokenTime(tt int64) time.Time {
	if tt <= 0 {
		return time.Time{}
	}
	return time.Unix(tt/10_000_000, (tt%10_000_000)*100).UTC()
}
