package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the closed set of push-event variants the channel dispatches.
// Unrecognized topics land in EventUnrecognized instead of being dropped.
type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventInventoryUpdated
	EventReservationStatus
	EventFavoriteUpdated
	EventEntryStatus
	EventNotification
)

func (k EventKind) String() string {
	switch k {
	case EventInventoryUpdated:
		return "inventory_updated"
	case EventReservationStatus:
		return "reservation_status"
	case EventFavoriteUpdated:
		return "favorite_updated"
	case EventEntryStatus:
		return "entry_status"
	case EventNotification:
		return "notification"
	default:
		return "unrecognized"
	}
}

// InventoryEvent carries a full snapshot, not a diff, so a consumer never
// reads a torn value.
type InventoryEvent struct {
	Snapshot InventorySnapshot `json:"snapshot"`
}

type ReservationStatusEvent struct {
	ReservationID string           `json:"reservation_id"`
	Status        ReservationState `json:"status"`
	ErrorMessage  string           `json:"error,omitempty"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`
	ServerTime    time.Time        `json:"server_time"`
}

type FavoriteEvent struct {
	ItemID    string `json:"item_id"`
	UserID    string `json:"user_id"`
	Favorited bool   `json:"favorited"`
}

type EntryStatusEvent struct {
	EntryID string `json:"entry_id"`
	ItemID  string `json:"item_id"`
	Status  string `json:"status"`
}

type NotificationEvent struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// RawEvent is the catch-all for topics this build does not know about.
type RawEvent struct {
	Topic   string
	Payload map[string]any
}

// ChannelEvent is the tagged union delivered by the realtime channel. Exactly
// one payload field matching Kind is set.
type ChannelEvent struct {
	Kind EventKind

	Inventory         *InventoryEvent
	ReservationStatus *ReservationStatusEvent
	Favorite          *FavoriteEvent
	EntryStatus       *EntryStatusEvent
	Notification      *NotificationEvent
	Raw               *RawEvent
}

// ParseChannelEvent decodes a push payload of the form
// {"type": "...", ...} into its typed variant. Unknown or missing types
// produce an EventUnrecognized variant rather than an error.
func ParseChannelEvent(payload map[string]any) (ChannelEvent, error) {
	topic, _ := payload["type"].(string)

	raw, err := json.Marshal(payload)
	if err != nil {
		return ChannelEvent{}, fmt.Errorf("ParseChannelEvent: json.Marshal: %w", err)
	}

	decode := func(v any) error {
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("ParseChannelEvent: %q: %w", topic, err)
		}
		return nil
	}

	switch topic {
	case "inventory_updated":
		var ev InventoryEvent
		if err := decode(&ev); err != nil {
			return ChannelEvent{}, err
		}
		return ChannelEvent{Kind: EventInventoryUpdated, Inventory: &ev}, nil

	case "reservation_status":
		var ev ReservationStatusEvent
		if err := decode(&ev); err != nil {
			return ChannelEvent{}, err
		}
		return ChannelEvent{Kind: EventReservationStatus, ReservationStatus: &ev}, nil

	case "favorite_updated":
		var ev FavoriteEvent
		if err := decode(&ev); err != nil {
			return ChannelEvent{}, err
		}
		return ChannelEvent{Kind: EventFavoriteUpdated, Favorite: &ev}, nil

	case "entry_status":
		var ev EntryStatusEvent
		if err := decode(&ev); err != nil {
			return ChannelEvent{}, err
		}
		return ChannelEvent{Kind: EventEntryStatus, EntryStatus: &ev}, nil

	case "notification":
		var ev NotificationEvent
		if err := decode(&ev); err != nil {
			return ChannelEvent{}, err
		}
		return ChannelEvent{Kind: EventNotification, Notification: &ev}, nil

	default:
		return ChannelEvent{
			Kind: EventUnrecognized,
			Raw:  &RawEvent{Topic: topic, Payload: payload},
		}, nil
	}
}
