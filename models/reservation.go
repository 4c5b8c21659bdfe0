package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationState string

const (
	ReservationPending    ReservationState = "pending"
	ReservationProcessing ReservationState = "processing"
	ReservationCompleted  ReservationState = "completed"
	ReservationExpired    ReservationState = "expired"
	ReservationFailed     ReservationState = "failed"
	ReservationCancelled  ReservationState = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ReservationState) IsTerminal() bool {
	switch s {
	case ReservationCompleted, ReservationExpired, ReservationFailed, ReservationCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal forward transition from s.
// States only move forward: pending -> processing -> terminal, with pending
// also allowed to jump straight to any terminal state.
func (s ReservationState) CanTransitionTo(next ReservationState) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case ReservationPending:
		return next == ReservationProcessing || next.IsTerminal()
	case ReservationProcessing:
		return next.IsTerminal()
	}
	return false
}

// Reservation is a time-bounded hold on inventory units for one buyer,
// pending payment completion. The token is the capability to act on it.
type Reservation struct {
	ID       string `json:"id"`
	Token    string `json:"token"`
	ItemID   string `json:"item_id"`
	UserID   string `json:"user_id"`
	Quantity int    `json:"quantity"`

	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`

	Status ReservationState `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	PaymentMethodID string `json:"payment_method_id,omitempty"`
	PaymentTxID     string `json:"payment_tx_id,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
}
