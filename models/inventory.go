package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventorySnapshot is the authoritative per-item count set at a point in
// time. It is never fabricated locally; every instance comes from a pull
// fetch or a push payload.
type InventorySnapshot struct {
	ItemID    string          `json:"item_id"`
	Total     int             `json:"total"`
	Available int             `json:"available"`
	Reserved  int             `json:"reserved"`
	Sold      int             `json:"sold"`
	UnitPrice decimal.Decimal `json:"unit_price"`

	// EndsAt is the lottery/sale end time.
	EndsAt time.Time `json:"ends_at"`

	// ServerTime is the server-reported time of this snapshot, used as the
	// recency tie-breaker between pull and push data.
	ServerTime time.Time `json:"server_time"`
}

// Consistent reports whether the counts satisfy
// available + reserved + sold <= total with no negative component. A
// violating snapshot is treated as stale and re-fetched, never trusted.
func (s *InventorySnapshot) Consistent() bool {
	if s.Available < 0 || s.Reserved < 0 || s.Sold < 0 || s.Total < 0 {
		return false
	}
	return s.Available+s.Reserved+s.Sold <= s.Total
}

func (s *InventorySnapshot) SoldOut() bool {
	return s.Available <= 0
}

func (s *InventorySnapshot) Ended(now time.Time) bool {
	return !s.EndsAt.IsZero() && !now.Before(s.EndsAt)
}

// NewerThan reports whether s carries a strictly later server timestamp than
// other. A zero timestamp is never newer than anything.
func (s *InventorySnapshot) NewerThan(other *InventorySnapshot) bool {
	if other == nil {
		return true
	}
	return s.ServerTime.After(other.ServerTime)
}
