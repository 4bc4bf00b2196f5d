package domain

import "strings"

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideFlat  Side = "FLAT"
)

// ParseSide normalizes a free-form side string to one of the three sides.
// Unrecognized values map to FLAT.
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return SideLong
	case "SHORT", "SELL":
		return SideShort
	default:
		return SideFlat
	}
}

// PositionSnapshot is a durable, point-in-time record of one position as
// held in the cache or reported by the exchange. It is a value object:
// reconciliation and synthetic-event generation consume and produce
// snapshots without shared mutable ownership.
//
// Timestamps are Unix nanoseconds; TsLastUpdated is never before TsOpened.
type PositionSnapshot struct {
	InstrumentID  string  `json:"instrument_id"`
	Side          Side    `json:"side"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	RealizedPnl   float64 `json:"realized_pnl"`
	TsOpened      int64   `json:"ts_opened"`
	TsLastUpdated int64   `json:"ts_last_updated"`
	IsOpen        bool    `json:"is_open"`
}

// Validate checks the snapshot's structural invariants. Data-content
// conditions (mismatches against another view) are not errors and are
// handled by reconciliation instead.
func (p PositionSnapshot) Validate() error {
	if p.InstrumentID == "" {
		return ErrMissingInstrument
	}
	if p.Quantity < 0 {
		return ErrInvalidQuantity
	}
	if p.IsOpen && p.AvgEntryPrice <= 0 {
		return ErrInvalidPrice
	}
	if p.TsLastUpdated < p.TsOpened {
		return ErrTimestampOrder
	}
	return nil
}
