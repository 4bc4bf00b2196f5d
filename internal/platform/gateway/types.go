package gateway

import (
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// --------------------------------------------------------------------------
// Admin gateway DTOs
// --------------------------------------------------------------------------

// APIPosition is a position snapshot as returned by the admin gateway.
type APIPosition struct {
	InstrumentID  string  `json:"instrument_id"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	RealizedPnl   float64 `json:"realized_pnl"`
	TsOpened      int64   `json:"ts_opened"`
	TsLastUpdated int64   `json:"ts_last_updated"`
	IsOpen        bool    `json:"is_open"`
}

// ToDomainPosition converts the wire position to its domain form.
func (p APIPosition) ToDomainPosition() domain.PositionSnapshot {
	return domain.PositionSnapshot{
		InstrumentID:  p.InstrumentID,
		Side:          domain.ParseSide(p.Side),
		Quantity:      p.Quantity,
		AvgEntryPrice: p.AvgEntryPrice,
		UnrealizedPnl: p.UnrealizedPnl,
		RealizedPnl:   p.RealizedPnl,
		TsOpened:      p.TsOpened,
		TsLastUpdated: p.TsLastUpdated,
		IsOpen:        p.IsOpen,
	}
}

// APIBalance is an account balance as returned by the admin gateway.
type APIBalance struct {
	Currency string  `json:"currency"`
	Total    float64 `json:"total"`
	Locked   float64 `json:"locked"`
	Free     float64 `json:"free"`
}

// ToDomainBalance converts the wire balance to its domain form.
func (b APIBalance) ToDomainBalance() domain.Balance {
	return domain.Balance{
		Currency: b.Currency,
		Total:    b.Total,
		Locked:   b.Locked,
		Free:     b.Free,
	}
}

// APIOrder is an order as returned by the admin gateway.
type APIOrder struct {
	OrderID      string  `json:"order_id"`
	InstrumentID string  `json:"instrument_id"`
	OrderType    string  `json:"order_type"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	IsPending    bool    `json:"is_pending"`
}

// ToDomainOrder converts the wire order to its domain form.
func (o APIOrder) ToDomainOrder() domain.OrderInfo {
	return domain.OrderInfo{
		OrderID:      o.OrderID,
		InstrumentID: o.InstrumentID,
		OrderType:    domain.OrderType(o.OrderType),
		Side:         domain.ParseSide(o.Side),
		Quantity:     o.Quantity,
		Price:        o.Price,
		IsPending:    o.IsPending,
	}
}

// APIInstrument is instrument metadata as returned by the admin gateway.
type APIInstrument struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Venue          string  `json:"venue"`
	PriceIncrement float64 `json:"price_increment"`
	SizeIncrement  float64 `json:"size_increment"`
}

// ToDomainInstrument converts the wire instrument to its domain form.
func (i APIInstrument) ToDomainInstrument() domain.Instrument {
	return domain.Instrument{
		ID:             i.ID,
		Symbol:         i.Symbol,
		Venue:          i.Venue,
		PriceIncrement: i.PriceIncrement,
		SizeIncrement:  i.SizeIncrement,
	}
}

// APICandle is one historical bar as returned by the admin gateway.
type APICandle struct {
	InstrumentID string  `json:"instrument_id"`
	TsEvent      int64   `json:"ts_event"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
}

// ToDomainBar converts the wire candle to its domain form.
func (c APICandle) ToDomainBar() domain.Bar {
	return domain.Bar{
		InstrumentID: c.InstrumentID,
		TsEvent:      c.TsEvent,
		Open:         c.Open,
		High:         c.High,
		Low:          c.Low,
		Close:        c.Close,
		Volume:       c.Volume,
	}
}

// --------------------------------------------------------------------------
// Envelopes
// --------------------------------------------------------------------------

// APIPositionsResponse is the envelope for GET /v1/positions.
type APIPositionsResponse struct {
	Positions []APIPosition `json:"positions"`
}

// APIBalancesResponse is the envelope for GET /v1/balances.
type APIBalancesResponse struct {
	Balances []APIBalance `json:"balances"`
}

// APIOrdersResponse is the envelope for GET /v1/orders.
type APIOrdersResponse struct {
	Orders []APIOrder `json:"orders"`
}

// APICandlesResponse is the envelope for GET /v1/candles.
type APICandlesResponse struct {
	Candles []APICandle `json:"candles"`
}

// APIAck is the envelope for the control endpoints (halt, cancel, stop).
type APIAck struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
