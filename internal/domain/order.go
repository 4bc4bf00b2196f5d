package domain

import "strings"

// OrderType is the execution style of an order as reported by the cache or
// the exchange. Only the stop family matters to recovery: protective orders
// are verified, never created, by this layer.
type OrderType string

const (
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeStopMarket   OrderType = "STOP_MARKET"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP_MARKET"
)

// OrderInfo is the minimal view of an order that recovery and shutdown need:
// enough to match orders to instruments, identify protective stops, and
// cancel what is still pending.
type OrderInfo struct {
	OrderID      string    `json:"order_id"`
	InstrumentID string    `json:"instrument_id"`
	OrderType    OrderType `json:"order_type"`
	Side         Side      `json:"side,omitempty"`
	Quantity     float64   `json:"quantity,omitempty"`
	Price        float64   `json:"price,omitempty"`
	IsPending    bool      `json:"is_pending"`
}

// IsStopOrder reports whether the order is a stop-type (protective) order.
func (o OrderInfo) IsStopOrder() bool {
	return strings.Contains(string(o.OrderType), "STOP")
}
