package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// TradingCache implements domain.TradingCache and domain.EventReplaySource
// over the keys the guarded host process maintains:
//
//	positions:{traderID}    hash, field per instrument, JSON PositionSnapshot
//	orders:{traderID}       hash, field per order ID, JSON OrderInfo
//	balances:{traderID}     hash, field per currency, JSON Balance
//	instrument:{id}         string, JSON Instrument
//	events:{traderID}       stream, field "payload" holds a JSON PositionEvent
//
// All access is read-only; the host process owns the writes.
type TradingCache struct {
	rdb *redis.Client
}

// NewTradingCache creates a TradingCache backed by the given Client.
func NewTradingCache(c *Client) *TradingCache {
	return &TradingCache{rdb: c.Underlying()}
}

func positionsKey(traderID string) string {
	return "positions:" + traderID
}

func ordersKey(traderID string) string {
	return "orders:" + traderID
}

func balancesKey(traderID string) string {
	return "balances:" + traderID
}

func instrumentKey(instrumentID string) string {
	return "instrument:" + instrumentID
}

func eventsKey(traderID string) string {
	return "events:" + traderID
}

// Positions returns the cached position snapshots for the trader, sorted by
// instrument. An empty instrumentID returns all instruments. A trader with
// no cached positions yields an empty slice, not an error.
func (tc *TradingCache) Positions(ctx context.Context, traderID, instrumentID string) ([]domain.PositionSnapshot, error) {
	key := positionsKey(traderID)

	if instrumentID != "" {
		raw, err := tc.rdb.HGet(ctx, key, instrumentID).Result()
		if errors.Is(err, redis.Nil) {
			return []domain.PositionSnapshot{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis: get position %s: %w", instrumentID, err)
		}

		var pos domain.PositionSnapshot
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			return nil, fmt.Errorf("redis: decode position %s: %w", instrumentID, err)
		}
		return []domain.PositionSnapshot{pos}, nil
	}

	vals, err := tc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get positions %s: %w", traderID, err)
	}

	positions := make([]domain.PositionSnapshot, 0, len(vals))
	for field, raw := range vals {
		var pos domain.PositionSnapshot
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			return nil, fmt.Errorf("redis: decode position %s: %w", field, err)
		}
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].InstrumentID < positions[j].InstrumentID
	})

	return positions, nil
}

// OpenOrders returns the cached open orders for the trader, sorted by order
// ID. A non-empty instrumentID narrows the result to that instrument.
func (tc *TradingCache) OpenOrders(ctx context.Context, traderID, instrumentID string) ([]domain.OrderInfo, error) {
	vals, err := tc.rdb.HGetAll(ctx, ordersKey(traderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get orders %s: %w", traderID, err)
	}

	orders := make([]domain.OrderInfo, 0, len(vals))
	for field, raw := range vals {
		var ord domain.OrderInfo
		if err := json.Unmarshal([]byte(raw), &ord); err != nil {
			return nil, fmt.Errorf("redis: decode order %s: %w", field, err)
		}
		if instrumentID != "" && ord.InstrumentID != instrumentID {
			continue
		}
		orders = append(orders, ord)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].OrderID < orders[j].OrderID
	})

	return orders, nil
}

// Balances returns the cached account balances, sorted by currency.
func (tc *TradingCache) Balances(ctx context.Context, traderID string) ([]domain.Balance, error) {
	vals, err := tc.rdb.HGetAll(ctx, balancesKey(traderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get balances %s: %w", traderID, err)
	}

	balances := make([]domain.Balance, 0, len(vals))
	for currency, raw := range vals {
		var bal domain.Balance
		if err := json.Unmarshal([]byte(raw), &bal); err != nil {
			return nil, fmt.Errorf("redis: decode balance %s: %w", currency, err)
		}
		balances = append(balances, bal)
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].Currency < balances[j].Currency
	})

	return balances, nil
}

// Instrument resolves cached instrument metadata. It returns
// domain.ErrNotFound when the instrument has never been cached.
func (tc *TradingCache) Instrument(ctx context.Context, instrumentID string) (domain.Instrument, error) {
	raw, err := tc.rdb.Get(ctx, instrumentKey(instrumentID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Instrument{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("redis: get instrument %s: %w", instrumentID, err)
	}

	var inst domain.Instrument
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return domain.Instrument{}, fmt.Errorf("redis: decode instrument %s: %w", instrumentID, err)
	}
	return inst, nil
}

// PositionEvents returns the trader's recorded position-event history from
// the capped event stream, in stream order. Entries that fail to decode are
// skipped; the replay gap detector surfaces the resulting sequence holes.
func (tc *TradingCache) PositionEvents(ctx context.Context, traderID string) ([]domain.PositionEvent, error) {
	msgs, err := tc.rdb.XRange(ctx, eventsKey(traderID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read events %s: %w", traderID, err)
	}

	events := make([]domain.PositionEvent, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"]
		if !ok {
			continue
		}

		var raw []byte
		switch v := payload.(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		default:
			continue
		}

		var ev domain.PositionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

// Compile-time interface checks.
var (
	_ domain.TradingCache      = (*TradingCache)(nil)
	_ domain.EventReplaySource = (*TradingCache)(nil)
)
