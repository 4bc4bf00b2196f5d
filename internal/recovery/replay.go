package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// DefaultMaxGapSecs is the time-gap threshold used by operator tooling when
// no explicit threshold is given: thirty minutes between adjacent events.
const DefaultMaxGapSecs = 1800.0

// EventReplayManager reconstructs a trader's position-event history from the
// cache and manufactures synthetic events where history is missing. Synthetic
// reconstruction is a best-effort approximation: a gap fill stands in one
// snapshot for however many real events were lost.
type EventReplayManager struct {
	cache  domain.TradingCache
	logger *slog.Logger

	seq     atomic.Int64
	replays atomic.Int64
}

// NewEventReplayManager creates a replay manager over the given cache. The
// cache is probed at call time for the optional domain.EventReplaySource
// capability.
func NewEventReplayManager(cache domain.TradingCache, logger *slog.Logger) *EventReplayManager {
	return &EventReplayManager{
		cache:  cache,
		logger: logger,
	}
}

// ReplayEvents returns the trader's recorded events, filtered by instrument
// ("" = all) and time range (0 = unbounded), sorted ascending by event time.
// A cache without event history degrades to an empty result with a warning.
func (m *EventReplayManager) ReplayEvents(ctx context.Context, traderID, instrumentID string, startNs, endNs int64) ([]domain.PositionEvent, error) {
	source, ok := m.cache.(domain.EventReplaySource)
	if !ok {
		m.logger.WarnContext(ctx, "recovery: cache has no event history, replay returns empty",
			slog.String("trader_id", traderID))
		return []domain.PositionEvent{}, nil
	}

	events, err := source.PositionEvents(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("recovery: replay events for %q: %w", traderID, err)
	}

	filtered := make([]domain.PositionEvent, 0, len(events))
	for _, evt := range events {
		if instrumentID != "" && evt.InstrumentID != instrumentID {
			continue
		}
		if startNs > 0 && evt.TsEvent < startNs {
			continue
		}
		if endNs > 0 && evt.TsEvent > endNs {
			continue
		}
		filtered = append(filtered, evt)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].TsEvent < filtered[j].TsEvent })

	m.logger.InfoContext(ctx, "recovery: events replayed",
		slog.String("trader_id", traderID),
		slog.String("instrument_id", instrumentID),
		slog.Int("count", len(filtered)),
		slog.Int64("replay_ops", m.replays.Add(1)))
	return filtered, nil
}

// ReplayCount returns how many replay operations this manager has served.
func (m *EventReplayManager) ReplayCount() int64 {
	return m.replays.Load()
}

// NextSequenceNumber returns sequence numbers monotonically increasing from
// 1, independent of whatever sequencing the cache records.
func (m *EventReplayManager) NextSequenceNumber() int64 {
	return m.seq.Add(1)
}

// GeneratePositionOpenedEvent manufactures a synthetic opened event for a
// position at the given timestamp.
func (m *EventReplayManager) GeneratePositionOpenedEvent(pos domain.PositionSnapshot, tsNs int64) (domain.PositionEvent, error) {
	if pos.InstrumentID == "" {
		return domain.PositionEvent{}, fmt.Errorf("recovery: generate opened event: %w", domain.ErrMissingInstrument)
	}
	if tsNs <= 0 {
		return domain.PositionEvent{}, fmt.Errorf("recovery: generate opened event: %w", domain.ErrMissingTimestamp)
	}
	return domain.PositionEvent{
		EventType:    domain.EventPositionOpened,
		InstrumentID: pos.InstrumentID,
		TsEvent:      tsNs,
		Sequence:     m.NextSequenceNumber(),
		IsSynthetic:  true,
		Side:         pos.Side,
		Quantity:     pos.Quantity,
		Price:        pos.AvgEntryPrice,
	}, nil
}

// GeneratePositionChangedEvent manufactures a synthetic changed event,
// recording the quantity before the change.
func (m *EventReplayManager) GeneratePositionChangedEvent(pos domain.PositionSnapshot, prevQty float64, tsNs int64) (domain.PositionEvent, error) {
	if pos.InstrumentID == "" {
		return domain.PositionEvent{}, fmt.Errorf("recovery: generate changed event: %w", domain.ErrMissingInstrument)
	}
	if tsNs <= 0 {
		return domain.PositionEvent{}, fmt.Errorf("recovery: generate changed event: %w", domain.ErrMissingTimestamp)
	}
	return domain.PositionEvent{
		EventType:        domain.EventPositionChanged,
		InstrumentID:     pos.InstrumentID,
		TsEvent:          tsNs,
		Sequence:         m.NextSequenceNumber(),
		IsSynthetic:      true,
		Side:             pos.Side,
		Quantity:         pos.Quantity,
		Price:            pos.AvgEntryPrice,
		PreviousQuantity: prevQty,
	}, nil
}

// GenerateSyntheticFillEvent manufactures a synthetic fill. Fills must carry
// a positive quantity.
func (m *EventReplayManager) GenerateSyntheticFillEvent(instrumentID string, side domain.Side, qty, price float64, tsNs int64) (domain.PositionEvent, error) {
	if instrumentID == "" {
		return domain.PositionEvent{}, fmt.Errorf("recovery: generate fill event: %w", domain.ErrMissingInstrument)
	}
	if tsNs <= 0 {
		return domain.PositionEvent{}, fmt.Errorf("recovery: generate fill event: %w", domain.ErrMissingTimestamp)
	}
	if qty <= 0 {
		return domain.PositionEvent{}, fmt.Errorf("recovery: generate fill event: %w", domain.ErrInvalidQuantity)
	}
	return domain.PositionEvent{
		EventType:    domain.EventOrderFilled,
		InstrumentID: instrumentID,
		TsEvent:      tsNs,
		Sequence:     m.NextSequenceNumber(),
		IsSynthetic:  true,
		Side:         side,
		Quantity:     qty,
		Price:        price,
	}, nil
}

// GenerateSyntheticEvents reconstructs the minimal history for a recovered
// position: exactly one opened event. The event is timestamped with the
// position's own open time when it has one, else with tsRecoveryNs.
func (m *EventReplayManager) GenerateSyntheticEvents(pos domain.PositionSnapshot, tsRecoveryNs int64) ([]domain.PositionEvent, error) {
	tsNs := pos.TsOpened
	if tsNs <= 0 {
		tsNs = tsRecoveryNs
	}
	opened, err := m.GeneratePositionOpenedEvent(pos, tsNs)
	if err != nil {
		return nil, err
	}

	m.logger.Info("recovery: synthetic events generated",
		slog.String("instrument_id", pos.InstrumentID),
		slog.Int("count", 1))
	return []domain.PositionEvent{opened}, nil
}

// DetectEventGaps scans the trader's event history for sequence
// discontinuities. Consecutive events whose sequence numbers differ by more
// than one produce a gap record. A time gap wider than maxGapSecs between
// sequence-adjacent events is logged as a warning only, so the same pair is
// never counted twice.
func (m *EventReplayManager) DetectEventGaps(ctx context.Context, traderID string, maxGapSecs float64) ([]domain.EventGap, error) {
	events, err := m.ReplayEvents(ctx, traderID, "", 0, 0)
	if err != nil {
		return nil, err
	}

	var gaps []domain.EventGap
	for i := 1; i < len(events); i++ {
		prev, next := events[i-1], events[i]

		if next.Sequence-prev.Sequence > 1 {
			gaps = append(gaps, domain.EventGap{
				StartSeq: prev.Sequence + 1,
				EndSeq:   next.Sequence - 1,
				StartTs:  prev.TsEvent,
				EndTs:    next.TsEvent,
			})
			continue
		}

		if maxGapSecs > 0 && float64(next.TsEvent-prev.TsEvent)/1e9 > maxGapSecs {
			m.logger.WarnContext(ctx, "recovery: time gap without sequence gap",
				slog.String("trader_id", traderID),
				slog.Int64("prev_seq", prev.Sequence),
				slog.Int64("next_seq", next.Sequence),
				slog.Float64("gap_secs", float64(next.TsEvent-prev.TsEvent)/1e9))
		}
	}

	if len(gaps) > 0 {
		m.logger.WarnContext(ctx, "recovery: event gaps detected",
			slog.String("trader_id", traderID),
			slog.Int("gaps", len(gaps)))
	}
	return gaps, nil
}

// FillEventGap manufactures the stand-in history for one gap: a single
// snapshot event at the gap's midpoint carrying the position's current state
// and the gap's first missing sequence number.
func (m *EventReplayManager) FillEventGap(gap domain.EventGap, pos domain.PositionSnapshot) []domain.PositionEvent {
	mid := gap.StartTs + (gap.EndTs-gap.StartTs)/2

	m.logger.Warn("recovery: filling event gap with snapshot",
		slog.String("instrument_id", pos.InstrumentID),
		slog.Int64("start_seq", gap.StartSeq),
		slog.Int64("end_seq", gap.EndSeq))

	return []domain.PositionEvent{{
		EventType:    domain.EventPositionSnapshot,
		InstrumentID: pos.InstrumentID,
		TsEvent:      mid,
		Sequence:     gap.StartSeq,
		IsSynthetic:  true,
		Side:         pos.Side,
		Quantity:     pos.Quantity,
		Price:        pos.AvgEntryPrice,
	}}
}
