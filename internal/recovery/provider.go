package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// PositionRecoveryProvider reconciles the cached view of a trader's positions
// and balances against the exchange after a restart. The exchange is always
// the source of truth; mismatches are collected as data strings, never raised
// as errors. Only collaborator I/O can fail.
type PositionRecoveryProvider struct {
	cache    domain.TradingCache
	exchange domain.Exchange // optional; nil degrades to the cache
	logger   *slog.Logger

	mu            sync.Mutex
	discrepancies int
}

// NewPositionRecoveryProvider creates a provider. exchange may be nil, in
// which case exchange queries fall back to the cache with a warning.
func NewPositionRecoveryProvider(cache domain.TradingCache, exchange domain.Exchange, logger *slog.Logger) *PositionRecoveryProvider {
	return &PositionRecoveryProvider{
		cache:    cache,
		exchange: exchange,
		logger:   logger,
	}
}

// HasExchange reports whether an authoritative exchange source is wired.
// Reconciliation against the cache alone is meaningless, so callers skip it
// when this returns false.
func (p *PositionRecoveryProvider) HasExchange() bool {
	return p.exchange != nil
}

// CachedPositions returns every position snapshot the local cache holds, open
// and closed. Open/closed filtering is the caller's responsibility.
func (p *PositionRecoveryProvider) CachedPositions(ctx context.Context, traderID string) ([]domain.PositionSnapshot, error) {
	positions, err := p.cache.Positions(ctx, traderID, "")
	if err != nil {
		return nil, fmt.Errorf("recovery: load cached positions for %q: %w", traderID, err)
	}
	return positions, nil
}

// ExchangePositions queries the authoritative position set. Without a wired
// exchange it falls back to the cache; production wiring always supplies one.
func (p *PositionRecoveryProvider) ExchangePositions(ctx context.Context, traderID string) ([]domain.PositionSnapshot, error) {
	if p.exchange == nil {
		p.logger.WarnContext(ctx, "recovery: no exchange wired, falling back to cached positions",
			slog.String("trader_id", traderID))
		return p.CachedPositions(ctx, traderID)
	}
	positions, err := p.exchange.Positions(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("recovery: load exchange positions for %q: %w", traderID, err)
	}
	return positions, nil
}

// CachedBalances returns the balances the local cache holds.
func (p *PositionRecoveryProvider) CachedBalances(ctx context.Context, traderID string) ([]domain.Balance, error) {
	balances, err := p.cache.Balances(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("recovery: load cached balances for %q: %w", traderID, err)
	}
	return balances, nil
}

// ExchangeBalances queries the authoritative balance set, falling back to the
// cache when no exchange is wired.
func (p *PositionRecoveryProvider) ExchangeBalances(ctx context.Context, traderID string) ([]domain.Balance, error) {
	if p.exchange == nil {
		p.logger.WarnContext(ctx, "recovery: no exchange wired, falling back to cached balances",
			slog.String("trader_id", traderID))
		return p.CachedBalances(ctx, traderID)
	}
	balances, err := p.exchange.Balances(ctx, traderID)
	if err != nil {
		return nil, fmt.Errorf("recovery: load exchange balances for %q: %w", traderID, err)
	}
	return balances, nil
}

// ReconcilePositions compares the cached position set against the exchange
// set, keyed on instrument id. The exchange set is returned as the reconciled
// truth; every mismatch becomes one discrepancy string. Positions present
// only in the cache are reported and excluded. Duplicate instrument ids in
// either input are tolerated: last entry wins.
func (p *PositionRecoveryProvider) ReconcilePositions(cached, exchange []domain.PositionSnapshot) ([]domain.PositionSnapshot, []string) {
	cachedByID := p.positionsByInstrument(cached, "cached")
	exchangeByID := p.positionsByInstrument(exchange, "exchange")

	reconciled := make([]domain.PositionSnapshot, 0, len(exchangeByID))
	var discrepancies []string

	seen := make(map[string]struct{}, len(exchangeByID))
	for _, pos := range exchange {
		if _, dup := seen[pos.InstrumentID]; dup {
			continue
		}
		seen[pos.InstrumentID] = struct{}{}

		exch := exchangeByID[pos.InstrumentID]
		reconciled = append(reconciled, exch)

		cachedPos, inCache := cachedByID[pos.InstrumentID]
		if !inCache {
			discrepancies = append(discrepancies, fmt.Sprintf("External position detected: %s %s %s",
				exch.InstrumentID, exch.Side, fmtQty(exch.Quantity)))
			continue
		}
		if cachedPos.Quantity != exch.Quantity {
			discrepancies = append(discrepancies, fmt.Sprintf("Quantity mismatch for %s: cached=%s, exchange=%s",
				exch.InstrumentID, fmtQty(cachedPos.Quantity), fmtQty(exch.Quantity)))
		}
		if cachedPos.Side != exch.Side {
			discrepancies = append(discrepancies, fmt.Sprintf("Side mismatch for %s: cached=%s, exchange=%s",
				exch.InstrumentID, cachedPos.Side, exch.Side))
		}
	}

	seenCached := make(map[string]struct{}, len(cachedByID))
	for _, pos := range cached {
		if _, dup := seenCached[pos.InstrumentID]; dup {
			continue
		}
		seenCached[pos.InstrumentID] = struct{}{}
		if _, onExchange := exchangeByID[pos.InstrumentID]; !onExchange {
			discrepancies = append(discrepancies, fmt.Sprintf("Position closed on exchange: %s (missing from exchange)",
				pos.InstrumentID))
		}
	}

	p.recordDiscrepancies(len(discrepancies))
	return reconciled, discrepancies
}

// ReconcileBalances compares cached balances against the exchange, keyed on
// currency. Exchange values always win; the reconciled set is the exchange
// set. Currencies only in the cache are reported and excluded.
func (p *PositionRecoveryProvider) ReconcileBalances(cached, exchange []domain.Balance) ([]domain.Balance, []string) {
	cachedByCur := p.balancesByCurrency(cached, "cached")
	exchangeByCur := p.balancesByCurrency(exchange, "exchange")

	reconciled := make([]domain.Balance, 0, len(exchangeByCur))
	var discrepancies []string

	seen := make(map[string]struct{}, len(exchangeByCur))
	for _, bal := range exchange {
		if _, dup := seen[bal.Currency]; dup {
			continue
		}
		seen[bal.Currency] = struct{}{}

		exch := exchangeByCur[bal.Currency]
		reconciled = append(reconciled, exch)

		cachedBal, inCache := cachedByCur[bal.Currency]
		if !inCache {
			discrepancies = append(discrepancies, fmt.Sprintf("New currency on exchange: %s total=%s",
				exch.Currency, fmtQty(exch.Total)))
			continue
		}
		if cachedBal.Total != exch.Total {
			discrepancies = append(discrepancies, fmt.Sprintf("Balance mismatch for %s: cached=%s, exchange=%s",
				exch.Currency, fmtQty(cachedBal.Total), fmtQty(exch.Total)))
		}
		if cachedBal.Locked != exch.Locked {
			discrepancies = append(discrepancies, fmt.Sprintf("Locked balance mismatch for %s: cached=%s, exchange=%s",
				exch.Currency, fmtQty(cachedBal.Locked), fmtQty(exch.Locked)))
		}
	}

	seenCached := make(map[string]struct{}, len(cachedByCur))
	for _, bal := range cached {
		if _, dup := seenCached[bal.Currency]; dup {
			continue
		}
		seenCached[bal.Currency] = struct{}{}
		if _, onExchange := exchangeByCur[bal.Currency]; !onExchange {
			discrepancies = append(discrepancies, fmt.Sprintf("Currency missing from exchange: %s (cached total=%s)",
				bal.Currency, fmtQty(bal.Total)))
		}
	}

	p.recordDiscrepancies(len(discrepancies))
	return reconciled, discrepancies
}

// ComputeBalanceDelta builds the delta record for one currency. Either side
// may be nil (currency absent from that view). Percent change is 0 when both
// totals are zero, 100 when only the cached total is zero, and the plain
// relative change otherwise.
func (p *PositionRecoveryProvider) ComputeBalanceDelta(currency string, cached, exchange *domain.Balance) domain.BalanceDelta {
	delta := domain.BalanceDelta{
		Currency:  currency,
		IsNew:     cached == nil && exchange != nil,
		IsRemoved: exchange == nil && cached != nil,
	}
	if cached != nil {
		delta.CachedTotal = cached.Total
		delta.CachedLocked = cached.Locked
	}
	if exchange != nil {
		delta.ExchangeTotal = exchange.Total
		delta.ExchangeLocked = exchange.Locked
	}
	delta.TotalChange = delta.ExchangeTotal - delta.CachedTotal
	delta.LockedChange = delta.ExchangeLocked - delta.CachedLocked

	switch {
	case delta.CachedTotal == 0 && delta.ExchangeTotal == 0:
		delta.PercentChange = 0
	case delta.CachedTotal == 0:
		delta.PercentChange = 100
	default:
		delta.PercentChange = (delta.ExchangeTotal - delta.CachedTotal) / delta.CachedTotal * 100
	}
	return delta
}

// BalanceChanges returns the deltas for every currency whose balance moved
// between the two views, plus currencies that appeared or vanished. The
// result is sorted by currency for deterministic output.
func (p *PositionRecoveryProvider) BalanceChanges(cached, exchange []domain.Balance) []domain.BalanceDelta {
	cachedByCur := p.balancesByCurrency(cached, "cached")
	exchangeByCur := p.balancesByCurrency(exchange, "exchange")

	currencies := make(map[string]struct{}, len(cachedByCur)+len(exchangeByCur))
	for cur := range cachedByCur {
		currencies[cur] = struct{}{}
	}
	for cur := range exchangeByCur {
		currencies[cur] = struct{}{}
	}

	changes := make([]domain.BalanceDelta, 0, len(currencies))
	for cur := range currencies {
		var cachedBal, exchangeBal *domain.Balance
		if bal, ok := cachedByCur[cur]; ok {
			cachedBal = &bal
		}
		if bal, ok := exchangeByCur[cur]; ok {
			exchangeBal = &bal
		}
		delta := p.ComputeBalanceDelta(cur, cachedBal, exchangeBal)
		if delta.Zero() {
			continue
		}
		changes = append(changes, delta)
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Currency < changes[j].Currency })
	return changes
}

// IsSignificantChange reports whether a delta crosses the caller's threshold.
// New and removed currencies are always significant.
func (p *PositionRecoveryProvider) IsSignificantChange(delta domain.BalanceDelta, thresholdPct float64) bool {
	if delta.IsNew || delta.IsRemoved {
		return true
	}
	return math.Abs(delta.PercentChange) >= thresholdPct
}

// DiscrepancyCount returns the total number of discrepancies recorded by
// reconciliation calls since the provider was constructed.
func (p *PositionRecoveryProvider) DiscrepancyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discrepancies
}

func (p *PositionRecoveryProvider) recordDiscrepancies(n int) {
	p.mu.Lock()
	p.discrepancies += n
	p.mu.Unlock()
}

func (p *PositionRecoveryProvider) positionsByInstrument(positions []domain.PositionSnapshot, source string) map[string]domain.PositionSnapshot {
	byID := make(map[string]domain.PositionSnapshot, len(positions))
	for _, pos := range positions {
		if _, dup := byID[pos.InstrumentID]; dup {
			p.logger.Warn("recovery: duplicate instrument in position set, last entry wins",
				slog.String("source", source),
				slog.String("instrument_id", pos.InstrumentID))
		}
		byID[pos.InstrumentID] = pos
	}
	return byID
}

func (p *PositionRecoveryProvider) balancesByCurrency(balances []domain.Balance, source string) map[string]domain.Balance {
	byCur := make(map[string]domain.Balance, len(balances))
	for _, bal := range balances {
		if _, dup := byCur[bal.Currency]; dup {
			p.logger.Warn("recovery: duplicate currency in balance set, last entry wins",
				slog.String("source", source),
				slog.String("currency", bal.Currency))
		}
		byCur[bal.Currency] = bal
	}
	return byCur
}

// fmtQty renders a quantity without trailing zeros, matching how operators
// read position sizes in logs.
func fmtQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
