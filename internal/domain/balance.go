package domain

// Balance is one currency's account balance as seen by the cache or the
// exchange.
type Balance struct {
	Currency string  `json:"currency"`
	Total    float64 `json:"total"`
	Locked   float64 `json:"locked"`
	Free     float64 `json:"free"`
}

// BalanceDelta describes how one currency's balance differs between the
// cached view and the exchange view. Deltas are reconciliation data, never
// errors; significance is judged by the caller against its own threshold.
type BalanceDelta struct {
	Currency       string  `json:"currency"`
	CachedTotal    float64 `json:"cached_total"`
	ExchangeTotal  float64 `json:"exchange_total"`
	TotalChange    float64 `json:"total_change"`
	PercentChange  float64 `json:"percent_change"`
	CachedLocked   float64 `json:"cached_locked"`
	ExchangeLocked float64 `json:"exchange_locked"`
	LockedChange   float64 `json:"locked_change"`
	IsNew          bool    `json:"is_new"`
	IsRemoved      bool    `json:"is_removed"`
}

// Zero reports whether the delta carries no change at all.
func (d BalanceDelta) Zero() bool {
	return d.TotalChange == 0 && d.LockedChange == 0 && !d.IsNew && !d.IsRemoved
}
