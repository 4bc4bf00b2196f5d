package domain

// Instrument is the tradable symbol the guarded process runs on, as resolved
// from the cache collaborator. IDs are fully qualified, e.g.
// "BTCUSDT-PERP.BINANCE".
type Instrument struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Venue          string  `json:"venue"`
	PriceIncrement float64 `json:"price_increment"`
	SizeIncrement  float64 `json:"size_increment"`
}

// Bar is one historical candle used for indicator warmup. TsEvent is Unix
// nanoseconds of the bar close.
type Bar struct {
	InstrumentID string  `json:"instrument_id"`
	TsEvent      int64   `json:"ts_event"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
}
