package model

import (
	"fmt"
	"math"
)

// Bar is one OHLCV observation. OpenTimeMs is aligned to the timeframe's
// period boundary for closed bars; Closed distinguishes final bars (the
// only kind the engine consumes) from in-progress ones.
type Bar struct {
	Instrument string    `json:"instrument"`
	Timeframe  Timeframe `json:"timeframe"`
	OpenTimeMs int64     `json:"open_time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	Closed     bool      `json:"closed"`
}

// Key returns the (instrument, timeframe) identity of the bar.
func (b Bar) Key() Key {
	return Key{Instrument: b.Instrument, Timeframe: b.Timeframe}
}

// Validate rejects non-finite or structurally inconsistent bars per spec.md §7
// (input-validation error kind): non-finite fields are rejected, never
// propagated.
func (b Bar) Validate() error {
	for name, v := range map[string]float64{
		"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close, "volume": b.Volume,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bar field %s is non-finite", ErrInvalidInput, name)
		}
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: bar volume %f is negative", ErrInvalidInput, b.Volume)
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: bar high %f below low %f", ErrInvalidInput, b.High, b.Low)
	}
	if b.Instrument == "" {
		return fmt.Errorf("%w: bar has empty instrument", ErrInvalidInput)
	}
	return nil
}

// Trade is a single executed trade observation from the exchange source.
type Trade struct {
	Instrument string  `json:"instrument"`
	TimestampMs int64  `json:"timestamp_ms"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
}
