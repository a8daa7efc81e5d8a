// Package aggregator derives higher-timeframe bars from a 1-minute bar
// stream, aligned to exact period boundaries (spec.md §4.B).
package aggregator

import (
	"fmt"

	"github.com/sharplee/signalcore/internal/model"
)

type slot struct {
	openTimeMs int64
	open       float64
	high       float64
	low        float64
	close      float64
	volume     float64
}

// Aggregator maintains one open slot per (instrument, higher timeframe).
type Aggregator struct {
	timeframes []model.Timeframe
	slots      map[model.Key]*slot
}

// New creates an aggregator that derives the given higher timeframes from
// 1-minute bars. Defaults to spec.md's §2 set {3m, 5m, 15m, 30m}.
func New(timeframes []model.Timeframe) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = model.HigherTimeframes
	}
	return &Aggregator{timeframes: timeframes, slots: make(map[model.Key]*slot)}
}

// Feed consumes one closed 1-minute bar and returns every higher-timeframe
// bar it closes out (spec §4.B steps 1-4). The returned bars are in
// ascending timeframe order and are always marked Closed.
func (a *Aggregator) Feed(b model.Bar) ([]model.Bar, error) {
	if b.Timeframe != model.TF1m {
		return nil, fmt.Errorf("aggregator only accepts 1m bars, got %s", b.Timeframe)
	}
	if !b.Closed {
		return nil, fmt.Errorf("aggregator only accepts closed bars")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	var out []model.Bar
	for _, tf := range a.timeframes {
		periodMs := tf.PeriodMs()
		if periodMs == 0 {
			continue
		}
		key := model.Key{Instrument: b.Instrument, Timeframe: tf}
		slotOpen := floorTo(b.OpenTimeMs, periodMs)

		s, exists := a.slots[key]
		switch {
		case !exists:
			a.slots[key] = &slot{
				openTimeMs: slotOpen,
				open:       b.Open,
				high:       b.High,
				low:        b.Low,
				close:      b.Close,
				volume:     b.Volume,
			}
		case slotOpen == s.openTimeMs:
			if b.High > s.high {
				s.high = b.High
			}
			if b.Low < s.low {
				s.low = b.Low
			}
			s.close = b.Close
			s.volume += b.Volume
		default:
			// slot_open advanced: emit the previous slot, start a new one.
			out = append(out, slotToBar(b.Instrument, tf, s))
			a.slots[key] = &slot{
				openTimeMs: slotOpen,
				open:       b.Open,
				high:       b.High,
				low:        b.Low,
				close:      b.Close,
				volume:     b.Volume,
			}
		}
	}
	return out, nil
}

func floorTo(ms, period int64) int64 {
	return (ms / period) * period
}

func slotToBar(instrument string, tf model.Timeframe, s *slot) model.Bar {
	return model.Bar{
		Instrument: instrument,
		Timeframe:  tf,
		OpenTimeMs: s.openTimeMs,
		Open:       s.open,
		High:       s.high,
		Low:        s.low,
		Close:      s.close,
		Volume:     s.volume,
		Closed:     true,
	}
}

// Seed advances aggregation state from a historical 1-minute bar without
// returning any emitted higher-timeframe bars — used by the ingestion
// pipeline's RESTORE phase (spec §4.G) to rebuild state from persisted
// history before replay begins.
func (a *Aggregator) Seed(b model.Bar) error {
	_, err := a.Feed(b)
	return err
}
