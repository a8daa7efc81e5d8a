// Package indicators implements the pure indicator kernel (spec §4.A):
// EMA, Wilder ATR, rolling Fibonacci levels, and session-cumulative VWAP.
// Every function here is a pure transform over an ordered sequence of
// closed bars — it never blocks and never touches shared state, matching
// the teacher's internal/domain/indicators/technical.go shape.
package indicators

import (
	"fmt"
	"math"

	"github.com/sharplee/signalcore/internal/model"
)

// Snapshot is the per-closed-bar indicator output (spec §3).
type Snapshot struct {
	EMA50  float64
	ATR9   float64
	Fib382 float64
	Fib500 float64
	Fib618 float64
	VWAP   float64
	Valid  bool
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validateBar(b model.Bar) error {
	if !isFinite(b.Open) || !isFinite(b.High) || !isFinite(b.Low) || !isFinite(b.Close) || !isFinite(b.Volume) {
		return fmt.Errorf("%w: indicator input bar has non-finite field", model.ErrInvalidInput)
	}
	return nil
}

// EMA computes the exponential moving average with smoothing 2/(n+1) over
// the given closed bars' close prices, seeding the first value with the
// first close (the common EMA seeding convention: the recursion stabilizes
// well before n bars for the window sizes this engine uses).
func EMA(bars []model.Bar, n int) (float64, bool, error) {
	if n <= 0 {
		return 0, false, fmt.Errorf("%w: EMA period must be positive", model.ErrInvalidInput)
	}
	if len(bars) == 0 {
		return 0, false, nil
	}
	for _, b := range bars {
		if err := validateBar(b); err != nil {
			return 0, false, err
		}
	}
	alpha := 2.0 / (float64(n) + 1.0)
	ema := bars[0].Close
	for _, b := range bars[1:] {
		ema = ema + alpha*(b.Close-ema)
	}
	return ema, len(bars) >= n, nil
}

// trueRange computes max(H-L, |H-Cp|, |L-Cp|) for a bar given the previous close.
func trueRange(b model.Bar, prevClose float64) float64 {
	hl := b.High - b.Low
	hc := math.Abs(b.High - prevClose)
	lc := math.Abs(b.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// ATRWilder computes Wilder's RMA-smoothed Average True Range over `period`
// true-range samples. The first value is a simple mean of the first `period`
// true ranges; subsequent values use ATR = (ATRp*(period-1) + TRn) / period.
// This is an O(n) batch recompute over the full window — callers that need
// a running accumulator should use the RunningATR type below.
func ATRWilder(bars []model.Bar, period int) (float64, bool, error) {
	if period <= 0 {
		return 0, false, fmt.Errorf("%w: ATR period must be positive", model.ErrInvalidInput)
	}
	if len(bars) < period+1 {
		return 0, false, nil
	}
	for _, b := range bars {
		if err := validateBar(b); err != nil {
			return 0, false, err
		}
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs = append(trs, trueRange(bars[i], bars[i-1].Close))
	}
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trs[i]
	}
	atr /= float64(period)
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	if atr <= 0 || !isFinite(atr) {
		return 0, false, fmt.Errorf("%w: computed ATR %f is not strictly positive and finite", model.ErrInvalidInput, atr)
	}
	return atr, true, nil
}

// RunningATR is a stateful, O(1)-per-bar Wilder ATR accumulator — the form
// the signal generator actually uses, since spec §4.A requires the exact
// recursion to be preserved tick-for-tick across the whole bar stream, not
// recomputed from a fixed window each time.
type RunningATR struct {
	period    int
	prevClose float64
	haveClose bool
	seedTRs   []float64
	atr       float64
	seeded    bool
}

// NewRunningATR creates an accumulator for the given Wilder period.
func NewRunningATR(period int) *RunningATR {
	return &RunningATR{period: period, seedTRs: make([]float64, 0, period)}
}

// Add feeds one more closed bar and returns the current ATR value and
// whether it is valid (>= period true-range samples consumed).
func (r *RunningATR) Add(b model.Bar) (float64, bool, error) {
	if err := validateBar(b); err != nil {
		return 0, false, err
	}
	if !r.haveClose {
		r.prevClose = b.Close
		r.haveClose = true
		return 0, false, nil
	}
	tr := trueRange(b, r.prevClose)
	r.prevClose = b.Close

	if !r.seeded {
		r.seedTRs = append(r.seedTRs, tr)
		if len(r.seedTRs) < r.period {
			return 0, false, nil
		}
		sum := 0.0
		for _, v := range r.seedTRs {
			sum += v
		}
		r.atr = sum / float64(r.period)
		r.seeded = true
		return r.atr, true, nil
	}

	r.atr = (r.atr*float64(r.period-1) + tr) / float64(r.period)
	if r.atr <= 0 || !isFinite(r.atr) {
		return 0, false, fmt.Errorf("%w: computed ATR %f is not strictly positive and finite", model.ErrInvalidInput, r.atr)
	}
	return r.atr, true, nil
}

// FibonacciLevels computes the three rolling Fibonacci retracement levels
// over the trailing `window` closed bars (spec §3/§4.A): hh - (hh-ll)*f.
// Returns ok=false if fewer than `window` bars are available.
func FibonacciLevels(bars []model.Bar, window int) (f382, f500, f618 float64, ok bool, err error) {
	if window <= 0 {
		return 0, 0, 0, false, fmt.Errorf("%w: fib window must be positive", model.ErrInvalidInput)
	}
	if len(bars) < window {
		return 0, 0, 0, false, nil
	}
	recent := bars[len(bars)-window:]
	hh, ll := recent[0].High, recent[0].Low
	for _, b := range recent {
		if err := validateBar(b); err != nil {
			return 0, 0, 0, false, err
		}
		if b.High > hh {
			hh = b.High
		}
		if b.Low < ll {
			ll = b.Low
		}
	}
	span := hh - ll
	f382 = hh - span*0.382
	f500 = hh - span*0.500
	f618 = hh - span*0.618
	return f382, f500, f618, true, nil
}
