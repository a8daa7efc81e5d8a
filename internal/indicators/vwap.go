package indicators

import (
	"fmt"

	"github.com/sharplee/signalcore/internal/model"
)

// SessionEpochFunc maps a bar's open time to a session identifier. VWAP
// resets its accumulator whenever the returned epoch advances relative to
// the previous bar. spec.md §9 leaves session-reset timing an open
// question and mandates a never-reset default; NeverReset is that default
// and the only implementation wired in by NewVWAP unless a caller overrides
// it explicitly.
type SessionEpochFunc func(openTimeMs int64) int64

// NeverReset is the default SessionEpochFunc: every bar belongs to the same
// session, so the VWAP accumulator never resets.
func NeverReset(_ int64) int64 { return 0 }

// VWAP accumulates volume-weighted typical price over a session.
type VWAP struct {
	epochFn       SessionEpochFunc
	currentEpoch  int64
	haveEpoch     bool
	cumPV         float64
	cumVol        float64
}

// NewVWAP creates a VWAP accumulator. A nil epochFn defaults to NeverReset
// per spec.md §9.
func NewVWAP(epochFn SessionEpochFunc) *VWAP {
	if epochFn == nil {
		epochFn = NeverReset
	}
	return &VWAP{epochFn: epochFn}
}

// Add feeds one closed bar and returns the current VWAP value.
func (v *VWAP) Add(b model.Bar) (float64, error) {
	if err := validateBar(b); err != nil {
		return 0, err
	}
	epoch := v.epochFn(b.OpenTimeMs)
	if !v.haveEpoch || epoch != v.currentEpoch {
		v.currentEpoch = epoch
		v.haveEpoch = true
		v.cumPV = 0
		v.cumVol = 0
	}

	typical := (b.High + b.Low + b.Close) / 3.0
	v.cumPV += typical * b.Volume
	v.cumVol += b.Volume

	if v.cumVol <= 0 {
		return 0, fmt.Errorf("%w: VWAP cumulative volume is zero", model.ErrInvalidInput)
	}
	return v.cumPV / v.cumVol, nil
}
