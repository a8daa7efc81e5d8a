// Package atrtracker implements the per-(instrument, timeframe) bounded ATR
// history and empirical-CDF percentile query (spec.md §4.C).
package atrtracker

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sharplee/signalcore/internal/model"
)

const (
	// DefaultMaxHistory is the ring capacity (spec §6 atr_tracker.max_history).
	DefaultMaxHistory = 10_000
	// DefaultMinSamples is the minimum sample count before any percentile is
	// defined (spec §6 atr_tracker.min_samples).
	DefaultMinSamples = 200
)

// ring is a fixed-capacity circular buffer of ATR values for one key.
type ring struct {
	buf   []float64
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	idx := (r.start + r.count) % len(r.buf)
	if r.count < len(r.buf) {
		r.buf[idx] = v
		r.count++
	} else {
		r.buf[r.start] = v
		r.start = (r.start + 1) % len(r.buf)
	}
}

func (r *ring) values() []float64 {
	out := make([]float64, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Tracker maintains bounded ATR history per (instrument, timeframe) and
// answers percentile queries against the empirical CDF.
type Tracker struct {
	mu         sync.Mutex
	maxHistory int
	minSamples int
	rings      map[model.Key]*ring
}

// New creates a tracker with the given capacity and minimum-sample floor.
// Zero values fall back to the spec §6 defaults.
func New(maxHistory, minSamples int) *Tracker {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Tracker{
		maxHistory: maxHistory,
		minSamples: minSamples,
		rings:      make(map[model.Key]*ring),
	}
}

// Update appends one ATR observation after validating it is strictly
// positive and finite (spec §3 invariant: "every element of the ATR history
// is strictly positive, finite").
func (t *Tracker) Update(key model.Key, atrValue float64) error {
	if math.IsNaN(atrValue) || math.IsInf(atrValue, 0) || atrValue <= 0 {
		return fmt.Errorf("%w: ATR value %f is not strictly positive and finite", model.ErrInvalidInput, atrValue)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rings[key]
	if !ok {
		r = newRing(t.maxHistory)
		t.rings[key] = r
	}
	r.push(atrValue)
	return nil
}

// Percentile returns the empirical CDF value of atrValue against the
// tracked history, or (0, false) if fewer than minSamples are present.
func (t *Tracker) Percentile(key model.Key, atrValue float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rings[key]
	if !ok || r.count < t.minSamples {
		return 0, false
	}
	values := r.values()
	sort.Float64s(values)
	count := 0
	for _, v := range values {
		if v <= atrValue {
			count++
		}
	}
	return float64(count) / float64(len(values)), true
}

// Count returns the current sample count for a key (for diagnostics/tests).
func (t *Tracker) Count(key model.Key) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rings[key]; ok {
		return r.count
	}
	return 0
}

// BulkIngest replays up to maxHistory past ATR values from persistent
// storage in O(n), in chronological order, for startup warmup (spec §4.C).
// Values are validated the same way Update validates a single value; the
// first invalid value aborts the whole bulk load so partial/corrupt history
// never silently seeds the tracker.
func (t *Tracker) BulkIngest(key model.Key, atrValues []float64) error {
	for _, v := range atrValues {
		if err := t.Update(key, v); err != nil {
			return fmt.Errorf("bulk ingest aborted for %s: %w", key, err)
		}
	}
	return nil
}
