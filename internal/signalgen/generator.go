// Package signalgen implements the signal generator (spec.md §4.E):
// per-bar retest detection against Fibonacci/VWAP levels, TP/SL pricing,
// the filter gate, and position-lock acquisition.
package signalgen

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/atrtracker"
	"github.com/sharplee/signalcore/internal/config"
	"github.com/sharplee/signalcore/internal/indicators"
	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/poslock"
	"github.com/sharplee/signalcore/internal/ports"
	"github.com/sharplee/signalcore/internal/streak"
)

// idNamespace is a fixed UUID namespace so signal IDs are deterministic and
// stable across restarts (spec §7: "signal id assignments ... are stable").
var idNamespace = uuid.MustParse("6f1c6e2e-6e0a-4c1a-9b2e-9e2a1c7d4b01")

// DeterministicID derives a signal's globally-unique, restart-stable ID from
// its natural key, per spec §7.
func DeterministicID(instrument string, tf model.Timeframe, openTimeMs int64, dir model.Direction) string {
	name := fmt.Sprintf("%s|%s|%d|%s", instrument, tf, openTimeMs, dir)
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

// Generator is the stateful signal generator for the whole instrument
// universe. It is not internally goroutine-safe against concurrent
// OnClosedBar calls for the SAME key — callers (the engine) must route bars
// for a given instrument through a single serialization domain per spec §5.
type Generator struct {
	log zerolog.Logger

	mu          sync.Mutex
	calculators map[model.Key]*indicators.Calculator

	atr     *atrtracker.Tracker
	streaks *streak.Tracker
	locks   *poslock.Set

	filters map[string]model.FilterConfig // nil = legacy/testing accept-all mode
	cfg     config.StrategyConfig

	store    ports.SignalStore
	bus      ports.ObserverBus
	metrics  Metrics
	atrCache ATRAppender
}

// Metrics is the narrow set of counters the generator increments; nil fields
// are no-ops. Kept as an interface of individual funcs so tests don't need a
// full Prometheus registry.
type Metrics struct {
	IncSignalEmitted  func(key model.Key, dir model.Direction)
	IncSignalDiscard  func(key model.Key, reason string)
	IncAnomaly        func(key model.Key)
}

// ATRAppender optionally mirrors every ATR observation to external storage
// (e.g. Redis) so a restarted engine can BulkIngest cached history into
// atrtracker.Tracker instead of rebuilding percentile accuracy from scratch
// via REPLAY alone (spec §4.C warm-start path).
type ATRAppender interface {
	Append(ctx context.Context, key model.Key, atrValue float64)
}

// Deps bundles the Generator's constructor dependencies.
type Deps struct {
	Log     zerolog.Logger
	ATR     *atrtracker.Tracker
	Streaks *streak.Tracker
	Locks   *poslock.Set
	Filters map[string]model.FilterConfig
	Config  config.StrategyConfig
	Store   ports.SignalStore
	Bus     ports.ObserverBus
	Metrics Metrics
	// ATRCache optionally mirrors ATR observations for restart warm-start.
	// Nil is a no-op.
	ATRCache ATRAppender
}

// New creates a signal generator.
func New(d Deps) *Generator {
	return &Generator{
		log:         d.Log.With().Str("component", "signalgen").Logger(),
		calculators: make(map[model.Key]*indicators.Calculator),
		atr:         d.ATR,
		streaks:     d.Streaks,
		locks:       d.Locks,
		filters:     d.Filters,
		cfg:         d.Config,
		store:       d.Store,
		bus:         d.Bus,
		metrics:     d.Metrics,
		atrCache:    d.ATRCache,
	}
}

func (g *Generator) calculatorFor(key model.Key) *indicators.Calculator {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calculators[key]
	if !ok {
		c = indicators.NewCalculator(indicators.Config{
			EMAPeriod: g.cfg.EMAPeriod,
			ATRPeriod: g.cfg.ATRPeriod,
			FibWindow: g.cfg.FibWindow,
		})
		g.calculators[key] = c
	}
	return c
}

type level struct {
	name  string
	value float64
}

func proximityScore(price, level float64) float64 {
	return 1.0 / (1.0 + math.Abs(price-level)/price*100.0)
}

// OnClosedBar is spec §4.E's per-bar entry point. prev may be the zero value
// if there is no prior closed bar yet for this series (warmup), in which
// case prior-bar-touch detection simply never contributes.
func (g *Generator) OnClosedBar(ctx context.Context, bar model.Bar, prev model.Bar, havePrev bool) error {
	key := bar.Key()

	calc := g.calculatorFor(key)
	snap, err := calc.Add(bar)
	if err != nil {
		return err
	}
	if !snap.Valid {
		return nil
	}

	// Step 2: update ATR tracker unconditionally with every closed bar,
	// filtered-out candidates included, so the distribution stays unbiased.
	if err := g.atr.Update(key, snap.ATR9); err != nil {
		return err
	}
	if g.atrCache != nil {
		g.atrCache.Append(ctx, key, snap.ATR9)
	}

	// Step 3: position lock check.
	if g.locks.Locked(key) {
		return nil
	}

	levels := []level{
		{"fib_382", snap.Fib382},
		{"fib_500", snap.Fib500},
		{"fib_618", snap.Fib618},
		{"vwap", snap.VWAP},
	}

	var supportScore, resistanceScore float64
	var nearestSupport, nearestResistance float64
	haveSupport, haveResistance := false, false
	nearestSupportDist, nearestResistanceDist := math.Inf(1), math.Inf(1)

	for _, lv := range levels {
		score := proximityScore(bar.Close, lv.value)
		dist := math.Abs(bar.Close - lv.value)
		if bar.Close > lv.value {
			supportScore += score
			if dist < nearestSupportDist {
				nearestSupportDist = dist
				nearestSupport = lv.value
				haveSupport = true
			}
		} else {
			resistanceScore += score
			if dist < nearestResistanceDist {
				nearestResistanceDist = dist
				nearestResistance = lv.value
				haveResistance = true
			}
		}
	}

	shortTouch := haveSupport && (bar.Low <= nearestSupport || (havePrev && prev.Low <= nearestSupport))
	shortCandidate := bar.Close > snap.EMA50 &&
		haveSupport &&
		supportScore >= g.cfg.ScoreThreshold &&
		shortTouch &&
		bar.Close > bar.Open

	longTouch := haveResistance && (bar.High >= nearestResistance || (havePrev && prev.High >= nearestResistance))
	longCandidate := bar.Close < snap.EMA50 &&
		haveResistance &&
		resistanceScore >= g.cfg.ScoreThreshold &&
		longTouch &&
		bar.Close < bar.Open

	if shortCandidate && longCandidate {
		// Mutually exclusive by construction (EMA test); treat as an
		// anomaly and emit nothing rather than guess.
		g.log.Warn().Str("key", key.String()).Msg("signal generator: both LONG and SHORT candidates matched on the same bar; discarding")
		if g.metrics.IncAnomaly != nil {
			g.metrics.IncAnomaly(key)
		}
		return nil
	}

	var dir model.Direction
	var entry, tp, sl float64
	switch {
	case shortCandidate:
		dir = model.Short
		entry = bar.Close
		tp = math.Max(entry-g.cfg.TPAtrMult*snap.ATR9, bar.Low-snap.ATR9)
		sl = entry + g.cfg.SLAtrMult*snap.ATR9
	case longCandidate:
		dir = model.Long
		entry = bar.Close
		tp = math.Min(entry+g.cfg.TPAtrMult*snap.ATR9, bar.High+snap.ATR9)
		sl = entry - g.cfg.SLAtrMult*snap.ATR9
	default:
		return nil
	}

	streakAtSignal := g.streaks.Get(key)

	percentile, percOK := g.atr.Percentile(key, snap.ATR9)
	if !g.passesFilterGate(key, streakAtSignal, percentile, percOK) {
		if g.metrics.IncSignalDiscard != nil {
			g.metrics.IncSignalDiscard(key, "filter_gate")
		}
		return nil
	}

	sig := model.Signal{
		ID:             DeterministicID(bar.Instrument, bar.Timeframe, bar.OpenTimeMs, dir),
		Instrument:     bar.Instrument,
		Timeframe:      bar.Timeframe,
		TimeMs:         bar.OpenTimeMs,
		Direction:      dir,
		Entry:          entry,
		TP:             tp,
		SL:             sl,
		ATRAtSignal:    snap.ATR9,
		StreakAtSignal: streakAtSignal,
		State:          model.StateActive,
	}

	if err := sig.Validate(); err != nil {
		return fmt.Errorf("%w: generated signal failed validation: %v", model.ErrInvariantViolation, err)
	}

	if err := g.store.Save(ctx, sig); err != nil {
		return fmt.Errorf("%w: persist signal: %v", model.ErrTransientPort, err)
	}

	if !g.locks.Acquire(key, sig.ID) {
		return fmt.Errorf("%w: position lock already held for %s after persistence succeeded", model.ErrInvariantViolation, key)
	}

	if g.metrics.IncSignalEmitted != nil {
		g.metrics.IncSignalEmitted(key, dir)
	}
	if g.bus != nil {
		g.bus.Publish(ctx, model.Event{Kind: model.EventSignalEmitted, Signal: &sig})
	}
	return nil
}

// passesFilterGate implements spec §4.E step 10. A nil filter map means no
// config was loaded: legacy/testing mode accepts every candidate.
func (g *Generator) passesFilterGate(key model.Key, streakAtSignal int, percentile float64, percOK bool) bool {
	if g.filters == nil {
		return true
	}
	fc, ok := g.filters[key.String()]
	if !ok || !fc.Enabled {
		return false
	}
	if streakAtSignal < fc.StreakLo || streakAtSignal > fc.StreakHi {
		return false
	}
	if !percOK {
		return false
	}
	if percentile <= fc.ATRPctThreshold {
		return false
	}
	return true
}
