// Package engine wires the pure strategy kernel's components into the
// single serialization domain spec.md §5 requires: one mutex guarding the
// aggregator, ATR tracker, streak map, and lock set, so every mutation of
// core state is serialized from any caller's perspective. This is the
// chosen reference shape recorded in DESIGN.md's serialization-domain open
// question (single mutex over a channel-fed writer goroutine).
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/aggregator"
	"github.com/sharplee/signalcore/internal/atrtracker"
	"github.com/sharplee/signalcore/internal/config"
	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/outcome"
	"github.com/sharplee/signalcore/internal/poslock"
	"github.com/sharplee/signalcore/internal/ports"
	"github.com/sharplee/signalcore/internal/signalgen"
	"github.com/sharplee/signalcore/internal/streak"
)

// Core is the engine's single serialization domain: the only place
// OnClosedBar1m/OnTrade bodies run is under its mutex, matching spec §5's
// requirement that the closed-bar handler, ACTIVE-signal set, lock set,
// streak tracker, ATR tracker, and aggregator appear serialized from any
// caller's perspective.
type Core struct {
	log zerolog.Logger

	mu sync.Mutex

	agg      *aggregator.Aggregator
	atr      *atrtracker.Tracker
	streaks  *streak.Tracker
	locks    *poslock.Set
	siggen   *signalgen.Generator
	outcomes *outcome.Tracker

	prevBars map[model.Key]model.Bar
	havePrev map[model.Key]bool

	bus         ports.ObserverBus
	streakStore ports.StreakStore
}

// Deps bundles Core's constructor dependencies.
type Deps struct {
	Log           zerolog.Logger
	Strategy      config.StrategyConfig
	ATRTracker    config.ATRTrackerConfig
	Filters       map[string]model.FilterConfig
	Timeframes    []model.Timeframe
	BarStore      ports.BarStore
	SignalStore   ports.SignalStore
	StreakStore   ports.StreakStore
	Bus           ports.ObserverBus
	SignalMetrics signalgen.Metrics
	// LockMirror optionally republishes lock acquire/release to an external
	// store (e.g. Redis) for cross-process visibility. Nil is a no-op.
	LockMirror poslock.Mirror
	// ATRCache optionally persists every ATR observation to external storage
	// (e.g. Redis) so a restart can warm-start the percentile tracker. Nil is
	// a no-op.
	ATRCache signalgen.ATRAppender
}

// New constructs a Core and wires the outcome tracker's SIGNAL_CLOSED
// publication back into the streak tracker and the position lock — the
// piece of the data flow spec.md §2 describes as "on closure — updates D
// and releases the lock in E" — via the observer bus rather than a direct
// call, so the wiring is visible and testable at the bus boundary.
func New(d Deps) *Core {
	atr := atrtracker.New(d.ATRTracker.MaxHistory, d.ATRTracker.MinSamples)
	streaks := streak.New()
	locks := poslock.New(d.LockMirror)

	siggen := signalgen.New(signalgen.Deps{
		Log:      d.Log,
		ATR:      atr,
		Streaks:  streaks,
		Locks:    locks,
		Filters:  d.Filters,
		Config:   d.Strategy,
		Store:    d.SignalStore,
		Bus:      d.Bus,
		Metrics:  d.SignalMetrics,
		ATRCache: d.ATRCache,
	})

	outcomes := outcome.New(outcome.Deps{
		Log:   d.Log,
		Store: d.SignalStore,
		Bus:   d.Bus,
	})

	c := &Core{
		log:         d.Log.With().Str("component", "engine").Logger(),
		agg:         aggregator.New(d.Timeframes),
		atr:         atr,
		streaks:     streaks,
		locks:       locks,
		siggen:      siggen,
		outcomes:    outcomes,
		prevBars:    make(map[model.Key]model.Bar),
		havePrev:    make(map[model.Key]bool),
		bus:         d.Bus,
		streakStore: d.StreakStore,
	}

	if d.Bus != nil {
		d.Bus.Subscribe(c.onEvent)
	}
	return c
}

// onEvent is the engine's own observer-bus subscription. Both event kinds it
// handles are always published synchronously from a call already holding
// c.mu (signalgen.OnClosedBar and outcome.Tracker.close are only ever
// invoked from OnClosedBar1m/OnTrade below), so onEvent mutates state
// directly without re-locking — re-locking here would deadlock against the
// held mutex up the same call stack.
func (c *Core) onEvent(ctx context.Context, e model.Event) {
	switch e.Kind {
	case model.EventSignalEmitted:
		if e.Signal != nil {
			c.outcomes.Track(*e.Signal)
		}
	case model.EventSignalClosed:
		if e.Closed != nil {
			state := c.streaks.Record(e.Closed.Key, e.Closed.Outcome)
			c.locks.Release(e.Closed.Key)
			if c.streakStore != nil {
				if err := c.streakStore.Save(ctx, e.Closed.Key, state); err != nil {
					c.log.Warn().Err(err).Str("key", e.Closed.Key.String()).Msg("persist streak failed")
				}
			}
		}
	}
}

// OnClosedBar1m is the ingestion pipeline's closed-bar handler for the
// finest granularity (1-minute) bars. It enforces spec §5's fixed
// per-invocation order: bar-path outcome check on ACTIVE signals →
// 1-minute signal-generator invocation → aggregator emission →
// per-higher-timeframe signal-generator invocation.
func (c *Core) OnClosedBar1m(ctx context.Context, bar model.Bar) error {
	if bar.Timeframe != model.TF1m {
		return fmt.Errorf("engine: OnClosedBar1m requires a 1m bar, got %s", bar.Timeframe)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.outcomes.OnClosedBar(ctx, bar); err != nil {
		return err
	}
	if err := c.processTimeframe(ctx, bar); err != nil {
		return err
	}

	higher, err := c.agg.Feed(bar)
	if err != nil {
		return err
	}
	for _, hb := range higher {
		if err := c.processTimeframe(ctx, hb); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) processTimeframe(ctx context.Context, bar model.Bar) error {
	key := bar.Key()
	prev := c.prevBars[key]
	havePrev := c.havePrev[key]
	if err := c.siggen.OnClosedBar(ctx, bar, prev, havePrev); err != nil {
		return err
	}
	c.prevBars[key] = bar
	c.havePrev[key] = true
	return nil
}

// OnTrade is the tick path (spec §4.F): it only ever closes signals, never
// emits them, so it shares the engine's mutex rather than running on a
// separate path — the ordering guarantee in §5 ("ticks ... may interleave
// with bar processing; the outcome path never emits signals") is satisfied
// because the tick path cannot race the bar path for the same mutation.
func (c *Core) OnTrade(ctx context.Context, trade model.Trade) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes.OnTrade(ctx, trade)
}

// Seed advances aggregation state from a historical 1-minute bar without
// running signal detection or outcome checks — used by the ingestion
// pipeline's RESTORE phase (spec §4.G). The signal generator's indicator
// calculators are not advanced by Seed; they warm up only from bars passed
// to OnClosedBar1m.
func (c *Core) Seed(bar model.Bar) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agg.Seed(bar)
}

// LoadStreaks seeds the streak tracker from persisted state at startup.
func (c *Core) LoadStreaks(states map[model.Key]model.StreakState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaks.LoadAll(states)
}

// BulkIngestATR replays persisted ATR history into the percentile tracker
// at startup (spec §4.C warmup).
func (c *Core) BulkIngestATR(key model.Key, values []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atr.BulkIngest(key, values)
}

// ActiveOutcomeCount reports how many signals the outcome tracker currently
// holds ACTIVE, for diagnostics.
func (c *Core) ActiveOutcomeCount() int {
	return c.outcomes.Count()
}

// TrackSignal registers sig as ACTIVE with the outcome tracker. Newly
// emitted signals reach the tracker through the core's own event handler;
// TrackSignal is exposed so the ingestion pipeline's RESTORE phase can
// reattach emitted-but-unresolved signals loaded via
// ports.SignalStore.LoadActive.
func (c *Core) TrackSignal(sig model.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes.Track(sig)
}
