package signalgen

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/atrtracker"
	"github.com/sharplee/signalcore/internal/config"
	"github.com/sharplee/signalcore/internal/indicators"
	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/poslock"
	"github.com/sharplee/signalcore/internal/streak"
)

type fakeSignalStore struct {
	saved []model.Signal
	err   error
}

func (f *fakeSignalStore) Save(ctx context.Context, sig model.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, sig)
	return nil
}
func (f *fakeSignalStore) UpdateState(ctx context.Context, id string, state model.SignalState, closeTime int64, closePrice float64) error {
	return nil
}
func (f *fakeSignalStore) LoadActive(ctx context.Context) ([]model.Signal, error) { return nil, nil }
func (f *fakeSignalStore) UpdateMAEMFE(ctx context.Context, id string, mae, mfe float64) error {
	return nil
}

type fakeBus struct{ events []model.Event }

func (f *fakeBus) Publish(ctx context.Context, e model.Event) { f.events = append(f.events, e) }
func (f *fakeBus) Subscribe(h func(ctx context.Context, e model.Event)) {}

type fakeATRCache struct {
	appends []float64
}

func (f *fakeATRCache) Append(ctx context.Context, key model.Key, atrValue float64) {
	f.appends = append(f.appends, atrValue)
}

func newTestGenerator(filters map[string]model.FilterConfig) (*Generator, *fakeSignalStore, *fakeBus, *atrtracker.Tracker, *streak.Tracker, *poslock.Set) {
	g, store, bus, atr, streaks, locks, _ := newTestGeneratorWithATRCache(filters)
	return g, store, bus, atr, streaks, locks
}

func newTestGeneratorWithATRCache(filters map[string]model.FilterConfig) (*Generator, *fakeSignalStore, *fakeBus, *atrtracker.Tracker, *streak.Tracker, *poslock.Set, *fakeATRCache) {
	atr := atrtracker.New(10_000, 200)
	streaks := streak.New()
	locks := poslock.New(nil)
	store := &fakeSignalStore{}
	bus := &fakeBus{}
	cache := &fakeATRCache{}
	g := New(Deps{
		Log:      zerolog.Nop(),
		ATR:      atr,
		Streaks:  streaks,
		Locks:    locks,
		Filters:  filters,
		Config:   config.DefaultStrategyConfig(),
		Store:    store,
		Bus:      bus,
		ATRCache: cache,
	})
	return g, store, bus, atr, streaks, locks, cache
}

// warmSeries feeds n bars of constant OHLC shape to warm up EMA/ATR/Fib
// without producing any signal, then returns the last fed bar.
func warmSeries(t *testing.T, g *Generator, key model.Key, n int, atrSeed *atrtracker.Tracker, minSamples int) model.Bar {
	t.Helper()
	var last model.Bar
	var prev model.Bar
	havePrev := false
	for i := 0; i < n; i++ {
		b := model.Bar{
			Instrument: key.Instrument, Timeframe: key.Timeframe,
			OpenTimeMs: int64(i) * key.Timeframe.PeriodMs(),
			Open: 50, High: 51, Low: 49, Close: 50, Volume: 1, Closed: true,
		}
		if err := g.OnClosedBar(context.Background(), b, prev, havePrev); err != nil {
			t.Fatalf("unexpected error warming series: %v", err)
		}
		prev, havePrev = b, true
		last = b
	}
	return last
}

func TestGenerator_ShortRetestEmit(t *testing.T) {
	// spec.md §8 scenario 1, adapted to run through the real indicator
	// calculator: we can't force EMA/ATR/fib to exact values through the
	// public API, so this test drives the generator with a constructed
	// history that yields a SHORT retest (EMA50 ~99.1, fib_382 ~100.7,
	// ATR ~2.44 rather than the scenario's 10), then checks the emitted
	// signal's pricing formula against the signal's own ATR.
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}
	g, store, bus, _, _, locks := newTestGenerator(nil) // legacy accept-all mode

	// Build 60 identical bars (close 99) so EMA50 settles at 99, then feed
	// the trigger bar (bullish close=102, open=100); with it the last 9
	// bars span 97..103, and its low dips to touch support ~100.7.
	var prev model.Bar
	havePrev := false
	for i := 0; i < 60; i++ {
		o, h, l, c := 99.0, 100.0, 98.0, 99.0
		b := model.Bar{Instrument: key.Instrument, Timeframe: key.Timeframe, OpenTimeMs: int64(i) * 60_000, Open: o, High: h, Low: l, Close: c, Volume: 1, Closed: true}
		if err := g.OnClosedBar(context.Background(), b, prev, havePrev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		prev, havePrev = b, true
	}

	trigger := model.Bar{Instrument: key.Instrument, Timeframe: key.Timeframe, OpenTimeMs: 60 * 60_000, Open: 100, High: 103, Low: 97, Close: 102, Volume: 1, Closed: true}
	if err := g.OnClosedBar(context.Background(), trigger, prev, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.saved) != 1 {
		t.Fatalf("expected exactly one signal saved, got %d", len(store.saved))
	}
	sig := store.saved[0]
	if sig.Direction != model.Short {
		t.Fatalf("expected SHORT signal, got %s", sig.Direction)
	}
	if sig.Entry != 102 {
		t.Errorf("expected entry=102, got %f", sig.Entry)
	}
	wantSL := 102 + 8.84*sig.ATRAtSignal
	if math.Abs(sig.SL-wantSL) > 1e-6 {
		t.Errorf("expected sl=%f, got %f", wantSL, sig.SL)
	}
	if !locks.Locked(key) {
		t.Error("expected position lock acquired after emission")
	}
	if len(bus.events) != 1 || bus.events[0].Kind != model.EventSignalEmitted {
		t.Error("expected one SIGNAL_EMITTED event")
	}
}

func TestGenerator_PositionLockBlocksSecondEmission(t *testing.T) {
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}
	g, store, _, _, _, locks := newTestGenerator(nil)
	locks.Acquire(key, "existing-signal")

	// Same warmup + trigger as TestGenerator_ShortRetestEmit, so the last
	// bar is a SHORT candidate that only the lock stops.
	var prev model.Bar
	for i := 0; i <= 60; i++ {
		b := model.Bar{Instrument: key.Instrument, Timeframe: key.Timeframe, OpenTimeMs: int64(i) * 60_000, Open: 99, High: 100, Low: 98, Close: 99, Volume: 1, Closed: true}
		if i == 60 {
			b.Open, b.High, b.Low, b.Close = 100, 103, 97, 102
		}
		if err := g.OnClosedBar(context.Background(), b, prev, i > 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		prev = b
	}
	if len(store.saved) != 0 {
		t.Fatalf("expected no signals while locked, got %d", len(store.saved))
	}
}

func TestGenerator_FilterRejectsWhenNotWhitelisted(t *testing.T) {
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}
	g, store, _, _, _, _ := newTestGenerator(map[string]model.FilterConfig{}) // empty whitelist

	// Same warmup + trigger as TestGenerator_ShortRetestEmit, so the last
	// bar is a SHORT candidate that only the filter stops.
	var prev model.Bar
	for i := 0; i <= 60; i++ {
		b := model.Bar{Instrument: key.Instrument, Timeframe: key.Timeframe, OpenTimeMs: int64(i) * 60_000, Open: 99, High: 100, Low: 98, Close: 99, Volume: 1, Closed: true}
		if i == 60 {
			b.Open, b.High, b.Low, b.Close = 100, 103, 97, 102
		}
		if err := g.OnClosedBar(context.Background(), b, prev, i > 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		prev = b
	}
	if len(store.saved) != 0 {
		t.Fatalf("expected no signals for unlisted key, got %d", len(store.saved))
	}
}

func TestGenerator_DiscardedCandidateDoesNotMutateStreakOrLock(t *testing.T) {
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}
	g, store, _, _, streaks, locks := newTestGenerator(map[string]model.FilterConfig{
		key.String(): {Enabled: true, StreakLo: -1, StreakHi: 1, ATRPctThreshold: 1.1}, // impossible threshold: always discards
	})

	// Same warmup + trigger as TestGenerator_ShortRetestEmit, so the last
	// bar is a SHORT candidate that the filter gate discards.
	var prev model.Bar
	for i := 0; i <= 60; i++ {
		b := model.Bar{Instrument: key.Instrument, Timeframe: key.Timeframe, OpenTimeMs: int64(i) * 60_000, Open: 99, High: 100, Low: 98, Close: 99, Volume: 1, Closed: true}
		if i == 60 {
			b.Open, b.High, b.Low, b.Close = 100, 103, 97, 102
		}
		if err := g.OnClosedBar(context.Background(), b, prev, i > 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		prev = b
	}
	if len(store.saved) != 0 {
		t.Fatalf("expected discard, got %d saved", len(store.saved))
	}
	if locks.Locked(key) {
		t.Error("expected lock untouched by discarded candidate")
	}
	if streaks.Get(key) != 0 {
		t.Error("expected streak untouched by discarded candidate")
	}
}

func TestGenerator_MirrorsEveryValidATRObservationToCache(t *testing.T) {
	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}
	g, _, _, atr, _, _, cache := newTestGeneratorWithATRCache(nil)

	warmSeries(t, g, key, 60, atr, 9)

	if len(cache.appends) == 0 {
		t.Fatal("expected at least one ATR observation mirrored to the cache")
	}
	for _, v := range cache.appends {
		if v <= 0 {
			t.Fatalf("expected every mirrored ATR value to be strictly positive, got %f", v)
		}
	}
}

func TestDeterministicID_StableAcrossCalls(t *testing.T) {
	id1 := DeterministicID("BTC-PERP", model.TF5m, 1000, model.Short)
	id2 := DeterministicID("BTC-PERP", model.TF5m, 1000, model.Short)
	if id1 != id2 {
		t.Fatal("expected deterministic ID to be stable")
	}
	id3 := DeterministicID("BTC-PERP", model.TF5m, 1000, model.Long)
	if id1 == id3 {
		t.Fatal("expected different direction to produce different ID")
	}
}

var _ = indicators.DefaultConfig // keep import referenced if test layout changes
