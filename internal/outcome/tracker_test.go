package outcome

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/model"
)

type fakeSignalStore struct {
	updates []closeCall
	maeCalls int
}

type closeCall struct {
	id         string
	state      model.SignalState
	closeTime  int64
	closePrice float64
}

func (f *fakeSignalStore) Save(ctx context.Context, sig model.Signal) error { return nil }
func (f *fakeSignalStore) UpdateState(ctx context.Context, id string, state model.SignalState, closeTime int64, closePrice float64) error {
	f.updates = append(f.updates, closeCall{id, state, closeTime, closePrice})
	return nil
}
func (f *fakeSignalStore) LoadActive(ctx context.Context) ([]model.Signal, error) { return nil, nil }
func (f *fakeSignalStore) UpdateMAEMFE(ctx context.Context, id string, mae, mfe float64) error {
	f.maeCalls++
	return nil
}

type fakeBus struct{ events []model.Event }

func (f *fakeBus) Publish(ctx context.Context, e model.Event) { f.events = append(f.events, e) }
func (f *fakeBus) Subscribe(h func(ctx context.Context, e model.Event)) {}

func newTestTracker() (*Tracker, *fakeSignalStore, *fakeBus) {
	store := &fakeSignalStore{}
	bus := &fakeBus{}
	tr := New(Deps{Log: zerolog.Nop(), Store: store, Bus: bus})
	return tr, store, bus
}

func longSignal() model.Signal {
	return model.Signal{
		ID: "sig-1", Instrument: "BTC-PERP", Timeframe: model.TF1m,
		Direction: model.Long, Entry: 100, TP: 102, SL: 91.16,
		State: model.StateActive,
	}
}

func TestTracker_BarPath_BothTouchedResolvesSL(t *testing.T) {
	// spec.md §8 scenario 4: both tp and sl fall within one bar's range ->
	// pessimistic rule resolves SL.
	tr, store, bus := newTestTracker()
	sig := longSignal()
	tr.Track(sig)

	bar := model.Bar{Instrument: sig.Instrument, Timeframe: sig.Timeframe, OpenTimeMs: 1000, High: 103, Low: 91, Open: 100, Close: 95, Volume: 1, Closed: true}
	if err := tr.OnClosedBar(context.Background(), bar); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.updates) != 1 || store.updates[0].state != model.StateSL {
		t.Fatalf("expected one SL close update, got %+v", store.updates)
	}
	if store.updates[0].closePrice != sig.SL {
		t.Errorf("expected close price %f, got %f", sig.SL, store.updates[0].closePrice)
	}
	if len(bus.events) != 1 || bus.events[0].Kind != model.EventSignalClosed {
		t.Fatalf("expected exactly one SIGNAL_CLOSED event, got %+v", bus.events)
	}
	if tr.Count() != 0 {
		t.Fatal("expected signal removed from active set after close")
	}
}

func TestTracker_BarPath_TPOnlyResolvesTP(t *testing.T) {
	tr, store, _ := newTestTracker()
	sig := longSignal()
	tr.Track(sig)

	bar := model.Bar{Instrument: sig.Instrument, Timeframe: sig.Timeframe, OpenTimeMs: 1000, High: 102, Low: 99, Open: 100, Close: 101, Volume: 1, Closed: true}
	if err := tr.OnClosedBar(context.Background(), bar); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updates) != 1 || store.updates[0].state != model.StateTP {
		t.Fatalf("expected one TP close update, got %+v", store.updates)
	}
}

func TestTracker_TickPath_LongHitsSL(t *testing.T) {
	tr, store, bus := newTestTracker()
	sig := longSignal()
	tr.Track(sig)

	if err := tr.OnTrade(context.Background(), model.Trade{Instrument: sig.Instrument, TimestampMs: 500, Price: 91.16}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updates) != 1 || store.updates[0].state != model.StateSL {
		t.Fatalf("expected SL close, got %+v", store.updates)
	}
	if len(bus.events) != 1 {
		t.Fatalf("expected one event, got %d", len(bus.events))
	}
}

func TestTracker_TickPath_NoTouchPublishesThrottledMAEOnly(t *testing.T) {
	tr, store, bus := newTestTracker()
	sig := longSignal()
	tr.Track(sig)

	// First tick always publishes (lastPublish zero value is far in the past).
	if err := tr.OnTrade(context.Background(), model.Trade{Instrument: sig.Instrument, TimestampMs: 100, Price: 95}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updates) != 0 {
		t.Fatal("expected no close update on a non-touching trade")
	}
	if store.maeCalls != 1 {
		t.Fatalf("expected one mae/mfe persist call, got %d", store.maeCalls)
	}
	if len(bus.events) != 1 || bus.events[0].Kind != model.EventSignalMAEUpdate {
		t.Fatalf("expected one MAE update event, got %+v", bus.events)
	}

	// A second tick immediately after should be throttled (no new publish).
	if err := tr.OnTrade(context.Background(), model.Trade{Instrument: sig.Instrument, TimestampMs: 101, Price: 96}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.maeCalls != 1 {
		t.Fatalf("expected throttle to suppress the second publish, got %d calls", store.maeCalls)
	}
}

func TestTracker_NoEventsAfterClose(t *testing.T) {
	// spec.md §4.F ordering guarantee: at most one outcome event, ever.
	tr, store, bus := newTestTracker()
	sig := longSignal()
	tr.Track(sig)

	if err := tr.OnTrade(context.Background(), model.Trade{Instrument: sig.Instrument, TimestampMs: 1, Price: 102}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.OnTrade(context.Background(), model.Trade{Instrument: sig.Instrument, TimestampMs: 2, Price: 102}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updates) != 1 {
		t.Fatalf("expected exactly one close update across both trades, got %d", len(store.updates))
	}
	closedEvents := 0
	for _, e := range bus.events {
		if e.Kind == model.EventSignalClosed {
			closedEvents++
		}
	}
	if closedEvents != 1 {
		t.Fatalf("expected exactly one SIGNAL_CLOSED event, got %d", closedEvents)
	}
}

func TestTracker_ShortDirectionMirrorsLong(t *testing.T) {
	tr, store, _ := newTestTracker()
	sig := model.Signal{ID: "sig-short", Instrument: "BTC-PERP", Timeframe: model.TF1m, Direction: model.Short, Entry: 100, TP: 96, SL: 104.42}
	tr.Track(sig)

	if err := tr.OnTrade(context.Background(), model.Trade{Instrument: sig.Instrument, TimestampMs: 1, Price: 104.42}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updates) != 1 || store.updates[0].state != model.StateSL {
		t.Fatalf("expected SHORT sl touch to close as SL, got %+v", store.updates)
	}
}

func TestTracker_UnrelatedInstrumentUntouched(t *testing.T) {
	tr, store, _ := newTestTracker()
	sig := longSignal()
	tr.Track(sig)

	if err := tr.OnTrade(context.Background(), model.Trade{Instrument: "ETH-PERP", TimestampMs: 1, Price: 1000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updates) != 0 {
		t.Fatal("expected trades on an unrelated instrument to have no effect")
	}
	if tr.Count() != 1 {
		t.Fatal("expected tracked signal to remain active")
	}
}
