package aggregator

import (
	"testing"

	"github.com/sharplee/signalcore/internal/model"
)

func oneMin(openSec int64, o, h, l, c, v float64) model.Bar {
	return model.Bar{
		Instrument: "BTC-PERP",
		Timeframe:  model.TF1m,
		OpenTimeMs: openSec * 1000,
		Open:       o, High: h, Low: l, Close: c, Volume: v,
		Closed: true,
	}
}

func TestAggregator_FiveMinuteBoundary(t *testing.T) {
	// spec.md §8 scenario 5: opens at 300,360,420,480,540 -> one 5m bar at 300.
	a := New([]model.Timeframe{model.TF5m})

	bars := []model.Bar{
		oneMin(300, 10, 12, 9, 11, 1),
		oneMin(360, 11, 13, 10, 12, 2),
		oneMin(420, 12, 14, 8, 9, 3),
		oneMin(480, 9, 15, 7, 13, 4),
		oneMin(540, 13, 16, 11, 14, 5),
	}

	var emitted []model.Bar
	for _, b := range bars {
		out, err := a.Feed(b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		emitted = append(emitted, out...)
	}

	// The 5m slot starting at 300 only closes when a bar outside it arrives;
	// none of the fed bars advance past it, so nothing has emitted yet.
	if len(emitted) != 0 {
		t.Fatalf("expected no emission yet, got %d", len(emitted))
	}

	// Feed the bar that starts the next 5m slot (600) to flush the first.
	out, err := a.Feed(oneMin(600, 14, 14, 14, 14, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one emitted bar, got %d", len(out))
	}
	got := out[0]
	if got.OpenTimeMs != 300*1000 {
		t.Errorf("expected open_time=300000, got %d", got.OpenTimeMs)
	}
	if got.Open != 10 {
		t.Errorf("expected open=10, got %f", got.Open)
	}
	if got.High != 16 {
		t.Errorf("expected high=16, got %f", got.High)
	}
	if got.Low != 7 {
		t.Errorf("expected low=7, got %f", got.Low)
	}
	if got.Close != 14 {
		t.Errorf("expected close=14 (close of bar at 540), got %f", got.Close)
	}
	wantVol := 1.0 + 2 + 3 + 4 + 5
	if got.Volume != wantVol {
		t.Errorf("expected volume=%f, got %f", wantVol, got.Volume)
	}
	if !got.Closed {
		t.Error("expected emitted bar to be marked closed")
	}
	if got.OpenTimeMs%model.TF5m.PeriodMs() != 0 {
		t.Error("aggregated bar open_time must be aligned to period")
	}
}

func TestAggregator_RoundTrip(t *testing.T) {
	// spec.md §8 "Aggregator round-trip" law: three 1m bars filling one
	// aligned 3m slot roll up into a single 3m bar carrying the first open,
	// the max high, the min low, the last close and the summed volume.
	a := New([]model.Timeframe{model.TF3m})
	bars := []model.Bar{
		oneMin(0, 1, 2, 0.5, 1.5, 10),
		oneMin(60, 1.5, 2.5, 1, 2, 10),
		oneMin(120, 2, 3, 1.5, 2.5, 10),
		oneMin(180, 2.5, 3.5, 2, 3, 10), // starts next 3m slot, flushes first
	}
	var emitted []model.Bar
	for _, b := range bars {
		out, err := a.Feed(b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		emitted = append(emitted, out...)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected 1 emitted 3m bar, got %d", len(emitted))
	}
	got := emitted[0]
	if got.Open != 1 || got.High != 3 || got.Low != 0.5 || got.Close != 2.5 || got.Volume != 30 {
		t.Errorf("unexpected rollup: %+v", got)
	}
}

func TestAggregator_RejectsWrongTimeframeInput(t *testing.T) {
	a := New(nil)
	bad := oneMin(0, 1, 1, 1, 1, 1)
	bad.Timeframe = model.TF5m
	if _, err := a.Feed(bad); err == nil {
		t.Fatal("expected error feeding a non-1m bar")
	}
}

func TestAggregator_MultipleTimeframesIndependent(t *testing.T) {
	a := New([]model.Timeframe{model.TF3m, model.TF5m})
	for sec := int64(0); sec < 360; sec += 60 {
		if _, err := a.Feed(oneMin(sec, 1, 1, 1, 1, 1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// The loop already flushed the 3m slot at 0 (by the bar at 180) and the
	// 5m slot at 0 (by the bar at 300). The bar at 360 flushes the 3m slot
	// at 180; the 5m slot at 300 stays open.
	out, err := a.Feed(oneMin(360, 2, 2, 2, 2, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected at least one emission across timeframes")
	}
}
