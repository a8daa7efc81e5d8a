package atrtracker

import (
	"testing"

	"github.com/sharplee/signalcore/internal/model"
)

func testKey() model.Key {
	return model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}
}

func TestTracker_PercentileNullBelowMinSamples(t *testing.T) {
	tr := New(100, 200)
	k := testKey()
	for i := 0; i < 199; i++ {
		if err := tr.Update(k, 10.0+float64(i)*0.01); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, ok := tr.Percentile(k, 10.0); ok {
		t.Fatal("expected percentile to be null below min samples")
	}
}

func TestTracker_PercentileDefinedAtExactlyMinSamples(t *testing.T) {
	tr := New(1000, 200)
	k := testKey()
	for i := 0; i < 200; i++ {
		if err := tr.Update(k, float64(i+1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	p, ok := tr.Percentile(k, 100.0)
	if !ok {
		t.Fatal("expected percentile defined at exactly 200 samples")
	}
	if p != 0.5 {
		t.Errorf("expected percentile 0.5 for median value, got %f", p)
	}
}

func TestTracker_RejectsNonPositive(t *testing.T) {
	tr := New(10, 1)
	k := testKey()
	if err := tr.Update(k, 0); err == nil {
		t.Fatal("expected error for zero ATR")
	}
	if err := tr.Update(k, -5); err == nil {
		t.Fatal("expected error for negative ATR")
	}
}

func TestTracker_RingDropsOldestWhenFull(t *testing.T) {
	tr := New(3, 1)
	k := testKey()
	for _, v := range []float64{1, 2, 3, 4} {
		if err := tr.Update(k, v); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if tr.Count(k) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", tr.Count(k))
	}
	// value 1 should have been evicted; percentile(1) should now be 0/3.
	p, ok := tr.Percentile(k, 1.0)
	if !ok {
		t.Fatal("expected percentile defined")
	}
	if p != 0 {
		t.Errorf("expected evicted value 1 to contribute 0 to percentile, got %f", p)
	}
}

func TestTracker_BulkIngestLoadsAllValues(t *testing.T) {
	tr := New(10_000, 200)
	k := testKey()
	vals := make([]float64, 500)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	if err := tr.BulkIngest(k, vals); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Count(k) != 500 {
		t.Fatalf("expected 500 samples, got %d", tr.Count(k))
	}
}

func TestTracker_BulkIngestAbortsOnInvalidValue(t *testing.T) {
	tr := New(10, 1)
	k := testKey()
	err := tr.BulkIngest(k, []float64{1, 2, -1, 4})
	if err == nil {
		t.Fatal("expected bulk ingest to fail on invalid value")
	}
}
