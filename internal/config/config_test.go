package config

import (
	"testing"

	"github.com/sharplee/signalcore/internal/model"
)

func TestRoot_ValidateDefaults(t *testing.T) {
	r := Root{
		Strategy:   DefaultStrategyConfig(),
		ATRTracker: DefaultATRTrackerConfig(),
		Ingestion:  DefaultIngestionConfig(),
		Portfolio:  PortfolioA,
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestRoot_ValidateRejectsBadPortfolio(t *testing.T) {
	r := Root{
		Strategy:   DefaultStrategyConfig(),
		ATRTracker: DefaultATRTrackerConfig(),
		Ingestion:  DefaultIngestionConfig(),
		Portfolio:  "not-a-mode",
	}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for unknown portfolio mode")
	}
}

func TestRoot_ValidateRejectsInvertedStreakRange(t *testing.T) {
	r := Root{
		Strategy:   DefaultStrategyConfig(),
		ATRTracker: DefaultATRTrackerConfig(),
		Ingestion:  DefaultIngestionConfig(),
		Portfolio:  PortfolioCustom,
		Strategies: map[string]model.FilterConfig{
			"BTC-PERP:5m": {Enabled: true, StreakLo: 3, StreakHi: -3, ATRPctThreshold: 0.5},
		},
	}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for inverted streak range")
	}
}

func TestRoot_ResolveFiltersPicksPreset(t *testing.T) {
	r := Root{Portfolio: PortfolioA}
	if len(r.ResolveFilters()) != len(PresetA) {
		t.Fatal("expected preset A to be resolved")
	}
	r.Portfolio = PortfolioB
	if len(r.ResolveFilters()) != len(PresetB) {
		t.Fatal("expected preset B to be resolved")
	}
}
