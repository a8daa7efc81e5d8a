// Package config loads and validates the strategy engine's YAML
// configuration (spec.md §4.H, §6), following the teacher's
// load-then-validate shape (internal/config/providers.go).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sharplee/signalcore/internal/model"
)

// StrategyConfig holds the indicator/pricing tunables from spec.md §6.
type StrategyConfig struct {
	EMAPeriod      int     `yaml:"ema_period"`
	ATRPeriod      int     `yaml:"atr_period"`
	FibWindow      int     `yaml:"fib_window"`
	TPAtrMult      float64 `yaml:"tp_atr_mult"`
	SLAtrMult      float64 `yaml:"sl_atr_mult"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

// DefaultStrategyConfig returns spec.md §6's documented defaults.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		EMAPeriod:      50,
		ATRPeriod:      9,
		FibWindow:      9,
		TPAtrMult:      2.0,
		SLAtrMult:      8.84,
		ScoreThreshold: 1.0,
	}
}

// ATRTrackerConfig holds the ATR percentile tracker's tunables.
type ATRTrackerConfig struct {
	MaxHistory int `yaml:"max_history"`
	MinSamples int `yaml:"min_samples"`
}

// DefaultATRTrackerConfig returns spec.md §6's documented defaults.
func DefaultATRTrackerConfig() ATRTrackerConfig {
	return ATRTrackerConfig{MaxHistory: 10_000, MinSamples: 200}
}

// IngestionConfig holds the ingestion pipeline's tunables.
type IngestionConfig struct {
	BufferCapacity        int `yaml:"buffer_capacity"`
	ReplayCheckpointEvery int `yaml:"replay_checkpoint_every"`
	InitialHistoryHours   int `yaml:"initial_history_hours"`
}

// DefaultIngestionConfig returns spec.md §6's documented defaults.
func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		BufferCapacity:        10_000,
		ReplayCheckpointEvery: 100,
		InitialHistoryHours:   48,
	}
}

// PortfolioMode selects which filter preset is active (spec §4.H).
type PortfolioMode string

const (
	PortfolioA      PortfolioMode = "A"
	PortfolioB      PortfolioMode = "B"
	PortfolioCustom PortfolioMode = "custom"
)

// Root is the complete strategy engine configuration.
type Root struct {
	Strategy    StrategyConfig                 `yaml:"strategy"`
	ATRTracker  ATRTrackerConfig               `yaml:"atr_tracker"`
	Ingestion   IngestionConfig                `yaml:"ingestion"`
	Portfolio   PortfolioMode                  `yaml:"portfolio"`
	Strategies  map[string]model.FilterConfig  `yaml:"strategies"`
}

// Load reads and validates a Root config from a YAML file.
func Load(path string) (*Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	root := Root{
		Strategy:   DefaultStrategyConfig(),
		ATRTracker: DefaultATRTrackerConfig(),
		Ingestion:  DefaultIngestionConfig(),
		Portfolio:  PortfolioA,
	}
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := root.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &root, nil
}

// Validate checks range/consistency constraints across the whole config.
func (r *Root) Validate() error {
	if r.Strategy.EMAPeriod <= 0 {
		return fmt.Errorf("strategy.ema_period must be positive, got %d", r.Strategy.EMAPeriod)
	}
	if r.Strategy.ATRPeriod <= 0 {
		return fmt.Errorf("strategy.atr_period must be positive, got %d", r.Strategy.ATRPeriod)
	}
	if r.Strategy.FibWindow <= 0 {
		return fmt.Errorf("strategy.fib_window must be positive, got %d", r.Strategy.FibWindow)
	}
	if r.Strategy.TPAtrMult <= 0 {
		return fmt.Errorf("strategy.tp_atr_mult must be positive, got %f", r.Strategy.TPAtrMult)
	}
	if r.Strategy.SLAtrMult <= 0 {
		return fmt.Errorf("strategy.sl_atr_mult must be positive, got %f", r.Strategy.SLAtrMult)
	}
	if r.Strategy.ScoreThreshold < 0 {
		return fmt.Errorf("strategy.score_threshold must be non-negative, got %f", r.Strategy.ScoreThreshold)
	}
	if r.ATRTracker.MaxHistory <= 0 {
		return fmt.Errorf("atr_tracker.max_history must be positive, got %d", r.ATRTracker.MaxHistory)
	}
	if r.ATRTracker.MinSamples <= 0 {
		return fmt.Errorf("atr_tracker.min_samples must be positive, got %d", r.ATRTracker.MinSamples)
	}
	if r.ATRTracker.MinSamples > r.ATRTracker.MaxHistory {
		return fmt.Errorf("atr_tracker.min_samples (%d) must be <= max_history (%d)", r.ATRTracker.MinSamples, r.ATRTracker.MaxHistory)
	}
	if r.Ingestion.BufferCapacity <= 0 {
		return fmt.Errorf("ingestion.buffer_capacity must be positive, got %d", r.Ingestion.BufferCapacity)
	}
	if r.Ingestion.ReplayCheckpointEvery <= 0 {
		return fmt.Errorf("ingestion.replay_checkpoint_every must be positive, got %d", r.Ingestion.ReplayCheckpointEvery)
	}
	if r.Ingestion.InitialHistoryHours <= 0 {
		return fmt.Errorf("ingestion.initial_history_hours must be positive, got %d", r.Ingestion.InitialHistoryHours)
	}
	switch r.Portfolio {
	case PortfolioA, PortfolioB, PortfolioCustom:
	default:
		return fmt.Errorf("portfolio must be one of A, B, custom, got %q", r.Portfolio)
	}
	for key, fc := range r.Strategies {
		if fc.StreakLo > fc.StreakHi {
			return fmt.Errorf("strategies[%s].streak_lo (%d) must be <= streak_hi (%d)", key, fc.StreakLo, fc.StreakHi)
		}
		if fc.ATRPctThreshold < 0 || fc.ATRPctThreshold > 1 {
			return fmt.Errorf("strategies[%s].atr_pct_threshold must be in [0,1], got %f", key, fc.ATRPctThreshold)
		}
		if fc.PositionQty < 0 {
			return fmt.Errorf("strategies[%s].position_qty must be non-negative, got %f", key, fc.PositionQty)
		}
	}
	return nil
}

// ResolveFilters returns the active whitelist of filter configs for the
// configured portfolio mode: preset A, preset B, or the caller-provided
// custom map (spec §4.H).
func (r *Root) ResolveFilters() map[string]model.FilterConfig {
	switch r.Portfolio {
	case PortfolioA:
		return PresetA
	case PortfolioB:
		return PresetB
	default:
		return r.Strategies
	}
}
