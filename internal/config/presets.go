package config

import "github.com/sharplee/signalcore/internal/model"

// PresetA is the conservative portfolio preset: tighter streak band, higher
// ATR-percentile floor, smaller size. Strategy keys follow
// "<instrument>:<timeframe>", matching model.Key.String().
var PresetA = map[string]model.FilterConfig{
	"BTC-PERP:5m": {Enabled: true, StreakLo: -2, StreakHi: 2, ATRPctThreshold: 0.50, PositionQty: 0.10},
	"BTC-PERP:15m": {Enabled: true, StreakLo: -2, StreakHi: 2, ATRPctThreshold: 0.50, PositionQty: 0.10},
	"ETH-PERP:5m": {Enabled: true, StreakLo: -2, StreakHi: 2, ATRPctThreshold: 0.55, PositionQty: 0.10},
	"ETH-PERP:15m": {Enabled: true, StreakLo: -2, StreakHi: 2, ATRPctThreshold: 0.55, PositionQty: 0.10},
}

// PresetB is the aggressive portfolio preset: wider streak band, lower ATR
// floor, larger size.
var PresetB = map[string]model.FilterConfig{
	"BTC-PERP:5m": {Enabled: true, StreakLo: -4, StreakHi: 4, ATRPctThreshold: 0.30, PositionQty: 0.25},
	"BTC-PERP:15m": {Enabled: true, StreakLo: -4, StreakHi: 4, ATRPctThreshold: 0.30, PositionQty: 0.25},
	"BTC-PERP:30m": {Enabled: true, StreakLo: -4, StreakHi: 4, ATRPctThreshold: 0.30, PositionQty: 0.25},
	"ETH-PERP:5m": {Enabled: true, StreakLo: -4, StreakHi: 4, ATRPctThreshold: 0.35, PositionQty: 0.25},
	"ETH-PERP:15m": {Enabled: true, StreakLo: -4, StreakHi: 4, ATRPctThreshold: 0.35, PositionQty: 0.25},
	"ETH-PERP:30m": {Enabled: true, StreakLo: -4, StreakHi: 4, ATRPctThreshold: 0.35, PositionQty: 0.25},
	"SOL-PERP:5m": {Enabled: true, StreakLo: -4, StreakHi: 4, ATRPctThreshold: 0.35, PositionQty: 0.25},
	"SOL-PERP:15m": {Enabled: true, StreakLo: -4, StreakHi: 4, ATRPctThreshold: 0.35, PositionQty: 0.25},
}
