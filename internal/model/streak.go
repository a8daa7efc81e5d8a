package model

// StreakState is the per-(instrument, timeframe) signed outcome streak (§3, §4.D).
type StreakState struct {
	Streak int `json:"streak" db:"streak"`
	Wins   int `json:"wins" db:"wins"`
	Losses int `json:"losses" db:"losses"`
}

// FilterConfig gates signal emission per (instrument, timeframe) (§3, §4.H).
type FilterConfig struct {
	Enabled         bool    `yaml:"enabled"`
	StreakLo        int     `yaml:"streak_lo"`
	StreakHi        int     `yaml:"streak_hi"`
	ATRPctThreshold float64 `yaml:"atr_pct_threshold"`
	PositionQty     float64 `yaml:"position_qty"`
}
