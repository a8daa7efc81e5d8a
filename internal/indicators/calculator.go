package indicators

import "github.com/sharplee/signalcore/internal/model"

// Config holds the configurable periods from spec.md §6.
type Config struct {
	EMAPeriod  int
	ATRPeriod  int
	FibWindow  int
	SessionFn  SessionEpochFunc
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{EMAPeriod: 50, ATRPeriod: 9, FibWindow: 9}
}

// Calculator maintains the running indicator state for a single
// (instrument, timeframe) series and produces a Snapshot per closed bar.
// It is a pure, non-blocking component: all mutation happens synchronously
// inside Add, under whatever external serialization the caller provides.
type Calculator struct {
	cfg      Config
	ema      *RunningEMA
	atr      *RunningATR
	vwap     *VWAP
	fibBuf   []model.Bar // ring of the last FibWindow closed bars
}

// NewCalculator creates a calculator for one series.
func NewCalculator(cfg Config) *Calculator {
	if cfg.EMAPeriod <= 0 {
		cfg.EMAPeriod = 50
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 9
	}
	if cfg.FibWindow <= 0 {
		cfg.FibWindow = 9
	}
	return &Calculator{
		cfg:    cfg,
		ema:    NewRunningEMA(cfg.EMAPeriod),
		atr:    NewRunningATR(cfg.ATRPeriod),
		vwap:   NewVWAP(cfg.SessionFn),
		fibBuf: make([]model.Bar, 0, cfg.FibWindow),
	}
}

// Add feeds one closed bar and returns the snapshot. Snapshot.Valid is false
// until every sub-indicator has enough history (spec §4.A: "before then, no
// snapshot is produced").
func (c *Calculator) Add(b model.Bar) (Snapshot, error) {
	if err := validateBar(b); err != nil {
		return Snapshot{}, err
	}

	emaVal, emaOK, err := c.ema.Add(b)
	if err != nil {
		return Snapshot{}, err
	}
	atrVal, atrOK, err := c.atr.Add(b)
	if err != nil {
		return Snapshot{}, err
	}
	vwapVal, err := c.vwap.Add(b)
	if err != nil {
		return Snapshot{}, err
	}

	c.fibBuf = append(c.fibBuf, b)
	if len(c.fibBuf) > c.cfg.FibWindow {
		c.fibBuf = c.fibBuf[len(c.fibBuf)-c.cfg.FibWindow:]
	}
	f382, f500, f618, fibOK, err := FibonacciLevels(c.fibBuf, c.cfg.FibWindow)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		EMA50:  emaVal,
		ATR9:   atrVal,
		Fib382: f382,
		Fib500: f500,
		Fib618: f618,
		VWAP:   vwapVal,
		Valid:  emaOK && atrOK && fibOK,
	}
	return snap, nil
}
