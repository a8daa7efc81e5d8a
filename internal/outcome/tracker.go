// Package outcome implements the outcome/position tracker (spec.md §4.F):
// per-tick and per-bar TP/SL evaluation of ACTIVE signals, running MAE/MFE
// excursion tracking, and throttled publication, grounded on the teacher's
// precedence-ordered exit evaluator (internal/exits).
package outcome

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/ports"
)

// publishInterval is the MAE/MFE throttle period (spec §4.F: "no more than
// one per second per signal").
const publishInterval = time.Second

// active is the tracker's in-memory view of one ACTIVE signal.
type active struct {
	signal        model.Signal
	worstAdverse  float64 // price units, always >= 0
	bestFavorable float64 // price units, always >= 0
	lastPublish   time.Time
}

// Tracker maintains the set of ACTIVE signals and resolves them to TP/SL via
// the tick path (live trades) or the bar path (backtest/replay).
type Tracker struct {
	log zerolog.Logger

	mu      sync.Mutex
	byKey   map[model.Key][]*active // instrument+timeframe -> active signals
	byID    map[string]*active

	store ports.SignalStore
	bus   ports.ObserverBus

	// now is overridable in tests; defaults to model.Now so throttling and
	// close timestamps stay deterministic in replay tests.
	now func() time.Time
}

// Deps bundles the Tracker's constructor dependencies.
type Deps struct {
	Log   zerolog.Logger
	Store ports.SignalStore
	Bus   ports.ObserverBus
}

// New creates an outcome tracker with no active signals.
func New(d Deps) *Tracker {
	return &Tracker{
		log:   d.Log.With().Str("component", "outcome").Logger(),
		byKey: make(map[model.Key][]*active),
		byID:  make(map[string]*active),
		store: d.Store,
		bus:   d.Bus,
		now:   model.Now,
	}
}

// Track registers a newly-emitted signal as ACTIVE. Called by the engine
// immediately after the signal generator persists and locks a signal.
func (t *Tracker) Track(sig model.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := &active{signal: sig}
	key := sig.Key()
	t.byKey[key] = append(t.byKey[key], a)
	t.byID[sig.ID] = a
}

// Count returns the number of signals currently tracked as ACTIVE, for
// diagnostics and tests.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// OnTrade is the tick path (spec §4.F): evaluates every ACTIVE signal on the
// trade's instrument against the trade price, across all timeframes sharing
// that instrument.
func (t *Tracker) OnTrade(ctx context.Context, trade model.Trade) error {
	t.mu.Lock()
	var touched []*active
	for key, list := range t.byKey {
		if key.Instrument != trade.Instrument {
			continue
		}
		touched = append(touched, list...)
	}
	t.mu.Unlock()

	for _, a := range touched {
		if err := t.evaluateTick(ctx, a, trade.Price, trade.TimestampMs); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) evaluateTick(ctx context.Context, a *active, price float64, timeMs int64) error {
	outcome, hit, closePrice := tickOutcome(a.signal, price)

	t.mu.Lock()
	adverseDist, favorableDist := excursionDistances(a.signal, price)
	if adverseDist > a.worstAdverse {
		a.worstAdverse = adverseDist
	}
	if favorableDist > a.bestFavorable {
		a.bestFavorable = favorableDist
	}
	shouldPublish := t.now().Sub(a.lastPublish) >= publishInterval
	if shouldPublish {
		a.lastPublish = t.now()
	}
	mae := a.worstAdverse / a.signal.SLDistance()
	mfe := a.bestFavorable / a.signal.TPDistance()
	t.mu.Unlock()

	if !hit {
		if shouldPublish {
			t.publishMAEUpdate(ctx, a.signal.ID, mae, mfe)
			if t.store != nil {
				if err := t.store.UpdateMAEMFE(ctx, a.signal.ID, mae, mfe); err != nil {
					return fmt.Errorf("%w: persist mae/mfe: %v", model.ErrTransientPort, err)
				}
			}
		}
		return nil
	}
	return t.close(ctx, a, outcome, timeMs, closePrice)
}

// OnClosedBar is the bar path (spec §4.F), used by the backtester and the
// replay phase: resolves both TP and SL against one bar's high/low range,
// with the pessimistic same-bar-both-touch rule (SL wins). It is fed only
// 1-minute bars — the finest granularity available without a tick stream —
// so it evaluates every ACTIVE signal on the bar's instrument regardless of
// the signal's own timeframe.
func (t *Tracker) OnClosedBar(ctx context.Context, bar model.Bar) error {
	t.mu.Lock()
	var list []*active
	for key, candidates := range t.byKey {
		if key.Instrument != bar.Instrument {
			continue
		}
		list = append(list, candidates...)
	}
	t.mu.Unlock()

	for _, a := range list {
		outcome, hit, closePrice := barOutcome(a.signal, bar)
		if !hit {
			continue
		}
		if err := t.close(ctx, a, outcome, bar.OpenTimeMs, closePrice); err != nil {
			return err
		}
	}
	return nil
}

// tickOutcome evaluates a single trade price against a signal's tp/sl.
func tickOutcome(sig model.Signal, price float64) (outcome model.Outcome, hit bool, closePrice float64) {
	switch sig.Direction {
	case model.Long:
		if price >= sig.TP {
			return model.OutcomeTP, true, sig.TP
		}
		if price <= sig.SL {
			return model.OutcomeSL, true, sig.SL
		}
	case model.Short:
		if price <= sig.TP {
			return model.OutcomeTP, true, sig.TP
		}
		if price >= sig.SL {
			return model.OutcomeSL, true, sig.SL
		}
	}
	return "", false, 0
}

// barOutcome evaluates a bar's high/low range against a signal's tp/sl,
// applying the pessimistic rule when both levels fall within the range.
func barOutcome(sig model.Signal, bar model.Bar) (outcome model.Outcome, hit bool, closePrice float64) {
	var tpHit, slHit bool
	switch sig.Direction {
	case model.Long:
		tpHit = bar.High >= sig.TP
		slHit = bar.Low <= sig.SL
	case model.Short:
		tpHit = bar.Low <= sig.TP
		slHit = bar.High >= sig.SL
	}
	switch {
	case tpHit && slHit:
		return model.OutcomeSL, true, sig.SL
	case slHit:
		return model.OutcomeSL, true, sig.SL
	case tpHit:
		return model.OutcomeTP, true, sig.TP
	default:
		return "", false, 0
	}
}

// excursionDistances returns how far price has moved against (adverse) and
// in favor of (favorable) the signal, in price units, never negative.
func excursionDistances(sig model.Signal, price float64) (adverse, favorable float64) {
	switch sig.Direction {
	case model.Long:
		if d := sig.Entry - price; d > 0 {
			adverse = d
		}
		if d := price - sig.Entry; d > 0 {
			favorable = d
		}
	case model.Short:
		if d := price - sig.Entry; d > 0 {
			adverse = d
		}
		if d := sig.Entry - price; d > 0 {
			favorable = d
		}
	}
	return adverse, favorable
}

// close finalizes a signal's outcome: persists the close, publishes exactly
// one SIGNAL_CLOSED event, and removes it from the ACTIVE set so no further
// MAE/MFE updates or duplicate outcome events can occur (spec §4.F ordering
// guarantee).
func (t *Tracker) close(ctx context.Context, a *active, outcome model.Outcome, closeTimeMs int64, closePrice float64) error {
	t.mu.Lock()
	key := a.signal.Key()
	list := t.byKey[key]
	for i, cand := range list {
		if cand == a {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.byKey, key)
	} else {
		t.byKey[key] = list
	}
	delete(t.byID, a.signal.ID)
	t.mu.Unlock()

	state := model.StateTP
	if outcome == model.OutcomeSL {
		state = model.StateSL
	}

	if t.store != nil {
		if err := t.store.UpdateState(ctx, a.signal.ID, state, closeTimeMs, closePrice); err != nil {
			return fmt.Errorf("%w: persist signal close: %v", model.ErrTransientPort, err)
		}
	}

	if t.bus != nil {
		t.bus.Publish(ctx, model.Event{
			Kind: model.EventSignalClosed,
			Closed: &model.ClosedUpdate{
				ID:         a.signal.ID,
				Key:        key,
				Outcome:    outcome,
				State:      state,
				CloseTime:  closeTimeMs,
				ClosePrice: closePrice,
			},
		})
	}
	return nil
}

func (t *Tracker) publishMAEUpdate(ctx context.Context, id string, mae, mfe float64) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(ctx, model.Event{
		Kind:      model.EventSignalMAEUpdate,
		MAEUpdate: &model.MAEUpdate{ID: id, MAERatio: mae, MFERatio: mfe},
	})
}
