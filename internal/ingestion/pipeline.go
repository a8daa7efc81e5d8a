// Package ingestion drives the engine core from a live exchange source
// through the startup state machine spec.md §4.G describes: buffered
// arrivals during INIT, checkpoint recovery, REST backfill, aggregator
// warmup, ordered replay, a two-phase buffer cutover, then direct
// pass-through while LIVE. Grounded on the teacher's
// internal/infrastructure/async/pipeline.go for the mutex-guarded buffer
// and staged-processing shape, generalized from a worker-pool pipeline to
// this engine's single-writer state machine.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sharplee/signalcore/internal/config"
	"github.com/sharplee/signalcore/internal/engine"
	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/ports"
)

// Phase is one state of the ingestion state machine (spec.md §4.G).
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseInit       Phase = "INIT"
	PhaseCheckState Phase = "CHECK_STATE"
	PhaseBackfill   Phase = "BACKFILL"
	PhaseRestore    Phase = "RESTORE"
	PhaseReplay     Phase = "REPLAY"
	PhaseCutover    Phase = "CUTOVER"
	PhaseLive       Phase = "LIVE"
)

// restoreTailBars is how many trailing 1-minute bars RESTORE loads per
// instrument to seed the aggregator (spec §4.G).
const restoreTailBars = 200

// portTimeout bounds every individual collaborator-port call; a timeout
// during LIVE sends the pipeline back to INIT (spec §5 "Cancellation and
// timeouts").
const portTimeout = 10 * time.Second

var errDisconnected = errors.New("ingestion: upstream disconnected")

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Log         zerolog.Logger
	Core        *engine.Core
	Source      ports.ExchangeSource
	BarStore    ports.BarStore
	SignalStore ports.SignalStore
	StreakStore ports.StreakStore
	Checkpoints ports.CheckpointStore
	Config      config.IngestionConfig
	Instruments []string
	// Now is overridable in tests; production always passes time.Now.
	Now func() time.Time
}

// Pipeline runs the spec §4.G state machine for a fixed instrument set.
type Pipeline struct {
	log         zerolog.Logger
	core        *engine.Core
	source      ports.ExchangeSource
	barStore    ports.BarStore
	signalStore ports.SignalStore
	streakStore ports.StreakStore
	checkpoints ports.CheckpointStore
	cfg         config.IngestionConfig
	instruments []string
	now         func() time.Time

	cb *gobreaker.CircuitBreaker

	phaseMu sync.RWMutex
	phase   Phase

	// live is false while bars are being buffered (INIT..CUTOVER phase 1)
	// and flips true inside the CUTOVER phase-2 critical section.
	live atomic.Bool

	// bufMu guards buf, the only producer/consumer queue between the
	// upstream listener and the closed-bar handler (spec §5 "Shared-resource
	// policy"): one mutex, holding structs not references.
	bufMu sync.Mutex
	buf   []model.Bar

	subErrCh chan error

	staleBars int64
}

// New constructs a Pipeline in PhaseIdle.
func New(d Deps) *Pipeline {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	cbSettings := gobreaker.Settings{
		Name:    "ingestion-ports",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Pipeline{
		log:         d.Log.With().Str("component", "ingestion").Logger(),
		core:        d.Core,
		source:      d.Source,
		barStore:    d.BarStore,
		signalStore: d.SignalStore,
		streakStore: d.StreakStore,
		checkpoints: d.Checkpoints,
		cfg:         d.Config,
		instruments: d.Instruments,
		now:         now,
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
		phase:       PhaseIdle,
	}
}

// Phase reports the pipeline's current state, for health/diagnostics.
func (p *Pipeline) Phase() Phase {
	p.phaseMu.RLock()
	defer p.phaseMu.RUnlock()
	return p.phase
}

func (p *Pipeline) setPhase(ph Phase) {
	p.phaseMu.Lock()
	p.phase = ph
	p.phaseMu.Unlock()
	p.log.Info().Str("phase", string(ph)).Msg("ingestion phase transition")
}

// StaleBarCount reports how many bars dispatchBar discarded because they
// failed validation or the core rejected them. Bars are not checked for
// order or duplication, so a valid out-of-order or repeated bar is fed to
// the core and not counted here.
func (p *Pipeline) StaleBarCount() int64 {
	return atomic.LoadInt64(&p.staleBars)
}

// Run drives the pipeline through INIT→LIVE once, then blocks serving LIVE
// traffic until ctx is cancelled or the upstream disconnects, in which case
// it loops back to INIT (spec §4.G's disconnect arrow). deadline bounds how
// long INIT..CUTOVER may take; exceeding it fails the whole process (spec
// §5 "Startup phases INIT→LIVE must complete within a configured total
// deadline or fail the whole process").
func (p *Pipeline) Run(ctx context.Context, deadline time.Duration) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := p.runOnce(ctx, deadline)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil // shutting down: runOnce's error is just ctx cancellation surfacing
		}
		if errors.Is(err, errDisconnected) {
			p.log.Warn().Err(err).Msg("upstream disconnected, returning to INIT")
			continue
		}
		return fmt.Errorf("ingestion pipeline failed: %w", err)
	}
}

func (p *Pipeline) runOnce(ctx context.Context, deadline time.Duration) error {
	startupCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	p.live.Store(false)
	p.subErrCh = make(chan error, 1)

	p.setPhase(PhaseInit)
	if err := p.phaseInit(ctx); err != nil {
		return fmt.Errorf("INIT: %w", err)
	}

	p.setPhase(PhaseCheckState)
	checkpoints, err := p.phaseCheckState(startupCtx)
	if err != nil {
		return fmt.Errorf("CHECK_STATE: %w", err)
	}

	p.setPhase(PhaseBackfill)
	if err := p.phaseBackfill(startupCtx, checkpoints); err != nil {
		return fmt.Errorf("BACKFILL: %w", err)
	}

	p.setPhase(PhaseRestore)
	if err := p.phaseRestore(startupCtx); err != nil {
		return fmt.Errorf("RESTORE: %w", err)
	}

	p.setPhase(PhaseReplay)
	if err := p.phaseReplay(startupCtx, checkpoints); err != nil {
		return fmt.Errorf("REPLAY: %w", err)
	}

	p.setPhase(PhaseCutover)
	if err := p.phaseCutover(ctx); err != nil {
		return fmt.Errorf("CUTOVER: %w", err)
	}

	p.setPhase(PhaseLive)
	return p.phaseLive(ctx)
}

// phaseInit opens the upstream 1-minute bar subscription for the lifetime
// of ctx and returns immediately; onBarArrival buffers or dispatches each
// bar depending on p.live, so this single subscription serves every phase
// from INIT through LIVE without reconnecting at cutover.
func (p *Pipeline) phaseInit(ctx context.Context) error {
	p.bufMu.Lock()
	p.buf = make([]model.Bar, 0, p.cfg.BufferCapacity)
	p.bufMu.Unlock()

	go func() {
		p.subErrCh <- p.source.SubscribeBars1m(ctx, p.instruments, p.onBarArrival)
	}()
	return nil
}

func (p *Pipeline) onBarArrival(ctx context.Context, bar model.Bar) error {
	if p.live.Load() {
		return p.dispatchBar(ctx, bar)
	}
	return p.bufferBar(bar)
}

func (p *Pipeline) bufferBar(bar model.Bar) error {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	if p.cfg.BufferCapacity > 0 && len(p.buf) >= p.cfg.BufferCapacity {
		return fmt.Errorf("%w: ingestion buffer at capacity %d", model.ErrTransientPort, p.cfg.BufferCapacity)
	}
	p.buf = append(p.buf, bar)
	return nil
}

// checkpointState is the per-instrument recovery point CHECK_STATE
// establishes for BACKFILL and REPLAY to consume.
type checkpointState struct {
	openTimeMs int64
	phase      ports.CheckpointPhase
}

func (p *Pipeline) phaseCheckState(ctx context.Context) (map[string]checkpointState, error) {
	out := make(map[string]checkpointState, len(p.instruments))
	initialWindow := time.Duration(p.cfg.InitialHistoryHours) * time.Hour
	for _, inst := range p.instruments {
		cctx, cancel := context.WithTimeout(ctx, portTimeout)
		openTimeMs, phase, found, err := p.checkpoints.Load(cctx, inst, model.TF1m)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: load checkpoint %s: %v", model.ErrTransientPort, inst, err)
		}
		if !found {
			openTimeMs = p.now().Add(-initialWindow).UnixMilli()
			phase = ports.CheckpointConfirmed
		}
		out[inst] = checkpointState{openTimeMs: openTimeMs, phase: phase}
	}
	return out, nil
}

// phaseBackfill fetches any missing 1-minute bars in [checkpoint, now] via
// the exchange source's REST port, rate-limited and circuit-broken by the
// source itself, and upserts them into the bar store.
func (p *Pipeline) phaseBackfill(ctx context.Context, checkpoints map[string]checkpointState) error {
	nowMs := p.now().UnixMilli()
	for _, inst := range p.instruments {
		from := checkpoints[inst].openTimeMs
		result, err := p.cb.Execute(func() (interface{}, error) {
			fctx, cancel := context.WithTimeout(ctx, portTimeout)
			defer cancel()
			return p.source.FetchBars(fctx, inst, from, nowMs)
		})
		if err != nil {
			return fmt.Errorf("%w: fetch_bars %s: %v", model.ErrTransientPort, inst, err)
		}
		bars, _ := result.([]model.Bar)
		for _, bar := range bars {
			uctx, cancel := context.WithTimeout(ctx, portTimeout)
			err := p.barStore.Upsert(uctx, bar)
			cancel()
			if err != nil {
				return fmt.Errorf("%w: upsert backfilled bar %s: %v", model.ErrTransientPort, inst, err)
			}
		}
	}
	return nil
}

// phaseRestore seeds the aggregator from the last restoreTailBars 1-minute
// bars per instrument, without running signal detection (spec §4.G
// RESTORE), and reattaches previously persisted ACTIVE signals and streak
// state. Indicator state is not seeded here; the indicator calculators
// start from the first bar dispatched in REPLAY.
func (p *Pipeline) phaseRestore(ctx context.Context) error {
	streaks, err := p.streakStore.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: load streaks: %v", model.ErrTransientPort, err)
	}
	p.core.LoadStreaks(streaks)

	active, err := p.signalStore.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("%w: load active signals: %v", model.ErrTransientPort, err)
	}
	for _, sig := range active {
		p.core.TrackSignal(sig)
	}

	for _, inst := range p.instruments {
		tctx, cancel := context.WithTimeout(ctx, portTimeout)
		tail, err := p.barStore.Tail(tctx, inst, model.TF1m, restoreTailBars)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: tail bars %s: %v", model.ErrTransientPort, inst, err)
		}
		for _, bar := range tail {
			if err := p.core.Seed(bar); err != nil {
				return fmt.Errorf("seed %s: %w", inst, err)
			}
		}
	}
	return nil
}

// phaseReplay iterates persisted 1-minute bars after the checkpoint in
// order, calling the same closed-bar handler LIVE uses, checkpointing every
// ReplayCheckpointEvery bars (spec §4.G REPLAY).
func (p *Pipeline) phaseReplay(ctx context.Context, checkpoints map[string]checkpointState) error {
	checkEvery := p.cfg.ReplayCheckpointEvery
	if checkEvery <= 0 {
		checkEvery = 100
	}
	nowMs := p.now().UnixMilli()

	for _, inst := range p.instruments {
		from := checkpoints[inst].openTimeMs
		rctx, cancel := context.WithTimeout(ctx, portTimeout)
		bars, err := p.barStore.Range(rctx, inst, model.TF1m, from, nowMs)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: range bars %s: %v", model.ErrTransientPort, inst, err)
		}

		if err := p.checkpoints.Save(ctx, inst, model.TF1m, from, ports.CheckpointPending); err != nil {
			return fmt.Errorf("%w: mark checkpoint pending %s: %v", model.ErrTransientPort, inst, err)
		}

		var lastOpenTime int64
		for i, bar := range bars {
			if err := p.core.OnClosedBar1m(ctx, bar); err != nil {
				return fmt.Errorf("replay %s: %w", inst, err)
			}
			lastOpenTime = bar.OpenTimeMs
			if (i+1)%checkEvery == 0 {
				if err := p.checkpoints.Save(ctx, inst, model.TF1m, lastOpenTime, ports.CheckpointPending); err != nil {
					return fmt.Errorf("%w: checkpoint %s: %v", model.ErrTransientPort, inst, err)
				}
			}
		}
		if len(bars) > 0 {
			if err := p.checkpoints.Save(ctx, inst, model.TF1m, lastOpenTime, ports.CheckpointConfirmed); err != nil {
				return fmt.Errorf("%w: confirm checkpoint %s: %v", model.ErrTransientPort, inst, err)
			}
		}
	}
	return nil
}

// phaseCutover drains the buffer in two phases so no bar that arrived
// during REPLAY is lost and none is double-processed once LIVE begins
// (spec §4.G CUTOVER, §5 correctness property).
func (p *Pipeline) phaseCutover(ctx context.Context) error {
	s1 := p.snapshotBuffer()
	for _, bar := range s1 {
		if err := p.dispatchBar(ctx, bar); err != nil {
			return err
		}
	}

	s2 := p.snapshotAndGoLive()
	for _, bar := range s2 {
		if err := p.dispatchBar(ctx, bar); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) snapshotBuffer() []model.Bar {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	snapshot := p.buf
	p.buf = make([]model.Bar, 0, p.cfg.BufferCapacity)
	return snapshot
}

// snapshotAndGoLive atomically snapshots the remaining buffered bars and
// flips p.live under the same critical section onBarArrival locks, so no
// arrival can land in neither the snapshot nor the live dispatch path
// (spec §4.G CUTOVER phase 2).
func (p *Pipeline) snapshotAndGoLive() []model.Bar {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	snapshot := p.buf
	p.buf = nil
	p.live.Store(true)
	return snapshot
}

// phaseLive starts the trade subscription and otherwise relies on the
// single bar subscription opened in phaseInit (now dispatching directly
// since p.live is true). It blocks until ctx is cancelled or either
// subscription ends, which is treated as a disconnect (spec §4.G).
func (p *Pipeline) phaseLive(ctx context.Context) error {
	tradeErrCh := make(chan error, 1)
	go func() {
		tradeErrCh <- p.source.SubscribeTrades(ctx, p.instruments, func(ctx context.Context, trade model.Trade) error {
			return p.core.OnTrade(ctx, trade)
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.subErrCh:
		return fmt.Errorf("%w: bar subscription ended: %v", errDisconnected, err)
	case err := <-tradeErrCh:
		return fmt.Errorf("%w: trade subscription ended: %v", errDisconnected, err)
	}
}

// dispatchBar feeds bar to the core. A bar that fails validation, or that
// the core rejects with an error other than an invariant violation, is
// discarded and counted without advancing any checkpoint for it. There is
// no ordering or duplicate check: a valid out-of-order bar is fed to the
// core like any other.
func (p *Pipeline) dispatchBar(ctx context.Context, bar model.Bar) error {
	if err := bar.Validate(); err != nil {
		atomic.AddInt64(&p.staleBars, 1)
		p.log.Warn().Err(err).Str("instrument", bar.Instrument).Msg("discarding invalid bar")
		return nil
	}
	if err := p.core.OnClosedBar1m(ctx, bar); err != nil {
		if errors.Is(err, model.ErrInvariantViolation) {
			return err
		}
		atomic.AddInt64(&p.staleBars, 1)
		p.log.Warn().Err(err).Str("instrument", bar.Instrument).Msg("discarding bar")
		return nil
	}
	return nil
}
