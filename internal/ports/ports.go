// Package ports defines the collaborator contracts the core depends on
// (spec.md §4.I): bar store, signal store, streak store, exchange source,
// and observer bus. External layers implement these; the core never
// depends on a concrete persistence or transport technology directly.
package ports

import (
	"context"

	"github.com/sharplee/signalcore/internal/model"
)

// BarStore persists and serves 1-minute (and derived) bars.
type BarStore interface {
	Upsert(ctx context.Context, bar model.Bar) error
	Range(ctx context.Context, instrument string, tf model.Timeframe, from, to int64) ([]model.Bar, error)
	LastTime(ctx context.Context, instrument string, tf model.Timeframe) (int64, bool, error)
	Tail(ctx context.Context, instrument string, tf model.Timeframe, n int) ([]model.Bar, error)
}

// SignalStore persists signal records and their lifecycle transitions.
type SignalStore interface {
	Save(ctx context.Context, signal model.Signal) error
	UpdateState(ctx context.Context, signalID string, state model.SignalState, closeTimeMs int64, closePrice float64) error
	LoadActive(ctx context.Context) ([]model.Signal, error)
	UpdateMAEMFE(ctx context.Context, signalID string, mae, mfe float64) error
}

// StreakStore persists per-key streak state.
type StreakStore interface {
	Save(ctx context.Context, key model.Key, state model.StreakState) error
	LoadAll(ctx context.Context) (map[model.Key]model.StreakState, error)
}

// CheckpointStore persists the ingestion pipeline's processing checkpoint
// per (instrument, timeframe) so a restart resumes correctly (spec §6, §7).
type CheckpointStore interface {
	Load(ctx context.Context, instrument string, tf model.Timeframe) (openTimeMs int64, phase CheckpointPhase, found bool, err error)
	Save(ctx context.Context, instrument string, tf model.Timeframe, openTimeMs int64, phase CheckpointPhase) error
}

// CheckpointPhase is the processing-state of a checkpoint (spec §6).
type CheckpointPhase string

const (
	CheckpointPending   CheckpointPhase = "pending"
	CheckpointConfirmed CheckpointPhase = "confirmed"
)

// BarHandler is the closed-bar callback signature the exchange source and
// the ingestion pipeline both use.
type BarHandler func(ctx context.Context, bar model.Bar) error

// TradeHandler is the trade-stream callback signature.
type TradeHandler func(ctx context.Context, trade model.Trade) error

// ExchangeSource is the upstream market-data collaborator (spec §4.I, §6).
type ExchangeSource interface {
	// SubscribeBars1m opens a live 1-minute bar subscription for the given
	// instruments, invoking handler for each closed bar as it arrives.
	SubscribeBars1m(ctx context.Context, instruments []string, handler BarHandler) error
	// SubscribeTrades opens a live trade subscription.
	SubscribeTrades(ctx context.Context, instruments []string, handler TradeHandler) error
	// FetchBars backfills 1-minute bars for [from, to] via REST.
	FetchBars(ctx context.Context, instrument string, from, to int64) ([]model.Bar, error)
}

// ObserverBus publishes observer-bus events (spec §4.I, §6).
type ObserverBus interface {
	Publish(ctx context.Context, event model.Event)
	Subscribe(handler func(ctx context.Context, event model.Event))
}
