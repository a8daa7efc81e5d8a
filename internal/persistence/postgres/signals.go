package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/ports"
)

type signalRow struct {
	ID             string         `db:"id"`
	Instrument     string         `db:"instrument"`
	Timeframe      string         `db:"timeframe"`
	TimeMs         int64          `db:"open_time"`
	Direction      string         `db:"direction"`
	Entry          float64        `db:"entry"`
	TP             float64        `db:"tp"`
	SL             float64        `db:"sl"`
	ATRAtSignal    float64        `db:"atr_at_signal"`
	StreakAtSignal int            `db:"streak_at_signal"`
	State          string         `db:"state"`
	MAERatio       float64        `db:"mae_ratio"`
	MFERatio       float64        `db:"mfe_ratio"`
	CloseTimeMs    sql.NullInt64  `db:"close_time"`
	ClosePrice     sql.NullFloat64 `db:"close_price"`
}

func (r signalRow) toModel() model.Signal {
	sig := model.Signal{
		ID: r.ID, Instrument: r.Instrument, Timeframe: model.Timeframe(r.Timeframe),
		TimeMs: r.TimeMs, Direction: model.Direction(r.Direction),
		Entry: r.Entry, TP: r.TP, SL: r.SL, ATRAtSignal: r.ATRAtSignal,
		StreakAtSignal: r.StreakAtSignal, State: model.SignalState(r.State),
		MAERatio: r.MAERatio, MFERatio: r.MFERatio,
	}
	if r.CloseTimeMs.Valid {
		v := r.CloseTimeMs.Int64
		sig.CloseTimeMs = &v
	}
	if r.ClosePrice.Valid {
		v := r.ClosePrice.Float64
		sig.ClosePrice = &v
	}
	return sig
}

// SignalStore implements ports.SignalStore against a `signals` table,
// unique by id (spec.md §6).
type SignalStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalStore creates a PostgreSQL-backed ports.SignalStore.
func NewSignalStore(db *sqlx.DB, timeout time.Duration) *SignalStore {
	return &SignalStore{db: db, timeout: timeout}
}

// Save inserts a new signal. A duplicate id (replay re-emitting the same
// deterministic id) is reported distinctly so callers can treat it as
// already-persisted rather than a hard failure, mirroring the teacher's
// pq.Error-code inspection for unique-violation (23505).
func (s *SignalStore) Save(ctx context.Context, sig model.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO signals (id, instrument, timeframe, open_time, direction, entry, tp, sl,
			atr_at_signal, streak_at_signal, state, mae_ratio, mfe_ratio)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.db.ExecContext(ctx, query,
		sig.ID, sig.Instrument, string(sig.Timeframe), sig.TimeMs, string(sig.Direction),
		sig.Entry, sig.TP, sig.SL, sig.ATRAtSignal, sig.StreakAtSignal, string(sig.State),
		sig.MAERatio, sig.MFERatio)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: signal %s already persisted: %v", model.ErrTransientPort, sig.ID, err)
		}
		return fmt.Errorf("save signal %s: %w", sig.ID, err)
	}
	return nil
}

// UpdateState transitions a signal to TP/SL with its close time/price.
func (s *SignalStore) UpdateState(ctx context.Context, signalID string, state model.SignalState, closeTimeMs int64, closePrice float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		UPDATE signals SET state = $2, close_time = $3, close_price = $4
		WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, signalID, string(state), closeTimeMs, closePrice)
	if err != nil {
		return fmt.Errorf("update signal state %s: %w", signalID, err)
	}
	return nil
}

// LoadActive returns every signal currently in state ACTIVE, for startup
// recovery (the outcome tracker reattaches to these).
func (s *SignalStore) LoadActive(ctx context.Context) ([]model.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		SELECT id, instrument, timeframe, open_time, direction, entry, tp, sl,
			atr_at_signal, streak_at_signal, state, mae_ratio, mfe_ratio, close_time, close_price
		FROM signals WHERE state = $1`

	var rows []signalRow
	if err := s.db.SelectContext(ctx, &rows, query, string(model.StateActive)); err != nil {
		return nil, fmt.Errorf("load active signals: %w", err)
	}
	out := make([]model.Signal, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// UpdateMAEMFE persists the throttled MAE/MFE excursion ratios.
func (s *SignalStore) UpdateMAEMFE(ctx context.Context, signalID string, mae, mfe float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `UPDATE signals SET mae_ratio = $2, mfe_ratio = $3 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, signalID, mae, mfe)
	if err != nil {
		return fmt.Errorf("update mae/mfe %s: %w", signalID, err)
	}
	return nil
}

var _ ports.SignalStore = (*SignalStore)(nil)
