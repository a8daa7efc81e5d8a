// Package postgres implements the core's collaborator ports (spec.md §4.I)
// against PostgreSQL, grounded on the teacher's
// internal/persistence/postgres/trades_repo.go: sqlx + lib/pq, a
// context-timeout wrapper per call, and pq.Error code inspection for
// conflict detection on upsert.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/ports"
)

// barRow mirrors model.Bar with sqlx column tags for scanning.
type barRow struct {
	Instrument string  `db:"instrument"`
	Timeframe  string  `db:"timeframe"`
	OpenTimeMs int64   `db:"open_time_ms"`
	Open       float64 `db:"open"`
	High       float64 `db:"high"`
	Low        float64 `db:"low"`
	Close      float64 `db:"close"`
	Volume     float64 `db:"volume"`
}

func (r barRow) toModel() model.Bar {
	return model.Bar{
		Instrument: r.Instrument, Timeframe: model.Timeframe(r.Timeframe), OpenTimeMs: r.OpenTimeMs,
		Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume, Closed: true,
	}
}

// BarStore implements ports.BarStore against a `bars` table, unique by
// (instrument, timeframe, open_time_ms) per spec.md §6.
type BarStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBarStore creates a PostgreSQL-backed ports.BarStore.
func NewBarStore(db *sqlx.DB, timeout time.Duration) *BarStore {
	return &BarStore{db: db, timeout: timeout}
}

// Upsert inserts a bar or, on a conflicting (instrument, timeframe,
// open_time_ms), overwrites it — the idempotent-upsert property spec.md §7
// relies on for at-most-once bar delivery across restarts.
func (s *BarStore) Upsert(ctx context.Context, bar model.Bar) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO bars (instrument, timeframe, open_time_ms, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instrument, timeframe, open_time_ms) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume`

	_, err := s.db.ExecContext(ctx, query,
		bar.Instrument, string(bar.Timeframe), bar.OpenTimeMs,
		bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	if err != nil {
		return fmt.Errorf("upsert bar %s/%s@%d: %w", bar.Instrument, bar.Timeframe, bar.OpenTimeMs, err)
	}
	return nil
}

// Range returns bars for (instrument, timeframe) with open_time_ms in
// [from, to], ascending.
func (s *BarStore) Range(ctx context.Context, instrument string, tf model.Timeframe, from, to int64) ([]model.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		SELECT instrument, timeframe, open_time_ms, open, high, low, close, volume
		FROM bars
		WHERE instrument = $1 AND timeframe = $2 AND open_time_ms >= $3 AND open_time_ms <= $4
		ORDER BY open_time_ms ASC`

	var rows []barRow
	if err := s.db.SelectContext(ctx, &rows, query, instrument, string(tf), from, to); err != nil {
		return nil, fmt.Errorf("range bars %s/%s: %w", instrument, tf, err)
	}
	out := make([]model.Bar, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// LastTime returns the most recent open_time_ms persisted for
// (instrument, timeframe), or found=false if none exists.
func (s *BarStore) LastTime(ctx context.Context, instrument string, tf model.Timeframe) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT MAX(open_time_ms) FROM bars WHERE instrument = $1 AND timeframe = $2`
	var last sql.NullInt64
	if err := s.db.GetContext(ctx, &last, query, instrument, string(tf)); err != nil {
		return 0, false, fmt.Errorf("last_time %s/%s: %w", instrument, tf, err)
	}
	if !last.Valid {
		return 0, false, nil
	}
	return last.Int64, true, nil
}

// Tail returns the most recent n bars for (instrument, timeframe), ascending
// by open_time_ms — used by the ingestion pipeline's RESTORE phase (spec
// §4.G) to seed aggregator state from the last 200 1-minute bars.
func (s *BarStore) Tail(ctx context.Context, instrument string, tf model.Timeframe, n int) ([]model.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		SELECT instrument, timeframe, open_time_ms, open, high, low, close, volume
		FROM bars
		WHERE instrument = $1 AND timeframe = $2
		ORDER BY open_time_ms DESC
		LIMIT $3`

	var rows []barRow
	if err := s.db.SelectContext(ctx, &rows, query, instrument, string(tf), n); err != nil {
		return nil, fmt.Errorf("tail bars %s/%s: %w", instrument, tf, err)
	}
	out := make([]model.Bar, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = rows[i].toModel()
	}
	return out, nil
}

var _ ports.BarStore = (*BarStore)(nil)
