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

// CheckpointStore implements ports.CheckpointStore against a `checkpoints`
// table, unique by (instrument, timeframe), tracking the ingestion
// pipeline's last-processed bar and its confirmation phase (spec.md §4.G, §6).
type CheckpointStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCheckpointStore creates a PostgreSQL-backed ports.CheckpointStore.
func NewCheckpointStore(db *sqlx.DB, timeout time.Duration) *CheckpointStore {
	return &CheckpointStore{db: db, timeout: timeout}
}

// Load returns the last-processed open_time_ms and phase for
// (instrument, timeframe), or found=false on first run.
func (s *CheckpointStore) Load(ctx context.Context, instrument string, tf model.Timeframe) (int64, ports.CheckpointPhase, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT open_time_ms, phase FROM checkpoints WHERE instrument = $1 AND timeframe = $2`
	var openTimeMs int64
	var phase string
	err := s.db.QueryRowContext(ctx, query, instrument, string(tf)).Scan(&openTimeMs, &phase)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, "", false, nil
		}
		return 0, "", false, fmt.Errorf("load checkpoint %s/%s: %w", instrument, tf, err)
	}
	return openTimeMs, ports.CheckpointPhase(phase), true, nil
}

// Save upserts the checkpoint for (instrument, timeframe).
func (s *CheckpointStore) Save(ctx context.Context, instrument string, tf model.Timeframe, openTimeMs int64, phase ports.CheckpointPhase) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO checkpoints (instrument, timeframe, open_time_ms, phase)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instrument, timeframe) DO UPDATE SET
			open_time_ms = EXCLUDED.open_time_ms, phase = EXCLUDED.phase`

	_, err := s.db.ExecContext(ctx, query, instrument, string(tf), openTimeMs, string(phase))
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", instrument, tf, err)
	}
	return nil
}

var _ ports.CheckpointStore = (*CheckpointStore)(nil)
