package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/ports"
)

type streakRow struct {
	Instrument string `db:"instrument"`
	Timeframe  string `db:"timeframe"`
	Streak     int    `db:"streak"`
	Wins       int    `db:"wins"`
	Losses     int    `db:"losses"`
}

// StreakStore implements ports.StreakStore against a `streaks` table,
// unique by (instrument, timeframe).
type StreakStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStreakStore creates a PostgreSQL-backed ports.StreakStore.
func NewStreakStore(db *sqlx.DB, timeout time.Duration) *StreakStore {
	return &StreakStore{db: db, timeout: timeout}
}

// Save upserts the current streak state for a key.
func (s *StreakStore) Save(ctx context.Context, key model.Key, state model.StreakState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO streaks (instrument, timeframe, streak, wins, losses)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instrument, timeframe) DO UPDATE SET
			streak = EXCLUDED.streak, wins = EXCLUDED.wins, losses = EXCLUDED.losses`

	_, err := s.db.ExecContext(ctx, query, key.Instrument, string(key.Timeframe), state.Streak, state.Wins, state.Losses)
	if err != nil {
		return fmt.Errorf("save streak %s: %w", key, err)
	}
	return nil
}

// LoadAll returns every persisted streak, keyed by (instrument, timeframe),
// so a restart resumes each counter from its last confirmed value.
func (s *StreakStore) LoadAll(ctx context.Context) (map[model.Key]model.StreakState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT instrument, timeframe, streak, wins, losses FROM streaks`
	var rows []streakRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("load all streaks: %w", err)
	}
	out := make(map[model.Key]model.StreakState, len(rows))
	for _, r := range rows {
		out[model.Key{Instrument: r.Instrument, Timeframe: model.Timeframe(r.Timeframe)}] = model.StreakState{
			Streak: r.Streak, Wins: r.Wins, Losses: r.Losses,
		}
	}
	return out, nil
}

var _ ports.StreakStore = (*StreakStore)(nil)
