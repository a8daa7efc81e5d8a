package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharplee/signalcore/internal/model"
)

func TestStreakStore_SaveUpserts(t *testing.T) {
	db, mock := newSqlxMock(t)
	store := NewStreakStore(db, time.Second)

	mock.ExpectExec("INSERT INTO streaks").
		WithArgs("BTC-PERP", "1m", -2, 3, 5).
		WillReturnResult(sqlmock.NewResult(1, 1))

	key := model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}
	state := model.StreakState{Streak: -2, Wins: 3, Losses: 5}
	require.NoError(t, store.Save(context.Background(), key, state))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStreakStore_LoadAllBuildsKeyedMap(t *testing.T) {
	db, mock := newSqlxMock(t)
	store := NewStreakStore(db, time.Second)

	rows := sqlmock.NewRows([]string{"instrument", "timeframe", "streak", "wins", "losses"}).
		AddRow("BTC-PERP", "1m", -2, 3, 5).
		AddRow("ETH-PERP", "5m", 1, 7, 2)

	mock.ExpectQuery("SELECT .* FROM streaks").WillReturnRows(rows)

	out, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)

	btc := out[model.Key{Instrument: "BTC-PERP", Timeframe: model.TF1m}]
	assert.Equal(t, -2, btc.Streak)
	assert.Equal(t, 3, btc.Wins)
	assert.Equal(t, 5, btc.Losses)

	eth := out[model.Key{Instrument: "ETH-PERP", Timeframe: model.TF5m}]
	assert.Equal(t, 1, eth.Streak)
	assert.NoError(t, mock.ExpectationsWereMet())
}
