package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/trendscan/internal/state"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock"), 5*time.Second, zerolog.Nop()), mock
}

var stateColumns = []string{
	"symbol", "entry_price", "entry_date", "initial_stop", "active_stop",
	"adds_taken", "last_exit_date", "last_exit_reason", "last_exit_profit_r",
	"whipsaw_count", "last_whipsaw_date", "updated_at",
}

func TestGetReturnsStoredRecord(t *testing.T) {
	repo, mock := newMockRepo(t)
	entry := time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM position_state WHERE symbol = \$1`).
		WithArgs("NVDA").
		WillReturnRows(sqlmock.NewRows(stateColumns).
			AddRow("NVDA", 100.0, entry, 95.0, 98.5, 1, nil, "", 0.0, 0, nil, time.Now()))

	st, ok, err := repo.Get(context.Background(), "NVDA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100.0, st.EntryPrice)
	assert.Equal(t, 98.5, st.ActiveStop)
	require.NotNil(t, st.EntryDate)
	assert.True(t, entry.Equal(*st.EntryDate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingSymbolIsNotAnError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT \* FROM position_state WHERE symbol = \$1`).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows(stateColumns))

	_, ok, err := repo.Get(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStagedPutShadowsDatabase(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, state.PositionState{Symbol: "NVDA", EntryPrice: 100, InitialStop: 95}))

	// No query expected: the staged record wins without touching the db.
	st, ok, err := repo.Get(ctx, "NVDA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100.0, st.EntryPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitFlushesInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, state.PositionState{Symbol: "NVDA", EntryPrice: 100, InitialStop: 95}))
	require.NoError(t, repo.Delete(ctx, "OLD"))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM position_state WHERE symbol = \$1`).
		WithArgs("OLD").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO position_state`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())

	// The staging buffers are drained: a second commit is a no-op.
	require.NoError(t, repo.Commit(ctx))
}

func TestCommitRollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, state.PositionState{Symbol: "NVDA", EntryPrice: 100, InitialStop: 95}))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO position_state`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert position state NVDA")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnstagesPendingPut(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, state.PositionState{Symbol: "NVDA", EntryPrice: 100, InitialStop: 95}))
	require.NoError(t, repo.Delete(ctx, "NVDA"))

	_, ok, err := repo.Get(ctx, "NVDA")
	require.NoError(t, err)
	assert.False(t, ok, "deleted symbol must not resolve even before commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllOverlaysStagedChanges(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM position_state ORDER BY symbol`).
		WillReturnRows(sqlmock.NewRows(stateColumns).
			AddRow("AAA", 50.0, nil, 45.0, 47.0, 0, nil, "", 0.0, 0, nil, time.Now()).
			AddRow("BBB", 80.0, nil, 75.0, 76.0, 0, nil, "", 0.0, 1, nil, time.Now()))

	require.NoError(t, repo.Put(ctx, state.PositionState{Symbol: "AAA", EntryPrice: 55, InitialStop: 50}))
	require.NoError(t, repo.Delete(ctx, "BBB"))

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 55.0, all["AAA"].EntryPrice)
}

func TestHealthCheck(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectPing()
	assert.NoError(t, repo.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(assert.AnError)
	assert.Error(t, repo.HealthCheck(context.Background()))
}

func TestMigrateCreatesTable(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS position_state`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.NoError(t, repo.Migrate(context.Background()))
}

func TestPutRequiresSymbol(t *testing.T) {
	repo, _ := newMockRepo(t)
	assert.Error(t, repo.Put(context.Background(), state.PositionState{}))
}
