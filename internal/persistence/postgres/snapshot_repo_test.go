package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/trendscan/internal/report"
)

func newSnapshotRepo(t *testing.T) (*SnapshotRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSnapshotRepository(sqlx.NewDb(db, "sqlmock"), time.Second, zerolog.Nop()), mock
}

func sampleSnapshot() report.Snapshot {
	return report.Snapshot{
		RunID:  "run-1",
		AsOf:   time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC),
		Market: "BULLISH",
		Rows: []report.SnapshotRow{
			{Symbol: "NVDA", Sleeve: "STOCK_CORE", Status: "READY", Close: 105.2},
		},
		Card: "# Action Card",
	}
}

func TestSnapshotSave(t *testing.T) {
	repo, mock := newSnapshotRepo(t)
	snap := sampleSnapshot()
	payload, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO run_snapshot").
		WithArgs(snap.RunID, snap.AsOf, snap.Market, payload).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotLatestRoundTrip(t *testing.T) {
	repo, mock := newSnapshotRepo(t)
	payload, err := json.Marshal(sampleSnapshot())
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM run_snapshot").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	snap, ok, err := repo.Latest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", snap.RunID)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "NVDA", snap.Rows[0].Symbol)
}

func TestSnapshotLatestEmptyIsNotAnError(t *testing.T) {
	repo, mock := newSnapshotRepo(t)
	mock.ExpectQuery("SELECT payload FROM run_snapshot").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, ok, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotPrune(t *testing.T) {
	repo, mock := newSnapshotRepo(t)
	cutoff := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM run_snapshot").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.Prune(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSnapshotMigrate(t *testing.T) {
	repo, mock := newSnapshotRepo(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS run_snapshot").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.Migrate(context.Background()))
}
