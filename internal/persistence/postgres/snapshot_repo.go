package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/report"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS run_snapshot (
	run_id   TEXT PRIMARY KEY,
	as_of    TIMESTAMPTZ NOT NULL,
	market   TEXT NOT NULL,
	payload  JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// SnapshotRepository persists one JSON document per run and serves the most
// recent one back to the HTTP API.
type SnapshotRepository struct {
	db      *sqlx.DB
	timeout time.Duration
	log     zerolog.Logger
}

func NewSnapshotRepository(db *sqlx.DB, timeout time.Duration, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:      db,
		timeout: timeout,
		log:     log.With().Str("component", "snapshot_repo").Logger(),
	}
}

// Migrate creates the run_snapshot table when missing.
func (r *SnapshotRepository) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("migrate run_snapshot: %w", err)
	}
	return nil
}

// Save stores one run's snapshot.
func (r *SnapshotRepository) Save(ctx context.Context, snap report.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.RunID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO run_snapshot (run_id, as_of, market, payload) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id) DO UPDATE SET payload = EXCLUDED.payload`,
		snap.RunID, snap.AsOf, snap.Market, payload)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.RunID, err)
	}
	r.log.Info().Str("run_id", snap.RunID).Int("rows", len(snap.Rows)).Msg("snapshot saved")
	return nil
}

// Latest returns the most recent snapshot, false when none exist yet.
func (r *SnapshotRepository) Latest(ctx context.Context) (report.Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var payload []byte
	err := r.db.QueryRowxContext(ctx,
		`SELECT payload FROM run_snapshot ORDER BY as_of DESC LIMIT 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return report.Snapshot{}, false, nil
	}
	if err != nil {
		return report.Snapshot{}, false, fmt.Errorf("load latest snapshot: %w", err)
	}
	var snap report.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return report.Snapshot{}, false, fmt.Errorf("decode latest snapshot: %w", err)
	}
	return snap, true, nil
}

// Prune removes snapshots older than the retention window.
func (r *SnapshotRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `DELETE FROM run_snapshot WHERE as_of < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
