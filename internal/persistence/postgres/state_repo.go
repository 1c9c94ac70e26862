// Package postgres provides the sqlx-backed position-state repository.
// Writes are staged in memory during a run and flushed in one transaction on
// Commit, so a crashed run never leaves half-updated stop levels behind.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS position_state (
	symbol             TEXT PRIMARY KEY,
	entry_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	entry_date         DATE,
	initial_stop       DOUBLE PRECISION NOT NULL DEFAULT 0,
	active_stop        DOUBLE PRECISION NOT NULL DEFAULT 0,
	adds_taken         INTEGER NOT NULL DEFAULT 0,
	last_exit_date     DATE,
	last_exit_reason   TEXT NOT NULL DEFAULT '',
	last_exit_profit_r DOUBLE PRECISION NOT NULL DEFAULT 0,
	whipsaw_count      INTEGER NOT NULL DEFAULT 0,
	last_whipsaw_date  DATE,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertStmt = `
INSERT INTO position_state
	(symbol, entry_price, entry_date, initial_stop, active_stop, adds_taken,
	 last_exit_date, last_exit_reason, last_exit_profit_r,
	 whipsaw_count, last_whipsaw_date, updated_at)
VALUES
	(:symbol, :entry_price, :entry_date, :initial_stop, :active_stop, :adds_taken,
	 :last_exit_date, :last_exit_reason, :last_exit_profit_r,
	 :whipsaw_count, :last_whipsaw_date, :updated_at)
ON CONFLICT (symbol) DO UPDATE SET
	entry_price = EXCLUDED.entry_price,
	entry_date = EXCLUDED.entry_date,
	initial_stop = EXCLUDED.initial_stop,
	active_stop = EXCLUDED.active_stop,
	adds_taken = EXCLUDED.adds_taken,
	last_exit_date = EXCLUDED.last_exit_date,
	last_exit_reason = EXCLUDED.last_exit_reason,
	last_exit_profit_r = EXCLUDED.last_exit_profit_r,
	whipsaw_count = EXCLUDED.whipsaw_count,
	last_whipsaw_date = EXCLUDED.last_whipsaw_date,
	updated_at = EXCLUDED.updated_at`

// Repository is a Postgres-backed state.Repository.
type Repository struct {
	db      *sqlx.DB
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	staged  map[string]state.PositionState
	deleted map[string]bool
}

// New wraps an open sqlx handle. Migrate must be called once before use.
func New(db *sqlx.DB, timeout time.Duration, log zerolog.Logger) *Repository {
	return &Repository{
		db:      db,
		timeout: timeout,
		log:     log.With().Str("component", "state_repo").Str("backend", "postgres").Logger(),
		staged:  map[string]state.PositionState{},
		deleted: map[string]bool{},
	}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, timeout time.Duration, log zerolog.Logger) (*Repository, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, timeout, log), nil
}

// DB exposes the underlying handle so sibling repositories can share the
// connection pool.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// Migrate creates the position_state table when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate position_state: %w", err)
	}
	return nil
}

// Get returns the stored record for a symbol, staged changes included.
func (r *Repository) Get(ctx context.Context, symbol string) (state.PositionState, bool, error) {
	r.mu.Lock()
	if r.deleted[symbol] {
		r.mu.Unlock()
		return state.PositionState{}, false, nil
	}
	if st, ok := r.staged[symbol]; ok {
		r.mu.Unlock()
		return st, true, nil
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var st state.PositionState
	err := r.db.GetContext(ctx, &st, `SELECT * FROM position_state WHERE symbol = $1`, symbol)
	if err == sql.ErrNoRows {
		return state.PositionState{}, false, nil
	}
	if err != nil {
		return state.PositionState{}, false, fmt.Errorf("get position state %s: %w", symbol, err)
	}
	return st, true, nil
}

// All returns every stored record overlaid with staged changes.
func (r *Repository) All(ctx context.Context) (map[string]state.PositionState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []state.PositionState
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM position_state ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("list position state: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]state.PositionState, len(rows)+len(r.staged))
	for _, st := range rows {
		out[st.Symbol] = st
	}
	for sym, st := range r.staged {
		out[sym] = st
	}
	for sym := range r.deleted {
		delete(out, sym)
	}
	return out, nil
}

// Put stages an upsert for the next Commit.
func (r *Repository) Put(_ context.Context, st state.PositionState) error {
	if st.Symbol == "" {
		return fmt.Errorf("position state without symbol")
	}
	st.UpdatedAt = time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deleted, st.Symbol)
	r.staged[st.Symbol] = st
	return nil
}

// Delete stages a removal for the next Commit.
func (r *Repository) Delete(_ context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.staged, symbol)
	r.deleted[symbol] = true
	return nil
}

// Commit flushes all staged changes in a single transaction.
func (r *Repository) Commit(ctx context.Context) error {
	r.mu.Lock()
	staged := make([]state.PositionState, 0, len(r.staged))
	for _, st := range r.staged {
		staged = append(staged, st)
	}
	deleted := make([]string, 0, len(r.deleted))
	for sym := range r.deleted {
		deleted = append(deleted, sym)
	}
	r.mu.Unlock()

	if len(staged) == 0 && len(deleted) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(staged)/50+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state commit: %w", err)
	}
	defer tx.Rollback()

	for _, sym := range deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM position_state WHERE symbol = $1`, sym); err != nil {
			return fmt.Errorf("delete position state %s: %w", sym, err)
		}
	}
	for _, st := range staged {
		if _, err := tx.NamedExecContext(ctx, upsertStmt, st); err != nil {
			return fmt.Errorf("upsert position state %s: %w", st.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit position state: %w", err)
	}

	r.log.Info().Int("upserts", len(staged)).Int("deletes", len(deleted)).Msg("position state committed")

	r.mu.Lock()
	r.staged = map[string]state.PositionState{}
	r.deleted = map[string]bool{}
	r.mu.Unlock()
	return nil
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (r *Repository) Close() error {
	return r.db.Close()
}
