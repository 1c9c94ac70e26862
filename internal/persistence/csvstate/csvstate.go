// Package csvstate is the file-backed position-state repository. It keeps
// the whole table in memory and rewrites the CSV atomically on Commit, so the
// file on disk always reflects a completed run.
package csvstate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/state"
)

const dateLayout = "2006-01-02"

// record is the flat CSV row. Dates travel as YYYY-MM-DD strings so the file
// stays hand-editable; empty means unset.
type record struct {
	Symbol          string  `csv:"symbol"`
	EntryPrice      float64 `csv:"entry_price"`
	EntryDate       string  `csv:"entry_date"`
	InitialStop     float64 `csv:"initial_stop"`
	ActiveStop      float64 `csv:"active_stop"`
	AddsTaken       int     `csv:"adds_taken"`
	LastExitDate    string  `csv:"last_exit_date"`
	LastExitReason  string  `csv:"last_exit_reason"`
	LastExitProfitR float64 `csv:"last_exit_profit_r"`
	WhipsawCount    int     `csv:"whipsaw_count"`
	LastWhipsawDate string  `csv:"last_whipsaw_date"`
	UpdatedAt       string  `csv:"updated_at"`
}

// Repository implements state.Repository on a single CSV file.
type Repository struct {
	path string
	log  zerolog.Logger

	mu        sync.RWMutex
	committed map[string]state.PositionState
	staged    map[string]state.PositionState
	deleted   map[string]bool
}

// Open loads the CSV file if it exists. A missing file is an empty table.
func Open(path string, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		path:      path,
		log:       log.With().Str("component", "state_repo").Str("backend", "csv").Logger(),
		committed: map[string]state.PositionState{},
		staged:    map[string]state.PositionState{},
		deleted:   map[string]bool{},
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		r.log.Info().Str("path", path).Msg("no state file yet, starting empty")
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	var rows []record
	if err := gocsv.UnmarshalFile(f, &rows); err != nil && err != gocsv.ErrEmptyCSVFile {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	for i, row := range rows {
		st, err := fromRecord(row)
		if err != nil {
			return nil, fmt.Errorf("state file %s row %d: %w", path, i+2, err)
		}
		r.committed[st.Symbol] = st
	}
	r.log.Info().Str("path", path).Int("records", len(r.committed)).Msg("position state loaded")
	return r, nil
}

func (r *Repository) Get(_ context.Context, symbol string) (state.PositionState, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.deleted[symbol] {
		return state.PositionState{}, false, nil
	}
	if st, ok := r.staged[symbol]; ok {
		return st, true, nil
	}
	st, ok := r.committed[symbol]
	return st, ok, nil
}

func (r *Repository) All(_ context.Context) (map[string]state.PositionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]state.PositionState, len(r.committed)+len(r.staged))
	for sym, st := range r.committed {
		out[sym] = st
	}
	for sym, st := range r.staged {
		out[sym] = st
	}
	for sym := range r.deleted {
		delete(out, sym)
	}
	return out, nil
}

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

func (r *Repository) Delete(_ context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.staged, symbol)
	r.deleted[symbol] = true
	return nil
}

// Commit rewrites the file through a temp-file rename.
func (r *Repository) Commit(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.staged) == 0 && len(r.deleted) == 0 {
		return nil
	}
	for sym := range r.deleted {
		delete(r.committed, sym)
	}
	for sym, st := range r.staged {
		r.committed[sym] = st
	}

	rows := make([]record, 0, len(r.committed))
	for _, st := range r.committed {
		rows = append(rows, toRecord(st))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := r.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}

	r.log.Info().Int("records", len(rows)).Int("deletes", len(r.deleted)).Str("path", r.path).Msg("position state committed")
	r.staged = map[string]state.PositionState{}
	r.deleted = map[string]bool{}
	return nil
}

// HealthCheck verifies the state directory is writable.
func (r *Repository) HealthCheck(_ context.Context) error {
	dir := filepath.Dir(r.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("state dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("state path parent %s is not a directory", dir)
	}
	return nil
}

func toRecord(st state.PositionState) record {
	return record{
		Symbol:          st.Symbol,
		EntryPrice:      st.EntryPrice,
		EntryDate:       formatDate(st.EntryDate),
		InitialStop:     st.InitialStop,
		ActiveStop:      st.ActiveStop,
		AddsTaken:       st.AddsTaken,
		LastExitDate:    formatDate(st.LastExitDate),
		LastExitReason:  st.LastExitReason,
		LastExitProfitR: st.LastExitProfitR,
		WhipsawCount:    st.WhipsawCount,
		LastWhipsawDate: formatDate(st.LastWhipsawDate),
		UpdatedAt:       st.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func fromRecord(row record) (state.PositionState, error) {
	if row.Symbol == "" {
		return state.PositionState{}, fmt.Errorf("row without symbol")
	}
	st := state.PositionState{
		Symbol:          row.Symbol,
		EntryPrice:      row.EntryPrice,
		InitialStop:     row.InitialStop,
		ActiveStop:      row.ActiveStop,
		AddsTaken:       row.AddsTaken,
		LastExitReason:  row.LastExitReason,
		LastExitProfitR: row.LastExitProfitR,
		WhipsawCount:    row.WhipsawCount,
	}
	var err error
	if st.EntryDate, err = parseDate(row.EntryDate); err != nil {
		return st, fmt.Errorf("entry_date: %w", err)
	}
	if st.LastExitDate, err = parseDate(row.LastExitDate); err != nil {
		return st, fmt.Errorf("last_exit_date: %w", err)
	}
	if st.LastWhipsawDate, err = parseDate(row.LastWhipsawDate); err != nil {
		return st, fmt.Errorf("last_whipsaw_date: %w", err)
	}
	if row.UpdatedAt != "" {
		if st.UpdatedAt, err = time.Parse(time.RFC3339, row.UpdatedAt); err != nil {
			return st, fmt.Errorf("updated_at %s: %w", strconv.Quote(row.UpdatedAt), err)
		}
	}
	return st, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
