// Package state holds the engine's only persistent memory: per-symbol stop
// levels and exit history. Everything else is recomputed from prices each run.
package state

import (
	"context"
	"time"
)

// PositionState is the durable record for one symbol. The zero value means
// "never traded": no stop memory, no exit history, no whipsaw strikes.
type PositionState struct {
	Symbol string `json:"symbol" csv:"symbol" db:"symbol"`

	// Stop memory for the currently held position.
	EntryPrice  float64    `json:"entry_price" csv:"entry_price" db:"entry_price"`
	EntryDate   *time.Time `json:"entry_date,omitempty" csv:"entry_date" db:"entry_date"`
	InitialStop float64    `json:"initial_stop" csv:"initial_stop" db:"initial_stop"`
	ActiveStop  float64    `json:"active_stop" csv:"active_stop" db:"active_stop"`
	AddsTaken   int        `json:"adds_taken" csv:"adds_taken" db:"adds_taken"`

	// Exit history for re-entry governance.
	LastExitDate    *time.Time `json:"last_exit_date,omitempty" csv:"last_exit_date" db:"last_exit_date"`
	LastExitReason  string     `json:"last_exit_reason" csv:"last_exit_reason" db:"last_exit_reason"`
	LastExitProfitR float64    `json:"last_exit_profit_r" csv:"last_exit_profit_r" db:"last_exit_profit_r"`

	// Whipsaw strikes. The count is never reset; only the penalty window
	// keyed off LastWhipsawDate expires.
	WhipsawCount    int        `json:"whipsaw_count" csv:"whipsaw_count" db:"whipsaw_count"`
	LastWhipsawDate *time.Time `json:"last_whipsaw_date,omitempty" csv:"last_whipsaw_date" db:"last_whipsaw_date"`

	UpdatedAt time.Time `json:"updated_at" csv:"updated_at" db:"updated_at"`
}

// HasOpenState reports whether the record carries live stop memory.
func (s PositionState) HasOpenState() bool {
	return s.EntryPrice > 0 && s.InitialStop > 0
}

// InitialRisk is the per-share R unit of the tracked entry.
func (s PositionState) InitialRisk() float64 {
	if !s.HasOpenState() {
		return 0
	}
	return s.EntryPrice - s.InitialStop
}

// ClearOpenState wipes stop memory after an exit while preserving the exit
// and whipsaw history.
func (s *PositionState) ClearOpenState() {
	s.EntryPrice = 0
	s.EntryDate = nil
	s.InitialStop = 0
	s.ActiveStop = 0
	s.AddsTaken = 0
}

// Repository is the persistence contract for position state. Implementations
// exist for Postgres and a CSV file; both commit the full run atomically.
type Repository interface {
	Get(ctx context.Context, symbol string) (PositionState, bool, error)
	All(ctx context.Context) (map[string]PositionState, error)
	Put(ctx context.Context, st PositionState) error
	Delete(ctx context.Context, symbol string) error
	Commit(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}
