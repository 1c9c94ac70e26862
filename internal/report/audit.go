package report

import (
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditLog appends one JSON line per noteworthy decision to a size-rotated
// file, so why a candidate was blocked months ago is still answerable.
type AuditLog struct {
	sink *lumberjack.Logger
	log  zerolog.Logger
}

// NewAuditLog opens (or creates) the rotating audit file.
func NewAuditLog(path string, maxSizeMB, maxBackups, maxAgeDays int) *AuditLog {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return &AuditLog{
		sink: sink,
		log:  zerolog.New(sink).With().Timestamp().Logger(),
	}
}

// BlockedEntry records a READY candidate kept out of the buy list.
func (a *AuditLog) BlockedEntry(runID, symbol, reason string) {
	a.log.Info().
		Str("run_id", runID).
		Str("event", "blocked_entry").
		Str("symbol", symbol).
		Str("reason", reason).
		Send()
}

// StopUpdate records an active-stop change for a held position.
func (a *AuditLog) StopUpdate(runID, symbol string, from, to float64, reason string) {
	a.log.Info().
		Str("run_id", runID).
		Str("event", "stop_update").
		Str("symbol", symbol).
		Float64("from", from).
		Float64("to", to).
		Str("reason", reason).
		Send()
}

// ExitSignal records a held position flagged for exit.
func (a *AuditLog) ExitSignal(runID, symbol, action, reason string) {
	a.log.Info().
		Str("run_id", runID).
		Str("event", "exit_signal").
		Str("symbol", symbol).
		Str("action", action).
		Str("reason", reason).
		Send()
}

// RunSummary closes out a run in the trail.
func (a *AuditLog) RunSummary(runID string, asOf time.Time, market string, scanned, ready, blocked int) {
	a.log.Info().
		Str("run_id", runID).
		Str("event", "run_summary").
		Str("as_of", asOf.Format("2006-01-02")).
		Str("market", market).
		Int("scanned", scanned).
		Int("ready", ready).
		Int("blocked", blocked).
		Send()
}

// Close flushes and closes the underlying file.
func (a *AuditLog) Close() error {
	return a.sink.Close()
}
