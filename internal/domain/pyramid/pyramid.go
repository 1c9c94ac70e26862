// Package pyramid computes add-unit signals for trending held positions.
package pyramid

import (
	"fmt"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
	"github.com/sawpanic/trendscan/internal/state"
)

// Action is the add-unit verdict for one held position.
type Action string

const (
	ActionNone Action = ""
	ActionAdd  Action = "ADD"
	ActionWait Action = "WAIT"
	ActionHold Action = "HOLD"
)

// Signal is the pyramiding output for one position.
type Signal struct {
	Eligible bool    `json:"add_eligible"`
	Level1   float64 `json:"add_level_1"`
	Level2   float64 `json:"add_level_2"`
	Action   Action  `json:"add_action"`
	Reason   string  `json:"add_reason"`
}

// Engine derives add levels from the entry price in ATR steps.
type Engine struct {
	cfg config.PyramidConfig
}

func NewEngine(cfg config.PyramidConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate returns the add signal for a held position. Adds only fire in a
// confirmed TREND and stop after the configured limit.
func (e *Engine) Evaluate(snap *domain.IndicatorSnapshot, regime domain.Regime, st state.PositionState, hasState bool) Signal {
	sig := Signal{Level1: domain.NaN(), Level2: domain.NaN()}

	if !e.cfg.Enabled() {
		sig.Reason = "pyramiding disabled"
		return sig
	}
	if regime != domain.RegimeTrend {
		sig.Reason = "not in TREND regime"
		return sig
	}
	if !hasState || !(st.EntryPrice > 0) {
		sig.Reason = "no tracked entry price"
		return sig
	}
	if !domain.IsFinite(snap.ATR) || snap.ATR <= 0 {
		sig.Reason = "no valid ATR"
		return sig
	}

	sig.Eligible = true
	sig.Level1 = st.EntryPrice + e.cfg.Add1ATR*snap.ATR
	sig.Level2 = st.EntryPrice + e.cfg.Add2ATR*snap.ATR

	switch {
	case st.AddsTaken >= e.cfg.AddLimit:
		sig.Action = ActionHold
		sig.Reason = fmt.Sprintf("max adds already taken (%d)", e.cfg.AddLimit)
	case st.AddsTaken == 0 && snap.Close >= sig.Level1:
		sig.Action = ActionAdd
		sig.Reason = fmt.Sprintf("add #1 triggered (close >= entry + %.1f ATR)", e.cfg.Add1ATR)
	case st.AddsTaken == 1 && snap.Close >= sig.Level2:
		sig.Action = ActionAdd
		sig.Reason = fmt.Sprintf("add #2 triggered (close >= entry + %.1f ATR)", e.cfg.Add2ATR)
	default:
		sig.Action = ActionWait
		sig.Reason = "no add trigger met"
	}
	return sig
}
