// Package stops implements the stateful stop engine: stops only ever
// tighten, and open profit is locked in at R-multiple thresholds.
package stops

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
	"github.com/sawpanic/trendscan/internal/state"
)

// Result is the stop computation for one held position.
type Result struct {
	CandidateStop   float64 `json:"candidate_stop"`
	ActiveStop      float64 `json:"active_stop"`
	Reason          string  `json:"stop_reason"`
	ProfitR         float64 `json:"profit_r"`
	ProtectionLevel string  `json:"profit_protection_level"`
	InitialR        float64 `json:"initial_r"`
	IsNewEntry      bool    `json:"is_new_entry"`

	// StateUpdate is the record to persist after the run commits.
	StateUpdate state.PositionState `json:"-"`
}

// Input is everything the engine consults for one held position.
type Input struct {
	Symbol       string
	Sleeve       domain.Sleeve
	Snapshot     *domain.IndicatorSnapshot
	Regime       domain.Regime
	StopLevel    float64 // today's structural stop from classification
	MarketRegime domain.MarketRegime
	State        state.PositionState
	HasState     bool
	AvgPrice     float64 // broker average price, seeds new entries
	HoldingDays  int
	Today        time.Time
}

// Engine applies profit protection tiers and the never-loosen rule.
type Engine struct {
	cfg config.StopConfig
	log zerolog.Logger
}

func NewEngine(cfg config.StopConfig, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log.With().Str("component", "stops").Logger()}
}

// Compute derives today's active stop for a held position.
//
// Tiers, highest first:
//
//	+3R    lock +1R and trail aggressively off low_20 / close-2ATR
//	+2.5R  lock +0.5R
//	+1.5R  breakeven, subject to the configured condition mode
//
// The final stop is max(previous active stop, candidate): a stop that
// tightened once never loosens, whatever today's candidate says.
func (e *Engine) Compute(in Input) Result {
	snap := in.Snapshot
	res := Result{
		CandidateStop: in.StopLevel,
		ActiveStop:    domain.NaN(),
		ProfitR:       domain.NaN(),
		InitialR:      domain.NaN(),
	}
	if !domain.IsFinite(snap.Close) {
		return res
	}

	candidate := in.StopLevel

	// Sideways tightening applies to stocks only; funds keep their normal
	// structural trailing.
	if in.MarketRegime == domain.MarketSideways && in.Sleeve != domain.SleeveETFCore {
		if domain.IsFinite(snap.ATR) && snap.ATR > 0 {
			tight := snap.Close - e.cfg.ChopTighteningMult*snap.ATR
			if !domain.IsFinite(candidate) || tight > candidate {
				candidate = tight
			}
			res.Reason = "SIDEWAYS_TIGHTENED"
		}
	}

	entry := in.State.EntryPrice
	initialStop := in.State.InitialStop
	if e.cfg.ProfitProtectionEnabled && in.HasState && entry > 0 && initialStop > 0 {
		r := entry - initialStop
		res.InitialR = r
		if r > 0 {
			profitR := (snap.Close - entry) / r
			res.ProfitR = profitR
			candidate = e.applyProtection(in, profitR, r, candidate, &res)
		}
	}

	res.CandidateStop = candidate

	// Never loosen.
	prev := in.State.ActiveStop
	active := candidate
	if in.HasState && prev > 0 {
		if !domain.IsFinite(candidate) || prev > candidate {
			active = prev
		}
	}
	res.ActiveStop = active

	if res.Reason == "" {
		if in.HasState && prev > 0 && active > candidate {
			res.Reason = "STATEFUL (kept higher prev stop)"
			e.log.Info().Str("symbol", in.Symbol).
				Float64("candidate_stop", candidate).
				Float64("prev_stop", prev).
				Msg("candidate stop rejected, keeping higher previous stop")
		} else {
			res.Reason = "NORMAL"
		}
	}

	res.IsNewEntry = !(in.HasState && entry > 0)
	res.StateUpdate = e.nextState(in, res, active)
	return res
}

func (e *Engine) applyProtection(in Input, profitR, r, candidate float64, res *Result) float64 {
	snap := in.Snapshot
	entry := in.State.EntryPrice

	switch {
	case profitR >= e.cfg.Lock1RThresholdR:
		// Lock +1R and pick the tightest of the trailing options.
		stop := entry + r
		if domain.IsFinite(snap.Low20) && snap.Low20 > stop {
			stop = snap.Low20
		}
		if domain.IsFinite(snap.ATR) && snap.ATR > 0 {
			if trail := snap.Close - e.cfg.TrailingATRMult*snap.ATR; trail > stop {
				stop = trail
			}
		}
		if !domain.IsFinite(candidate) || stop > candidate {
			candidate = stop
		}
		res.ProtectionLevel = "3R_LOCK_1R_TRAILING"
		res.Reason = fmt.Sprintf("+%.1fR: lock +1R, trailing stop=%.2f", profitR, candidate)

	case profitR >= e.cfg.LockHalfRThresholdR:
		// A trade that reached +2.5R should never round-trip to zero.
		stop := entry + 0.5*r
		if !domain.IsFinite(candidate) || stop > candidate {
			candidate = stop
		}
		res.ProtectionLevel = "2.5R_LOCK_HALF_R"
		res.Reason = fmt.Sprintf("+%.1fR: lock +0.5R, stop=%.2f", profitR, candidate)

	case profitR >= e.cfg.BreakevenTriggerR:
		if ok, blockReason := e.breakevenAllowed(in); ok {
			if !domain.IsFinite(candidate) || entry > candidate {
				candidate = entry
			}
			res.ProtectionLevel = fmt.Sprintf("%.1fR_BREAKEVEN", e.cfg.BreakevenTriggerR)
			res.Reason = fmt.Sprintf("+%.1fR: breakeven stop=%.2f", profitR, candidate)
		} else {
			res.ProtectionLevel = "BE_BLOCKED"
			res.Reason = blockReason
			e.log.Debug().Str("symbol", in.Symbol).Str("reason", blockReason).
				Msg("breakeven conditions not met")
		}
	}
	return candidate
}

func (e *Engine) breakevenAllowed(in Input) (bool, string) {
	switch e.cfg.BreakevenMode {
	case "trend_only":
		if in.Regime != domain.RegimeTrend {
			return false, fmt.Sprintf("BE blocked: regime=%s, need TREND", in.Regime)
		}
		adx := in.Snapshot.ADX
		if !domain.IsFinite(adx) || adx < e.cfg.BreakevenADXMin {
			return false, fmt.Sprintf("BE blocked: ADX=%.0f, need >=%.0f", adx, e.cfg.BreakevenADXMin)
		}
	case "after_days":
		if in.HoldingDays < e.cfg.BreakevenMinHoldDays {
			return false, fmt.Sprintf("BE blocked: held %dd, need %dd", in.HoldingDays, e.cfg.BreakevenMinHoldDays)
		}
	}
	return true, ""
}

// nextState seeds fresh entries from the broker average price and today's
// date; existing records keep their original entry basis.
func (e *Engine) nextState(in Input, res Result, active float64) state.PositionState {
	next := in.State
	next.Symbol = in.Symbol

	if res.IsNewEntry {
		next.EntryPrice = in.AvgPrice
		today := in.Today
		next.EntryDate = &today
		e.log.Info().Str("symbol", in.Symbol).
			Float64("avg_price", in.AvgPrice).
			Msg("new entry detected, seeding position state from broker fill")
	}
	if !(next.InitialStop > 0) && domain.IsFinite(in.StopLevel) {
		next.InitialStop = in.StopLevel
	}
	if domain.IsFinite(active) {
		next.ActiveStop = active
	}
	return next
}

// ExitSignal checks the close against the active stop. Funds fall back to
// their 20-day low when no stop memory exists.
func ExitSignal(sleeve domain.Sleeve, snap *domain.IndicatorSnapshot, activeStop, structuralStop float64) (domain.HeldAction, string) {
	stop := activeStop
	if !domain.IsFinite(stop) || stop <= 0 {
		if sleeve == domain.SleeveETFCore {
			stop = snap.Low20
		} else {
			stop = structuralStop
		}
	}
	if domain.IsFinite(stop) && snap.Close < stop {
		return domain.ActionSell, fmt.Sprintf("exit: close %.2f below stop %.2f", snap.Close, stop)
	}
	return domain.ActionHold, "no exit trigger"
}
