// Package reentry governs whether a previously exited instrument may be
// bought again: the whipsaw kill switch, the profitable-exit cooldown and
// the fast-follower squeeze override.
package reentry

import (
	"fmt"
	"time"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
	"github.com/sawpanic/trendscan/internal/state"
)

const exitReasonStopHit = "STOP_HIT"

// WhipsawVerdict reports whether the serial stop-hit kill switch blocks a
// symbol today.
type WhipsawVerdict struct {
	Blocked bool   `json:"whipsaw_blocked"`
	Count   int    `json:"whipsaw_count"`
	Reason  string `json:"whipsaw_reason"`
}

// ReentryVerdict reports whether a profitable-exit re-entry is allowed.
type ReentryVerdict struct {
	Eligible    bool    `json:"reentry_eligible"`
	Reason      string  `json:"reentry_reason"`
	LastProfitR float64 `json:"last_exit_profit_r"`
}

// FastFollowerVerdict reports the squeeze re-entry override.
type FastFollowerVerdict struct {
	Eligible       bool   `json:"fast_follower_eligible"`
	Reason         string `json:"fast_follower_reason"`
	LastExitReason string `json:"last_exit_reason"`
}

// Governor evaluates exit-history rules against position state.
type Governor struct {
	cfg config.ReentryConfig
}

func NewGovernor(cfg config.ReentryConfig) *Governor {
	return &Governor{cfg: cfg}
}

// CheckWhipsaw applies the kill switch: enough stop-hits inside the memory
// window block re-entry for the penalty period. The strike count never
// resets; only the penalty window keyed off the last strike expires.
func (g *Governor) CheckWhipsaw(st state.PositionState, hasState bool, today time.Time) WhipsawVerdict {
	v := WhipsawVerdict{}
	if !g.cfg.Whipsaw.Enabled || !hasState {
		return v
	}
	v.Count = st.WhipsawCount
	if st.WhipsawCount < g.cfg.Whipsaw.TriggerCount || st.LastWhipsawDate == nil {
		return v
	}

	daysSince := daysBetween(*st.LastWhipsawDate, today)
	if daysSince < g.cfg.Whipsaw.PenaltyDays {
		v.Blocked = true
		v.Reason = fmt.Sprintf("whipsaw blocked: %d stop-hits in %dd, %dd penalty remaining",
			st.WhipsawCount, g.cfg.Whipsaw.MemoryDays, g.cfg.Whipsaw.PenaltyDays-daysSince)
	} else {
		v.Reason = fmt.Sprintf("whipsaw penalty expired (%dd > %dd)", daysSince, g.cfg.Whipsaw.PenaltyDays)
	}
	return v
}

// CheckReentry allows re-entry only after a sufficiently profitable exit and
// a cooldown. The whipsaw block takes precedence over everything here.
func (g *Governor) CheckReentry(st state.PositionState, hasState bool, today time.Time) ReentryVerdict {
	v := ReentryVerdict{LastProfitR: domain.NaN()}
	if !g.cfg.Enabled || !hasState {
		return v
	}
	if st.LastExitDate == nil || !domain.IsFinite(st.LastExitProfitR) {
		return v
	}
	v.LastProfitR = st.LastExitProfitR

	if st.LastExitProfitR < g.cfg.MinProfitR {
		v.Reason = fmt.Sprintf("exit profit too low (%.2fR < %.1fR)", st.LastExitProfitR, g.cfg.MinProfitR)
		return v
	}

	daysSince := daysBetween(*st.LastExitDate, today)
	if daysSince < g.cfg.CooldownDays {
		v.Reason = fmt.Sprintf("cooldown: %dd < %dd required", daysSince, g.cfg.CooldownDays)
		return v
	}

	if w := g.CheckWhipsaw(st, hasState, today); w.Blocked {
		v.Reason = w.Reason
		return v
	}

	v.Eligible = true
	v.Reason = fmt.Sprintf("re-entry ok: +%.1fR profit, %dd ago", st.LastExitProfitR, daysSince)
	return v
}

// CheckFastFollower detects the shaken-out-and-resuming pattern: a recent
// stop-hit exit whose price has already reclaimed the 20-day high on heavy
// volume. Qualifying names are forced back to READY by the pipeline.
func (g *Governor) CheckFastFollower(snap *domain.IndicatorSnapshot, st state.PositionState, hasState, isHeld bool, today time.Time) FastFollowerVerdict {
	v := FastFollowerVerdict{}
	ff := g.cfg.FastFollower
	if !ff.Enabled || isHeld || !hasState {
		return v
	}
	v.LastExitReason = st.LastExitReason
	if st.LastExitReason != exitReasonStopHit || st.LastExitDate == nil {
		return v
	}

	daysSince := daysBetween(*st.LastExitDate, today)
	if daysSince > ff.LookbackDays {
		v.Reason = fmt.Sprintf("too long since stop-hit (%dd > %dd)", daysSince, ff.LookbackDays)
		return v
	}
	if !domain.IsFinite(snap.Close) || !domain.IsFinite(snap.High20) {
		return v
	}
	if ff.RequireNewHigh && snap.Close < snap.High20 {
		v.Reason = fmt.Sprintf("not at 20d high yet (close %.2f < %.2f)", snap.Close, snap.High20)
		return v
	}
	if !domain.IsFinite(snap.VolRatio) || snap.VolRatio < ff.VolumeRatioMin {
		v.Reason = fmt.Sprintf("volume too low (%.1fx < %.1fx required)", snap.VolRatio, ff.VolumeRatioMin)
		return v
	}

	// The kill switch outranks the squeeze pattern, same as plain re-entry.
	if w := g.CheckWhipsaw(st, hasState, today); w.Blocked {
		v.Reason = w.Reason
		return v
	}

	v.Eligible = true
	v.Reason = fmt.Sprintf("squeeze re-entry: reclaimed 20d high %dd after stop-hit, vol %.1fx", daysSince, snap.VolRatio)
	return v
}

// RecordStopExit updates state after a stop-hit exit, stamping a whipsaw
// strike when the loss lands inside the memory window of the previous one.
func (g *Governor) RecordStopExit(st *state.PositionState, exitProfitR float64, today time.Time) {
	st.LastExitDate = &today
	st.LastExitReason = exitReasonStopHit
	st.LastExitProfitR = exitProfitR

	if exitProfitR < 0 {
		st.WhipsawCount++
		st.LastWhipsawDate = &today
	}
	st.ClearOpenState()
}

func daysBetween(from, to time.Time) int {
	return int(to.Truncate(24*time.Hour).Sub(from.Truncate(24*time.Hour)).Hours() / 24)
}
