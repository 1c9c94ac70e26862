// Package advisory produces the suggestion-layer checks that sit on top of
// the core signals: the execution guard for chasing entries, climax-top
// handling, laggard flagging, the market-breadth valve and the cluster
// heat/swap filters. Everything here advises; nothing trades.
package advisory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

// Advisor evaluates the advisory checks against one run's rows.
type Advisor struct {
	breadth config.BreadthConfig
	heat    config.HeatConfig
	climax  config.ClimaxConfig
	laggard config.LaggardConfig
	guard   config.ExecGuardConfig
	swap    config.RiskConfig
	log     zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) *Advisor {
	return &Advisor{
		breadth: cfg.Breadth,
		heat:    cfg.Heat,
		climax:  cfg.Climax,
		laggard: cfg.Laggard,
		guard:   cfg.ExecGuard,
		swap:    cfg.Risk,
		log:     log.With().Str("component", "advisory").Logger(),
	}
}

// GuardResult is the execution-guard verdict for a READY candidate.
type GuardResult struct {
	Pass         bool    `json:"exec_guard_pass"`
	Reason       string  `json:"exec_guard_reason"`
	ExtensionATR float64 `json:"extension_atr_above_trigger"`
	ExtensionPct float64 `json:"extension_pct_above_trigger"`
}

// ExecutionGuard decides whether a non-held READY candidate has run too far
// above its entry trigger to buy at the next open. The guard fails when
// either the ATR or percentage extension threshold is exceeded.
func (a *Advisor) ExecutionGuard(snap *domain.IndicatorSnapshot, trigger float64, status domain.Status, isHeld bool) GuardResult {
	out := GuardResult{Pass: true, ExtensionATR: domain.NaN(), ExtensionPct: domain.NaN()}

	if !a.guard.Enabled {
		out.Reason = "GUARD_DISABLED"
		return out
	}
	if isHeld {
		out.Reason = "HELD_POSITION"
		return out
	}
	if status != domain.StatusReady {
		out.Reason = "NOT_READY"
		return out
	}
	if !domain.IsFinite(trigger) || trigger <= 0 {
		out.Reason = "NO_TRIGGER"
		return out
	}

	if domain.IsFinite(snap.Close) && domain.IsFinite(snap.ATR) && snap.ATR > 0 {
		out.ExtensionATR = (snap.Close - trigger) / snap.ATR
	}
	if domain.IsFinite(snap.Close) {
		out.ExtensionPct = snap.Close/trigger - 1
	}

	var fails []string
	if domain.IsFinite(out.ExtensionATR) && out.ExtensionATR > a.guard.MaxATRAboveTrigger {
		fails = append(fails, fmt.Sprintf("ATR extension %.2f > %g", out.ExtensionATR, a.guard.MaxATRAboveTrigger))
	}
	if domain.IsFinite(out.ExtensionPct) && out.ExtensionPct > a.guard.MaxPctAboveTrigger {
		fails = append(fails, fmt.Sprintf("PCT extension %.1f%% > %.0f%%", out.ExtensionPct*100, a.guard.MaxPctAboveTrigger*100))
	}
	if len(fails) > 0 {
		out.Pass = false
		out.Reason = "SKIP: " + strings.Join(fails, ", ")
		return out
	}
	out.Reason = "PASS"
	return out
}

// ClimaxAdvice is the suggested handling for a held position in a blow-off.
type ClimaxAdvice struct {
	Flagged       bool    `json:"climax_flag"`
	Action        string  `json:"climax_action"` // TIGHTEN_STOP | TRIM | SELL
	Reason        string  `json:"climax_reason"`
	SuggestedStop float64 `json:"climax_suggested_stop"`
}

// ClimaxExit maps a flagged parabolic top on a held position to the
// configured action. A tighten_stop suggestion never loosens the active stop.
func (a *Advisor) ClimaxExit(snap *domain.IndicatorSnapshot, activeStop float64, isHeld bool) ClimaxAdvice {
	advice := ClimaxAdvice{SuggestedStop: domain.NaN()}
	if !a.climax.Enabled || !isHeld || !snap.ClimaxFlag {
		return advice
	}
	advice.Flagged = true

	extPct := snap.MAExtensionPct * 100
	switch a.climax.Action {
	case "tighten_stop":
		advice.Action = "TIGHTEN_STOP"
		if domain.IsFinite(snap.Close) && domain.IsFinite(snap.ATR) && snap.ATR > 0 {
			stop := snap.Close - a.climax.ATRTightenMult*snap.ATR
			if domain.IsFinite(activeStop) {
				stop = math.Max(stop, activeStop)
			}
			advice.SuggestedStop = stop
			advice.Reason = fmt.Sprintf("CLIMAX: +%.0f%% above MA20, vol %.1fx - tighten stop to %.2f", extPct, snap.VolRatio, stop)
		} else {
			advice.Reason = fmt.Sprintf("CLIMAX TOP: +%.0f%% above MA20, volume %.1fx - consider tightening stop", extPct, snap.VolRatio)
		}
	case "trim":
		advice.Action = "TRIM"
		advice.Reason = fmt.Sprintf("CLIMAX: +%.0f%% above MA20, vol %.1fx - suggest trim %.0f%%", extPct, snap.VolRatio, a.climax.TrimPct*100)
	default:
		advice.Action = "SELL"
		advice.Reason = fmt.Sprintf("CLIMAX TOP: +%.0f%% above MA20, volume %.1fx avg - sell into strength!", extPct, snap.VolRatio)
	}
	return advice
}

// LaggardCheck is the stale-loser verdict for a held position.
type LaggardCheck struct {
	IsLaggard   bool    `json:"is_laggard"`
	Reason      string  `json:"laggard_reason"`
	HoldingDays float64 `json:"holding_days"`
	LossPct     float64 `json:"laggard_loss_pct"`
}

// Laggard flags a held position that has sat in a loss long enough that the
// capital is better recycled. A missing entry date falls back to a
// conservative holding-day estimate so long-tracked names are not skipped.
func (a *Advisor) Laggard(symbol string, close, entryPrice float64, entryDate *time.Time, activeStop float64, today time.Time) LaggardCheck {
	out := LaggardCheck{HoldingDays: domain.NaN(), LossPct: domain.NaN()}
	if !a.laggard.Enabled {
		return out
	}
	if !domain.IsFinite(entryPrice) || entryPrice <= 0 || !domain.IsFinite(close) || close >= entryPrice {
		return out
	}
	out.LossPct = (entryPrice - close) / entryPrice * 100

	var holdingDays float64
	switch {
	case entryDate != nil:
		holdingDays = math.Floor(today.Sub(*entryDate).Hours() / 24)
	case domain.IsFinite(activeStop):
		// Tracked before but no entry date recorded: assume old enough.
		holdingDays = float64(a.laggard.HoldingDays + 1)
		a.log.Warn().Str("symbol", symbol).Msg("no entry date on record, laggard check using fallback holding days")
	default:
		holdingDays = 0
	}
	out.HoldingDays = holdingDays

	if holdingDays < float64(a.laggard.HoldingDays) || out.LossPct < a.laggard.MinLossPct {
		return out
	}
	out.IsLaggard = true
	out.Reason = fmt.Sprintf("Held %.0fd in loss (%.1f%%), consider trimming to recycle capital", holdingDays, out.LossPct)
	return out
}

// BreadthReading summarizes universe participation above the 50-day mean.
type BreadthReading struct {
	Pct             float64 `json:"breadth_pct"`
	Healthy         bool    `json:"breadth_healthy"`
	EffectiveMaxPos int     `json:"effective_max_positions"`
	SampleSize      int     `json:"breadth_sample_size"`
	AboveMA50       int     `json:"breadth_above_50dma"`
}

// BreadthRow is one universe member's contribution to the breadth sample.
type BreadthRow struct {
	Sleeve domain.Sleeve
	Close  float64
	MA50   float64
}

// MarketBreadth computes the share of the scanned universe trading above its
// MA50, hedges excluded. Thin breadth halves the position budget; an empty
// sample is treated as unhealthy.
func (a *Advisor) MarketBreadth(rows []BreadthRow, maxPositions int) BreadthReading {
	out := BreadthReading{Pct: domain.NaN(), EffectiveMaxPos: a.breadth.ReducedMaxPositions}
	if !a.breadth.Enabled {
		out.Healthy = true
		out.EffectiveMaxPos = maxPositions
		return out
	}

	above, total := 0, 0
	for _, r := range rows {
		if r.Sleeve == domain.SleeveHedge || !domain.IsFinite(r.Close) || !domain.IsFinite(r.MA50) {
			continue
		}
		total++
		if r.Close > r.MA50 {
			above++
		}
	}
	if total == 0 {
		a.log.Warn().Msg("no eligible universe rows for breadth calculation")
		return out
	}

	out.Pct = float64(above) / float64(total)
	out.SampleSize = total
	out.AboveMA50 = above
	out.Healthy = out.Pct >= a.breadth.ThresholdPct
	if out.Healthy {
		out.EffectiveMaxPos = maxPositions
		a.log.Info().Float64("breadth_pct", out.Pct).Int("sample", total).Msg("market breadth healthy")
	} else {
		a.log.Warn().
			Float64("breadth_pct", out.Pct).
			Int("max_positions", out.EffectiveMaxPos).
			Msg("thin market breadth, reducing position budget")
	}
	return out
}

// HeatCheck blocks a new entry into a crowded cluster unless the candidate's
// rank beats the cluster's held average by the configured premium. Lower rank
// scores are better, so the bar is avg*(1-premium).
func (a *Advisor) HeatCheck(cluster string, candidateRank float64, isHeld bool, clusterHoldings map[string]int, clusterRankAvg map[string]float64) (bool, string) {
	if !a.heat.Enabled || isHeld || cluster == "" {
		return false, ""
	}
	heldCount := clusterHoldings[cluster]
	if heldCount < a.heat.ClusterThreshold {
		return false, ""
	}
	if !domain.IsFinite(candidateRank) {
		return true, fmt.Sprintf("HEAT_CHECK blocked: cluster %s has %d positions, no rank score to compare", cluster, heldCount)
	}
	avg, ok := clusterRankAvg[cluster]
	if !ok || !domain.IsFinite(avg) {
		return false, ""
	}
	threshold := avg * (1 - a.heat.MomentumPremium)
	if candidateRank <= threshold {
		return false, fmt.Sprintf("HEAT_CHECK passed: rank %.0f <= %.0f (%.0f%% better than avg %.0f)", candidateRank, threshold, a.heat.MomentumPremium*100, avg)
	}
	return true, fmt.Sprintf("HEAT_CHECK blocked: rank %.0f > %.0f threshold in cluster %s (%d positions)", candidateRank, threshold, cluster, heldCount)
}

// SwapCandidate is one READY name eligible to replace a held position.
type SwapCandidate struct {
	Symbol    string
	Cluster   string
	RankScore float64
	Eligible  bool
}

// SwapSuggestion recommends replacing one held position with a candidate.
type SwapSuggestion struct {
	Swap      bool   `json:"should_swap"`
	Reason    string `json:"swap_reason"`
	ForSymbol string `json:"swap_for_ticker"`
}

// HeldSwapInput is the held-position view the swap check operates on.
type HeldSwapInput struct {
	Cluster   string
	RankScore float64
	Dist20Pct float64
	Status    domain.Status
	ProfitR   float64
}

// SwapForLeader suggests two kinds of upgrade for a held position: a
// same-cluster swap when the cluster is at its risk cap and a READY candidate
// ranks better, and a laggard swap when the position has gone IGNORE/WATCH
// with under half an R of profit. Positions past 2R are never swapped away.
func (a *Advisor) SwapForLeader(held HeldSwapInput, clusterAtCap map[string]bool, ready []SwapCandidate) SwapSuggestion {
	if !a.swap.SwapEnabled || len(ready) == 0 {
		return SwapSuggestion{}
	}

	if held.Cluster != "" && clusterAtCap[held.Cluster] {
		holdingRank := held.RankScore
		if !domain.IsFinite(holdingRank) {
			holdingRank = held.Dist20Pct * 1000
		}
		if best, ok := bestRanked(ready, held.Cluster, false); ok && best.RankScore < holdingRank {
			return SwapSuggestion{
				Swap:      true,
				Reason:    fmt.Sprintf("SWAP: %s has better momentum (rank %.0f vs %.0f) in capped cluster %s", best.Symbol, best.RankScore, holdingRank, held.Cluster),
				ForSymbol: best.Symbol,
			}
		}
	}

	lowProfit := domain.IsFinite(held.ProfitR) && held.ProfitR < 0.5
	stale := held.Status == domain.StatusIgnore || held.Status == domain.StatusWatch
	if stale && lowProfit {
		if best, ok := bestRanked(ready, "", true); ok {
			return SwapSuggestion{
				Swap:      true,
				Reason:    fmt.Sprintf("LAGGARD_SWAP: Replace %s position (%.2fR) with %s (%s)", held.Status, held.ProfitR, best.Symbol, best.Cluster),
				ForSymbol: best.Symbol,
			}
		}
	}
	return SwapSuggestion{}
}

// bestRanked returns the lowest-scoring candidate, optionally filtered to a
// cluster or to risk-cap-eligible names. Symbol order breaks exact ties so
// the suggestion is stable run to run.
func bestRanked(ready []SwapCandidate, cluster string, eligibleOnly bool) (SwapCandidate, bool) {
	filtered := make([]SwapCandidate, 0, len(ready))
	for _, c := range ready {
		if cluster != "" && c.Cluster != cluster {
			continue
		}
		if eligibleOnly && !c.Eligible {
			continue
		}
		if !domain.IsFinite(c.RankScore) {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return SwapCandidate{}, false
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].RankScore != filtered[j].RankScore {
			return filtered[i].RankScore < filtered[j].RankScore
		}
		return filtered[i].Symbol < filtered[j].Symbol
	})
	return filtered[0], true
}
