// Package risk sizes candidate entries and enforces portfolio budgets:
// open-risk, cluster, super-cluster, sleeve and per-position caps.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

// Row is one instrument entering the risk pass.
type Row struct {
	Instrument   domain.Instrument
	Snapshot     *domain.IndicatorSnapshot
	Status       domain.Status
	Breakout     float64
	StopLevel    float64
	EntryTrigger float64
	ActiveStop   float64 // NaN when no stop memory exists
	IsHeld       bool
	Position     domain.Position
	AddEligible  bool
}

// Assessment is the per-instrument risk output.
type Assessment struct {
	Symbol              string  `json:"symbol"`
	RiskPerShare        float64 `json:"risk_per_share"` // gap-buffered, for sizing
	HeldStopUsed        float64 `json:"held_stop_used"`
	HeldRisk            float64 `json:"held_risk"` // true risk, no gap buffer
	PositionValue       float64 `json:"position_value"`
	PositionPct         float64 `json:"position_pct_of_equity"`
	ProjectedShares     float64 `json:"projected_shares"`
	ProjectedValue      float64 `json:"projected_value"`
	ProjectedPct        float64 `json:"projected_pct"`
	ClusterRiskPct      float64 `json:"cluster_risk_pct"`
	SuperClusterRiskPct float64 `json:"super_cluster_risk_pct"`
	SleeveValuePct      float64 `json:"sleeve_value_pct"`
	RiskReward          float64 `json:"risk_reward_ratio"`
	RRDisplay           string  `json:"rr_display"`
	BlockReason         string  `json:"risk_caps_block_reason"`
	WarningReason       string  `json:"risk_warning_reason"`
	Eligible            bool    `json:"eligible_by_risk_caps"`
}

// Totals is the portfolio-level risk picture for the run.
type Totals struct {
	Equity             float64 `json:"equity"`
	OpenRiskPctTotal   float64 `json:"open_risk_pct_total"`
	OpenRiskPctExHedge float64 `json:"open_risk_pct_ex_hedge"`
	HedgeRiskPct       float64 `json:"hedge_risk_pct"`
	PositionCount      int     `json:"position_count_ex_hedge"`
	CapStage           string  `json:"cap_stage"`
	EffectiveMaxRisk   float64 `json:"effective_max_open_risk_pct"`
	ExpansionActive    bool    `json:"momentum_expansion_active"`
	MaxPositions       int     `json:"effective_max_positions"`
}

// Engine runs the portfolio risk pass.
type Engine struct {
	cfg config.RiskConfig
	log zerolog.Logger
}

func NewEngine(cfg config.RiskConfig, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log.With().Str("component", "risk").Logger()}
}

// Evaluate computes exposure aggregates once and then assesses every row
// against them. maxPositions is the breadth-adjusted position limit.
// Results are keyed by symbol; iteration order of the input never affects
// any output value.
func (e *Engine) Evaluate(rows []Row, portfolio domain.Portfolio, market domain.MarketRegime, maxPositions int) (map[string]*Assessment, Totals) {
	equity := portfolio.Equity

	// Aggregate true held risk (active stop, no gap buffer) and value
	// exposure by cluster, super-cluster and sleeve.
	clusterRisk := map[string]float64{}
	superRisk := map[string]float64{}
	sleeveValue := map[domain.Sleeve]float64{}
	totalRisk, exHedgeRisk, hedgeRisk := 0.0, 0.0, 0.0
	positionCount := 0

	held := map[string]heldFacts{}

	for _, r := range rows {
		if !r.IsHeld {
			continue
		}
		stopUsed := r.ActiveStop
		if !domain.IsFinite(stopUsed) || stopUsed <= 0 {
			stopUsed = r.StopLevel
		}
		dist := r.Snapshot.Close - stopUsed
		if !domain.IsFinite(dist) || dist < 0 {
			dist = 0
		}
		fx := r.Position.FXRate
		if fx == 0 {
			fx = 1
		}
		risk := r.Position.Quantity * dist * fx
		value := r.Position.MarketValue(r.Snapshot.Close)

		held[r.Instrument.Symbol] = heldFacts{stopUsed: stopUsed, risk: risk, value: value}
		totalRisk += risk
		if r.Instrument.Sleeve == domain.SleeveHedge {
			hedgeRisk += risk
		} else {
			exHedgeRisk += risk
			positionCount++
		}
		clusterRisk[r.Instrument.Cluster] += risk
		superRisk[r.Instrument.SuperCluster] += risk
		sleeveValue[r.Instrument.Sleeve] += value
	}

	stage := e.cfg.StageFor(positionCount)
	effectiveMax := e.effectiveMaxOpenRisk(rows, market)
	totals := Totals{
		Equity:           equity,
		PositionCount:    positionCount,
		CapStage:         stage.Name,
		EffectiveMaxRisk: effectiveMax,
		ExpansionActive:  effectiveMax > e.cfg.MaxOpenRiskBase,
		MaxPositions:     maxPositions,
	}
	if equity > 0 {
		totals.OpenRiskPctTotal = totalRisk / equity
		totals.OpenRiskPctExHedge = exHedgeRisk / equity
		totals.HedgeRiskPct = hedgeRisk / equity
	}
	e.log.Info().Int("positions", positionCount).Str("cap_stage", stage.Name).
		Float64("open_risk_pct", totals.OpenRiskPctExHedge).
		Bool("momentum_expansion", totals.ExpansionActive).
		Msg("portfolio risk aggregated")

	out := make(map[string]*Assessment, len(rows))
	for _, r := range rows {
		a := e.assess(r, stage, totals, clusterRisk, superRisk, sleeveValue, held)
		out[r.Instrument.Symbol] = a
	}
	return out, totals
}

type heldFacts struct {
	stopUsed, risk, value float64
}

func (e *Engine) assess(r Row, stage config.CapStage, totals Totals,
	clusterRisk, superRisk map[string]float64, sleeveValue map[domain.Sleeve]float64,
	held map[string]heldFacts) *Assessment {

	equity := totals.Equity
	a := &Assessment{
		Symbol:       r.Instrument.Symbol,
		RiskPerShare: domain.NaN(),
		HeldStopUsed: domain.NaN(),
		RiskReward:   domain.NaN(),
	}

	// Sizing risk per share from the planned entry, inflated by the gap
	// buffer: single names gap through stops, funds much less so.
	if rps := r.Breakout - r.StopLevel; domain.IsFinite(rps) && rps > 0 {
		a.RiskPerShare = rps * e.gapBuffer(r.Instrument.Sleeve)
	}

	if h, ok := held[r.Instrument.Symbol]; ok {
		a.HeldStopUsed = h.stopUsed
		a.HeldRisk = h.risk
		a.PositionValue = h.value
		if equity > 0 {
			a.PositionPct = h.value / equity
		}
	}
	if equity > 0 {
		a.ClusterRiskPct = clusterRisk[r.Instrument.Cluster] / equity
		a.SuperClusterRiskPct = superRisk[r.Instrument.SuperCluster] / equity
		a.SleeveValuePct = sleeveValue[r.Instrument.Sleeve] / equity
	}

	if !r.IsHeld {
		e.projectSize(r, equity, a)
		a.RiskReward = riskReward(r)
		if domain.IsFinite(a.RiskReward) && a.RiskReward > 0 {
			a.RRDisplay = fmt.Sprintf("1:%.2f", 1/a.RiskReward)
		}
	}

	a.BlockReason = e.blockReason(r, stage, a)
	a.WarningReason = e.warningReason(r, stage, totals, a)
	a.Eligible = r.Status == domain.StatusReady && a.BlockReason == ""
	return a
}

// projectSize computes the fractional-share position a new entry would open
// at the configured per-trade risk.
func (e *Engine) projectSize(r Row, equity float64, a *Assessment) {
	if equity <= 0 || !domain.IsFinite(a.RiskPerShare) || a.RiskPerShare <= 0 {
		return
	}
	shares := equity * e.cfg.RiskPerTradePct / a.RiskPerShare
	a.ProjectedShares = math.Floor(shares*1000) / 1000
	close := r.Snapshot.Close
	if domain.IsFinite(close) && close > 0 {
		a.ProjectedValue = a.ProjectedShares * close
		a.ProjectedPct = a.ProjectedValue / equity
	}
}

// blockReason returns the hard block preventing entry, or "". Position
// count and open-risk budget stay warnings so a discretionary account sees
// the constraint but keeps the override.
func (e *Engine) blockReason(r Row, stage config.CapStage, a *Assessment) string {
	if r.IsHeld {
		if r.AddEligible {
			return "" // pyramiding add is allowed through
		}
		return "ALREADY_HELD"
	}
	if r.Status != domain.StatusReady {
		return ""
	}

	rpt := e.cfg.RiskPerTradePct
	if a.ClusterRiskPct+rpt > e.cfg.MaxClusterPct {
		return "BLOCK_MAX_CLUSTER_" + orUnknown(r.Instrument.Cluster)
	}
	if a.SuperClusterRiskPct+rpt > e.cfg.MaxSuperClusterPct {
		return "BLOCK_MAX_SUPERCLUSTER_" + orUnknown(r.Instrument.SuperCluster)
	}
	if a.PositionPct > positionCap(stage, r.Instrument.Sleeve) {
		return fmt.Sprintf("BLOCK_MAX_POSITION_ACTUAL_%.1fpct", a.PositionPct*100)
	}
	return ""
}

// warningReason joins all advisory flags with pipes.
func (e *Engine) warningReason(r Row, stage config.CapStage, totals Totals, a *Assessment) string {
	if r.IsHeld || r.Status != domain.StatusReady {
		return ""
	}
	var warnings []string
	rpt := e.cfg.RiskPerTradePct

	if totals.PositionCount >= totals.MaxPositions {
		warnings = append(warnings, fmt.Sprintf("WARN_MAX_POSITIONS_%d_of_%d", totals.PositionCount, totals.MaxPositions))
	}
	if totals.OpenRiskPctExHedge+rpt > totals.EffectiveMaxRisk {
		warnings = append(warnings, fmt.Sprintf("WARN_OPEN_RISK_BUDGET_%.1fpct_vs_%.1fpct_cap",
			(totals.OpenRiskPctExHedge+rpt)*100, totals.EffectiveMaxRisk*100))
	}
	if a.SleeveValuePct+rpt > sleeveCap(stage, r.Instrument.Sleeve) {
		warnings = append(warnings, "WARN_SLEEVE_EXPOSURE_"+r.Instrument.Sleeve.String())
	}
	if cap := positionCap(stage, r.Instrument.Sleeve); a.ProjectedPct > cap {
		warnings = append(warnings, fmt.Sprintf("WARN_POSITION_CAPPED_%.0fpct_target_vs_%.0fpct_max",
			a.ProjectedPct*100, cap*100))
	}

	out := ""
	for i, w := range warnings {
		if i > 0 {
			out += "|"
		}
		out += w
	}
	return out
}

// effectiveMaxOpenRisk applies momentum expansion: a bullish market with a
// strongly trending universe and contained volatility earns a wider open
// risk budget.
func (e *Engine) effectiveMaxOpenRisk(rows []Row, market domain.MarketRegime) float64 {
	if !e.cfg.ExpansionEnabled || market != domain.MarketBullish {
		return e.cfg.MaxOpenRiskBase
	}

	var adx []float64
	spiking := 0
	for _, r := range rows {
		if domain.IsFinite(r.Snapshot.ADX) {
			adx = append(adx, r.Snapshot.ADX)
		}
		if r.Snapshot.ATRSpiking {
			spiking++
		}
	}
	if len(rows) == 0 || len(adx) == 0 {
		return e.cfg.MaxOpenRiskBase
	}
	spikePct := float64(spiking) / float64(len(rows))
	if median(adx) >= e.cfg.ADXExpansionThreshold && spikePct < e.cfg.ATRSpikeExpansionMax {
		return e.cfg.MaxOpenRiskExpansion
	}
	return e.cfg.MaxOpenRiskBase
}

func (e *Engine) gapBuffer(sleeve domain.Sleeve) float64 {
	if sleeve == domain.SleeveETFCore || sleeve == domain.SleeveHedge {
		return e.cfg.GapBufferETF
	}
	return e.cfg.GapBufferStock
}

// riskReward is the soft R:R quality gauge for candidates. The target
// scales from 2 ATR for sloppy trends to 4 ATR for clean ones. Lower is
// better; values above 0.67 mean less than 1:1.5.
func riskReward(r Row) float64 {
	entry := r.EntryTrigger
	if !domain.IsFinite(entry) {
		entry = r.Breakout
	}
	snap := r.Snapshot
	if !(domain.IsFinite(entry) && domain.IsFinite(r.StopLevel) && domain.IsFinite(snap.ATR) && domain.IsFinite(snap.Close)) {
		return domain.NaN()
	}
	if r.Status != domain.StatusReady && r.Status != domain.StatusWatch {
		return domain.NaN()
	}

	risk := entry - r.StopLevel
	eff := snap.TrendEfficiency
	if !domain.IsFinite(eff) {
		eff = 0.5
	}
	effPct := domain.Clamp(eff*100, 0, 100)
	targetMult := 2.0 + effPct/50.0
	reward := targetMult * snap.ATR
	if risk <= 0 || reward <= 0 {
		return domain.NaN()
	}
	return risk / reward
}

func positionCap(stage config.CapStage, sleeve domain.Sleeve) float64 {
	switch sleeve {
	case domain.SleeveETFCore:
		return stage.MaxPositionPctETF
	case domain.SleeveStockHighRisk:
		return stage.MaxPositionPctHigh
	default:
		return stage.MaxPositionPctCore
	}
}

func sleeveCap(stage config.CapStage, sleeve domain.Sleeve) float64 {
	switch sleeve {
	case domain.SleeveETFCore:
		return stage.MaxSleeveETF
	case domain.SleeveStockHighRisk:
		return stage.MaxSleeveHigh
	default:
		return stage.MaxSleeveCore
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
