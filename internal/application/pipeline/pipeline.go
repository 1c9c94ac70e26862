// Package pipeline runs one full scan: fetch, indicators, market regime,
// classification, stop management, advisory checks, portfolio risk, ranking
// and the action card, finishing with an atomic state commit. One run is one
// pass; nothing here loops or schedules.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/datasource"
	"github.com/sawpanic/trendscan/internal/domain"
	"github.com/sawpanic/trendscan/internal/domain/advisory"
	"github.com/sawpanic/trendscan/internal/domain/classify"
	"github.com/sawpanic/trendscan/internal/domain/indicators"
	"github.com/sawpanic/trendscan/internal/domain/pyramid"
	"github.com/sawpanic/trendscan/internal/domain/rank"
	"github.com/sawpanic/trendscan/internal/domain/reentry"
	"github.com/sawpanic/trendscan/internal/domain/regime"
	"github.com/sawpanic/trendscan/internal/domain/risk"
	"github.com/sawpanic/trendscan/internal/domain/stops"
	"github.com/sawpanic/trendscan/internal/metrics"
	"github.com/sawpanic/trendscan/internal/report"
	"github.com/sawpanic/trendscan/internal/state"
	"github.com/sawpanic/trendscan/internal/universe"
)

// fetchLookbackDays covers the 200-day mean plus warmup with margin.
const fetchLookbackDays = 550

// Row is the full per-instrument output of a run.
type Row struct {
	Instrument domain.Instrument
	Snapshot   *domain.IndicatorSnapshot
	IsHeld     bool
	Position   domain.Position

	Decision classify.Decision
	Stops    stops.Result
	Guard    advisory.GuardResult
	Climax   advisory.ClimaxAdvice
	Laggard  advisory.LaggardCheck

	HeldAction       domain.HeldAction
	HeldActionReason string

	Pyramid      pyramid.Signal
	Whipsaw      reentry.WhipsawVerdict
	Reentry      reentry.ReentryVerdict
	FastFollower reentry.FastFollowerVerdict

	RSvsBenchmark float64
	ExtensionATR  float64

	Risk *risk.Assessment
	Rank rank.Score

	HeatBlocked bool
	HeatReason  string

	PriorityEntry  bool
	PriorityReason string

	SwapSuggested bool
	SwapFor       string
	SwapReason    string
}

// Skip records an instrument dropped from the run.
type Skip struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Result is the complete outcome of one run.
type Result struct {
	RunID   string
	AsOf    time.Time
	Market  domain.MarketRegime
	Primary regime.BenchmarkReading
	Second  regime.BenchmarkReading
	Breadth advisory.BreadthReading
	Totals  risk.Totals
	Params  config.Config
	Rows    []*Row
	Skips   []Skip
	Card    report.Card
}

// Snapshot flattens the run into its persistable form. NaN sentinels become
// zeros so the record survives JSON encoding.
func (r *Result) Snapshot() report.Snapshot {
	snap := report.Snapshot{
		RunID:         r.RunID,
		AsOf:          r.AsOf,
		Universe:      r.Card.Universe,
		Market:        r.Market.String(),
		BreadthPct:    finiteOrZero(r.Breadth.Pct),
		MaxPositions:  r.Breadth.EffectiveMaxPos,
		OpenRiskPct:   finiteOrZero(r.Totals.OpenRiskPctExHedge),
		CapStage:      r.Totals.CapStage,
		PositionCount: r.Totals.PositionCount,
		Params:        r.Params,
		Card:          r.Card.Render(),
	}
	for _, row := range r.Rows {
		sr := report.SnapshotRow{
			Symbol:           row.Instrument.Symbol,
			Sleeve:           row.Instrument.Sleeve.String(),
			Cluster:          row.Instrument.Cluster,
			Status:           row.Decision.Status.String(),
			Reason:           row.Decision.Reason,
			Close:            finiteOrZero(row.Snapshot.Close),
			EntryTrigger:     finiteOrZero(row.Decision.EntryTrigger),
			StopLevel:        finiteOrZero(row.Decision.StopLevel),
			ActiveStop:       finiteOrZero(row.Stops.ActiveStop),
			RankScore:        finiteOrZero(row.Rank.Value),
			RSvsBenchmark:    finiteOrZero(row.RSvsBenchmark),
			IsHeld:           row.IsHeld,
			HeldActionReason: row.HeldActionReason,
		}
		if row.IsHeld {
			sr.HeldAction = row.HeldAction.String()
		}
		if row.Risk != nil {
			sr.BlockReason = row.Risk.BlockReason
		}
		snap.Rows = append(snap.Rows, sr)
	}
	for _, s := range r.Skips {
		snap.Skips = append(snap.Skips, report.SnapshotSkip{Symbol: s.Symbol, Reason: s.Reason})
	}
	return snap
}

func finiteOrZero(v float64) float64 {
	if !domain.IsFinite(v) {
		return 0
	}
	return v
}

// Deps bundles the engine's collaborators. Metrics and Audit may be nil.
type Deps struct {
	Universe *universe.Universe
	Source   datasource.BarSource
	Repo     state.Repository
	Metrics  *metrics.Set
	Audit    *report.AuditLog
}

// Engine orchestrates a scan run.
type Engine struct {
	cfg  config.Config
	deps Deps

	indicators *indicators.Engine
	detector   *regime.Detector
	classifier *classify.Classifier
	stops      *stops.Engine
	pyramids   *pyramid.Engine
	governor   *reentry.Governor
	risk       *risk.Engine
	ranker     *rank.Ranker
	advisor    *advisory.Advisor

	log zerolog.Logger
	now func() time.Time
}

func New(cfg config.Config, deps Deps, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		deps:       deps,
		indicators: indicators.NewEngine(cfg),
		detector:   regime.NewDetector(cfg.Regime, log),
		classifier: classify.New(cfg.Classify),
		stops:      stops.NewEngine(cfg.Stops, log),
		pyramids:   pyramid.NewEngine(cfg.Pyramid),
		governor:   reentry.NewGovernor(cfg.Reentry),
		risk:       risk.NewEngine(cfg.Risk, log),
		ranker:     rank.New(cfg.Rank),
		advisor:    advisory.New(cfg, log),
		log:        log.With().Str("component", "pipeline").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one full scan against the given portfolio.
func (e *Engine) Run(ctx context.Context, portfolio domain.Portfolio) (*Result, error) {
	started := e.now()
	res := &Result{RunID: report.NewRunID(), AsOf: started, Params: e.cfg}
	log := e.log.With().Str("run_id", res.RunID).Logger()

	market, primary, second, benchReturn3M, err := e.marketRegime(ctx)
	if err != nil {
		e.countRun("error", started)
		return nil, err
	}
	res.Market, res.Primary, res.Second = market, primary, second
	log.Info().Str("market", market.String()).Str("benchmark", primary.Symbol).Msg("market regime resolved")

	// Per-instrument pass.
	for _, inst := range e.deps.Universe.Instruments {
		row, skip := e.scanInstrument(ctx, res.RunID, inst, portfolio, market, started)
		if skip != nil {
			res.Skips = append(res.Skips, *skip)
			continue
		}
		res.Rows = append(res.Rows, row)
		if e.deps.Metrics != nil {
			e.deps.Metrics.SymbolsScanned.Inc()
		}
	}
	for _, row := range res.Rows {
		if domain.IsFinite(row.Snapshot.Return3M) && domain.IsFinite(benchReturn3M) {
			row.RSvsBenchmark = row.Snapshot.Return3M - benchReturn3M
		}
	}

	// Breadth valve first: it decides the position budget the risk pass
	// warns against.
	res.Breadth = e.marketBreadth(res.Rows)

	assessments, totals := e.riskPass(res.Rows, portfolio, market, res.Breadth.EffectiveMaxPos)
	res.Totals = totals

	e.rankPass(res.Rows)
	e.heatPass(res.Rows)
	e.priorityPass(res.Rows, market)
	e.swapPass(res.Rows, assessments)

	if err := e.persistState(ctx, res); err != nil {
		e.countRun("error", started)
		return nil, err
	}

	res.Card = e.buildCard(res, portfolio)
	e.publish(res, started)
	log.Info().
		Int("rows", len(res.Rows)).
		Int("skips", len(res.Skips)).
		Str("cap_stage", totals.CapStage).
		Msg("run complete")
	return res, nil
}

// marketRegime evaluates the benchmark(s), combines them and extracts the
// primary benchmark's trailing return for relative-strength math. A missing
// second benchmark leaves the primary verdict untouched.
func (e *Engine) marketRegime(ctx context.Context) (domain.MarketRegime, regime.BenchmarkReading, regime.BenchmarkReading, float64, error) {
	uni := e.deps.Universe

	primaryBars, err := e.deps.Source.DailyBars(ctx, uni.Benchmark, fetchLookbackDays)
	if err != nil {
		return domain.MarketUnknown, regime.BenchmarkReading{}, regime.BenchmarkReading{}, domain.NaN(),
			fmt.Errorf("fetch benchmark %s: %w", uni.Benchmark, err)
	}
	primary := e.detector.Evaluate(uni.Benchmark, primaryBars, e.now())
	benchReturn := trailingReturn(primaryBars, e.cfg.Indicators.ReturnLookbackDays)

	if uni.Benchmark2 == "" {
		return regime.Combine(primary, primary), primary, regime.BenchmarkReading{}, benchReturn, nil
	}
	secondBars, err := e.deps.Source.DailyBars(ctx, uni.Benchmark2, fetchLookbackDays)
	if err != nil {
		// The second benchmark is confirmation only; degrade, don't abort.
		e.log.Warn().Str("symbol", uni.Benchmark2).Err(err).Msg("second benchmark unavailable")
		return regime.Combine(primary, primary), primary, regime.BenchmarkReading{}, benchReturn, nil
	}
	second := e.detector.Evaluate(uni.Benchmark2, secondBars, e.now())
	return regime.Combine(primary, second), primary, second, benchReturn, nil
}

func trailingReturn(bars []domain.PriceBar, lookback int) float64 {
	if len(bars) <= lookback {
		return domain.NaN()
	}
	past := bars[len(bars)-1-lookback].Close
	if past <= 0 {
		return domain.NaN()
	}
	return bars[len(bars)-1].Close/past - 1
}

// scanInstrument produces the fully decided row for one instrument.
func (e *Engine) scanInstrument(ctx context.Context, runID string, inst domain.Instrument, portfolio domain.Portfolio, market domain.MarketRegime, today time.Time) (*Row, *Skip) {
	bars, err := e.deps.Source.DailyBars(ctx, inst.Symbol, fetchLookbackDays)
	if err != nil {
		e.countSymbolError("fetch")
		return nil, &Skip{Symbol: inst.Symbol, Reason: fmt.Sprintf("fetch failed: %v", err)}
	}

	snap, err := e.indicators.Snapshot(inst, bars, today)
	if err != nil {
		kind := "history"
		if errors.Is(err, indicators.ErrStaleData) {
			kind = "stale"
		}
		e.countSymbolError(kind)
		return nil, &Skip{Symbol: inst.Symbol, Reason: err.Error()}
	}

	pos, held := portfolio.Get(inst.Symbol)
	st, hasState, err := e.deps.Repo.Get(ctx, inst.Symbol)
	if err != nil {
		return nil, &Skip{Symbol: inst.Symbol, Reason: fmt.Sprintf("state read failed: %v", err)}
	}

	row := &Row{
		Instrument:    inst,
		Snapshot:      snap,
		IsHeld:        held,
		Position:      pos,
		RSvsBenchmark: domain.NaN(),
		ExtensionATR:  domain.NaN(),
	}

	d := e.classifier.Classify(classify.Input{
		Instrument:   inst,
		Snapshot:     snap,
		MarketRegime: market,
		IsHeld:       held,
	})

	// Choppy price action cannot graduate to READY however clean the setup.
	if e.cfg.Classify.EfficiencyGateEnabled && d.Status == domain.StatusReady {
		if eff := snap.TrendEfficiency; domain.IsFinite(eff) && eff < e.cfg.Classify.EfficiencyMinForReady {
			d.Status = domain.StatusWatch
			d.Reason = fmt.Sprintf("Efficiency gate: %.0f%% < %.0f%% min (choppy price action)",
				eff*100, e.cfg.Classify.EfficiencyMinForReady*100)
		}
	}

	row.Whipsaw = e.governor.CheckWhipsaw(st, hasState, today)
	if row.Whipsaw.Blocked && d.Status == domain.StatusReady {
		d.Status = domain.StatusWatch
		d.Reason = row.Whipsaw.Reason
		if e.deps.Metrics != nil {
			e.deps.Metrics.WhipsawBlocks.Inc()
		}
	}
	row.Decision = d

	holdingDays := 0
	if st.EntryDate != nil {
		holdingDays = int(today.Sub(*st.EntryDate).Hours() / 24)
	}

	if held {
		row.Stops = e.stops.Compute(stops.Input{
			Symbol:       inst.Symbol,
			Sleeve:       inst.Sleeve,
			Snapshot:     snap,
			Regime:       d.Regime,
			StopLevel:    d.StopLevel,
			MarketRegime: market,
			State:        st,
			HasState:     hasState,
			AvgPrice:     pos.AvgPrice,
			HoldingDays:  holdingDays,
			Today:        today,
		})
		// Held positions trade off the stateful stop, not today's structural
		// candidate.
		if domain.IsFinite(row.Stops.ActiveStop) {
			row.Decision.StopLevel = row.Stops.ActiveStop
		}
		if e.deps.Audit != nil && hasState &&
			domain.IsFinite(st.ActiveStop) && domain.IsFinite(row.Stops.ActiveStop) &&
			row.Stops.ActiveStop != st.ActiveStop {
			e.deps.Audit.StopUpdate(runID, inst.Symbol, st.ActiveStop, row.Stops.ActiveStop, row.Stops.Reason)
		}
	} else {
		row.Stops.ActiveStop = domain.NaN()
		row.Stops.CandidateStop = domain.NaN()
		row.Stops.ProfitR = domain.NaN()
	}

	if ext, ok := extensionATR(snap, row.Decision.BreakoutLevel); ok {
		row.ExtensionATR = ext
	}

	row.Guard = e.advisor.ExecutionGuard(snap, row.Decision.EntryTrigger, row.Decision.Status, held)

	entryDate := st.EntryDate
	entryPrice := row.Stops.StateUpdate.EntryPrice
	if !held {
		entryPrice = 0
	}
	row.Laggard = e.advisor.Laggard(inst.Symbol, snap.Close, entryPrice, entryDate, st.ActiveStop, today)

	if held {
		action, reason := stops.ExitSignal(inst.Sleeve, snap, row.Stops.ActiveStop, row.Decision.StopLevel)
		row.Climax = e.advisor.ClimaxExit(snap, row.Stops.ActiveStop, held)
		if row.Climax.Flagged && action == domain.ActionHold {
			if row.Climax.Action == "SELL" {
				action = domain.ActionExitClimax
			}
			reason = row.Climax.Reason
		}
		if row.Laggard.IsLaggard && action == domain.ActionHold {
			action = domain.ActionTrimLaggard
			reason = row.Laggard.Reason
		}
		row.HeldAction, row.HeldActionReason = action, reason
		row.Pyramid = e.pyramids.Evaluate(snap, d.Regime, row.Stops.StateUpdate, true)
	}

	row.Reentry = e.governor.CheckReentry(st, hasState, today)
	row.FastFollower = e.governor.CheckFastFollower(snap, st, hasState, held, today)
	// A fast-follower promotion still respects the risk-off gate.
	if row.FastFollower.Eligible && !held && market == domain.MarketBullish {
		row.Decision.Status = domain.StatusReady
		row.Decision.Reason = row.FastFollower.Reason
	}
	return row, nil
}

func (e *Engine) marketBreadth(rows []*Row) advisory.BreadthReading {
	sample := make([]advisory.BreadthRow, 0, len(rows))
	for _, r := range rows {
		sample = append(sample, advisory.BreadthRow{
			Sleeve: r.Instrument.Sleeve,
			Close:  r.Snapshot.Close,
			MA50:   r.Snapshot.MA50,
		})
	}
	return e.advisor.MarketBreadth(sample, e.cfg.Risk.MaxPositions)
}

func (e *Engine) riskPass(rows []*Row, portfolio domain.Portfolio, market domain.MarketRegime, maxPositions int) (map[string]*risk.Assessment, risk.Totals) {
	riskRows := make([]risk.Row, 0, len(rows))
	for _, r := range rows {
		riskRows = append(riskRows, risk.Row{
			Instrument:   r.Instrument,
			Snapshot:     r.Snapshot,
			Status:       r.Decision.Status,
			Breakout:     r.Decision.BreakoutLevel,
			StopLevel:    r.Decision.StopLevel,
			EntryTrigger: r.Decision.EntryTrigger,
			ActiveStop:   r.Stops.ActiveStop,
			IsHeld:       r.IsHeld,
			Position:     r.Position,
			AddEligible:  r.Pyramid.Eligible,
		})
	}
	assessments, totals := e.risk.Evaluate(riskRows, portfolio, market, maxPositions)
	for _, r := range rows {
		r.Risk = assessments[r.Instrument.Symbol]
	}
	return assessments, totals
}

func (e *Engine) rankPass(rows []*Row) {
	for _, r := range rows {
		r.Rank = e.ranker.Score(rankCandidate(r))
	}
}

// heatPass downgrades READY entries into clusters that already hold enough
// positions unless the candidate clearly out-ranks the incumbents.
func (e *Engine) heatPass(rows []*Row) {
	clusterHoldings := map[string]int{}
	clusterRankSum := map[string]float64{}
	for _, r := range rows {
		if !r.IsHeld {
			continue
		}
		cl := r.Instrument.Cluster
		clusterHoldings[cl]++
		dist := r.Snapshot.DistTo20dHighPct
		if !domain.IsFinite(dist) {
			dist = 50
		}
		clusterRankSum[cl] += dist * 1000
	}
	clusterRankAvg := make(map[string]float64, len(clusterRankSum))
	for cl, sum := range clusterRankSum {
		clusterRankAvg[cl] = sum / float64(clusterHoldings[cl])
	}

	for _, r := range rows {
		if r.IsHeld || (r.Decision.Status != domain.StatusReady && r.Decision.Status != domain.StatusWatch) {
			continue
		}
		blocked, reason := e.advisor.HeatCheck(r.Instrument.Cluster, r.Rank.Value, r.IsHeld, clusterHoldings, clusterRankAvg)
		r.HeatBlocked, r.HeatReason = blocked, reason
		if blocked && r.Decision.Status == domain.StatusReady {
			r.Decision.Status = domain.StatusWatch
			r.Decision.Reason = reason
		}
	}
}

func (e *Engine) priorityPass(rows []*Row, market domain.MarketRegime) {
	cands := make([]rank.Candidate, 0, len(rows))
	bySymbol := map[string]*Row{}
	for _, r := range rows {
		if r.IsHeld || (r.Decision.Status != domain.StatusReady && r.Decision.Status != domain.StatusWatch) {
			continue
		}
		cands = append(cands, rankCandidate(r))
		bySymbol[r.Instrument.Symbol] = r
	}
	for _, sym := range e.ranker.PrioritySymbols(cands, market) {
		if r := bySymbol[sym]; r != nil {
			r.PriorityEntry = true
			r.PriorityReason = fmt.Sprintf("RS Leader: +%.1f%% vs benchmark", r.RSvsBenchmark*100)
		}
	}
}

// swapPass suggests replacing held positions: cluster-cap swaps first, then
// laggard swaps for whatever was not already flagged.
func (e *Engine) swapPass(rows []*Row, assessments map[string]*risk.Assessment) {
	if !e.cfg.Risk.SwapEnabled {
		return
	}

	clusterAtCap := map[string]bool{}
	var ready []advisory.SwapCandidate
	for _, r := range rows {
		if r.IsHeld {
			if a := assessments[r.Instrument.Symbol]; a != nil &&
				domain.IsFinite(a.ClusterRiskPct) &&
				a.ClusterRiskPct >= e.cfg.Risk.MaxClusterPct*e.cfg.Risk.SwapClusterCapUtil {
				clusterAtCap[r.Instrument.Cluster] = true
			}
			continue
		}
		if r.Decision.Status == domain.StatusReady && r.Risk != nil {
			ready = append(ready, advisory.SwapCandidate{
				Symbol:    r.Instrument.Symbol,
				Cluster:   r.Instrument.Cluster,
				RankScore: r.Rank.Value,
				Eligible:  r.Risk.Eligible,
			})
		}
	}
	if len(ready) == 0 {
		return
	}

	for _, r := range rows {
		if !r.IsHeld {
			continue
		}
		s := e.advisor.SwapForLeader(advisory.HeldSwapInput{
			Cluster:   r.Instrument.Cluster,
			RankScore: r.Rank.Value,
			Dist20Pct: r.Snapshot.DistTo20dHighPct,
			Status:    r.Decision.Status,
			ProfitR:   r.Stops.ProfitR,
		}, clusterAtCap, ready)
		if !s.Swap {
			continue
		}
		r.SwapSuggested = true
		r.SwapFor = s.ForSymbol
		r.SwapReason = s.Reason
		if r.HeldAction == domain.ActionHold {
			r.HeldAction = domain.ActionSwapForLeader
			r.HeldActionReason = s.Reason
		}
	}
}

// persistState stages this run's stop memory and exit history, then commits
// everything in one shot.
func (e *Engine) persistState(ctx context.Context, res *Result) error {
	for _, r := range res.Rows {
		sym := r.Instrument.Symbol
		if r.IsHeld {
			upd := r.Stops.StateUpdate
			if upd.Symbol == "" {
				continue
			}
			if err := e.deps.Repo.Put(ctx, upd); err != nil {
				return fmt.Errorf("stage state for %s: %w", sym, err)
			}
			if e.deps.Metrics != nil && r.Stops.Reason == "STATEFUL (kept higher prev stop)" {
				e.deps.Metrics.StopTightenings.Inc()
			}
			continue
		}

		// Tracked but no longer held: the position closed since the last
		// run. Record the exit so whipsaw and re-entry rules see it.
		st, hasState, err := e.deps.Repo.Get(ctx, sym)
		if err != nil {
			return fmt.Errorf("read state for %s: %w", sym, err)
		}
		if hasState && st.HasOpenState() {
			profitR := domain.NaN()
			if rUnit := st.InitialRisk(); rUnit > 0 {
				profitR = (r.Snapshot.Close - st.EntryPrice) / rUnit
			}
			e.governor.RecordStopExit(&st, profitR, res.AsOf)
			if err := e.deps.Repo.Put(ctx, st); err != nil {
				return fmt.Errorf("stage exit for %s: %w", sym, err)
			}
			e.log.Info().Str("symbol", sym).Float64("profit_r", profitR).Msg("recorded exit for untracked position")
		}
	}
	if err := e.deps.Repo.Commit(ctx); err != nil {
		return fmt.Errorf("commit position state: %w", err)
	}
	return nil
}

func (e *Engine) buildCard(res *Result, portfolio domain.Portfolio) report.Card {
	card := report.Card{
		RunID:         res.RunID,
		AsOf:          res.AsOf,
		Universe:      e.deps.Universe.Name,
		Market:        res.Market.String(),
		BreadthPct:    res.Breadth.Pct,
		MaxPos:        res.Breadth.EffectiveMaxPos,
		OpenRiskPct:   res.Totals.OpenRiskPctExHedge,
		HedgeRiskPct:  res.Totals.HedgeRiskPct,
		CapStage:      res.Totals.CapStage,
		PositionCount: res.Totals.PositionCount,
		Equity:        portfolio.Equity,
	}
	if !res.Breadth.Healthy && res.Breadth.SampleSize > 0 {
		card.Warnings = append(card.Warnings,
			fmt.Sprintf("Thin breadth: %.0f%% of universe above MA50, position budget cut to %d",
				res.Breadth.Pct*100, res.Breadth.EffectiveMaxPos))
	}

	type scored struct {
		line  report.Line
		value float64
	}
	var buys []scored

	for _, r := range res.Rows {
		sym := r.Instrument.Symbol
		if r.Instrument.Sleeve == domain.SleeveHedge {
			if r.IsHeld {
				card.Hedge = append(card.Hedge, report.Line{Symbol: sym, Detail: r.HeldAction.String() + ": " + r.HeldActionReason})
			} else if r.Decision.Status == domain.StatusReady {
				card.Hedge = append(card.Hedge, report.Line{Symbol: sym, Detail: "READY: " + r.Decision.Reason})
			}
			continue
		}

		if r.IsHeld {
			switch r.HeldAction {
			case domain.ActionSell, domain.ActionExitClimax:
				card.Sells = append(card.Sells, report.Line{Symbol: sym, Detail: r.HeldActionReason})
			case domain.ActionTrimLaggard:
				card.Laggards = append(card.Laggards, report.Line{Symbol: sym, Detail: r.HeldActionReason})
			default:
				card.Holds = append(card.Holds, report.Line{Symbol: sym, Detail: r.HeldActionReason})
			}
			if e.deps.Audit != nil && r.HeldAction != domain.ActionHold && r.HeldAction != domain.ActionNone {
				e.deps.Audit.ExitSignal(res.RunID, sym, r.HeldAction.String(), r.HeldActionReason)
			}
			if r.Climax.Flagged {
				card.Climax = append(card.Climax, report.Line{Symbol: sym, Detail: r.Climax.Reason})
			}
			if r.SwapSuggested {
				card.Swaps = append(card.Swaps, report.Line{Symbol: sym, Detail: r.SwapReason})
			}
			if r.Pyramid.Action == pyramid.ActionAdd {
				card.Adds = append(card.Adds, report.Line{Symbol: sym,
					Detail: fmt.Sprintf("%s (levels %.2f / %.2f)", r.Pyramid.Reason, r.Pyramid.Level1, r.Pyramid.Level2)})
			}
			continue
		}

		if r.Decision.Status != domain.StatusReady {
			continue
		}
		if r.Risk != nil && !r.Risk.Eligible {
			card.Blocked = append(card.Blocked, report.Line{Symbol: sym, Detail: r.Risk.BlockReason})
			if e.deps.Audit != nil {
				e.deps.Audit.BlockedEntry(res.RunID, sym, r.Risk.BlockReason)
			}
			if e.deps.Metrics != nil {
				e.deps.Metrics.BlockedEntries.WithLabelValues(r.Risk.BlockReason).Inc()
			}
			continue
		}
		if !r.Guard.Pass {
			card.Blocked = append(card.Blocked, report.Line{Symbol: sym, Detail: r.Guard.Reason})
			continue
		}
		detail := fmt.Sprintf("trigger %.2f, stop %.2f", r.Decision.EntryTrigger, r.Decision.StopLevel)
		if r.Risk != nil && domain.IsFinite(r.Risk.ProjectedShares) {
			detail += fmt.Sprintf(", ~%.0f sh, R:R %s", r.Risk.ProjectedShares, r.Risk.RRDisplay)
		}
		buys = append(buys, scored{line: report.Line{Symbol: sym, Detail: detail}, value: r.Rank.Value})
		if r.PriorityEntry {
			card.Priority = append(card.Priority, sym)
		}
	}

	sort.Slice(buys, func(i, j int) bool {
		if buys[i].value != buys[j].value {
			return buys[i].value < buys[j].value
		}
		return buys[i].line.Symbol < buys[j].line.Symbol
	})
	for _, b := range buys {
		card.Buys = append(card.Buys, b.line)
	}
	report.SortLines(card.Sells)
	report.SortLines(card.Holds)
	report.SortLines(card.Blocked)
	report.SortLines(card.Laggards)
	sort.Strings(card.Priority)
	return card
}

func (e *Engine) publish(res *Result, started time.Time) {
	ready, blocked := 0, 0
	statusCount := map[string]int{}
	for _, r := range res.Rows {
		statusCount[r.Decision.Status.String()]++
		if r.IsHeld {
			continue
		}
		if r.Decision.Status == domain.StatusReady {
			ready++
			if r.Risk != nil && !r.Risk.Eligible {
				blocked++
			}
		}
	}

	if e.deps.Audit != nil {
		e.deps.Audit.RunSummary(res.RunID, res.AsOf, res.Market.String(), len(res.Rows), ready, blocked)
	}
	if e.deps.Metrics == nil {
		e.countRun("ok", started)
		return
	}
	m := e.deps.Metrics
	m.SetMarketRegime(res.Market.String())
	m.OpenRiskPct.Set(res.Totals.OpenRiskPctExHedge)
	m.PositionsHeld.Set(float64(res.Totals.PositionCount))
	if domain.IsFinite(res.Breadth.Pct) {
		m.BreadthPct.Set(res.Breadth.Pct)
	}
	for _, s := range []string{"READY", "WATCH", "IGNORE", "AVOID"} {
		m.StatusCounts.WithLabelValues(s).Set(float64(statusCount[s]))
	}
	e.countRun("ok", started)
}

func (e *Engine) countRun(outcome string, started time.Time) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.RunsTotal.WithLabelValues(outcome).Inc()
	e.deps.Metrics.RunDuration.Observe(e.now().Sub(started).Seconds())
}

func (e *Engine) countSymbolError(kind string) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.SymbolErrors.WithLabelValues(kind).Inc()
	}
}

func rankCandidate(r *Row) rank.Candidate {
	return rank.Candidate{
		Instrument:    r.Instrument,
		Snapshot:      r.Snapshot,
		Regime:        r.Decision.Regime,
		Status:        r.Decision.Status,
		IsHeld:        r.IsHeld,
		ExtensionATR:  r.ExtensionATR,
		RSvsBenchmark: r.RSvsBenchmark,
	}
}

func extensionATR(snap *domain.IndicatorSnapshot, breakout float64) (float64, bool) {
	if !domain.IsFinite(breakout) || !domain.IsFinite(snap.ATR) || snap.ATR <= 0 {
		return 0, false
	}
	return (snap.Close - breakout) / snap.ATR, true
}
