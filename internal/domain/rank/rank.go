// Package rank produces the deterministic candidate ordering: a bucketed
// score where the sleeve/regime category always dominates, distance to the
// breakout decides within a bucket, and small nudges break ties.
package rank

import (
	"sort"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

// Bucket is the sleeve/regime category. Stock-first ordering: core stocks
// lead, funds follow, high-risk names last.
type Bucket int

const (
	BucketCoreTrend Bucket = iota
	BucketCoreRange
	BucketETF
	BucketHighTrend
	BucketHighRange
	bucketInvalid Bucket = -1
)

func (b Bucket) String() string {
	switch b {
	case BucketCoreTrend:
		return "CORE_TREND"
	case BucketCoreRange:
		return "CORE_RANGE"
	case BucketETF:
		return "ETF"
	case BucketHighTrend:
		return "HI_TREND"
	case BucketHighRange:
		return "HI_RANGE"
	default:
		return "NONE"
	}
}

// Candidate is one instrument entering the ranking pass.
type Candidate struct {
	Instrument    domain.Instrument
	Snapshot      *domain.IndicatorSnapshot
	Regime        domain.Regime
	Status        domain.Status
	IsHeld        bool
	ExtensionATR  float64 // (close - breakout) / ATR
	RSvsBenchmark float64
}

// Score is the ranking output for one candidate.
type Score struct {
	Symbol      string  `json:"symbol"`
	Value       float64 `json:"rank_score"` // lower is better
	Bucket      Bucket  `json:"rank_bucket"`
	Rankable    bool    `json:"rankable"`
	BlockReason string  `json:"rank_block_reason"`
}

// Ranker scores and orders prospective entries.
type Ranker struct {
	cfg config.RankConfig
}

func New(cfg config.RankConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

// Score ranks one candidate. Held positions and names outside READY/WATCH
// are not rankable and carry an explaining reason instead of a score.
func (r *Ranker) Score(c Candidate) Score {
	s := Score{Symbol: c.Instrument.Symbol, Value: domain.NaN(), Bucket: bucketInvalid}

	if c.IsHeld {
		s.BlockReason = "held_position"
		return s
	}
	if c.Status != domain.StatusReady && c.Status != domain.StatusWatch {
		s.BlockReason = "status_not_ready_or_watch"
		return s
	}

	bucket := bucketFor(c.Instrument.Sleeve, c.Regime)
	if bucket == bucketInvalid {
		s.BlockReason = "missing_base_metric"
		return s
	}
	primary := primaryMetric(bucket, c.Snapshot)
	if !domain.IsFinite(primary) {
		s.Bucket = bucket
		s.BlockReason = "missing_primary_metric"
		return s
	}

	s.Bucket = bucket
	s.Value = float64(bucket)*1_000_000 + primary*1_000 + r.tieBreak(c)
	s.Rankable = true
	return s
}

// Order sorts rankable candidates ascending by score. Non-rankable entries
// are dropped.
func (r *Ranker) Order(cands []Candidate) []Score {
	scores := make([]Score, 0, len(cands))
	for _, c := range cands {
		if s := r.Score(c); s.Rankable {
			scores = append(scores, s)
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Value != scores[j].Value {
			return scores[i].Value < scores[j].Value
		}
		return scores[i].Symbol < scores[j].Symbol
	})
	return scores
}

// PrioritySymbols returns the top relative-strength outperformers, the names
// to favor when slots are scarce in a bullish market.
func (r *Ranker) PrioritySymbols(cands []Candidate, market domain.MarketRegime) []string {
	if !r.cfg.RSEnabled || market != domain.MarketBullish {
		return nil
	}
	type rsEntry struct {
		symbol string
		rs     float64
	}
	var entries []rsEntry
	for _, c := range cands {
		if !c.IsHeld && domain.IsFinite(c.RSvsBenchmark) && c.RSvsBenchmark > 0 {
			entries = append(entries, rsEntry{c.Instrument.Symbol, c.RSvsBenchmark})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rs != entries[j].rs {
			return entries[i].rs > entries[j].rs
		}
		return entries[i].symbol < entries[j].symbol
	})
	if len(entries) > r.cfg.RSPriorityCount {
		entries = entries[:r.cfg.RSPriorityCount]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.symbol
	}
	return out
}

// tieBreak adds the small nudges: ADX strength, volume conviction, distance
// from overextension, trend smoothness and relative strength. All weights
// stay far below one primary-metric unit so they never reorder buckets.
func (r *Ranker) tieBreak(c Candidate) float64 {
	snap := c.Snapshot
	tie := 0.0
	if domain.IsFinite(snap.ADX) {
		tie -= snap.ADX / 100
	}
	if domain.IsFinite(snap.VolRatio) {
		tie -= domain.Clamp(snap.VolRatio, 0, 5) / 100
	}
	if domain.IsFinite(c.ExtensionATR) {
		tie += domain.Clamp(c.ExtensionATR, -5, 5) / 1000
	}
	if eff := snap.TrendEfficiency; domain.IsFinite(eff) {
		if eff >= r.cfg.EfficiencyBoostThreshold {
			tie -= 0.5
		} else if eff < r.cfg.EfficiencyPenaltyThreshold {
			tie += 0.3
		}
	}
	if r.cfg.RSEnabled && domain.IsFinite(c.RSvsBenchmark) {
		if c.RSvsBenchmark > 0 {
			tie -= domain.Clamp(c.RSvsBenchmark*200, 0, 50)
		} else if c.RSvsBenchmark < 0 {
			tie -= c.RSvsBenchmark * 50
		}
	}
	return tie
}

func bucketFor(sleeve domain.Sleeve, regime domain.Regime) Bucket {
	switch sleeve {
	case domain.SleeveETFCore:
		return BucketETF
	case domain.SleeveStockCore:
		switch regime {
		case domain.RegimeTrend:
			return BucketCoreTrend
		case domain.RegimeRange:
			return BucketCoreRange
		}
	case domain.SleeveStockHighRisk:
		switch regime {
		case domain.RegimeTrend:
			return BucketHighTrend
		case domain.RegimeRange:
			return BucketHighRange
		}
	}
	return bucketInvalid
}

// primaryMetric is the within-bucket ordering: distance to the relevant
// high for trend entries, scaled range position for range entries.
func primaryMetric(bucket Bucket, snap *domain.IndicatorSnapshot) float64 {
	switch bucket {
	case BucketETF:
		return snap.DistTo55dHighPct
	case BucketCoreTrend, BucketHighTrend:
		return snap.DistTo20dHighPct
	case BucketCoreRange, BucketHighRange:
		return snap.RangePosition20 * 100
	default:
		return domain.NaN()
	}
}
