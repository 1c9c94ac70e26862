package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

func testRanker() *Ranker {
	return New(config.Default().Rank)
}

func candidate(symbol string, sleeve domain.Sleeve, regime domain.Regime, dist20 float64) Candidate {
	return Candidate{
		Instrument: domain.Instrument{Symbol: symbol, Sleeve: sleeve},
		Snapshot: &domain.IndicatorSnapshot{
			Symbol:           symbol,
			DistTo20dHighPct: dist20,
			DistTo55dHighPct: dist20,
			RangePosition20:  0.5,
			ADX:              25,
			VolRatio:         1.0,
			TrendEfficiency:  0.4,
		},
		Regime:        regime,
		Status:        domain.StatusReady,
		RSvsBenchmark: domain.NaN(),
		ExtensionATR:  domain.NaN(),
	}
}

func TestBucketDominatesEverything(t *testing.T) {
	// A far-from-high core trend stock still outranks a perfectly placed
	// high-risk name: the category gap is a million points.
	coreFar := candidate("CORE", domain.SleeveStockCore, domain.RegimeTrend, 2.9)
	hiPerfect := candidate("HI", domain.SleeveStockHighRisk, domain.RegimeTrend, 0.0)
	hiPerfect.Snapshot.ADX = 60
	hiPerfect.Snapshot.VolRatio = 5
	hiPerfect.Snapshot.TrendEfficiency = 0.9

	r := testRanker()
	scoreCore := r.Score(coreFar)
	scoreHi := r.Score(hiPerfect)
	require.True(t, scoreCore.Rankable)
	require.True(t, scoreHi.Rankable)

	assert.Less(t, scoreCore.Value, scoreHi.Value)
	assert.Equal(t, BucketCoreTrend, scoreCore.Bucket)
	assert.Equal(t, BucketHighTrend, scoreHi.Bucket)
}

func TestOrderStockFirstHierarchy(t *testing.T) {
	cands := []Candidate{
		candidate("HI_RG", domain.SleeveStockHighRisk, domain.RegimeRange, 1.0),
		candidate("ETF", domain.SleeveETFCore, domain.RegimeTrend, 1.0),
		candidate("CORE_TR", domain.SleeveStockCore, domain.RegimeTrend, 1.0),
		candidate("HI_TR", domain.SleeveStockHighRisk, domain.RegimeTrend, 1.0),
		candidate("CORE_RG", domain.SleeveStockCore, domain.RegimeRange, 1.0),
	}
	scores := testRanker().Order(cands)
	require.Len(t, scores, 5)

	got := make([]string, len(scores))
	for i, s := range scores {
		got[i] = s.Symbol
	}
	assert.Equal(t, []string{"CORE_TR", "CORE_RG", "ETF", "HI_TR", "HI_RG"}, got)
}

func TestCloserToHighRanksBetter(t *testing.T) {
	near := candidate("NEAR", domain.SleeveStockCore, domain.RegimeTrend, 0.5)
	far := candidate("FAR", domain.SleeveStockCore, domain.RegimeTrend, 2.5)

	r := testRanker()
	assert.Less(t, r.Score(near).Value, r.Score(far).Value)
}

func TestTieBreaksNudgeWithinBucket(t *testing.T) {
	strong := candidate("STRONG", domain.SleeveStockCore, domain.RegimeTrend, 1.0)
	strong.Snapshot.ADX = 40
	strong.Snapshot.VolRatio = 2.5
	strong.Snapshot.TrendEfficiency = 0.6 // boost tier

	weak := candidate("WEAK", domain.SleeveStockCore, domain.RegimeTrend, 1.0)
	weak.Snapshot.ADX = 20
	weak.Snapshot.VolRatio = 0.8
	weak.Snapshot.TrendEfficiency = 0.2 // penalty tier

	r := testRanker()
	assert.Less(t, r.Score(strong).Value, r.Score(weak).Value)
}

func TestRelativeStrengthTieBreak(t *testing.T) {
	out := candidate("OUT", domain.SleeveStockCore, domain.RegimeTrend, 1.0)
	out.RSvsBenchmark = 0.20
	under := candidate("UNDER", domain.SleeveStockCore, domain.RegimeTrend, 1.0)
	under.RSvsBenchmark = -0.10

	r := testRanker()
	assert.Less(t, r.Score(out).Value, r.Score(under).Value)
}

func TestRankBlockReasons(t *testing.T) {
	r := testRanker()

	heldC := candidate("HELD", domain.SleeveStockCore, domain.RegimeTrend, 1.0)
	heldC.IsHeld = true
	s := r.Score(heldC)
	assert.False(t, s.Rankable)
	assert.Equal(t, "held_position", s.BlockReason)

	ignored := candidate("IGN", domain.SleeveStockCore, domain.RegimeTrend, 1.0)
	ignored.Status = domain.StatusIgnore
	s = r.Score(ignored)
	assert.Equal(t, "status_not_ready_or_watch", s.BlockReason)

	avoid := candidate("AVD", domain.SleeveStockCore, domain.RegimeAvoid, 1.0)
	s = r.Score(avoid)
	assert.Equal(t, "missing_base_metric", s.BlockReason)

	noData := candidate("NOD", domain.SleeveStockCore, domain.RegimeTrend, 1.0)
	noData.Snapshot.DistTo20dHighPct = domain.NaN()
	s = r.Score(noData)
	assert.Equal(t, "missing_primary_metric", s.BlockReason)
}

func TestPrioritySymbols(t *testing.T) {
	r := testRanker()
	cands := make([]Candidate, 0, 8)
	rs := []float64{0.30, 0.25, 0.20, 0.15, 0.10, 0.05, -0.05}
	syms := []string{"A", "B", "C", "D", "E", "F", "G"}
	for i, s := range syms {
		c := candidate(s, domain.SleeveStockCore, domain.RegimeTrend, 1.0)
		c.RSvsBenchmark = rs[i]
		cands = append(cands, c)
	}

	top := r.PrioritySymbols(cands, domain.MarketBullish)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, top)

	// Never outside bullish markets.
	assert.Nil(t, r.PrioritySymbols(cands, domain.MarketSideways))
}
