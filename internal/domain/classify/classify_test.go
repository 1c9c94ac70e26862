package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

func testClassifier() *Classifier {
	return New(config.Default().Classify)
}

// trendSnap is a liquid stock in a clean uptrend sitting right at its 20-day
// high with confirming volume.
func trendSnap() *domain.IndicatorSnapshot {
	return &domain.IndicatorSnapshot{
		Symbol:      "ACME",
		LastBarDate: time.Now(),
		Close:       100,
		High20:      100.5,
		High55:      101,
		Low20:       92,
		MA20:        97,
		MA50:        95,
		MA200:       88,
		ADX:         28,
		PlusDI:      30,
		MinusDI:     12,
		ATR:         2.0,
		ATRPct:      0.02,
		ATRRef:      2.0,
		VolRatio:    1.4,
		DollarVol20: 150_000_000,
		LiquidityOK: true,
		DistTo20dHighPct: (100.5 - 100) / 100.5 * 100,
		DistTo55dHighPct: (101 - 100) / 101 * 100,
		RangePosition20:  0.94,
		RangePosition55:  0.89,
		TrendEfficiency:  0.6,
		Return3M:         0.15,
		Quality:          domain.DataQuality{Flag: "OK"},
	}
}

func stockInput(snap *domain.IndicatorSnapshot, market domain.MarketRegime) Input {
	return Input{
		Instrument:   domain.Instrument{Symbol: snap.Symbol, Sleeve: domain.SleeveStockCore},
		Snapshot:     snap,
		MarketRegime: market,
	}
}

func TestClassifyTrendReady(t *testing.T) {
	d := testClassifier().Classify(stockInput(trendSnap(), domain.MarketBullish))

	assert.Equal(t, domain.RegimeTrend, d.Regime)
	assert.Equal(t, domain.StatusReady, d.Status)
	assert.InDelta(t, 100.5, d.BreakoutLevel, 1e-9)
	// Stop is the tighter of high_20 - 2*ATR and low_20.
	assert.InDelta(t, 96.5, d.StopLevel, 1e-9)
	assert.Greater(t, d.EntryTrigger, d.BreakoutLevel)
}

func TestClassifyBelowMA200IsAvoid(t *testing.T) {
	snap := trendSnap()
	snap.MA200 = 110
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))

	assert.Equal(t, domain.RegimeAvoid, d.Regime)
	assert.Equal(t, domain.StatusIgnore, d.Status)
	assert.Contains(t, d.Reason, "200dma")
}

func TestClassifyBearishDINoBypass(t *testing.T) {
	// Strong ADX but sellers in control and no early-bird qualification:
	// the direction filter must hold.
	snap := trendSnap()
	snap.PlusDI = 12
	snap.MinusDI = 30
	snap.RangePosition55 = 0.50 // not in the top decile
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))

	assert.Equal(t, domain.StatusIgnore, d.Status)
	assert.Contains(t, d.Reason, "bearish")
	assert.False(t, d.EarlyBird)
}

func TestClassifyEarlyBirdBypassesDirectionFilter(t *testing.T) {
	snap := trendSnap()
	snap.PlusDI = 12
	snap.MinusDI = 14 // mildly bearish DI
	snap.RangePosition55 = 0.95
	snap.VolRatio = 1.8
	snap.ADX = 16
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))

	assert.True(t, d.EarlyBird)
	assert.NotContains(t, d.Reason, "bearish")
}

func TestClassifyEarlyBirdNeedsBullishMarket(t *testing.T) {
	snap := trendSnap()
	snap.RangePosition55 = 0.95
	snap.VolRatio = 1.8
	c := testClassifier()

	assert.False(t, c.earlyBirdEligible(stockInput(snap, domain.MarketSideways)))
	assert.True(t, c.earlyBirdEligible(stockInput(snap, domain.MarketBullish)))
}

func TestClassifyATRPctCap(t *testing.T) {
	snap := trendSnap()
	snap.ATRPct = 0.09
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))
	assert.Equal(t, domain.StatusIgnore, d.Status)
	assert.Contains(t, d.Reason, "volatile")

	// High-risk sleeve uses the tighter cap.
	snap = trendSnap()
	snap.ATRPct = 0.075
	in := stockInput(snap, domain.MarketBullish)
	in.Instrument.Sleeve = domain.SleeveStockHighRisk
	d = testClassifier().Classify(in)
	assert.Equal(t, domain.StatusIgnore, d.Status)
}

func TestClassifyRiskOffBlocksNewEntries(t *testing.T) {
	for _, market := range []domain.MarketRegime{domain.MarketBearish, domain.MarketSideways, domain.MarketUnknown} {
		d := testClassifier().Classify(stockInput(trendSnap(), market))
		assert.Equal(t, domain.StatusIgnore, d.Status, market.String())
		// Levels still computed for stop management.
		assert.True(t, domain.IsFinite(d.StopLevel))
	}
}

func TestClassifyHeldPositionSkipsSafetyGates(t *testing.T) {
	snap := trendSnap()
	snap.Quality.Block = true
	in := stockInput(snap, domain.MarketBearish)
	in.IsHeld = true
	d := testClassifier().Classify(in)

	// Held names are classified normally so stops keep updating.
	assert.NotEqual(t, "data anomaly flagged (spike/gap), skip new entries", d.Reason)
	assert.True(t, domain.IsFinite(d.StopLevel))
}

func TestClassifyATRSpikeSoftCap(t *testing.T) {
	snap := trendSnap()
	snap.ATRSpiking = true // +DI > -DI: strong but volatile
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))

	assert.Equal(t, domain.StatusWatch, d.Status)
	assert.Contains(t, d.Reason, "soft cap")
}

func TestClassifyATRSpikeBearishHardBlock(t *testing.T) {
	snap := trendSnap()
	snap.ATRSpiking = true
	snap.PlusDI = 10
	snap.MinusDI = 25
	snap.RangePosition55 = 0.95 // early bird gets past the direction filter
	snap.VolRatio = 1.8
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))

	assert.Equal(t, domain.RegimeAvoid, d.Regime)
	assert.Equal(t, domain.StatusIgnore, d.Status)
}

func TestClassifyTooExtended(t *testing.T) {
	snap := trendSnap()
	snap.Close = 102
	snap.High20 = 100 // 1 ATR above breakout
	snap.DistTo20dHighPct = (100.0 - 102.0) / 100.0 * 100
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))

	assert.Equal(t, domain.StatusIgnore, d.Status)
	assert.Contains(t, d.Reason, "extended")
}

func TestClassifyVolumeTiers(t *testing.T) {
	c := testClassifier()
	snap := trendSnap()

	snap.DollarVol20 = 2_000_000_000
	thr, tier := c.volumeThreshold(snap, domain.MarketSideways, 0.5)
	assert.Equal(t, "mega", tier)
	assert.InDelta(t, 0.8, thr, 1e-9)

	snap.DollarVol20 = 500_000_000
	thr, tier = c.volumeThreshold(snap, domain.MarketSideways, 0.5)
	assert.Equal(t, "large", tier)
	assert.InDelta(t, 1.0, thr, 1e-9)

	snap.DollarVol20 = 50_000_000
	thr, tier = c.volumeThreshold(snap, domain.MarketSideways, 0.5)
	assert.Equal(t, "mid", tier)
	assert.InDelta(t, 1.2, thr, 1e-9)

	// Bullish bonus eases, chasing penalty tightens.
	thr, _ = c.volumeThreshold(snap, domain.MarketBullish, 0.5)
	assert.InDelta(t, 1.0, thr, 1e-9)
	thr, _ = c.volumeThreshold(snap, domain.MarketBullish, 1.5)
	assert.InDelta(t, 1.3, thr, 1e-9)

	// Floor at 0.5x.
	snap.DollarVol20 = 2_000_000_000
	thr, _ = c.volumeThreshold(snap, domain.MarketBullish, 0.5)
	assert.InDelta(t, 0.6, thr, 1e-9)
}

func TestClassify55dContinuationBreakout(t *testing.T) {
	snap := trendSnap()
	// Far from the 20d high window top but pressing the 55d high.
	snap.Close = 100
	snap.High20 = 105
	snap.High55 = 100.5
	snap.DistTo20dHighPct = (105.0 - 100.0) / 105.0 * 100 // ~4.8%, past WATCH
	snap.DistTo55dHighPct = (100.5 - 100.0) / 100.5 * 100
	snap.VolRatio = 1.5
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))

	assert.Equal(t, domain.StatusReady, d.Status)
	assert.Contains(t, d.Reason, "continuation")
	assert.InDelta(t, 100.5, d.BreakoutLevel, 1e-9)
	assert.InDelta(t, snap.Low20, d.StopLevel, 1e-9)
}

func TestClassifyRangeBreakoutNeedsVolume(t *testing.T) {
	snap := trendSnap()
	snap.ADX = 15 // weak trend -> RANGE
	snap.Close = 101
	snap.High20 = 100.5
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))
	assert.Equal(t, domain.RegimeRange, d.Regime)
	assert.Equal(t, domain.StatusReady, d.Status)

	snap.VolRatio = 0.5
	d = testClassifier().Classify(stockInput(snap, domain.MarketBullish))
	assert.Equal(t, domain.StatusWatch, d.Status)
}

func TestClassifyRangeInsideIsWatchOnly(t *testing.T) {
	snap := trendSnap()
	snap.ADX = 15
	snap.Close = 93
	snap.RangePosition20 = 0.10
	snap.DistTo20dHighPct = 7.5
	d := testClassifier().Classify(stockInput(snap, domain.MarketBullish))

	// Breakout-only policy: range bottom never produces READY.
	assert.Equal(t, domain.StatusWatch, d.Status)
	assert.Contains(t, d.Reason, "range bottom")
}

func TestClassifyETFReadyAndGates(t *testing.T) {
	snap := trendSnap()
	snap.ADX = 19 // above the 18 strong-trend bar for funds
	in := Input{
		Instrument:   domain.Instrument{Symbol: "WRLD", Sleeve: domain.SleeveETFCore},
		Snapshot:     snap,
		MarketRegime: domain.MarketBullish,
	}
	d := testClassifier().Classify(in)
	assert.Equal(t, domain.RegimeTrend, d.Regime)
	assert.Equal(t, domain.StatusReady, d.Status)
	assert.InDelta(t, snap.High55, d.BreakoutLevel, 1e-9)
	assert.InDelta(t, snap.Low20, d.StopLevel, 1e-9)

	// Spiking ATR is a hard veto for funds.
	snap2 := trendSnap()
	snap2.ATRSpiking = true
	in.Snapshot = snap2
	d = testClassifier().Classify(in)
	assert.Equal(t, domain.StatusIgnore, d.Status)
	assert.Contains(t, d.Reason, "spiking")
}

func TestBufferMult(t *testing.T) {
	c := testClassifier()

	// Calm name: 1% ATR -> 0.18 - 0.6*0.01 = 0.174
	assert.InDelta(t, 0.174, c.bufferMult(0.01), 1e-9)
	// Volatile name clamps to the floor.
	assert.InDelta(t, 0.05, c.bufferMult(0.30), 1e-9)
	// Invalid ATR% falls back.
	assert.InDelta(t, 0.08, c.bufferMult(domain.NaN()), 1e-9)

	fixed := New(func() config.ClassifyConfig {
		cc := config.Default().Classify
		cc.Buffer.Mode = "fixed"
		return cc
	}())
	assert.InDelta(t, 0.10, fixed.bufferMult(0.01), 1e-9)
}
