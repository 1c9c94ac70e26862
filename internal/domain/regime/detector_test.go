package regime

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

func testDetector() *Detector {
	return NewDetector(config.Default().Regime, zerolog.Nop())
}

func benchBars(closes []float64, end time.Time) []domain.PriceBar {
	bars := make([]domain.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.PriceBar{
			Date:  end.AddDate(0, 0, i-len(closes)+1),
			Close: c,
		}
	}
	return bars
}

func flatThen(n int, base float64, tail ...float64) []float64 {
	closes := make([]float64, 0, n+len(tail))
	for i := 0; i < n; i++ {
		closes = append(closes, base)
	}
	return append(closes, tail...)
}

func TestEvaluateBullishAboveBand(t *testing.T) {
	now := time.Now()
	// 220 flat days at 100, then a close 5% above: MA200 near 100, close
	// clears the +2% band on day one.
	bars := benchBars(flatThen(220, 100, 105), now)
	r := testDetector().Evaluate("SPX", bars, now)

	assert.Equal(t, domain.MarketBullish, r.Regime)
	assert.True(t, r.Stable)
}

func TestEvaluateBearishBelowBand(t *testing.T) {
	now := time.Now()
	bars := benchBars(flatThen(220, 100, 95), now)
	r := testDetector().Evaluate("SPX", bars, now)

	assert.Equal(t, domain.MarketBearish, r.Regime)
}

func TestEvaluateSingleBandTouchHoldsDirection(t *testing.T) {
	now := time.Now()
	// A long run well above the average, then one close dipping into the
	// band. One day does not make a sideways market.
	closes := make([]float64, 0, 221)
	for i := 0; i < 220; i++ {
		closes = append(closes, 100+float64(i)*0.2)
	}
	last := closes[len(closes)-1]
	closes = append(closes, last*0.93) // into the band but above MA200
	bars := benchBars(closes, now)

	r := testDetector().Evaluate("SPX", bars, now)

	if r.Regime == domain.MarketSideways {
		t.Fatalf("single band touch flipped regime to SIDEWAYS (days_in_band=%d)", r.DaysInBand)
	}
	assert.False(t, r.Stable)
	assert.Less(t, r.DaysInBand, 3)
}

func TestEvaluateSidewaysAfterStabilityWindow(t *testing.T) {
	now := time.Now()
	// Everything flat: every trailing close is in its own band.
	bars := benchBars(flatThen(230, 100), now)
	r := testDetector().Evaluate("SPX", bars, now)

	assert.Equal(t, domain.MarketSideways, r.Regime)
	assert.True(t, r.Stable)
	assert.GreaterOrEqual(t, r.DaysInBand, 3)
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	now := time.Now()
	bars := benchBars(flatThen(100, 100), now)
	r := testDetector().Evaluate("SPX", bars, now)

	assert.Equal(t, domain.MarketUnknown, r.Regime)
}

func TestEvaluateStaleData(t *testing.T) {
	now := time.Now()
	bars := benchBars(flatThen(220, 100, 105), now.AddDate(0, 0, -20))
	r := testDetector().Evaluate("SPX", bars, now)

	assert.Equal(t, domain.MarketUnknown, r.Regime)
}

func TestCombine(t *testing.T) {
	mk := func(r domain.MarketRegime) BenchmarkReading { return BenchmarkReading{Regime: r} }

	cases := []struct {
		name string
		a, b domain.MarketRegime
		want domain.MarketRegime
	}{
		{"both bullish", domain.MarketBullish, domain.MarketBullish, domain.MarketBullish},
		{"one bearish wins", domain.MarketBullish, domain.MarketBearish, domain.MarketBearish},
		{"unknown beats bearish", domain.MarketUnknown, domain.MarketBearish, domain.MarketUnknown},
		{"bull plus sideways", domain.MarketBullish, domain.MarketSideways, domain.MarketSideways},
		{"both sideways", domain.MarketSideways, domain.MarketSideways, domain.MarketSideways},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Combine(mk(tc.a), mk(tc.b)))
			assert.Equal(t, tc.want, Combine(mk(tc.b), mk(tc.a)), "Combine must be symmetric")
		})
	}
}
