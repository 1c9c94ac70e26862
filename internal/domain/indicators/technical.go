package indicators

import (
	"math"
	"sort"

	"github.com/sawpanic/trendscan/internal/domain"
)

// ADXResult holds the directional movement indicators for a series.
type ADXResult struct {
	ADX       float64 `json:"adx"`
	PlusDI    float64 `json:"plus_di"`
	MinusDI   float64 `json:"minus_di"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateADX computes ADX and +DI/-DI with classical Wilder smoothing.
// The DX 0/0 case maps to 0, not NaN, so flat stretches cannot inject
// spurious trend-strength spikes into the smoothed ADX.
func CalculateADX(bars []domain.PriceBar, period int) ADXResult {
	if len(bars) < period*2+1 {
		return ADXResult{Period: period, IsValid: false, DataCount: len(bars)}
	}

	n := len(bars) - 1
	trueRanges := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]

		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prev.Close)
		lc := math.Abs(cur.Low - prev.Close)
		trueRanges[i-1] = math.Max(hl, math.Max(hc, lc))

		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low
		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}
	}

	// Seed with SMA, then Wilder smoothing (alpha = 1/period).
	alpha := 1.0 / float64(period)
	smTR := seedAverage(trueRanges, period)
	smPlus := seedAverage(plusDM, period)
	smMinus := seedAverage(minusDM, period)

	dx := make([]float64, 0, n-period)
	dx = append(dx, directionalIndex(smPlus, smMinus, smTR))

	for i := period; i < n; i++ {
		smTR = smTR*(1-alpha) + trueRanges[i]*alpha
		smPlus = smPlus*(1-alpha) + plusDM[i]*alpha
		smMinus = smMinus*(1-alpha) + minusDM[i]*alpha
		dx = append(dx, directionalIndex(smPlus, smMinus, smTR))
	}

	if len(dx) < period {
		return ADXResult{Period: period, IsValid: false, DataCount: len(bars)}
	}

	adx := seedAverage(dx, period)
	for i := period; i < len(dx); i++ {
		adx = adx*(1-alpha) + dx[i]*alpha
	}

	plusDI, minusDI := 0.0, 0.0
	if smTR > 0 {
		plusDI = 100 * smPlus / smTR
		minusDI = 100 * smMinus / smTR
	}

	return ADXResult{
		ADX:       adx,
		PlusDI:    plusDI,
		MinusDI:   minusDI,
		Period:    period,
		IsValid:   true,
		DataCount: len(bars),
	}
}

// directionalIndex computes DX from smoothed DM and TR values.
func directionalIndex(smPlus, smMinus, smTR float64) float64 {
	if smTR <= 0 {
		return 0
	}
	plusDI := 100 * smPlus / smTR
	minusDI := 100 * smMinus / smTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

// ATRResult holds the smoothed true-range series for a price history.
type ATRResult struct {
	Value     float64   `json:"value"`
	Series    []float64 `json:"-"`
	Period    int       `json:"period"`
	IsValid   bool      `json:"is_valid"`
	DataCount int       `json:"data_count"`
}

// CalculateATR computes Wilder ATR with the true-range series capped at its
// trailing percentile before smoothing, so a single halt-and-gap bar cannot
// dominate the average. Series holds one smoothed value per post-seed bar so
// callers can read a historical reference window.
func CalculateATR(bars []domain.PriceBar, period int, capPercentile float64) ATRResult {
	if len(bars) < period+1 {
		return ATRResult{Period: period, IsValid: false, DataCount: len(bars)}
	}

	trueRanges := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]
		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prev.Close)
		lc := math.Abs(cur.Low - prev.Close)
		trueRanges[i-1] = math.Max(hl, math.Max(hc, lc))
	}

	if capPercentile > 0 && capPercentile < 1 {
		cap := percentile(trueRanges, capPercentile)
		for i, tr := range trueRanges {
			if tr > cap {
				trueRanges[i] = cap
			}
		}
	}

	alpha := 1.0 / float64(period)
	atr := seedAverage(trueRanges, period)
	series := make([]float64, 0, len(trueRanges)-period+1)
	series = append(series, atr)
	for i := period; i < len(trueRanges); i++ {
		atr = atr*(1-alpha) + trueRanges[i]*alpha
		series = append(series, atr)
	}

	return ATRResult{
		Value:     atr,
		Series:    series,
		Period:    period,
		IsValid:   true,
		DataCount: len(bars),
	}
}

// CalculateCloseATR is the close-to-close ATR proxy, used as a fallback when
// a fund's OHLC feed produces an implausible true-range ATR.
func CalculateCloseATR(bars []domain.PriceBar, period int) ATRResult {
	if len(bars) < period+1 {
		return ATRResult{Period: period, IsValid: false, DataCount: len(bars)}
	}

	diffs := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		diffs[i-1] = math.Abs(bars[i].Close - bars[i-1].Close)
	}

	alpha := 1.0 / float64(period)
	atr := seedAverage(diffs, period)
	series := make([]float64, 0, len(diffs)-period+1)
	series = append(series, atr)
	for i := period; i < len(diffs); i++ {
		atr = atr*(1-alpha) + diffs[i]*alpha
		series = append(series, atr)
	}

	return ATRResult{
		Value:     atr,
		Series:    series,
		Period:    period,
		IsValid:   true,
		DataCount: len(bars),
	}
}

// TrendEfficiency is net move divided by total path over the lookback.
// Near 1 is a straight-line move, near 0 is churn with no progress.
func TrendEfficiency(closes []float64, lookback int) float64 {
	if len(closes) < lookback+1 {
		return domain.NaN()
	}
	window := closes[len(closes)-lookback-1:]
	netMove := math.Abs(window[len(window)-1] - window[0])
	totalPath := 0.0
	for i := 1; i < len(window); i++ {
		totalPath += math.Abs(window[i] - window[i-1])
	}
	if totalPath <= 0 {
		return domain.NaN()
	}
	return netMove / totalPath
}

// seedAverage returns the simple mean of the first period values.
func seedAverage(values []float64, period int) float64 {
	sum := 0.0
	for i := 0; i < period && i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// percentile returns the p-th percentile (0..1) with linear interpolation.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return domain.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
