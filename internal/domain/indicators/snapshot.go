package indicators

import (
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

var (
	// ErrInsufficientHistory is returned when a series is too short to
	// produce trustworthy indicators. The instrument is skipped, never
	// defaulted to zeroed values.
	ErrInsufficientHistory = errors.New("insufficient price history")

	// ErrStaleData is returned when the last bar is older than the
	// configured maximum age.
	ErrStaleData = errors.New("stale price data")
)

// Engine computes IndicatorSnapshots from cleaned daily series.
type Engine struct {
	cfg      config.IndicatorConfig
	cleaning config.CleaningConfig
	classify config.ClassifyConfig
	climax   config.ClimaxConfig
}

// NewEngine builds an indicator engine from the run configuration.
func NewEngine(cfg config.Config) *Engine {
	return &Engine{
		cfg:      cfg.Indicators,
		cleaning: cfg.Cleaning,
		classify: cfg.Classify,
		climax:   cfg.Climax,
	}
}

// Snapshot cleans the series and derives the full per-run feature set for
// one instrument. now anchors the data-age check.
func (e *Engine) Snapshot(inst domain.Instrument, bars []domain.PriceBar, now time.Time) (*domain.IndicatorSnapshot, error) {
	if len(bars) < e.cfg.MinBars {
		return nil, fmt.Errorf("%w: %s has %d bars, need %d", ErrInsufficientHistory, inst.Symbol, len(bars), e.cfg.MinBars)
	}

	lastBar := bars[len(bars)-1].Date
	ageDays := int(now.Sub(lastBar).Hours() / 24)
	if ageDays > e.cfg.MaxDataAgeDays {
		return nil, fmt.Errorf("%w: %s last bar %s is %d days old (max %d)", ErrStaleData, inst.Symbol, lastBar.Format("2006-01-02"), ageDays, e.cfg.MaxDataAgeDays)
	}

	cleaned, quality := CleanSeries(bars, inst.Sleeve, e.cleaning)
	closes := make([]float64, len(cleaned))
	for i, b := range cleaned {
		closes[i] = b.Close
	}
	close := closes[len(closes)-1]

	snap := &domain.IndicatorSnapshot{
		Symbol:      inst.Symbol,
		LastBarDate: lastBar,
		DataAgeDays: ageDays,
		BarCount:    len(cleaned),
		Close:       close,
		Quality:     quality,
	}

	snap.High20 = rollingMax(closes, e.cfg.HighLookbackShort)
	snap.High55 = rollingMax(closes, e.cfg.HighLookbackLong)
	snap.Low20 = rollingMin(closes, e.cfg.LowLookback)
	snap.MA20 = rollingMean(closes, 20)
	snap.MA50 = rollingMean(closes, 50)
	snap.MA200 = rollingMean(closes, 200)

	adx := CalculateADX(cleaned, e.cfg.ADXPeriod)
	if adx.IsValid {
		snap.ADX = adx.ADX
		snap.PlusDI = adx.PlusDI
		snap.MinusDI = adx.MinusDI
	} else {
		snap.ADX, snap.PlusDI, snap.MinusDI = domain.NaN(), domain.NaN(), domain.NaN()
	}

	e.fillATR(snap, inst.Sleeve, cleaned)
	e.fillVolume(snap, inst.Sleeve, cleaned)
	e.fillDistances(snap)

	snap.TrendEfficiency = TrendEfficiency(closes, e.cfg.EfficiencyLookback)

	if domain.IsFinite(snap.MA20) && snap.MA20 > 0 {
		snap.MAExtensionPct = (close - snap.MA20) / snap.MA20
	} else {
		snap.MAExtensionPct = domain.NaN()
	}
	snap.ClimaxFlag = e.climax.Enabled &&
		domain.IsFinite(snap.MAExtensionPct) && snap.MAExtensionPct > e.climax.MAExtensionPct &&
		domain.IsFinite(snap.VolRatio) && snap.VolRatio >= e.climax.VolumeMult

	snap.Return3M = domain.NaN()
	if n := e.cfg.ReturnLookbackDays; len(closes) > n {
		ago := closes[len(closes)-1-n]
		if domain.IsFinite(ago) && ago > 0 {
			snap.Return3M = (close - ago) / ago
		}
	}

	return snap, nil
}

// fillATR computes ATR with outlier capping, the historical reference window
// used for spike/collapse detection, and the ETF close-to-close fallback.
func (e *Engine) fillATR(snap *domain.IndicatorSnapshot, sleeve domain.Sleeve, bars []domain.PriceBar) {
	atr := CalculateATR(bars, e.cfg.ATRPeriod, e.cfg.TRCapPercentile)
	if !atr.IsValid {
		snap.ATR, snap.ATRPct, snap.ATRRef = domain.NaN(), domain.NaN(), domain.NaN()
		return
	}

	// A diversified fund printing >3% daily ATR is a data artifact;
	// fall back to the close-to-close proxy.
	if sleeve == domain.SleeveETFCore && snap.Close > 0 && atr.Value/snap.Close > e.cfg.ETFATRFallbackPct {
		if proxy := CalculateCloseATR(bars, e.cfg.ATRPeriod); proxy.IsValid {
			atr = proxy
			snap.Quality.Warn = true
			if snap.Quality.Note != "" {
				snap.Quality.Note += "; "
			}
			snap.Quality.Note += "ATR fallback to close-to-close proxy"
		}
	}

	snap.ATR = atr.Value
	if snap.Close > 0 {
		snap.ATRPct = atr.Value / snap.Close
	} else {
		snap.ATRPct = domain.NaN()
	}

	// Reference window: mean ATR from 30 to 20 bars ago. Comparing today's
	// ATR against a month-old baseline separates a volatility shock from a
	// slow drift in the instrument's normal range.
	snap.ATRRef = refWindowMean(atr.Series, 30, 20)
	if domain.IsFinite(snap.ATRRef) && snap.ATRRef > 0 {
		snap.ATRSpiking = snap.ATR > e.cfg.ATRSpikeFactor*snap.ATRRef
		snap.ATRCollapsing = snap.ATR < snap.ATRRef
	}
}

// fillVolume computes the volume ratio, 20-day dollar volume and the
// sleeve-specific liquidity verdict. Funds with missing volume stay eligible
// (UCITS listings report patchily) but stocks do not.
func (e *Engine) fillVolume(snap *domain.IndicatorSnapshot, sleeve domain.Sleeve, bars []domain.PriceBar) {
	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = b.Volume
	}
	avg := rollingMean(vols, e.cfg.VolumeLookback)
	last := vols[len(vols)-1]

	if domain.IsFinite(avg) && avg > 0 {
		snap.VolRatio = last / avg
		snap.DollarVol20 = snap.Close * avg
	} else {
		snap.VolRatio = domain.NaN()
		snap.DollarVol20 = domain.NaN()
	}

	minDV := e.classify.MinDollarVolStock
	if sleeve == domain.SleeveETFCore || sleeve == domain.SleeveHedge {
		minDV = e.classify.MinDollarVolETF
	}
	if domain.IsFinite(snap.DollarVol20) {
		snap.LiquidityOK = snap.DollarVol20 >= minDV
	} else {
		snap.LiquidityOK = sleeve == domain.SleeveETFCore || sleeve == domain.SleeveHedge
	}
}

func (e *Engine) fillDistances(snap *domain.IndicatorSnapshot) {
	snap.DistTo20dHighPct = distanceToHighPct(snap.Close, snap.High20)
	snap.DistTo55dHighPct = distanceToHighPct(snap.Close, snap.High55)
	snap.RangePosition20 = rangePosition(snap.Close, snap.Low20, snap.High20)

	low55 := domain.NaN()
	// 55-day range position reuses the 20-day low when the long low is not
	// tracked separately; the long lookback high dominates the signal.
	if domain.IsFinite(snap.Low20) {
		low55 = snap.Low20
	}
	snap.RangePosition55 = rangePosition(snap.Close, low55, snap.High55)
}

// distanceToHighPct is positive when close is below the rolling high and
// negative when above it, in percent of the high.
func distanceToHighPct(close, high float64) float64 {
	if !domain.IsFinite(close) || !domain.IsFinite(high) || high <= 0 {
		return domain.NaN()
	}
	return (high - close) / high * 100
}

func rangePosition(close, low, high float64) float64 {
	if !domain.IsFinite(close) || !domain.IsFinite(low) || !domain.IsFinite(high) || high <= low {
		return domain.NaN()
	}
	return domain.Clamp((close-low)/(high-low), 0, 1)
}

func rollingMax(values []float64, n int) float64 {
	if len(values) < n || n <= 0 {
		return domain.NaN()
	}
	max := values[len(values)-n]
	for _, v := range values[len(values)-n:] {
		if v > max {
			max = v
		}
	}
	return max
}

func rollingMin(values []float64, n int) float64 {
	if len(values) < n || n <= 0 {
		return domain.NaN()
	}
	min := values[len(values)-n]
	for _, v := range values[len(values)-n:] {
		if v < min {
			min = v
		}
	}
	return min
}

func rollingMean(values []float64, n int) float64 {
	if len(values) < n || n <= 0 {
		return domain.NaN()
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// refWindowMean averages series values between `from` and `to` bars ago.
func refWindowMean(series []float64, from, to int) float64 {
	if len(series) < from {
		return domain.NaN()
	}
	window := series[len(series)-from : len(series)-to]
	if len(window) == 0 {
		return domain.NaN()
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}
