package regime

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

// BenchmarkReading is the evaluated regime for a single benchmark index.
type BenchmarkReading struct {
	Symbol     string              `json:"symbol"`
	Regime     domain.MarketRegime `json:"regime"`
	Close      float64             `json:"close"`
	MA200      float64             `json:"ma_200"`
	AgeDays    int                 `json:"age_days"`
	Stable     bool                `json:"stable"`
	DaysInBand int                 `json:"days_in_band"`
}

// Detector classifies benchmark indices against their long moving average.
type Detector struct {
	cfg config.RegimeConfig
	log zerolog.Logger
}

func NewDetector(cfg config.RegimeConfig, log zerolog.Logger) *Detector {
	return &Detector{cfg: cfg, log: log.With().Str("component", "regime").Logger()}
}

// Evaluate reads one benchmark series. Anything that undermines trust in the
// reading, a short series or a stale last bar, resolves to UNKNOWN rather
// than a guess.
func (d *Detector) Evaluate(symbol string, bars []domain.PriceBar, now time.Time) BenchmarkReading {
	reading := BenchmarkReading{Symbol: symbol, Regime: domain.MarketUnknown}
	if len(bars) < d.cfg.MinBars {
		d.log.Warn().Str("benchmark", symbol).Int("bars", len(bars)).Int("min", d.cfg.MinBars).
			Msg("insufficient benchmark history, regime UNKNOWN")
		return reading
	}

	last := bars[len(bars)-1]
	reading.AgeDays = int(now.Sub(last.Date).Hours() / 24)
	if reading.AgeDays > d.cfg.MaxDataAgeDays {
		d.log.Warn().Str("benchmark", symbol).Int("age_days", reading.AgeDays).
			Msg("stale benchmark data, regime UNKNOWN")
		return reading
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	ma := trailingMean(closes, len(closes), d.cfg.MAPeriod)
	reading.Close = last.Close
	reading.MA200 = ma
	if !domain.IsFinite(ma) || ma <= 0 {
		return reading
	}

	upper := ma * (1 + d.cfg.BandPct)
	lower := ma * (1 - d.cfg.BandPct)

	switch {
	case last.Close > upper:
		reading.Regime = domain.MarketBullish
		reading.Stable = true
	case last.Close < lower:
		reading.Regime = domain.MarketBearish
		reading.Stable = true
	default:
		reading.DaysInBand = d.consecutiveDaysInBand(closes)
		if !d.cfg.StabilityEnabled || reading.DaysInBand >= d.cfg.StabilityDays {
			reading.Regime = domain.MarketSideways
			reading.Stable = true
			break
		}
		// A single close wandering into the band is not a regime change.
		// Hold the directional call until the band holds for several days.
		if last.Close > ma {
			reading.Regime = domain.MarketBullish
		} else {
			reading.Regime = domain.MarketBearish
		}
		d.log.Debug().Str("benchmark", symbol).Int("days_in_band", reading.DaysInBand).
			Str("held_regime", reading.Regime.String()).
			Msg("band touch below stability window, holding directional regime")
	}

	return reading
}

// Combine folds two benchmark readings into the portfolio-level regime.
// UNKNOWN and BEARISH each propagate from either side; BULLISH requires
// unanimity; any other mix is SIDEWAYS.
func Combine(a, b BenchmarkReading) domain.MarketRegime {
	if a.Regime == domain.MarketUnknown || b.Regime == domain.MarketUnknown {
		return domain.MarketUnknown
	}
	if a.Regime == domain.MarketBearish || b.Regime == domain.MarketBearish {
		return domain.MarketBearish
	}
	if a.Regime == domain.MarketBullish && b.Regime == domain.MarketBullish {
		return domain.MarketBullish
	}
	return domain.MarketSideways
}

// consecutiveDaysInBand counts how many trailing closes sit inside the band
// around their own day's moving average.
func (d *Detector) consecutiveDaysInBand(closes []float64) int {
	days := 0
	for i := len(closes); i > d.cfg.MAPeriod; i-- {
		ma := trailingMean(closes, i, d.cfg.MAPeriod)
		if !domain.IsFinite(ma) || ma <= 0 {
			break
		}
		c := closes[i-1]
		if c > ma*(1+d.cfg.BandPct) || c < ma*(1-d.cfg.BandPct) {
			break
		}
		days++
	}
	return days
}

// trailingMean averages the n values ending at index end (exclusive).
func trailingMean(values []float64, end, n int) float64 {
	if end < n || n <= 0 {
		return domain.NaN()
	}
	sum := 0.0
	for _, v := range values[end-n : end] {
		sum += v
	}
	return sum / float64(n)
}
