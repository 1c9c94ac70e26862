package indicators

import (
	"fmt"
	"math"
	"sort"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

// CleanSeries repairs or flags price spikes before any indicator runs.
//
// ETFs get hard repair at a fixed threshold: a diversified fund does not move
// 8% in a day, so a jump beyond the threshold is bad data and the close is
// forward-filled from the last valid value.
//
// Stocks are never repaired because real gaps are common. Instead thresholds
// derived from the rolling median absolute daily return produce two tiers:
// WARN (informational) and BLOCK (new entries forbidden for the run).
func CleanSeries(bars []domain.PriceBar, sleeve domain.Sleeve, cfg config.CleaningConfig) ([]domain.PriceBar, domain.DataQuality) {
	quality := domain.DataQuality{Flag: "OK"}
	if len(bars) < 2 {
		return bars, quality
	}

	cleaned := make([]domain.PriceBar, len(bars))
	copy(cleaned, bars)

	if sleeve == domain.SleeveETFCore || sleeve == domain.SleeveHedge {
		repaired := 0
		lastValid := cleaned[0].Close
		for i := 1; i < len(cleaned); i++ {
			c := cleaned[i].Close
			if lastValid > 0 && domain.IsFinite(c) {
				jump := math.Abs(c/lastValid - 1)
				if jump > cfg.ETFRepairThreshold {
					cleaned[i].Close = lastValid
					repaired++
					continue
				}
			}
			if domain.IsFinite(c) && c > 0 {
				lastValid = c
			}
		}
		if repaired > 0 {
			quality.Repaired = true
			quality.Warn = true
			quality.Flag = "REPAIRED"
			quality.Note = fmt.Sprintf("repaired %d spike(s) above %.0f%%", repaired, cfg.ETFRepairThreshold*100)
		}
		return cleaned, quality
	}

	// Stocks: dynamic thresholds from the series' own noise level.
	medAbs := medianAbsReturn(cleaned, cfg.MedianReturnLookback)
	thrWarn := math.Max(cfg.StockWarnFloor, cfg.StockWarnMult*medAbs)
	thrBlock := math.Max(cfg.StockBlockFloor, cfg.StockBlockMult*medAbs)

	var spikes int
	var maxSpike float64
	lastValid := cleaned[0].Close
	for i := 1; i < len(cleaned); i++ {
		c := cleaned[i].Close
		if lastValid > 0 && domain.IsFinite(c) {
			jump := math.Abs(c/lastValid - 1)
			if jump > thrWarn {
				spikes++
				if jump > maxSpike {
					maxSpike = jump
				}
			}
		}
		if domain.IsFinite(c) && c > 0 {
			lastValid = c
		}
	}

	switch {
	case maxSpike > thrBlock:
		quality.Block = true
		quality.Flag = "SPIKE_BLOCK"
		quality.Note = fmt.Sprintf("max spike %.0f%% exceeds block threshold %.0f%%", maxSpike*100, thrBlock*100)
	case spikes >= cfg.SpikeCountBlock && maxSpike > thrWarn:
		quality.Block = true
		quality.Flag = "SPIKE_BLOCK"
		quality.Note = fmt.Sprintf("%d spikes above warn threshold %.0f%%", spikes, thrWarn*100)
	case spikes > 0:
		quality.Warn = true
		quality.Flag = "SPIKE_WARN"
		quality.Note = fmt.Sprintf("%d spike(s) above warn threshold %.0f%%", spikes, thrWarn*100)
	}

	return cleaned, quality
}

// medianAbsReturn computes the median of absolute daily returns over the
// trailing lookback window. Zero when the window cannot be filled.
func medianAbsReturn(bars []domain.PriceBar, lookback int) float64 {
	if len(bars) < 2 {
		return 0
	}
	start := len(bars) - lookback - 1
	if start < 0 {
		start = 0
	}
	rets := make([]float64, 0, lookback)
	for i := start + 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		cur := bars[i].Close
		if prev > 0 && domain.IsFinite(cur) {
			rets = append(rets, math.Abs(cur/prev-1))
		}
	}
	if len(rets) == 0 {
		return 0
	}
	sort.Float64s(rets)
	mid := len(rets) / 2
	if len(rets)%2 == 1 {
		return rets[mid]
	}
	return (rets[mid-1] + rets[mid]) / 2
}
