// Package classify turns an indicator snapshot into the per-instrument
// regime, entry status and trade levels.
package classify

import (
	"fmt"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
)

// Decision is the classification output for one instrument.
type Decision struct {
	Regime        domain.Regime `json:"regime"`
	Status        domain.Status `json:"status"`
	Reason        string        `json:"reason"`
	BreakoutLevel float64       `json:"breakout_level"`
	StopLevel     float64       `json:"stop_level"`
	EntryTrigger  float64       `json:"entry_trigger"`
	BufferMult    float64       `json:"atr_buffer_mult"`
	EarlyBird     bool          `json:"early_bird"`
}

// Input bundles everything the classifier consults for one instrument.
type Input struct {
	Instrument   domain.Instrument
	Snapshot     *domain.IndicatorSnapshot
	MarketRegime domain.MarketRegime
	IsHeld       bool
}

// Classifier applies the entry gates and breakout rules.
type Classifier struct {
	cfg config.ClassifyConfig
}

func New(cfg config.ClassifyConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify runs the full gate sequence. Safety gates only apply to new
// entries; held positions are always classified so their stops and adds can
// be managed.
func (c *Classifier) Classify(in Input) Decision {
	snap := in.Snapshot
	sleeve := in.Instrument.Sleeve
	buffer := c.bufferMult(snap.ATRPct)

	d := Decision{
		Regime:        domain.RegimeNone,
		Status:        domain.StatusIgnore,
		BreakoutLevel: domain.NaN(),
		StopLevel:     domain.NaN(),
		EntryTrigger:  domain.NaN(),
		BufferMult:    buffer,
	}

	if !in.IsHeld {
		if snap.Quality.Block {
			d.Reason = "data anomaly flagged (spike/gap), skip new entries"
			return d
		}
		if !snap.LiquidityOK {
			d.Reason = "liquidity failed (20d dollar volume too low)"
			return d
		}

		d.EarlyBird = c.earlyBirdEligible(in)

		// Direction filter: -DI above +DI means sellers are in control.
		// Early bird momentum names skip this lagging check.
		if c.cfg.DirectionFilter && !d.EarlyBird &&
			domain.IsFinite(snap.PlusDI) && domain.IsFinite(snap.MinusDI) && snap.MinusDI > snap.PlusDI {
			d.Reason = "directional movement bearish (-DI > +DI)"
			return d
		}

		if c.cfg.ATRPctCapEnabled {
			cap := c.cfg.ATRPctCapStock
			if sleeve == domain.SleeveStockHighRisk {
				cap = c.cfg.ATRPctCapHighRisk
			}
			if domain.IsFinite(snap.ATRPct) && snap.ATRPct > cap {
				d.Reason = fmt.Sprintf("ATR%% too volatile (%.1f%% > %.0f%%)", snap.ATRPct*100, cap*100)
				return d
			}
		}
	}

	// Risk-off gating: no new buys outside a bullish market. Levels are
	// still computed so held positions keep valid stops.
	if !in.IsHeld && in.MarketRegime != domain.MarketBullish {
		if sleeve == domain.SleeveETFCore {
			d.BreakoutLevel = snap.High55
			d.StopLevel = snap.Low20
		} else {
			d.BreakoutLevel = snap.High20
			d.StopLevel = stockStop(snap)
		}
		d.EntryTrigger = entryTrigger(d.BreakoutLevel, snap.ATR, buffer)
		d.Regime = domain.RegimeNone
		d.Reason = fmt.Sprintf("market regime not bullish (%s)", in.MarketRegime)
		return d
	}

	if sleeve == domain.SleeveETFCore || sleeve == domain.SleeveHedge {
		return c.classifyETF(in, d)
	}
	return c.classifyStock(in, d)
}

func (c *Classifier) classifyETF(in Input, d Decision) Decision {
	snap := in.Snapshot
	d.BreakoutLevel = snap.High55
	d.StopLevel = snap.Low20
	d.EntryTrigger = entryTrigger(d.BreakoutLevel, snap.ATR, d.BufferMult)

	if !(snap.Close > snap.MA200 && snap.MA50 > snap.MA200 && snap.ADX >= c.cfg.ADXStrongTrend) {
		d.Reason = "trend structure failed (need close>MA200, MA50>MA200, strong ADX)"
		return d
	}
	d.Regime = domain.RegimeTrend

	if ext, ok := extensionATR(snap.Close, d.BreakoutLevel, snap.ATR); ok && snap.Close > d.BreakoutLevel && ext > c.cfg.ExtensionATRThreshold {
		d.Reason = fmt.Sprintf("too extended (>%.1f ATR above breakout)", c.cfg.ExtensionATRThreshold)
		return d
	}
	if snap.ATRSpiking {
		d.Reason = "ATR spiking (vol shock)"
		return d
	}
	// ATR collapse is a risk flag for funds, not a veto.

	dist := snap.DistTo55dHighPct
	switch {
	case dist <= c.cfg.DistReadyPct:
		d.Status = domain.StatusReady
		d.Reason = fmt.Sprintf("%.2f%% from 55d high", dist)
	case dist <= c.cfg.DistWatchPct:
		d.Status = domain.StatusWatch
		d.Reason = fmt.Sprintf("%.2f%% away", dist)
	default:
		d.Reason = fmt.Sprintf("%.2f%% away (>%.0f%%)", dist, c.cfg.DistWatchPct)
	}
	return d
}

func (c *Classifier) classifyStock(in Input, d Decision) Decision {
	snap := in.Snapshot
	d.BreakoutLevel = snap.High20
	d.StopLevel = stockStop(snap)
	d.EntryTrigger = entryTrigger(d.BreakoutLevel, snap.ATR, d.BufferMult)

	if snap.Close < snap.MA200 {
		d.Regime = domain.RegimeAvoid
		d.Reason = "close below 200dma (downtrend)"
		return d
	}

	// ATR spike is a soft gate for otherwise strong names: strength plus a
	// vol shock caps READY to WATCH, weakness plus a vol shock is a hard
	// block.
	softCap := false
	if snap.ATRSpiking {
		bullishDI := domain.IsFinite(snap.PlusDI) && domain.IsFinite(snap.MinusDI) && snap.PlusDI > snap.MinusDI
		if bullishDI {
			softCap = true
		} else {
			d.Regime = domain.RegimeAvoid
			d.Reason = "ATR spiking with bearish directional movement"
			return d
		}
	}

	if snap.Close > snap.MA200 && snap.MA50 > snap.MA200 && snap.ADX >= c.cfg.ADXTrendThreshold {
		d.Regime = domain.RegimeTrend
	} else {
		d.Regime = domain.RegimeRange
	}

	if d.Regime == domain.RegimeTrend {
		if out, done := c.classifyStockTrend(in, d, softCap); done {
			return out
		}
	}
	return c.classifyStockRange(in, d, softCap)
}

// classifyStockTrend handles the 20-day and 55-day breakout paths. The bool
// result is false when the name is too far from its highs and should fall
// through to range handling.
func (c *Classifier) classifyStockTrend(in Input, d Decision, softCap bool) (Decision, bool) {
	snap := in.Snapshot

	if ext, ok := extensionATR(snap.Close, d.BreakoutLevel, snap.ATR); ok && snap.Close > d.BreakoutLevel && ext > c.cfg.ExtensionATRThreshold {
		d.Reason = fmt.Sprintf("too extended (>%.1f ATR above breakout)", c.cfg.ExtensionATRThreshold)
		return d, true
	}

	dist := snap.DistTo20dHighPct
	volThreshold, tier := c.volumeThreshold(snap, in.MarketRegime, dist)
	volOK := domain.IsFinite(snap.VolRatio) && snap.VolRatio >= volThreshold

	// Collapsing ATR: entries are allowed but need the close decisively
	// through the breakout, not just near it.
	if snap.ATRCollapsing && domain.IsFinite(snap.ATR) && snap.ATR > 0 && dist <= c.cfg.DistReadyPct {
		aboveBreakout := snap.Close > d.BreakoutLevel+0.1*snap.ATR
		if volOK && aboveBreakout {
			d.Status = domain.StatusReady
			d.Reason = fmt.Sprintf("%.2f%% from 20d high (vol ok, ATR collapse tightened)", dist)
			return applySoftCap(d, softCap), true
		}
		d.Status = domain.StatusWatch
		d.Reason = fmt.Sprintf("%.2f%% away (ATR collapsing, needs stronger confirmation)", dist)
		return d, true
	}

	switch {
	case dist <= c.cfg.DistReadyPct:
		if volOK {
			d.Status = domain.StatusReady
			d.Reason = fmt.Sprintf("%.2f%% from 20d high (vol %.1fx %s ok)", dist, volThreshold, tier)
			return applySoftCap(d, softCap), true
		}
		d.Status = domain.StatusWatch
		d.Reason = fmt.Sprintf("%.2f%% from 20d high (need vol %.1fx %s)", dist, volThreshold, tier)
		return d, true
	case dist <= c.cfg.DistWatchPct:
		d.Status = domain.StatusWatch
		d.Reason = fmt.Sprintf("%.2f%% away", dist)
		return d, true
	}

	// Continuation breakout: pressing the 55-day high counts even when the
	// 20-day high is out of reach.
	dist55 := snap.DistTo55dHighPct
	if domain.IsFinite(dist55) && dist55 <= c.cfg.DistReadyPct && snap.Close >= snap.High55*0.99 && volOK {
		d.BreakoutLevel = snap.High55
		d.StopLevel = snap.Low20
		d.EntryTrigger = entryTrigger(d.BreakoutLevel, snap.ATR, d.BufferMult)
		d.Status = domain.StatusReady
		d.Reason = "55d continuation breakout"
		return applySoftCap(d, softCap), true
	}

	return d, false
}

// classifyStockRange is breakout-only: entries go through the 20-day high,
// never off the range bottom, so entry and risk math stay consistent.
func (c *Classifier) classifyStockRange(in Input, d Decision, softCap bool) Decision {
	snap := in.Snapshot
	d.BreakoutLevel = snap.High20
	d.StopLevel = snap.Low20
	d.EntryTrigger = entryTrigger(d.BreakoutLevel, snap.ATR, d.BufferMult)

	if snap.Close > d.BreakoutLevel {
		if domain.IsFinite(snap.VolRatio) && snap.VolRatio >= c.cfg.RangeBreakoutVolMin {
			d.Status = domain.StatusReady
			d.Reason = fmt.Sprintf("range breakout above 20d high (vol %.1fx ok)", snap.VolRatio)
			return applySoftCap(d, softCap)
		}
		d.Status = domain.StatusWatch
		d.Reason = fmt.Sprintf("range breakout above 20d high (need vol >= %.1fx)", c.cfg.RangeBreakoutVolMin)
		return d
	}

	pos := snap.RangePosition20
	d.Status = domain.StatusWatch
	switch {
	case pos <= c.cfg.RangePosBottom:
		d.Reason = fmt.Sprintf("pos %.2f (range bottom, waiting for breakout)", pos)
	case pos <= c.cfg.RangePosMid:
		d.Reason = fmt.Sprintf("pos %.2f (mid-range, waiting for breakout)", pos)
	default:
		d.Reason = fmt.Sprintf("pos %.2f (range top, wait for breakout or retest)", pos)
	}
	return d
}

// volumeThreshold tiers the confirmation requirement by liquidity class.
// Mega-caps carry inherent liquidity and need little confirmation; thin
// names need above-average volume. Bullish markets ease the bar, chasing
// away from the breakout raises it.
func (c *Classifier) volumeThreshold(snap *domain.IndicatorSnapshot, market domain.MarketRegime, dist float64) (float64, string) {
	threshold := c.cfg.VolThresholdMid
	tier := "mid"
	switch {
	case domain.IsFinite(snap.DollarVol20) && snap.DollarVol20 >= c.cfg.MegaCapDollarVol:
		threshold = c.cfg.VolThresholdMega
		tier = "mega"
	case domain.IsFinite(snap.DollarVol20) && snap.DollarVol20 >= c.cfg.LargeCapDollarVol:
		threshold = c.cfg.VolThresholdLarge
		tier = "large"
	}
	if market == domain.MarketBullish {
		threshold -= c.cfg.BullishVolBonus
	}
	if dist > c.cfg.ChasingDistPct {
		threshold += c.cfg.ChasingPenalty
	}
	if threshold < c.cfg.VolThresholdFloor {
		threshold = c.cfg.VolThresholdFloor
	}
	return threshold, tier
}

// earlyBirdEligible is the momentum bypass for the lagging direction filter:
// stocks pressing the top decile of their 55-day range on conviction volume,
// in a bullish market, with at least some directional movement.
func (c *Classifier) earlyBirdEligible(in Input) bool {
	eb := c.cfg.EarlyBird
	if !eb.Enabled {
		return false
	}
	if !in.Instrument.Sleeve.IsStock() {
		return false
	}
	if in.MarketRegime != domain.MarketBullish {
		return false
	}
	snap := in.Snapshot
	if !domain.IsFinite(snap.RangePosition55) || !domain.IsFinite(snap.ADX) || !domain.IsFinite(snap.VolRatio) {
		return false
	}
	return snap.RangePosition55 >= eb.RangeThreshold &&
		snap.VolRatio >= eb.VolumeRatioMin &&
		snap.ADX >= eb.ADXMin
}

// bufferMult computes the entry-trigger buffer. Adaptive mode gives calm
// names a wider buffer and volatile names a tighter one.
func (c *Classifier) bufferMult(atrPct float64) float64 {
	b := c.cfg.Buffer
	if b.Mode != "adaptive" {
		return b.FixedMult
	}
	if !domain.IsFinite(atrPct) || atrPct <= 0 {
		return b.FallbackMult
	}
	return domain.Clamp(b.AdaptiveIntercept-b.AdaptiveSlope*atrPct, b.Min, b.Max)
}

func applySoftCap(d Decision, softCap bool) Decision {
	if softCap && d.Status == domain.StatusReady {
		d.Status = domain.StatusWatch
		d.Reason += " [ATR spike soft cap]"
	}
	return d
}

func stockStop(snap *domain.IndicatorSnapshot) float64 {
	if !domain.IsFinite(snap.ATR) {
		return snap.Low20
	}
	stop := snap.High20 - 2*snap.ATR
	if snap.Low20 > stop {
		stop = snap.Low20
	}
	return stop
}

func entryTrigger(breakout, atr, bufferMult float64) float64 {
	if domain.IsFinite(breakout) && domain.IsFinite(atr) && atr > 0 {
		return breakout + bufferMult*atr
	}
	return breakout
}

func extensionATR(close, breakout, atr float64) (float64, bool) {
	if !domain.IsFinite(breakout) || !domain.IsFinite(atr) || atr <= 0 {
		return 0, false
	}
	return (close - breakout) / atr, true
}
