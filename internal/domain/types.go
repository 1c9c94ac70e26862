package domain

import (
	"fmt"
	"strings"
	"time"
)

// Sleeve is the strategy bucket an instrument belongs to. Each sleeve carries
// its own liquidity floors, volatility caps and concentration limits.
type Sleeve int

const (
	SleeveHedge Sleeve = iota
	SleeveETFCore
	SleeveStockCore
	SleeveStockHighRisk
)

func (s Sleeve) String() string {
	switch s {
	case SleeveHedge:
		return "HEDGE"
	case SleeveETFCore:
		return "ETF_CORE"
	case SleeveStockCore:
		return "STOCK_CORE"
	case SleeveStockHighRisk:
		return "STOCK_HIGH_RISK"
	default:
		return "UNKNOWN"
	}
}

// Priority orders sleeves for universe deduplication: when a symbol appears
// in more than one universe list the lowest priority value wins, so an
// instrument is never double-counted across sleeves.
func (s Sleeve) Priority() int {
	return int(s)
}

// IsStock reports whether the sleeve holds single-name equities.
func (s Sleeve) IsStock() bool {
	return s == SleeveStockCore || s == SleeveStockHighRisk
}

// ParseSleeve converts the wire/config representation into a Sleeve.
func ParseSleeve(v string) (Sleeve, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "HEDGE":
		return SleeveHedge, nil
	case "ETF_CORE":
		return SleeveETFCore, nil
	case "STOCK_CORE":
		return SleeveStockCore, nil
	case "STOCK_HIGH_RISK":
		return SleeveStockHighRisk, nil
	default:
		return 0, fmt.Errorf("unknown sleeve %q", v)
	}
}

// Status is the per-instrument entry decision for a run.
type Status int

const (
	StatusReady Status = iota
	StatusWatch
	StatusIgnore
	StatusAvoid
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "READY"
	case StatusWatch:
		return "WATCH"
	case StatusIgnore:
		return "IGNORE"
	case StatusAvoid:
		return "AVOID"
	default:
		return "UNKNOWN"
	}
}

// Regime is the per-instrument trend classification.
type Regime int

const (
	RegimeTrend Regime = iota
	RegimeRange
	RegimeAvoid
	RegimeNone
)

func (r Regime) String() string {
	switch r {
	case RegimeTrend:
		return "TREND"
	case RegimeRange:
		return "RANGE"
	case RegimeAvoid:
		return "AVOID"
	default:
		return "NONE"
	}
}

// MarketRegime is the benchmark-level market state.
type MarketRegime int

const (
	MarketUnknown MarketRegime = iota
	MarketBullish
	MarketBearish
	MarketSideways
)

func (m MarketRegime) String() string {
	switch m {
	case MarketBullish:
		return "BULLISH"
	case MarketBearish:
		return "BEARISH"
	case MarketSideways:
		return "SIDEWAYS"
	default:
		return "UNKNOWN"
	}
}

// HeldAction is the advisory action for a currently held position.
type HeldAction int

const (
	ActionNone HeldAction = iota
	ActionHold
	ActionSell
	ActionTrimLaggard
	ActionExitClimax
	ActionSwapForLeader
)

func (a HeldAction) String() string {
	switch a {
	case ActionHold:
		return "HOLD"
	case ActionSell:
		return "SELL"
	case ActionTrimLaggard:
		return "TRIM_LAGGARD"
	case ActionExitClimax:
		return "EXIT_CLIMAX"
	case ActionSwapForLeader:
		return "SWAP_FOR_LEADER"
	default:
		return ""
	}
}

// Instrument identifies one tradeable symbol and its grouping metadata.
type Instrument struct {
	Symbol       string `json:"symbol"`
	Sleeve       Sleeve `json:"sleeve"`
	Cluster      string `json:"cluster"`
	SuperCluster string `json:"super_cluster"`
}

// PriceBar is a single daily OHLCV observation.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// DataQuality carries the price-cleaning verdict for an instrument.
// Warn flags are informational; Block forbids new entries for the run.
type DataQuality struct {
	Flag     string `json:"flag"`
	Note     string `json:"note"`
	Repaired bool   `json:"repaired"`
	Warn     bool   `json:"warn"`
	Block    bool   `json:"block"`
}

// IndicatorSnapshot is the full per-instrument feature set for one run.
// It is recomputed from the cleaned series every run and never persisted.
type IndicatorSnapshot struct {
	Symbol      string    `json:"symbol"`
	LastBarDate time.Time `json:"last_bar_date"`
	DataAgeDays int       `json:"data_age_days"`
	BarCount    int       `json:"bar_count"`

	Close  float64 `json:"close"`
	High20 float64 `json:"high_20"`
	High55 float64 `json:"high_55"`
	Low20  float64 `json:"low_20"`
	MA20   float64 `json:"ma_20"`
	MA50   float64 `json:"ma_50"`
	MA200  float64 `json:"ma_200"`

	ADX     float64 `json:"adx_14"`
	PlusDI  float64 `json:"plus_di"`
	MinusDI float64 `json:"minus_di"`

	ATR           float64 `json:"atr_14"`
	ATRPct        float64 `json:"atr_pct"`
	ATRRef        float64 `json:"atr_ref"`
	ATRSpiking    bool    `json:"atr_spiking"`
	ATRCollapsing bool    `json:"atr_collapsing"`

	VolRatio    float64 `json:"vol_ratio"`
	DollarVol20 float64 `json:"dollar_vol_20"`
	LiquidityOK bool    `json:"liquidity_ok"`

	DistTo20dHighPct float64 `json:"distance_to_20d_high_pct"`
	DistTo55dHighPct float64 `json:"distance_to_55d_high_pct"`
	RangePosition20  float64 `json:"range_position_20"`
	RangePosition55  float64 `json:"range_position_55"`

	TrendEfficiency float64 `json:"trend_efficiency"`
	MAExtensionPct  float64 `json:"ma_extension_pct"`
	ClimaxFlag      bool    `json:"climax_flag"`
	Return3M        float64 `json:"return_3m"`

	Quality DataQuality `json:"quality"`
}

// AboveMA50 reports whether the instrument closed above its 50-day average.
// Used by the breadth safety valve.
func (s *IndicatorSnapshot) AboveMA50() bool {
	return isFinite(s.Close) && isFinite(s.MA50) && s.Close > s.MA50
}
