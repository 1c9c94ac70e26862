package config

import (
	"fmt"
)

// Config is the single immutable parameter object for a run. Every threshold
// the engine consults lives here as a named field with a documented default;
// components receive the relevant section by value and never mutate it.
type Config struct {
	Indicators IndicatorConfig `yaml:"indicators"`
	Cleaning   CleaningConfig  `yaml:"cleaning"`
	Regime     RegimeConfig    `yaml:"regime"`
	Classify   ClassifyConfig  `yaml:"classify"`
	Stops      StopConfig      `yaml:"stops"`
	Pyramid    PyramidConfig   `yaml:"pyramid"`
	Reentry    ReentryConfig   `yaml:"reentry"`
	Risk       RiskConfig      `yaml:"risk"`
	Rank       RankConfig      `yaml:"rank"`
	Breadth    BreadthConfig   `yaml:"breadth"`
	Heat       HeatConfig      `yaml:"heat"`
	Climax     ClimaxConfig    `yaml:"climax"`
	Laggard    LaggardConfig   `yaml:"laggard"`
	ExecGuard  ExecGuardConfig `yaml:"exec_guard"`
}

// IndicatorConfig holds lookbacks and guards for the indicator engine.
type IndicatorConfig struct {
	ADXPeriod          int     `yaml:"adx_period"`
	ATRPeriod          int     `yaml:"atr_period"`
	HighLookbackShort  int     `yaml:"high_lookback_short"`
	HighLookbackLong   int     `yaml:"high_lookback_long"`
	LowLookback        int     `yaml:"low_lookback"`
	VolumeLookback     int     `yaml:"volume_lookback"`
	EfficiencyLookback int     `yaml:"efficiency_lookback"`
	ReturnLookbackDays int     `yaml:"return_lookback_days"`
	TRCapPercentile    float64 `yaml:"tr_cap_percentile"`
	ATRSpikeFactor     float64 `yaml:"atr_spike_factor"`
	ETFATRFallbackPct  float64 `yaml:"etf_atr_fallback_pct"`
	MinBars            int     `yaml:"min_bars"`
	MaxDataAgeDays     int     `yaml:"max_data_age_days"`
}

// CleaningConfig controls price-series outlier handling. ETFs are repaired at
// a fixed threshold; stocks are only flagged, with dynamic thresholds scaled
// from the rolling median absolute daily return.
type CleaningConfig struct {
	ETFRepairThreshold   float64 `yaml:"etf_repair_threshold"`
	StockWarnFloor       float64 `yaml:"stock_warn_floor"`
	StockWarnMult        float64 `yaml:"stock_warn_mult"`
	StockBlockFloor      float64 `yaml:"stock_block_floor"`
	StockBlockMult       float64 `yaml:"stock_block_mult"`
	MedianReturnLookback int     `yaml:"median_return_lookback"`
	SpikeCountBlock      int     `yaml:"spike_count_block"`
}

// RegimeConfig controls the benchmark market-regime state machine.
type RegimeConfig struct {
	MAPeriod         int     `yaml:"ma_period"`
	BandPct          float64 `yaml:"band_pct"`
	StabilityEnabled bool    `yaml:"stability_enabled"`
	StabilityDays    int     `yaml:"stability_days"`
	MinBars          int     `yaml:"min_bars"`
	MaxDataAgeDays   int     `yaml:"max_data_age_days"`
}

// EarlyBirdConfig is the bypass for the DI direction filter: momentum names
// pressing the top of their 55-day range on volume get in before +DI crosses.
type EarlyBirdConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RangeThreshold float64 `yaml:"range_threshold"`
	VolumeRatioMin float64 `yaml:"volume_ratio_min"`
	ADXMin         float64 `yaml:"adx_min"`
}

// BufferConfig shapes the ATR entry-trigger buffer. Adaptive mode shrinks the
// buffer as ATR% rises: volatile names overshoot breakouts naturally, calm
// names need more confirmation.
type BufferConfig struct {
	Mode              string  `yaml:"mode"` // "fixed" or "adaptive"
	FixedMult         float64 `yaml:"fixed_mult"`
	AdaptiveIntercept float64 `yaml:"adaptive_intercept"`
	AdaptiveSlope     float64 `yaml:"adaptive_slope"`
	FallbackMult      float64 `yaml:"fallback_mult"`
	Min               float64 `yaml:"min"`
	Max               float64 `yaml:"max"`
}

// ClassifyConfig holds every gate threshold in the classification machine.
type ClassifyConfig struct {
	DistReadyPct float64 `yaml:"dist_ready_pct"`
	DistWatchPct float64 `yaml:"dist_watch_pct"`

	RangePosBottom float64 `yaml:"range_pos_bottom"`
	RangePosMid    float64 `yaml:"range_pos_mid"`

	ADXTrendThreshold float64 `yaml:"adx_trend_threshold"`
	ADXStrongTrend    float64 `yaml:"adx_strong_trend"`
	DirectionFilter   bool    `yaml:"direction_filter"`

	ATRPctCapEnabled  bool    `yaml:"atr_pct_cap_enabled"`
	ATRPctCapStock    float64 `yaml:"atr_pct_cap_stock"`
	ATRPctCapHighRisk float64 `yaml:"atr_pct_cap_high_risk"`

	ExtensionATRThreshold float64 `yaml:"extension_atr_threshold"`

	MinDollarVolETF   float64 `yaml:"min_dollar_vol_etf"`
	MinDollarVolStock float64 `yaml:"min_dollar_vol_stock"`

	MegaCapDollarVol    float64 `yaml:"mega_cap_dollar_vol"`
	LargeCapDollarVol   float64 `yaml:"large_cap_dollar_vol"`
	VolThresholdMega    float64 `yaml:"vol_threshold_mega"`
	VolThresholdLarge   float64 `yaml:"vol_threshold_large"`
	VolThresholdMid     float64 `yaml:"vol_threshold_mid"`
	BullishVolBonus     float64 `yaml:"bullish_vol_bonus"`
	ChasingPenalty      float64 `yaml:"chasing_penalty"`
	ChasingDistPct      float64 `yaml:"chasing_dist_pct"`
	VolThresholdFloor   float64 `yaml:"vol_threshold_floor"`
	RangeBreakoutVolMin float64 `yaml:"range_breakout_vol_min"`

	StopATRMult float64 `yaml:"stop_atr_mult"`

	EfficiencyGateEnabled bool    `yaml:"efficiency_gate_enabled"`
	EfficiencyMinForReady float64 `yaml:"efficiency_min_for_ready"`

	EarlyBird EarlyBirdConfig `yaml:"early_bird"`
	Buffer    BufferConfig    `yaml:"buffer"`
}

// StopConfig controls the stateful stop and profit-protection tiers.
type StopConfig struct {
	ProfitProtectionEnabled bool    `yaml:"profit_protection_enabled"`
	Lock1RThresholdR        float64 `yaml:"lock_1r_threshold_r"`
	LockHalfRThresholdR     float64 `yaml:"lock_half_r_threshold_r"`
	BreakevenTriggerR       float64 `yaml:"breakeven_trigger_r"`
	BreakevenMode           string  `yaml:"breakeven_mode"` // "none"|"trend_only"|"after_days"
	BreakevenADXMin         float64 `yaml:"breakeven_adx_min"`
	BreakevenMinHoldDays    int     `yaml:"breakeven_min_hold_days"`
	ChopTighteningMult      float64 `yaml:"chop_tightening_mult"`
	TrailingATRMult         float64 `yaml:"trailing_atr_mult"`
}

// PyramidConfig controls add-unit triggers for trending positions.
type PyramidConfig struct {
	AddLimit int     `yaml:"add_limit"`
	Add1ATR  float64 `yaml:"add1_atr"`
	Add2ATR  float64 `yaml:"add2_atr"`
}

// Enabled reports whether pyramiding is active; it is derived from the add
// limit rather than a separate switch so the two can never disagree.
func (p PyramidConfig) Enabled() bool { return p.AddLimit > 0 }

// WhipsawConfig is the serial stop-hit kill switch.
type WhipsawConfig struct {
	Enabled      bool `yaml:"enabled"`
	MemoryDays   int  `yaml:"memory_days"`
	PenaltyDays  int  `yaml:"penalty_days"`
	TriggerCount int  `yaml:"trigger_count"`
}

// FastFollowerConfig is the shaken-out-and-resuming re-entry override.
type FastFollowerConfig struct {
	Enabled        bool    `yaml:"enabled"`
	LookbackDays   int     `yaml:"lookback_days"`
	VolumeRatioMin float64 `yaml:"volume_ratio_min"`
	RequireNewHigh bool    `yaml:"require_new_high"`
}

// ReentryConfig governs when a previously exited instrument may re-enter.
type ReentryConfig struct {
	Enabled        bool               `yaml:"enabled"`
	MinProfitR     float64            `yaml:"min_profit_r"`
	CooldownDays   int                `yaml:"cooldown_days"`
	RequireNewHigh bool               `yaml:"require_new_high"`
	Whipsaw        WhipsawConfig      `yaml:"whipsaw"`
	FastFollower   FastFollowerConfig `yaml:"fast_follower"`
}

// CapStage is one row of the position-count-staged cap schedule.
type CapStage struct {
	Name               string  `yaml:"name"`
	MinPositions       int     `yaml:"min_positions"`
	MaxPositionPctCore float64 `yaml:"max_position_pct_core"`
	MaxPositionPctETF  float64 `yaml:"max_position_pct_etf"`
	MaxPositionPctHigh float64 `yaml:"max_position_pct_high_risk"`
	MaxSleeveCore      float64 `yaml:"max_sleeve_core"`
	MaxSleeveETF       float64 `yaml:"max_sleeve_etf"`
	MaxSleeveHigh      float64 `yaml:"max_sleeve_high_risk"`
}

// RiskConfig holds portfolio-level budgets and concentration limits.
type RiskConfig struct {
	RiskPerTradePct       float64    `yaml:"risk_per_trade_pct"`
	MaxPositions          int        `yaml:"max_positions"`
	MaxOpenRiskBase       float64    `yaml:"max_open_risk_base"`
	MaxOpenRiskExpansion  float64    `yaml:"max_open_risk_expansion"`
	ExpansionEnabled      bool       `yaml:"expansion_enabled"`
	ADXExpansionThreshold float64    `yaml:"adx_expansion_threshold"`
	ATRSpikeExpansionMax  float64    `yaml:"atr_spike_expansion_max"`
	MaxClusterPct         float64    `yaml:"max_cluster_pct"`
	MaxSuperClusterPct    float64    `yaml:"max_super_cluster_pct"`
	GapBufferStock        float64    `yaml:"gap_buffer_stock"`
	GapBufferETF          float64    `yaml:"gap_buffer_etf"`
	Stages                []CapStage `yaml:"stages"`
	SwapEnabled           bool       `yaml:"swap_enabled"`
	SwapClusterCapUtil    float64    `yaml:"swap_cluster_cap_util"`
}

// StageFor returns the cap stage matching the current held-position count.
// Stages must be ordered ascending by MinPositions; the last match wins.
func (r RiskConfig) StageFor(positions int) CapStage {
	stage := r.Stages[0]
	for _, s := range r.Stages {
		if positions >= s.MinPositions {
			stage = s
		}
	}
	return stage
}

// RankConfig tunes the deterministic ranking tie-breaks.
type RankConfig struct {
	EfficiencyBoostThreshold   float64 `yaml:"efficiency_boost_threshold"`
	EfficiencyPenaltyThreshold float64 `yaml:"efficiency_penalty_threshold"`
	RSEnabled                  bool    `yaml:"rs_enabled"`
	RSPriorityCount            int     `yaml:"rs_priority_count"`
}

// BreadthConfig is the market-breadth safety valve.
type BreadthConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ThresholdPct        float64 `yaml:"threshold_pct"`
	ReducedMaxPositions int     `yaml:"reduced_max_positions"`
}

// HeatConfig is the cluster concentration quality filter.
type HeatConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ClusterThreshold int     `yaml:"cluster_threshold"`
	MomentumPremium  float64 `yaml:"momentum_premium"`
}

// ClimaxConfig controls parabolic-top handling for held positions.
type ClimaxConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MAExtensionPct float64 `yaml:"ma_extension_pct"`
	VolumeMult     float64 `yaml:"volume_mult"`
	Action         string  `yaml:"action"` // "trim"|"tighten_stop"|"sell"
	ATRTightenMult float64 `yaml:"atr_tighten_mult"`
	TrimPct        float64 `yaml:"trim_pct"`
}

// LaggardConfig flags stale losers for replacement.
type LaggardConfig struct {
	Enabled     bool    `yaml:"enabled"`
	HoldingDays int     `yaml:"holding_days"`
	MinLossPct  float64 `yaml:"min_loss_pct"`
}

// ExecGuardConfig blocks chasing entries far above the trigger.
type ExecGuardConfig struct {
	Enabled            bool    `yaml:"enabled"`
	MaxATRAboveTrigger float64 `yaml:"max_atr_above_trigger"`
	MaxPctAboveTrigger float64 `yaml:"max_pct_above_trigger"`
}

// Default returns the full default configuration. Values mirror the tuned
// production parameter set; any of them can be overridden from YAML.
func Default() Config {
	return Config{
		Indicators: IndicatorConfig{
			ADXPeriod:          14,
			ATRPeriod:          14,
			HighLookbackShort:  20,
			HighLookbackLong:   55,
			LowLookback:        20,
			VolumeLookback:     20,
			EfficiencyLookback: 20,
			ReturnLookbackDays: 63,
			TRCapPercentile:    0.95,
			ATRSpikeFactor:     1.30,
			ETFATRFallbackPct:  0.03,
			MinBars:            230,
			MaxDataAgeDays:     5,
		},
		Cleaning: CleaningConfig{
			ETFRepairThreshold:   0.08,
			StockWarnFloor:       0.25,
			StockWarnMult:        8,
			StockBlockFloor:      0.35,
			StockBlockMult:       14,
			MedianReturnLookback: 20,
			SpikeCountBlock:      2,
		},
		Regime: RegimeConfig{
			MAPeriod:         200,
			BandPct:          0.02,
			StabilityEnabled: true,
			StabilityDays:    3,
			MinBars:          210,
			MaxDataAgeDays:   5,
		},
		Classify: ClassifyConfig{
			DistReadyPct:          2.0,
			DistWatchPct:          3.0,
			RangePosBottom:        0.15,
			RangePosMid:           0.35,
			ADXTrendThreshold:     20,
			ADXStrongTrend:        18,
			DirectionFilter:       true,
			ATRPctCapEnabled:      true,
			ATRPctCapStock:        0.08,
			ATRPctCapHighRisk:     0.07,
			ExtensionATRThreshold: 0.5,
			MinDollarVolETF:       2_500_000,
			MinDollarVolStock:     10_000_000,
			MegaCapDollarVol:      1_000_000_000,
			LargeCapDollarVol:     100_000_000,
			VolThresholdMega:      0.8,
			VolThresholdLarge:     1.0,
			VolThresholdMid:       1.2,
			BullishVolBonus:       0.2,
			ChasingPenalty:        0.3,
			ChasingDistPct:        1.0,
			VolThresholdFloor:     0.5,
			RangeBreakoutVolMin:   0.8,
			StopATRMult:           2.0,
			EfficiencyGateEnabled: true,
			EfficiencyMinForReady: 0.30,
			EarlyBird: EarlyBirdConfig{
				Enabled:        true,
				RangeThreshold: 0.90,
				VolumeRatioMin: 1.5,
				ADXMin:         15,
			},
			Buffer: BufferConfig{
				Mode:              "adaptive",
				FixedMult:         0.10,
				AdaptiveIntercept: 0.18,
				AdaptiveSlope:     0.60,
				FallbackMult:      0.08,
				Min:               0.05,
				Max:               0.20,
			},
		},
		Stops: StopConfig{
			ProfitProtectionEnabled: true,
			Lock1RThresholdR:        3.0,
			LockHalfRThresholdR:     2.5,
			BreakevenTriggerR:       1.5,
			BreakevenMode:           "none",
			BreakevenADXMin:         20,
			BreakevenMinHoldDays:    5,
			ChopTighteningMult:      1.5,
			TrailingATRMult:         2.0,
		},
		Pyramid: PyramidConfig{
			AddLimit: 2,
			Add1ATR:  0.5,
			Add2ATR:  1.0,
		},
		Reentry: ReentryConfig{
			Enabled:        true,
			MinProfitR:     0.5,
			CooldownDays:   5,
			RequireNewHigh: true,
			Whipsaw: WhipsawConfig{
				Enabled:      true,
				MemoryDays:   30,
				PenaltyDays:  60,
				TriggerCount: 2,
			},
			FastFollower: FastFollowerConfig{
				Enabled:        true,
				LookbackDays:   10,
				VolumeRatioMin: 2.0,
				RequireNewHigh: true,
			},
		},
		Risk: RiskConfig{
			RiskPerTradePct:       0.0075,
			MaxPositions:          8,
			MaxOpenRiskBase:       0.07,
			MaxOpenRiskExpansion:  0.085,
			ExpansionEnabled:      true,
			ADXExpansionThreshold: 25,
			ATRSpikeExpansionMax:  0.50,
			MaxClusterPct:         0.35,
			MaxSuperClusterPct:    0.50,
			GapBufferStock:        1.15,
			GapBufferETF:          1.05,
			Stages: []CapStage{
				{
					Name:               "BUILDING",
					MinPositions:       0,
					MaxPositionPctCore: 0.18,
					MaxPositionPctETF:  0.20,
					MaxPositionPctHigh: 0.12,
					MaxSleeveCore:      0.80,
					MaxSleeveETF:       0.80,
					MaxSleeveHigh:      0.40,
				},
				{
					Name:               "MID_STAGE",
					MinPositions:       5,
					MaxPositionPctCore: 0.15,
					MaxPositionPctETF:  0.18,
					MaxPositionPctHigh: 0.10,
					MaxSleeveCore:      0.70,
					MaxSleeveETF:       0.60,
					MaxSleeveHigh:      0.30,
				},
				{
					Name:               "MATURE",
					MinPositions:       8,
					MaxPositionPctCore: 0.12,
					MaxPositionPctETF:  0.15,
					MaxPositionPctHigh: 0.08,
					MaxSleeveCore:      0.60,
					MaxSleeveETF:       0.50,
					MaxSleeveHigh:      0.25,
				},
			},
			SwapEnabled:        true,
			SwapClusterCapUtil: 0.90,
		},
		Rank: RankConfig{
			EfficiencyBoostThreshold:   0.45,
			EfficiencyPenaltyThreshold: 0.30,
			RSEnabled:                  true,
			RSPriorityCount:            5,
		},
		Breadth: BreadthConfig{
			Enabled:             true,
			ThresholdPct:        0.40,
			ReducedMaxPositions: 4,
		},
		Heat: HeatConfig{
			Enabled:          true,
			ClusterThreshold: 3,
			MomentumPremium:  0.20,
		},
		Climax: ClimaxConfig{
			Enabled:        true,
			MAExtensionPct: 0.18,
			VolumeMult:     3.0,
			Action:         "trim",
			ATRTightenMult: 1.5,
			TrimPct:        0.50,
		},
		Laggard: LaggardConfig{
			Enabled:     true,
			HoldingDays: 10,
			MinLossPct:  2.0,
		},
		ExecGuard: ExecGuardConfig{
			Enabled:            true,
			MaxATRAboveTrigger: 0.75,
			MaxPctAboveTrigger: 0.03,
		},
	}
}

// Validate enforces coherence between related parameters. A config that
// passes Validate cannot produce cap inversion or contradictory pyramiding.
func (c Config) Validate() error {
	if c.Risk.RiskPerTradePct <= 0 {
		return fmt.Errorf("risk_per_trade_pct must be positive, got %v", c.Risk.RiskPerTradePct)
	}
	if c.Laggard.MinLossPct < 0 {
		return fmt.Errorf("laggard min_loss_pct is negative (%v); loss is expressed positive when underwater", c.Laggard.MinLossPct)
	}
	if len(c.Risk.Stages) == 0 {
		return fmt.Errorf("risk.stages must not be empty")
	}
	prev := -1
	for _, s := range c.Risk.Stages {
		if s.MinPositions <= prev {
			return fmt.Errorf("risk.stages must be ordered ascending by min_positions")
		}
		prev = s.MinPositions

		// Per-position caps must sit strictly below the enclosing cluster
		// and super-cluster caps, otherwise a single position could never
		// reach its own cap (the cap-inversion failure mode).
		for name, pos := range map[string]float64{
			"core": s.MaxPositionPctCore, "etf": s.MaxPositionPctETF, "high_risk": s.MaxPositionPctHigh,
		} {
			if pos >= c.Risk.MaxClusterPct {
				return fmt.Errorf("stage %s: %s position cap %.2f >= cluster cap %.2f (inversion)", s.Name, name, pos, c.Risk.MaxClusterPct)
			}
			if pos >= c.Risk.MaxSuperClusterPct {
				return fmt.Errorf("stage %s: %s position cap %.2f >= super-cluster cap %.2f (inversion)", s.Name, name, pos, c.Risk.MaxSuperClusterPct)
			}
		}
	}
	switch c.Stops.BreakevenMode {
	case "none", "trend_only", "after_days":
	default:
		return fmt.Errorf("unknown breakeven_mode %q", c.Stops.BreakevenMode)
	}
	switch c.Climax.Action {
	case "trim", "tighten_stop", "sell":
	default:
		return fmt.Errorf("unknown climax action %q", c.Climax.Action)
	}
	switch c.Classify.Buffer.Mode {
	case "fixed", "adaptive":
	default:
		return fmt.Errorf("unknown buffer mode %q", c.Classify.Buffer.Mode)
	}
	if c.Risk.MaxOpenRiskExpansion < c.Risk.MaxOpenRiskBase {
		return fmt.Errorf("max_open_risk_expansion %.3f below base %.3f", c.Risk.MaxOpenRiskExpansion, c.Risk.MaxOpenRiskBase)
	}
	return nil
}
