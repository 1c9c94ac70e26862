package pyramid

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
	"github.com/sawpanic/trendscan/internal/state"
)

func snapAt(close float64) *domain.IndicatorSnapshot {
	return &domain.IndicatorSnapshot{Symbol: "ACME", Close: close, ATR: 2.0}
}

func trackedState(adds int) state.PositionState {
	return state.PositionState{Symbol: "ACME", EntryPrice: 100, InitialStop: 95, AddsTaken: adds}
}

func TestEvaluateFirstAdd(t *testing.T) {
	eng := NewEngine(config.Default().Pyramid)

	// Levels: entry + 0.5 ATR = 101, entry + 1.0 ATR = 102.
	sig := eng.Evaluate(snapAt(101), domain.RegimeTrend, trackedState(0), true)
	assert.True(t, sig.Eligible)
	assert.Equal(t, ActionAdd, sig.Action)
	assert.InDelta(t, 101.0, sig.Level1, 1e-9)
	assert.InDelta(t, 102.0, sig.Level2, 1e-9)

	sig = eng.Evaluate(snapAt(100.5), domain.RegimeTrend, trackedState(0), true)
	assert.Equal(t, ActionWait, sig.Action)
}

func TestEvaluateSecondAddNeedsHigherLevel(t *testing.T) {
	eng := NewEngine(config.Default().Pyramid)

	sig := eng.Evaluate(snapAt(101.5), domain.RegimeTrend, trackedState(1), true)
	assert.Equal(t, ActionWait, sig.Action)

	sig = eng.Evaluate(snapAt(102), domain.RegimeTrend, trackedState(1), true)
	assert.Equal(t, ActionAdd, sig.Action)
}

func TestEvaluateMaxAddsHold(t *testing.T) {
	eng := NewEngine(config.Default().Pyramid)
	sig := eng.Evaluate(snapAt(110), domain.RegimeTrend, trackedState(2), true)

	assert.Equal(t, ActionHold, sig.Action)
	assert.Contains(t, sig.Reason, "max adds")
}

func TestEvaluateRequiresTrend(t *testing.T) {
	eng := NewEngine(config.Default().Pyramid)
	for _, regime := range []domain.Regime{domain.RegimeRange, domain.RegimeAvoid, domain.RegimeNone} {
		sig := eng.Evaluate(snapAt(110), regime, trackedState(0), true)
		assert.False(t, sig.Eligible, regime.String())
		assert.Equal(t, ActionNone, sig.Action)
	}
}

func TestEvaluateDisabled(t *testing.T) {
	cfg := config.Default().Pyramid
	cfg.AddLimit = 0
	eng := NewEngine(cfg)

	sig := eng.Evaluate(snapAt(110), domain.RegimeTrend, trackedState(0), true)
	assert.False(t, sig.Eligible)
	assert.Contains(t, sig.Reason, "disabled")
}

func TestEvaluateNoStateOrATR(t *testing.T) {
	eng := NewEngine(config.Default().Pyramid)

	sig := eng.Evaluate(snapAt(110), domain.RegimeTrend, state.PositionState{}, false)
	assert.False(t, sig.Eligible)

	snap := snapAt(110)
	snap.ATR = 0
	sig = eng.Evaluate(snap, domain.RegimeTrend, trackedState(0), true)
	assert.False(t, sig.Eligible)
}
