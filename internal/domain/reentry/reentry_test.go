package reentry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
	"github.com/sawpanic/trendscan/internal/state"
)

var today = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	d := today.AddDate(0, 0, -n)
	return &d
}

func testGovernor() *Governor {
	return NewGovernor(config.Default().Reentry)
}

func TestWhipsawBlockInsidePenalty(t *testing.T) {
	st := state.PositionState{Symbol: "ACME", WhipsawCount: 2, LastWhipsawDate: daysAgo(10)}
	v := testGovernor().CheckWhipsaw(st, true, today)

	assert.True(t, v.Blocked)
	assert.Equal(t, 2, v.Count)
	assert.Contains(t, v.Reason, "penalty remaining")
}

func TestWhipsawPenaltyExpires(t *testing.T) {
	st := state.PositionState{Symbol: "ACME", WhipsawCount: 2, LastWhipsawDate: daysAgo(61)}
	v := testGovernor().CheckWhipsaw(st, true, today)

	assert.False(t, v.Blocked)
	assert.Contains(t, v.Reason, "expired")
	// The count itself never resets.
	assert.Equal(t, 2, v.Count)
}

func TestWhipsawBelowTriggerCount(t *testing.T) {
	st := state.PositionState{Symbol: "ACME", WhipsawCount: 1, LastWhipsawDate: daysAgo(5)}
	v := testGovernor().CheckWhipsaw(st, true, today)
	assert.False(t, v.Blocked)
}

func TestReentryAfterProfitableExit(t *testing.T) {
	st := state.PositionState{
		Symbol:          "ACME",
		LastExitDate:    daysAgo(7),
		LastExitProfitR: 1.2,
		LastExitReason:  "STOP_HIT",
	}
	v := testGovernor().CheckReentry(st, true, today)

	assert.True(t, v.Eligible)
	assert.Contains(t, v.Reason, "re-entry ok")
}

func TestReentryProfitTooLow(t *testing.T) {
	st := state.PositionState{Symbol: "ACME", LastExitDate: daysAgo(7), LastExitProfitR: 0.2}
	v := testGovernor().CheckReentry(st, true, today)

	assert.False(t, v.Eligible)
	assert.Contains(t, v.Reason, "too low")
}

func TestReentryCooldown(t *testing.T) {
	st := state.PositionState{Symbol: "ACME", LastExitDate: daysAgo(3), LastExitProfitR: 1.0}
	v := testGovernor().CheckReentry(st, true, today)

	assert.False(t, v.Eligible)
	assert.Contains(t, v.Reason, "cooldown")
}

func TestWhipsawTakesPrecedenceOverReentry(t *testing.T) {
	// Profitable exit, cooldown passed, but the kill switch is live: the
	// block must win.
	st := state.PositionState{
		Symbol:          "ACME",
		LastExitDate:    daysAgo(10),
		LastExitProfitR: 1.5,
		WhipsawCount:    2,
		LastWhipsawDate: daysAgo(10),
	}
	v := testGovernor().CheckReentry(st, true, today)

	assert.False(t, v.Eligible)
	assert.Contains(t, v.Reason, "whipsaw blocked")
}

func TestWhipsawTakesPrecedenceOverFastFollower(t *testing.T) {
	// Textbook squeeze setup: stop-hit 5d ago, back at the 20d high on heavy
	// volume. Two strikes inside the penalty window still keep it blocked.
	snap := &domain.IndicatorSnapshot{Close: 105, High20: 104, VolRatio: 2.5}
	st := state.PositionState{
		Symbol:          "ACME",
		LastExitDate:    daysAgo(5),
		LastExitReason:  "STOP_HIT",
		WhipsawCount:    2,
		LastWhipsawDate: daysAgo(5),
	}
	v := testGovernor().CheckFastFollower(snap, st, true, false, today)

	assert.False(t, v.Eligible)
	assert.Contains(t, v.Reason, "whipsaw blocked")
}

func TestFastFollowerSqueeze(t *testing.T) {
	snap := &domain.IndicatorSnapshot{Close: 105, High20: 104, VolRatio: 2.4}
	st := state.PositionState{
		Symbol:         "ACME",
		LastExitDate:   daysAgo(4),
		LastExitReason: "STOP_HIT",
	}
	v := testGovernor().CheckFastFollower(snap, st, true, false, today)

	assert.True(t, v.Eligible)
	assert.Contains(t, v.Reason, "squeeze")
}

func TestFastFollowerRequirements(t *testing.T) {
	base := state.PositionState{Symbol: "ACME", LastExitDate: daysAgo(4), LastExitReason: "STOP_HIT"}
	g := testGovernor()

	// Too long since the stop-hit.
	st := base
	st.LastExitDate = daysAgo(15)
	v := g.CheckFastFollower(&domain.IndicatorSnapshot{Close: 105, High20: 104, VolRatio: 2.4}, st, true, false, today)
	assert.False(t, v.Eligible)

	// Not back at the high.
	v = g.CheckFastFollower(&domain.IndicatorSnapshot{Close: 100, High20: 104, VolRatio: 2.4}, base, true, false, today)
	assert.False(t, v.Eligible)

	// Volume too thin.
	v = g.CheckFastFollower(&domain.IndicatorSnapshot{Close: 105, High20: 104, VolRatio: 1.2}, base, true, false, today)
	assert.False(t, v.Eligible)

	// Wrong exit reason.
	st = base
	st.LastExitReason = "CLIMAX"
	v = g.CheckFastFollower(&domain.IndicatorSnapshot{Close: 105, High20: 104, VolRatio: 2.4}, st, true, false, today)
	assert.False(t, v.Eligible)

	// Still held.
	v = g.CheckFastFollower(&domain.IndicatorSnapshot{Close: 105, High20: 104, VolRatio: 2.4}, base, true, true, today)
	assert.False(t, v.Eligible)
}

func TestRecordStopExit(t *testing.T) {
	g := testGovernor()
	st := state.PositionState{Symbol: "ACME", EntryPrice: 100, InitialStop: 95, ActiveStop: 98}

	g.RecordStopExit(&st, -1.0, today)

	assert.Equal(t, 1, st.WhipsawCount)
	assert.NotNil(t, st.LastWhipsawDate)
	assert.Equal(t, "STOP_HIT", st.LastExitReason)
	assert.False(t, st.HasOpenState())

	// A profitable stop-hit is not a whipsaw strike.
	st2 := state.PositionState{Symbol: "GOOD", EntryPrice: 100, InitialStop: 95}
	g.RecordStopExit(&st2, 1.5, today)
	assert.Equal(t, 0, st2.WhipsawCount)
	assert.Nil(t, st2.LastWhipsawDate)
}
