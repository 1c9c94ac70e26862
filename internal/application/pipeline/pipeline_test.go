package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/domain"
	"github.com/sawpanic/trendscan/internal/state"
	"github.com/sawpanic/trendscan/internal/universe"
)

type stubSource struct {
	bars map[string][]domain.PriceBar
	errs map[string]error
}

func (s *stubSource) DailyBars(_ context.Context, symbol string, _ int) ([]domain.PriceBar, error) {
	if err := s.errs[symbol]; err != nil {
		return nil, err
	}
	bars, ok := s.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("no data for %s", symbol)
	}
	return bars, nil
}

func barsFromCloses(closes []float64, volume float64, end time.Time) []domain.PriceBar {
	bars := make([]domain.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.PriceBar{
			Date:   end.AddDate(0, 0, i-len(closes)+1),
			Open:   c * 0.995,
			High:   c * 1.005,
			Low:    c * 0.99,
			Close:  c,
			Volume: volume,
		}
	}
	return bars
}

func trendingCloses(n int, start, dailyGain float64) []float64 {
	closes := make([]float64, n)
	c := start
	for i := range closes {
		closes[i] = c
		c *= 1 + dailyGain
	}
	return closes
}

func testUniverse() *universe.Universe {
	return &universe.Universe{
		Name:      "test",
		Benchmark: "SPY",
		Instruments: []domain.Instrument{
			{Symbol: "ACME", Sleeve: domain.SleeveStockCore, Cluster: "SEMIS", SuperCluster: "TECH"},
			{Symbol: "GLD", Sleeve: domain.SleeveHedge, Cluster: "HEDGE", SuperCluster: "HEDGE"},
		},
	}
}

func testSource(now time.Time) *stubSource {
	up := barsFromCloses(trendingCloses(300, 100, 0.004), 5e6, now)
	return &stubSource{
		bars: map[string][]domain.PriceBar{
			"SPY":  up,
			"ACME": up,
			"GLD":  up,
		},
		errs: map[string]error{},
	}
}

func testEngine(src *stubSource, repo state.Repository) *Engine {
	return New(config.Default(), Deps{
		Universe: testUniverse(),
		Source:   src,
		Repo:     repo,
	}, zerolog.Nop())
}

func TestRunCompletesOnBullishMarket(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine(testSource(now), state.NewMemoryRepository())

	res, err := e.Run(context.Background(), domain.Portfolio{Equity: 100_000, Cash: 100_000})
	require.NoError(t, err)

	assert.Equal(t, domain.MarketBullish, res.Market)
	assert.Equal(t, "SPY", res.Primary.Symbol)
	require.Len(t, res.Rows, 2)
	assert.Empty(t, res.Skips)

	for _, r := range res.Rows {
		require.NotNil(t, r.Snapshot, r.Instrument.Symbol)
		require.NotNil(t, r.Risk, r.Instrument.Symbol)
		assert.NotEmpty(t, r.Decision.Reason, r.Instrument.Symbol)
	}

	// Everything trends above its MA50, so the breadth valve stays open.
	assert.InDelta(t, 1.0, res.Breadth.Pct, 1e-9)
	assert.True(t, res.Breadth.Healthy)
	assert.Equal(t, config.Default().Risk.MaxPositions, res.Breadth.EffectiveMaxPos)

	card := res.Card.Render()
	assert.Contains(t, card, res.RunID)
	assert.Contains(t, card, "BULLISH")
}

func TestSnapshotEncodesCleanly(t *testing.T) {
	now := time.Now().UTC()
	e := testEngine(testSource(now), state.NewMemoryRepository())

	res, err := e.Run(context.Background(), domain.Portfolio{Equity: 100_000})
	require.NoError(t, err)

	snap := res.Snapshot()
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, res.RunID, snap.RunID)

	// NaN sentinels must not leak into the persisted form.
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"`+res.RunID)
}

func TestRunSkipsFailedSymbol(t *testing.T) {
	now := time.Now().UTC()
	src := testSource(now)
	src.errs["ACME"] = fmt.Errorf("upstream down")
	e := testEngine(src, state.NewMemoryRepository())

	res, err := e.Run(context.Background(), domain.Portfolio{Equity: 100_000})
	require.NoError(t, err)

	require.Len(t, res.Skips, 1)
	assert.Equal(t, "ACME", res.Skips[0].Symbol)
	assert.Contains(t, res.Skips[0].Reason, "fetch failed")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "GLD", res.Rows[0].Instrument.Symbol)
}

func TestRunFailsWithoutBenchmark(t *testing.T) {
	now := time.Now().UTC()
	src := testSource(now)
	src.errs["SPY"] = fmt.Errorf("upstream down")
	e := testEngine(src, state.NewMemoryRepository())

	_, err := e.Run(context.Background(), domain.Portfolio{Equity: 100_000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch benchmark SPY")
}

func TestBearishMarketBlocksNewEntries(t *testing.T) {
	now := time.Now().UTC()
	src := testSource(now)
	src.bars["SPY"] = barsFromCloses(trendingCloses(300, 400, -0.004), 5e6, now)
	e := testEngine(src, state.NewMemoryRepository())

	res, err := e.Run(context.Background(), domain.Portfolio{Equity: 100_000})
	require.NoError(t, err)

	assert.NotEqual(t, domain.MarketBullish, res.Market)
	for _, r := range res.Rows {
		if !r.IsHeld {
			assert.NotEqual(t, domain.StatusReady, r.Decision.Status,
				"%s must not be READY outside a bullish market", r.Instrument.Symbol)
		}
	}
}

func TestHeldPositionIsManagedAndPersisted(t *testing.T) {
	now := time.Now().UTC()
	repo := state.NewMemoryRepository()
	e := testEngine(testSource(now), repo)

	portfolio := domain.Portfolio{
		Equity: 100_000,
		Cash:   50_000,
		Positions: []domain.Position{
			{Symbol: "ACME", Quantity: 100, AvgPrice: 200, FXRate: 1},
		},
	}
	res, err := e.Run(context.Background(), portfolio)
	require.NoError(t, err)

	var held *Row
	for _, r := range res.Rows {
		if r.Instrument.Symbol == "ACME" {
			held = r
		}
	}
	require.NotNil(t, held)
	require.True(t, held.IsHeld)

	// A steady uptrend well above the stop is a plain hold.
	assert.Equal(t, domain.ActionHold, held.HeldAction)
	assert.True(t, domain.IsFinite(held.Stops.ActiveStop))
	assert.Less(t, held.Stops.ActiveStop, held.Snapshot.Close)

	// Stop memory must survive the run.
	st, ok, err := repo.Get(context.Background(), "ACME")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ACME", st.Symbol)
	assert.True(t, domain.IsFinite(st.ActiveStop))
}

func TestClosedPositionRecordsExit(t *testing.T) {
	now := time.Now().UTC()
	repo := state.NewMemoryRepository()
	entry := now.AddDate(0, 0, -40)
	repo.Seed(state.PositionState{
		Symbol:      "ACME",
		EntryPrice:  90,
		InitialStop: 85,
		ActiveStop:  95,
		EntryDate:   &entry,
	})
	e := testEngine(testSource(now), repo)

	// ACME is tracked but the portfolio no longer holds it.
	_, err := e.Run(context.Background(), domain.Portfolio{Equity: 100_000})
	require.NoError(t, err)

	st, ok, err := repo.Get(context.Background(), "ACME")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, st.HasOpenState(), "open stop memory should be cleared after the exit is recorded")
	assert.NotNil(t, st.LastExitDate)
}

func TestWhipsawBlockSurvivesFastFollowerSetup(t *testing.T) {
	now := time.Now().UTC()
	exit := now.AddDate(0, 0, -5)
	repo := state.NewMemoryRepository()
	repo.Seed(state.PositionState{
		Symbol:          "ACME",
		LastExitDate:    &exit,
		LastExitReason:  "STOP_HIT",
		WhipsawCount:    2,
		LastWhipsawDate: &exit,
	})

	// ACME closes at its 20d high on a volume spike, the textbook squeeze
	// re-entry, but two stop-hits inside the penalty window keep it blocked.
	src := testSource(now)
	acme := barsFromCloses(trendingCloses(300, 100, 0.004), 5e6, now)
	acme[len(acme)-1].Volume = 20e6
	src.bars["ACME"] = acme

	res, err := testEngine(src, repo).Run(context.Background(), domain.Portfolio{Equity: 100_000})
	require.NoError(t, err)
	require.Equal(t, domain.MarketBullish, res.Market)

	var row *Row
	for _, r := range res.Rows {
		if r.Instrument.Symbol == "ACME" {
			row = r
		}
	}
	require.NotNil(t, row)

	assert.True(t, row.Whipsaw.Blocked)
	assert.False(t, row.FastFollower.Eligible)
	assert.NotEqual(t, domain.StatusReady, row.Decision.Status)
}
