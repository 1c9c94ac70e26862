package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	s := New()

	s.RunsTotal.WithLabelValues("ok").Inc()
	s.SymbolsScanned.Add(42)
	s.OpenRiskPct.Set(0.055)
	s.StatusCounts.WithLabelValues("READY").Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.RunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 42.0, testutil.ToFloat64(s.SymbolsScanned))
	assert.Equal(t, 0.055, testutil.ToFloat64(s.OpenRiskPct))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.StatusCounts.WithLabelValues("READY")))
}

func TestSetMarketRegimeIsOneHot(t *testing.T) {
	s := New()
	s.SetMarketRegime("BULLISH")

	assert.Equal(t, 1.0, testutil.ToFloat64(s.MarketRegime.WithLabelValues("BULLISH")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.MarketRegime.WithLabelValues("BEARISH")))

	// Switching regimes clears the previous one.
	s.SetMarketRegime("SIDEWAYS")
	assert.Equal(t, 0.0, testutil.ToFloat64(s.MarketRegime.WithLabelValues("BULLISH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.MarketRegime.WithLabelValues("SIDEWAYS")))
}

func TestHandlerServesExposition(t *testing.T) {
	s := New()
	s.RunsTotal.WithLabelValues("ok").Inc()
	s.BreadthPct.Set(0.62)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `trendscan_runs_total{outcome="ok"} 1`))
	assert.True(t, strings.Contains(body, "trendscan_market_breadth_pct 0.62"))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.SymbolsScanned.Add(5)

	assert.Equal(t, 5.0, testutil.ToFloat64(a.SymbolsScanned))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SymbolsScanned))
}
