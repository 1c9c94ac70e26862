// Package metrics exposes run-level Prometheus instrumentation: how often
// scans run, how long they take, what the engine decided and how much risk
// the book is carrying.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set is the full collector set, registered on its own registry so tests can
// create as many as they like.
type Set struct {
	registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	SymbolsScanned prometheus.Counter
	SymbolErrors   *prometheus.CounterVec
	FetchCacheHits prometheus.Counter

	StatusCounts    *prometheus.GaugeVec
	MarketRegime    *prometheus.GaugeVec
	OpenRiskPct     prometheus.Gauge
	PositionsHeld   prometheus.Gauge
	BreadthPct      prometheus.Gauge
	BlockedEntries  *prometheus.CounterVec
	WhipsawBlocks   prometheus.Counter
	StopTightenings prometheus.Counter
}

// New builds and registers the collector set.
func New() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Set{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trendscan",
			Name:      "runs_total",
			Help:      "Completed scan runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trendscan",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full scan run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		SymbolsScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trendscan",
			Name:      "symbols_scanned_total",
			Help:      "Symbols processed across all runs.",
		}),
		SymbolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trendscan",
			Name:      "symbol_errors_total",
			Help:      "Per-symbol failures by kind (fetch, history, stale).",
		}, []string{"kind"}),
		FetchCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trendscan",
			Name:      "fetch_cache_hits_total",
			Help:      "Bar fetches served from the cache.",
		}),
		StatusCounts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trendscan",
			Name:      "status_count",
			Help:      "Instruments by entry status in the latest run.",
		}, []string{"status"}),
		MarketRegime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trendscan",
			Name:      "market_regime",
			Help:      "One-hot market regime of the latest run.",
		}, []string{"regime"}),
		OpenRiskPct: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "trendscan",
			Name:      "open_risk_pct",
			Help:      "Open risk ex-hedge as a fraction of equity.",
		}),
		PositionsHeld: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "trendscan",
			Name:      "positions_held",
			Help:      "Held positions ex-hedge in the latest run.",
		}),
		BreadthPct: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "trendscan",
			Name:      "market_breadth_pct",
			Help:      "Share of the universe above its 50-day mean.",
		}),
		BlockedEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trendscan",
			Name:      "blocked_entries_total",
			Help:      "Candidate entries blocked, by reason.",
		}, []string{"reason"}),
		WhipsawBlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trendscan",
			Name:      "whipsaw_blocks_total",
			Help:      "Entries suppressed by the whipsaw kill switch.",
		}),
		StopTightenings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trendscan",
			Name:      "stop_tightenings_total",
			Help:      "Runs that raised an active stop.",
		}),
	}
}

// SetMarketRegime sets the one-hot regime gauges.
func (s *Set) SetMarketRegime(current string) {
	for _, r := range []string{"BULLISH", "BEARISH", "SIDEWAYS", "UNKNOWN"} {
		v := 0.0
		if r == current {
			v = 1.0
		}
		s.MarketRegime.WithLabelValues(r).Set(v)
	}
}

// Handler serves the registry in Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom servers.
func (s *Set) Registry() *prometheus.Registry { return s.registry }
