// Package datasource defines the daily-bar provider contract and the guard
// decorator every remote provider runs behind: a token-bucket rate limit, a
// circuit breaker, and a Redis read-through so a re-run on the same day costs
// nothing upstream.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/trendscan/internal/cache"
	"github.com/sawpanic/trendscan/internal/domain"
)

// BarSource provides daily OHLCV history for one symbol, oldest bar first.
type BarSource interface {
	DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]domain.PriceBar, error)
}

// ErrCircuitOpen is returned while the provider breaker is tripped.
var ErrCircuitOpen = errors.New("datasource circuit open")

// GuardOptions tunes the decorator. Zero values get sane defaults.
type GuardOptions struct {
	RequestsPerSecond   float64
	Burst               int
	ConsecutiveFailures uint32
	BreakerTimeout      time.Duration
}

func (o GuardOptions) withDefaults() GuardOptions {
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 4
	}
	if o.Burst <= 0 {
		o.Burst = 8
	}
	if o.ConsecutiveFailures == 0 {
		o.ConsecutiveFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	return o
}

// Guarded wraps a BarSource with the protective middleware. The cache is
// optional; with a nil cache every call goes upstream.
type Guarded struct {
	src        BarSource
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cache      *cache.Cache
	asOf       func() time.Time
	onCacheHit func()
	log        zerolog.Logger
}

// OnCacheHit registers a callback fired on every cache hit, typically a
// metrics counter.
func (g *Guarded) OnCacheHit(fn func()) {
	g.onCacheHit = fn
}

func NewGuarded(src BarSource, c *cache.Cache, opts GuardOptions, log zerolog.Logger) *Guarded {
	opts = opts.withDefaults()
	logger := log.With().Str("component", "datasource").Logger()

	settings := gobreaker.Settings{Name: "bar_source"}
	settings.Timeout = opts.BreakerTimeout
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("bar source breaker state change")
	}

	return &Guarded{
		src:     src,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		cache:   c,
		asOf:    func() time.Time { return time.Now().UTC() },
		log:     logger,
	}
}

// DailyBars serves from cache when possible, otherwise rate-limits and runs
// the upstream call through the breaker. Successful fetches are cached; a
// cache write failure is logged, never fatal.
func (g *Guarded) DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]domain.PriceBar, error) {
	asOf := g.asOf()

	if g.cache != nil {
		if bars, ok, err := g.cache.GetBars(ctx, symbol, asOf); err != nil {
			g.log.Warn().Str("symbol", symbol).Err(err).Msg("cache read failed, going upstream")
		} else if ok {
			if g.onCacheHit != nil {
				g.onCacheHit()
			}
			return bars, nil
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", symbol, err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.src.DailyBars(ctx, symbol, lookbackDays)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}
	bars := result.([]domain.PriceBar)

	if g.cache != nil && len(bars) > 0 {
		if err := g.cache.SetBars(ctx, symbol, asOf, bars); err != nil {
			g.log.Warn().Str("symbol", symbol).Err(err).Msg("cache write failed")
		}
	}
	return bars, nil
}
