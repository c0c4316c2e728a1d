// Package rates resolves USD/RUB conversion rates. Lookups never fail:
// live sources are tried first, then the last good rate from the cache,
// then a configured default, and finally the quote is marked unavailable.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjannette/p2p-ledger/internal/cache"
	"github.com/kjannette/p2p-ledger/internal/models"
)

// ErrUnavailable is returned by providers that cannot quote a pair right now.
var ErrUnavailable = errors.New("rate unavailable")

// Provider returns how many units of quote one unit of base buys.
type Provider interface {
	Name() string
	Rate(ctx context.Context, base, quote models.Currency) (decimal.Decimal, error)
}

type Source string

const (
	SourceLive    Source = "live"
	SourceCached  Source = "cached"
	SourceDefault Source = "default"
	SourceNone    Source = "unavailable"
)

type Quote struct {
	Base      models.Currency
	Quote     models.Currency
	Rate      decimal.Decimal
	Source    Source
	Provider  string
	FetchedAt time.Time
}

// Available reports whether Rate may be used for conversion.
func (q Quote) Available() bool {
	return q.Source != SourceNone
}

type cachedRate struct {
	Rate      decimal.Decimal `json:"rate"`
	Provider  string          `json:"provider"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

const cacheTimeout = time.Second

type Options struct {
	// Timeout bounds the whole walk over the live providers.
	Timeout  time.Duration
	CacheTTL time.Duration
	// DefaultUSDRUB is used when no live or cached rate exists. Zero disables it.
	DefaultUSDRUB decimal.Decimal
}

type Resolver struct {
	providers []Provider
	cache     cache.Store
	opts      Options
	logger    *zap.Logger
	group     singleflight.Group
}

func NewResolver(store cache.Store, logger *zap.Logger, opts Options, providers ...Provider) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 6 * time.Hour
	}
	if store == nil {
		store = cache.NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{providers: providers, cache: store, opts: opts, logger: logger}
}

// Resolve returns a quote for base→quote. Live providers share one
// Timeout budget; concurrent callers for the same pair share one lookup.
// A caller whose ctx ends gets SourceNone without cutting the lookup short
// for the others.
func (r *Resolver) Resolve(ctx context.Context, base, quote models.Currency) Quote {
	if base == quote {
		return Quote{Base: base, Quote: quote, Rate: decimal.NewFromInt(1), Source: SourceLive, FetchedAt: time.Now().UTC()}
	}

	ch := r.group.DoChan(cacheKey(base, quote), func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), base, quote), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Quote)
	case <-ctx.Done():
		return Quote{Base: base, Quote: quote, Source: SourceNone}
	}
}

func (r *Resolver) resolve(ctx context.Context, base, quote models.Currency) Quote {
	q := Quote{Base: base, Quote: quote}

	live, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	for _, p := range r.providers {
		if live.Err() != nil {
			r.logger.Warn("rate lookup budget spent", zap.String("pair", pair(base, quote)), zap.Duration("timeout", r.opts.Timeout))
			break
		}
		rate, err := p.Rate(live, base, quote)
		if err != nil {
			r.logger.Warn("rate provider failed",
				zap.String("provider", p.Name()),
				zap.String("pair", pair(base, quote)),
				zap.Error(err),
			)
			continue
		}
		if !rate.IsPositive() {
			r.logger.Warn("rate provider returned non-positive rate",
				zap.String("provider", p.Name()), zap.String("rate", rate.String()))
			continue
		}

		q.Rate, q.Source, q.Provider, q.FetchedAt = rate, SourceLive, p.Name(), time.Now().UTC()
		r.remember(ctx, q)
		return q
	}

	if c, ok := r.recall(ctx, base, quote); ok {
		q.Rate, q.Source, q.Provider, q.FetchedAt = c.Rate, SourceCached, c.Provider, c.FetchedAt
		return q
	}

	if rate, ok := r.defaultRate(base, quote); ok {
		q.Rate, q.Source = rate, SourceDefault
		return q
	}

	q.Source = SourceNone
	return q
}

// Warm refreshes the cached USD/RUB pair in both directions.
func (r *Resolver) Warm(ctx context.Context) error {
	var errs []error
	for _, p := range [][2]models.Currency{{models.USD, models.RUB}, {models.RUB, models.USD}} {
		q := r.Resolve(ctx, p[0], p[1])
		if q.Source != SourceLive {
			errs = append(errs, fmt.Errorf("%s: %s", pair(p[0], p[1]), q.Source))
		}
	}
	return errors.Join(errs...)
}

func (r *Resolver) remember(ctx context.Context, q Quote) {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	b, err := json.Marshal(cachedRate{Rate: q.Rate, Provider: q.Provider, FetchedAt: q.FetchedAt})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(q.Base, q.Quote), b, r.opts.CacheTTL); err != nil {
		r.logger.Warn("rate cache write failed", zap.Error(err))
	}
}

func (r *Resolver) recall(ctx context.Context, base, quote models.Currency) (cachedRate, bool) {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	b, found, err := r.cache.Get(ctx, cacheKey(base, quote))
	if err != nil {
		r.logger.Warn("rate cache read failed", zap.Error(err))
		return cachedRate{}, false
	}
	if !found {
		return cachedRate{}, false
	}
	var c cachedRate
	if err := json.Unmarshal(b, &c); err != nil || !c.Rate.IsPositive() {
		return cachedRate{}, false
	}
	return c, true
}

func (r *Resolver) defaultRate(base, quote models.Currency) (decimal.Decimal, bool) {
	d := r.opts.DefaultUSDRUB
	if !d.IsPositive() {
		return decimal.Zero, false
	}
	switch {
	case base == models.USD && quote == models.RUB:
		return d, true
	case base == models.RUB && quote == models.USD:
		return decimal.NewFromInt(1).Div(d), true
	}
	return decimal.Zero, false
}

func pair(base, quote models.Currency) string {
	return string(base) + "/" + string(quote)
}

func cacheKey(base, quote models.Currency) string {
	return "rate:" + string(base) + ":" + string(quote)
}
