package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/p2p-ledger/internal/arbitrage"
	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/rates"
)

// RateResolver is satisfied by *rates.Resolver.
type RateResolver interface {
	Resolve(ctx context.Context, base, quote models.Currency) rates.Quote
}

// Report is a Summary optionally restated in one target currency.
type Report struct {
	Summary
	Target models.Currency
	// Total is the profit in Target. Valid only when Converted is true.
	Total     decimal.Decimal
	Converted bool
	// ConversionUnavailable is set when a target was requested but some
	// currency had no usable rate; Summary.Profit still holds the totals.
	ConversionUnavailable bool
	Quotes                []rates.Quote
}

type Engine struct {
	ledger  ledger.Store
	rates   RateResolver
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time
}

func NewEngine(l ledger.Store, r RateResolver, loc *time.Location, timeout time.Duration) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Engine{ledger: l, rates: r, loc: loc, timeout: timeout, now: time.Now}
}

// Today is the current calendar date in the ledger timezone.
func (e *Engine) Today() time.Time {
	return models.DateOf(e.now().In(e.loc))
}

func (e *Engine) list(ctx context.Context, owner int64) ([]models.TradeRecord, error) {
	lctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	recs, err := e.ledger.List(lctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list trades for %d: %w", owner, err)
	}
	return recs, nil
}

// Summarize aggregates the owner's trades. An empty target skips conversion.
func (e *Engine) Summarize(ctx context.Context, owner int64, period models.Period, target models.Currency) (Report, error) {
	recs, err := e.list(ctx, owner)
	if err != nil {
		return Report{}, err
	}

	rep := Report{Summary: Aggregate(recs, period, e.Today()), Target: target}
	if target == "" {
		return rep, nil
	}

	total := decimal.Zero
	for _, c := range rep.Currencies() {
		amount := rep.Profit[c]
		if c == target {
			total = total.Add(amount)
			continue
		}
		converted, q := e.Convert(ctx, amount, c, target)
		rep.Quotes = append(rep.Quotes, q)
		if !q.Available() {
			rep.ConversionUnavailable = true
			continue
		}
		total = total.Add(converted)
	}

	if !rep.ConversionUnavailable {
		rep.Total = total
		rep.Converted = true
	}
	return rep, nil
}

// Convert restates amount in another currency. The quote tells whether the
// result is usable.
func (e *Engine) Convert(ctx context.Context, amount decimal.Decimal, from, to models.Currency) (decimal.Decimal, rates.Quote) {
	if e.rates == nil {
		return decimal.Zero, rates.Quote{Base: from, Quote: to, Source: rates.SourceNone}
	}
	q := e.rates.Resolve(ctx, from, to)
	if !q.Available() {
		return decimal.Zero, q
	}
	return arbitrage.Convert(amount, q.Rate), q
}

// History returns the owner's trades in the period, oldest first, keeping
// only the last limit entries when limit > 0.
func (e *Engine) History(ctx context.Context, owner int64, period models.Period, limit int) ([]models.TradeRecord, error) {
	recs, err := e.list(ctx, owner)
	if err != nil {
		return nil, err
	}
	recs = Filter(recs, period, e.Today())
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}
