package rates

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/p2p-ledger/internal/cache"
	"github.com/kjannette/p2p-ledger/internal/models"
)

type stubProvider struct {
	name  string
	rate  decimal.Decimal
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Rate(ctx context.Context, _, _ models.Currency) (decimal.Decimal, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.rate, s.err
}

func TestResolve_Live(t *testing.T) {
	p := &stubProvider{name: "p2p", rate: decimal.RequireFromString("92.45")}
	r := NewResolver(nil, nil, Options{}, p)

	q := r.Resolve(context.Background(), models.USD, models.RUB)
	assert.Equal(t, SourceLive, q.Source)
	assert.True(t, q.Available())
	assert.Equal(t, "p2p", q.Provider)
	assert.True(t, q.Rate.Equal(decimal.RequireFromString("92.45")))
}

func TestResolve_SameCurrency(t *testing.T) {
	r := NewResolver(nil, nil, Options{})
	q := r.Resolve(context.Background(), models.RUB, models.RUB)
	assert.True(t, q.Rate.Equal(decimal.NewFromInt(1)))
	assert.True(t, q.Available())
}

func TestResolve_FallsThroughProviders(t *testing.T) {
	bad := &stubProvider{name: "p2p", err: ErrUnavailable}
	good := &stubProvider{name: "coingecko", rate: decimal.RequireFromString("91")}
	r := NewResolver(nil, nil, Options{}, bad, good)

	q := r.Resolve(context.Background(), models.USD, models.RUB)
	assert.Equal(t, SourceLive, q.Source)
	assert.Equal(t, "coingecko", q.Provider)
	assert.EqualValues(t, 1, bad.calls.Load())
}

func TestResolve_CachedAfterOutage(t *testing.T) {
	store := cache.NewMemoryStore()
	p := &stubProvider{name: "p2p", rate: decimal.RequireFromString("93.1")}
	r := NewResolver(store, nil, Options{}, p)

	require.Equal(t, SourceLive, r.Resolve(context.Background(), models.USD, models.RUB).Source)

	p.rate, p.err = decimal.Zero, errors.New("connection refused")
	q := r.Resolve(context.Background(), models.USD, models.RUB)
	assert.Equal(t, SourceCached, q.Source)
	assert.True(t, q.Rate.Equal(decimal.RequireFromString("93.1")))
	assert.Equal(t, "p2p", q.Provider)
}

func TestResolve_DefaultRate(t *testing.T) {
	p := &stubProvider{name: "p2p", err: ErrUnavailable}
	r := NewResolver(nil, nil, Options{DefaultUSDRUB: decimal.NewFromInt(100)}, p)

	q := r.Resolve(context.Background(), models.USD, models.RUB)
	assert.Equal(t, SourceDefault, q.Source)
	assert.True(t, q.Rate.Equal(decimal.NewFromInt(100)))

	inv := r.Resolve(context.Background(), models.RUB, models.USD)
	assert.Equal(t, SourceDefault, inv.Source)
	assert.True(t, inv.Rate.Equal(decimal.RequireFromString("0.01")))
}

func TestResolve_Unavailable(t *testing.T) {
	p := &stubProvider{name: "p2p", err: ErrUnavailable}
	r := NewResolver(nil, nil, Options{}, p)

	q := r.Resolve(context.Background(), models.USD, models.RUB)
	assert.False(t, q.Available())
	assert.Equal(t, SourceNone, q.Source)
}

func TestResolve_TimeoutIsSoft(t *testing.T) {
	slow := &stubProvider{name: "slow", rate: decimal.NewFromInt(90), delay: time.Second}
	r := NewResolver(nil, nil, Options{Timeout: 20 * time.Millisecond}, slow)

	start := time.Now()
	q := r.Resolve(context.Background(), models.USD, models.RUB)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, q.Available())
}

func TestResolve_IgnoresNonPositiveRate(t *testing.T) {
	p := &stubProvider{name: "broken", rate: decimal.Zero}
	r := NewResolver(nil, nil, Options{}, p)
	assert.False(t, r.Resolve(context.Background(), models.USD, models.RUB).Available())
}

func TestWarm(t *testing.T) {
	p := &stubProvider{name: "p2p", rate: decimal.NewFromInt(90)}
	r := NewResolver(nil, nil, Options{}, p)
	assert.NoError(t, r.Warm(context.Background()))

	p.err = ErrUnavailable
	assert.Error(t, r.Warm(context.Background()))
}

func TestResolve_TimeoutCoversAllProviders(t *testing.T) {
	slow := []Provider{
		&stubProvider{name: "p2p", rate: decimal.NewFromInt(90), delay: time.Second},
		&stubProvider{name: "coingecko", rate: decimal.NewFromInt(91), delay: time.Second},
		&stubProvider{name: "third", rate: decimal.NewFromInt(92), delay: time.Second},
	}
	r := NewResolver(nil, nil, Options{Timeout: 150 * time.Millisecond, DefaultUSDRUB: decimal.NewFromInt(95)}, slow...)

	start := time.Now()
	q := r.Resolve(context.Background(), models.USD, models.RUB)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, SourceDefault, q.Source)
}

func TestResolve_CancelledCallerDoesNotSpoilSharedLookup(t *testing.T) {
	p := &stubProvider{name: "p2p", rate: decimal.RequireFromString("92.5"), delay: 200 * time.Millisecond}
	r := NewResolver(nil, nil, Options{Timeout: 2 * time.Second}, p)

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstQuote := make(chan Quote, 1)
	go func() { firstQuote <- r.Resolve(first, models.USD, models.RUB) }()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)

	secondQuote := make(chan Quote, 1)
	go func() { secondQuote <- r.Resolve(context.Background(), models.USD, models.RUB) }()
	time.Sleep(30 * time.Millisecond)
	cancelFirst()

	assert.Equal(t, SourceNone, (<-firstQuote).Source)
	q := <-secondQuote
	assert.Equal(t, SourceLive, q.Source)
	assert.True(t, q.Rate.Equal(decimal.RequireFromString("92.5")))
	assert.EqualValues(t, 1, p.calls.Load(), "both callers share one lookup")
}
