package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/repository"
)

type flakyLedger struct {
	mu    sync.Mutex
	fail  bool
	inner *repository.MemoryLedger
	calls int
}

func (f *flakyLedger) Append(ctx context.Context, rec models.TradeRecord) error {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.inner.Append(ctx, rec)
}

func (f *flakyLedger) List(ctx context.Context, owner int64) ([]models.TradeRecord, error) {
	return f.inner.List(ctx, owner)
}

func (f *flakyLedger) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

var fixedNow = time.Date(2026, 3, 14, 21, 30, 0, 0, time.UTC)

func newMachine(t *testing.T, flow Flow, l *flakyLedger) *Machine {
	t.Helper()
	m := NewMachine(Config{Flow: flow}, NewStore(15*time.Minute), l, nil)
	m.now = func() time.Time { return fixedNow }
	return m
}

func feed(t *testing.T, m *Machine, owner int64, inputs ...string) Outcome {
	t.Helper()
	var out Outcome
	for _, in := range inputs {
		var err error
		out, err = m.Advance(context.Background(), owner, in)
		require.NoError(t, err)
	}
	return out
}

func TestBasicFlow_Completes(t *testing.T) {
	l := &flakyLedger{inner: repository.NewMemoryLedger()}
	m := newMachine(t, BasicFlow(), l)

	start := m.Start(1)
	assert.Equal(t, StatusPrompt, start.Status)
	assert.Equal(t, 1, start.Step)
	assert.Equal(t, 5, start.Steps)
	assert.False(t, start.Replaced)

	out := feed(t, m, 1, "  Binance ", "98,5", "100.2", "1000", "98500")
	require.Equal(t, StatusSaved, out.Status)

	rec := out.Record
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Binance", rec.Exchange)
	assert.Equal(t, "1.73", rec.SpreadPct.StringFixed(2))
	assert.Equal(t, "1700.00", rec.Profit.StringFixed(2))
	assert.Equal(t, models.RUB, rec.Currency)
	assert.Equal(t, models.FormulaVolume, rec.Formula)
	assert.Equal(t, "2026-03-14", rec.Day())

	assert.False(t, m.Active(1))
	got, err := l.List(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestInvalidInput_RepromptsSameStep(t *testing.T) {
	numeric := []string{"abc", "0", "-5", "", "1,000.5"}
	cases := []struct {
		name   string
		flow   Flow
		before []string
		bad    []string
		field  Field
	}{
		{"buy rate", BasicFlow(), []string{"Bybit"}, numeric, FieldBuyRate},
		{"sell rate", BasicFlow(), []string{"Bybit", "90"}, numeric, FieldSellRate},
		{"volume", BasicFlow(), []string{"Bybit", "90", "91"}, numeric, FieldVolume},
		{"principal", BasicFlow(), []string{"Bybit", "90", "91", "100"}, numeric, FieldPrincipal},
		{"date", ExtendedFlow(), nil, []string{"tomorrow", "2026-13-01", "14/03"}, FieldDate},
		{"currency", ExtendedFlow(), []string{"today", "OKX", "90", "92", "100"}, []string{"EUR", "", "bitcoin"}, FieldCurrency},
		{"expenses", ExtendedFlow(), []string{"today", "OKX", "90", "92", "100", "RUB", "9000"}, []string{"-1", "abc"}, FieldExpenses},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := &flakyLedger{inner: repository.NewMemoryLedger()}
			m := newMachine(t, tc.flow, l)
			m.Start(1)
			if len(tc.before) > 0 {
				require.Equal(t, StatusPrompt, feed(t, m, 1, tc.before...).Status)
			}

			for _, bad := range tc.bad {
				out := feed(t, m, 1, bad)
				assert.Equal(t, StatusInvalid, out.Status, "input %q", bad)
				assert.Equal(t, len(tc.before)+1, out.Step)
				var verr *ValidationError
				require.ErrorAs(t, out.Err, &verr)
				assert.Equal(t, tc.field, verr.Field)
			}

			sess, ok := m.store.Get(1)
			require.True(t, ok)
			assert.Equal(t, len(tc.before), sess.Step)
			assert.Zero(t, l.calls)
		})
	}
}

func TestEmptyExchangeRejected(t *testing.T) {
	m := newMachine(t, BasicFlow(), &flakyLedger{inner: repository.NewMemoryLedger()})
	m.Start(1)
	out := feed(t, m, 1, "   ")
	assert.Equal(t, StatusInvalid, out.Status)
	assert.Equal(t, 1, out.Step)
}

func TestExtendedFlow(t *testing.T) {
	l := &flakyLedger{inner: repository.NewMemoryLedger()}
	m := newMachine(t, ExtendedFlow(), l)
	m.Start(5)

	out := feed(t, m, 5, "01.03.2026", "OKX", "90", "92", "100", "$", "9000", "skip")
	require.Equal(t, StatusSaved, out.Status)
	assert.Equal(t, "2026-03-01", out.Record.Day())
	assert.Equal(t, models.USD, out.Record.Currency)
	assert.True(t, out.Record.Expenses.IsZero())
	assert.Equal(t, "200.00", out.Record.Profit.StringFixed(2))
}

func TestExtendedFlow_ExpensesAndToday(t *testing.T) {
	l := &flakyLedger{inner: repository.NewMemoryLedger()}
	m := newMachine(t, ExtendedFlow(), l)
	m.Start(5)

	out := feed(t, m, 5, "today", "OKX", "100", "95", "50", "rub", "5000")
	assert.Equal(t, StatusPrompt, out.Status)
	bad := feed(t, m, 5, "-3")
	assert.Equal(t, StatusInvalid, bad.Status)

	out = feed(t, m, 5, "10")
	require.Equal(t, StatusSaved, out.Status)
	assert.Equal(t, "2026-03-14", out.Record.Day())
	assert.Equal(t, "-260.00", out.Record.Profit.StringFixed(2))
}

func TestStartOverwritesSession(t *testing.T) {
	m := newMachine(t, BasicFlow(), &flakyLedger{inner: repository.NewMemoryLedger()})
	m.Start(1)
	feed(t, m, 1, "Binance", "98.5")

	out := m.Start(1)
	assert.True(t, out.Replaced)
	assert.Equal(t, 1, out.Step)

	sess, ok := m.store.Get(1)
	require.True(t, ok)
	assert.Zero(t, sess.Step)
	assert.Empty(t, sess.Draft.Exchange)
}

func TestCancel(t *testing.T) {
	l := &flakyLedger{inner: repository.NewMemoryLedger()}
	m := newMachine(t, BasicFlow(), l)
	m.Start(1)
	feed(t, m, 1, "Binance", "98.5", "100.2")

	assert.True(t, m.Cancel(1))
	assert.False(t, m.Cancel(1))
	_, err := m.Advance(context.Background(), 1, "1000")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, l.calls)
}

func TestSaveFailure_RetainsAndRetries(t *testing.T) {
	l := &flakyLedger{inner: repository.NewMemoryLedger(), fail: true}
	m := newMachine(t, BasicFlow(), l)

	var notified []string
	m.OnSaveFailure(func(rec models.TradeRecord, err error) { notified = append(notified, rec.ID) })

	m.Start(1)
	out := feed(t, m, 1, "Binance", "98.5", "100.2", "1000", "98500")
	require.Equal(t, StatusSaveFailed, out.Status)
	require.Error(t, out.Err)
	firstID := out.Record.ID
	assert.True(t, m.Active(1))
	assert.Equal(t, []string{firstID}, notified)

	// still failing: plain text retries with the same record
	again := feed(t, m, 1, "anything")
	assert.Equal(t, StatusSaveFailed, again.Status)
	assert.Equal(t, firstID, again.Record.ID)

	l.setFail(false)
	done, err := m.Retry(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusSaved, done.Status)
	assert.Equal(t, firstID, done.Record.ID)
	assert.False(t, m.Active(1))

	got, err := l.List(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRetryWithoutPending(t *testing.T) {
	m := newMachine(t, BasicFlow(), &flakyLedger{inner: repository.NewMemoryLedger()})
	_, err := m.Retry(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoSession)

	m.Start(1)
	_, err = m.Retry(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSubmit(t *testing.T) {
	l := &flakyLedger{inner: repository.NewMemoryLedger(), fail: true}
	m := newMachine(t, BasicFlow(), l)

	d := Draft{
		Exchange:  "Binance",
		BuyRate:   decimal.RequireFromString("98.5"),
		SellRate:  decimal.RequireFromString("100.2"),
		Volume:    decimal.NewFromInt(1000),
		Principal: decimal.NewFromInt(98500),
	}
	out, err := m.Submit(context.Background(), 3, d)
	require.NoError(t, err)
	assert.Equal(t, StatusSaveFailed, out.Status)

	l.setFail(false)
	out, err = m.Retry(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, StatusSaved, out.Status)

	_, err = m.Submit(context.Background(), 3, Draft{Exchange: "x"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSessionsAreIsolatedPerOwner(t *testing.T) {
	m := newMachine(t, BasicFlow(), &flakyLedger{inner: repository.NewMemoryLedger()})
	m.Start(1)
	m.Start(2)
	feed(t, m, 1, "Binance")
	out := feed(t, m, 2, "Garantex")
	assert.Equal(t, 2, out.Step)

	s1, _ := m.store.Get(1)
	s2, _ := m.store.Get(2)
	assert.Equal(t, "Binance", s1.Draft.Exchange)
	assert.Equal(t, "Garantex", s2.Draft.Exchange)
}

func TestStoreExpiry(t *testing.T) {
	now := fixedNow
	s := NewStore(time.Minute)
	s.now = func() time.Time { return now }

	s.Put(Session{OwnerID: 1})
	rec := models.TradeRecord{ID: "x"}
	s.Put(Session{OwnerID: 2, Pending: &rec})

	now = now.Add(30 * time.Second)
	_, ok := s.Get(1)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = s.Get(1)
	assert.False(t, ok, "idle session expires lazily")

	s.Put(Session{OwnerID: 3})
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, s.Sweep())
	_, ok = s.Get(2)
	assert.True(t, ok, "pending record is never expired")
	assert.Equal(t, 1, s.Len())
}

func TestParseHelpers(t *testing.T) {
	v, err := ParseAmount("1 000,50")
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.RequireFromString("1000.5")))

	_, err = ParseAmount("0")
	assert.Error(t, err)

	e, err := ParseExpenses("-")
	require.NoError(t, err)
	assert.True(t, e.IsZero())
	_, err = ParseExpenses("-1")
	assert.Error(t, err)

	d, err := ParseDay("2026-02-28", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", d.Format(models.DateLayout))

	_, err = FlowByName("wizard")
	assert.Error(t, err)
	f, err := FlowByName("EXTENDED")
	require.NoError(t, err)
	assert.Len(t, f, 8)
}
