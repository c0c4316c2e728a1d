package repository_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/p2p-ledger/internal/id"
	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/repository"
	"github.com/kjannette/p2p-ledger/internal/testutil"
)

// exerciseStore runs the same contract against every backend.
func exerciseStore(t *testing.T, store ledger.Store) {
	t.Helper()
	ctx := context.Background()
	owner := time.Now().UnixNano()
	other := owner + 1

	first := testutil.Trade(id.New(), owner, "98.5", "100.2", "1000")
	second := testutil.Trade(id.New(), owner, "100", "95", "50")
	second.Expenses = decimal.NewFromInt(10)
	second.Profit = second.SellRate.Sub(second.BuyRate).Mul(second.Volume).Sub(second.Expenses)
	second.Currency = models.USD
	foreign := testutil.Trade(id.New(), other, "90", "91", "10")

	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, foreign))
	require.NoError(t, store.Append(ctx, second))

	got, err := store.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for i, want := range []models.TradeRecord{first, second} {
		assert.Equal(t, want.ID, got[i].ID)
		assert.Equal(t, want.OwnerID, got[i].OwnerID)
		assert.Equal(t, want.Day(), got[i].Day())
		assert.Equal(t, want.Exchange, got[i].Exchange)
		assert.True(t, want.BuyRate.Equal(got[i].BuyRate), "buy %s != %s", want.BuyRate, got[i].BuyRate)
		assert.True(t, want.SellRate.Equal(got[i].SellRate))
		assert.True(t, want.Volume.Equal(got[i].Volume))
		assert.True(t, want.Principal.Equal(got[i].Principal))
		assert.True(t, want.Expenses.Equal(got[i].Expenses))
		assert.True(t, want.SpreadPct.Equal(got[i].SpreadPct), "spread %s != %s", want.SpreadPct, got[i].SpreadPct)
		assert.True(t, want.Profit.Equal(got[i].Profit), "profit %s != %s", want.Profit, got[i].Profit)
		assert.Equal(t, want.Currency, got[i].Currency)
		assert.Equal(t, want.Formula, got[i].Formula)
	}

	// replaying an append is a no-op
	require.NoError(t, store.Append(ctx, first))
	got, err = store.List(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	others, err := store.List(ctx, other)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, foreign.ID, others[0].ID)

	err = store.Append(ctx, models.TradeRecord{OwnerID: owner})
	assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
}

func TestMemoryLedger(t *testing.T) {
	exerciseStore(t, repository.NewMemoryLedger())
}

func TestMemoryLedger_ConcurrentAppends(t *testing.T) {
	store := repository.NewMemoryLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := testutil.Trade(fmt.Sprintf("id-%02d", i), 7, "10", "11", "1")
			assert.NoError(t, store.Append(ctx, rec))
			// every other goroutine replays its append
			if i%2 == 0 {
				assert.NoError(t, store.Append(ctx, rec))
			}
		}(i)
	}
	wg.Wait()

	got, err := store.List(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, got, 50)
}

func TestMemoryLedger_EnsureUser(t *testing.T) {
	store := repository.NewMemoryLedger()
	ctx := context.Background()

	require.NoError(t, store.EnsureUser(ctx, 42, "alice"))
	first, ok := store.User(42)
	require.True(t, ok)

	require.NoError(t, store.EnsureUser(ctx, 42, "alice_p2p"))
	again, ok := store.User(42)
	require.True(t, ok)
	assert.Equal(t, "alice_p2p", again.Username)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
}

func TestSQLiteLedger(t *testing.T) {
	store, err := repository.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Ping(context.Background()))
	exerciseStore(t, store)
	require.NoError(t, store.EnsureUser(context.Background(), 1, "bob"))
	require.NoError(t, store.EnsureUser(context.Background(), 1, "bob2"))
}

func TestSQLiteLedger_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := repository.NewSQLite(path)
	require.NoError(t, err)
	rec := testutil.Trade(id.New(), 99, "92.10", "93.45", "250.5")
	require.NoError(t, store.Append(ctx, rec))
	require.NoError(t, store.Close())

	reopened, err := repository.NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.List(ctx, 99)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, rec.Volume.Equal(got[0].Volume))
	assert.Equal(t, "2026-03-14", got[0].Day())
}

func TestSQLiteLedger_ClosedIsUnavailable(t *testing.T) {
	store, err := repository.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	ctx := context.Background()
	err = store.Append(ctx, testutil.Trade(id.New(), 5, "90", "91", "1"))
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	_, err = store.List(ctx, 5)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.Error(t, store.Ping(ctx))
}

func TestPostgresLedger(t *testing.T) {
	pool := testutil.SetupPool(t, repository.PostgresSchema)
	store := repository.NewPostgresLedger(pool)
	require.NoError(t, store.Ping(context.Background()))

	exerciseStore(t, store)
	require.NoError(t, store.EnsureUser(context.Background(), time.Now().UnixNano(), "carol"))
}
