package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/kjannette/p2p-ledger/internal/models"
)

// SetupPool creates a pgxpool.Pool for integration tests and applies schema.
// The test is skipped unless TEST_DATABASE_URL points at a scratch database.
func SetupPool(t *testing.T, schema string) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return pool
}

// Trade builds a valid record; callers override what they care about.
func Trade(id string, owner int64, buy, sell, volume string) models.TradeRecord {
	b := decimal.RequireFromString(buy)
	s := decimal.RequireFromString(sell)
	v := decimal.RequireFromString(volume)
	spread := s.Sub(b).Div(b).Mul(decimal.NewFromInt(100))
	return models.TradeRecord{
		ID:         id,
		OwnerID:    owner,
		OccurredOn: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Exchange:   "Binance",
		BuyRate:    b,
		SellRate:   s,
		Volume:     v,
		Principal:  b.Mul(v),
		Currency:   models.RUB,
		Expenses:   decimal.Zero,
		SpreadPct:  spread,
		Profit:     s.Sub(b).Mul(v),
		Formula:    models.FormulaVolume,
	}
}
