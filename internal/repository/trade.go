package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
)

// TradeRepo is the Postgres ledger.
type TradeRepo struct {
	pool *pgxpool.Pool
}

func NewTradeRepo(pool *pgxpool.Pool) *TradeRepo {
	return &TradeRepo{pool: pool}
}

var _ ledger.Store = (*TradeRepo)(nil)

func (r *TradeRepo) Append(ctx context.Context, t models.TradeRecord) error {
	if err := ledger.Validate(t); err != nil {
		return err
	}
	ts := t.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO trade_ledger (`+tradeCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.OwnerID, t.OccurredOn, t.Exchange, t.BuyRate, t.SellRate,
		t.Volume, t.Principal, string(t.Currency), t.Expenses, t.SpreadPct, t.Profit,
		string(t.Formula), ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w: %w", t.ID, ledger.ErrUnavailable, err)
	}
	return nil
}

func (r *TradeRepo) List(ctx context.Context, ownerID int64) ([]models.TradeRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM trade_ledger WHERE owner_id = $1 ORDER BY seq ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %d: %w: %w", ownerID, ledger.ErrUnavailable, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTrade(row scannable) (models.TradeRecord, error) {
	var t models.TradeRecord
	var currency, formula string
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.OccurredOn, &t.Exchange, &t.BuyRate, &t.SellRate,
		&t.Volume, &t.Principal, &currency, &t.Expenses, &t.SpreadPct, &t.Profit,
		&formula, &t.CreatedAt,
	)
	if err != nil {
		return models.TradeRecord{}, err
	}
	t.OccurredOn = models.DateOf(t.OccurredOn)
	t.Currency = models.Currency(currency)
	t.Formula = models.Formula(formula)
	return t, nil
}

func collectTrades(rows rowsIter) ([]models.TradeRecord, error) {
	var out []models.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
