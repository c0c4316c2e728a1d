package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/p2p-ledger/internal/ledger"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

var _ ledger.UserRegistry = (*UserRepo)(nil)

// EnsureUser registers the owner on first contact. The username is refreshed
// on later calls; created_at is kept.
func (r *UserRepo) EnsureUser(ctx context.Context, ownerID int64, username string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (owner_id, username) VALUES ($1, $2)
		 ON CONFLICT (owner_id) DO UPDATE SET username = EXCLUDED.username`,
		ownerID, username,
	)
	if err != nil {
		return fmt.Errorf("postgres: ensure user %d: %w", ownerID, err)
	}
	return nil
}

// PostgresLedger bundles the trade and user repos behind one value so the
// caller can treat it as both ledger.Store and ledger.UserRegistry.
type PostgresLedger struct {
	*TradeRepo
	*UserRepo
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{TradeRepo: NewTradeRepo(pool), UserRepo: NewUserRepo(pool)}
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.TradeRepo.pool.Ping(ctx)
}
