package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
)

// SQLiteLedger stores the ledger in a single SQLite file. Writes are
// serialized in-process since SQLite allows one writer at a time.
type SQLiteLedger struct {
	db *sql.DB
	mu sync.Mutex
}

var (
	_ ledger.Store        = (*SQLiteLedger)(nil)
	_ ledger.UserRegistry = (*SQLiteLedger)(nil)
)

func NewSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Append(ctx context.Context, t models.TradeRecord) error {
	if err := ledger.Validate(t); err != nil {
		return err
	}
	ts := t.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trade_ledger (`+tradeCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Day(), t.Exchange, t.BuyRate.String(), t.SellRate.String(),
		t.Volume.String(), t.Principal.String(), string(t.Currency), t.Expenses.String(),
		t.SpreadPct.String(), t.Profit.String(), string(t.Formula), ts,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append trade %s: %w: %w", t.ID, ledger.ErrUnavailable, err)
	}
	return nil
}

func (l *SQLiteLedger) List(ctx context.Context, ownerID int64) ([]models.TradeRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+tradeCols+` FROM trade_ledger WHERE owner_id = ? ORDER BY seq ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades for %d: %w: %w", ownerID, ledger.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var day, currency, formula string
		if err := rows.Scan(
			&t.ID, &t.OwnerID, &day, &t.Exchange, &t.BuyRate, &t.SellRate,
			&t.Volume, &t.Principal, &currency, &t.Expenses, &t.SpreadPct, &t.Profit,
			&formula, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		occurred, err := time.Parse(models.DateLayout, day)
		if err != nil {
			return nil, fmt.Errorf("sqlite: trade %s has bad date %q: %w", t.ID, day, err)
		}
		t.OccurredOn = occurred
		t.Currency = models.Currency(currency)
		t.Formula = models.Formula(formula)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) EnsureUser(ctx context.Context, ownerID int64, username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO users (owner_id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (owner_id) DO UPDATE SET username = excluded.username`,
		ownerID, username, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: ensure user %d: %w", ownerID, err)
	}
	return nil
}

func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
