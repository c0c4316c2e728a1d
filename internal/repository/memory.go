package repository

import (
	"context"
	"sync"
	"time"

	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
)

// MemoryLedger keeps everything in process memory. Nothing survives a
// restart; it backs LEDGER_BACKEND=memory and the tests.
type MemoryLedger struct {
	mu     sync.RWMutex
	trades map[int64][]models.TradeRecord
	ids    map[string]struct{}
	users  map[int64]models.User
}

var (
	_ ledger.Store        = (*MemoryLedger)(nil)
	_ ledger.UserRegistry = (*MemoryLedger)(nil)
)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		trades: map[int64][]models.TradeRecord{},
		ids:    map[string]struct{}{},
		users:  map[int64]models.User{},
	}
}

func (l *MemoryLedger) Append(ctx context.Context, t models.TradeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ledger.Validate(t); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.ids[t.ID]; dup {
		return nil
	}
	l.ids[t.ID] = struct{}{}
	l.trades[t.OwnerID] = append(l.trades[t.OwnerID], t)
	return nil
}

func (l *MemoryLedger) List(ctx context.Context, ownerID int64) ([]models.TradeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.trades[ownerID]
	out := make([]models.TradeRecord, len(src))
	copy(out, src)
	return out, nil
}

func (l *MemoryLedger) EnsureUser(ctx context.Context, ownerID int64, username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[ownerID]
	if !ok {
		u = models.User{OwnerID: ownerID, CreatedAt: time.Now().UTC()}
	}
	u.Username = username
	l.users[ownerID] = u
	return nil
}

// User returns a registered user, if any.
func (l *MemoryLedger) User(ownerID int64) (models.User, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.users[ownerID]
	return u, ok
}
