// Package ledger defines the append-only store of completed trades.
package ledger

import (
	"context"
	"errors"

	"github.com/kjannette/p2p-ledger/internal/models"
)

var (
	ErrInvalidRecord = errors.New("ledger: invalid record")
	ErrUnavailable   = errors.New("ledger: store unavailable")
)

// Store is the durable, owner-partitioned trade log.
//
// Append must be durable before it returns nil. Appending a record whose ID
// is already stored is a no-op, so a retried append never duplicates.
// List returns the owner's records in insertion order.
type Store interface {
	Append(ctx context.Context, rec models.TradeRecord) error
	List(ctx context.Context, ownerID int64) ([]models.TradeRecord, error)
}

// UserRegistry is implemented by stores that keep a users table.
type UserRegistry interface {
	EnsureUser(ctx context.Context, ownerID int64, username string) error
}

// Validate checks the fields every backend relies on.
func Validate(rec models.TradeRecord) error {
	switch {
	case rec.ID == "":
		return errors.Join(ErrInvalidRecord, errors.New("missing id"))
	case rec.OwnerID == 0:
		return errors.Join(ErrInvalidRecord, errors.New("missing owner"))
	case rec.OccurredOn.IsZero():
		return errors.Join(ErrInvalidRecord, errors.New("missing date"))
	}
	return nil
}
