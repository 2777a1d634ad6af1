package repository

import (
	"context"
	"time"

	"vidfab-pipeline/internal/domain/model"
)

// CreditRepository persists accounts, reservations and the append-only
// ledger. Balance-affecting methods are expected to be called inside a
// transaction with the account row locked via FindAccountForUpdate.
type CreditRepository interface {
	// FindAccount reads the account without locking or creating it.
	// domain.ErrNotFound when the user has no account yet.
	FindAccount(ctx context.Context, tx Tx, userID string) (*model.CreditAccount, error)
	// FindAccountForUpdate loads the account row with a row-level lock when
	// tx is a live transaction, creating a zero-balance row if missing.
	FindAccountForUpdate(ctx context.Context, tx Tx, userID string) (*model.CreditAccount, error)
	SaveAccount(ctx context.Context, tx Tx, acct *model.CreditAccount) error

	// SumOpenReservations returns the total amount currently held in
	// `reserved` state for the user.
	SumOpenReservations(ctx context.Context, tx Tx, userID string) (int64, error)

	SaveReservation(ctx context.Context, tx Tx, res *model.CreditReservation) error
	// FindReservationForUpdate locks the reservation row so finalize paths
	// (consume/release) serialize against each other.
	FindReservationForUpdate(ctx context.Context, tx Tx, id string) (*model.CreditReservation, error)
	FindReservationByReference(ctx context.Context, tx Tx, reference string) (*model.CreditReservation, error)
	// ListStaleReserved returns open reservations created before cutoff,
	// oldest first, for the sweeper.
	ListStaleReserved(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.CreditReservation, error)

	AppendLedger(ctx context.Context, tx Tx, entry *model.LedgerEntry) error
	ListLedger(ctx context.Context, tx Tx, userID string, limit int) ([]*model.LedgerEntry, error)
}
