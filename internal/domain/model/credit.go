package model

import (
	"time"

	"vidfab-pipeline/internal/domain"
)

type ReservationStatus string

const (
	ReservationStatusReserved ReservationStatus = "reserved"
	ReservationStatusConsumed ReservationStatus = "consumed"
	ReservationStatusReleased ReservationStatus = "released"
)

// Finalized reports whether the reservation reached a terminal state.
func (s ReservationStatus) Finalized() bool {
	return s == ReservationStatusConsumed || s == ReservationStatusReleased
}

// CreditAccount holds a user's total spendable balance. The available balance
// is derived: Balance minus the sum of open reservations.
type CreditAccount struct {
	UserID    string
	Balance   int64
	UpdatedAt time.Time
}

// CreditReservation is a hold against a user's balance, tied to one billable
// operation via Reference (e.g. "project:{id}:step:3").
type CreditReservation struct {
	ID          string
	UserID      string
	Amount      int64
	Status      ReservationStatus
	Reference   string
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

func NewCreditReservation(id, userID string, amount int64, reference string) (*CreditReservation, error) {
	if id == "" || userID == "" || reference == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &CreditReservation{
		ID:        id,
		UserID:    userID,
		Amount:    amount,
		Status:    ReservationStatusReserved,
		Reference: reference,
		CreatedAt: time.Now(),
	}, nil
}

type LedgerKind string

const (
	LedgerKindGrant   LedgerKind = "grant"
	LedgerKindReserve LedgerKind = "reserve"
	LedgerKindConsume LedgerKind = "consume"
	LedgerKindRelease LedgerKind = "release"
)

// LedgerEntry is one append-only audit record. Entries are never updated or
// deleted; reconciliation replays them against account balances.
type LedgerEntry struct {
	ID            string // ULID, lexically ordered by creation time
	UserID        string
	Delta         int64 // signed change to the total balance (0 for holds)
	BalanceAfter  int64
	Kind          LedgerKind
	ReservationID string
	Note          string
	CreatedAt     time.Time
}
