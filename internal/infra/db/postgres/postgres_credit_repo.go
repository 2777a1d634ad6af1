package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
)

var _ repository.CreditRepository = (*creditRepo)(nil)

type creditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *creditRepo {
	return &creditRepo{pool: pool}
}

// FindAccount is the read path for balance queries; it never creates a row.
func (r *creditRepo) FindAccount(ctx context.Context, tx repository.Tx, userID string) (*model.CreditAccount, error) {
	const q = `
SELECT user_id, balance, updated_at
FROM credit_accounts
WHERE user_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var acct model.CreditAccount
	if err := row.Scan(&acct.UserID, &acct.Balance, &acct.UpdatedAt); err != nil {
		return nil, translateErr(err)
	}
	return &acct, nil
}

// FindAccountForUpdate locks the account row inside a transaction. The row is
// created lazily so granting to a fresh user needs no separate signup step.
func (r *creditRepo) FindAccountForUpdate(ctx context.Context, tx repository.Tx, userID string) (*model.CreditAccount, error) {
	const insertQ = `
INSERT INTO credit_accounts (user_id, balance, updated_at)
VALUES ($1, 0, now())
ON CONFLICT (user_id) DO NOTHING;`
	if _, err := execSQL(ctx, r.pool, tx, insertQ, userID); err != nil {
		return nil, err
	}

	const q = `
SELECT user_id, balance, updated_at
FROM credit_accounts
WHERE user_id = $1
FOR UPDATE;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var acct model.CreditAccount
	if err := row.Scan(&acct.UserID, &acct.Balance, &acct.UpdatedAt); err != nil {
		return nil, translateErr(err)
	}
	return &acct, nil
}

func (r *creditRepo) SaveAccount(ctx context.Context, tx repository.Tx, acct *model.CreditAccount) error {
	const q = `
UPDATE credit_accounts
SET balance = $2, updated_at = $3
WHERE user_id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, acct.UserID, acct.Balance, acct.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *creditRepo) SumOpenReservations(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	const q = `
SELECT COALESCE(SUM(amount), 0)
FROM credit_reservations
WHERE user_id = $1 AND status = 'reserved';`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, translateErr(err)
	}
	return sum, nil
}

func (r *creditRepo) SaveReservation(ctx context.Context, tx repository.Tx, res *model.CreditReservation) error {
	const q = `
INSERT INTO credit_reservations (id, user_id, amount, status, reference, created_at, finalized_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  finalized_at = EXCLUDED.finalized_at;`
	_, err := execSQL(ctx, r.pool, tx, q,
		res.ID, res.UserID, res.Amount, res.Status, res.Reference, res.CreatedAt, res.FinalizedAt)
	return translateErr(err)
}

func (r *creditRepo) FindReservationForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.CreditReservation, error) {
	const q = `
SELECT id, user_id, amount, status, reference, created_at, finalized_at
FROM credit_reservations
WHERE id = $1
FOR UPDATE;`
	return r.scanReservation(ctx, tx, q, id)
}

// FindReservationByReference returns the open hold for the reference. A
// partial unique index guarantees at most one exists.
func (r *creditRepo) FindReservationByReference(ctx context.Context, tx repository.Tx, reference string) (*model.CreditReservation, error) {
	const q = `
SELECT id, user_id, amount, status, reference, created_at, finalized_at
FROM credit_reservations
WHERE reference = $1 AND status = 'reserved';`
	return r.scanReservation(ctx, tx, q, reference)
}

func (r *creditRepo) ListStaleReserved(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.CreditReservation, error) {
	const q = `
SELECT id, user_id, amount, status, reference, created_at, finalized_at
FROM credit_reservations
WHERE status = 'reserved' AND created_at < $1
ORDER BY created_at
LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CreditReservation
	for rows.Next() {
		var res model.CreditReservation
		var status string
		if err := rows.Scan(&res.ID, &res.UserID, &res.Amount, &status, &res.Reference, &res.CreatedAt, &res.FinalizedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		res.Status = model.ReservationStatus(status)
		out = append(out, &res)
	}
	return out, rows.Err()
}

func (r *creditRepo) AppendLedger(ctx context.Context, tx repository.Tx, entry *model.LedgerEntry) error {
	const q = `
INSERT INTO credit_ledger (id, user_id, delta, balance_after, kind, reservation_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8);`
	_, err := execSQL(ctx, r.pool, tx, q,
		entry.ID, entry.UserID, entry.Delta, entry.BalanceAfter, entry.Kind, entry.ReservationID, entry.Note, entry.CreatedAt)
	return translateErr(err)
}

func (r *creditRepo) ListLedger(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, user_id, delta, balance_after, kind, COALESCE(reservation_id, ''), note, created_at
FROM credit_ledger
WHERE user_id = $1
ORDER BY id DESC
LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.BalanceAfter, &kind, &e.ReservationID, &e.Note, &e.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		e.Kind = model.LedgerKind(kind)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *creditRepo) scanReservation(ctx context.Context, tx repository.Tx, q string, arg interface{}) (*model.CreditReservation, error) {
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	var res model.CreditReservation
	var status string
	if err := row.Scan(&res.ID, &res.UserID, &res.Amount, &status, &res.Reference, &res.CreatedAt, &res.FinalizedAt); err != nil {
		return nil, translateErr(err)
	}
	res.Status = model.ReservationStatus(status)
	return &res, nil
}
