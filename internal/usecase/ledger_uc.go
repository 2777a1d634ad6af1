// File: internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
	ports "vidfab-pipeline/internal/domain/ports/usecase"
	"vidfab-pipeline/internal/infra/metrics"
)

var _ ports.CreditLedger = (*CreditLedgerUseCase)(nil)

// CreditLedgerUseCase implements reserve/consume/release over row-locked
// account rows. Available balance is always balance minus open holds, so no
// two racing reservations can jointly overdraw.
type CreditLedgerUseCase struct {
	credits repository.CreditRepository
	tm      repository.TransactionManager
	log     *zerolog.Logger
}

func NewCreditLedgerUseCase(credits repository.CreditRepository, tm repository.TransactionManager, log *zerolog.Logger) *CreditLedgerUseCase {
	return &CreditLedgerUseCase{credits: credits, tm: tm, log: log}
}

func (uc *CreditLedgerUseCase) Reserve(ctx context.Context, userID string, amount int64, reference string) (*model.CreditReservation, error) {
	if userID == "" || amount <= 0 || reference == "" {
		return nil, domain.ErrInvalidArgument
	}

	var out *model.CreditReservation
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// Re-reserving an open reference is a no-op: racing StartStep calls
		// collapse onto one hold.
		if existing, err := uc.credits.FindReservationByReference(ctx, tx, reference); err == nil {
			if existing.Status == model.ReservationStatusReserved {
				out = existing
				return nil
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		acct, err := uc.credits.FindAccountForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		held, err := uc.credits.SumOpenReservations(ctx, tx, userID)
		if err != nil {
			return err
		}
		if acct.Balance-held < amount {
			return domain.ErrInsufficientCredits
		}

		res, err := model.NewCreditReservation(uuid.NewString(), userID, amount, reference)
		if err != nil {
			return err
		}
		if err := uc.credits.SaveReservation(ctx, tx, res); err != nil {
			return err
		}
		if err := uc.appendEntry(ctx, tx, userID, 0, acct.Balance, model.LedgerKindReserve, res.ID, reference); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			metrics.IncReservation("rejected")
		}
		return nil, err
	}
	metrics.IncReservation("reserved")
	uc.log.Debug().Str("user_id", userID).Str("reference", reference).Int64("amount", amount).Msg("credits reserved")
	return out, nil
}

func (uc *CreditLedgerUseCase) Consume(ctx context.Context, reservationID string, actualAmount int64) (int64, error) {
	if reservationID == "" {
		return 0, domain.ErrInvalidArgument
	}

	var consumed int64
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		res, err := uc.credits.FindReservationForUpdate(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if res.Status.Finalized() {
			return domain.ErrAlreadyFinalized
		}

		amount := res.Amount
		if actualAmount >= 0 && actualAmount < res.Amount {
			amount = actualAmount
		}

		acct, err := uc.credits.FindAccountForUpdate(ctx, tx, res.UserID)
		if err != nil {
			return err
		}
		acct.Balance -= amount
		acct.UpdatedAt = time.Now()
		if err := uc.credits.SaveAccount(ctx, tx, acct); err != nil {
			return err
		}

		now := time.Now()
		res.Status = model.ReservationStatusConsumed
		res.FinalizedAt = &now
		if err := uc.credits.SaveReservation(ctx, tx, res); err != nil {
			return err
		}
		if err := uc.appendEntry(ctx, tx, res.UserID, -amount, acct.Balance, model.LedgerKindConsume, res.ID, res.Reference); err != nil {
			return err
		}
		consumed = amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.IncReservation("consumed")
	metrics.AddCreditsSpent(consumed)
	return consumed, nil
}

func (uc *CreditLedgerUseCase) ConsumeByReference(ctx context.Context, reference string, actualAmount int64) (int64, error) {
	if reference == "" {
		return 0, domain.ErrInvalidArgument
	}
	var id string
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		res, err := uc.credits.FindReservationByReference(ctx, tx, reference)
		if err != nil {
			return err
		}
		id = res.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	consumed, err := uc.Consume(ctx, id, actualAmount)
	if errors.Is(err, domain.ErrAlreadyFinalized) {
		return 0, nil
	}
	return consumed, err
}

func (uc *CreditLedgerUseCase) Release(ctx context.Context, reservationID, reason string) error {
	if reservationID == "" {
		return domain.ErrInvalidArgument
	}

	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		res, err := uc.credits.FindReservationForUpdate(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		return uc.releaseLocked(ctx, tx, res, reason)
	})
	if err != nil {
		return err
	}
	metrics.IncReservation("released")
	return nil
}

func (uc *CreditLedgerUseCase) ReleaseByReference(ctx context.Context, reference, reason string) error {
	if reference == "" {
		return domain.ErrInvalidArgument
	}

	released := false
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		res, err := uc.credits.FindReservationByReference(ctx, tx, reference)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		if res.Status.Finalized() {
			return nil
		}
		// Re-read under lock; another finalizer may have won meanwhile.
		res, err = uc.credits.FindReservationForUpdate(ctx, tx, res.ID)
		if err != nil {
			return err
		}
		if res.Status.Finalized() {
			return nil
		}
		if err := uc.releaseLocked(ctx, tx, res, reason); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return err
	}
	if released {
		metrics.IncReservation("released")
	}
	return nil
}

// releaseLocked finalizes a reservation already locked by the caller. The
// held amount simply stops counting against the available balance; the total
// balance is untouched.
func (uc *CreditLedgerUseCase) releaseLocked(ctx context.Context, tx repository.Tx, res *model.CreditReservation, reason string) error {
	if res.Status.Finalized() {
		return domain.ErrAlreadyFinalized
	}
	acct, err := uc.credits.FindAccountForUpdate(ctx, tx, res.UserID)
	if err != nil {
		return err
	}
	now := time.Now()
	res.Status = model.ReservationStatusReleased
	res.FinalizedAt = &now
	if err := uc.credits.SaveReservation(ctx, tx, res); err != nil {
		return err
	}
	note := res.Reference
	if reason != "" {
		note = reason
	}
	return uc.appendEntry(ctx, tx, res.UserID, 0, acct.Balance, model.LedgerKindRelease, res.ID, note)
}

func (uc *CreditLedgerUseCase) Grant(ctx context.Context, userID string, amount int64, note string) error {
	if userID == "" || amount <= 0 {
		return domain.ErrInvalidArgument
	}
	return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		acct, err := uc.credits.FindAccountForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		acct.Balance += amount
		acct.UpdatedAt = time.Now()
		if err := uc.credits.SaveAccount(ctx, tx, acct); err != nil {
			return err
		}
		return uc.appendEntry(ctx, tx, userID, amount, acct.Balance, model.LedgerKindGrant, "", note)
	})
}

func (uc *CreditLedgerUseCase) Balance(ctx context.Context, userID string) (int64, int64, error) {
	if userID == "" {
		return 0, 0, domain.ErrInvalidArgument
	}
	var total, available int64
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// Read-only lookup: a balance query must not create account rows.
		acct, err := uc.credits.FindAccount(ctx, tx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		held, err := uc.credits.SumOpenReservations(ctx, tx, userID)
		if err != nil {
			return err
		}
		total = acct.Balance
		available = acct.Balance - held
		return nil
	})
	return total, available, err
}

func (uc *CreditLedgerUseCase) appendEntry(ctx context.Context, tx repository.Tx, userID string, delta, balanceAfter int64, kind model.LedgerKind, reservationID, note string) error {
	return uc.credits.AppendLedger(ctx, tx, &model.LedgerEntry{
		ID:            ulid.Make().String(),
		UserID:        userID,
		Delta:         delta,
		BalanceAfter:  balanceAfter,
		Kind:          kind,
		ReservationID: reservationID,
		Note:          note,
		CreatedAt:     time.Now(),
	})
}
