// File: internal/infra/sched/reservation_sweeper.go
package sched

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
	ports "vidfab-pipeline/internal/domain/ports/usecase"
	"vidfab-pipeline/internal/infra/redis"
)

const sweeperLockKey = "sched:reservation_sweeper"

// ReservationSweeper releases credit holds that outlived their work. The
// success and failure paths finalize reservations themselves; the sweeper is
// the backstop for crashes between enqueue and finalize. A hold whose owning
// step or shot is still in flight is left alone regardless of age.
type ReservationSweeper struct {
	credits  repository.CreditRepository
	projects repository.ProjectRepository
	shots    repository.ShotRepository
	ledger   ports.CreditLedger
	locker   redis.Locker
	interval time.Duration
	maxAge   time.Duration
	log      *zerolog.Logger
}

func NewReservationSweeper(
	credits repository.CreditRepository,
	projects repository.ProjectRepository,
	shots repository.ShotRepository,
	ledger ports.CreditLedger,
	locker redis.Locker,
	interval, maxAge time.Duration,
	log *zerolog.Logger,
) *ReservationSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &ReservationSweeper{
		credits: credits, projects: projects, shots: shots, ledger: ledger,
		locker: locker, interval: interval, maxAge: maxAge, log: log,
	}
}

func (w *ReservationSweeper) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *ReservationSweeper) tick(ctx context.Context) {
	token, err := w.locker.TryLock(ctx, sweeperLockKey, w.interval)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			w.log.Error().Err(err).Msg("reservation sweeper lock error")
		}
		return
	}
	defer func() { _ = w.locker.Unlock(ctx, sweeperLockKey, token) }()

	cutoff := time.Now().Add(-w.maxAge)
	stale, err := w.credits.ListStaleReserved(ctx, repository.NoTX, cutoff, 100)
	if err != nil {
		w.log.Error().Err(err).Msg("reservation sweeper scan failed")
		return
	}
	released := 0
	for _, res := range stale {
		live, err := w.holdStillBacked(ctx, res.Reference)
		if err != nil {
			w.log.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to check stale hold")
			continue
		}
		if live {
			continue
		}
		if err := w.ledger.Release(ctx, res.ID, "stale hold swept"); err != nil {
			w.log.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to release stale hold")
			continue
		}
		w.log.Warn().
			Str("reservation_id", res.ID).
			Str("reference", res.Reference).
			Int64("amount", res.Amount).
			Msg("released stale credit hold")
		released++
	}
	if released > 0 {
		w.log.Info().Int("released", released).Msg("stale holds swept")
	}
}

// holdStillBacked reports whether the work behind a reservation reference is
// still running. Unparseable references are treated as unbacked: nothing can
// ever finalize them.
func (w *ReservationSweeper) holdStillBacked(ctx context.Context, reference string) (bool, error) {
	parts := strings.Split(reference, ":")

	// project:{id}:step:{n}
	if len(parts) == 4 && parts[0] == "project" && parts[2] == "step" {
		step, err := strconv.Atoi(parts[3])
		if err != nil || !model.ValidStep(step) {
			return false, nil
		}
		p, err := w.projects.FindByID(ctx, repository.NoTX, parts[1])
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		st, err := p.StepStatus(step)
		if err != nil {
			return false, err
		}
		return st == model.StepStatusProcessing, nil
	}

	// project:{id}:shot:{n}:regen
	if len(parts) == 5 && parts[0] == "project" && parts[2] == "shot" && parts[4] == "regen" {
		shot, err := strconv.Atoi(parts[3])
		if err != nil || shot < 1 {
			return false, nil
		}
		s, err := w.shots.Find(ctx, repository.NoTX, parts[1], shot)
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return s.Status == model.ShotStatusPending || s.Status == model.ShotStatusGenerating, nil
	}

	return false, nil
}
