// File: internal/infra/sched/job_reaper.go
package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/ports/repository"
	"vidfab-pipeline/internal/infra/redis"
)

const jobReaperLockKey = "sched:job_reaper"

const reapBatchSize = 100

// JobReaper requeues jobs stranded in active state. A worker killed between
// claiming a job and settling it leaves the row active forever; the open
// idempotency key then blocks re-enqueueing the same unit and the owning step
// never resolves. Flipping the row back to waiting puts the job back under
// the normal retry and dead-letter policy.
type JobReaper struct {
	jobs       repository.JobRepository
	locker     redis.Locker
	interval   time.Duration
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewJobReaper(
	jobs repository.JobRepository,
	locker redis.Locker,
	interval time.Duration,
	staleAfter time.Duration,
	log *zerolog.Logger,
) *JobReaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &JobReaper{jobs: jobs, locker: locker, interval: interval, staleAfter: staleAfter, log: log}
}

func (w *JobReaper) Start(ctx context.Context) {
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

func (w *JobReaper) tick(ctx context.Context) {
	token, err := w.locker.TryLock(ctx, jobReaperLockKey, w.interval)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			w.log.Error().Err(err).Msg("job reaper lock error")
		}
		return
	}
	defer func() { _ = w.locker.Unlock(ctx, jobReaperLockKey, token) }()

	cutoff := time.Now().Add(-w.staleAfter)
	n, err := w.jobs.RequeueStale(ctx, repository.NoTX, cutoff, reapBatchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("job reaper scan failed")
		return
	}
	if n > 0 {
		w.log.Warn().Int("jobs", n).Msg("requeued abandoned jobs")
	}
}
