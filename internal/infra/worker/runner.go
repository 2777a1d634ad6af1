// File: internal/infra/worker/runner.go
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/adapter"
	"vidfab-pipeline/internal/domain/ports/repository"
	"vidfab-pipeline/internal/infra/metrics"
)

// OnDead is invoked after a job is dead-lettered so the state machine can
// fail the owning step.
type OnDead func(ctx context.Context, job *model.Job, reason string)

type RunnerConfig struct {
	PollInterval   time.Duration
	AttemptTimeout time.Duration
}

// Runner drains the durable queue: it claims due jobs, dispatches them to
// registered handlers on the pool, and applies the retry, backoff and
// dead-letter policy around each attempt.
type Runner struct {
	jobs     repository.JobRepository
	registry *Registry
	onDead   OnDead
	cfg      RunnerConfig
	log      *zerolog.Logger
}

func NewRunner(jobs repository.JobRepository, registry *Registry, onDead OnDead, cfg RunnerConfig, log *zerolog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Minute
	}
	return &Runner{jobs: jobs, registry: registry, onDead: onDead, cfg: cfg, log: log}
}

// Start runs the fetch loop until ctx is cancelled. Should be run in a
// goroutine alongside pool.Start.
func (r *Runner) Start(ctx context.Context, pool *Pool) {
	r.log.Info().Msg("job runner started")
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("job runner stopping")
			return
		case <-ticker.C:
			_ = pool.Submit(func(ctx context.Context) error {
				r.processOne(ctx)
				return nil
			})
		}
	}
}

func (r *Runner) processOne(ctx context.Context) {
	job, err := r.jobs.FetchDue(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.log.Error().Err(err).Msg("failed to fetch job")
		}
		return
	}

	handler, ok := r.registry.Lookup(job.Type)
	if !ok {
		// No handler can ever run this job; park it for inspection.
		r.deadLetter(ctx, job, "no handler registered")
		return
	}

	r.log.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Int("attempt", job.Attempt).Msg("processing job")
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	err = handler(attemptCtx, job)
	cancel()
	metrics.ObserveJobDuration(string(job.Type), time.Since(start).Seconds())

	switch {
	case err == nil:
		job.Status = model.JobStatusCompleted
		job.LastError = ""
		// Background context: the result must be recorded even mid-shutdown.
		if serr := r.jobs.Save(context.Background(), repository.NoTX, job); serr != nil {
			r.log.Error().Err(serr).Str("job_id", job.ID).Msg("failed to mark job completed")
		}
		metrics.IncJobProcessed(string(job.Type), "completed")
		r.log.Info().Str("job_id", job.ID).Dur("duration", time.Since(start)).Msg("job completed")

	case errors.Is(err, domain.ErrJobCancelled):
		job.Status = model.JobStatusCancelled
		job.LastError = err.Error()
		if serr := r.jobs.Save(context.Background(), repository.NoTX, job); serr != nil {
			r.log.Error().Err(serr).Str("job_id", job.ID).Msg("failed to mark job cancelled")
		}
		metrics.IncJobProcessed(string(job.Type), "cancelled")

	case adapter.IsTerminal(err):
		// Provider said no; retrying cannot help.
		r.log.Warn().Err(err).Str("job_id", job.ID).Msg("terminal provider error")
		r.deadLetter(ctx, job, err.Error())

	case job.ExhaustedAttempts():
		r.log.Warn().Err(err).Str("job_id", job.ID).Int("attempts", job.Attempt).Msg("job attempts exhausted")
		r.deadLetter(ctx, job, err.Error())

	default:
		delay := job.NextBackoff(job.Attempt)
		job.Status = model.JobStatusWaiting
		job.RunAt = time.Now().Add(delay)
		job.LastError = err.Error()
		if serr := r.jobs.Save(context.Background(), repository.NoTX, job); serr != nil {
			r.log.Error().Err(serr).Str("job_id", job.ID).Msg("failed to reschedule job")
		}
		metrics.IncJobRetried(string(job.Type))
		r.log.Warn().Err(err).Str("job_id", job.ID).Dur("backoff", delay).Msg("job rescheduled")
	}
}

func (r *Runner) deadLetter(ctx context.Context, job *model.Job, reason string) {
	job.Status = model.JobStatusDead
	job.LastError = reason
	if err := r.jobs.Save(context.Background(), repository.NoTX, job); err != nil {
		r.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job dead")
	}
	dl := &model.DeadLetter{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Type:      job.Type,
		Payload:   job.Payload,
		Reason:    reason,
		Attempts:  job.Attempt,
		CreatedAt: time.Now(),
	}
	if err := r.jobs.InsertDeadLetter(context.Background(), repository.NoTX, dl); err != nil {
		r.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to insert dead letter")
	}
	metrics.IncDeadLetter(string(job.Type))
	metrics.IncJobProcessed(string(job.Type), "failed")
	if r.onDead != nil {
		r.onDead(ctx, job, reason)
	}
}
