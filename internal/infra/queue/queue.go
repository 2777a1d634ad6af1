// File: internal/infra/queue/queue.go
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
	ports "vidfab-pipeline/internal/domain/ports/usecase"
	"vidfab-pipeline/internal/infra/metrics"
)

var _ ports.JobQueue = (*Queue)(nil)

// Defaults are applied to enqueue options left at their zero value.
type Defaults struct {
	MaxAttempts  int
	BackoffDelay time.Duration
}

// Queue is the durable job queue facade over the jobs table. Deduplication
// rides on the deterministic idempotency key: one open job per logical unit
// of work.
type Queue struct {
	jobs     repository.JobRepository
	defaults Defaults
	log      *zerolog.Logger
}

func New(jobs repository.JobRepository, defaults Defaults, log *zerolog.Logger) *Queue {
	if defaults.MaxAttempts < 1 {
		defaults.MaxAttempts = 3
	}
	if defaults.BackoffDelay <= 0 {
		defaults.BackoffDelay = time.Minute
	}
	return &Queue{jobs: jobs, defaults: defaults, log: log}
}

// Enqueue schedules work. If an open job already holds the key, its id is
// returned instead of creating a duplicate; the insert race is resolved by
// the partial unique index.
func (q *Queue) Enqueue(ctx context.Context, t model.JobType, payload model.JobPayload, opts ports.EnqueueOptions) (string, error) {
	if !t.Valid() {
		return "", domain.ErrInvalidArgument
	}
	key := model.IdempotencyKey(t, payload.ProjectID, payload.ShotNumber)
	if existing, err := q.jobs.FindOpenByKey(ctx, repository.NoTX, key); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = q.defaults.MaxAttempts
	}
	backoff := opts.BackoffDelay
	if backoff <= 0 {
		backoff = q.defaults.BackoffDelay
	}
	priority := opts.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	job, err := model.NewJob(uuid.NewString(), t, payload, priority, maxAttempts, backoff)
	if err != nil {
		return "", err
	}
	if err := q.jobs.Insert(ctx, repository.NoTX, job); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost the insert race; the winner's job does the work.
			if existing, ferr := q.jobs.FindOpenByKey(ctx, repository.NoTX, key); ferr == nil {
				return existing.ID, nil
			}
			return "", err
		}
		return "", err
	}
	q.log.Debug().Str("job_id", job.ID).Str("type", string(t)).Str("key", key).Msg("job enqueued")
	return job.ID, nil
}

func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	return q.jobs.Cancel(ctx, repository.NoTX, jobID)
}

func (q *Queue) CancelOpenByProject(ctx context.Context, t model.JobType, projectID string) (int, error) {
	return q.jobs.CancelOpenByProject(ctx, repository.NoTX, t, projectID)
}

func (q *Queue) Stats(ctx context.Context) (ports.QueueStats, error) {
	counts, err := q.jobs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return ports.QueueStats{}, err
	}
	stats := ports.QueueStats{
		Waiting:   counts[model.JobStatusWaiting],
		Active:    counts[model.JobStatusActive],
		Completed: counts[model.JobStatusCompleted],
		Cancelled: counts[model.JobStatusCancelled],
		Dead:      counts[model.JobStatusDead],
	}
	metrics.SetQueueDepth("waiting", stats.Waiting)
	metrics.SetQueueDepth("active", stats.Active)
	metrics.SetQueueDepth("dead", stats.Dead)
	return stats, nil
}

func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]*model.DeadLetter, error) {
	return q.jobs.ListDeadLetters(ctx, repository.NoTX, limit)
}
