package repository

import (
	"context"
	"time"

	"vidfab-pipeline/internal/domain/model"
)

type JobRepository interface {
	// Insert adds a new waiting job. Returns domain.ErrAlreadyExists when a
	// job with the same idempotency key is still waiting or active.
	Insert(ctx context.Context, tx Tx, job *model.Job) error
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// FindOpenByKey returns the waiting/active job holding the idempotency
	// key, or domain.ErrNotFound.
	FindOpenByKey(ctx context.Context, tx Tx, key string) (*model.Job, error)

	// FetchDue atomically claims the next runnable job (status=waiting,
	// run_at <= now) by priority rank then FIFO, marks it active and returns
	// it. domain.ErrNotFound when the queue is idle.
	FetchDue(ctx context.Context) (*model.Job, error)

	// RequeueStale flips active jobs not updated since cutoff back to
	// waiting, so work abandoned by a crashed worker re-enters the retry
	// policy. Returns how many jobs were requeued.
	RequeueStale(ctx context.Context, tx Tx, cutoff time.Time, limit int) (int, error)

	// Cancel marks a waiting job cancelled. domain.ErrJobNotCancelled if it
	// was already picked up or finished.
	Cancel(ctx context.Context, tx Tx, id string) error
	// CancelOpenByProject cancels all waiting jobs of the given type for a
	// project and returns how many were cancelled.
	CancelOpenByProject(ctx context.Context, tx Tx, t model.JobType, projectID string) (int, error)

	CountByStatus(ctx context.Context, tx Tx) (map[model.JobStatus]int, error)

	InsertDeadLetter(ctx context.Context, tx Tx, dl *model.DeadLetter) error
	ListDeadLetters(ctx context.Context, tx Tx, limit int) ([]*model.DeadLetter, error)
}
