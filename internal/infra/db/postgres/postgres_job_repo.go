package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

// Insert adds a waiting job. The partial unique index on idempotency_key
// (WHERE status IN ('waiting','active')) turns a concurrent duplicate into
// ErrAlreadyExists.
func (r *jobRepo) Insert(ctx context.Context, tx repository.Tx, job *model.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO jobs (id, idempotency_key, type, payload, priority_rank, status,
  attempt, max_attempts, backoff_delay_ms, run_at, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`
	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.IdempotencyKey, job.Type, payload, job.Priority.Rank(), job.Status,
		job.Attempt, job.MaxAttempts, job.BackoffDelay.Milliseconds(), job.RunAt, job.LastError,
		job.CreatedAt, job.UpdatedAt)
	return translateErr(err)
}

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	job.UpdatedAt = time.Now()
	const q = `
UPDATE jobs
SET status = $2, attempt = $3, run_at = $4, last_error = $5, updated_at = $6
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.Status, job.Attempt, job.RunAt, job.LastError, job.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const jobSelect = `
SELECT id, idempotency_key, type, payload, priority_rank, status,
  attempt, max_attempts, backoff_delay_ms, run_at, last_error, created_at, updated_at
FROM jobs`

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, jobSelect+` WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) FindOpenByKey(ctx context.Context, tx repository.Tx, key string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx,
		jobSelect+` WHERE idempotency_key = $1 AND status IN ('waiting', 'active');`, key)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// FetchDue claims the next runnable job: waiting, due, highest priority rank
// first then FIFO. SKIP LOCKED lets concurrent workers claim disjoint jobs.
func (r *jobRepo) FetchDue(ctx context.Context) (*model.Job, error) {
	var job *model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetchQuery = jobSelect + `
WHERE status = 'waiting' AND run_at <= now()
ORDER BY priority_rank, created_at
LIMIT 1
FOR UPDATE SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, fetchQuery)
		if err != nil {
			return err
		}
		fetched, err := scanJob(row)
		if err != nil {
			return err
		}

		fetched.Status = model.JobStatusActive
		fetched.Attempt++
		if err := r.Save(ctx, tx, fetched); err != nil {
			return err
		}
		job = fetched
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

// RequeueStale reclaims jobs stranded in active state by a worker that died
// between claiming and settling. The attempt counter already advanced on
// claim, so a repeatedly crashing job still exhausts its budget.
func (r *jobRepo) RequeueStale(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) (int, error) {
	const q = `
UPDATE jobs
SET status = 'waiting', run_at = now(), last_error = 'attempt abandoned', updated_at = now()
WHERE id IN (
  SELECT id FROM jobs
  WHERE status = 'active' AND updated_at < $1
  ORDER BY updated_at
  LIMIT $2
  FOR UPDATE SKIP LOCKED
);`
	tag, err := execSQL(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *jobRepo) Cancel(ctx context.Context, tx repository.Tx, id string) error {
	const q = `
UPDATE jobs
SET status = 'cancelled', updated_at = now()
WHERE id = $1 AND status = 'waiting';`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either gone or already picked up; distinguish for the caller.
		if _, err := r.FindByID(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrJobNotCancelled
	}
	return nil
}

func (r *jobRepo) CancelOpenByProject(ctx context.Context, tx repository.Tx, t model.JobType, projectID string) (int, error) {
	const q = `
UPDATE jobs
SET status = 'cancelled', updated_at = now()
WHERE type = $1 AND payload->>'projectId' = $2 AND status = 'waiting';`
	tag, err := execSQL(ctx, r.pool, tx, q, t, projectID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *jobRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.JobStatus]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM jobs
GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *jobRepo) InsertDeadLetter(ctx context.Context, tx repository.Tx, dl *model.DeadLetter) error {
	payload, err := json.Marshal(dl.Payload)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO dead_letters (id, job_id, type, payload, reason, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
	_, err = execSQL(ctx, r.pool, tx, q,
		dl.ID, dl.JobID, dl.Type, payload, dl.Reason, dl.Attempts, dl.CreatedAt)
	return translateErr(err)
}

func (r *jobRepo) ListDeadLetters(ctx context.Context, tx repository.Tx, limit int) ([]*model.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, job_id, type, payload, reason, attempts, created_at
FROM dead_letters
ORDER BY created_at DESC
LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DeadLetter
	for rows.Next() {
		var dl model.DeadLetter
		var jobType string
		var payload []byte
		if err := rows.Scan(&dl.ID, &dl.JobID, &jobType, &payload, &dl.Reason, &dl.Attempts, &dl.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		dl.Type = model.JobType(jobType)
		if err := json.Unmarshal(payload, &dl.Payload); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &dl)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var jobType, status string
	var rank int
	var payload []byte
	var backoffMs int64
	err := row.Scan(
		&j.ID, &j.IdempotencyKey, &jobType, &payload, &rank, &status,
		&j.Attempt, &j.MaxAttempts, &backoffMs, &j.RunAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, translateErr(err)
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	j.Type = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	j.Priority = model.PriorityFromRank(rank)
	j.BackoffDelay = time.Duration(backoffMs) * time.Millisecond
	return &j, nil
}
