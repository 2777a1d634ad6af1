//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
)

func newTestJob(t *testing.T, jobType model.JobType, projectID string, shot int, priority model.JobPriority) *model.Job {
	t.Helper()
	job, err := model.NewJob(uuid.NewString(), jobType, model.JobPayload{
		ProjectID:  projectID,
		UserID:     "user-1",
		ShotNumber: shot,
	}, priority, 3, time.Minute)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	tm := NewTxManager(testPool)
	repo := NewJobRepo(testPool, tm)

	t.Run("should reject a second open job with the same key", func(t *testing.T) {
		cleanup(t)
		first := newTestJob(t, model.JobTypeStoryboardGen, "p1", 1, model.PriorityNormal)
		if err := repo.Insert(ctx, nil, first); err != nil {
			t.Fatalf("insert: %v", err)
		}
		dup := newTestJob(t, model.JobTypeStoryboardGen, "p1", 1, model.PriorityNormal)
		if err := repo.Insert(ctx, nil, dup); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("duplicate insert: err = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("should fetch by priority rank then FIFO", func(t *testing.T) {
		cleanup(t)
		low := newTestJob(t, model.JobTypeStoryboardGen, "p1", 1, model.PriorityLow)
		normalOld := newTestJob(t, model.JobTypeStoryboardGen, "p1", 2, model.PriorityNormal)
		normalNew := newTestJob(t, model.JobTypeStoryboardGen, "p1", 3, model.PriorityNormal)
		normalNew.CreatedAt = normalOld.CreatedAt.Add(time.Second)
		high := newTestJob(t, model.JobTypeVideoClipGen, "p1", 1, model.PriorityHigh)
		for _, j := range []*model.Job{low, normalOld, normalNew, high} {
			if err := repo.Insert(ctx, nil, j); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}

		wantOrder := []string{high.ID, normalOld.ID, normalNew.ID, low.ID}
		for i, want := range wantOrder {
			got, err := repo.FetchDue(ctx)
			if err != nil {
				t.Fatalf("fetch %d: %v", i, err)
			}
			if got.ID != want {
				t.Fatalf("fetch %d = %s, want %s", i, got.ID, want)
			}
			if got.Status != model.JobStatusActive || got.Attempt != 1 {
				t.Fatalf("fetched job not claimed: status=%s attempt=%d", got.Status, got.Attempt)
			}
		}
		if _, err := repo.FetchDue(ctx); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("empty queue: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("should not fetch a job before its run_at", func(t *testing.T) {
		cleanup(t)
		job := newTestJob(t, model.JobTypeStoryboardGen, "p1", 1, model.PriorityNormal)
		job.RunAt = time.Now().Add(time.Hour)
		if err := repo.Insert(ctx, nil, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := repo.FetchDue(ctx); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound (job not due)", err)
		}
	})

	t.Run("should requeue a job abandoned in active state", func(t *testing.T) {
		cleanup(t)
		job := newTestJob(t, model.JobTypeVideoClipGen, "p1", 1, model.PriorityNormal)
		if err := repo.Insert(ctx, nil, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
		claimed, err := repo.FetchDue(ctx)
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		// Simulate a worker that died mid-attempt: the row stays active and
		// only ages.
		if _, err := testPool.Exec(ctx,
			`UPDATE jobs SET updated_at = now() - interval '1 hour' WHERE id = $1`, claimed.ID); err != nil {
			t.Fatalf("age job: %v", err)
		}

		n, err := repo.RequeueStale(ctx, nil, time.Now().Add(-30*time.Minute), 10)
		if err != nil {
			t.Fatalf("requeue stale: %v", err)
		}
		if n != 1 {
			t.Fatalf("requeued = %d, want 1", n)
		}

		got, err := repo.FetchDue(ctx)
		if err != nil {
			t.Fatalf("refetch: %v", err)
		}
		if got.ID != claimed.ID || got.Attempt != 2 {
			t.Fatalf("refetched id=%s attempt=%d, want %s attempt=2", got.ID, got.Attempt, claimed.ID)
		}
	})

	t.Run("should leave a live active job alone", func(t *testing.T) {
		cleanup(t)
		job := newTestJob(t, model.JobTypeVideoClipGen, "p1", 1, model.PriorityNormal)
		if err := repo.Insert(ctx, nil, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := repo.FetchDue(ctx); err != nil {
			t.Fatalf("fetch: %v", err)
		}

		n, err := repo.RequeueStale(ctx, nil, time.Now().Add(-30*time.Minute), 10)
		if err != nil {
			t.Fatalf("requeue stale: %v", err)
		}
		if n != 0 {
			t.Fatalf("requeued = %d, want 0 (attempt still fresh)", n)
		}
	})

	t.Run("should cancel only waiting jobs", func(t *testing.T) {
		cleanup(t)
		job := newTestJob(t, model.JobTypeStoryboardGen, "p1", 1, model.PriorityNormal)
		if err := repo.Insert(ctx, nil, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := repo.Cancel(ctx, nil, job.ID); err != nil {
			t.Fatalf("cancel waiting: %v", err)
		}

		active := newTestJob(t, model.JobTypeStoryboardGen, "p1", 2, model.PriorityNormal)
		if err := repo.Insert(ctx, nil, active); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := repo.FetchDue(ctx); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if err := repo.Cancel(ctx, nil, active.ID); !errors.Is(err, domain.ErrJobNotCancelled) {
			t.Fatalf("cancel active: err = %v, want ErrJobNotCancelled", err)
		}
	})

	t.Run("should cancel all waiting jobs of a project and type", func(t *testing.T) {
		cleanup(t)
		for i := 1; i <= 3; i++ {
			if err := repo.Insert(ctx, nil, newTestJob(t, model.JobTypeStoryboardGen, "p1", i, model.PriorityNormal)); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		if err := repo.Insert(ctx, nil, newTestJob(t, model.JobTypeStoryboardGen, "p2", 1, model.PriorityNormal)); err != nil {
			t.Fatalf("insert other project: %v", err)
		}

		n, err := repo.CancelOpenByProject(ctx, nil, model.JobTypeStoryboardGen, "p1")
		if err != nil {
			t.Fatalf("cancel by project: %v", err)
		}
		if n != 3 {
			t.Fatalf("cancelled = %d, want 3", n)
		}
		// The other project's job is untouched.
		if _, err := repo.FetchDue(ctx); err != nil {
			t.Fatalf("fetch survivor: %v", err)
		}
	})

	t.Run("should round-trip the payload through jsonb", func(t *testing.T) {
		cleanup(t)
		job := newTestJob(t, model.JobTypeStoryboardDownload, "p1", 2, model.PriorityNormal)
		job.Payload.ExternalURL = "https://provider.example/img.png"
		if err := repo.Insert(ctx, nil, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
		got, err := repo.FindByID(ctx, nil, job.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.Payload.ExternalURL != job.Payload.ExternalURL || got.Payload.ShotNumber != 2 {
			t.Fatalf("payload = %+v", got.Payload)
		}
		if got.BackoffDelay != time.Minute {
			t.Fatalf("backoff = %v, want 1m", got.BackoffDelay)
		}
	})

	t.Run("should store and list dead letters newest first", func(t *testing.T) {
		cleanup(t)
		job := newTestJob(t, model.JobTypeVideoClipGen, "p1", 1, model.PriorityNormal)
		if err := repo.Insert(ctx, nil, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
		dl := &model.DeadLetter{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			Type:      job.Type,
			Payload:   job.Payload,
			Reason:    "attempts exhausted",
			Attempts:  3,
			CreatedAt: time.Now(),
		}
		if err := repo.InsertDeadLetter(ctx, nil, dl); err != nil {
			t.Fatalf("insert dead letter: %v", err)
		}
		list, err := repo.ListDeadLetters(ctx, nil, 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 1 || list[0].JobID != job.ID {
			t.Fatalf("dead letters = %+v", list)
		}
	})
}
