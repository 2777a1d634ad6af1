// File: internal/infra/worker/runner_test.go
package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/adapter"
	"vidfab-pipeline/internal/domain/ports/repository"
)

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// memJobRepo is a minimal in-memory job store for runner tests. FetchDue
// hands out the queued jobs one by one.
type memJobRepo struct {
	mu      sync.Mutex
	due     []*model.Job
	saved   []*model.Job
	letters []*model.DeadLetter
}

func (r *memJobRepo) Insert(ctx context.Context, tx repository.Tx, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.due = append(r.due, job)
	return nil
}

func (r *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.saved = append(r.saved, &cp)
	return nil
}

func (r *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	return nil, domain.ErrNotFound
}

func (r *memJobRepo) FindOpenByKey(ctx context.Context, tx repository.Tx, key string) (*model.Job, error) {
	return nil, domain.ErrNotFound
}

func (r *memJobRepo) FetchDue(ctx context.Context) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.due) == 0 {
		return nil, domain.ErrNotFound
	}
	job := r.due[0]
	r.due = r.due[1:]
	job.Status = model.JobStatusActive
	job.Attempt++
	return job, nil
}

func (r *memJobRepo) RequeueStale(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) (int, error) {
	return 0, nil
}

func (r *memJobRepo) Cancel(ctx context.Context, tx repository.Tx, id string) error { return nil }

func (r *memJobRepo) CancelOpenByProject(ctx context.Context, tx repository.Tx, t model.JobType, projectID string) (int, error) {
	return 0, nil
}

func (r *memJobRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.JobStatus]int, error) {
	return nil, nil
}

func (r *memJobRepo) InsertDeadLetter(ctx context.Context, tx repository.Tx, dl *model.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = append(r.letters, dl)
	return nil
}

func (r *memJobRepo) ListDeadLetters(ctx context.Context, tx repository.Tx, limit int) ([]*model.DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.letters, nil
}

func (r *memJobRepo) lastSaved(t *testing.T) *model.Job {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		t.Fatal("no job state was saved")
	}
	return r.saved[len(r.saved)-1]
}

func queuedJob(t *testing.T, jobType model.JobType, maxAttempts int) (*memJobRepo, *model.Job) {
	t.Helper()
	job, err := model.NewJob("job-1", jobType, model.JobPayload{ProjectID: "p-1", UserID: "u-1", ShotNumber: 2},
		model.PriorityNormal, maxAttempts, time.Minute)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	repo := &memJobRepo{}
	_ = repo.Insert(context.Background(), repository.NoTX, job)
	return repo, job
}

func newRunner(repo *memJobRepo, registry *Registry, onDead OnDead) *Runner {
	return NewRunner(repo, registry, onDead, RunnerConfig{
		PollInterval:   10 * time.Millisecond,
		AttemptTimeout: time.Second,
	}, testLogger())
}

func TestRunner_ProcessOne(t *testing.T) {
	ctx := context.Background()

	t.Run("should mark a successful job completed", func(t *testing.T) {
		repo, _ := queuedJob(t, model.JobTypeStoryboardGen, 3)
		registry := NewRegistry()
		registry.Register(model.JobTypeStoryboardGen, func(ctx context.Context, job *model.Job) error {
			return nil
		})

		newRunner(repo, registry, nil).processOne(ctx)

		if got := repo.lastSaved(t); got.Status != model.JobStatusCompleted {
			t.Fatalf("expected completed, got %s", got.Status)
		}
	})

	t.Run("should reschedule a transient failure with backoff", func(t *testing.T) {
		repo, _ := queuedJob(t, model.JobTypeStoryboardGen, 3)
		registry := NewRegistry()
		registry.Register(model.JobTypeStoryboardGen, func(ctx context.Context, job *model.Job) error {
			return errors.New("provider timeout")
		})

		before := time.Now()
		newRunner(repo, registry, nil).processOne(ctx)

		got := repo.lastSaved(t)
		if got.Status != model.JobStatusWaiting {
			t.Fatalf("expected waiting, got %s", got.Status)
		}
		if got.LastError != "provider timeout" {
			t.Errorf("expected last error recorded, got %q", got.LastError)
		}
		// first attempt: backoff = delay * 2^0 = 1m
		if got.RunAt.Before(before.Add(50 * time.Second)) {
			t.Errorf("expected run_at pushed out by the backoff, got %s", got.RunAt)
		}
		if len(repo.letters) != 0 {
			t.Errorf("expected no dead letters, got %d", len(repo.letters))
		}
	})

	t.Run("should dead-letter once attempts are exhausted", func(t *testing.T) {
		repo, _ := queuedJob(t, model.JobTypeStoryboardGen, 1)
		registry := NewRegistry()
		registry.Register(model.JobTypeStoryboardGen, func(ctx context.Context, job *model.Job) error {
			return errors.New("provider timeout")
		})

		var deadJob *model.Job
		var deadReason string
		onDead := func(ctx context.Context, job *model.Job, reason string) {
			deadJob = job
			deadReason = reason
		}
		newRunner(repo, registry, onDead).processOne(ctx)

		if got := repo.lastSaved(t); got.Status != model.JobStatusDead {
			t.Fatalf("expected dead, got %s", got.Status)
		}
		if len(repo.letters) != 1 {
			t.Fatalf("expected 1 dead letter, got %d", len(repo.letters))
		}
		if deadJob == nil || deadJob.ID != "job-1" || deadReason != "provider timeout" {
			t.Errorf("expected dead hook invoked with the job, got %+v / %q", deadJob, deadReason)
		}
	})

	t.Run("should dead-letter a terminal provider error on the first attempt", func(t *testing.T) {
		repo, _ := queuedJob(t, model.JobTypeComposeVideo, 3)
		registry := NewRegistry()
		registry.Register(model.JobTypeComposeVideo, func(ctx context.Context, job *model.Job) error {
			return &adapter.TerminalError{Code: 422, Message: "content policy rejection"}
		})

		hookCalled := false
		onDead := func(ctx context.Context, job *model.Job, reason string) { hookCalled = true }
		newRunner(repo, registry, onDead).processOne(ctx)

		got := repo.lastSaved(t)
		if got.Status != model.JobStatusDead {
			t.Fatalf("expected dead, got %s", got.Status)
		}
		if got.Attempt != 1 {
			t.Errorf("expected a single attempt, got %d", got.Attempt)
		}
		if !hookCalled {
			t.Error("expected dead hook to run")
		}
	})

	t.Run("should not fail a pipeline step when a sync job dead-letters", func(t *testing.T) {
		repo, _ := queuedJob(t, model.JobTypeSyncVideoStatus, 1)
		registry := NewRegistry()
		registry.Register(model.JobTypeSyncVideoStatus, func(ctx context.Context, job *model.Job) error {
			return errors.New("db connection reset")
		})

		// Mirrors the wiring hook: only job types with an owning step fail it.
		failedSteps := 0
		onDead := func(ctx context.Context, job *model.Job, reason string) {
			if _, ok := StepForJobType(job.Type); ok {
				failedSteps++
			}
		}
		newRunner(repo, registry, onDead).processOne(ctx)

		if got := repo.lastSaved(t); got.Status != model.JobStatusDead {
			t.Fatalf("expected dead, got %s", got.Status)
		}
		if failedSteps != 0 {
			t.Errorf("expected no step failure for a dead sync job, got %d", failedSteps)
		}
	})

	t.Run("should settle a cancelled job without dead-lettering", func(t *testing.T) {
		repo, _ := queuedJob(t, model.JobTypeVideoClipGen, 3)
		registry := NewRegistry()
		registry.Register(model.JobTypeVideoClipGen, func(ctx context.Context, job *model.Job) error {
			return domain.ErrJobCancelled
		})

		newRunner(repo, registry, nil).processOne(ctx)

		if got := repo.lastSaved(t); got.Status != model.JobStatusCancelled {
			t.Fatalf("expected cancelled, got %s", got.Status)
		}
		if len(repo.letters) != 0 {
			t.Errorf("expected no dead letters, got %d", len(repo.letters))
		}
	})

	t.Run("should dead-letter a job with no registered handler", func(t *testing.T) {
		repo, _ := queuedJob(t, model.JobTypeSyncVideoStatus, 3)

		newRunner(repo, NewRegistry(), nil).processOne(ctx)

		if got := repo.lastSaved(t); got.Status != model.JobStatusDead {
			t.Fatalf("expected dead, got %s", got.Status)
		}
		if len(repo.letters) != 1 || repo.letters[0].Reason != "no handler registered" {
			t.Fatalf("unexpected dead letters: %+v", repo.letters)
		}
	})

	t.Run("should do nothing on an idle queue", func(t *testing.T) {
		repo := &memJobRepo{}
		newRunner(repo, NewRegistry(), nil).processOne(ctx)
		if len(repo.saved) != 0 {
			t.Fatalf("expected no saves, got %d", len(repo.saved))
		}
	})
}

func TestRegistry(t *testing.T) {
	t.Run("should panic on duplicate registration", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		r := NewRegistry()
		h := func(ctx context.Context, job *model.Job) error { return nil }
		r.Register(model.JobTypeScriptAnalysis, h)
		r.Register(model.JobTypeScriptAnalysis, h)
	})

	t.Run("should panic on an unknown job type", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		NewRegistry().Register(model.JobType("bogus"), func(ctx context.Context, job *model.Job) error { return nil })
	})

	t.Run("should look up a registered handler", func(t *testing.T) {
		r := NewRegistry()
		r.Register(model.JobTypeScriptAnalysis, func(ctx context.Context, job *model.Job) error { return nil })
		if _, ok := r.Lookup(model.JobTypeScriptAnalysis); !ok {
			t.Fatal("expected handler")
		}
		if _, ok := r.Lookup(model.JobTypeComposeVideo); ok {
			t.Fatal("expected no handler")
		}
	})
}

func TestStepForJobType(t *testing.T) {
	cases := []struct {
		jobType model.JobType
		step    int
		ok      bool
	}{
		{model.JobTypeScriptAnalysis, model.StepScriptAnalysis, true},
		{model.JobTypeStoryboardGen, model.StepStoryboards, true},
		{model.JobTypeStoryboardDownload, model.StepAssetDownload, true},
		{model.JobTypeVideoClipGen, model.StepVideoClips, true},
		{model.JobTypeVideoClipDownload, model.StepAssetDownload, true},
		{model.JobTypeSyncVideoStatus, 0, false},
		{model.JobTypeComposeVideo, model.StepCompose, true},
		{model.JobType("bogus"), 0, false},
	}
	for _, tc := range cases {
		step, ok := StepForJobType(tc.jobType)
		if ok != tc.ok || (ok && step != tc.step) {
			t.Errorf("%s: got (%d,%v), want (%d,%v)", tc.jobType, step, ok, tc.step, tc.ok)
		}
	}
}
