// File: internal/infra/sched/sync_poller.go
package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
	ports "vidfab-pipeline/internal/domain/ports/usecase"
	"vidfab-pipeline/internal/infra/redis"
)

const syncPollerLockKey = "sched:sync_poller"

// SyncPoller periodically schedules one sync_video_status job per project
// with in-flight video tasks. It backstops lost provider callbacks: even if
// every push notification is dropped, shot state converges within one poll
// interval. A Redis lock keeps the scan single-flight across replicas.
type SyncPoller struct {
	projects repository.ProjectRepository
	queue    ports.JobQueue
	locker   redis.Locker
	interval time.Duration
	log      *zerolog.Logger
}

func NewSyncPoller(
	projects repository.ProjectRepository,
	queue ports.JobQueue,
	locker redis.Locker,
	interval time.Duration,
	log *zerolog.Logger,
) *SyncPoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SyncPoller{projects: projects, queue: queue, locker: locker, interval: interval, log: log}
}

func (w *SyncPoller) Start(ctx context.Context) {
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

func (w *SyncPoller) tick(ctx context.Context) {
	token, err := w.locker.TryLock(ctx, syncPollerLockKey, w.interval)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			w.log.Error().Err(err).Msg("sync poller lock error")
		}
		return
	}
	defer func() { _ = w.locker.Unlock(ctx, syncPollerLockKey, token) }()

	projects, err := w.projects.ListStepProcessing(ctx, repository.NoTX, model.StepVideoClips, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("sync poller scan failed")
		return
	}
	for _, p := range projects {
		// Default retry budget: a transient error inside the sync handler must
		// not dead-letter the reconciler while provider tasks are still fine.
		_, err := w.queue.Enqueue(ctx, model.JobTypeSyncVideoStatus, model.JobPayload{
			ProjectID: p.ID,
			UserID:    p.UserID,
		}, ports.EnqueueOptions{Priority: model.PriorityHigh})
		if err != nil {
			w.log.Error().Err(err).Str("project_id", p.ID).Msg("failed to enqueue sync job")
		}
	}
	if len(projects) > 0 {
		w.log.Debug().Int("projects", len(projects)).Msg("sync jobs scheduled")
	}
}
