// File: internal/infra/sched/batch_dispatcher.go
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

const batchDispatcherLockKey = "sched:batch_dispatcher"

// BatchDispatcher scans for shots whose provider asset has not reached
// durable storage yet and enqueues the matching download job. Downloads are
// only ever created here, so an asset can never be fetched before the
// generation that produced it was recorded.
type BatchDispatcher struct {
	shots     repository.ShotRepository
	queue     ports.JobQueue
	locker    redis.Locker
	interval  time.Duration
	batchSize int
	log       *zerolog.Logger
}

func NewBatchDispatcher(
	shots repository.ShotRepository,
	queue ports.JobQueue,
	locker redis.Locker,
	interval time.Duration,
	batchSize int,
	log *zerolog.Logger,
) *BatchDispatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &BatchDispatcher{shots: shots, queue: queue, locker: locker, interval: interval, batchSize: batchSize, log: log}
}

func (w *BatchDispatcher) Start(ctx context.Context) {
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

func (w *BatchDispatcher) tick(ctx context.Context) {
	token, err := w.locker.TryLock(ctx, batchDispatcherLockKey, w.interval)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			w.log.Error().Err(err).Msg("batch dispatcher lock error")
		}
		return
	}
	defer func() { _ = w.locker.Unlock(ctx, batchDispatcherLockKey, token) }()

	pending, err := w.shots.ListAllPendingDownload(ctx, repository.NoTX, w.batchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("batch dispatcher scan failed")
		return
	}
	enqueued := 0
	for _, s := range pending {
		jobType, src := downloadFor(s)
		if src == "" {
			continue // nothing fetchable yet
		}
		_, err := w.queue.Enqueue(ctx, jobType, model.JobPayload{
			ProjectID:   s.ProjectID,
			ShotNumber:  s.ShotNumber,
			ExternalURL: src,
		}, ports.EnqueueOptions{})
		if err != nil {
			w.log.Error().Err(err).Str("project_id", s.ProjectID).Int("shot", s.ShotNumber).Msg("failed to enqueue download")
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		w.log.Debug().Int("downloads", enqueued).Msg("download jobs dispatched")
	}
}

// downloadFor picks which asset of the shot is waiting for storage. A shot
// with a provider-hosted clip is past the storyboard phase; its pending
// storage state refers to the clip.
func downloadFor(s *model.Shot) (model.JobType, string) {
	if s.VideoURLExt != "" {
		return model.JobTypeVideoClipDownload, s.VideoURLExt
	}
	return model.JobTypeStoryboardDownload, s.ImageURLExt
}
