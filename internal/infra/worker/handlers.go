// File: internal/infra/worker/handlers.go
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/adapter"
	"vidfab-pipeline/internal/domain/ports/repository"
	ports "vidfab-pipeline/internal/domain/ports/usecase"
	"vidfab-pipeline/internal/infra/metrics"
)

// Handlers wires the job types to the pipeline state machine, the provider
// and durable storage. Every outcome funnels through the pipeline's
// CompleteStepUnit/FailStepUnit so delivery-path races resolve in one place.
type Handlers struct {
	pipeline ports.Pipeline
	progress ports.ProgressStore
	projects repository.ProjectRepository
	shots    repository.ShotRepository
	provider adapter.GenerationProvider
	storage  adapter.DurableStorage
	poll     time.Duration
	log      *zerolog.Logger
}

func NewHandlers(
	pipeline ports.Pipeline,
	progress ports.ProgressStore,
	projects repository.ProjectRepository,
	shots repository.ShotRepository,
	provider adapter.GenerationProvider,
	storage adapter.DurableStorage,
	pollInterval time.Duration,
	log *zerolog.Logger,
) *Handlers {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Handlers{
		pipeline: pipeline,
		progress: progress,
		projects: projects,
		shots:    shots,
		provider: provider,
		storage:  storage,
		poll:     pollInterval,
		log:      log,
	}
}

// RegisterAll binds every known job type.
func (h *Handlers) RegisterAll(r *Registry) {
	r.Register(model.JobTypeScriptAnalysis, h.HandleScriptAnalysis)
	r.Register(model.JobTypeStoryboardGen, h.HandleStoryboardGeneration)
	r.Register(model.JobTypeStoryboardDownload, h.HandleStoryboardDownload)
	r.Register(model.JobTypeVideoClipGen, h.HandleVideoClipGeneration)
	r.Register(model.JobTypeVideoClipDownload, h.HandleVideoClipDownload)
	r.Register(model.JobTypeSyncVideoStatus, h.HandleSyncVideoStatus)
	r.Register(model.JobTypeComposeVideo, h.HandleComposeVideo)
}

// StepForJobType maps a job type to the pipeline step it executes, so the
// dead-letter hook can fail the owning step. Sync jobs carry no step: a dead
// sync job is safe to drop, the next poller scan enqueues a fresh one.
func StepForJobType(t model.JobType) (int, bool) {
	switch t {
	case model.JobTypeScriptAnalysis:
		return model.StepScriptAnalysis, true
	case model.JobTypeStoryboardGen:
		return model.StepStoryboards, true
	case model.JobTypeVideoClipGen:
		return model.StepVideoClips, true
	case model.JobTypeStoryboardDownload, model.JobTypeVideoClipDownload:
		return model.StepAssetDownload, true
	case model.JobTypeComposeVideo:
		return model.StepCompose, true
	}
	return 0, false
}

func (h *Handlers) HandleScriptAnalysis(ctx context.Context, job *model.Job) error {
	p, err := h.projects.FindByID(ctx, repository.NoTX, job.Payload.ProjectID)
	if err != nil {
		return err
	}
	if st, _ := p.StepStatus(model.StepScriptAnalysis); st != model.StepStatusProcessing {
		return domain.ErrJobCancelled
	}

	plan, err := h.provider.AnalyzeScript(ctx, p.Script)
	if err != nil {
		return err
	}
	inputs := make([]ports.ShotPlanInput, 0, len(plan))
	for _, sp := range plan {
		inputs = append(inputs, ports.ShotPlanInput{
			ShotNumber:   sp.ShotNumber,
			Prompt:       sp.Prompt,
			CharacterIDs: sp.CharacterIDs,
		})
	}
	return h.pipeline.ApplyScriptAnalysis(ctx, p.ID, inputs)
}

// HandleStoryboardGeneration submits an image task and waits for it within
// the attempt. Image tasks are short; the attempt timeout bounds the wait.
func (h *Handlers) HandleStoryboardGeneration(ctx context.Context, job *model.Job) error {
	p, err := h.projects.FindByID(ctx, repository.NoTX, job.Payload.ProjectID)
	if err != nil {
		return err
	}
	shot, err := h.shots.Find(ctx, repository.NoTX, p.ID, job.Payload.ShotNumber)
	if err != nil {
		return err
	}
	if shot.Status == model.ShotStatusSuccess {
		return nil // replayed delivery
	}
	if st, _ := p.StepStatus(model.StepStoryboards); st == model.StepStatusFailed {
		return domain.ErrJobCancelled
	}

	taskID, err := h.provider.Submit(ctx, adapter.SubmitRequest{
		Kind:   adapter.TaskKindImage,
		Prompt: shot.Prompt,
		Params: map[string]string{"style_id": p.StyleID},
	})
	if err != nil {
		return err
	}
	h.setProgress(ctx, job, 25, "image task submitted")

	status, err := h.waitForTask(ctx, taskID)
	if err != nil {
		return err
	}
	if status.State == adapter.TaskStateFailed {
		return &adapter.TerminalError{Message: status.Error}
	}
	h.setProgress(ctx, job, 100, "image ready")
	return h.pipeline.CompleteStepUnit(ctx, p.ID, model.StepStoryboards, ports.StepUnitResult{
		ShotNumber:     shot.ShotNumber,
		Kind:           ports.UnitKindStoryboard,
		AssetURL:       status.OutputURL,
		ProviderTaskID: taskID,
	})
}

// HandleVideoClipGeneration only submits; completion arrives through the
// provider sync jobs because video tasks outlive any reasonable attempt.
func (h *Handlers) HandleVideoClipGeneration(ctx context.Context, job *model.Job) error {
	p, err := h.projects.FindByID(ctx, repository.NoTX, job.Payload.ProjectID)
	if err != nil {
		return err
	}
	shot, err := h.shots.Find(ctx, repository.NoTX, p.ID, job.Payload.ShotNumber)
	if err != nil {
		return err
	}
	if shot.Status == model.ShotStatusSuccess {
		return nil
	}
	if shot.Status == model.ShotStatusGenerating && shot.ProviderTaskID != "" {
		return nil // already submitted, poller owns it now
	}
	if st, _ := p.StepStatus(model.StepVideoClips); st != model.StepStatusProcessing {
		return domain.ErrJobCancelled
	}

	imageURL := shot.ImageURL
	if imageURL == "" {
		imageURL = shot.ImageURLExt
	}
	taskID, err := h.provider.Submit(ctx, adapter.SubmitRequest{
		Kind:      adapter.TaskKindVideo,
		Prompt:    shot.Prompt,
		AssetURLs: []string{imageURL},
		Params:    map[string]string{"style_id": p.StyleID},
	})
	if err != nil {
		return err
	}
	h.setProgress(ctx, job, 20, "video task submitted")
	return h.pipeline.MarkShotGenerating(ctx, p.ID, shot.ShotNumber, taskID)
}

// HandleSyncVideoStatus reconciles every in-flight video task of a project
// in one pass. It never fails the job for still-processing tasks; the poller
// schedules the next pass.
func (h *Handlers) HandleSyncVideoStatus(ctx context.Context, job *model.Job) error {
	generating, err := h.shots.ListGenerating(ctx, repository.NoTX, job.Payload.ProjectID)
	if err != nil {
		return err
	}
	for _, shot := range generating {
		status, err := h.provider.PollStatus(ctx, shot.ProviderTaskID)
		if err != nil {
			h.log.Warn().Err(err).Str("project_id", shot.ProjectID).Int("shot", shot.ShotNumber).Msg("poll failed")
			continue // transient; next sync pass retries
		}
		switch status.State {
		case adapter.TaskStateCompleted:
			err = h.pipeline.CompleteStepUnit(ctx, shot.ProjectID, model.StepVideoClips, ports.StepUnitResult{
				ShotNumber:     shot.ShotNumber,
				Kind:           ports.UnitKindClip,
				AssetURL:       status.OutputURL,
				ProviderTaskID: shot.ProviderTaskID,
			})
		case adapter.TaskStateFailed:
			err = h.pipeline.FailStepUnit(ctx, shot.ProjectID, model.StepVideoClips, shot.ShotNumber, status.Error)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) HandleStoryboardDownload(ctx context.Context, job *model.Job) error {
	return h.download(ctx, job, ports.UnitKindStoryboard)
}

func (h *Handlers) HandleVideoClipDownload(ctx context.Context, job *model.Job) error {
	return h.download(ctx, job, ports.UnitKindClip)
}

func (h *Handlers) download(ctx context.Context, job *model.Job, kind ports.UnitKind) error {
	shot, err := h.shots.Find(ctx, repository.NoTX, job.Payload.ProjectID, job.Payload.ShotNumber)
	if err != nil {
		return err
	}
	if shot.StorageStatus == model.StorageStatusDownloaded {
		metrics.IncAssetDownload(string(kind), "skipped")
		return nil
	}

	var src, dest string
	switch kind {
	case ports.UnitKindClip:
		src = shot.VideoURLExt
		dest = fmt.Sprintf("projects/%s/clips/%d.mp4", shot.ProjectID, shot.ShotNumber)
	default:
		src = shot.ImageURLExt
		dest = fmt.Sprintf("projects/%s/storyboards/%d/v%d.png", shot.ProjectID, shot.ShotNumber, shot.CurrentVersion)
	}
	if src == "" && job.Payload.ExternalURL != "" {
		src = job.Payload.ExternalURL
	}
	if src == "" {
		return &adapter.TerminalError{Message: "no source url for download"}
	}

	cdnURL, size, err := h.storage.FetchAndStore(ctx, src, dest)
	if err != nil {
		metrics.IncAssetDownload(string(kind), "failed")
		return err
	}
	metrics.IncAssetDownload(string(kind), "ok")
	metrics.AddAssetBytes(size)

	return h.pipeline.CompleteStepUnit(ctx, shot.ProjectID, model.StepAssetDownload, ports.StepUnitResult{
		ShotNumber: shot.ShotNumber,
		Kind:       kind,
		DurableURL: cdnURL,
	})
}

func (h *Handlers) HandleComposeVideo(ctx context.Context, job *model.Job) error {
	p, err := h.projects.FindByID(ctx, repository.NoTX, job.Payload.ProjectID)
	if err != nil {
		return err
	}
	if st, _ := p.StepStatus(model.StepCompose); st != model.StepStatusProcessing {
		return domain.ErrJobCancelled
	}
	shots, err := h.shots.ListByProject(ctx, repository.NoTX, p.ID)
	if err != nil {
		return err
	}
	clips := make([]string, 0, len(shots))
	for _, s := range shots {
		if s.VideoURL == "" {
			return &adapter.TerminalError{Message: fmt.Sprintf("shot %d has no stored clip", s.ShotNumber)}
		}
		clips = append(clips, s.VideoURL)
	}

	taskID, err := h.provider.Submit(ctx, adapter.SubmitRequest{
		Kind:      adapter.TaskKindCompose,
		AssetURLs: clips,
	})
	if err != nil {
		return err
	}
	h.setProgress(ctx, job, 30, "compose task submitted")

	status, err := h.waitForTask(ctx, taskID)
	if err != nil {
		return err
	}
	if status.State == adapter.TaskStateFailed {
		return &adapter.TerminalError{Message: status.Error}
	}

	// The composed file goes straight into durable storage; the provider URL
	// is ephemeral like every other output.
	dest := fmt.Sprintf("projects/%s/final.mp4", p.ID)
	cdnURL, size, err := h.storage.FetchAndStore(ctx, status.OutputURL, dest)
	if err != nil {
		return err
	}
	metrics.AddAssetBytes(size)
	h.setProgress(ctx, job, 100, "final video ready")

	return h.pipeline.CompleteStepUnit(ctx, p.ID, model.StepCompose, ports.StepUnitResult{
		Kind:       ports.UnitKindClip,
		AssetURL:   status.OutputURL,
		DurableURL: cdnURL,
	})
}

// waitForTask polls until the task leaves the processing state or ctx ends.
func (h *Handlers) waitForTask(ctx context.Context, taskID string) (*adapter.TaskStatus, error) {
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	for {
		status, err := h.provider.PollStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if status.State != adapter.TaskStateProcessing {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Handlers) setProgress(ctx context.Context, job *model.Job, percent int, msg string) {
	if h.progress == nil {
		return
	}
	if err := h.progress.SetProgress(ctx, job.IdempotencyKey, model.Progress{Percent: percent, Message: msg}); err != nil {
		h.log.Debug().Err(err).Str("job_id", job.ID).Msg("failed to cache progress")
	}
}
