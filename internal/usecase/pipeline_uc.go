// File: internal/usecase/pipeline_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
	ports "vidfab-pipeline/internal/domain/ports/usecase"
	"vidfab-pipeline/internal/infra/metrics"
)

var _ ports.Pipeline = (*PipelineUseCase)(nil)

// StepCosts are the per-unit credit prices of the billable steps.
type StepCosts struct {
	StoryboardPerShot int64
	ClipPerShot       int64
	Compose           int64
}

func DefaultStepCosts() StepCosts {
	return StepCosts{StoryboardPerShot: 5, ClipPerShot: 20, Compose: 10}
}

// stepJobType maps user-startable steps to the job type that executes one
// unit of that step. Steps 2 and 5 have no entry: style selection is a user
// action and asset download is driven by the batch dispatcher.
var stepJobType = map[int]model.JobType{
	model.StepScriptAnalysis: model.JobTypeScriptAnalysis,
	model.StepStoryboards:    model.JobTypeStoryboardGen,
	model.StepVideoClips:     model.JobTypeVideoClipGen,
	model.StepCompose:        model.JobTypeComposeVideo,
}

// stepReference ties a credit reservation to the step it pays for.
func stepReference(projectID string, step int) string {
	return fmt.Sprintf("project:%s:step:%d", projectID, step)
}

func regenReference(projectID string, shotNumber int) string {
	return fmt.Sprintf("project:%s:shot:%d:regen", projectID, shotNumber)
}

// PipelineUseCase owns the per-project step state machine. It is the single
// funnel for unit completions and failures, whichever delivery path (worker,
// webhook, sync poller) reports first.
type PipelineUseCase struct {
	projects repository.ProjectRepository
	shots    repository.ShotRepository
	versions repository.StoryboardVersionRepository
	ledger   ports.CreditLedger
	queue    ports.JobQueue
	progress ports.ProgressStore
	tm       repository.TransactionManager
	costs    StepCosts
	log      *zerolog.Logger
}

func NewPipelineUseCase(
	projects repository.ProjectRepository,
	shots repository.ShotRepository,
	versions repository.StoryboardVersionRepository,
	ledger ports.CreditLedger,
	queue ports.JobQueue,
	progress ports.ProgressStore,
	tm repository.TransactionManager,
	costs StepCosts,
	log *zerolog.Logger,
) *PipelineUseCase {
	return &PipelineUseCase{
		projects: projects,
		shots:    shots,
		versions: versions,
		ledger:   ledger,
		queue:    queue,
		progress: progress,
		tm:       tm,
		costs:    costs,
		log:      log,
	}
}

func (uc *PipelineUseCase) CreateProject(ctx context.Context, userID, title, script string) (*model.Project, error) {
	p, err := model.NewProject(uuid.NewString(), userID, title, script)
	if err != nil {
		return nil, err
	}
	if err := uc.projects.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	metrics.IncProjects()
	uc.log.Info().Str("project_id", p.ID).Str("user_id", userID).Msg("project created")
	return p, nil
}

// AdvanceStep is a UI navigation signal: it moves current_step without
// touching execution state. Backwards moves are rejected; only an explicit
// retry may re-drive earlier work.
func (uc *PipelineUseCase) AdvanceStep(ctx context.Context, userID, projectID string, targetStep int) error {
	if targetStep < 0 || targetStep > model.MaxCurrentStep {
		return domain.ErrInvalidStep
	}
	p, err := uc.ownedProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if targetStep < p.CurrentStep {
		return domain.ErrStepRegression
	}
	p.CurrentStep = targetStep
	p.UpdatedAt = time.Now()
	return uc.projects.Save(ctx, repository.NoTX, p)
}

// StartStep reserves credits for a billable step, marks it processing and
// enqueues one job per unit of work. Validation failures leave no job and no
// reservation behind.
func (uc *PipelineUseCase) StartStep(ctx context.Context, userID, projectID string, step int) error {
	jobType, ok := stepJobType[step]
	if !ok {
		if !model.ValidStep(step) {
			return domain.ErrInvalidStep
		}
		return domain.ErrStepNotStartable
	}

	p, err := uc.ownedProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if st, _ := p.StepStatus(step); st != model.StepStatusPending {
		return domain.ErrStepNotStartable
	}
	if err := uc.checkPrerequisite(p, step); err != nil {
		return err
	}

	units, err := uc.unitsForStep(ctx, p, step)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return domain.ErrStepNotStartable
	}

	reference := stepReference(projectID, step)
	cost := uc.stepCost(step, len(units))
	if cost > 0 {
		if _, err := uc.ledger.Reserve(ctx, userID, cost, reference); err != nil {
			return err
		}
	}

	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := p.SetStepStatus(step, model.StepStatusProcessing); err != nil {
			return err
		}
		if err := uc.projects.Save(ctx, tx, p); err != nil {
			return err
		}
		for _, shot := range units {
			if shot == nil {
				continue
			}
			shot.Status = model.ShotStatusPending
			shot.ErrorMessage = ""
			if step == model.StepVideoClips {
				shot.StorageStatus = model.StorageStatusPending
				shot.VideoURL = ""
				shot.VideoURLExt = ""
				shot.ProviderTaskID = ""
			}
			shot.UpdatedAt = time.Now()
			if err := uc.shots.Save(ctx, tx, shot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A created reservation must never be stranded by a failed start.
		if cost > 0 {
			if relErr := uc.ledger.ReleaseByReference(ctx, reference, "start step failed"); relErr != nil {
				uc.log.Error().Err(relErr).Str("reference", reference).Msg("failed to release reservation after aborted start")
			}
		}
		return err
	}

	for _, shot := range units {
		payload := model.JobPayload{ProjectID: projectID, UserID: userID}
		if shot != nil {
			payload.ShotNumber = shot.ShotNumber
		}
		if _, err := uc.queue.Enqueue(ctx, jobType, payload, ports.EnqueueOptions{}); err != nil {
			uc.log.Error().Err(err).Str("project_id", projectID).Int("step", step).Msg("enqueue failed, failing step")
			return uc.FailStepUnit(ctx, projectID, step, payload.ShotNumber, "failed to enqueue work")
		}
	}
	metrics.IncStepStarted(step)
	uc.log.Info().Str("project_id", projectID).Int("step", step).Int("units", len(units)).Int64("cost", cost).Msg("step started")
	return nil
}

// RetryStep re-drives a failed step. Only failed and still-pending units are
// re-enqueued (and re-billed); completed units keep their results.
func (uc *PipelineUseCase) RetryStep(ctx context.Context, userID, projectID string, step int) error {
	p, err := uc.ownedProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	st, err := p.StepStatus(step)
	if err != nil {
		return err
	}
	if st != model.StepStatusFailed {
		return domain.ErrStepNotRetryable
	}

	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := p.SetStepStatus(step, model.StepStatusPending); err != nil {
			return err
		}
		p.FailureReason = ""
		return uc.projects.Save(ctx, tx, p)
	})
	if err != nil {
		return err
	}
	metrics.IncStepRetried(step)
	return uc.StartStep(ctx, userID, projectID, step)
}

// SelectStyle records the user's image-style choice and completes step 2.
func (uc *PipelineUseCase) SelectStyle(ctx context.Context, userID, projectID, styleID string) error {
	if styleID == "" {
		return domain.ErrInvalidArgument
	}
	p, err := uc.ownedProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if st, _ := p.StepStatus(model.StepScriptAnalysis); st != model.StepStatusCompleted {
		return domain.ErrStepNotStartable
	}
	p.StyleID = styleID
	if err := p.SetStepStatus(model.StepStyleSelection, model.StepStatusCompleted); err != nil {
		return err
	}
	return uc.projects.Save(ctx, repository.NoTX, p)
}

// RegenerateShot bills and enqueues a fresh storyboard generation for one
// shot after step 3 has completed; the result lands as a new active version.
func (uc *PipelineUseCase) RegenerateShot(ctx context.Context, userID, projectID string, shotNumber int) error {
	p, err := uc.ownedProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if st, _ := p.StepStatus(model.StepStoryboards); st != model.StepStatusCompleted {
		return domain.ErrStepNotStartable
	}
	shot, err := uc.shots.Find(ctx, repository.NoTX, projectID, shotNumber)
	if err != nil {
		return err
	}

	reference := regenReference(projectID, shotNumber)
	if _, err := uc.ledger.Reserve(ctx, userID, uc.costs.StoryboardPerShot, reference); err != nil {
		return err
	}

	shot.Status = model.ShotStatusPending
	shot.ErrorMessage = ""
	shot.UpdatedAt = time.Now()
	if err := uc.shots.Save(ctx, repository.NoTX, shot); err != nil {
		if relErr := uc.ledger.ReleaseByReference(ctx, reference, "regeneration aborted"); relErr != nil {
			uc.log.Error().Err(relErr).Str("reference", reference).Msg("failed to release regen reservation")
		}
		return err
	}

	payload := model.JobPayload{ProjectID: projectID, UserID: userID, ShotNumber: shotNumber}
	if _, err := uc.queue.Enqueue(ctx, model.JobTypeStoryboardGen, payload, ports.EnqueueOptions{Priority: model.PriorityHigh}); err != nil {
		if relErr := uc.ledger.ReleaseByReference(ctx, reference, "regeneration enqueue failed"); relErr != nil {
			uc.log.Error().Err(relErr).Str("reference", reference).Msg("failed to release regen reservation")
		}
		return err
	}
	return nil
}

// ApplyScriptAnalysis persists the shot plan from step 1 and completes the
// step. Shot numbers must be contiguous from 1..N.
func (uc *PipelineUseCase) ApplyScriptAnalysis(ctx context.Context, projectID string, plan []ports.ShotPlanInput) error {
	if len(plan) == 0 {
		return domain.ErrInvalidArgument
	}
	seen := make(map[int]bool, len(plan))
	for _, sp := range plan {
		if sp.ShotNumber < 1 || sp.ShotNumber > len(plan) || seen[sp.ShotNumber] {
			return domain.ErrShotCountMismatch
		}
		seen[sp.ShotNumber] = true
	}

	return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := uc.projects.FindByID(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if st, _ := p.StepStatus(model.StepScriptAnalysis); st != model.StepStatusProcessing {
			return nil // already applied by a racing attempt
		}
		for _, sp := range plan {
			shot, err := model.NewShot(projectID, sp.ShotNumber, sp.Prompt)
			if err != nil {
				return err
			}
			shot.CharacterIDs = sp.CharacterIDs
			if err := uc.shots.Save(ctx, tx, shot); err != nil {
				return err
			}
		}
		p.TotalShots = len(plan)
		if err := p.SetStepStatus(model.StepScriptAnalysis, model.StepStatusCompleted); err != nil {
			return err
		}
		return uc.projects.Save(ctx, tx, p)
	})
}

// MarkShotGenerating records the provider-side task id after an async submit
// so the sync poller can reconcile the shot later.
func (uc *PipelineUseCase) MarkShotGenerating(ctx context.Context, projectID string, shotNumber int, providerTaskID string) error {
	return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		shot, err := uc.shots.Find(ctx, tx, projectID, shotNumber)
		if err != nil {
			return err
		}
		shot.Status = model.ShotStatusGenerating
		shot.ProviderTaskID = providerTaskID
		shot.UpdatedAt = time.Now()
		return uc.shots.Save(ctx, tx, shot)
	})
}

// CompleteStepUnit is called by job handlers (and the sync poller) on unit
// success. It is idempotent: a unit already terminal, or a step no longer
// processing, makes the call a no-op.
func (uc *PipelineUseCase) CompleteStepUnit(ctx context.Context, projectID string, step int, result ports.StepUnitResult) error {
	var consumeRef string
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := uc.projects.FindByID(ctx, tx, projectID)
		if err != nil {
			return err
		}
		st, err := p.StepStatus(step)
		if err != nil {
			return err
		}

		// Regeneration completes against an already-completed storyboard step.
		if step == model.StepStoryboards && st == model.StepStatusCompleted {
			return uc.completeRegeneration(ctx, tx, p, result, &consumeRef)
		}
		// Downloads are dispatcher-driven; the first completion moves the
		// step out of pending.
		if step == model.StepAssetDownload && st == model.StepStatusPending {
			st = model.StepStatusProcessing
			if err := p.SetStepStatus(step, st); err != nil {
				return err
			}
		}
		if st != model.StepStatusProcessing {
			return nil
		}

		switch step {
		case model.StepStoryboards:
			if err := uc.completeStoryboardUnit(ctx, tx, p, result); err != nil {
				return err
			}
		case model.StepVideoClips:
			if err := uc.completeClipUnit(ctx, tx, p, result); err != nil {
				return err
			}
		case model.StepAssetDownload:
			if err := uc.completeDownloadUnit(ctx, tx, p, result); err != nil {
				return err
			}
		case model.StepCompose:
			url := result.DurableURL
			if url == "" {
				url = result.AssetURL
			}
			p.FinalVideoURL = url
		default:
			return domain.ErrInvalidStep
		}

		done, err := uc.stepUnitsDone(ctx, tx, p, step)
		if err != nil {
			return err
		}
		if done {
			if err := p.SetStepStatus(step, model.StepStatusCompleted); err != nil {
				return err
			}
			if uc.stepCost(step, 1) > 0 {
				consumeRef = stepReference(projectID, step)
			}
			metrics.IncStepCompleted(step)
		}
		return uc.projects.Save(ctx, tx, p)
	})
	if err != nil {
		return err
	}
	if consumeRef != "" {
		if _, err := uc.ledger.ConsumeByReference(ctx, consumeRef, -1); err != nil {
			return err
		}
	}
	return nil
}

// FailStepUnit applies the fail-fast policy: one unit's failure marks the
// whole step failed, releases the step's reservation in full and cancels the
// remaining sibling jobs. Idempotent under the same "still processing" guard
// as CompleteStepUnit.
func (uc *PipelineUseCase) FailStepUnit(ctx context.Context, projectID string, step, shotNumber int, cause string) error {
	var (
		releaseRef string
		cancelType model.JobType
		failed     bool
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := uc.projects.FindByID(ctx, tx, projectID)
		if err != nil {
			return err
		}
		st, err := p.StepStatus(step)
		if err != nil {
			return err
		}

		// A failed regeneration only fails the shot, not the finished step.
		if step == model.StepStoryboards && st == model.StepStatusCompleted {
			if err := uc.markShotFailed(ctx, tx, projectID, shotNumber, cause); err != nil {
				return err
			}
			releaseRef = regenReference(projectID, shotNumber)
			return nil
		}
		if st != model.StepStatusProcessing {
			return nil
		}

		if shotNumber > 0 {
			if err := uc.markShotFailed(ctx, tx, projectID, shotNumber, cause); err != nil {
				return err
			}
		}
		if err := p.SetStepStatus(step, model.StepStatusFailed); err != nil {
			return err
		}
		p.FailureReason = cause
		if uc.stepCost(step, 1) > 0 {
			releaseRef = stepReference(projectID, step)
		}
		cancelType = stepJobType[step]
		failed = true
		return uc.projects.Save(ctx, tx, p)
	})
	if err != nil {
		return err
	}

	if failed {
		metrics.IncStepFailed(step)
		if cancelType != "" {
			if n, err := uc.queue.CancelOpenByProject(ctx, cancelType, projectID); err != nil {
				uc.log.Error().Err(err).Str("project_id", projectID).Msg("failed to cancel sibling jobs")
			} else if n > 0 {
				uc.log.Info().Str("project_id", projectID).Int("cancelled", n).Msg("cancelled sibling jobs after unit failure")
			}
		}
	}
	if releaseRef != "" {
		if err := uc.ledger.ReleaseByReference(ctx, releaseRef, cause); err != nil && !errors.Is(err, domain.ErrAlreadyFinalized) {
			return err
		}
	}
	return nil
}

func (uc *PipelineUseCase) Status(ctx context.Context, userID, projectID string) (*ports.ProjectStatusView, error) {
	p, err := uc.ownedProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	shots, err := uc.shots.ListByProject(ctx, repository.NoTX, projectID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	view := &ports.ProjectStatusView{
		ProjectID:     p.ID,
		Status:        p.Status,
		CurrentStep:   p.CurrentStep,
		Steps:         make(map[int]string, model.NumSteps),
		FinalVideoURL: p.FinalVideoURL,
		FailureReason: p.FailureReason,
	}
	for i := 1; i <= model.NumSteps; i++ {
		st, _ := p.StepStatus(i)
		view.Steps[i] = string(st)
	}
	for _, s := range shots {
		sv := ports.ShotView{
			ShotNumber:    s.ShotNumber,
			Status:        s.Status,
			StorageStatus: s.StorageStatus,
			ImageURL:      s.ImageURL,
			VideoURL:      s.VideoURL,
			Version:       s.CurrentVersion,
			Error:         s.ErrorMessage,
		}
		if uc.progress != nil && !s.Status.Terminal() {
			key := uc.activeJobKey(p, s)
			if key != "" {
				if pr, err := uc.progress.GetProgress(ctx, key); err == nil && pr != nil {
					sv.Progress = pr
				}
			}
		}
		view.Shots = append(view.Shots, sv)
	}
	return view, nil
}

// ---- internals ----

func (uc *PipelineUseCase) ownedProject(ctx context.Context, userID, projectID string) (*model.Project, error) {
	p, err := uc.projects.FindByID(ctx, repository.NoTX, projectID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.ErrNotOwner
	}
	return p, nil
}

// checkPrerequisite enforces step ordering: each startable step needs the
// step before it (skipping the dispatcher-driven download step) completed.
func (uc *PipelineUseCase) checkPrerequisite(p *model.Project, step int) error {
	prereq := map[int]int{
		model.StepStoryboards: model.StepStyleSelection,
		model.StepVideoClips:  model.StepStoryboards,
		model.StepCompose:     model.StepAssetDownload,
	}
	prev, ok := prereq[step]
	if !ok {
		return nil
	}
	if st, _ := p.StepStatus(prev); st != model.StepStatusCompleted {
		return domain.ErrStepNotStartable
	}
	return nil
}

// unitsForStep selects the work units: one nil unit for project-scoped steps,
// one shot per re-runnable shot otherwise.
func (uc *PipelineUseCase) unitsForStep(ctx context.Context, p *model.Project, step int) ([]*model.Shot, error) {
	switch step {
	case model.StepScriptAnalysis, model.StepCompose:
		return []*model.Shot{nil}, nil
	}
	shots, err := uc.shots.ListByProject(ctx, repository.NoTX, p.ID)
	if err != nil {
		return nil, err
	}
	var units []*model.Shot
	for _, s := range shots {
		if step == model.StepStoryboards && s.CurrentVersion > 0 && s.Status == model.ShotStatusSuccess {
			continue // kept from a previous run; retries only re-bill missing units
		}
		if step == model.StepVideoClips && s.VideoURLExt != "" && s.Status == model.ShotStatusSuccess {
			continue
		}
		units = append(units, s)
	}
	return units, nil
}

func (uc *PipelineUseCase) stepCost(step, units int) int64 {
	switch step {
	case model.StepStoryboards:
		return uc.costs.StoryboardPerShot * int64(units)
	case model.StepVideoClips:
		return uc.costs.ClipPerShot * int64(units)
	case model.StepCompose:
		return uc.costs.Compose
	}
	return 0
}

func (uc *PipelineUseCase) completeStoryboardUnit(ctx context.Context, tx repository.Tx, p *model.Project, result ports.StepUnitResult) error {
	shot, err := uc.shots.Find(ctx, tx, p.ID, result.ShotNumber)
	if err != nil {
		return err
	}
	if shot.Status.Terminal() {
		return nil // poller/webhook race: first writer wins
	}
	version, err := uc.recordVersionTx(ctx, tx, p.ID, result.ShotNumber, result.AssetURL)
	if err != nil {
		return err
	}
	shot.Status = model.ShotStatusSuccess
	shot.ImageURL = result.AssetURL
	shot.ImageURLExt = result.AssetURL
	shot.StorageStatus = model.StorageStatusPending
	shot.CurrentVersion = version
	shot.ErrorMessage = ""
	shot.UpdatedAt = time.Now()
	return uc.shots.Save(ctx, tx, shot)
}

func (uc *PipelineUseCase) completeClipUnit(ctx context.Context, tx repository.Tx, p *model.Project, result ports.StepUnitResult) error {
	shot, err := uc.shots.Find(ctx, tx, p.ID, result.ShotNumber)
	if err != nil {
		return err
	}
	if shot.Status.Terminal() {
		return nil
	}
	shot.Status = model.ShotStatusSuccess
	shot.VideoURL = result.AssetURL
	shot.VideoURLExt = result.AssetURL
	shot.StorageStatus = model.StorageStatusPending
	shot.ErrorMessage = ""
	shot.UpdatedAt = time.Now()
	return uc.shots.Save(ctx, tx, shot)
}

func (uc *PipelineUseCase) completeDownloadUnit(ctx context.Context, tx repository.Tx, p *model.Project, result ports.StepUnitResult) error {
	shot, err := uc.shots.Find(ctx, tx, p.ID, result.ShotNumber)
	if err != nil {
		return err
	}
	if shot.StorageStatus == model.StorageStatusDownloaded {
		return nil // replayed download job
	}
	switch result.Kind {
	case ports.UnitKindClip:
		shot.VideoURL = result.DurableURL
	default:
		shot.ImageURL = result.DurableURL
	}
	shot.StorageStatus = model.StorageStatusDownloaded
	shot.UpdatedAt = time.Now()
	return uc.shots.Save(ctx, tx, shot)
}

// completeRegeneration records a new version for a shot regenerated after
// step 3 completed and finalizes the per-shot reservation.
func (uc *PipelineUseCase) completeRegeneration(ctx context.Context, tx repository.Tx, p *model.Project, result ports.StepUnitResult, consumeRef *string) error {
	shot, err := uc.shots.Find(ctx, tx, p.ID, result.ShotNumber)
	if err != nil {
		return err
	}
	if shot.Status.Terminal() {
		return nil
	}
	version, err := uc.recordVersionTx(ctx, tx, p.ID, result.ShotNumber, result.AssetURL)
	if err != nil {
		return err
	}
	shot.Status = model.ShotStatusSuccess
	shot.ImageURL = result.AssetURL
	shot.ImageURLExt = result.AssetURL
	shot.StorageStatus = model.StorageStatusPending
	shot.CurrentVersion = version
	shot.ErrorMessage = ""
	shot.UpdatedAt = time.Now()
	if err := uc.shots.Save(ctx, tx, shot); err != nil {
		return err
	}
	*consumeRef = regenReference(p.ID, result.ShotNumber)
	return nil
}

// recordVersionTx appends version max+1 and flips it current inside the
// caller's transaction (the tx-free path lives in StoryboardUseCase).
func (uc *PipelineUseCase) recordVersionTx(ctx context.Context, tx repository.Tx, projectID string, shotNumber int, assetURL string) (int, error) {
	maxV, err := uc.versions.MaxVersion(ctx, tx, projectID, shotNumber)
	if err != nil {
		return 0, err
	}
	v, err := model.NewStoryboardVersion(uuid.NewString(), projectID, shotNumber, maxV+1, assetURL)
	if err != nil {
		return 0, err
	}
	if err := uc.versions.Save(ctx, tx, v); err != nil {
		return 0, err
	}
	if err := uc.versions.SetCurrent(ctx, tx, projectID, shotNumber, v.VersionNumber); err != nil {
		return 0, err
	}
	return v.VersionNumber, nil
}

func (uc *PipelineUseCase) markShotFailed(ctx context.Context, tx repository.Tx, projectID string, shotNumber int, cause string) error {
	shot, err := uc.shots.Find(ctx, tx, projectID, shotNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if shot.Status == model.ShotStatusFailed {
		return nil
	}
	shot.Status = model.ShotStatusFailed
	shot.ErrorMessage = cause
	shot.UpdatedAt = time.Now()
	return uc.shots.Save(ctx, tx, shot)
}

// stepUnitsDone reports whether every unit of the step reached success.
func (uc *PipelineUseCase) stepUnitsDone(ctx context.Context, tx repository.Tx, p *model.Project, step int) (bool, error) {
	switch step {
	case model.StepScriptAnalysis, model.StepCompose:
		return true, nil
	case model.StepStoryboards, model.StepVideoClips:
		counts, err := uc.shots.CountByStatus(ctx, tx, p.ID)
		if err != nil {
			return false, err
		}
		return p.TotalShots > 0 && counts[model.ShotStatusSuccess] == p.TotalShots, nil
	case model.StepAssetDownload:
		// Storyboard downloads can land while step 4 is still pending; the
		// download step is only done once the clips exist and are stored.
		if st, _ := p.StepStatus(model.StepVideoClips); st != model.StepStatusCompleted {
			return false, nil
		}
		shots, err := uc.shots.ListByProject(ctx, tx, p.ID)
		if err != nil {
			return false, err
		}
		for _, s := range shots {
			if s.StorageStatus != model.StorageStatusDownloaded {
				return false, nil
			}
		}
		return len(shots) > 0, nil
	}
	return false, nil
}

func (uc *PipelineUseCase) activeJobKey(p *model.Project, s *model.Shot) string {
	switch {
	case s.Status == model.ShotStatusPending || s.Status == model.ShotStatusGenerating:
		if st, _ := p.StepStatus(model.StepVideoClips); st == model.StepStatusProcessing {
			return model.IdempotencyKey(model.JobTypeVideoClipGen, p.ID, s.ShotNumber)
		}
		return model.IdempotencyKey(model.JobTypeStoryboardGen, p.ID, s.ShotNumber)
	case s.Status == model.ShotStatusSuccess && s.StorageStatus == model.StorageStatusPending:
		if s.VideoURLExt != "" {
			return model.IdempotencyKey(model.JobTypeVideoClipDownload, p.ID, s.ShotNumber)
		}
		return model.IdempotencyKey(model.JobTypeStoryboardDownload, p.ID, s.ShotNumber)
	}
	return ""
}
