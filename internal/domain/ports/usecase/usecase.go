package usecase

import (
	"context"
	"time"

	"vidfab-pipeline/internal/domain/model"
)

// CreditLedger is the only component allowed to mutate balances. Every
// billable path reserves first and finalizes exactly once.
type CreditLedger interface {
	// Reserve atomically checks available balance and creates a hold.
	// Idempotent per reference: re-reserving an open reference returns the
	// existing reservation.
	Reserve(ctx context.Context, userID string, amount int64, reference string) (*model.CreditReservation, error)
	// Consume finalizes a reservation on the success path. actualAmount < 0
	// consumes the full reserved amount; a smaller amount returns the
	// difference to the available balance.
	Consume(ctx context.Context, reservationID string, actualAmount int64) (int64, error)
	// ConsumeByReference consumes the open reservation for a reference,
	// a no-op (nil, 0) when none is open.
	ConsumeByReference(ctx context.Context, reference string, actualAmount int64) (int64, error)
	Release(ctx context.Context, reservationID, reason string) error
	// ReleaseByReference releases the open reservation for a reference,
	// a no-op (nil) when none is open.
	ReleaseByReference(ctx context.Context, reference, reason string) error
	Grant(ctx context.Context, userID string, amount int64, note string) error
	// Balance returns (total, available).
	Balance(ctx context.Context, userID string) (int64, int64, error)
}

// EnqueueOptions mirror the queue job knobs; zero values take configured
// defaults.
type EnqueueOptions struct {
	Priority     model.JobPriority
	MaxAttempts  int
	BackoffDelay time.Duration
}

type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Dead      int `json:"dead"`
}

// JobQueue is the durable work queue port used by the state machine and the
// schedulers.
type JobQueue interface {
	// Enqueue schedules work, deduplicating on the deterministic idempotency
	// key: if the same logical job is already waiting or active the existing
	// job id is returned.
	Enqueue(ctx context.Context, t model.JobType, payload model.JobPayload, opts EnqueueOptions) (string, error)
	Cancel(ctx context.Context, jobID string) error
	CancelOpenByProject(ctx context.Context, t model.JobType, projectID string) (int, error)
	Stats(ctx context.Context) (QueueStats, error)
	DeadLetters(ctx context.Context, limit int) ([]*model.DeadLetter, error)
}

// UnitKind disambiguates which asset a download unit produced.
type UnitKind string

const (
	UnitKindStoryboard UnitKind = "storyboard"
	UnitKindClip       UnitKind = "clip"
)

// StepUnitResult is what a job handler reports for one finished unit.
type StepUnitResult struct {
	ShotNumber     int
	Kind           UnitKind
	AssetURL       string // provider-hosted URL (generation) or CDN URL (download)
	DurableURL     string
	ProviderTaskID string
}

// ShotPlanInput is one shot from script analysis.
type ShotPlanInput struct {
	ShotNumber   int
	Prompt       string
	CharacterIDs []string
}

type ShotView struct {
	ShotNumber    int                 `json:"shot_number"`
	Status        model.ShotStatus    `json:"status"`
	StorageStatus model.StorageStatus `json:"storage_status"`
	ImageURL      string              `json:"image_url,omitempty"`
	VideoURL      string              `json:"video_url,omitempty"`
	Version       int                 `json:"version"`
	Progress      *model.Progress     `json:"progress,omitempty"`
	Error         string              `json:"error,omitempty"`
}

type ProjectStatusView struct {
	ProjectID     string              `json:"project_id"`
	Status        model.ProjectStatus `json:"status"`
	CurrentStep   int                 `json:"current_step"`
	Steps         map[int]string      `json:"steps"`
	Shots         []ShotView          `json:"shots"`
	FinalVideoURL string              `json:"final_video_url,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
}

// Pipeline owns per-project step state and transitions. Unit completions and
// failures funnel through CompleteStepUnit/FailStepUnit regardless of whether
// a webhook or the sync poller won the race; both are guarded by a "still
// processing" precondition.
type Pipeline interface {
	CreateProject(ctx context.Context, userID, title, script string) (*model.Project, error)
	AdvanceStep(ctx context.Context, userID, projectID string, targetStep int) error
	StartStep(ctx context.Context, userID, projectID string, step int) error
	RetryStep(ctx context.Context, userID, projectID string, step int) error
	SelectStyle(ctx context.Context, userID, projectID, styleID string) error
	RegenerateShot(ctx context.Context, userID, projectID string, shotNumber int) error
	// ApplyScriptAnalysis persists the shot plan produced by step 1 and
	// completes the step. Shot numbers must be contiguous from 1.
	ApplyScriptAnalysis(ctx context.Context, projectID string, plan []ShotPlanInput) error
	CompleteStepUnit(ctx context.Context, projectID string, step int, result StepUnitResult) error
	FailStepUnit(ctx context.Context, projectID string, step, shotNumber int, cause string) error
	// MarkShotGenerating records the provider task id handed back by an
	// asynchronous submission so the sync poller can reconcile it later.
	MarkShotGenerating(ctx context.Context, projectID string, shotNumber int, providerTaskID string) error
	Status(ctx context.Context, userID, projectID string) (*ProjectStatusView, error)
}

// StoryboardVersions is the append-only version history per (project, shot).
type StoryboardVersions interface {
	// RecordVersion appends version max+1 and atomically makes it current.
	RecordVersion(ctx context.Context, projectID string, shotNumber int, assetURL string) (int, error)
	ListHistory(ctx context.Context, userID, projectID string, shotNumber int) ([]*model.StoryboardVersion, error)
	// SwitchVersion activates an existing version without creating a new one.
	SwitchVersion(ctx context.Context, userID, projectID string, shotNumber, versionNumber int) error
}

// ProgressStore caches advisory job progress for polling clients.
type ProgressStore interface {
	SetProgress(ctx context.Context, jobID string, p model.Progress) error
	GetProgress(ctx context.Context, jobID string) (*model.Progress, error)
}
