package model

import (
	"fmt"
	"time"

	"vidfab-pipeline/internal/domain"
)

// JobType is the closed set of queue job kinds. Handlers are registered per
// type in a lookup table built at startup; an unknown type is a wiring bug.
type JobType string

const (
	JobTypeScriptAnalysis     JobType = "script_analysis"
	JobTypeStoryboardGen      JobType = "storyboard_generation"
	JobTypeStoryboardDownload JobType = "storyboard_download"
	JobTypeVideoClipGen       JobType = "video_clip_generation"
	JobTypeVideoClipDownload  JobType = "video_clip_download"
	JobTypeSyncVideoStatus    JobType = "sync_video_status"
	JobTypeComposeVideo       JobType = "compose_video"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeScriptAnalysis, JobTypeStoryboardGen, JobTypeStoryboardDownload,
		JobTypeVideoClipGen, JobTypeVideoClipDownload, JobTypeSyncVideoStatus,
		JobTypeComposeVideo:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusDead      JobStatus = "dead"
)

type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
)

// Rank maps priority to a sortable integer; lower dispatches first.
func (p JobPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

func PriorityFromRank(rank int) JobPriority {
	switch rank {
	case 1:
		return PriorityHigh
	case 3:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// JobPayload carries the fields shared by every job type. Per-shot types set
// ShotNumber; download types also set ExternalURL. Handlers load everything
// else from the repositories so replayed payloads never go stale.
type JobPayload struct {
	JobType     JobType   `json:"jobType"`
	JobID       string    `json:"jobId"`
	ProjectID   string    `json:"projectId"`
	UserID      string    `json:"userId"`
	ShotNumber  int       `json:"shotNumber,omitempty"`
	ExternalURL string    `json:"externalUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IdempotencyKey is deterministic from (type, project, shot) so re-enqueueing
// the same logical work collapses onto the existing job.
func IdempotencyKey(t JobType, projectID string, shotNumber int) string {
	if shotNumber > 0 {
		return fmt.Sprintf("%s:%s:%d", t, projectID, shotNumber)
	}
	return fmt.Sprintf("%s:%s", t, projectID)
}

// Job is one unit of queued work.
type Job struct {
	ID             string
	IdempotencyKey string
	Type           JobType
	Payload        JobPayload
	Priority       JobPriority
	Status         JobStatus
	Attempt        int
	MaxAttempts    int
	BackoffDelay   time.Duration
	RunAt          time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewJob(id string, t JobType, payload JobPayload, priority JobPriority, maxAttempts int, backoffDelay time.Duration) (*Job, error) {
	if id == "" || !t.Valid() || payload.ProjectID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffDelay <= 0 {
		backoffDelay = time.Minute
	}
	now := time.Now()
	payload.JobType = t
	payload.JobID = id
	if payload.CreatedAt.IsZero() {
		payload.CreatedAt = now
	}
	return &Job{
		ID:             id,
		IdempotencyKey: IdempotencyKey(t, payload.ProjectID, payload.ShotNumber),
		Type:           t,
		Payload:        payload,
		Priority:       priority,
		Status:         JobStatusWaiting,
		Attempt:        0,
		MaxAttempts:    maxAttempts,
		BackoffDelay:   backoffDelay,
		RunAt:          now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// NextBackoff returns the delay before re-running after the given attempt
// (1-based): delay * 2^(attempt-1).
func (j *Job) NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return j.BackoffDelay << (attempt - 1)
}

// ExhaustedAttempts reports whether the job has no retries left.
func (j *Job) ExhaustedAttempts() bool { return j.Attempt >= j.MaxAttempts }

// Progress is advisory handler progress, consumed by polling clients.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// DeadLetter is a job that exhausted all attempts (or hit a terminal error)
// and is kept for manual inspection.
type DeadLetter struct {
	ID        string
	JobID     string
	Type      JobType
	Payload   JobPayload
	Reason    string
	Attempts  int
	CreatedAt time.Time
}
