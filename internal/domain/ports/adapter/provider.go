package adapter

import (
	"context"
	"errors"
)

// TaskKind selects which provider capability a submission targets.
type TaskKind string

const (
	TaskKindImage   TaskKind = "image"
	TaskKindVideo   TaskKind = "video"
	TaskKindCompose TaskKind = "compose"
)

type SubmitRequest struct {
	Kind      TaskKind
	Prompt    string
	AssetURLs []string // input assets (storyboard image, clips to compose)
	Params    map[string]string
}

type TaskState string

const (
	TaskStateProcessing TaskState = "processing"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
)

type TaskStatus struct {
	State     TaskState
	OutputURL string
	Error     string
}

// ShotPlan is one shot produced by script analysis.
type ShotPlan struct {
	ShotNumber   int
	Prompt       string
	CharacterIDs []string
}

// GenerationProvider is the external AI provider collaborator. Submissions
// are asynchronous: Submit returns a provider-side task id that PollStatus
// resolves later.
type GenerationProvider interface {
	Submit(ctx context.Context, req SubmitRequest) (taskID string, err error)
	PollStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	// AnalyzeScript splits a script into a contiguous shot plan.
	AnalyzeScript(ctx context.Context, script string) ([]ShotPlan, error)
}

// TerminalError marks a provider failure that must not be retried (4xx,
// content policy rejection). Transient failures stay plain errors and go
// through the queue's backoff policy.
type TerminalError struct {
	Code    int
	Message string
}

func (e *TerminalError) Error() string { return e.Message }

func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
