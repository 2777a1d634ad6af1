package model

import (
	"time"

	"vidfab-pipeline/internal/domain"
)

type ProjectStatus string

const (
	ProjectStatusPending    ProjectStatus = "pending"
	ProjectStatusProcessing ProjectStatus = "processing"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
)

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusProcessing StepStatus = "processing"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// The six tracked pipeline steps. CurrentStep additionally allows 0 (intro)
// and 7 (final review), which carry no step status of their own.
const (
	StepScriptAnalysis = 1
	StepStyleSelection = 2
	StepStoryboards    = 3
	StepVideoClips     = 4
	StepAssetDownload  = 5
	StepCompose        = 6

	NumSteps       = 6
	MaxCurrentStep = 7
)

// Project is one end-to-end video generation session.
type Project struct {
	ID            string
	UserID        string
	Title         string
	Script        string
	Status        ProjectStatus
	StyleID       string
	CurrentStep   int
	Steps         [NumSteps]StepStatus // index 0 = step 1
	TotalShots    int
	FinalVideoURL string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewProject(id, userID, title, script string) (*Project, error) {
	if id == "" || userID == "" || script == "" {
		return nil, domain.ErrInvalidArgument
	}
	p := &Project{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Script:      script,
		Status:      ProjectStatusPending,
		CurrentStep: 0,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	for i := range p.Steps {
		p.Steps[i] = StepStatusPending
	}
	return p, nil
}

func ValidStep(step int) bool { return step >= 1 && step <= NumSteps }

func (p *Project) StepStatus(step int) (StepStatus, error) {
	if !ValidStep(step) {
		return "", domain.ErrInvalidStep
	}
	return p.Steps[step-1], nil
}

func (p *Project) SetStepStatus(step int, st StepStatus) error {
	if !ValidStep(step) {
		return domain.ErrInvalidStep
	}
	p.Steps[step-1] = st
	p.Status = p.DeriveStatus()
	p.UpdatedAt = time.Now()
	return nil
}

// DeriveStatus computes the overall status from the step statuses: failed if
// any step failed, completed only when every step completed, pending before
// any work starts, processing otherwise.
func (p *Project) DeriveStatus() ProjectStatus {
	completed := 0
	started := false
	for _, st := range p.Steps {
		switch st {
		case StepStatusFailed:
			return ProjectStatusFailed
		case StepStatusCompleted:
			completed++
			started = true
		case StepStatusProcessing:
			started = true
		}
	}
	if completed == NumSteps {
		return ProjectStatusCompleted
	}
	if !started {
		return ProjectStatusPending
	}
	return ProjectStatusProcessing
}
