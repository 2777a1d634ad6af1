package model

import (
	"time"

	"vidfab-pipeline/internal/domain"
)

type ShotStatus string

const (
	ShotStatusPending    ShotStatus = "pending"
	ShotStatusGenerating ShotStatus = "generating"
	ShotStatusSuccess    ShotStatus = "success"
	ShotStatusFailed     ShotStatus = "failed"
)

type StorageStatus string

const (
	StorageStatusPending    StorageStatus = "pending"
	StorageStatusDownloaded StorageStatus = "downloaded"
	StorageStatusFailed     StorageStatus = "failed"
)

// Shot is one storyboard/video unit within a project, numbered contiguously
// from 1..TotalShots as declared by script analysis.
type Shot struct {
	ProjectID      string
	ShotNumber     int
	Prompt         string
	Status         ShotStatus
	StorageStatus  StorageStatus
	ImageURL       string // durable CDN URL of the active storyboard version
	ImageURLExt    string // provider-hosted, ephemeral
	VideoURL       string
	VideoURLExt    string
	ProviderTaskID string
	CurrentVersion int
	CharacterIDs   []string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewShot(projectID string, shotNumber int, prompt string) (*Shot, error) {
	if projectID == "" || shotNumber < 1 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Shot{
		ProjectID:     projectID,
		ShotNumber:    shotNumber,
		Prompt:        prompt,
		Status:        ShotStatusPending,
		StorageStatus: StorageStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Terminal reports whether the shot's generation reached a final state.
func (s ShotStatus) Terminal() bool {
	return s == ShotStatusSuccess || s == ShotStatusFailed
}
