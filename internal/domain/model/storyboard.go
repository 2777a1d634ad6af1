package model

import (
	"time"

	"vidfab-pipeline/internal/domain"
)

// StoryboardVersion is an immutable record of one generation result for a
// shot. Versions are superseded, never deleted; exactly one per shot is
// current at any time.
type StoryboardVersion struct {
	ID            string
	ProjectID     string
	ShotNumber    int
	VersionNumber int
	ImageURL      string
	IsCurrent     bool
	CreatedAt     time.Time
}

func NewStoryboardVersion(id, projectID string, shotNumber, versionNumber int, imageURL string) (*StoryboardVersion, error) {
	if id == "" || projectID == "" || shotNumber < 1 || versionNumber < 1 || imageURL == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &StoryboardVersion{
		ID:            id,
		ProjectID:     projectID,
		ShotNumber:    shotNumber,
		VersionNumber: versionNumber,
		ImageURL:      imageURL,
		IsCurrent:     true,
		CreatedAt:     time.Now(),
	}, nil
}
