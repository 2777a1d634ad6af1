package repository

import (
	"context"

	"vidfab-pipeline/internal/domain/model"
)

type ProjectRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Project) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Project, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Project, error)
	// ListStepProcessing returns projects whose given step is processing;
	// used by the sync poller and batch dispatcher scans.
	ListStepProcessing(ctx context.Context, tx Tx, step int, limit int) ([]*model.Project, error)
}

type ShotRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Shot) error
	Find(ctx context.Context, tx Tx, projectID string, shotNumber int) (*model.Shot, error)
	ListByProject(ctx context.Context, tx Tx, projectID string) ([]*model.Shot, error)
	// ListGenerating returns shots still waiting on the provider, with a
	// provider task id attached.
	ListGenerating(ctx context.Context, tx Tx, projectID string) ([]*model.Shot, error)
	// ListPendingDownload returns shots succeeded upstream but not yet in
	// durable storage (status=success, storage_status=pending).
	ListPendingDownload(ctx context.Context, tx Tx, projectID string) ([]*model.Shot, error)
	// ListAllPendingDownload is the cross-project variant the batch
	// dispatcher scans.
	ListAllPendingDownload(ctx context.Context, tx Tx, limit int) ([]*model.Shot, error)
	CountByStatus(ctx context.Context, tx Tx, projectID string) (map[model.ShotStatus]int, error)
}

type StoryboardVersionRepository interface {
	// Save inserts a new immutable version row.
	Save(ctx context.Context, tx Tx, v *model.StoryboardVersion) error
	// MaxVersion returns the highest version number for the shot, 0 if none.
	MaxVersion(ctx context.Context, tx Tx, projectID string, shotNumber int) (int, error)
	// ListHistory returns all versions for the shot, newest first.
	ListHistory(ctx context.Context, tx Tx, projectID string, shotNumber int) ([]*model.StoryboardVersion, error)
	FindByVersion(ctx context.Context, tx Tx, projectID string, shotNumber, versionNumber int) (*model.StoryboardVersion, error)
	// SetCurrent flips the is_current flag to the given version, clearing it
	// on every other version of the shot in the same statement.
	SetCurrent(ctx context.Context, tx Tx, projectID string, shotNumber, versionNumber int) error
}
