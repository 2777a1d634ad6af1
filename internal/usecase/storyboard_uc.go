// File: internal/usecase/storyboard_uc.go
package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
	ports "vidfab-pipeline/internal/domain/ports/usecase"
)

var _ ports.StoryboardVersions = (*StoryboardUseCase)(nil)

// StoryboardUseCase keeps the append-only version history per (project,
// shot). The shot's externally visible image URL always tracks the current
// version.
type StoryboardUseCase struct {
	versions repository.StoryboardVersionRepository
	shots    repository.ShotRepository
	projects repository.ProjectRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewStoryboardUseCase(
	versions repository.StoryboardVersionRepository,
	shots repository.ShotRepository,
	projects repository.ProjectRepository,
	tm repository.TransactionManager,
	log *zerolog.Logger,
) *StoryboardUseCase {
	return &StoryboardUseCase{versions: versions, shots: shots, projects: projects, tm: tm, log: log}
}

// RecordVersion appends a new version numbered max+1 and makes it current in
// the same transaction. No gaps, no renumbering, no deletion.
func (uc *StoryboardUseCase) RecordVersion(ctx context.Context, projectID string, shotNumber int, assetURL string) (int, error) {
	if projectID == "" || shotNumber < 1 || assetURL == "" {
		return 0, domain.ErrInvalidArgument
	}

	var versionNumber int
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		maxV, err := uc.versions.MaxVersion(ctx, tx, projectID, shotNumber)
		if err != nil {
			return err
		}
		v, err := model.NewStoryboardVersion(uuid.NewString(), projectID, shotNumber, maxV+1, assetURL)
		if err != nil {
			return err
		}
		if err := uc.versions.Save(ctx, tx, v); err != nil {
			return err
		}
		if err := uc.versions.SetCurrent(ctx, tx, projectID, shotNumber, v.VersionNumber); err != nil {
			return err
		}
		if err := uc.syncShot(ctx, tx, projectID, shotNumber, v); err != nil {
			return err
		}
		versionNumber = v.VersionNumber
		return nil
	})
	if err != nil {
		return 0, err
	}
	uc.log.Debug().Str("project_id", projectID).Int("shot", shotNumber).Int("version", versionNumber).Msg("storyboard version recorded")
	return versionNumber, nil
}

func (uc *StoryboardUseCase) ListHistory(ctx context.Context, userID, projectID string, shotNumber int) ([]*model.StoryboardVersion, error) {
	if err := uc.checkOwner(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return uc.versions.ListHistory(ctx, repository.NoTX, projectID, shotNumber)
}

// SwitchVersion activates an existing version. It never creates a version
// and fails with ErrNotFound when the requested one does not exist.
func (uc *StoryboardUseCase) SwitchVersion(ctx context.Context, userID, projectID string, shotNumber, versionNumber int) error {
	if err := uc.checkOwner(ctx, userID, projectID); err != nil {
		return err
	}
	return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		v, err := uc.versions.FindByVersion(ctx, tx, projectID, shotNumber, versionNumber)
		if err != nil {
			return err
		}
		if err := uc.versions.SetCurrent(ctx, tx, projectID, shotNumber, versionNumber); err != nil {
			return err
		}
		return uc.syncShot(ctx, tx, projectID, shotNumber, v)
	})
}

// syncShot points the shot at the given version's asset. A switched-to
// version was already downloaded once, so storage state is left alone unless
// the version is brand new.
func (uc *StoryboardUseCase) syncShot(ctx context.Context, tx repository.Tx, projectID string, shotNumber int, v *model.StoryboardVersion) error {
	shot, err := uc.shots.Find(ctx, tx, projectID, shotNumber)
	if err != nil {
		return err
	}
	shot.ImageURL = v.ImageURL
	shot.CurrentVersion = v.VersionNumber
	return uc.shots.Save(ctx, tx, shot)
}

func (uc *StoryboardUseCase) checkOwner(ctx context.Context, userID, projectID string) error {
	p, err := uc.projects.FindByID(ctx, repository.NoTX, projectID)
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return domain.ErrNotOwner
	}
	return nil
}
