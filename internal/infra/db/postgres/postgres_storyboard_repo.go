package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
)

var _ repository.StoryboardVersionRepository = (*storyboardVersionRepo)(nil)

type storyboardVersionRepo struct {
	pool *pgxpool.Pool
}

func NewStoryboardVersionRepo(pool *pgxpool.Pool) *storyboardVersionRepo {
	return &storyboardVersionRepo{pool: pool}
}

// Save inserts a version row. Versions are immutable; a duplicate
// (project, shot, version) insert surfaces as ErrAlreadyExists.
func (r *storyboardVersionRepo) Save(ctx context.Context, tx repository.Tx, v *model.StoryboardVersion) error {
	const q = `
INSERT INTO storyboard_versions (id, project_id, shot_number, version_number, image_url, is_current, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
	_, err := execSQL(ctx, r.pool, tx, q,
		v.ID, v.ProjectID, v.ShotNumber, v.VersionNumber, v.ImageURL, v.IsCurrent, v.CreatedAt)
	return translateErr(err)
}

func (r *storyboardVersionRepo) MaxVersion(ctx context.Context, tx repository.Tx, projectID string, shotNumber int) (int, error) {
	const q = `
SELECT COALESCE(MAX(version_number), 0)
FROM storyboard_versions
WHERE project_id = $1 AND shot_number = $2;`
	row, err := pickRow(ctx, r.pool, tx, q, projectID, shotNumber)
	if err != nil {
		return 0, err
	}
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, translateErr(err)
	}
	return max, nil
}

const versionSelect = `
SELECT id, project_id, shot_number, version_number, image_url, is_current, created_at
FROM storyboard_versions`

func (r *storyboardVersionRepo) ListHistory(ctx context.Context, tx repository.Tx, projectID string, shotNumber int) ([]*model.StoryboardVersion, error) {
	rows, err := queryRows(ctx, r.pool, tx,
		versionSelect+` WHERE project_id = $1 AND shot_number = $2 ORDER BY version_number DESC;`,
		projectID, shotNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.StoryboardVersion
	for rows.Next() {
		var v model.StoryboardVersion
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.ShotNumber, &v.VersionNumber, &v.ImageURL, &v.IsCurrent, &v.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (r *storyboardVersionRepo) FindByVersion(ctx context.Context, tx repository.Tx, projectID string, shotNumber, versionNumber int) (*model.StoryboardVersion, error) {
	row, err := pickRow(ctx, r.pool, tx,
		versionSelect+` WHERE project_id = $1 AND shot_number = $2 AND version_number = $3;`,
		projectID, shotNumber, versionNumber)
	if err != nil {
		return nil, err
	}
	var v model.StoryboardVersion
	if err := row.Scan(&v.ID, &v.ProjectID, &v.ShotNumber, &v.VersionNumber, &v.ImageURL, &v.IsCurrent, &v.CreatedAt); err != nil {
		return nil, translateErr(err)
	}
	return &v, nil
}

// SetCurrent flips is_current to the given version and clears it on the
// shot's other versions in one statement, so readers never see zero or two
// current rows.
func (r *storyboardVersionRepo) SetCurrent(ctx context.Context, tx repository.Tx, projectID string, shotNumber, versionNumber int) error {
	const q = `
UPDATE storyboard_versions
SET is_current = (version_number = $3)
WHERE project_id = $1 AND shot_number = $2;`
	tag, err := execSQL(ctx, r.pool, tx, q, projectID, shotNumber, versionNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
