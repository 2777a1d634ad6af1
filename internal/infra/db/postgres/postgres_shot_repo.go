package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
)

var _ repository.ShotRepository = (*shotRepo)(nil)

type shotRepo struct {
	pool *pgxpool.Pool
}

func NewShotRepo(pool *pgxpool.Pool) *shotRepo {
	return &shotRepo{pool: pool}
}

func (r *shotRepo) Save(ctx context.Context, tx repository.Tx, s *model.Shot) error {
	const q = `
INSERT INTO shots (project_id, shot_number, prompt, status, storage_status,
  image_url, image_url_ext, video_url, video_url_ext, provider_task_id,
  current_version, character_ids, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (project_id, shot_number) DO UPDATE SET
  prompt = EXCLUDED.prompt,
  status = EXCLUDED.status,
  storage_status = EXCLUDED.storage_status,
  image_url = EXCLUDED.image_url,
  image_url_ext = EXCLUDED.image_url_ext,
  video_url = EXCLUDED.video_url,
  video_url_ext = EXCLUDED.video_url_ext,
  provider_task_id = EXCLUDED.provider_task_id,
  current_version = EXCLUDED.current_version,
  character_ids = EXCLUDED.character_ids,
  error_message = EXCLUDED.error_message,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ProjectID, s.ShotNumber, s.Prompt, s.Status, s.StorageStatus,
		s.ImageURL, s.ImageURLExt, s.VideoURL, s.VideoURLExt, s.ProviderTaskID,
		s.CurrentVersion, s.CharacterIDs, s.ErrorMessage, s.CreatedAt, s.UpdatedAt)
	return translateErr(err)
}

const shotSelect = `
SELECT project_id, shot_number, prompt, status, storage_status,
  image_url, image_url_ext, video_url, video_url_ext, provider_task_id,
  current_version, character_ids, error_message, created_at, updated_at
FROM shots`

func (r *shotRepo) Find(ctx context.Context, tx repository.Tx, projectID string, shotNumber int) (*model.Shot, error) {
	row, err := pickRow(ctx, r.pool, tx, shotSelect+` WHERE project_id = $1 AND shot_number = $2;`, projectID, shotNumber)
	if err != nil {
		return nil, err
	}
	return scanShot(row)
}

func (r *shotRepo) ListByProject(ctx context.Context, tx repository.Tx, projectID string) ([]*model.Shot, error) {
	rows, err := queryRows(ctx, r.pool, tx, shotSelect+` WHERE project_id = $1 ORDER BY shot_number;`, projectID)
	if err != nil {
		return nil, err
	}
	return collectShots(rows)
}

func (r *shotRepo) ListGenerating(ctx context.Context, tx repository.Tx, projectID string) ([]*model.Shot, error) {
	rows, err := queryRows(ctx, r.pool, tx,
		shotSelect+` WHERE project_id = $1 AND status = 'generating' AND provider_task_id <> '' ORDER BY shot_number;`,
		projectID)
	if err != nil {
		return nil, err
	}
	return collectShots(rows)
}

func (r *shotRepo) ListPendingDownload(ctx context.Context, tx repository.Tx, projectID string) ([]*model.Shot, error) {
	rows, err := queryRows(ctx, r.pool, tx,
		shotSelect+` WHERE project_id = $1 AND status = 'success' AND storage_status = 'pending' ORDER BY shot_number;`,
		projectID)
	if err != nil {
		return nil, err
	}
	return collectShots(rows)
}

func (r *shotRepo) ListAllPendingDownload(ctx context.Context, tx repository.Tx, limit int) ([]*model.Shot, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := queryRows(ctx, r.pool, tx,
		shotSelect+` WHERE status = 'success' AND storage_status = 'pending' ORDER BY updated_at LIMIT $1;`,
		limit)
	if err != nil {
		return nil, err
	}
	return collectShots(rows)
}

func (r *shotRepo) CountByStatus(ctx context.Context, tx repository.Tx, projectID string) (map[model.ShotStatus]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM shots
WHERE project_id = $1
GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.ShotStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.ShotStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanShot(row rowScanner) (*model.Shot, error) {
	var s model.Shot
	var status, storage string
	err := row.Scan(
		&s.ProjectID, &s.ShotNumber, &s.Prompt, &status, &storage,
		&s.ImageURL, &s.ImageURLExt, &s.VideoURL, &s.VideoURLExt, &s.ProviderTaskID,
		&s.CurrentVersion, &s.CharacterIDs, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, translateErr(err)
	}
	s.Status = model.ShotStatus(status)
	s.StorageStatus = model.StorageStatus(storage)
	return &s, nil
}

func collectShots(rows pgx.Rows) ([]*model.Shot, error) {
	defer rows.Close()
	var out []*model.Shot
	for rows.Next() {
		s, err := scanShot(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
