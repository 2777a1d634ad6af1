package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vidfab-pipeline/internal/domain"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/repository"
)

var _ repository.ProjectRepository = (*projectRepo)(nil)

type projectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *projectRepo {
	return &projectRepo{pool: pool}
}

// Step statuses persist as six text columns; a fixed-size array beats a join
// for a set this small and makes ListStepProcessing a plain indexed filter.
var stepColumns = [model.NumSteps]string{
	"step_script", "step_style", "step_storyboards", "step_clips", "step_download", "step_compose",
}

func (r *projectRepo) Save(ctx context.Context, tx repository.Tx, p *model.Project) error {
	const q = `
INSERT INTO projects (id, user_id, title, script, status, style_id,
  current_step, step_script, step_style, step_storyboards, step_clips, step_download, step_compose,
  total_shots, final_video_url, failure_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  style_id = EXCLUDED.style_id,
  current_step = EXCLUDED.current_step,
  step_script = EXCLUDED.step_script,
  step_style = EXCLUDED.step_style,
  step_storyboards = EXCLUDED.step_storyboards,
  step_clips = EXCLUDED.step_clips,
  step_download = EXCLUDED.step_download,
  step_compose = EXCLUDED.step_compose,
  total_shots = EXCLUDED.total_shots,
  final_video_url = EXCLUDED.final_video_url,
  failure_reason = EXCLUDED.failure_reason,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.Title, p.Script, p.Status, p.StyleID,
		p.CurrentStep, p.Steps[0], p.Steps[1], p.Steps[2], p.Steps[3], p.Steps[4], p.Steps[5],
		p.TotalShots, p.FinalVideoURL, p.FailureReason, p.CreatedAt, p.UpdatedAt)
	return translateErr(err)
}

const projectSelect = `
SELECT id, user_id, title, script, status, style_id,
  current_step, step_script, step_style, step_storyboards, step_clips, step_download, step_compose,
  total_shots, final_video_url, failure_reason, created_at, updated_at
FROM projects`

func (r *projectRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Project, error) {
	row, err := pickRow(ctx, r.pool, tx, projectSelect+` WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanProject(row)
}

func (r *projectRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Project, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := queryRows(ctx, r.pool, tx, projectSelect+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2;`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectProjects(rows)
}

func (r *projectRepo) ListStepProcessing(ctx context.Context, tx repository.Tx, step int, limit int) ([]*model.Project, error) {
	if !model.ValidStep(step) {
		return nil, domain.ErrInvalidStep
	}
	if limit <= 0 {
		limit = 100
	}
	q := projectSelect + ` WHERE ` + stepColumns[step-1] + ` = 'processing' ORDER BY updated_at LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, err
	}
	return collectProjects(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*model.Project, error) {
	var p model.Project
	var status string
	var steps [model.NumSteps]string
	err := row.Scan(
		&p.ID, &p.UserID, &p.Title, &p.Script, &status, &p.StyleID,
		&p.CurrentStep, &steps[0], &steps[1], &steps[2], &steps[3], &steps[4], &steps[5],
		&p.TotalShots, &p.FinalVideoURL, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, translateErr(err)
	}
	p.Status = model.ProjectStatus(status)
	for i, s := range steps {
		p.Steps[i] = model.StepStatus(s)
	}
	return &p, nil
}

func collectProjects(rows pgx.Rows) ([]*model.Project, error) {
	defer rows.Close()
	var out []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
