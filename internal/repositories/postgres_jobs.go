package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekrata/echomimic-v2/internal/httpkit"
	"github.com/ekrata/echomimic-v2/internal/models"
	"github.com/ekrata/echomimic-v2/internal/pkg/textutil"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

// schema is applied by EnsureSchema. The partial unique index enforces one
// active job per (brand_id, video_id) across API and worker processes.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS generation_jobs (
		id              TEXT PRIMARY KEY,
		brand_id        TEXT NOT NULL,
		video_id        TEXT NOT NULL,
		object_key      TEXT NOT NULL,
		output_style    TEXT NOT NULL DEFAULT '',
		state           TEXT NOT NULL,
		stage           TEXT NOT NULL DEFAULT '',
		failure_stage   TEXT,
		failure_kind    TEXT,
		failure_message TEXT,
		stored_key      TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at      TIMESTAMPTZ,
		finished_at     TIMESTAMPTZ
	)`,
	`ALTER TABLE generation_jobs ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
	`CREATE UNIQUE INDEX IF NOT EXISTS generation_jobs_active_pair
		ON generation_jobs (brand_id, video_id)
		WHERE state IN ('QUEUED', 'RUNNING')`,
	`CREATE INDEX IF NOT EXISTS generation_jobs_created_at
		ON generation_jobs (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS generation_jobs_active_updated
		ON generation_jobs (updated_at)
		WHERE state IN ('QUEUED', 'RUNNING')`,
}

// maxFailureMessage bounds failure_message in bytes.
const maxFailureMessage = 2000

const jobColumns = `id, brand_id, video_id, object_key, output_style, state, stage,
	failure_stage, failure_kind, failure_message, stored_key,
	created_at, updated_at, started_at, finished_at`

type PostgresJobRepository struct {
	db *pgxpool.Pool
}

func NewPostgresJobRepository(db *pgxpool.Pool) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

// EnsureSchema creates the jobs table and indexes if they do not exist.
func (r *PostgresJobRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresJobRepository) Create(ctx context.Context, rec models.JobRecord) error {
	if rec.State == "" {
		rec.State = models.JobQueued
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO generation_jobs (id, brand_id, video_id, object_key, output_style, state, stage, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	`, rec.ID, rec.BrandID, rec.VideoID, rec.ObjectKey, rec.OutputStyle, string(rec.State), string(rec.Stage), rec.CreatedAt)
	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return fmt.Errorf("%s/%s: %w", rec.BrandID, rec.VideoID, ports.ErrJobConflict)
		}
		return err
	}
	return nil
}

func (r *PostgresJobRepository) MarkRunning(ctx context.Context, jobID string, stage models.Stage) error {
	return r.transition(ctx, jobID, `
		UPDATE generation_jobs
		SET state='RUNNING', stage=$2, started_at=COALESCE(started_at, NOW()), updated_at=NOW()
		WHERE id=$1 AND state IN ('QUEUED','RUNNING')
	`, jobID, string(stage))
}

func (r *PostgresJobRepository) MarkSucceeded(ctx context.Context, jobID string, storedKey string) error {
	return r.transition(ctx, jobID, `
		UPDATE generation_jobs
		SET state='SUCCEEDED', stored_key=$2, finished_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND state IN ('QUEUED','RUNNING')
	`, jobID, storedKey)
}

func (r *PostgresJobRepository) MarkFailed(ctx context.Context, jobID string, f models.Failure) error {
	msg := textutil.Head(f.Message, maxFailureMessage)
	return r.transition(ctx, jobID, `
		UPDATE generation_jobs
		SET state='FAILED', stage=$2, failure_stage=$2, failure_kind=$3, failure_message=$4, finished_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND state IN ('QUEUED','RUNNING')
	`, jobID, string(f.Stage), string(f.Kind), nullIfEmpty(msg))
}

// transition runs a guarded update and tells a missing job apart from a
// finished one when no row matched.
func (r *PostgresJobRepository) transition(ctx context.Context, jobID, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var state string
	err = r.db.QueryRow(ctx, `SELECT state FROM generation_jobs WHERE id=$1`, jobID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", jobID, ports.ErrJobNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s: %w", jobID, state, ports.ErrJobFinished)
}

func (r *PostgresJobRepository) Get(ctx context.Context, jobID string) (models.JobRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id=$1`, jobID)
	rec, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobRecord{}, fmt.Errorf("job %s: %w", jobID, ports.ErrJobNotFound)
	}
	return rec, err
}

func (r *PostgresJobRepository) List(ctx context.Context, f models.JobFilter) ([]models.JobRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	add("brand_id", f.BrandID)
	add("video_id", f.VideoID)
	add("state", string(f.State))

	sql := `SELECT ` + jobColumns + ` FROM generation_jobs`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, normalizeLimit(f.Limit))
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.JobRecord{}
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresJobRepository) AbandonStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE generation_jobs
		SET state='FAILED',
			stage=COALESCE(NULLIF(stage, ''), 'dispatch'),
			failure_stage=COALESCE(NULLIF(stage, ''), 'dispatch'),
			failure_kind=$2,
			failure_message=$3,
			finished_at=NOW(),
			updated_at=NOW()
		WHERE state IN ('QUEUED','RUNNING') AND updated_at < $1
	`, cutoff, string(models.FailureAbandoned), abandonedMessage)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresJobRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanJob(row pgx.Row) (models.JobRecord, error) {
	var (
		rec                                  models.JobRecord
		state, stage                         string
		failStage, failKind, failMsg, stored *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.BrandID,
		&rec.VideoID,
		&rec.ObjectKey,
		&rec.OutputStyle,
		&state,
		&stage,
		&failStage,
		&failKind,
		&failMsg,
		&stored,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.StartedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		return models.JobRecord{}, err
	}

	rec.State = models.JobState(state)
	rec.Stage = models.Stage(stage)
	if failKind != nil {
		rec.Failure = &models.Failure{
			Stage:   models.Stage(deref(failStage)),
			Kind:    models.FailureKind(*failKind),
			Message: deref(failMsg),
		}
	}
	rec.StoredKey = deref(stored)
	return rec, nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
