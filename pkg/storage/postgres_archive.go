package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS transcription_jobs (
    job_id      TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    use_api     BOOLEAN NOT NULL,
    model       TEXT NOT NULL,
    lang        TEXT NOT NULL,
    output_type TEXT,
    progress    DOUBLE PRECISION NOT NULL,
    logs        JSONB NOT NULL,
    files       JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertJob = `
INSERT INTO transcription_jobs (
    job_id, status, use_api, model, lang, output_type, progress, logs, files, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (job_id)
DO UPDATE SET
    status = EXCLUDED.status,
    progress = EXCLUDED.progress,
    logs = EXCLUDED.logs,
    files = EXCLUDED.files,
    archived_at = now()
`

// PostgresArchive 把结束的任务写入 PostgreSQL
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive 打开连接并确保表存在
func NewPostgresArchive(ctx context.Context, connStr string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if _, err := db.ExecContext(ctx, createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建 transcription_jobs 表失败: %w", err)
	}

	return &PostgresArchive{db: db}, nil
}

// Archive UPSERT 一份任务快照
func (s *PostgresArchive) Archive(ctx context.Context, job models.Job) error {
	logsJSON, err := json.Marshal(job.Logs)
	if err != nil {
		return fmt.Errorf("序列化 logs 失败: %w", err)
	}

	filesJSON, err := json.Marshal(job.Files)
	if err != nil {
		return fmt.Errorf("序列化 files 失败: %w", err)
	}

	var outputType sql.NullString
	if job.OutputType != nil {
		outputType = sql.NullString{String: *job.OutputType, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, upsertJob,
		job.ID,
		string(job.Status),
		job.UseAPI,
		job.Model,
		job.Lang,
		outputType,
		job.Progress,
		logsJSON,
		filesJSON,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("保存到数据库失败: %w", err)
	}

	return nil
}

// Close 关闭数据库连接
func (s *PostgresArchive) Close() error {
	return s.db.Close()
}
