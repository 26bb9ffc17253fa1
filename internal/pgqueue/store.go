package pgqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"iencode/internal/queue"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const jobColumns = "id, owner, payload_ref, quality, lane, status, stage, progress_fraction, progress_bytes_done, progress_bytes_total, progress_eta_ms, progress_message, seq, created_at, updated_at, started_at, finished_at, cancel_requested, result_ref, error_info, retries"

// Store persists jobs in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn, verifies the connection and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var version int
	err = tx.QueryRowContext(ctx, "SELECT version FROM iencode_schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO iencode_schema_version (version) VALUES ($1)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("%w: database has version %d, expected %d", queue.ErrSchemaMismatch, version, schemaVersion)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, job *queue.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("put job: missing id")
	}
	retries, err := queue.MarshalRetries(job.Retries)
	if err != nil {
		return err
	}
	query := `INSERT INTO iencode_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
ON CONFLICT (id) DO UPDATE SET
    owner = EXCLUDED.owner,
    payload_ref = EXCLUDED.payload_ref,
    quality = EXCLUDED.quality,
    lane = EXCLUDED.lane,
    status = EXCLUDED.status,
    stage = EXCLUDED.stage,
    progress_fraction = EXCLUDED.progress_fraction,
    progress_bytes_done = EXCLUDED.progress_bytes_done,
    progress_bytes_total = EXCLUDED.progress_bytes_total,
    progress_eta_ms = EXCLUDED.progress_eta_ms,
    progress_message = EXCLUDED.progress_message,
    seq = EXCLUDED.seq,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    started_at = EXCLUDED.started_at,
    finished_at = EXCLUDED.finished_at,
    cancel_requested = EXCLUDED.cancel_requested,
    result_ref = EXCLUDED.result_ref,
    error_info = EXCLUDED.error_info,
    retries = EXCLUDED.retries`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.Owner,
		job.PayloadRef,
		job.Quality,
		string(job.Lane),
		string(job.Status),
		string(job.Stage),
		job.Progress.Fraction,
		job.Progress.BytesDone,
		job.Progress.BytesTotal,
		job.Progress.ETA.Milliseconds(),
		nullableString(job.Progress.Message),
		job.Seq,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
		job.CancelRequested,
		nullableString(job.ResultRef),
		nullableString(job.ErrorInfo),
		nullableString(retries),
	)
	if err != nil {
		return fmt.Errorf("put job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM iencode_jobs WHERE id = $1", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM iencode_jobs WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	query := "SELECT " + jobColumns + " FROM iencode_jobs"
	var args []any
	if len(statuses) > 0 {
		query += " WHERE status = ANY($1)"
		args = append(args, pq.Array(statusStrings(statuses)))
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	terminal := []queue.Status{queue.StatusSucceeded, queue.StatusFailed, queue.StatusCancelled}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM iencode_jobs WHERE status = ANY($1) AND finished_at IS NOT NULL AND finished_at < $2",
		pq.Array(statusStrings(terminal)), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM iencode_jobs").Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*queue.Job, error) {
	var (
		job             queue.Job
		lane            string
		status          string
		stage           string
		etaMillis       int64
		progressMessage sql.NullString
		startedAt       sql.NullTime
		finishedAt      sql.NullTime
		resultRef       sql.NullString
		errorInfo       sql.NullString
		retriesRaw      sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Owner,
		&job.PayloadRef,
		&job.Quality,
		&lane,
		&status,
		&stage,
		&job.Progress.Fraction,
		&job.Progress.BytesDone,
		&job.Progress.BytesTotal,
		&etaMillis,
		&progressMessage,
		&job.Seq,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&finishedAt,
		&job.CancelRequested,
		&resultRef,
		&errorInfo,
		&retriesRaw,
	); err != nil {
		return nil, err
	}

	job.Lane = queue.Lane(lane)
	job.Status = queue.Status(status)
	job.Stage = queue.Stage(stage)
	job.Progress.ETA = time.Duration(etaMillis) * time.Millisecond
	job.Progress.Message = progressMessage.String
	job.ResultRef = resultRef.String
	job.ErrorInfo = errorInfo.String
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	if startedAt.Valid {
		ts := startedAt.Time.UTC()
		job.StartedAt = &ts
	}
	if finishedAt.Valid {
		ts := finishedAt.Time.UTC()
		job.FinishedAt = &ts
	}
	retries, err := queue.UnmarshalRetries(retriesRaw.String)
	if err != nil {
		return nil, err
	}
	job.Retries = retries
	return &job, nil
}

func statusStrings(statuses []queue.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}
