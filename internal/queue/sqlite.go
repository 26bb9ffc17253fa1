package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists jobs in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const jobColumns = "id, owner, payload_ref, quality, lane, status, stage, progress_fraction, progress_bytes_done, progress_bytes_total, progress_eta_ms, progress_message, seq, created_at, updated_at, started_at, finished_at, cancel_requested, result_ref, error_info, retries_json"

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// OpenSQLite initializes or connects to the job database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, job *Job) error {
	ctx = ensureContext(ctx)
	if job == nil || job.ID == "" {
		return errors.New("put job: missing id")
	}
	retries, err := MarshalRetries(job.Retries)
	if err != nil {
		return err
	}
	query := `INSERT INTO jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    owner = excluded.owner,
    payload_ref = excluded.payload_ref,
    quality = excluded.quality,
    lane = excluded.lane,
    status = excluded.status,
    stage = excluded.stage,
    progress_fraction = excluded.progress_fraction,
    progress_bytes_done = excluded.progress_bytes_done,
    progress_bytes_total = excluded.progress_bytes_total,
    progress_eta_ms = excluded.progress_eta_ms,
    progress_message = excluded.progress_message,
    seq = excluded.seq,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at,
    started_at = excluded.started_at,
    finished_at = excluded.finished_at,
    cancel_requested = excluded.cancel_requested,
    result_ref = excluded.result_ref,
    error_info = excluded.error_info,
    retries_json = excluded.retries_json`
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
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
			formatTime(job.CreatedAt),
			formatTime(job.UpdatedAt),
			nullableTime(job.StartedAt),
			nullableTime(job.FinishedAt),
			boolToInt(job.CancelRequested),
			nullableString(job.ResultRef),
			nullableString(job.ErrorInfo),
			nullableString(retries),
		)
		return err
	})
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
		return err
	})
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + jobColumns + " FROM jobs"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	statuses := terminalStatuses()
	args := make([]any, 0, len(statuses)+1)
	for _, status := range statuses {
		args = append(args, string(status))
	}
	args = append(args, formatTime(cutoff))
	query := "DELETE FROM jobs WHERE status IN (" + makePlaceholders(len(statuses)) + ") AND finished_at IS NOT NULL AND finished_at < ?"

	var res sql.Result
	if err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) MaxSeq(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM jobs").Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job             Job
		lane            string
		status          string
		stage           string
		etaMillis       int64
		progressMessage sql.NullString
		createdRaw      string
		updatedRaw      string
		startedRaw      sql.NullString
		finishedRaw     sql.NullString
		cancelRequested int64
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
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
		&cancelRequested,
		&resultRef,
		&errorInfo,
		&retriesRaw,
	); err != nil {
		return nil, err
	}

	job.Lane = Lane(lane)
	job.Status = Status(status)
	job.Stage = Stage(stage)
	job.Progress.ETA = time.Duration(etaMillis) * time.Millisecond
	job.Progress.Message = progressMessage.String
	job.CancelRequested = cancelRequested != 0
	job.ResultRef = resultRef.String
	job.ErrorInfo = errorInfo.String
	if ts, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = ts
	}
	if ts, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = ts
	}
	if startedRaw.Valid {
		if ts, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &ts
		}
	}
	if finishedRaw.Valid {
		if ts, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &ts
		}
	}
	retries, err := UnmarshalRetries(retriesRaw.String)
	if err != nil {
		return nil, err
	}
	job.Retries = retries
	return &job, nil
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
	return formatTime(*value)
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty time")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
