package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"woa/internal/models"
)

// JobRepository is the data access layer for transcription jobs.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, model_type, model_size, language, device, parameters,
	diarization_config, output_formats, force_alignment, postprocess,
	subtitle_config, status, progress, current_file, total_files,
	cancel_requested, error_message, created_at, started_at, completed_at`

// Create persists a new pending job and links the given files to it in
// request order, all in one transaction. Linking fails if any file id
// is unknown.
func (r *JobRepository) Create(ctx context.Context, job *models.Job, fileIDs []string) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = models.JobStatusPending
	job.Progress = 0
	job.TotalFiles = len(fileIDs)
	job.CreatedAt = time.Now().UTC()

	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	diarization, err := json.Marshal(job.Diarization)
	if err != nil {
		return fmt.Errorf("failed to encode diarization config: %w", err)
	}
	formats, err := json.Marshal(job.Formats)
	if err != nil {
		return fmt.Errorf("failed to encode output formats: %w", err)
	}
	postprocess, err := json.Marshal(job.Postprocess)
	if err != nil {
		return fmt.Errorf("failed to encode postprocess config: %w", err)
	}
	subtitleCfg, err := json.Marshal(job.Subtitle)
	if err != nil {
		return fmt.Errorf("failed to encode subtitle config: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, model_type, model_size, language, device,
			parameters, diarization_config, output_formats, force_alignment,
			postprocess, subtitle_config, status, progress, total_files, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ModelType, job.ModelSize, job.Language, job.Device,
		string(params), string(diarization), string(formats), job.ForceAlign,
		string(postprocess), string(subtitleCfg), job.Status, job.Progress,
		job.TotalFiles, job.CreatedAt,
	)
	if err != nil {
		return err
	}

	for position, fileID := range fileIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE uploaded_files SET job_id = ?, job_position = ? WHERE id = ?`,
			job.ID, position, fileID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("file not found: %s", fileID)
		}
	}

	return tx.Commit()
}

// GetByID returns the job, or nil when unknown.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// NextPending returns the oldest pending job, or nil when the queue is
// empty.
func (r *JobRepository) NextPending(ctx context.Context) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? AND cancel_requested = 0
		 ORDER BY created_at LIMIT 1`, models.JobStatusPending)
	return scanJob(row)
}

// Claim transitions a pending job to processing and stamps started_at.
// The update is a compare-and-set on status, so a job cancelled after
// it was picked from the queue is never claimed; the return value
// reports whether this caller won the job.
func (r *JobRepository) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ? AND cancel_requested = 0`,
		models.JobStatusProcessing, now, id, models.JobStatusPending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateProgress records the progress percentage and the file under
// active work.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int, currentFile string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, current_file = ? WHERE id = ?`,
		progress, currentFile, id)
	return err
}

// Complete marks a processing job completed with full progress.
func (r *JobRepository) Complete(ctx context.Context, id string) error {
	return r.finish(ctx, id, models.JobStatusCompleted, 100, "")
}

// Fail marks a processing job failed and records the error.
func (r *JobRepository) Fail(ctx context.Context, id string, errorMsg string) error {
	return r.finish(ctx, id, models.JobStatusFailed, -1, errorMsg)
}

// MarkCancelled moves a live job to the cancelled terminal state.
func (r *JobRepository) MarkCancelled(ctx context.Context, id string) error {
	return r.finish(ctx, id, models.JobStatusCancelled, -1, "")
}

// finish applies a terminal transition. Terminal states are never left,
// so the update is guarded on the live statuses.
func (r *JobRepository) finish(ctx context.Context, id, status string, progress int, errorMsg string) error {
	now := time.Now().UTC()
	var err error
	if progress >= 0 {
		_, err = r.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, progress = ?, completed_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			status, progress, now, id,
			models.JobStatusPending, models.JobStatusProcessing)
	} else if errorMsg != "" {
		_, err = r.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, error_message = ?, completed_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			status, errorMsg, now, id,
			models.JobStatusPending, models.JobStatusProcessing)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, completed_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			status, now, id,
			models.JobStatusPending, models.JobStatusProcessing)
	}
	return err
}

// RequestCancel flags a live job for cancellation. Pending jobs go
// terminal immediately; processing jobs stop at the next checkpoint
// between files. Returns false when the job is already terminal.
func (r *JobRepository) RequestCancel(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET cancel_requested = 1
		WHERE id = ? AND status IN (?, ?)`,
		id, models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}

	// A pending job is not owned by any worker, so it can be finished
	// here; the CAS in Claim keeps workers from racing this.
	_, err = r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		models.JobStatusCancelled, time.Now().UTC(), id, models.JobStatusPending)
	return true, err
}

// RequeueProcessing returns jobs stranded in processing by a process
// that died mid-job to the pending queue, so a restart picks them up
// again. Stranded jobs already flagged for cancellation go terminal
// instead. Must be called before any worker starts claiming.
func (r *JobRepository) RequeueProcessing(ctx context.Context) (int, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE status = ? AND cancel_requested = 1`,
		models.JobStatusCancelled, time.Now().UTC(), models.JobStatusProcessing)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = 0, current_file = NULL, started_at = NULL
		WHERE status = ?`,
		models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CancelRequested reports whether cancellation was requested for the job.
func (r *JobRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := r.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return flag, err
}

// ListByStatus returns jobs in the given status, newest first.
func (r *JobRepository) ListByStatus(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if limit == 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountByStatus returns the number of jobs per status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Delete removes a job; results cascade away with it.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// CleanupTerminal deletes terminal jobs older than the given number of
// days and returns their ids so the caller can remove result
// directories from disk.
func (r *JobRepository) CleanupTerminal(ctx context.Context, olderThanDays int) ([]string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*models.Job, error) {
	job, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func scanJobRow(row rowScanner) (*models.Job, error) {
	var job models.Job
	var params, diarization, formats, postprocess, subtitleCfg string
	var currentFile, errorMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.ModelType, &job.ModelSize, &job.Language, &job.Device,
		&params, &diarization, &formats, &job.ForceAlign, &postprocess,
		&subtitleCfg, &job.Status, &job.Progress, &currentFile, &job.TotalFiles,
		&job.CancelRequested, &errorMsg, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &job.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(diarization), &job.Diarization); err != nil {
		return nil, fmt.Errorf("failed to decode diarization config: %w", err)
	}
	if err := json.Unmarshal([]byte(formats), &job.Formats); err != nil {
		return nil, fmt.Errorf("failed to decode output formats: %w", err)
	}
	if err := json.Unmarshal([]byte(postprocess), &job.Postprocess); err != nil {
		return nil, fmt.Errorf("failed to decode postprocess config: %w", err)
	}
	if err := json.Unmarshal([]byte(subtitleCfg), &job.Subtitle); err != nil {
		return nil, fmt.Errorf("failed to decode subtitle config: %w", err)
	}

	job.CurrentFile = currentFile.String
	job.Error = errorMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
