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

// ResultRepository is the data access layer for per-file results.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Create persists one (job, file) result. Rows are immutable once
// written.
func (r *ResultRepository) Create(ctx context.Context, result *models.Result) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	result.CreatedAt = time.Now().UTC()

	paths, err := json.Marshal(result.OutputPaths)
	if err != nil {
		return fmt.Errorf("failed to encode output paths: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO results (id, job_id, file_id, segment_count,
			has_diarization, speaker_count, output_paths, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.JobID, result.FileID, result.SegmentCount,
		result.HasDiarization, result.SpeakerCount, string(paths), result.CreatedAt,
	)
	return err
}

// ListByJob returns the job's results in creation order.
func (r *ResultRepository) ListByJob(ctx context.Context, jobID string) ([]*models.Result, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, file_id, segment_count, has_diarization,
			speaker_count, output_paths, created_at
		FROM results WHERE job_id = ? ORDER BY created_at`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.Result
	for rows.Next() {
		var res models.Result
		var speakerCount sql.NullInt64
		var paths string
		err := rows.Scan(&res.ID, &res.JobID, &res.FileID, &res.SegmentCount,
			&res.HasDiarization, &speakerCount, &paths, &res.CreatedAt)
		if err != nil {
			return nil, err
		}
		if speakerCount.Valid {
			n := int(speakerCount.Int64)
			res.SpeakerCount = &n
		}
		if err := json.Unmarshal([]byte(paths), &res.OutputPaths); err != nil {
			return nil, fmt.Errorf("failed to decode output paths: %w", err)
		}
		results = append(results, &res)
	}
	return results, rows.Err()
}

// FormatPath returns the stored artifact path for a format, searching
// the job's results in order. Empty when no result produced the format.
func (r *ResultRepository) FormatPath(ctx context.Context, jobID, format string) (string, error) {
	results, err := r.ListByJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	for _, res := range results {
		if path, ok := res.OutputPaths[format]; ok {
			return path, nil
		}
	}
	return "", nil
}
