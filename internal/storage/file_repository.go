package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"woa/internal/models"
)

// FileRepository is the data access layer for uploaded files.
type FileRepository struct {
	db *DB
}

// NewFileRepository creates a new FileRepository.
func NewFileRepository(db *DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, job_id, job_position, original_filename,
	storage_path, file_size, duration, mime_type, uploaded_at`

// CreateBatch persists the metadata of one upload request in a single
// transaction; a failure leaves no rows behind so the handler can
// remove the partially written files.
func (r *FileRepository) CreateBatch(ctx context.Context, files []*models.UploadedFile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, f := range files {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if f.UploadedAt.IsZero() {
			f.UploadedAt = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO uploaded_files (id, original_filename, storage_path,
				file_size, duration, mime_type, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.OriginalFilename, f.StoragePath,
			f.FileSize, f.Duration, nullString(f.MimeType), f.UploadedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetByID returns the file, or nil when unknown.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.UploadedFile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM uploaded_files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListByIDs returns the subset of ids that exist. Order follows the
// input ids.
func (r *FileRepository) ListByIDs(ctx context.Context, ids []string) ([]*models.UploadedFile, error) {
	var files []*models.UploadedFile
	for _, id := range ids {
		f, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if f != nil {
			files = append(files, f)
		}
	}
	return files, nil
}

// ListByJob returns the files linked to a job in request order.
func (r *FileRepository) ListByJob(ctx context.Context, jobID string) ([]*models.UploadedFile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM uploaded_files
		 WHERE job_id = ? ORDER BY job_position`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.UploadedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Delete removes one file's metadata row.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM uploaded_files WHERE id = ?`, id)
	return err
}

func scanFile(row rowScanner) (*models.UploadedFile, error) {
	var f models.UploadedFile
	var jobID, mimeType sql.NullString
	var duration sql.NullFloat64
	err := row.Scan(
		&f.ID, &jobID, &f.JobPosition, &f.OriginalFilename,
		&f.StoragePath, &f.FileSize, &duration, &mimeType, &f.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	f.JobID = jobID.String
	f.MimeType = mimeType.String
	if duration.Valid {
		d := duration.Float64
		f.Duration = &d
	}
	return &f, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
