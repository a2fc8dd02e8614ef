package models

import "time"

// UploadedFile is an audio or video file accepted by the upload API.
// The on-disk copy is immutable once written; jobs reference files by
// id without owning them.
type UploadedFile struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id,omitempty"`
	JobPosition      int       `json:"-"`
	OriginalFilename string    `json:"original_filename"`
	StoragePath      string    `json:"storage_path"`
	FileSize         int64     `json:"file_size"`
	Duration         *float64  `json:"duration,omitempty"`
	MimeType         string    `json:"mime_type,omitempty"`
	UploadedAt       time.Time `json:"uploaded_at"`
}
