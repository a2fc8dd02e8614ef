package models

import "time"

// Result records the artifacts produced for one (job, file) pair.
// Rows are written during processing and never mutated afterwards.
type Result struct {
	ID             string            `json:"id"`
	JobID          string            `json:"job_id"`
	FileID         string            `json:"file_id"`
	SegmentCount   int               `json:"segment_count"`
	HasDiarization bool              `json:"has_diarization"`
	SpeakerCount   *int              `json:"speaker_count,omitempty"`
	OutputPaths    map[string]string `json:"output_paths"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Formats lists the formats that were actually produced.
func (r *Result) Formats() []string {
	formats := make([]string, 0, len(r.OutputPaths))
	for f := range r.OutputPaths {
		formats = append(formats, f)
	}
	return formats
}
