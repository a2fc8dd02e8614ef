package models

import (
	"time"

	"woa/internal/asr"
)

// Job is one transcription request over a set of uploaded files.
type Job struct {
	ID          string             `json:"id"`
	ModelType   string             `json:"model_type"`
	ModelSize   string             `json:"model_size"`
	Language    string             `json:"language"`
	Device      string             `json:"device"`
	Parameters  asr.Params         `json:"parameters"`
	Diarization DiarizationConfig  `json:"diarization"`
	Formats     []string           `json:"output_formats"`
	ForceAlign  bool               `json:"force_alignment"`
	Postprocess PostprocessConfig  `json:"postprocess"`
	Subtitle    SubtitleConfig     `json:"subtitle"`

	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	CurrentFile     string     `json:"current_file,omitempty"`
	TotalFiles      int        `json:"total_files"`
	CancelRequested bool       `json:"-"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// DiarizationConfig is the per-job speaker labeling request.
type DiarizationConfig struct {
	Enabled     bool `json:"enabled"`
	MinSpeakers int  `json:"min_speakers" validate:"omitempty,min=1,max=20"`
	MaxSpeakers int  `json:"max_speakers" validate:"omitempty,min=1,max=20"`
}

// SubtitleConfig carries per-job subtitle layout options. Zero values
// mean "unset".
type SubtitleConfig struct {
	MaxLineWidth   int  `json:"max_line_width,omitempty"`
	MaxLineCount   int  `json:"max_line_count,omitempty"`
	HighlightWords bool `json:"highlight_words,omitempty"`
}

// PostprocessConfig gates the optional post-recognition passes.
type PostprocessConfig struct {
	PNC bool `json:"pnc"` // punctuation and capitalization restore
	VAD bool `json:"vad"` // drop segments that fall inside silence
}

// Job statuses. pending and processing are live; the rest are terminal
// and never left once entered.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Terminal reports whether a job in this status will never change again.
func Terminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Key builds the recognizer cache key for this job.
func (j *Job) Key() asr.Key {
	return asr.Key{
		Kind:        asr.Kind(j.ModelType),
		Size:        j.ModelSize,
		Device:      j.Device,
		ComputeType: asr.ResolveComputeType(asr.Kind(j.ModelType), j.Device, j.Parameters.ComputeType),
	}
}
