package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"woa/internal/asr"
	"woa/internal/models"
	"woa/internal/storage"
	"woa/internal/subtitle"
)

// TranscribeHandler owns job creation and the job status API.
type TranscribeHandler struct {
	jobs     *storage.JobRepository
	files    *storage.FileRepository
	registry *asr.Registry
	enabled  map[asr.Kind]bool
	device   string
}

func NewTranscribeHandler(jobs *storage.JobRepository, files *storage.FileRepository, registry *asr.Registry, enabled map[asr.Kind]bool, defaultDevice string) *TranscribeHandler {
	return &TranscribeHandler{
		jobs:     jobs,
		files:    files,
		registry: registry,
		enabled:  enabled,
		device:   defaultDevice,
	}
}

// transcribeRequest is the body of a job creation request.
type transcribeRequest struct {
	FileIDs     []string                 `json:"file_ids" validate:"required,min=1,max=10"`
	ModelType   string                   `json:"model_type" validate:"required"`
	ModelSize   string                   `json:"model_size"`
	Language    string                   `json:"language"`
	Device      string                   `json:"device" validate:"omitempty,oneof=cpu cuda"`
	Parameters  asr.Params               `json:"parameters"`
	Diarization models.DiarizationConfig `json:"diarization"`
	Formats     []string                 `json:"output_formats"`
	ForceAlign  bool                     `json:"force_alignment"`
	Postprocess models.PostprocessConfig `json:"postprocess"`
	Subtitle    models.SubtitleConfig    `json:"subtitle"`
}

// Create queues a transcription job over previously uploaded files.
// POST /api/v1/transcribe
func (h *TranscribeHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req transcribeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	kind, err := asr.ParseKind(req.ModelType)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if enabled, gated := h.enabled[kind]; gated && !enabled {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("model type %s is disabled", kind),
		})
	}
	if err := req.Parameters.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	for _, format := range req.Formats {
		if !subtitle.ValidFormat(format) {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unsupported output format: %s", format),
			})
		}
	}
	if req.Diarization.Enabled && req.Diarization.MinSpeakers > req.Diarization.MaxSpeakers &&
		req.Diarization.MaxSpeakers != 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "min_speakers must not exceed max_speakers",
		})
	}

	// Every referenced file must exist before the job is queued.
	files, err := h.files.ListByIDs(ctx, req.FileIDs)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if len(files) != len(req.FileIDs) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "one or more file ids are unknown"})
	}

	job := &models.Job{
		ModelType:   string(kind),
		ModelSize:   req.ModelSize,
		Language:    req.Language,
		Device:      req.Device,
		Parameters:  req.Parameters,
		Diarization: req.Diarization,
		Formats:     req.Formats,
		ForceAlign:  req.ForceAlign,
		Postprocess: req.Postprocess,
		Subtitle:    req.Subtitle,
	}
	if job.ModelSize == "" {
		job.ModelSize = "base"
	}
	if job.Language == "" {
		job.Language = "auto"
	}
	if job.Device == "" {
		job.Device = h.device
	}
	if len(job.Formats) == 0 {
		job.Formats = []string{subtitle.FormatAll}
	}

	if err := h.jobs.Create(ctx, job, req.FileIDs); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"files_count": job.TotalFiles,
		"message":     "Transcription job created and queued for processing",
	})
}

// Get returns the current state of a job.
// GET /api/v1/transcribe/jobs/:job_id
func (h *TranscribeHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("job_id")

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, job)
}

// List returns jobs filtered by status.
// GET /api/v1/transcribe/jobs?status=pending&limit=50
func (h *TranscribeHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	status := c.QueryParam("status")
	if status == "" {
		status = models.JobStatusPending
	}

	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	jobs, err := h.jobs.ListByStatus(ctx, status, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, jobs)
}

// Cancel requests cancellation of a live job. Pending jobs stop
// immediately; processing jobs stop at the next file boundary.
// DELETE /api/v1/transcribe/jobs/:job_id
func (h *TranscribeHandler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("job_id")

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	ok, err := h.jobs.RequestCancel(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !ok {
		return c.JSON(http.StatusConflict, map[string]string{
			"error": fmt.Sprintf("job is already %s", job.Status),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "cancellation requested"})
}

// Stats returns job counts per status.
// GET /api/v1/transcribe/jobs/stats
func (h *TranscribeHandler) Stats(c echo.Context) error {
	counts, err := h.jobs.CountByStatus(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, counts)
}

// EvictModels drops cached recognizers, all of them or one kind.
// POST /api/v1/models/evict?model_type=faster_whisper
func (h *TranscribeHandler) EvictModels(c echo.Context) error {
	kind := asr.Kind("")
	if s := c.QueryParam("model_type"); s != "" {
		parsed, err := asr.ParseKind(s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		kind = parsed
	}
	removed := h.registry.Evict(kind)
	return c.JSON(http.StatusOK, map[string]int{"evicted": removed})
}

// supportedLanguages lists the language hints the UI offers.
var supportedLanguages = []string{
	"auto", "en", "ko", "ja", "zh", "de", "es", "fr", "ru", "it", "pt", "vi", "th",
}

// whisperSizes lists the model sizes the whisper backends ship in.
var whisperSizes = []string{"tiny", "base", "small", "medium", "large-v1", "large-v2", "large-v3"}

// Providers describes the available backends, their model sizes and
// the shared language list.
// GET /api/v1/transcribe/providers
func (h *TranscribeHandler) Providers(c echo.Context) error {
	type provider struct {
		ID           string   `json:"id"`
		Models       []string `json:"models"`
		ComputeTypes []string `json:"compute_types,omitempty"`
		Enabled      bool     `json:"enabled"`
	}

	providers := make([]provider, 0, len(asr.Kinds))
	for _, kind := range asr.Kinds {
		p := provider{ID: string(kind), Enabled: true}
		if enabled, gated := h.enabled[kind]; gated {
			p.Enabled = enabled
		}
		switch kind {
		case asr.KindOriginWhisper:
			p.Models = whisperSizes
		case asr.KindFasterWhisper:
			p.Models = whisperSizes
			p.ComputeTypes = []string{asr.ComputeInt8, asr.ComputeFloat16, asr.ComputeFloat32}
		case asr.KindFastConformer:
			p.Models = []string{"large"}
		default:
			p.Models = []string{"default"}
		}
		providers = append(providers, p)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"providers": providers,
		"languages": supportedLanguages,
		"formats":   append([]string{subtitle.FormatAll}, subtitle.Formats...),
	})
}
