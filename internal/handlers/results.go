package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"woa/internal/models"
	"woa/internal/storage"
	"woa/internal/subtitle"
)

// ResultsHandler serves completed job artifacts.
type ResultsHandler struct {
	jobs    *storage.JobRepository
	results *storage.ResultRepository
}

func NewResultsHandler(jobs *storage.JobRepository, results *storage.ResultRepository) *ResultsHandler {
	return &ResultsHandler{jobs: jobs, results: results}
}

// getCompletedJob loads the job and rejects requests against jobs that
// have not completed; results only exist for completed jobs.
func (h *ResultsHandler) getCompletedJob(c echo.Context, id string) (*models.Job, error) {
	job, err := h.jobs.GetByID(c.Request().Context(), id)
	if err != nil {
		return nil, c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	if job.Status != models.JobStatusCompleted {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("job is %s, results are only available for completed jobs", job.Status),
		})
	}
	return job, nil
}

// Summary lists a completed job's per-file results.
// GET /api/v1/results/:job_id
func (h *ResultsHandler) Summary(c echo.Context) error {
	job, errResp := h.getCompletedJob(c, c.Param("job_id"))
	if job == nil {
		return errResp
	}

	results, err := h.results.ListByJob(c.Request().Context(), job.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"results": results,
	})
}

// Download streams one artifact of a completed job.
// GET /api/v1/results/:job_id/:format
func (h *ResultsHandler) Download(c echo.Context) error {
	format := c.Param("format")
	if format == "" {
		format = "json"
	}
	mimeType, ok := subtitle.MIMETypes[format]
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unsupported output format: %s", format),
		})
	}

	job, errResp := h.getCompletedJob(c, c.Param("job_id"))
	if job == nil {
		return errResp
	}

	path, err := h.results.FormatPath(c.Request().Context(), job.ID, format)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if path == "" {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("no %s artifact for this job", format),
		})
	}

	c.Response().Header().Set(echo.HeaderContentType, mimeType)
	return c.Attachment(path, fmt.Sprintf("%s.%s", job.ID, format))
}
