package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"woa/internal/config"
	"woa/internal/ingestion"
)

// UploadHandler accepts audio into the service, by file or by URL.
type UploadHandler struct {
	svc *ingestion.Service
	cfg *config.Config
}

func NewUploadHandler(svc *ingestion.Service, cfg *config.Config) *UploadHandler {
	return &UploadHandler{svc: svc, cfg: cfg}
}

// Upload handles multipart file uploads.
// POST /api/v1/upload
func (h *UploadHandler) Upload(c echo.Context) error {
	ctx := c.Request().Context()

	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to parse multipart form"})
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no files uploaded"})
	}
	if len(headers) > h.cfg.MaxFilesPerJob {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("too many files: maximum is %d", h.cfg.MaxFilesPerJob),
		})
	}

	var uploads []ingestion.Upload
	for _, fh := range headers {
		if !h.cfg.AllowedExt(fh.Filename) {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unsupported file type: %s", fh.Filename),
			})
		}
		if fh.Size > h.cfg.MaxFileSizeBytes() {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("%s exceeds the %dMB size limit", fh.Filename, h.cfg.MaxFileSizeMB),
			})
		}
		contentType := fh.Header.Get("Content-Type")
		if contentType != "" &&
			!strings.HasPrefix(contentType, "audio/") &&
			!strings.HasPrefix(contentType, "video/") &&
			contentType != "application/octet-stream" {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unsupported content type for %s: %s", fh.Filename, contentType),
			})
		}

		header := fh
		uploads = append(uploads, ingestion.Upload{
			Filename: header.Filename,
			Size:     header.Size,
			MimeType: contentType,
			Open: func() (io.ReadCloser, error) {
				return header.Open()
			},
		})
	}

	files, err := h.svc.SaveUploads(ctx, uploads)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	fileIDs := make([]string, len(files))
	for i, f := range files {
		fileIDs[i] = f.ID
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"file_ids":    fileIDs,
		"files":       files,
		"uploaded_at": files[0].UploadedAt,
		"message":     fmt.Sprintf("%d file(s) uploaded successfully", len(files)),
	})
}

// urlRequest is the body of a URL ingestion request.
type urlRequest struct {
	URL      string `json:"url" validate:"required,url"`
	Language string `json:"language"`
}

// UploadURL downloads a video's audio track into storage.
// POST /api/v1/upload/url
func (h *UploadHandler) UploadURL(c echo.Context) error {
	ctx := c.Request().Context()

	var req urlRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	file, err := h.svc.IngestURL(ctx, req.URL, req.Language)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"file_ids":    []string{file.ID},
		"files":       []any{file},
		"uploaded_at": file.UploadedAt,
		"message":     "audio downloaded successfully",
	})
}
