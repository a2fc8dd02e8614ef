package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woa/internal/asr"
	"woa/internal/config"
	"woa/internal/ingestion"
	"woa/internal/models"
	"woa/internal/storage"
)

type testAPI struct {
	echo       *echo.Echo
	db         *storage.DB
	jobs       *storage.JobRepository
	files      *storage.FileRepository
	results    *storage.ResultRepository
	transcribe *TranscribeHandler
	resultsH   *ResultsHandler
	upload     *UploadHandler
	health     *HealthHandler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := echo.New()
	e.Validator = NewRequestValidator()

	registry := asr.NewRegistry(func(key asr.Key) (asr.Adapter, error) {
		return nil, errors.New("not used in handler tests")
	}, nil)
	t.Cleanup(registry.Close)

	jobs := storage.NewJobRepository(db)
	files := storage.NewFileRepository(db)
	results := storage.NewResultRepository(db)

	cfg := &config.Config{
		StorageRoot:    dir,
		MaxFileSizeMB:  1,
		MaxFilesPerJob: 2,
		AllowedExts:    []string{".mp3", ".wav"},
	}
	svc := ingestion.NewService(files, nil, cfg.UploadDir(), cfg.TempDir(), nil)

	enabled := map[asr.Kind]bool{asr.KindGoogleSTT: false}
	return &testAPI{
		echo:       e,
		db:         db,
		jobs:       jobs,
		files:      files,
		results:    results,
		transcribe: NewTranscribeHandler(jobs, files, registry, enabled, "cpu"),
		resultsH:   NewResultsHandler(jobs, results),
		upload:     NewUploadHandler(svc, cfg),
		health:     NewHealthHandler(db, registry, enabled),
	}
}

func (api *testAPI) request(method, target string, body any) (*httptest.ResponseRecorder, echo.Context) {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, api.echo.NewContext(req, rec)
}

func (api *testAPI) createFile(t *testing.T, name string) string {
	t.Helper()
	file := &models.UploadedFile{OriginalFilename: name, StoragePath: "/tmp/" + name}
	require.NoError(t, api.files.CreateBatch(context.Background(), []*models.UploadedFile{file}))
	return file.ID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCreateJobQueued(t *testing.T) {
	api := newTestAPI(t)
	fileID := api.createFile(t, "a.mp3")

	rec, c := api.request(http.MethodPost, "/api/v1/transcribe", map[string]any{
		"file_ids":   []string{fileID},
		"model_type": "faster_whisper",
	})
	require.NoError(t, api.transcribe.Create(c))
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(1), body["files_count"])
	assert.Equal(t, "Transcription job created and queued for processing", body["message"])

	job, err := api.jobs.GetByID(context.Background(), body["job_id"].(string))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "base", job.ModelSize)
	assert.Equal(t, "auto", job.Language)
	assert.Equal(t, "cpu", job.Device)
	assert.Equal(t, []string{"all"}, job.Formats)
}

func TestCreateJobUnknownModelType(t *testing.T) {
	api := newTestAPI(t)
	fileID := api.createFile(t, "a.mp3")

	rec, c := api.request(http.MethodPost, "/api/v1/transcribe", map[string]any{
		"file_ids":   []string{fileID},
		"model_type": "wavenet",
	})
	require.NoError(t, api.transcribe.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobDisabledProvider(t *testing.T) {
	api := newTestAPI(t)
	fileID := api.createFile(t, "a.mp3")

	rec, c := api.request(http.MethodPost, "/api/v1/transcribe", map[string]any{
		"file_ids":   []string{fileID},
		"model_type": "google_stt",
	})
	require.NoError(t, api.transcribe.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "disabled")
}

func TestCreateJobUnknownFile(t *testing.T) {
	api := newTestAPI(t)

	rec, c := api.request(http.MethodPost, "/api/v1/transcribe", map[string]any{
		"file_ids":   []string{"no-such-file"},
		"model_type": "faster_whisper",
	})
	require.NoError(t, api.transcribe.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobBadFormat(t *testing.T) {
	api := newTestAPI(t)
	fileID := api.createFile(t, "a.mp3")

	rec, c := api.request(http.MethodPost, "/api/v1/transcribe", map[string]any{
		"file_ids":       []string{fileID},
		"model_type":     "faster_whisper",
		"output_formats": []string{"docx"},
	})
	require.NoError(t, api.transcribe.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// requireValidationError asserts the request was rejected by the
// request validator with a 400, whichever way echo surfaces it.
func requireValidationError(t *testing.T, rec *httptest.ResponseRecorder, err error) {
	t.Helper()
	if err != nil {
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code)
		return
	}
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobTooManyFiles(t *testing.T) {
	api := newTestAPI(t)

	ids := make([]string, 11)
	for i := range ids {
		ids[i] = api.createFile(t, "a.mp3")
	}
	rec, c := api.request(http.MethodPost, "/api/v1/transcribe", map[string]any{
		"file_ids":   ids,
		"model_type": "faster_whisper",
	})
	requireValidationError(t, rec, api.transcribe.Create(c))
}

func TestCreateJobBadDevice(t *testing.T) {
	api := newTestAPI(t)
	fileID := api.createFile(t, "a.mp3")

	rec, c := api.request(http.MethodPost, "/api/v1/transcribe", map[string]any{
		"file_ids":   []string{fileID},
		"model_type": "faster_whisper",
		"device":     "gpu0",
	})
	requireValidationError(t, rec, api.transcribe.Create(c))
}

func TestCreateJobSpeakerBounds(t *testing.T) {
	api := newTestAPI(t)
	fileID := api.createFile(t, "a.mp3")

	rec, c := api.request(http.MethodPost, "/api/v1/transcribe", map[string]any{
		"file_ids":   []string{fileID},
		"model_type": "faster_whisper",
		"diarization": map[string]any{
			"enabled":      true,
			"min_speakers": 1,
			"max_speakers": 100,
		},
	})
	requireValidationError(t, rec, api.transcribe.Create(c))
}

func TestGetJobNotFound(t *testing.T) {
	api := newTestAPI(t)

	rec, c := api.request(http.MethodGet, "/api/v1/transcribe/jobs/missing", nil)
	c.SetParamNames("job_id")
	c.SetParamValues("missing")
	require.NoError(t, api.transcribe.Get(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelPendingJob(t *testing.T) {
	api := newTestAPI(t)
	fileID := api.createFile(t, "a.mp3")

	job := &models.Job{ModelType: "faster_whisper", ModelSize: "base", Language: "auto", Device: "cpu", Formats: []string{"vtt"}}
	require.NoError(t, api.jobs.Create(context.Background(), job, []string{fileID}))

	rec, c := api.request(http.MethodDelete, "/api/v1/transcribe/jobs/"+job.ID, nil)
	c.SetParamNames("job_id")
	c.SetParamValues(job.ID)
	require.NoError(t, api.transcribe.Cancel(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := api.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
}

func TestCancelTerminalJobConflict(t *testing.T) {
	api := newTestAPI(t)
	fileID := api.createFile(t, "a.mp3")

	job := &models.Job{ModelType: "faster_whisper", ModelSize: "base", Language: "auto", Device: "cpu", Formats: []string{"vtt"}}
	require.NoError(t, api.jobs.Create(context.Background(), job, []string{fileID}))
	claimed, err := api.jobs.Claim(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, api.jobs.Complete(context.Background(), job.ID))

	rec, c := api.request(http.MethodDelete, "/api/v1/transcribe/jobs/"+job.ID, nil)
	c.SetParamNames("job_id")
	c.SetParamValues(job.ID)
	require.NoError(t, api.transcribe.Cancel(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResultsSummaryNotCompleted(t *testing.T) {
	api := newTestAPI(t)
	fileID := api.createFile(t, "a.mp3")

	job := &models.Job{ModelType: "faster_whisper", ModelSize: "base", Language: "auto", Device: "cpu", Formats: []string{"vtt"}}
	require.NoError(t, api.jobs.Create(context.Background(), job, []string{fileID}))

	rec, c := api.request(http.MethodGet, "/api/v1/results/"+job.ID, nil)
	c.SetParamNames("job_id")
	c.SetParamValues(job.ID)
	require.NoError(t, api.resultsH.Summary(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "pending")
}

func TestDownloadUnsupportedFormat(t *testing.T) {
	api := newTestAPI(t)

	rec, c := api.request(http.MethodGet, "/api/v1/results/x/docx", nil)
	c.SetParamNames("job_id", "format")
	c.SetParamValues("x", "docx")
	require.NoError(t, api.resultsH.Download(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviders(t *testing.T) {
	api := newTestAPI(t)

	rec, c := api.request(http.MethodGet, "/api/v1/transcribe/providers", nil)
	require.NoError(t, api.transcribe.Providers(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body, "providers")
	assert.Contains(t, body, "languages")
	assert.Contains(t, rec.Body.String(), "faster_whisper")
	assert.Contains(t, rec.Body.String(), "\"auto\"")
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	rec, c := api.request(http.MethodGet, "/health", nil)
	require.NoError(t, api.health.Health(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Contains(t, body, "providers")
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("files", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadRejectsBadExtension(t *testing.T) {
	api := newTestAPI(t)
	body, contentType := multipartUpload(t, "notes.pdf", "not audio")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c := api.echo.NewContext(req, rec)

	require.NoError(t, api.upload.Upload(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "unsupported file type")
}

func TestUploadStoresFile(t *testing.T) {
	api := newTestAPI(t)
	body, contentType := multipartUpload(t, "talk.mp3", "pretend-mp3-bytes")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c := api.echo.NewContext(req, rec)

	require.NoError(t, api.upload.Upload(c))
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody(t, rec)
	assert.Len(t, resp["file_ids"], 1)
	assert.Contains(t, rec.Body.String(), "talk.mp3")
	assert.True(t, strings.Contains(rec.Body.String(), "uploaded successfully"))
}

func TestUploadURLRequiresURL(t *testing.T) {
	api := newTestAPI(t)

	rec, c := api.request(http.MethodPost, "/api/v1/upload/url", map[string]any{"language": "ko"})
	err := api.upload.UploadURL(c)
	if err != nil {
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code)
	} else {
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}
