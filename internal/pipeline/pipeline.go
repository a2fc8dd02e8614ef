// Package pipeline turns a claimed job into transcripts and subtitle
// artifacts: recognizer acquisition, per-file transcription with retry,
// optional diarization and postprocessing, and format rendering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"woa/internal/asr"
	"woa/internal/audio"
	"woa/internal/diarize"
	"woa/internal/models"
	"woa/internal/storage"
	"woa/internal/subtitle"
)

// ErrCancelled reports a job stopped at a cancellation checkpoint. The
// worker maps it to the cancelled terminal state instead of failed.
var ErrCancelled = errors.New("job cancelled")

// maxTranscribeAttempts bounds retries of transient backend failures:
// the first try plus two retries.
const maxTranscribeAttempts = 3

// retryBaseDelay is the backoff before the first retry; it doubles per
// attempt.
const retryBaseDelay = 250 * time.Millisecond

// Diarizer labels transcript segments with speakers. The production
// implementation is diarize.Engine; tests substitute their own.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, t *asr.Transcript, minSpeakers, maxSpeakers int) (int, error)
	Close()
}

// DiarizerFactory builds a Diarizer for one processing scope.
type DiarizerFactory func() (Diarizer, error)

// NewSherpaDiarizerFactory returns the production factory, loading the
// speaker embedding model fresh per job and releasing it when the job
// ends.
func NewSherpaDiarizerFactory(modelPath string, numThreads, sampleRate int, logger *slog.Logger) DiarizerFactory {
	return func() (Diarizer, error) {
		return diarize.NewEngine(diarize.Config{
			ModelPath:  modelPath,
			NumThreads: numThreads,
			SampleRate: sampleRate,
			Logger:     logger,
		})
	}
}

// Config wires the pipeline's collaborators and output layout.
type Config struct {
	// ResultRoot is the directory artifacts are written under, one
	// subdirectory per job id.
	ResultRoot string

	SampleRate int

	// NewDiarizer is consulted only for jobs that request diarization.
	NewDiarizer DiarizerFactory

	Logger *slog.Logger

	// sleep is swapped out by tests to skip real backoff delays.
	sleep func(time.Duration)
}

// Pipeline processes claimed jobs end to end.
type Pipeline struct {
	cfg      Config
	registry *asr.Registry
	jobs     *storage.JobRepository
	files    *storage.FileRepository
	results  *storage.ResultRepository
}

func New(cfg Config, registry *asr.Registry, jobs *storage.JobRepository, files *storage.FileRepository, results *storage.ResultRepository) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.sleep == nil {
		cfg.sleep = time.Sleep
	}
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		jobs:     jobs,
		files:    files,
		results:  results,
	}
}

// Run processes one claimed job. It returns nil when every file was
// transcribed, ErrCancelled when a checkpoint observed a cancellation
// request, and the failing error otherwise; the caller owns the
// terminal status transition. Files are processed in request order and
// the first file failure fails the whole job.
func (p *Pipeline) Run(ctx context.Context, job *models.Job) error {
	files, err := p.files.ListByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to list job files: %w", err)
	}
	if len(files) == 0 {
		return errors.New("job has no files")
	}

	lease, err := p.registry.Acquire(job.Key())
	if err != nil {
		return fmt.Errorf("failed to acquire recognizer: %w", err)
	}
	defer lease.Release()

	var diarizer Diarizer
	if job.Diarization.Enabled {
		if p.cfg.NewDiarizer == nil {
			return errors.New("diarization requested but no diarizer is configured")
		}
		diarizer, err = p.cfg.NewDiarizer()
		if err != nil {
			return fmt.Errorf("failed to load diarizer: %w", err)
		}
		defer diarizer.Close()
	}

	kind := job.Key().Kind
	resultDir := filepath.Join(p.cfg.ResultRoot, job.ID)
	total := len(files)

	for i, file := range files {
		// Cancellation checkpoint: between files only, so a file is
		// never left half-written.
		cancelled, err := p.jobs.CancelRequested(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to check cancellation: %w", err)
		}
		if cancelled {
			return ErrCancelled
		}

		progress := i * 100 / total
		if err := p.jobs.UpdateProgress(ctx, job.ID, progress, file.OriginalFilename); err != nil {
			return fmt.Errorf("failed to update progress: %w", err)
		}

		if err := p.processFile(ctx, job, file, lease.Adapter(), diarizer, kind, resultDir); err != nil {
			return fmt.Errorf("file %s: %w", file.OriginalFilename, err)
		}
	}
	return nil
}

func (p *Pipeline) processFile(ctx context.Context, job *models.Job, file *models.UploadedFile, adapter asr.Adapter, diarizer Diarizer, kind asr.Kind, resultDir string) error {
	log := p.cfg.Logger.With("job_id", job.ID, "file", file.OriginalFilename)

	transcript, err := p.transcribeWithRetry(ctx, adapter, file.StoragePath, job.Language, job.Parameters, log)
	if err != nil {
		return err
	}

	if job.Postprocess.VAD {
		if err := applyVAD(ctx, file.StoragePath, transcript, p.cfg.SampleRate); err != nil {
			return fmt.Errorf("vad postprocess: %w", err)
		}
	}
	if job.Postprocess.PNC {
		applyPNC(transcript)
	}
	if job.ForceAlign && !transcript.HasWordTimings() {
		alignUniform(transcript)
	}

	speakerCount := 0
	if diarizer != nil {
		speakerCount, err = diarizer.Diarize(ctx, file.StoragePath, transcript,
			job.Diarization.MinSpeakers, job.Diarization.MaxSpeakers)
		if err != nil {
			return fmt.Errorf("diarization: %w", err)
		}
	}

	baseName := DerivedBaseName(file.OriginalFilename, kind)
	opts := subtitle.Options{
		MaxLineWidth:   job.Subtitle.MaxLineWidth,
		MaxLineCount:   job.Subtitle.MaxLineCount,
		HighlightWords: job.Subtitle.HighlightWords,
	}

	// A single format failing to render is logged and skipped; the file
	// still succeeds with the formats that did render.
	outputPaths := make(map[string]string)
	for _, format := range subtitle.Expand(job.Formats) {
		path, err := subtitle.WriteFile(resultDir, baseName, format, transcript, opts)
		if err != nil {
			log.Warn("format write failed", "format", format, "error", err)
			continue
		}
		outputPaths[format] = path
	}

	result := &models.Result{
		JobID:          job.ID,
		FileID:         file.ID,
		SegmentCount:   len(transcript.Segments),
		HasDiarization: diarizer != nil,
		OutputPaths:    outputPaths,
	}
	if diarizer != nil {
		result.SpeakerCount = &speakerCount
	}
	if err := p.results.Create(ctx, result); err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}

	log.Info("file transcribed",
		"segments", len(transcript.Segments),
		"speakers", speakerCount,
		"formats", len(outputPaths),
	)
	return nil
}

// transcribeWithRetry retries transient backend failures with doubling
// backoff. Permanent failures and cancellations return immediately.
func (p *Pipeline) transcribeWithRetry(ctx context.Context, adapter asr.Adapter, audioPath, language string, params asr.Params, log *slog.Logger) (*asr.Transcript, error) {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= maxTranscribeAttempts; attempt++ {
		transcript, err := adapter.Transcribe(ctx, audioPath, language, params)
		if err == nil {
			return transcript, nil
		}
		lastErr = err
		if !errors.Is(err, asr.ErrBackendTransient) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < maxTranscribeAttempts {
			log.Warn("transient recognition failure, retrying",
				"attempt", attempt, "delay", delay.String(), "error", err)
			p.cfg.sleep(delay)
			delay *= 2
		}
	}
	return nil, lastErr
}
