// Package diarize assigns speaker labels to transcript segments by
// extracting a speaker embedding per segment and clustering the
// embeddings.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"woa/internal/asr"
	"woa/internal/audio"
)

// ErrSpeakerMismatch reports an internal invariant violation: the
// clusterer produced a label count different from the segment count.
var ErrSpeakerMismatch = errors.New("speaker label count does not match segment count")

// speakerLabelFormat renders cluster k as the user-facing label.
const speakerLabelFormat = "발언자_%d"

// Config holds what the engine needs to build the embedding extractor.
type Config struct {
	// ModelPath is the speaker embedding onnx model (WeSpeaker ResNet34).
	ModelPath string

	NumThreads int
	Provider   string
	SampleRate int

	Cluster ClusterConfig

	Logger *slog.Logger
}

// Engine extracts speaker embeddings and labels segments. An Engine is
// created per processing scope and must be Closed before the scope
// ends; it is not safe for concurrent use.
type Engine struct {
	cfg       Config
	extractor *sherpa.SpeakerEmbeddingExtractor
}

// NewEngine loads the embedding model. The returned engine owns native
// resources; callers must Close it.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Cluster.Threshold == 0 {
		cfg.Cluster = DefaultClusterConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: speaker embedding model %s", asr.ErrBackendUnavailable, cfg.ModelPath)
	}

	extractorConfig := sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      cfg.ModelPath,
		NumThreads: cfg.NumThreads,
		Debug:      0,
		Provider:   cfg.Provider,
	}
	extractor := sherpa.NewSpeakerEmbeddingExtractor(&extractorConfig)
	if extractor == nil {
		return nil, fmt.Errorf("%w: speaker embedding extractor init failed", asr.ErrModelLoad)
	}
	return &Engine{cfg: cfg, extractor: extractor}, nil
}

// Close releases the native extractor. Safe to call more than once.
func (e *Engine) Close() {
	if e.extractor != nil {
		sherpa.DeleteSpeakerEmbeddingExtractor(e.extractor)
		e.extractor = nil
	}
}

// Diarize labels every segment of the transcript in place and returns
// the number of distinct speakers. Transcripts without segments are a
// no-op. minSpeakers and maxSpeakers bound the cluster count; zero
// values mean 1 and unbounded.
func (e *Engine) Diarize(ctx context.Context, audioPath string, t *asr.Transcript, minSpeakers, maxSpeakers int) (int, error) {
	if t == nil || len(t.Segments) == 0 {
		return 0, nil
	}
	if e.extractor == nil {
		return 0, fmt.Errorf("%w: diarization engine is closed", asr.ErrBackendPermanent)
	}
	if minSpeakers < 1 {
		minSpeakers = 1
	}
	if maxSpeakers < minSpeakers {
		maxSpeakers = len(t.Segments)
		if maxSpeakers < minSpeakers {
			maxSpeakers = minSpeakers
		}
	}

	samples, err := audio.ReadMono(ctx, audioPath, e.cfg.SampleRate)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", asr.ErrAudioUnreadable, err)
	}

	embeddings := make([][]float64, len(t.Segments))
	for i, seg := range t.Segments {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		embeddings[i] = e.embed(slice(samples, seg.Start, seg.End, e.cfg.SampleRate))
	}

	labels := Cluster(embeddings, minSpeakers, maxSpeakers, e.cfg.Cluster)
	if len(labels) != len(t.Segments) {
		return 0, fmt.Errorf("%w: %d labels for %d segments", ErrSpeakerMismatch, len(labels), len(t.Segments))
	}

	speakers := 0
	for i := range t.Segments {
		t.Segments[i].Speaker = fmt.Sprintf(speakerLabelFormat, labels[i])
		if labels[i]+1 > speakers {
			speakers = labels[i] + 1
		}
	}

	e.cfg.Logger.Info("diarization complete",
		"segments", len(t.Segments),
		"speakers", speakers,
	)
	return speakers, nil
}

// embed computes one speaker embedding. Empty spans (a segment whose
// sample range collapsed) get a zero vector so the segment still
// receives a label.
func (e *Engine) embed(samples []float32) []float64 {
	dim := e.extractor.Dim()
	if len(samples) == 0 {
		return make([]float64, dim)
	}

	stream := e.extractor.CreateStream()
	defer sherpa.DeleteOnlineStream(stream)

	stream.AcceptWaveform(e.cfg.SampleRate, samples)
	stream.InputFinished()

	embedding := e.extractor.Compute(stream)
	out := make([]float64, dim)
	for i := 0; i < dim && i < len(embedding); i++ {
		out[i] = float64(embedding[i])
	}
	return out
}

// slice returns the samples covering [start, end) seconds, clamped to
// the decoded audio.
func slice(samples []float32, start, end float64, sampleRate int) []float32 {
	lo := int(start * float64(sampleRate))
	hi := int(end * float64(sampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(samples) {
		hi = len(samples)
	}
	if hi <= lo {
		return nil
	}
	return samples[lo:hi]
}
