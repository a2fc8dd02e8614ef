package asr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"woa/internal/audio"
)

// whisperAdapter serves both the origin_whisper and faster_whisper kinds.
// Both decode through the same onnx runtime; they differ in model file
// selection (faster_whisper honors the requested compute type) and in the
// artifact name tag.
type whisperAdapter struct {
	key Key
	cfg FactoryConfig

	mu  sync.Mutex
	rec *sherpa.OfflineRecognizer
}

func newWhisperAdapter(cfg FactoryConfig, key Key) *whisperAdapter {
	return &whisperAdapter{key: key, cfg: cfg}
}

func (a *whisperAdapter) Kind() Kind { return a.key.Kind }

func (a *whisperAdapter) modelDir() string {
	return filepath.Join(a.cfg.ModelRoot, "whisper", a.key.Size)
}

// candidates lists model file names to probe, most preferred first.
// Directories may hold either bare names or size-prefixed exports.
func (a *whisperAdapter) candidates(stem string) []string {
	quantized := []string{
		stem + ".int8.onnx",
		a.key.Size + "-" + stem + ".int8.onnx",
	}
	full := []string{
		stem + ".onnx",
		a.key.Size + "-" + stem + ".onnx",
	}
	if a.key.Kind == KindFasterWhisper && a.key.ComputeType != ComputeInt8 {
		return append(full, quantized...)
	}
	return append(quantized, full...)
}

func (a *whisperAdapter) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rec != nil {
		return nil
	}

	dir := a.modelDir()
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: whisper model directory %s", ErrBackendUnavailable, dir)
	}

	encoderPath := findModelFile(dir, a.candidates("encoder"))
	decoderPath := findModelFile(dir, a.candidates("decoder"))
	tokensPath := findModelFile(dir, []string{"tokens.txt", a.key.Size + "-tokens.txt"})
	if encoderPath == "" || decoderPath == "" || tokensPath == "" {
		return fmt.Errorf("%w: incomplete whisper model in %s", ErrModelLoad, dir)
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: a.cfg.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Whisper: sherpa.OfflineWhisperModelConfig{
				Encoder: encoderPath,
				Decoder: decoderPath,
				// Empty language lets the model detect it; per-request
				// hints cannot be applied after construction.
				Language: "",
				Task:     "transcribe",
			},
			Tokens:     tokensPath,
			NumThreads: a.cfg.NumThreads,
			Debug:      0,
		},
	}

	rec := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if rec == nil {
		return fmt.Errorf("%w: whisper recognizer init failed for %s", ErrModelLoad, a.key)
	}
	a.rec = rec

	a.cfg.Logger.Info("whisper model loaded",
		"kind", string(a.key.Kind),
		"size", a.key.Size,
		"encoder", encoderPath,
	)
	return nil
}

// Transcribe decodes the file in fixed windows (whisper handles up to 30
// seconds natively) and emits one segment per non-empty window. Decoding
// options the onnx runtime does not expose are ignored.
func (a *whisperAdapter) Transcribe(ctx context.Context, audioPath, language string, params Params) (*Transcript, error) {
	a.mu.Lock()
	rec := a.rec
	a.mu.Unlock()
	if rec == nil {
		return nil, fmt.Errorf("%w: %s is not loaded", ErrBackendPermanent, a.key)
	}
	transcript := &Transcript{Segments: []Segment{}}
	err := audio.StreamChunks(ctx, audioPath, a.cfg.SampleRate, a.cfg.ChunkSeconds, func(offsetSec float64, samples []float32) error {
		stream := sherpa.NewOfflineStream(rec)
		defer sherpa.DeleteOfflineStream(stream)

		stream.AcceptWaveform(a.cfg.SampleRate, samples)
		rec.Decode(stream)

		result := stream.GetResult()
		if result == nil || strings.TrimSpace(result.Text) == "" {
			return nil
		}
		transcript.Segments = append(transcript.Segments, Segment{
			Start: offsetSec,
			End:   offsetSec + float64(len(samples))/float64(a.cfg.SampleRate),
			Text:  result.Text,
		})
		return nil
	})
	if err != nil {
		return nil, classifyDecodeError(err)
	}
	return transcript, nil
}

func (a *whisperAdapter) Unload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rec != nil {
		sherpa.DeleteOfflineRecognizer(a.rec)
		a.rec = nil
	}
	return nil
}

// classifyDecodeError maps audio pipeline failures onto the error taxonomy.
// Context cancellation passes through so the pipeline can tell it apart.
func classifyDecodeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, audio.ErrToolMissing) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrAudioUnreadable, err)
}
