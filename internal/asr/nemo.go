package asr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"woa/internal/audio"
)

// NeMo exports decode best in shorter windows than whisper.
const nemoChunkSeconds = 20

// Word stream to segment grouping bounds.
const (
	segmentMaxGap      = 1.0  // seconds of silence that close a segment
	segmentMaxDuration = 15.0 // seconds after which a segment is cut
)

// nemoCTCAdapter runs NeMo EncDecCTC onnx exports offline. Unlike the
// whisper models these produce per-token timestamps, so segments carry
// word timings.
type nemoCTCAdapter struct {
	key Key
	cfg FactoryConfig

	mu  sync.Mutex
	rec *sherpa.OfflineRecognizer
}

func newNemoCTCAdapter(cfg FactoryConfig, key Key) *nemoCTCAdapter {
	return &nemoCTCAdapter{key: key, cfg: cfg}
}

func (a *nemoCTCAdapter) Kind() Kind { return a.key.Kind }

func (a *nemoCTCAdapter) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rec != nil {
		return nil
	}

	dir := filepath.Join(a.cfg.ModelRoot, "nemo", a.key.Size)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: nemo model directory %s", ErrBackendUnavailable, dir)
	}
	modelPath := findModelFile(dir, []string{"model.int8.onnx", "model.onnx"})
	tokensPath := findModelFile(dir, []string{"tokens.txt"})
	if modelPath == "" || tokensPath == "" {
		return fmt.Errorf("%w: incomplete nemo model in %s", ErrModelLoad, dir)
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: a.cfg.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			NemoCTC: sherpa.OfflineNemoEncDecCtcModelConfig{
				Model: modelPath,
			},
			Tokens:     tokensPath,
			NumThreads: a.cfg.NumThreads,
			Debug:      0,
		},
	}

	rec := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if rec == nil {
		return fmt.Errorf("%w: nemo ctc recognizer init failed for %s", ErrModelLoad, a.key)
	}
	a.rec = rec

	a.cfg.Logger.Info("nemo ctc model loaded", "size", a.key.Size, "model", modelPath)
	return nil
}

func (a *nemoCTCAdapter) Transcribe(ctx context.Context, audioPath, language string, params Params) (*Transcript, error) {
	a.mu.Lock()
	rec := a.rec
	a.mu.Unlock()
	if rec == nil {
		return nil, fmt.Errorf("%w: %s is not loaded", ErrBackendPermanent, a.key)
	}
	return transcribeTokenStream(ctx, rec, a.cfg, audioPath)
}

func (a *nemoCTCAdapter) Unload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rec != nil {
		sherpa.DeleteOfflineRecognizer(a.rec)
		a.rec = nil
	}
	return nil
}

// nemoTransducerAdapter runs NeMo transducer (RNN-T) exports. Audio is
// fed in windows, which keeps memory flat on long recordings and matches
// how the streaming variant consumes input.
type nemoTransducerAdapter struct {
	key Key
	cfg FactoryConfig

	mu  sync.Mutex
	rec *sherpa.OfflineRecognizer
}

func newNemoTransducerAdapter(cfg FactoryConfig, key Key) *nemoTransducerAdapter {
	return &nemoTransducerAdapter{key: key, cfg: cfg}
}

func (a *nemoTransducerAdapter) Kind() Kind { return a.key.Kind }

func (a *nemoTransducerAdapter) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rec != nil {
		return nil
	}

	dir := filepath.Join(a.cfg.ModelRoot, "transducer", a.key.Size)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: transducer model directory %s", ErrBackendUnavailable, dir)
	}

	// Exports name files either plainly or with an epoch suffix; prefer
	// int8 where both quantizations ship.
	encoderPath := findModelFile(dir, []string{
		"encoder-epoch-99-avg-1.int8.onnx",
		"encoder.int8.onnx",
		"encoder-epoch-99-avg-1.onnx",
		"encoder.onnx",
	})
	decoderPath := findModelFile(dir, []string{
		"decoder-epoch-99-avg-1.onnx",
		"decoder.onnx",
	})
	joinerPath := findModelFile(dir, []string{
		"joiner-epoch-99-avg-1.int8.onnx",
		"joiner.int8.onnx",
		"joiner-epoch-99-avg-1.onnx",
		"joiner.onnx",
	})
	tokensPath := findModelFile(dir, []string{"tokens.txt"})
	if encoderPath == "" || decoderPath == "" || joinerPath == "" || tokensPath == "" {
		return fmt.Errorf("%w: incomplete transducer model in %s", ErrModelLoad, dir)
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: a.cfg.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Transducer: sherpa.OfflineTransducerModelConfig{
				Encoder: encoderPath,
				Decoder: decoderPath,
				Joiner:  joinerPath,
			},
			Tokens:     tokensPath,
			NumThreads: a.cfg.NumThreads,
			Debug:      0,
		},
	}

	rec := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if rec == nil {
		return fmt.Errorf("%w: transducer recognizer init failed for %s", ErrModelLoad, a.key)
	}
	a.rec = rec

	a.cfg.Logger.Info("nemo transducer model loaded", "size", a.key.Size, "encoder", encoderPath)
	return nil
}

func (a *nemoTransducerAdapter) Transcribe(ctx context.Context, audioPath, language string, params Params) (*Transcript, error) {
	a.mu.Lock()
	rec := a.rec
	a.mu.Unlock()
	if rec == nil {
		return nil, fmt.Errorf("%w: %s is not loaded", ErrBackendPermanent, a.key)
	}
	return transcribeTokenStream(ctx, rec, a.cfg, audioPath)
}

func (a *nemoTransducerAdapter) Unload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rec != nil {
		sherpa.DeleteOfflineRecognizer(a.rec)
		a.rec = nil
	}
	return nil
}

// transcribeTokenStream decodes the file window by window, collects timed
// words, and groups them into segments on silence gaps.
func transcribeTokenStream(ctx context.Context, rec *sherpa.OfflineRecognizer, cfg FactoryConfig, audioPath string) (*Transcript, error) {
	var words []Word
	err := audio.StreamChunks(ctx, audioPath, cfg.SampleRate, nemoChunkSeconds, func(offsetSec float64, samples []float32) error {
		stream := sherpa.NewOfflineStream(rec)
		defer sherpa.DeleteOfflineStream(stream)

		stream.AcceptWaveform(cfg.SampleRate, samples)
		rec.Decode(stream)

		words = append(words, wordsFromResult(stream.GetResult(), offsetSec)...)
		return nil
	})
	if err != nil {
		return nil, classifyDecodeError(err)
	}
	return &Transcript{Segments: segmentsFromWords(words)}, nil
}

// wordsFromResult merges subword tokens into timed words. A "▁" or space
// prefix opens a new word (sentencepiece vocabularies); tokens without a
// marker continue the open word, or stand alone for character models.
func wordsFromResult(result *sherpa.OfflineRecognizerResult, offsetSec float64) []Word {
	if result == nil || len(result.Tokens) == 0 {
		return nil
	}

	var words []Word
	inPieceWord := false
	for i, text := range result.Tokens {
		if text == "" {
			continue
		}

		var start, dur float64
		if i < len(result.Timestamps) {
			start = float64(result.Timestamps[i])
		}
		if i < len(result.Durations) {
			dur = float64(result.Durations[i])
		}
		end := offsetSec + start + dur
		begin := offsetSec + start

		opens := strings.HasPrefix(text, "▁") || strings.HasPrefix(text, " ")
		piece := strings.TrimPrefix(strings.TrimPrefix(text, "▁"), " ")
		if piece == "" {
			continue
		}

		switch {
		case opens || len(words) == 0:
			words = append(words, Word{Start: begin, End: end, Word: " " + piece})
			inPieceWord = opens
		case inPieceWord:
			last := &words[len(words)-1]
			last.Word += piece
			if end > last.End {
				last.End = end
			}
		default:
			words = append(words, Word{Start: begin, End: end, Word: piece})
		}
	}
	return words
}

// segmentsFromWords groups the word stream into display segments, cutting
// on silence gaps and on overly long runs.
func segmentsFromWords(words []Word) []Segment {
	segments := []Segment{}
	for _, w := range words {
		if n := len(segments); n > 0 {
			cur := &segments[n-1]
			gap := w.Start - cur.End
			if gap <= segmentMaxGap && w.End-cur.Start <= segmentMaxDuration {
				cur.Text += w.Word
				cur.End = w.End
				cur.Words = append(cur.Words, w)
				continue
			}
		}
		segments = append(segments, Segment{
			Start: w.Start,
			End:   w.End,
			Text:  w.Word,
			Words: []Word{w},
		})
	}
	return segments
}
