package audio

import (
	"context"
	"math"
)

// SpeechSpan is a detected run of non-silent audio, in seconds.
type SpeechSpan struct {
	Start float64
	End   float64
}

// Overlaps reports whether [start, end) intersects the span.
func (s SpeechSpan) Overlaps(start, end float64) bool {
	return start < s.End && end > s.Start
}

// SilenceConfig tunes energy-based speech detection.
type SilenceConfig struct {
	// SilenceThreshold is the frame RMS below which audio counts as
	// silence, in [0, 1].
	SilenceThreshold float64

	// MinSilenceDuration is the silence run length that ends a span,
	// in seconds.
	MinSilenceDuration float64

	// MinSpeechDuration drops spans shorter than this, in seconds.
	MinSpeechDuration float64

	// FrameSize is the number of samples per RMS frame.
	FrameSize int
}

// DefaultSilenceConfig returns the detection defaults: a sensitive RMS
// threshold, 300ms of silence to split, 100ms minimum speech, 30ms
// frames at 16 kHz.
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		SilenceThreshold:   0.01,
		MinSilenceDuration: 0.3,
		MinSpeechDuration:  0.1,
		FrameSize:          480,
	}
}

// DetectSpeechSpans decodes the file and returns the spans where frame
// energy stays above the silence threshold. A fully silent file yields
// no spans.
func DetectSpeechSpans(ctx context.Context, path string, sampleRate int, cfg SilenceConfig) ([]SpeechSpan, error) {
	if cfg.FrameSize <= 0 {
		cfg = DefaultSilenceConfig()
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	var frames []float64
	carry := make([]float32, 0, cfg.FrameSize)
	err := StreamChunks(ctx, path, sampleRate, 60, func(_ float64, samples []float32) error {
		for len(samples) > 0 {
			take := cfg.FrameSize - len(carry)
			if take > len(samples) {
				take = len(samples)
			}
			carry = append(carry, samples[:take]...)
			samples = samples[take:]
			if len(carry) == cfg.FrameSize {
				frames = append(frames, frameRMS(carry))
				carry = carry[:0]
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(carry) > 0 {
		frames = append(frames, frameRMS(carry))
	}

	return spansFromFrames(frames, sampleRate, cfg), nil
}

// spansFromFrames walks the per-frame RMS values and emits speech spans,
// closing a span only after MinSilenceDuration of consecutive silence.
func spansFromFrames(frames []float64, sampleRate int, cfg SilenceConfig) []SpeechSpan {
	if len(frames) == 0 {
		return nil
	}

	frameDuration := float64(cfg.FrameSize) / float64(sampleRate)
	minSilenceFrames := int(cfg.MinSilenceDuration / frameDuration)
	minSpeechFrames := int(cfg.MinSpeechDuration / frameDuration)

	var spans []SpeechSpan
	inSpeech := false
	speechStart := 0
	silenceCount := 0

	emit := func(startFrame, endFrame int) {
		if endFrame-startFrame < minSpeechFrames {
			return
		}
		spans = append(spans, SpeechSpan{
			Start: float64(startFrame) * frameDuration,
			End:   float64(endFrame) * frameDuration,
		})
	}

	for i, rms := range frames {
		silent := rms < cfg.SilenceThreshold
		if !inSpeech {
			if !silent {
				inSpeech = true
				speechStart = i
				silenceCount = 0
			}
			continue
		}
		if silent {
			silenceCount++
			if silenceCount >= minSilenceFrames {
				emit(speechStart, i-silenceCount+1)
				inSpeech = false
				silenceCount = 0
			}
		} else {
			silenceCount = 0
		}
	}
	if inSpeech {
		emit(speechStart, len(frames))
	}
	return spans
}

func frameRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
