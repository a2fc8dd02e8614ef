package asr

import "fmt"

// Compute types accepted by faster_whisper. Other kinds ignore the field.
const (
	ComputeInt8    = "int8"
	ComputeFloat32 = "float32"
	ComputeFloat16 = "float16"
)

// Default thresholds applied when the caller leaves them unset.
const (
	DefaultCompressionRatioThreshold = 2.4
	DefaultLogprobThreshold          = -1.0
	DefaultNoSpeechThreshold         = 0.6
)

// Params holds per-job decoding options. Zero values and empty strings
// mean "engine default" and are normalized away before dispatch.
type Params struct {
	BeamSize                   int     `json:"beam_size,omitempty"`
	Patience                   float64 `json:"patience,omitempty"`
	LengthPenalty              float64 `json:"length_penalty,omitempty"`
	Temperature                float64 `json:"temperature,omitempty"`
	CompressionRatioThreshold  float64 `json:"compression_ratio_threshold,omitempty"`
	LogprobThreshold           float64 `json:"logprob_threshold,omitempty"`
	NoSpeechThreshold          float64 `json:"no_speech_threshold,omitempty"`
	ConditionOnPreviousText    bool    `json:"condition_on_previous_text,omitempty"`
	InitialPrompt              string  `json:"initial_prompt,omitempty"`
	VADOnset                   float64 `json:"vad_onset,omitempty"`
	VADOffset                  float64 `json:"vad_offset,omitempty"`
	RemovePunctuationFromWords bool    `json:"remove_punctuation_from_words,omitempty"`
	RemoveEmptyWords           bool    `json:"remove_empty_words,omitempty"`
	ComputeType                string  `json:"compute_type,omitempty"`
}

// Normalized returns a copy with sentinel values resolved. Unset thresholds
// take their engine defaults; beam_size only applies at temperature 0.
func (p Params) Normalized() Params {
	if p.CompressionRatioThreshold == 0 {
		p.CompressionRatioThreshold = DefaultCompressionRatioThreshold
	}
	if p.LogprobThreshold == 0 {
		p.LogprobThreshold = DefaultLogprobThreshold
	}
	if p.NoSpeechThreshold == 0 {
		p.NoSpeechThreshold = DefaultNoSpeechThreshold
	}
	if p.Temperature != 0 {
		p.BeamSize = 0
	}
	return p
}

// Validate rejects option values the backends can never accept.
func (p Params) Validate() error {
	if p.BeamSize < 0 {
		return fmt.Errorf("%w: beam_size must be >= 0", ErrConfigInvalid)
	}
	if p.Temperature < 0 {
		return fmt.Errorf("%w: temperature must be >= 0", ErrConfigInvalid)
	}
	switch p.ComputeType {
	case "", ComputeInt8, ComputeFloat32, ComputeFloat16:
	default:
		return fmt.Errorf("%w: unknown compute_type %q", ErrConfigInvalid, p.ComputeType)
	}
	return nil
}

// ResolveComputeType picks the compute type that ends up in the cache key.
// Only faster_whisper reads it; CPU devices are forced to int8 because
// float16 inference is CUDA-only.
func ResolveComputeType(kind Kind, device, requested string) string {
	if !kind.UsesComputeType() {
		return ""
	}
	if requested == "" {
		requested = ComputeFloat16
	}
	if device != "cuda" {
		return ComputeInt8
	}
	return requested
}
