package asr

import "fmt"

// Kind identifies a recognizer backend.
type Kind string

const (
	KindOriginWhisper     Kind = "origin_whisper"
	KindFasterWhisper     Kind = "faster_whisper"
	KindFastConformer     Kind = "fast_conformer"
	KindGoogleSTT         Kind = "google_stt"
	KindQwenASR           Kind = "qwen_asr"
	KindNemoCTCOffline    Kind = "nemo_ctc_offline"
	KindNemoRNNTStreaming Kind = "nemo_rnnt_streaming"
	KindTritonCTC         Kind = "triton_ctc"
	KindTritonRNNT        Kind = "triton_rnnt"
	KindNvidiaRiva        Kind = "nvidia_riva"
	KindHFAutoASR         Kind = "hf_auto_asr"
)

// Kinds lists every recognizer kind in a stable order.
var Kinds = []Kind{
	KindOriginWhisper,
	KindFasterWhisper,
	KindFastConformer,
	KindGoogleSTT,
	KindQwenASR,
	KindNemoCTCOffline,
	KindNemoRNNTStreaming,
	KindTritonCTC,
	KindTritonRNNT,
	KindNvidiaRiva,
	KindHFAutoASR,
}

// ParseKind validates a backend name from a request.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errUnknownKind(Kind(s))
}

func errUnknownKind(k Kind) error {
	return fmt.Errorf("%w: unknown model type %q", ErrConfigInvalid, string(k))
}

// UsesComputeType reports whether the kind's cache key includes the
// compute type. Only faster_whisper selects model precision per request.
func (k Kind) UsesComputeType() bool {
	return k == KindFasterWhisper
}

// Tag returns the backend suffix appended to derived artifact names,
// e.g. "meeting_whisper.vtt".
func (k Kind) Tag() string {
	switch k {
	case KindOriginWhisper:
		return "_original_whisper"
	case KindFasterWhisper:
		return "_whisper"
	case KindFastConformer:
		return "_fastconformer"
	default:
		return "_" + string(k)
	}
}

// Key identifies one loaded recognizer instance in the registry.
// ComputeType is part of the identity only for kinds that use it.
type Key struct {
	Kind        Kind
	Size        string
	Device      string
	ComputeType string
}

// String renders the cache key. The compute type is omitted for kinds
// that do not accept one, so requests differing only in that field
// share an instance.
func (k Key) String() string {
	if k.Kind.UsesComputeType() {
		return fmt.Sprintf("%s_%s_%s_%s", k.Kind, k.Size, k.Device, k.ComputeType)
	}
	return fmt.Sprintf("%s_%s_%s", k.Kind, k.Size, k.Device)
}
