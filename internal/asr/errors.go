package asr

import "errors"

// Error kinds surfaced by adapters and the registry. Callers classify
// failures with errors.Is; adapters wrap these with context via fmt.Errorf.
var (
	// ErrBackendDisabled is returned when a feature-flagged backend is
	// requested while its flag is off. Construction must refuse.
	ErrBackendDisabled = errors.New("backend disabled")

	// ErrBackendUnavailable marks a backend whose runtime dependency
	// (model directory, container, credential) is missing.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrModelLoad marks a failure to initialize model weights or the
	// inference runtime.
	ErrModelLoad = errors.New("model load failed")

	// ErrConfigInvalid marks an adapter configuration that can never load.
	ErrConfigInvalid = errors.New("invalid recognizer config")

	// ErrAudioUnreadable marks input audio that could not be decoded.
	ErrAudioUnreadable = errors.New("audio unreadable")

	// ErrBackendTransient marks a failure worth retrying (the pipeline
	// retries with backoff). Anything not transient is permanent.
	ErrBackendTransient = errors.New("transient backend failure")

	// ErrBackendPermanent marks a recognition failure that retrying
	// cannot fix.
	ErrBackendPermanent = errors.New("permanent backend failure")
)
