package asr

import (
	"context"
	"fmt"
	"log/slog"
)

// externalAdapter scaffolds provider kinds whose runtimes are not part of
// this deployment (cloud APIs, Triton endpoints, Riva, HF pipelines).
// Construction is refused while the provider's feature flag is off; an
// enabled stub loads trivially and transcribes to an empty transcript,
// logging that it did so.
type externalAdapter struct {
	key Key
	log *slog.Logger
}

func newExternalAdapter(cfg FactoryConfig, key Key) (Adapter, error) {
	if !cfg.Enabled[key.Kind] {
		return nil, fmt.Errorf("%w: %s", ErrBackendDisabled, key.Kind)
	}
	return &externalAdapter{key: key, log: cfg.Logger}, nil
}

func (a *externalAdapter) Kind() Kind { return a.key.Kind }

func (a *externalAdapter) Load() error { return nil }

func (a *externalAdapter) Transcribe(ctx context.Context, audioPath, language string, params Params) (*Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.log.Warn("stub backend produced an empty transcript",
		"kind", string(a.key.Kind),
		"audio", audioPath,
	)
	return &Transcript{Segments: []Segment{}}, nil
}

func (a *externalAdapter) Unload() error { return nil }
