package asr

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// Adapter is the contract every recognizer backend implements.
// Load and Unload are idempotent. Transcribe requires a completed Load;
// after Unload the adapter must be loaded again before use.
type Adapter interface {
	Kind() Kind
	Load() error
	Transcribe(ctx context.Context, audioPath, language string, params Params) (*Transcript, error)
	Unload() error
}

// Factory constructs an unloaded adapter for a cache key. Construction
// fails with ErrBackendDisabled for feature-flagged kinds that are off.
type Factory func(key Key) (Adapter, error)

// FactoryConfig carries what adapter construction needs. The server wires
// it from the application config; tests fill only the fields they use.
type FactoryConfig struct {
	ModelRoot    string // base directory for local onnx model trees
	NumThreads   int
	SampleRate   int
	ChunkSeconds int    // decode window for chunked offline models
	ContainerID  string // docker container for the fast_conformer backend

	// Enabled gates construction of external provider kinds.
	Enabled map[Kind]bool

	Logger *slog.Logger
}

func (c FactoryConfig) withDefaults() FactoryConfig {
	if c.NumThreads <= 0 {
		c.NumThreads = 4
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.ChunkSeconds <= 0 {
		c.ChunkSeconds = 30
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// NewFactory returns the default factory dispatching on the key's kind.
func NewFactory(cfg FactoryConfig) Factory {
	cfg = cfg.withDefaults()
	return func(key Key) (Adapter, error) {
		switch key.Kind {
		case KindOriginWhisper, KindFasterWhisper:
			return newWhisperAdapter(cfg, key), nil
		case KindNemoCTCOffline:
			return newNemoCTCAdapter(cfg, key), nil
		case KindNemoRNNTStreaming:
			return newNemoTransducerAdapter(cfg, key), nil
		case KindFastConformer:
			return newConformerAdapter(cfg, key)
		case KindGoogleSTT, KindQwenASR, KindTritonCTC, KindTritonRNNT, KindNvidiaRiva, KindHFAutoASR:
			return newExternalAdapter(cfg, key)
		default:
			return nil, errUnknownKind(key.Kind)
		}
	}
}

// WithAdapter loads the adapter, runs fn, and unloads on every exit path.
func WithAdapter(a Adapter, fn func(Adapter) error) error {
	if err := a.Load(); err != nil {
		return err
	}
	defer a.Unload()
	return fn(a)
}

// findModelFile returns the first candidate that exists in dir.
func findModelFile(dir string, candidates []string) string {
	for _, candidate := range candidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
