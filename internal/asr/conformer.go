package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"woa/internal/audio"
)

// conformerAdapter delegates recognition to a NeMo runtime inside a
// preconfigured container. The child process is invoked via argv, never a
// shell string, and must print a single JSON document on stdout.
type conformerAdapter struct {
	key Key
	cfg FactoryConfig

	mu        sync.Mutex
	connected bool
}

func newConformerAdapter(cfg FactoryConfig, key Key) (Adapter, error) {
	return &conformerAdapter{key: key, cfg: cfg}, nil
}

func (a *conformerAdapter) Kind() Kind { return a.key.Kind }

// Load verifies the container is reachable and running.
func (a *conformerAdapter) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}

	if a.cfg.ContainerID == "" {
		return fmt.Errorf("%w: fast_conformer requires a container id", ErrConfigInvalid)
	}
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("%w: docker binary not found", ErrBackendUnavailable)
	}

	out, err := exec.Command("docker", "inspect", "-f", "{{.State.Running}}", a.cfg.ContainerID).Output()
	if err != nil {
		return fmt.Errorf("%w: container %s not found", ErrBackendUnavailable, a.cfg.ContainerID)
	}
	if strings.TrimSpace(string(out)) != "true" {
		return fmt.Errorf("%w: container %s is not running", ErrBackendUnavailable, a.cfg.ContainerID)
	}

	a.connected = true
	a.cfg.Logger.Info("fast_conformer container connected", "container", a.cfg.ContainerID)
	return nil
}

func (a *conformerAdapter) Transcribe(ctx context.Context, audioPath, language string, params Params) (*Transcript, error) {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("%w: %s is not loaded", ErrBackendPermanent, a.key)
	}
	cmd := exec.CommandContext(ctx, "docker", "exec", a.cfg.ContainerID, "python", "run_nemo.py", audioPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "Cannot connect") || strings.Contains(msg, "is not running") {
			return nil, fmt.Errorf("%w: fast_conformer container: %s", ErrBackendTransient, msg)
		}
		return nil, fmt.Errorf("%w: fast_conformer subprocess: %v: %s", ErrBackendPermanent, err, msg)
	}

	transcript, err := parseConformerOutput(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendPermanent, err)
	}

	// A text-only reply has no timing; bound the single segment by the
	// audio duration so downstream formatting stays sane.
	if len(transcript.Segments) == 1 && transcript.Segments[0].End == 0 {
		if d, derr := audio.Duration(audioPath); derr == nil {
			transcript.Segments[0].End = d
		}
	}
	return transcript, nil
}

func (a *conformerAdapter) Unload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// parseConformerOutput decodes the child's stdout. Only a JSON object is
// accepted: either {"segments":[{start,end,text}...]} or a bare {"text"}.
// The legacy runtime printed a Python literal; that shape is rejected
// outright rather than interpreted.
func parseConformerOutput(data []byte) (*Transcript, error) {
	var doc struct {
		Text     string `json:"text"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("non-JSON output from recognizer subprocess: %v", err)
	}
	if dec.More() {
		return nil, errors.New("trailing data after recognizer JSON output")
	}

	if len(doc.Segments) == 0 {
		if strings.TrimSpace(doc.Text) == "" {
			return &Transcript{Segments: []Segment{}}, nil
		}
		return &Transcript{Segments: []Segment{{Text: doc.Text}}}, nil
	}

	segments := make([]Segment, 0, len(doc.Segments))
	for _, s := range doc.Segments {
		segments = append(segments, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return &Transcript{Segments: segments}, nil
}
