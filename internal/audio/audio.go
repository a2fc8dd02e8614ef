// Package audio wraps the ffmpeg tooling used to decode uploads into the
// 16 kHz mono PCM the recognizers and the diarizer consume.
package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultSampleRate is the rate every model in this service expects.
const DefaultSampleRate = 16000

// ErrToolMissing is returned when ffmpeg or ffprobe is not installed.
var ErrToolMissing = errors.New("ffmpeg not found")

// Duration returns the duration of an audio or video file in seconds.
func Duration(path string) (float64, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, fmt.Errorf("%w: ffprobe", ErrToolMissing)
	}

	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to get audio duration: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return duration, nil
}

// ReadMono decodes the whole file as mono PCM at the given sample rate.
func ReadMono(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	var samples []float32
	err := StreamChunks(ctx, path, sampleRate, 60, func(_ float64, chunk []float32) error {
		samples = append(samples, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// StreamChunks decodes the file as mono s16le PCM through an ffmpeg pipe
// and invokes fn once per window of at most chunkSec seconds. The offset
// passed to fn is the window start in seconds of the original audio.
// A non-nil error from fn stops decoding and is returned as-is.
func StreamChunks(ctx context.Context, path string, sampleRate, chunkSec int, fn func(offsetSec float64, samples []float32) error) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return ErrToolMissing
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if chunkSec <= 0 {
		chunkSec = 30
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	reader := bufio.NewReader(stdout)
	chunkBytes := sampleRate * chunkSec * 2

	var processedSamples int64
	for {
		buffer := make([]byte, chunkBytes)
		n, readErr := io.ReadFull(reader, buffer)
		if n == 0 {
			break
		}

		samples := SamplesFromPCM16(buffer[:n])
		if cbErr := fn(float64(processedSamples)/float64(sampleRate), samples); cbErr != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return cbErr
		}
		processedSamples += int64(len(samples))

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	if waitErr := cmd.Wait(); waitErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Partial decode of a truncated container still yielded samples;
		// treat only a fully empty decode as a failure.
		if processedSamples == 0 {
			return fmt.Errorf("ffmpeg decode failed: %w", waitErr)
		}
	}
	if processedSamples == 0 && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// SamplesFromPCM16 converts little-endian 16-bit PCM bytes to float32
// samples in [-1, 1).
func SamplesFromPCM16(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := 0; i < len(samples); i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
