// Package subtitle renders a canonical transcript into the supported
// output formats: txt, vtt, srt, tsv and json.
package subtitle

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"woa/internal/asr"
)

// FormatAll expands to one artifact per concrete format.
const FormatAll = "all"

// Formats lists the concrete output formats in a stable order.
var Formats = []string{"txt", "vtt", "srt", "tsv", "json"}

// MIMETypes maps each format to the content type served on download.
var MIMETypes = map[string]string{
	"txt":  "text/plain",
	"vtt":  "text/vtt",
	"srt":  "application/x-subrip",
	"tsv":  "text/tab-separated-values",
	"json": "application/json",
}

// Options controls subtitle rendering. Zero values mean "unset".
type Options struct {
	// MaxLineWidth caps characters per subtitle line; unset defaults
	// to 1000, which is effectively unlimited.
	MaxLineWidth int

	// MaxLineCount caps lines per subtitle block.
	MaxLineCount int

	// HighlightWords emits one subtitle per word with the active word
	// wrapped in <u> tags. Requires word timings.
	HighlightWords bool
}

// Writer renders a transcript to one output format.
type Writer interface {
	Extension() string
	Write(w io.Writer, t *asr.Transcript, opts Options) error
}

// NewWriter returns the writer for a concrete format. FormatAll is
// expanded by the caller, not here.
func NewWriter(format string) (Writer, error) {
	switch format {
	case "txt":
		return txtWriter{}, nil
	case "vtt":
		return vttWriter{}, nil
	case "srt":
		return srtWriter{}, nil
	case "tsv":
		return tsvWriter{}, nil
	case "json":
		return jsonWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// ValidFormat reports whether the format can be requested, FormatAll
// included.
func ValidFormat(format string) bool {
	if format == FormatAll {
		return true
	}
	_, err := NewWriter(format)
	return err == nil
}

// Expand replaces FormatAll with the concrete format list and drops
// duplicates, preserving first-appearance order.
func Expand(formats []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range formats {
		if f == FormatAll {
			for _, concrete := range Formats {
				add(concrete)
			}
			continue
		}
		add(f)
	}
	return out
}

// WriteFile renders one artifact under dir as baseName.<ext> and
// returns its path.
func WriteFile(dir, baseName, format string, t *asr.Transcript, opts Options) (string, error) {
	writer, err := NewWriter(format)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, baseName+"."+writer.Extension())
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	bw := bufio.NewWriter(f)
	if err := writer.Write(bw, t, opts); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// FormatTimestamp renders seconds as [HH:]MM:SS<marker>mmm. Hours are
// omitted below one hour unless forced. Negative input is a caller bug
// caught by validateTimes before any formatting happens.
func FormatTimestamp(seconds float64, alwaysIncludeHours bool, decimalMarker string) string {
	milliseconds := int64(math.Round(seconds * 1000.0))

	hours := milliseconds / 3_600_000
	milliseconds -= hours * 3_600_000
	minutes := milliseconds / 60_000
	milliseconds -= minutes * 60_000
	secs := milliseconds / 1_000
	milliseconds -= secs * 1_000

	hoursMarker := ""
	if alwaysIncludeHours || hours > 0 {
		hoursMarker = fmt.Sprintf("%02d:", hours)
	}
	return fmt.Sprintf("%s%02d:%02d%s%03d", hoursMarker, minutes, secs, decimalMarker, milliseconds)
}

// validateTimes rejects transcripts with negative timestamps. Zero is
// fine; negatives have no subtitle representation.
func validateTimes(t *asr.Transcript) error {
	for _, seg := range t.Segments {
		if seg.Start < 0 || seg.End < 0 {
			return fmt.Errorf("negative timestamp in segment %q", strings.TrimSpace(seg.Text))
		}
		for _, w := range seg.Words {
			if w.Start < 0 || w.End < 0 {
				return fmt.Errorf("negative timestamp on word %q", strings.TrimSpace(w.Word))
			}
		}
	}
	return nil
}

type txtWriter struct{}

func (txtWriter) Extension() string { return "txt" }

func (txtWriter) Write(w io.Writer, t *asr.Transcript, opts Options) error {
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if seg.Speaker != "" {
			text = fmt.Sprintf("[%s]: %s", seg.Speaker, text)
		}
		if _, err := fmt.Fprintln(w, text); err != nil {
			return err
		}
	}
	return nil
}

type vttWriter struct{}

func (vttWriter) Extension() string { return "vtt" }

func (vttWriter) Write(w io.Writer, t *asr.Transcript, opts Options) error {
	if err := validateTimes(t); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for _, c := range cues(t, opts, vttTimestamp) {
		if _, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n", c.start, c.end, c.text); err != nil {
			return err
		}
	}
	return nil
}

type srtWriter struct{}

func (srtWriter) Extension() string { return "srt" }

func (srtWriter) Write(w io.Writer, t *asr.Transcript, opts Options) error {
	if err := validateTimes(t); err != nil {
		return err
	}
	for i, c := range cues(t, opts, srtTimestamp) {
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, c.start, c.end, c.text); err != nil {
			return err
		}
	}
	return nil
}

func vttTimestamp(seconds float64) string {
	return FormatTimestamp(seconds, false, ".")
}

func srtTimestamp(seconds float64) string {
	return FormatTimestamp(seconds, true, ",")
}

type tsvWriter struct{}

func (tsvWriter) Extension() string { return "tsv" }

// Write emits start/end in integer milliseconds; tabs inside text are
// flattened to spaces to keep the rows parseable.
func (tsvWriter) Write(w io.Writer, t *asr.Transcript, opts Options) error {
	if err := validateTimes(t); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "start\tend\ttext"); err != nil {
		return err
	}
	for _, seg := range t.Segments {
		text := strings.ReplaceAll(strings.TrimSpace(seg.Text), "\t", " ")
		start := int64(math.Round(seg.Start * 1000))
		end := int64(math.Round(seg.End * 1000))
		if _, err := fmt.Fprintf(w, "%d\t%d\t%s\n", start, end, text); err != nil {
			return err
		}
	}
	return nil
}

type jsonWriter struct{}

func (jsonWriter) Extension() string { return "json" }

// Write emits the canonical transcript verbatim: UTF-8, two-space
// indent, non-ASCII unescaped.
func (jsonWriter) Write(w io.Writer, t *asr.Transcript, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(t)
}
