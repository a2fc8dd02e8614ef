package subtitle

import (
	"fmt"
	"strings"

	"woa/internal/asr"
)

// longPauseSeconds is the word gap that forces a subtitle break when
// segments are not being preserved.
const longPauseSeconds = 3.0

// defaultMaxLineWidth stands in for an unset MaxLineWidth; long enough
// to never wrap in practice.
const defaultMaxLineWidth = 1000

// cue is one rendered subtitle block with preformatted timestamps.
type cue struct {
	start, end string
	text       string
}

// cues flattens the transcript into subtitle blocks. Word-level
// rendering applies when the transcript carries word timings on every
// segment; otherwise each segment becomes one cue.
func cues(t *asr.Transcript, opts Options, ts func(float64) string) []cue {
	if len(t.Segments) == 0 {
		return nil
	}
	if t.HasWordTimings() {
		return wordCues(t, opts, ts)
	}
	return segmentCues(t, ts)
}

func segmentCues(t *asr.Transcript, ts func(float64) string) []cue {
	out := make([]cue, 0, len(t.Segments))
	for _, seg := range t.Segments {
		text := strings.ReplaceAll(strings.TrimSpace(seg.Text), "-->", "->")
		if seg.Speaker != "" {
			text = fmt.Sprintf("[%s]: %s", seg.Speaker, text)
		}
		out = append(out, cue{start: ts(seg.Start), end: ts(seg.End), text: text})
	}
	return out
}

// wordBlock is a run of words grouped into one subtitle, tagged with
// the span and speaker of the segment each word came from.
type wordBlock struct {
	words    []asr.Word
	segStart float64
	segEnd   float64
	speaker  string
}

// wordCues renders word-timed segments, applying the line wrap and
// break rules and, when requested, per-word highlighting.
func wordCues(t *asr.Transcript, opts Options, ts func(float64) string) []cue {
	maxLineWidth := opts.MaxLineWidth
	if maxLineWidth <= 0 {
		maxLineWidth = defaultMaxLineWidth
	}
	// Either bound left unset means source segment boundaries survive
	// as subtitle boundaries.
	preserveSegments := opts.MaxLineCount <= 0 || opts.MaxLineWidth <= 0

	var blocks []wordBlock
	var current wordBlock
	lineLen := 0
	lineCount := 1
	last := t.Segments[0].Start

	flush := func() {
		if len(current.words) > 0 {
			blocks = append(blocks, current)
			current = wordBlock{}
			lineCount = 1
		}
	}

	for _, seg := range t.Segments {
		for i, w := range seg.Words {
			word := w
			longPause := !preserveSegments && word.Start-last > longPauseSeconds
			hasRoom := lineLen+len(word.Word) <= maxLineWidth
			segBreak := i == 0 && len(current.words) > 0 && preserveSegments

			if lineLen > 0 && hasRoom && !longPause && !segBreak {
				lineLen += len(word.Word)
			} else {
				word.Word = strings.TrimSpace(word.Word)
				if (len(current.words) > 0 && opts.MaxLineCount > 0 &&
					(longPause || lineCount >= opts.MaxLineCount)) || segBreak {
					flush()
				} else if lineLen > 0 {
					lineCount++
					word.Word = "\n" + word.Word
				}
				lineLen = len(strings.TrimSpace(word.Word))
			}

			if len(current.words) == 0 {
				current.segStart = seg.Start
				current.segEnd = seg.End
				current.speaker = seg.Speaker
			}
			current.words = append(current.words, word)
			last = word.Start
		}
	}
	flush()

	var out []cue
	for _, block := range blocks {
		blockStart := ts(block.segStart)
		blockEnd := ts(block.segEnd)

		parts := make([]string, len(block.words))
		for i, w := range block.words {
			parts[i] = w.Word
		}
		text := strings.Join(parts, " ")

		prefix := ""
		if block.speaker != "" {
			prefix = fmt.Sprintf("[%s]: ", block.speaker)
		}

		if !opts.HighlightWords {
			out = append(out, cue{start: blockStart, end: blockEnd, text: prefix + text})
			continue
		}

		// One cue per word, underlining the active word; gaps between
		// words are filled with a plain-text cue so playback never
		// shows an empty screen mid-block.
		last := blockStart
		for i, w := range block.words {
			start := ts(w.Start)
			end := ts(w.End)
			if last != start {
				out = append(out, cue{start: last, end: start, text: text})
			}
			highlighted := make([]string, len(block.words))
			for j, other := range block.words {
				if j == i {
					highlighted[j] = underlineWord(other.Word)
				} else {
					highlighted[j] = other.Word
				}
			}
			out = append(out, cue{start: start, end: end, text: prefix + strings.Join(highlighted, " ")})
			last = end
		}
	}
	return out
}

// underlineWord wraps the word in <u> tags, keeping any leading
// whitespace (including a forced "\n" line break) outside the tag.
func underlineWord(word string) string {
	trimmed := strings.TrimLeft(word, " \t\n")
	lead := word[:len(word)-len(trimmed)]
	return lead + "<u>" + trimmed + "</u>"
}
