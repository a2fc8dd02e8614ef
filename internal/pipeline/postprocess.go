package pipeline

import (
	"context"
	"strings"
	"unicode"

	"woa/internal/asr"
	"woa/internal/audio"
)

// applyVAD drops segments whose span never overlaps detected speech,
// which removes hallucinated text the recognizers produce on long
// silence. A fully silent file loses every segment.
func applyVAD(ctx context.Context, audioPath string, t *asr.Transcript, sampleRate int) error {
	spans, err := audio.DetectSpeechSpans(ctx, audioPath, sampleRate, audio.DefaultSilenceConfig())
	if err != nil {
		return err
	}

	kept := t.Segments[:0]
	for _, seg := range t.Segments {
		for _, span := range spans {
			if span.Overlaps(seg.Start, seg.End) {
				kept = append(kept, seg)
				break
			}
		}
	}
	t.Segments = kept
	return nil
}

// terminalPunctuation covers the sentence enders applyPNC checks for,
// Latin and CJK forms both.
const terminalPunctuation = ".!?。！？…"

// applyPNC restores minimal punctuation and capitalization on backends
// that emit bare lowercase text: each segment gets an uppercased first
// letter and a closing period when no sentence ender is present.
func applyPNC(t *asr.Transcript) {
	for i := range t.Segments {
		seg := &t.Segments[i]
		trimmed := strings.TrimSpace(seg.Text)
		if trimmed == "" {
			continue
		}
		lead := seg.Text[:strings.Index(seg.Text, trimmed)]

		runes := []rune(trimmed)
		runes[0] = unicode.ToUpper(runes[0])
		text := string(runes)
		if !strings.ContainsRune(terminalPunctuation, runes[len(runes)-1]) {
			text += "."
		}
		seg.Text = lead + text
	}
}
