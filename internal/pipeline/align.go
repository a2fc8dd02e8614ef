package pipeline

import (
	"strings"
	"unicode/utf8"

	"woa/internal/asr"
)

// alignUniform synthesizes word timings for segments that lack them by
// splitting the text on whitespace and spreading the segment span over
// the words proportionally to their rune length. Word-accurate backends
// keep their own timings; this only fills the gaps so downstream
// word-level rendering has something to work with.
func alignUniform(t *asr.Transcript) {
	for i := range t.Segments {
		seg := &t.Segments[i]
		if len(seg.Words) > 0 {
			continue
		}
		fields := strings.Fields(seg.Text)
		if len(fields) == 0 {
			continue
		}

		total := 0
		for _, f := range fields {
			total += utf8.RuneCountInString(f)
		}
		span := seg.End - seg.Start
		if span < 0 {
			span = 0
		}

		words := make([]asr.Word, 0, len(fields))
		cursor := seg.Start
		counted := 0
		for idx, f := range fields {
			counted += utf8.RuneCountInString(f)
			end := seg.Start + span*float64(counted)/float64(total)
			if idx == len(fields)-1 {
				end = seg.End
			}
			words = append(words, asr.Word{Start: cursor, End: end, Word: " " + f})
			cursor = end
		}
		seg.Words = words
	}
}
