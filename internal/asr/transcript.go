package asr

// Word is a single recognized word with its time boundaries in seconds.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// Segment is a timestamped span of recognized speech. Start and End are
// seconds from the beginning of the audio. Speaker is set by diarization,
// Words by recognizers (or aligners) that produce word-level timings.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
	Words   []Word  `json:"words,omitempty"`
}

// Transcript is the canonical transcription result shared by recognizers,
// the diarizer and the subtitle writers. Segments are ordered by Start.
type Transcript struct {
	Segments []Segment `json:"segments"`
}

// HasWordTimings reports whether every segment carries a word list.
func (t *Transcript) HasWordTimings() bool {
	if len(t.Segments) == 0 {
		return false
	}
	for _, seg := range t.Segments {
		if len(seg.Words) == 0 {
			return false
		}
	}
	return true
}

// Speakers returns the distinct speaker labels in first-appearance order.
func (t *Transcript) Speakers() []string {
	seen := make(map[string]bool)
	var speakers []string
	for _, seg := range t.Segments {
		if seg.Speaker == "" || seen[seg.Speaker] {
			continue
		}
		seen[seg.Speaker] = true
		speakers = append(speakers, seg.Speaker)
	}
	return speakers
}
