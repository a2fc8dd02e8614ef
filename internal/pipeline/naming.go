package pipeline

import (
	"path/filepath"
	"strings"
	"unicode"

	"woa/internal/asr"
)

// DerivedBaseName builds the artifact base name for a source file:
// letters, digits and spaces of the original name (extension dropped),
// with the backend tag appended. "회의 録音.mp3" transcribed by
// faster_whisper becomes "회의 録音_whisper".
func DerivedBaseName(originalFilename string, kind asr.Kind) string {
	stem := strings.TrimSuffix(originalFilename, filepath.Ext(originalFilename))

	var b strings.Builder
	for _, r := range stem {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "transcript"
	}
	return name + kind.Tag()
}
