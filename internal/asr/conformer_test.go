package asr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConformerOutputSegments(t *testing.T) {
	data := []byte(`{"segments":[{"start":0,"end":2.5,"text":"hello"},{"start":2.5,"end":4,"text":"world"}]}`)
	transcript, err := parseConformerOutput(data)
	require.NoError(t, err)
	require.Len(t, transcript.Segments, 2)
	assert.Equal(t, "hello", transcript.Segments[0].Text)
	assert.Equal(t, 2.5, transcript.Segments[1].Start)
}

func TestParseConformerOutputBareText(t *testing.T) {
	transcript, err := parseConformerOutput([]byte(`{"text":"hello world"}`))
	require.NoError(t, err)
	require.Len(t, transcript.Segments, 1)
	assert.Equal(t, "hello world", transcript.Segments[0].Text)
	assert.Zero(t, transcript.Segments[0].End)
}

func TestParseConformerOutputEmptyText(t *testing.T) {
	transcript, err := parseConformerOutput([]byte(`{"text":"  "}`))
	require.NoError(t, err)
	assert.Empty(t, transcript.Segments)
}

func TestParseConformerOutputRejectsPythonLiteral(t *testing.T) {
	_, err := parseConformerOutput([]byte(`{'text': 'hello'}`))
	assert.Error(t, err)
}

func TestParseConformerOutputRejectsTrailingData(t *testing.T) {
	_, err := parseConformerOutput([]byte(`{"text":"a"}{"text":"b"}`))
	assert.Error(t, err)
}

func TestParseConformerOutputRejectsGarbage(t *testing.T) {
	_, err := parseConformerOutput([]byte("Traceback (most recent call last):"))
	assert.Error(t, err)
}
