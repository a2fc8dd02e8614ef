package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 500, cfg.MaxFileSizeMB)
	assert.Equal(t, 10, cfg.MaxFilesPerJob)
	assert.Equal(t, 3, cfg.MaxConcurrentJobs)
	assert.Equal(t, "cuda", cfg.Device)
	assert.Contains(t, cfg.AllowedExts, ".mp3")
	assert.Contains(t, cfg.AllowedExts, ".mkv")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WOA_PORT", "9090")
	t.Setenv("WOA_DEVICE", "cpu")
	t.Setenv("WOA_MAX_CONCURRENT_JOBS", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
}

func TestStorageLayout(t *testing.T) {
	cfg := &Config{StorageRoot: "storage"}
	assert.Equal(t, filepath.Join("storage", "uploads"), cfg.UploadDir())
	assert.Equal(t, filepath.Join("storage", "results"), cfg.ResultDir())
	assert.Equal(t, filepath.Join("storage", "temp"), cfg.TempDir())
}

func TestMaxFileSizeBytes(t *testing.T) {
	cfg := &Config{MaxFileSizeMB: 500}
	assert.Equal(t, int64(500*1024*1024), cfg.MaxFileSizeBytes())
}

func TestAllowedExt(t *testing.T) {
	cfg := &Config{AllowedExts: []string{".wav", ".mp3"}}
	assert.True(t, cfg.AllowedExt("song.MP3"))
	assert.True(t, cfg.AllowedExt("rec.wav"))
	assert.False(t, cfg.AllowedExt("doc.pdf"))
	assert.False(t, cfg.AllowedExt("noext"))
}
