package ingestion

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woa/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.FileRepository, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files := storage.NewFileRepository(db)
	svc := NewService(files, nil, filepath.Join(dir, "uploads"), filepath.Join(dir, "temp"), nil)
	return svc, files, dir
}

func stringUpload(name, content string) Upload {
	return Upload{
		Filename: name,
		Size:     int64(len(content)),
		MimeType: "audio/mpeg",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestSaveUploads(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	files, err := svc.SaveUploads(ctx, []Upload{
		stringUpload("meeting.mp3", "audio-bytes"),
		stringUpload("interview.wav", "more-audio"),
	})
	require.NoError(t, err)
	require.Len(t, files, 2)

	for _, f := range files {
		assert.NotEmpty(t, f.ID)
		assert.FileExists(t, f.StoragePath)
		// Stored under the generated id, not the client's name.
		assert.Equal(t, f.ID+filepath.Ext(f.OriginalFilename), filepath.Base(f.StoragePath))

		stored, err := repo.GetByID(ctx, f.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, f.OriginalFilename, stored.OriginalFilename)
	}
}

func TestSaveUploadsRollbackOnFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	uploads := []Upload{
		stringUpload("ok.mp3", "fine"),
		{
			Filename: "broken.mp3",
			Open: func() (io.ReadCloser, error) {
				return nil, os.ErrPermission
			},
		},
	}

	_, err := svc.SaveUploads(ctx, uploads)
	require.Error(t, err)

	// Nothing was recorded and the first file was removed again.
	entries, err := os.ReadDir(svc.uploadDir)
	if err == nil {
		assert.Empty(t, entries)
	}
	files, err := repo.ListByIDs(ctx, []string{})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIngestURLUnconfigured(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.yt = nil
	_, err := svc.IngestURL(context.Background(), "https://youtu.be/x", "")
	assert.Error(t, err)
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "sub", "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))

	require.NoError(t, moveFile(src, dst))
	assert.NoFileExists(t, src)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
