// Package ingestion brings audio into the service: multipart uploads
// saved to local storage and remote videos fetched by URL. Both paths
// end in an uploaded_files row jobs can reference.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"woa/internal/audio"
	"woa/internal/models"
	"woa/internal/storage"
	"woa/internal/youtube"
)

// Upload is one incoming file from a multipart request.
type Upload struct {
	Filename string
	Size     int64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// Service stores incoming audio and records its metadata.
type Service struct {
	files     *storage.FileRepository
	yt        *youtube.Client
	uploadDir string
	tempDir   string
	log       *slog.Logger
}

func NewService(files *storage.FileRepository, yt *youtube.Client, uploadDir, tempDir string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		files:     files,
		yt:        yt,
		uploadDir: uploadDir,
		tempDir:   tempDir,
		log:       log,
	}
}

// SaveUploads writes the uploads to disk under storage-owned names and
// records them in one batch. A failure on any file removes everything
// written so far; uploads are all-or-nothing.
func (s *Service) SaveUploads(ctx context.Context, uploads []Upload) ([]*models.UploadedFile, error) {
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	var files []*models.UploadedFile
	var written []string
	cleanup := func() {
		for _, path := range written {
			os.Remove(path)
		}
	}

	for _, up := range uploads {
		id := uuid.New().String()
		path := filepath.Join(s.uploadDir, id+filepath.Ext(up.Filename))

		if err := s.saveOne(up, path); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to save %s: %w", up.Filename, err)
		}
		written = append(written, path)

		file := &models.UploadedFile{
			ID:               id,
			OriginalFilename: up.Filename,
			StoragePath:      path,
			FileSize:         up.Size,
			MimeType:         up.MimeType,
		}
		// Duration is advisory; ffprobe being absent is not an upload
		// failure.
		if dur, err := audio.Duration(path); err == nil {
			file.Duration = &dur
		}
		files = append(files, file)
	}

	if err := s.files.CreateBatch(ctx, files); err != nil {
		cleanup()
		return nil, err
	}

	s.log.Info("files uploaded", "count", len(files))
	return files, nil
}

func (s *Service) saveOne(up Upload, path string) error {
	src, err := up.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(path)
		return err
	}
	return dest.Close()
}

// IngestURL downloads a video's audio track and records it like an
// upload. The stored file keeps the video title as its original name.
func (s *Service) IngestURL(ctx context.Context, url, language string) (*models.UploadedFile, error) {
	if s.yt == nil {
		return nil, fmt.Errorf("url ingestion is not configured")
	}

	dl, err := s.yt.DownloadAudio(ctx, url, s.tempDir, language)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}

	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		os.Remove(dl.Path)
		return nil, err
	}
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id+filepath.Ext(dl.Path))
	if err := moveFile(dl.Path, path); err != nil {
		os.Remove(dl.Path)
		return nil, fmt.Errorf("failed to store download: %w", err)
	}

	file := &models.UploadedFile{
		ID:               id,
		OriginalFilename: filepath.Base(dl.Path),
		StoragePath:      path,
		FileSize:         dl.Size,
		MimeType:         dl.MimeType,
	}
	if dl.Duration > 0 {
		dur := dl.Duration.Seconds()
		file.Duration = &dur
	}

	if err := s.files.CreateBatch(ctx, []*models.UploadedFile{file}); err != nil {
		os.Remove(path)
		return nil, err
	}

	s.log.Info("url ingested", "video_id", dl.ID, "title", dl.Title)
	return file, nil
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
