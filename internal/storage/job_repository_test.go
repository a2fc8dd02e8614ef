package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woa/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedFiles(t *testing.T, db *DB, names ...string) []string {
	t.Helper()
	files := make([]*models.UploadedFile, len(names))
	for i, name := range names {
		files[i] = &models.UploadedFile{OriginalFilename: name, StoragePath: "/tmp/" + name}
	}
	require.NoError(t, NewFileRepository(db).CreateBatch(context.Background(), files))
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}

func newJob() *models.Job {
	return &models.Job{
		ModelType: "faster_whisper",
		ModelSize: "base",
		Language:  "auto",
		Device:    "cpu",
		Formats:   []string{"vtt", "srt"},
	}
}

func TestJobCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	fileIDs := seedFiles(t, db, "a.mp3", "b.mp3")

	job := newJob()
	job.Diarization = models.DiarizationConfig{Enabled: true, MinSpeakers: 2, MaxSpeakers: 4}
	job.Subtitle = models.SubtitleConfig{MaxLineWidth: 42, HighlightWords: true}
	require.NoError(t, repo.Create(ctx, job, fileIDs))
	require.NotEmpty(t, job.ID)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Equal(t, []string{"vtt", "srt"}, got.Formats)
	assert.True(t, got.Diarization.Enabled)
	assert.Equal(t, 42, got.Subtitle.MaxLineWidth)
	assert.True(t, got.Subtitle.HighlightWords)
	assert.Nil(t, got.StartedAt)
}

func TestJobCreateUnknownFileRollsBack(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()
	fileIDs := seedFiles(t, db, "a.mp3")

	job := newJob()
	err := repo.Create(ctx, job, append(fileIDs, "no-such-file"))
	require.Error(t, err)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJobGetUnknownReturnsNil(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	job, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobFilesKeepRequestOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fileIDs := seedFiles(t, db, "c.mp3", "a.mp3", "b.mp3")

	job := newJob()
	require.NoError(t, NewJobRepository(db).Create(ctx, job, fileIDs))

	files, err := NewFileRepository(db).ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "c.mp3", files[0].OriginalFilename)
	assert.Equal(t, "a.mp3", files[1].OriginalFilename)
	assert.Equal(t, "b.mp3", files[2].OriginalFilename)
}

func TestClaimIsCompareAndSet(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := newJob()
	require.NoError(t, repo.Create(ctx, job, seedFiles(t, db, "a.mp3")))

	won, err := repo.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, won, "second claim must lose")

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestClaimSkipsCancelRequested(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := newJob()
	require.NoError(t, repo.Create(ctx, job, seedFiles(t, db, "a.mp3")))

	ok, err := repo.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	won, err := repo.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestRequestCancelPendingGoesTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := newJob()
	require.NoError(t, repo.Create(ctx, job, seedFiles(t, db, "a.mp3")))

	ok, err := repo.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestRequestCancelProcessingOnlyFlags(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := newJob()
	require.NoError(t, repo.Create(ctx, job, seedFiles(t, db, "a.mp3")))
	won, err := repo.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, won)

	ok, err := repo.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status, "worker owns the terminal transition")

	flagged, err := repo.CancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, flagged)
}

func TestRequestCancelTerminalRefused(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := newJob()
	require.NoError(t, repo.Create(ctx, job, seedFiles(t, db, "a.mp3")))
	_, err := repo.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, job.ID))

	ok, err := repo.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTerminalStatesAreNeverLeft(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := newJob()
	require.NoError(t, repo.Create(ctx, job, seedFiles(t, db, "a.mp3")))
	_, err := repo.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Fail(ctx, job.ID, "boom"))

	require.NoError(t, repo.Complete(ctx, job.ID))
	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestRequeueProcessingRecoversStrandedJobs(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	stranded := newJob()
	require.NoError(t, repo.Create(ctx, stranded, seedFiles(t, db, "a.mp3")))
	_, err := repo.Claim(ctx, stranded.ID)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateProgress(ctx, stranded.ID, 40, "a.mp3"))

	flagged := newJob()
	require.NoError(t, repo.Create(ctx, flagged, seedFiles(t, db, "b.mp3")))
	_, err = repo.Claim(ctx, flagged.ID)
	require.NoError(t, err)
	ok, err := repo.RequestCancel(ctx, flagged.ID)
	require.NoError(t, err)
	require.True(t, ok)

	untouched := newJob()
	require.NoError(t, repo.Create(ctx, untouched, seedFiles(t, db, "c.mp3")))

	n, err := repo.RequeueProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetByID(ctx, stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Empty(t, got.CurrentFile)
	assert.Nil(t, got.StartedAt)

	got, err = repo.GetByID(ctx, flagged.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	got, err = repo.GetByID(ctx, untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
}

func TestNextPendingOldestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	first := newJob()
	require.NoError(t, repo.Create(ctx, first, seedFiles(t, db, "a.mp3")))
	second := newJob()
	require.NoError(t, repo.Create(ctx, second, seedFiles(t, db, "b.mp3")))

	next, err := repo.NextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)

	_, err = repo.Claim(ctx, first.ID)
	require.NoError(t, err)

	next, err = repo.NextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID)
}

func TestCountByStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newJob(), seedFiles(t, db, "a.mp3")))
	}
	job := newJob()
	require.NoError(t, repo.Create(ctx, job, seedFiles(t, db, "b.mp3")))
	_, err := repo.Claim(ctx, job.ID)
	require.NoError(t, err)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.JobStatusPending])
	assert.Equal(t, 1, counts[models.JobStatusProcessing])
}

func TestDeleteCascadesResults(t *testing.T) {
	db := newTestDB(t)
	jobs := NewJobRepository(db)
	results := NewResultRepository(db)
	ctx := context.Background()

	fileIDs := seedFiles(t, db, "a.mp3")
	job := newJob()
	require.NoError(t, jobs.Create(ctx, job, fileIDs))
	require.NoError(t, results.Create(ctx, &models.Result{
		JobID:       job.ID,
		FileID:      fileIDs[0],
		OutputPaths: map[string]string{"vtt": "/tmp/a.vtt"},
	}))

	require.NoError(t, jobs.Delete(ctx, job.ID))

	remaining, err := results.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestCleanupTerminalKeepsRecentAndLive(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	live := newJob()
	require.NoError(t, repo.Create(ctx, live, seedFiles(t, db, "a.mp3")))

	recent := newJob()
	require.NoError(t, repo.Create(ctx, recent, seedFiles(t, db, "b.mp3")))
	_, err := repo.Claim(ctx, recent.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, recent.ID))

	old := newJob()
	require.NoError(t, repo.Create(ctx, old, seedFiles(t, db, "c.mp3")))
	_, err = repo.Claim(ctx, old.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, old.ID))
	_, err = db.ExecContext(ctx,
		`UPDATE jobs SET completed_at = ? WHERE id = ?`,
		time.Now().UTC().AddDate(0, 0, -10), old.ID)
	require.NoError(t, err)

	ids, err := repo.CleanupTerminal(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, ids)

	gone, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := repo.GetByID(ctx, recent.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestResultFormatPath(t *testing.T) {
	db := newTestDB(t)
	jobs := NewJobRepository(db)
	results := NewResultRepository(db)
	ctx := context.Background()

	fileIDs := seedFiles(t, db, "a.mp3", "b.mp3")
	job := newJob()
	require.NoError(t, jobs.Create(ctx, job, fileIDs))

	speakers := 3
	require.NoError(t, results.Create(ctx, &models.Result{
		JobID:          job.ID,
		FileID:         fileIDs[0],
		SegmentCount:   12,
		HasDiarization: true,
		SpeakerCount:   &speakers,
		OutputPaths:    map[string]string{"vtt": "/tmp/a.vtt"},
	}))
	require.NoError(t, results.Create(ctx, &models.Result{
		JobID:       job.ID,
		FileID:      fileIDs[1],
		OutputPaths: map[string]string{"srt": "/tmp/b.srt"},
	}))

	path, err := results.FormatPath(ctx, job.ID, "srt")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/b.srt", path)

	path, err = results.FormatPath(ctx, job.ID, "json")
	require.NoError(t, err)
	assert.Empty(t, path)

	list, err := results.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].SpeakerCount)
	assert.Equal(t, 3, *list[0].SpeakerCount)
	assert.Nil(t, list[1].SpeakerCount)
}
