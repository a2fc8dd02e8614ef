// Package youtube fetches the audio track of a video for URL-based
// ingestion.
package youtube

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ytdl "github.com/kkdai/youtube/v2"
)

// Client wraps the video API used by URL ingestion.
type Client struct {
	client ytdl.Client
}

func NewClient() *Client {
	return &Client{client: ytdl.Client{}}
}

// VideoInfo is the metadata ingestion records alongside the download.
type VideoInfo struct {
	ID       string
	Title    string
	Author   string
	Duration time.Duration
}

// Download is a completed audio fetch.
type Download struct {
	VideoInfo
	Path     string
	Size     int64
	MimeType string
}

// GetVideo resolves a video URL or id to its metadata.
func (c *Client) GetVideo(ctx context.Context, url string) (*VideoInfo, error) {
	video, err := c.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &VideoInfo{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
	}, nil
}

// DownloadAudio fetches the highest-bitrate audio-only stream into
// destDir. The language hint filters multi-audio videos by track id or
// display name; no match falls back to the default track.
func (c *Client) DownloadAudio(ctx context.Context, url, destDir, language string) (*Download, error) {
	video, err := c.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve video: %w", err)
	}

	format, err := selectAudioFormat(video.Formats, language)
	if err != nil {
		return nil, err
	}

	stream, _, err := c.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(destDir, sanitizeFilename(video.Title)+extensionFor(format.MimeType))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	size, err := io.Copy(f, stream)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}

	return &Download{
		VideoInfo: VideoInfo{
			ID:       video.ID,
			Title:    video.Title,
			Author:   video.Author,
			Duration: video.Duration,
		},
		Path:     path,
		Size:     size,
		MimeType: baseMimeType(format.MimeType),
	}, nil
}

// selectAudioFormat picks the best audio-only format: language-matched
// tracks when a hint is given, highest bitrate wins.
func selectAudioFormat(formats ytdl.FormatList, language string) (*ytdl.Format, error) {
	var audio []*ytdl.Format
	for i := range formats {
		f := &formats[i]
		if strings.HasPrefix(f.MimeType, "audio/") {
			audio = append(audio, f)
		}
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio formats available")
	}

	if language != "" {
		var matched []*ytdl.Format
		want := strings.ToLower(language)
		for _, f := range audio {
			if f.AudioTrack == nil {
				continue
			}
			if strings.HasPrefix(strings.ToLower(f.AudioTrack.ID), want) ||
				strings.Contains(strings.ToLower(f.AudioTrack.DisplayName), want) {
				matched = append(matched, f)
			}
		}
		if len(matched) > 0 {
			audio = matched
		}
	}

	sort.Slice(audio, func(i, j int) bool {
		return audio[i].Bitrate > audio[j].Bitrate
	})
	return audio[0], nil
}

func extensionFor(mimeType string) string {
	if strings.Contains(mimeType, "mp4") {
		return ".m4a"
	}
	if strings.Contains(mimeType, "webm") {
		return ".webm"
	}
	return ".audio"
}

// baseMimeType strips codec parameters, "audio/mp4; codecs=..." to
// "audio/mp4".
func baseMimeType(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		return strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// sanitizeFilename replaces characters unusable in file names.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	return replacer.Replace(name)
}
