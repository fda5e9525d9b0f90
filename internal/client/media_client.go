package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/config"
)

// ProgressFunc receives coarse progress checkpoints (0-100) as a long
// transform operation advances. Every call also feeds the hung-task watchdog.
type ProgressFunc func(percent int)

// MediaInfo describes a probed media file.
type MediaInfo struct {
	Duration float64 `json:"duration"` // seconds
	Size     int64   `json:"size"`
	Format   string  `json:"format"`
}

// AudioChunk is one fixed-duration audio segment extracted for parallel
// transcription.
type AudioChunk struct {
	Index  int     `json:"index"`
	Path   string  `json:"path"`
	Offset float64 `json:"offset"` // seconds from start of source
}

// MediaProcessor defines the interface to the external media transform
// service (burn, compress, convert, probe, audio extraction). Operations are
// opaque: one input contract, one output contract, one possible failure.
type MediaProcessor interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
	ExtractAudioChunks(ctx context.Context, path string, chunkSeconds int, progress ProgressFunc) ([]AudioChunk, error)
	BurnSubtitles(ctx context.Context, videoPath, subtitlePath, outputPath string, progress ProgressFunc) error
	Compress(ctx context.Context, inputPath, outputPath string, quality int, progress ProgressFunc) error
	Convert(ctx context.Context, inputPath, outputPath, format string, progress ProgressFunc) error
	HealthCheck(ctx context.Context) error
	IsConfigured() bool
}

// MediaClient implements MediaProcessor for the ffmpeg microservice
type MediaClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewMediaClient creates a new media processing client
func NewMediaClient(cfg *config.MediaConfig) *MediaClient {
	return &MediaClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.ServiceURL,
	}
}

type probeResponse struct {
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	Format   string  `json:"format"`
}

type extractRequest struct {
	InputPath    string `json:"input_path"`
	ChunkSeconds int    `json:"chunk_seconds"`
}

type extractResponse struct {
	Chunks []AudioChunk `json:"chunks"`
}

type transformRequest struct {
	InputPath    string `json:"input_path"`
	SubtitlePath string `json:"subtitle_path,omitempty"`
	OutputPath   string `json:"output_path"`
	Format       string `json:"format,omitempty"`
	Quality      int    `json:"quality,omitempty"`
}

type taskStartResponse struct {
	TaskID string `json:"task_id"`
}

type taskStatusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// Probe returns duration and size info for a media file.
func (c *MediaClient) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	if !c.IsConfigured() {
		return c.probeMock(path)
	}

	var result probeResponse
	if err := c.post(ctx, "/probe", map[string]string{"input_path": path}, &result); err != nil {
		return nil, err
	}
	return &MediaInfo{Duration: result.Duration, Size: result.Size, Format: result.Format}, nil
}

// ExtractAudioChunks splits a media file's audio track into fixed-duration
// segments for parallel transcription.
func (c *MediaClient) ExtractAudioChunks(ctx context.Context, path string, chunkSeconds int, progress ProgressFunc) ([]AudioChunk, error) {
	if !c.IsConfigured() {
		return c.extractMock(ctx, path, chunkSeconds, progress)
	}

	var result extractResponse
	if err := c.post(ctx, "/extract", &extractRequest{InputPath: path, ChunkSeconds: chunkSeconds}, &result); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(100)
	}
	return result.Chunks, nil
}

// BurnSubtitles renders a subtitle file into the video stream.
func (c *MediaClient) BurnSubtitles(ctx context.Context, videoPath, subtitlePath, outputPath string, progress ProgressFunc) error {
	if !c.IsConfigured() {
		return c.transformMock(ctx, videoPath, outputPath, progress)
	}
	return c.runTask(ctx, "/burn", &transformRequest{
		InputPath:    videoPath,
		SubtitlePath: subtitlePath,
		OutputPath:   outputPath,
	}, progress)
}

// Compress re-encodes a video at the requested quality factor.
func (c *MediaClient) Compress(ctx context.Context, inputPath, outputPath string, quality int, progress ProgressFunc) error {
	if !c.IsConfigured() {
		return c.transformMock(ctx, inputPath, outputPath, progress)
	}
	return c.runTask(ctx, "/compress", &transformRequest{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Quality:    quality,
	}, progress)
}

// Convert transcodes a media file to another container/format.
func (c *MediaClient) Convert(ctx context.Context, inputPath, outputPath, format string, progress ProgressFunc) error {
	if !c.IsConfigured() {
		return c.transformMock(ctx, inputPath, outputPath, progress)
	}
	return c.runTask(ctx, "/convert", &transformRequest{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Format:     format,
	}, progress)
}

// HealthCheck checks if the media service is available
func (c *MediaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *MediaClient) IsConfigured() bool {
	return c.baseURL != ""
}

// runTask starts a long transform task and polls its status, forwarding each
// observed progress value so the caller's watchdog sees the task is alive.
func (c *MediaClient) runTask(ctx context.Context, endpoint string, body interface{}, progress ProgressFunc) error {
	var start taskStartResponse
	if err := c.post(ctx, endpoint, body, &start); err != nil {
		return err
	}

	attempt := 0
	for {
		attempt++
		var status taskStatusResponse
		if err := c.get(ctx, fmt.Sprintf("/tasks/%s", start.TaskID), &status); err != nil {
			return err
		}

		log.Printf("[Media API] Poll %s #%d (task=%s) %s %d%%", endpoint, attempt, start.TaskID, status.Status, status.Progress)
		if progress != nil {
			progress(status.Progress)
		}

		switch status.Status {
		case "completed", "success":
			return nil
		case "failed", "error":
			return fmt.Errorf("media task failed: %s", status.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// post sends a POST request with JSON body and parses the response
func (c *MediaClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *MediaClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *MediaClient) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("media service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// Mock implementations for development/testing

func (c *MediaClient) probeMock(path string) (*MediaInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}
	// Rough estimate: ~1MB per minute of media
	duration := float64(info.Size()) / (1024 * 1024) * 60
	if duration < 10 {
		duration = 10
	}
	return &MediaInfo{Duration: duration, Size: info.Size(), Format: "mp4"}, nil
}

func (c *MediaClient) extractMock(ctx context.Context, path string, chunkSeconds int, progress ProgressFunc) ([]AudioChunk, error) {
	info, err := c.probeMock(path)
	if err != nil {
		return nil, err
	}

	n := int(info.Duration) / chunkSeconds
	if n < 1 {
		n = 1
	}
	chunks := make([]AudioChunk, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, AudioChunk{
			Index:  i,
			Path:   path,
			Offset: float64(i * chunkSeconds),
		})
	}
	if progress != nil {
		progress(100)
	}
	return chunks, nil
}

func (c *MediaClient) transformMock(ctx context.Context, inputPath, outputPath string, progress ProgressFunc) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if progress != nil {
		progress(100)
	}
	return nil
}
