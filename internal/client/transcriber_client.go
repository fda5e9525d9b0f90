package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/model"
)

// Transcriber defines the interface to the external speech-to-text and
// translation engine.
type Transcriber interface {
	TranscribeChunk(ctx context.Context, audioPath string, offset float64, language string) ([]model.Segment, error)
	Translate(ctx context.Context, segments []model.Segment, targetLang string) ([]model.Segment, error)
	IsConfigured() bool
}

// TranscriberClient implements Transcriber for the whisper-style service
type TranscriberClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewTranscriberClient creates a new transcription client
func NewTranscriberClient(cfg *config.TranscriberConfig) *TranscriberClient {
	return &TranscriberClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.ServiceURL,
		apiKey:  cfg.APIKey,
	}
}

type transcribeRequest struct {
	AudioPath string  `json:"audio_path"`
	Offset    float64 `json:"offset"`
	Language  string  `json:"language,omitempty"`
}

type transcribeResponse struct {
	Segments []model.Segment `json:"segments"`
}

type translateRequest struct {
	Segments   []model.Segment `json:"segments"`
	TargetLang string          `json:"target_lang"`
}

// TranscribeChunk transcribes one extracted audio segment. Returned segment
// timestamps are absolute (the chunk offset is already applied).
func (c *TranscriberClient) TranscribeChunk(ctx context.Context, audioPath string, offset float64, language string) ([]model.Segment, error) {
	if !c.IsConfigured() {
		return c.transcribeMock(offset), nil
	}

	var result transcribeResponse
	req := &transcribeRequest{AudioPath: audioPath, Offset: offset, Language: language}
	if err := c.post(ctx, "/transcribe", req, &result); err != nil {
		return nil, err
	}
	return result.Segments, nil
}

// Translate rewrites segment text into the target language, keeping timings.
func (c *TranscriberClient) Translate(ctx context.Context, segments []model.Segment, targetLang string) ([]model.Segment, error) {
	if !c.IsConfigured() {
		return c.translateMock(segments, targetLang), nil
	}

	var result transcribeResponse
	if err := c.post(ctx, "/translate", &translateRequest{Segments: segments, TargetLang: targetLang}, &result); err != nil {
		return nil, err
	}
	return result.Segments, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *TranscriberClient) IsConfigured() bool {
	return c.baseURL != ""
}

// post sends a POST request with JSON body and parses the response
func (c *TranscriberClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.Printf("[Transcriber API] → POST %s", endpoint)

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
		return fmt.Errorf("transcriber error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// Mock implementations for development/testing

func (c *TranscriberClient) transcribeMock(offset float64) []model.Segment {
	segments := make([]model.Segment, 4)
	for i := range segments {
		start := offset + float64(i)*5
		segments[i] = model.Segment{
			Start: start,
			End:   start + 4.5,
			Text:  fmt.Sprintf("Sample transcription at %.0fs.", start),
		}
	}
	return segments
}

func (c *TranscriberClient) translateMock(segments []model.Segment, targetLang string) []model.Segment {
	out := make([]model.Segment, len(segments))
	for i, s := range segments {
		out[i] = model.Segment{
			Start:   s.Start,
			End:     s.End,
			Text:    fmt.Sprintf("[%s] %s", targetLang, s.Text),
			Speaker: s.Speaker,
		}
	}
	return out
}
