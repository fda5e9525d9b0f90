package model

import (
	"encoding/json"
	"time"
)

// Job represents a background processing job in the system
type Job struct {
	ID          string         `json:"id"`
	Type        ToolType       `json:"type"`
	OwnerID     string         `json:"ownerId"`
	Tier        PlanTier       `json:"tier"`
	Weight      int            `json:"weight"`
	Lane        Lane           `json:"lane"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"currentStep,omitempty"`
	InputPath   string         `json:"inputPath"`
	InputName   string         `json:"inputName"`
	ContentHash string         `json:"contentHash,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
	OptionsHash string         `json:"optionsHash,omitempty"`

	// CachedResult is prefilled on a dedup-cache hit; the worker returns it
	// without invoking any transform.
	CachedResult *JobResult `json:"cachedResult,omitempty"`

	Result     json.RawMessage `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
	ErrorKind  string          `json:"errorKind,omitempty"`
	NotCharged bool            `json:"notCharged,omitempty"`
	Attempts   int             `json:"attempts"`

	Batch      *BatchRef `json:"batch,omitempty"`
	WebhookURL string    `json:"webhookUrl,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// BatchRef tags a job as one item of a batch submission.
type BatchRef struct {
	BatchID  string `json:"batchId"`
	Position int    `json:"position"`
	Total    int    `json:"total"`
}

// JobResult is the downloadable outcome of a completed job.
type JobResult struct {
	OutputPath  string    `json:"outputPath"`
	FileName    string    `json:"fileName"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
	Segments    []Segment `json:"segments,omitempty"`
}

// SubmitJobRequest is the payload for POST /api/jobs
type SubmitJobRequest struct {
	Tool       ToolType       `json:"tool" validate:"required"`
	FilePath   string         `json:"filePath" validate:"required"`
	FileName   string         `json:"fileName"`
	Options    map[string]any `json:"options"`
	WebhookURL string         `json:"webhookUrl" validate:"omitempty,url"`
}

// SubmitJobResponse is returned on successful submission
type SubmitJobResponse struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	JobToken string    `json:"jobToken"`
}

// JobStatusResponse is the payload for GET /api/jobs/:jobId
type JobStatusResponse struct {
	JobID           string          `json:"jobId"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	CurrentStep     string          `json:"currentStep,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *string         `json:"error,omitempty"`
	NotCharged      bool            `json:"notCharged,omitempty"`
	QueuePosition   *int64          `json:"queuePosition,omitempty"`
	PartialVersion  *int64          `json:"partialVersion,omitempty"`
	PartialSegments []Segment       `json:"partialSegments,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// WebhookPayload is POSTed to a caller-supplied URL on completion or failure.
type WebhookPayload struct {
	JobID  string          `json:"jobId"`
	Status JobStatus       `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}
