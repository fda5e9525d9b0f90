package model

import "time"

// UploadSession tracks a chunked upload until reassembly.
// Completion requires every chunk index in [0, TotalChunks) present and
// cumulative bytes within both the declared size and the plan limit.
type UploadSession struct {
	UploadID      string         `json:"uploadId"`
	OwnerID       string         `json:"ownerId"`
	Tier          PlanTier       `json:"tier"`
	FileName      string         `json:"fileName"`
	DeclaredSize  int64          `json:"declaredSize"`
	TotalChunks   int            `json:"totalChunks"`
	ReceivedBytes int64          `json:"receivedBytes"`
	Chunks        map[int]int64  `json:"chunks"` // index → size in bytes
	Tool          ToolType       `json:"tool"`
	Options       map[string]any `json:"options,omitempty"`
	WebhookURL    string         `json:"webhookUrl,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// UploadInitRequest is the payload for POST /api/upload/init
type UploadInitRequest struct {
	FileName    string         `json:"fileName" validate:"required"`
	TotalSize   int64          `json:"totalSize" validate:"required,gt=0"`
	TotalChunks int            `json:"totalChunks" validate:"required,gte=1"`
	Tool        ToolType       `json:"tool" validate:"required"`
	Options     map[string]any `json:"options"`
	WebhookURL  string         `json:"webhookUrl" validate:"omitempty,url"`
}

// UploadInitResponse is returned on session creation
type UploadInitResponse struct {
	UploadID    string `json:"uploadId"`
	TotalChunks int    `json:"totalChunks"`
}

// UploadCompleteResponse is returned after reassembly and job submission
type UploadCompleteResponse struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	JobToken string    `json:"jobToken"`
}
