package model

import "time"

// BatchJob aggregates N independent item jobs submitted together.
// Invariant: Processed + Failed never exceeds Total; the archive is produced
// exactly once, when Processed + Failed == Total.
type BatchJob struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"ownerId"`
	Tier        PlanTier       `json:"tier"`
	Tool        ToolType       `json:"tool"`
	Total       int            `json:"total"`
	Processed   int            `json:"processed"`
	Failed      int            `json:"failed"`
	Status      BatchStatus    `json:"status"`
	Errors      []BatchError   `json:"errors,omitempty"`
	JobIDs      []string       `json:"jobIds"`
	Options     map[string]any `json:"options,omitempty"`
	ArchivePath string         `json:"archivePath,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// BatchError records one failed item.
type BatchError struct {
	Position int    `json:"position"`
	FileName string `json:"fileName"`
	Message  string `json:"message"`
}

// BatchItem is one input of a batch submission.
type BatchItem struct {
	FilePath string `json:"filePath" validate:"required"`
	FileName string `json:"fileName"`
}

// SubmitBatchRequest is the payload for POST /api/batch
type SubmitBatchRequest struct {
	Tool    ToolType       `json:"tool" validate:"required"`
	Items   []BatchItem    `json:"items" validate:"required,min=1,dive"`
	Options map[string]any `json:"options"`
}

// SubmitBatchResponse is returned on batch fan-out
type SubmitBatchResponse struct {
	BatchID string      `json:"batchId"`
	Status  BatchStatus `json:"status"`
	Total   int         `json:"total"`
	JobIDs  []string    `json:"jobIds"`
}

// BatchProgress summarizes batch completion state.
type BatchProgress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Percentage float64 `json:"percentage"`
}

// BatchStatusResponse is the payload for GET /api/batch/:batchId
type BatchStatusResponse struct {
	BatchID     string        `json:"batchId"`
	Status      BatchStatus   `json:"status"`
	Progress    BatchProgress `json:"progress"`
	Errors      []BatchError  `json:"errors"`
	ArchivePath string        `json:"archivePath,omitempty"`
}
