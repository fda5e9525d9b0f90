package model

import "time"

// Segment is one timed span of transcribed or translated text.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// PartialResultRecord is the advisory in-progress output of a long job.
// Version never decreases across writes for the same job; Segments are always
// a contiguous prefix of the final merged result.
type PartialResultRecord struct {
	JobID     string    `json:"jobId"`
	Version   int64     `json:"version"`
	Segments  []Segment `json:"segments"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
