package model

// Tool types: the transformation a job performs
type ToolType string

const (
	ToolTranscribe ToolType = "transcribe"
	ToolSubtitle   ToolType = "subtitle"
	ToolTranslate  ToolType = "translate"
	ToolFix        ToolType = "fix"
	ToolBurn       ToolType = "burn"
	ToolCompress   ToolType = "compress"
	ToolConvert    ToolType = "convert"
)

var ValidToolTypes = []ToolType{
	ToolTranscribe, ToolSubtitle, ToolTranslate, ToolFix,
	ToolBurn, ToolCompress, ToolConvert,
}

// IsValidToolType reports whether t is a known tool type.
func IsValidToolType(t ToolType) bool {
	for _, v := range ValidToolTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Plan tiers
type PlanTier string

const (
	TierFree   PlanTier = "free"
	TierPro    PlanTier = "pro"
	TierStudio PlanTier = "studio"
)

var ValidPlanTiers = []PlanTier{TierFree, TierPro, TierStudio}

// IsValidPlanTier reports whether t is a known plan tier.
func IsValidPlanTier(t PlanTier) bool {
	for _, v := range ValidPlanTiers {
		if v == t {
			return true
		}
	}
	return false
}

// Queue lanes
type Lane string

const (
	LaneStandard Lane = "standard"
	LanePriority Lane = "priority"
)

// Batch status
type BatchStatus string

const (
	BatchStatusQueued     BatchStatus = "queued"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusPartial    BatchStatus = "partial"
)

// Subtitle formats
type SubtitleFormat string

const (
	FormatSRT SubtitleFormat = "srt"
	FormatVTT SubtitleFormat = "vtt"
)
