package client

import (
	"context"
	"log"

	"github.com/guntupalli09/videotools-sub000/internal/model"
)

// UsageRecorder is the external metering collaborator. Recording is a side
// effect of successful execution; not-charged failures skip it.
type UsageRecorder interface {
	Record(ctx context.Context, ownerID string, tool model.ToolType, mediaSeconds float64) error
}

// LogUsageRecorder logs usage events. Stands in for the billing service,
// which owns the real ledger.
type LogUsageRecorder struct{}

// NewLogUsageRecorder creates the logging recorder.
func NewLogUsageRecorder() *LogUsageRecorder {
	return &LogUsageRecorder{}
}

// Record logs one usage event.
func (r *LogUsageRecorder) Record(_ context.Context, ownerID string, tool model.ToolType, mediaSeconds float64) error {
	log.Printf("[Usage] owner=%s tool=%s seconds=%.1f", ownerID, tool, mediaSeconds)
	return nil
}
