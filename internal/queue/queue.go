// Package queue implements the two-lane priority job queue. Each lane is a
// sorted set in the shared store; entries are ordered by plan weight first,
// enqueue time second, so a lower weight number is dequeued before an older
// heavier one and ties fall back to FIFO.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

// ErrEmpty is returned by Pop when the lane has no queued jobs.
var ErrEmpty = errors.New("queue: lane empty")

// weightSpan leaves room for ~285 years of millisecond timestamps per weight
// band while keeping scores exactly representable in a float64.
const weightSpan = 1e13

// Queue is the two-lane scheduler fed by the admission controller and
// drained by the worker pools.
type Queue struct {
	store store.Store
}

// New creates a queue over the shared store.
func New(s store.Store) *Queue {
	return &Queue{store: s}
}

func laneKey(lane model.Lane) string {
	return fmt.Sprintf("queue:lane:%s", lane)
}

// Push enqueues a job id onto a lane with its priority weight.
func (q *Queue) Push(ctx context.Context, lane model.Lane, jobID string, weight int) error {
	score := float64(weight)*weightSpan + float64(time.Now().UnixMilli())
	if err := q.store.ZAdd(ctx, laneKey(lane), score, jobID); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Pop dequeues the next job id from a lane, or ErrEmpty.
func (q *Queue) Pop(ctx context.Context, lane model.Lane) (string, error) {
	jobID, err := q.store.ZPopMin(ctx, laneKey(lane))
	if err == store.ErrNotFound {
		return "", ErrEmpty
	}
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// Remove drops a queued job id from a lane.
func (q *Queue) Remove(ctx context.Context, lane model.Lane, jobID string) error {
	return q.store.ZRem(ctx, laneKey(lane), jobID)
}

// Depth returns the number of queued jobs in one lane.
func (q *Queue) Depth(ctx context.Context, lane model.Lane) (int64, error) {
	return q.store.ZCard(ctx, laneKey(lane))
}

// TotalDepth returns the backlog across both lanes.
func (q *Queue) TotalDepth(ctx context.Context) (int64, error) {
	std, err := q.Depth(ctx, model.LaneStandard)
	if err != nil {
		return 0, err
	}
	pri, err := q.Depth(ctx, model.LanePriority)
	if err != nil {
		return 0, err
	}
	return std + pri, nil
}

// Position returns the zero-based position of a queued job within its lane,
// or store.ErrNotFound once it has been dequeued.
func (q *Queue) Position(ctx context.Context, lane model.Lane, jobID string) (int64, error) {
	return q.store.ZRank(ctx, laneKey(lane), jobID)
}

// SelectLane decides the lane for a new job. Privileged tiers only use the
// priority lane once the total backlog crosses the reservation threshold, so
// idle capacity is never reserved.
func SelectLane(privileged bool, totalDepth, reserveThreshold int64) model.Lane {
	if privileged && totalDepth > reserveThreshold {
		return model.LanePriority
	}
	return model.LaneStandard
}
