// Package partial publishes in-progress transcription output to the shared
// ephemeral store. Producers (parallel chunk transcriptions) complete out of
// order; a single writer goroutine per job serializes every store write and
// only ever publishes the longest contiguous prefix of completed chunks, so
// readers never observe segments out of chronological order.
package partial

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

// Notify is called after each successful publish (e.g. to push over
// websocket). May be nil.
type Notify func(jobID string, version int64, segments []model.Segment)

// Publisher creates single-writer streams of partial results.
type Publisher struct {
	store  store.Store
	ttl    time.Duration
	notify Notify
}

// NewPublisher creates a publisher writing records with the given TTL.
func NewPublisher(s store.Store, ttl time.Duration, notify Notify) *Publisher {
	return &Publisher{store: s, ttl: ttl, notify: notify}
}

func recordKey(jobID string) string {
	return fmt.Sprintf("partial:%s", jobID)
}

// Get returns the current partial record for a job, if one exists.
func (p *Publisher) Get(ctx context.Context, jobID string) (*model.PartialResultRecord, error) {
	data, err := p.store.Get(ctx, recordKey(jobID))
	if err != nil {
		return nil, err
	}
	var rec model.PartialResultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type chunkResult struct {
	index    int
	segments []model.Segment
}

// Writer is the single-writer stream for one job. Any number of goroutines
// may call Submit; all store writes happen on the writer goroutine.
type Writer struct {
	jobID     string
	pub       *Publisher
	ch        chan chunkResult
	done      chan struct{}
	createdAt time.Time

	// Version lives in memory only, never read back from the store, so a
	// process restart cannot roll back version numbers observed by clients.
	version int64
}

// StartWriter spawns the writer goroutine for a job.
func (p *Publisher) StartWriter(jobID string) *Writer {
	w := &Writer{
		jobID:     jobID,
		pub:       p,
		ch:        make(chan chunkResult, 16),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	go w.run()
	return w
}

// Submit hands a completed chunk's segments to the writer. Safe to call from
// concurrent chunk transcriptions.
func (w *Writer) Submit(index int, segments []model.Segment) {
	w.ch <- chunkResult{index: index, segments: segments}
}

// Close stops the writer after draining pending snapshots. On success the
// record is removed from the store; on failure it is left to expire by TTL.
func (w *Writer) Close(ctx context.Context, success bool) {
	close(w.ch)
	<-w.done
	if success {
		if err := w.pub.store.Delete(ctx, recordKey(w.jobID)); err != nil {
			log.Printf("[Partial] failed to delete record for job %s: %v", w.jobID, err)
		}
	}
}

func (w *Writer) run() {
	defer close(w.done)

	completed := make(map[int][]model.Segment)
	var published []model.Segment
	next := 0

	for res := range w.ch {
		completed[res.index] = res.segments

		extended := false
		for {
			segs, ok := completed[next]
			if !ok {
				break
			}
			published = append(published, segs...)
			delete(completed, next)
			next++
			extended = true
		}
		if !extended {
			// A later chunk finished while an earlier one is still
			// pending; nothing publishable yet.
			continue
		}

		w.version++
		w.publish(published)
	}
}

func (w *Writer) publish(segments []model.Segment) {
	rec := model.PartialResultRecord{
		JobID:     w.jobID,
		Version:   w.version,
		Segments:  segments,
		CreatedAt: w.createdAt,
		UpdatedAt: time.Now(),
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		log.Printf("[Partial] failed to marshal record for job %s: %v", w.jobID, err)
		return
	}

	// Store failures are swallowed: the record is advisory and the job must
	// not fail because streaming did.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.pub.store.Set(ctx, recordKey(w.jobID), data, w.pub.ttl); err != nil {
		log.Printf("[Partial] failed to publish v%d for job %s: %v", w.version, w.jobID, err)
		return
	}

	if w.pub.notify != nil {
		w.pub.notify(w.jobID, rec.Version, rec.Segments)
	}
}
