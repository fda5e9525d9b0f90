package service

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/guntupalli09/videotools-sub000/internal/model"
)

func submitBatch(t *testing.T, ts *testStack, n int) *model.SubmitBatchResponse {
	t.Helper()
	items := make([]model.BatchItem, n)
	for i := range items {
		name := fmt.Sprintf("clip%d.mp4", i)
		items[i] = model.BatchItem{
			FilePath: writeInput(t, ts.cfg.Server.WorkDir, name, name+"-bytes"),
			FileName: name,
		}
	}
	resp, err := ts.batches.Submit(context.Background(), "u1", model.TierFree, &model.SubmitBatchRequest{
		Tool:  model.ToolCompress,
		Items: items,
	})
	if err != nil {
		t.Fatalf("batch submit failed: %v", err)
	}
	return resp
}

// writeItemArtifact simulates a worker having written one item's output.
func writeItemArtifact(t *testing.T, ts *testStack, batchID string, position int, name string) {
	t.Helper()
	dir := filepath.Join(ts.cfg.Server.WorkDir, "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create artifact dir: %v", err)
	}
	path := filepath.Join(dir, ItemArtifactPrefix(batchID, position)+name)
	if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
}

func TestBatchSubmitFansOut(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	resp := submitBatch(t, ts, 3)

	if resp.Total != 3 || len(resp.JobIDs) != 3 {
		t.Fatalf("expected 3 item jobs, got total=%d jobs=%d", resp.Total, len(resp.JobIDs))
	}
	if resp.Status != model.BatchStatusProcessing {
		t.Errorf("expected processing, got %s", resp.Status)
	}

	depth, _ := ts.queue.TotalDepth(ctx)
	if depth != 3 {
		t.Errorf("expected queue depth 3, got %d", depth)
	}

	for i, id := range resp.JobIDs {
		job, err := ts.jobs.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("item job %d missing: %v", i, err)
		}
		if job.Batch == nil || job.Batch.BatchID != resp.BatchID || job.Batch.Position != i {
			t.Errorf("item %d has bad batch ref: %+v", i, job.Batch)
		}
	}
}

func TestBatchSubmitShedsAtSoftLimit(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	for i := int64(0); i < ts.cfg.Admission.SoftQueueLimit; i++ {
		ts.queue.Push(ctx, model.LaneStandard, fmt.Sprintf("j%d", i), 2)
	}

	_, err := ts.batches.Submit(ctx, "u1", model.TierFree, &model.SubmitBatchRequest{
		Tool:  model.ToolCompress,
		Items: []model.BatchItem{{FilePath: "/tmp/nope", FileName: "a.mp4"}},
	})
	if err != ErrQueueFull {
		t.Errorf("expected ErrQueueFull at soft limit, got %v", err)
	}
}

func TestBatchStatusRequiresOwner(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	resp := submitBatch(t, ts, 2)

	if _, err := ts.batches.Status(ctx, "intruder", resp.BatchID); err != ErrNotOwner {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if _, err := ts.batches.Status(ctx, "u1", "no-such-batch"); err != ErrBatchNotFound {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestBatchAggregatesPartialOutcome(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	resp := submitBatch(t, ts, 5)

	// Three items succeed, two fail.
	for i, id := range resp.JobIDs {
		job, _ := ts.jobs.GetJob(ctx, id)
		if i < 3 {
			writeItemArtifact(t, ts, resp.BatchID, i, fmt.Sprintf("out%d.mp4", i))
			ts.batches.OnItemTerminal(ctx, job, true, "")
		} else {
			ts.batches.OnItemTerminal(ctx, job, false, "encode failed")
		}
	}

	status, err := ts.batches.Status(ctx, "u1", resp.BatchID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != model.BatchStatusPartial {
		t.Errorf("expected partial, got %s", status.Status)
	}
	if status.Progress.Completed != 3 || status.Progress.Failed != 2 {
		t.Errorf("bad counters: %+v", status.Progress)
	}
	if status.Progress.Percentage != 100 {
		t.Errorf("expected 100%%, got %f", status.Progress.Percentage)
	}
	if len(status.Errors) != 2 {
		t.Errorf("expected 2 recorded errors, got %d", len(status.Errors))
	}
	if status.ArchivePath == "" {
		t.Fatal("expected archive path")
	}

	zr, err := zip.OpenReader(status.ArchivePath)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer zr.Close()

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for i := 0; i < 3; i++ {
		want := ItemArtifactPrefix(resp.BatchID, i) + fmt.Sprintf("out%d.mp4", i)
		if !names[want] {
			t.Errorf("archive missing %s", want)
		}
	}
	if !names["error_log.txt"] {
		t.Error("archive missing error_log.txt")
	}
	if len(names) != 4 {
		t.Errorf("expected 4 archive entries, got %d", len(names))
	}
}

func TestBatchAllFailedSkipsArchive(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	resp := submitBatch(t, ts, 2)

	for _, id := range resp.JobIDs {
		job, _ := ts.jobs.GetJob(ctx, id)
		ts.batches.OnItemTerminal(ctx, job, false, "encode failed")
	}

	status, _ := ts.batches.Status(ctx, "u1", resp.BatchID)
	if status.Status != model.BatchStatusFailed {
		t.Errorf("expected failed, got %s", status.Status)
	}
	if status.ArchivePath != "" {
		t.Errorf("expected no archive, got %s", status.ArchivePath)
	}
}

func TestBatchFinalizesOnceUnderConcurrency(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	resp := submitBatch(t, ts, 8)

	for i := range resp.JobIDs {
		writeItemArtifact(t, ts, resp.BatchID, i, fmt.Sprintf("out%d.mp4", i))
	}

	var wg sync.WaitGroup
	for _, id := range resp.JobIDs {
		job, _ := ts.jobs.GetJob(ctx, id)
		wg.Add(1)
		go func(j *model.Job) {
			defer wg.Done()
			ts.batches.OnItemTerminal(ctx, j, true, "")
		}(job)
	}
	wg.Wait()

	status, err := ts.batches.Status(ctx, "u1", resp.BatchID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != model.BatchStatusCompleted {
		t.Errorf("expected completed, got %s", status.Status)
	}
	if status.Progress.Completed != 8 {
		t.Errorf("expected 8 completed, got %d", status.Progress.Completed)
	}
	if status.ArchivePath == "" {
		t.Fatal("expected archive path")
	}

	zr, err := zip.OpenReader(status.ArchivePath)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 8 {
		t.Errorf("expected 8 archive entries, got %d", len(zr.File))
	}
}

func TestBatchFailureAtCompletionBoundaryStaysTerminal(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	resp := submitBatch(t, ts, 2)
	writeItemArtifact(t, ts, resp.BatchID, 1, "out1.mp4")

	// One item fails while the other completes the batch. Whichever side
	// triggers finalization, the record must land terminal with the error
	// and the archive intact.
	jobs := make([]*model.Job, 2)
	for i, id := range resp.JobIDs {
		jobs[i], _ = ts.jobs.GetJob(ctx, id)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ts.batches.OnItemTerminal(ctx, jobs[0], false, "encode failed")
	}()
	go func() {
		defer wg.Done()
		ts.batches.OnItemTerminal(ctx, jobs[1], true, "")
	}()
	wg.Wait()

	status, err := ts.batches.Status(ctx, "u1", resp.BatchID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != model.BatchStatusPartial {
		t.Fatalf("expected partial, got %s", status.Status)
	}
	if len(status.Errors) != 1 || status.Errors[0].Position != 0 {
		t.Errorf("expected the item 0 error, got %+v", status.Errors)
	}
	if status.ArchivePath == "" {
		t.Error("expected archive path to survive the boundary failure")
	}
}

func TestBatchLateErrorDoesNotTouchFinalizedRecord(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	resp := submitBatch(t, ts, 1)
	writeItemArtifact(t, ts, resp.BatchID, 0, "out0.mp4")

	job, _ := ts.jobs.GetJob(ctx, resp.JobIDs[0])
	ts.batches.OnItemTerminal(ctx, job, true, "")

	// A straggling error write after finalization lands in its own key and
	// must not regress the terminal record.
	ts.batches.appendError(ctx, resp.BatchID, model.BatchError{Position: 0, Message: "stray"})

	status, err := ts.batches.Status(ctx, "u1", resp.BatchID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != model.BatchStatusCompleted {
		t.Errorf("expected completed, got %s", status.Status)
	}
	if len(status.Errors) != 0 {
		t.Errorf("expected no errors on the finalized record, got %+v", status.Errors)
	}
	if status.ArchivePath == "" {
		t.Error("expected archive path to survive")
	}
}
