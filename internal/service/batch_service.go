package service

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

// BatchService fans a batch submission out into independent item jobs and
// aggregates their terminal states. When every item is accounted for, exactly
// one archive pass bundles the successful artifacts plus an error log.
//
// The batch record is only ever written by Submit and by the lock-holding
// finalize pass. Item outcomes land in their own store keys (atomic counters,
// one error key per position), so concurrent terminal callbacks never
// read-modify-write the record itself.
type BatchService struct {
	store store.Store
	jobs  *JobService
	cfg   *config.Config
}

// NewBatchService creates the batch aggregator.
func NewBatchService(s store.Store, jobs *JobService, cfg *config.Config) *BatchService {
	return &BatchService{store: s, jobs: jobs, cfg: cfg}
}

func batchKey(id string) string          { return fmt.Sprintf("batch:%s", id) }
func batchProcessedKey(id string) string { return fmt.Sprintf("batch:%s:processed", id) }
func batchFailedKey(id string) string    { return fmt.Sprintf("batch:%s:failed", id) }
func batchArchiveLock(id string) string  { return fmt.Sprintf("batch:%s:archive", id) }

func batchErrorKey(id string, pos int) string { return fmt.Sprintf("batch:%s:err:%d", id, pos) }

// ItemArtifactPrefix is the naming convention tying per-item artifacts to
// their batch for archive collection.
func ItemArtifactPrefix(batchID string, position int) string {
	return fmt.Sprintf("batch_%s_item_%03d_", batchID, position)
}

// Submit validates a batch and fans it out into item jobs.
func (s *BatchService) Submit(ctx context.Context, ownerID string, tier model.PlanTier, req *model.SubmitBatchRequest) (*model.SubmitBatchResponse, error) {
	if !model.IsValidToolType(req.Tool) {
		return nil, ErrInvalidToolType
	}

	depth, err := s.jobs.QueueDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}
	// Bulk work is shed first: batches are rejected at the soft limit,
	// everything at the hard limit.
	if s.jobs.Admission().AtHardLimit(depth) || s.jobs.Admission().AtSoftLimit(depth) {
		return nil, ErrQueueFull
	}

	batch := &model.BatchJob{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Tier:      tier,
		Tool:      req.Tool,
		Total:     len(req.Items),
		Status:    model.BatchStatusProcessing,
		Options:   req.Options,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(s.cfg.Batch.RecordTTL),
	}

	for i, item := range req.Items {
		ref := &model.BatchRef{BatchID: batch.ID, Position: i, Total: batch.Total}
		job, err := s.jobs.SubmitBatchItem(ctx, ownerID, tier, req.Tool, item, req.Options, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to submit batch item %d: %w", i, err)
		}
		batch.JobIDs = append(batch.JobIDs, job.ID)
	}

	if err := s.saveBatch(ctx, batch); err != nil {
		return nil, err
	}

	log.Printf("[Batch] submitted batch %s (%d items, tool=%s)", batch.ID, batch.Total, batch.Tool)
	return &model.SubmitBatchResponse{
		BatchID: batch.ID,
		Status:  batch.Status,
		Total:   batch.Total,
		JobIDs:  batch.JobIDs,
	}, nil
}

// Status reports aggregate batch progress.
func (s *BatchService) Status(ctx context.Context, ownerID, batchID string) (*model.BatchStatusResponse, error) {
	batch, err := s.getBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	processed, failed := s.counters(ctx, batchID)
	done := processed + failed
	pct := 0.0
	if batch.Total > 0 {
		pct = float64(done) / float64(batch.Total) * 100
	}

	errs := batch.Errors
	if batch.Status == model.BatchStatusProcessing {
		// Item errors only reach the record at finalization; report them
		// live from their position keys until then.
		errs = s.loadErrors(ctx, batchID, batch.Total)
	}
	if errs == nil {
		errs = []model.BatchError{}
	}

	return &model.BatchStatusResponse{
		BatchID: batch.ID,
		Status:  batch.Status,
		Progress: model.BatchProgress{
			Total:      batch.Total,
			Completed:  int(processed),
			Failed:     int(failed),
			Percentage: pct,
		},
		Errors:      errs,
		ArchivePath: batch.ArchivePath,
	}, nil
}

// OnItemTerminal records one item job reaching a terminal state. It bumps
// the store-atomic counter, appends the error if any, and triggers the
// archive pass when the batch is fully accounted for.
func (s *BatchService) OnItemTerminal(ctx context.Context, job *model.Job, succeeded bool, errMsg string) {
	if job.Batch == nil {
		return
	}
	batchID := job.Batch.BatchID

	var done int64
	if succeeded {
		n, err := s.store.Incr(ctx, batchProcessedKey(batchID))
		if err != nil {
			log.Printf("[Batch] counter bump failed for %s: %v", batchID, err)
			return
		}
		_, f := s.counters(ctx, batchID)
		done = n + f
	} else {
		// The error is persisted before the counter moves, so whichever
		// callback observes the final count will find it.
		s.appendError(ctx, batchID, model.BatchError{
			Position: job.Batch.Position,
			FileName: job.InputName,
			Message:  errMsg,
		})
		n, err := s.store.Incr(ctx, batchFailedKey(batchID))
		if err != nil {
			log.Printf("[Batch] counter bump failed for %s: %v", batchID, err)
			return
		}
		p, _ := s.counters(ctx, batchID)
		done = p + n
	}

	if done > int64(job.Batch.Total) {
		// Counters must never exceed total; a duplicate terminal callback
		// would be the only way here.
		log.Printf("[Batch] counter overflow for %s: %d > %d", batchID, done, job.Batch.Total)
		return
	}
	if done == int64(job.Batch.Total) {
		s.finalize(ctx, batchID)
	}
}

// finalize runs the archive pass at most once, guarded by a store
// compare-and-set so concurrent boundary completions cannot double-generate.
func (s *BatchService) finalize(ctx context.Context, batchID string) {
	ok, err := s.store.SetNX(ctx, batchArchiveLock(batchID), []byte("1"), s.cfg.Batch.RecordTTL)
	if err != nil {
		log.Printf("[Batch] archive lock failed for %s: %v", batchID, err)
		return
	}
	if !ok {
		return
	}

	batch, err := s.getBatch(ctx, batchID)
	if err != nil {
		log.Printf("[Batch] finalize load failed for %s: %v", batchID, err)
		return
	}

	processed, failed := s.counters(ctx, batchID)
	batch.Processed = int(processed)
	batch.Failed = int(failed)
	batch.Errors = s.loadErrors(ctx, batchID, batch.Total)

	switch {
	case failed == 0:
		batch.Status = model.BatchStatusCompleted
	case processed == 0:
		batch.Status = model.BatchStatusFailed
	default:
		batch.Status = model.BatchStatusPartial
	}

	if processed > 0 {
		archivePath, err := s.generateArchive(batch)
		if err != nil {
			log.Printf("[Batch] archive generation failed for %s: %v", batchID, err)
		} else {
			batch.ArchivePath = archivePath
		}
	}

	if err := s.saveBatch(ctx, batch); err != nil {
		log.Printf("[Batch] finalize save failed for %s: %v", batchID, err)
		return
	}
	log.Printf("[Batch] batch %s finished: %s (%d ok, %d failed)", batchID, batch.Status, processed, failed)
}

// generateArchive collects every per-item artifact matched by the batch
// naming convention plus a plain-text error log when items failed.
func (s *BatchService) generateArchive(batch *model.BatchJob) (string, error) {
	artifactDir := filepath.Join(s.cfg.Server.WorkDir, "artifacts")
	pattern := filepath.Join(artifactDir, fmt.Sprintf("batch_%s_item_*", batch.ID))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	sort.Strings(matches)

	archivePath := filepath.Join(artifactDir, fmt.Sprintf("batch_%s.zip", batch.ID))
	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, m := range matches {
		if err := addFileToZip(zw, m, filepath.Base(m)); err != nil {
			zw.Close()
			return "", err
		}
	}

	if len(batch.Errors) > 0 {
		w, err := zw.Create("error_log.txt")
		if err != nil {
			zw.Close()
			return "", err
		}
		var b strings.Builder
		for _, e := range batch.Errors {
			fmt.Fprintf(&b, "item %d (%s): %s\n", e.Position, e.FileName, e.Message)
		}
		if _, err := io.WriteString(w, b.String()); err != nil {
			zw.Close()
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to close archive: %w", err)
	}
	return archivePath, nil
}

func addFileToZip(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open artifact %s: %w", name, err)
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// appendError records one item failure under its own position key. The
// batch record is left alone so a concurrent finalize cannot be clobbered.
func (s *BatchService) appendError(ctx context.Context, batchID string, e model.BatchError) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[Batch] error marshal failed for %s: %v", batchID, err)
		return
	}
	if err := s.store.Set(ctx, batchErrorKey(batchID, e.Position), data, s.cfg.Batch.RecordTTL); err != nil {
		log.Printf("[Batch] error append failed for %s: %v", batchID, err)
	}
}

// loadErrors collects per-position error records in item order. Positions are
// dense in [0, total), so a key scan is not needed.
func (s *BatchService) loadErrors(ctx context.Context, batchID string, total int) []model.BatchError {
	var errs []model.BatchError
	for i := 0; i < total; i++ {
		data, err := s.store.Get(ctx, batchErrorKey(batchID, i))
		if err != nil {
			continue
		}
		var e model.BatchError
		if err := json.Unmarshal(data, &e); err != nil {
			log.Printf("[Batch] error record corrupt for %s position %d: %v", batchID, i, err)
			continue
		}
		errs = append(errs, e)
	}
	return errs
}

func (s *BatchService) counters(ctx context.Context, batchID string) (processed, failed int64) {
	processed = s.readCounter(ctx, batchProcessedKey(batchID))
	failed = s.readCounter(ctx, batchFailedKey(batchID))
	return processed, failed
}

func (s *BatchService) readCounter(ctx context.Context, key string) int64 {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return 0
	}
	var n int64
	fmt.Sscanf(string(data), "%d", &n)
	return n
}

func (s *BatchService) saveBatch(ctx context.Context, batch *model.BatchJob) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, batchKey(batch.ID), data, s.cfg.Batch.RecordTTL)
}

func (s *BatchService) getBatch(ctx context.Context, batchID string) (*model.BatchJob, error) {
	data, err := s.store.Get(ctx, batchKey(batchID))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}

	var batch model.BatchJob
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}
