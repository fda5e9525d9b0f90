package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/partial"
	"github.com/guntupalli09/videotools-sub000/internal/queue"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

// JobService owns job records and the submission path: admission backlog
// checks, dedup lookup, lane routing and enqueueing.
type JobService struct {
	store     store.Store
	queue     *queue.Queue
	cache     *CacheService
	admission *Admission
	tokens    *JobTokens
	publisher *partial.Publisher
	cfg       *config.Config
}

func NewJobService(
	s store.Store,
	q *queue.Queue,
	cache *CacheService,
	admission *Admission,
	tokens *JobTokens,
	publisher *partial.Publisher,
	cfg *config.Config,
) *JobService {
	return &JobService{
		store:     s,
		queue:     q,
		cache:     cache,
		admission: admission,
		tokens:    tokens,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Submit validates and enqueues a single job.
func (s *JobService) Submit(ctx context.Context, ownerID string, tier model.PlanTier, req *model.SubmitJobRequest) (*model.SubmitJobResponse, error) {
	if !model.IsValidToolType(req.Tool) {
		return nil, ErrInvalidToolType
	}

	depth, err := s.queue.TotalDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}
	if s.admission.AtHardLimit(depth) {
		return nil, ErrQueueFull
	}

	contentHash := ""
	if h, err := HashFile(req.FilePath); err == nil {
		contentHash = h
	} else {
		log.Printf("[Jobs] content hash skipped for %s: %v", req.FileName, err)
	}

	job, err := s.createAndEnqueue(ctx, &newJob{
		OwnerID:     ownerID,
		Tier:        tier,
		Tool:        req.Tool,
		InputPath:   req.FilePath,
		InputName:   req.FileName,
		Options:     req.Options,
		WebhookURL:  req.WebhookURL,
		ContentHash: contentHash,
	})
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Mint(job.ID)
	if err != nil {
		return nil, err
	}

	return &model.SubmitJobResponse{
		JobID:    job.ID,
		Status:   job.Status,
		JobToken: token,
	}, nil
}

// SubmitUpload enqueues the job a completed chunked upload was destined for.
// The content hash was already computed during reassembly.
func (s *JobService) SubmitUpload(ctx context.Context, sess *model.UploadSession, assembledPath, contentHash string) (*model.UploadCompleteResponse, error) {
	job, err := s.createAndEnqueue(ctx, &newJob{
		OwnerID:     sess.OwnerID,
		Tier:        sess.Tier,
		Tool:        sess.Tool,
		InputPath:   assembledPath,
		InputName:   sess.FileName,
		Options:     sess.Options,
		WebhookURL:  sess.WebhookURL,
		ContentHash: contentHash,
	})
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Mint(job.ID)
	if err != nil {
		return nil, err
	}

	return &model.UploadCompleteResponse{
		JobID:    job.ID,
		Status:   job.Status,
		JobToken: token,
	}, nil
}

// SubmitBatchItem enqueues one item job of a batch fan-out.
func (s *JobService) SubmitBatchItem(ctx context.Context, ownerID string, tier model.PlanTier, tool model.ToolType, item model.BatchItem, options map[string]any, ref *model.BatchRef) (*model.Job, error) {
	contentHash := ""
	if h, err := HashFile(item.FilePath); err == nil {
		contentHash = h
	}

	return s.createAndEnqueue(ctx, &newJob{
		OwnerID:     ownerID,
		Tier:        tier,
		Tool:        tool,
		InputPath:   item.FilePath,
		InputName:   item.FileName,
		Options:     options,
		ContentHash: contentHash,
		Batch:       ref,
	})
}

// QueueDepth reports the current total backlog.
func (s *JobService) QueueDepth(ctx context.Context) (int64, error) {
	return s.queue.TotalDepth(ctx)
}

// Admission exposes the admission controller for callers gating bulk work.
func (s *JobService) Admission() *Admission {
	return s.admission
}

// newJob carries everything needed to create one job record.
type newJob struct {
	OwnerID     string
	Tier        model.PlanTier
	Tool        model.ToolType
	InputPath   string
	InputName   string
	Options     map[string]any
	WebhookURL  string
	ContentHash string
	Batch       *model.BatchRef
}

// createAndEnqueue builds the job record, short-circuits through the dedup
// cache, routes it to a lane and pushes it.
func (s *JobService) createAndEnqueue(ctx context.Context, in *newJob) (*model.Job, error) {
	plan := s.cfg.Plan(in.Tier)
	optionsHash := OptionsHash(in.Tool, in.Options)

	job := &model.Job{
		ID:          uuid.New().String(),
		Type:        in.Tool,
		OwnerID:     in.OwnerID,
		Tier:        in.Tier,
		Weight:      plan.Weight,
		Status:      model.JobStatusQueued,
		InputPath:   in.InputPath,
		InputName:   in.InputName,
		ContentHash: in.ContentHash,
		Options:     in.Options,
		OptionsHash: optionsHash,
		Batch:       in.Batch,
		WebhookURL:  in.WebhookURL,
		CreatedAt:   time.Now(),
	}

	// Dedup hit: enqueue a lightweight cached-result job that returns the
	// prior artifact without invoking any transform.
	if entry := s.cache.Lookup(ctx, in.OwnerID, in.ContentHash, in.Tool, optionsHash); entry != nil {
		job.CachedResult = &model.JobResult{
			OutputPath: entry.OutputPath,
			FileName:   entry.FileName,
			Cached:     true,
		}
		log.Printf("[Jobs] cache hit for job %s (tool=%s)", job.ID, job.Type)
	}

	depth, err := s.queue.TotalDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}
	job.Lane = queue.SelectLane(plan.Privileged, depth, s.cfg.Queue.PriorityReserveThreshold)

	if err := s.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if err := s.queue.Push(ctx, job.Lane, job.ID, job.Weight); err != nil {
		return nil, err
	}

	log.Printf("[Jobs] queued job %s (tool=%s lane=%s owner=%s)", job.ID, job.Type, job.Lane, job.OwnerID)
	return job, nil
}

// GetStatus assembles the polling view of a job: queue position while queued,
// partial fields while active if a record exists, result when done.
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.JobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Result:      job.Result,
		Error:       job.Error,
		NotCharged:  job.NotCharged,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}

	if job.Status == model.JobStatusQueued {
		if pos, err := s.queue.Position(ctx, job.Lane, job.ID); err == nil {
			resp.QueuePosition = &pos
		}
	}

	if job.Status == model.JobStatusActive {
		if rec, err := s.publisher.Get(ctx, job.ID); err == nil {
			resp.PartialVersion = &rec.Version
			resp.PartialSegments = rec.Segments
		}
	}

	return resp, nil
}

// GetResult returns the result payload of a completed job.
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}

	var result model.JobResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// MarkActive transitions a dequeued job into execution and counts the attempt.
func (s *JobService) MarkActive(ctx context.Context, job *model.Job) error {
	job.Status = model.JobStatusActive
	job.Attempts++
	now := time.Now()
	job.StartedAt = &now
	return s.SaveJob(ctx, job)
}

// UpdateProgress raises a job's progress. Lower values are ignored so
// reported progress is monotonically non-decreasing while active.
func (s *JobService) UpdateProgress(ctx context.Context, job *model.Job, progress int, step string) error {
	if progress < job.Progress {
		return nil
	}
	job.Progress = progress
	job.CurrentStep = step
	return s.SaveJob(ctx, job)
}

// Complete marks a job completed exactly once. A second terminal transition
// is a no-op.
func (s *JobService) Complete(ctx context.Context, job *model.Job, result *model.JobResult) error {
	if job.Status.Terminal() {
		return nil
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now
	return s.SaveJob(ctx, job)
}

// Fail marks a job failed exactly once.
func (s *JobService) Fail(ctx context.Context, job *model.Job, errMsg string, kind queue.ErrorKind, notCharged bool) error {
	if job.Status.Terminal() {
		return nil
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	job.ErrorKind = string(kind)
	job.NotCharged = notCharged
	now := time.Now()
	job.CompletedAt = &now
	return s.SaveJob(ctx, job)
}

// Requeue puts a failed attempt back on its lane for the retry. The job
// definition is unchanged; the whole operation is simply redone.
func (s *JobService) Requeue(ctx context.Context, job *model.Job) error {
	job.Status = model.JobStatusQueued
	job.Progress = 0
	job.CurrentStep = ""
	job.Error = nil
	job.ErrorKind = ""
	job.StartedAt = nil

	if err := s.SaveJob(ctx, job); err != nil {
		return err
	}
	return s.queue.Push(ctx, job.Lane, job.ID, job.Weight)
}

// SaveJob persists a job record with the configured retention.
func (s *JobService) SaveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, jobKey(job.ID), data, s.cfg.Queue.JobTTL)
}

// GetJob loads a job record.
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.store.Get(ctx, jobKey(jobID))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// Tokens exposes the job-token signer for handlers.
func (s *JobService) Tokens() *JobTokens {
	return s.tokens
}

// HashFile computes the full-file content digest used as the dedup key.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
