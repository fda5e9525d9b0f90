package service

import (
	"testing"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/partial"
	"github.com/guntupalli09/videotools-sub000/internal/queue"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{WorkDir: t.TempDir()},
		JWT:    config.JWTConfig{Secret: "test-secret", JobTokenTTL: time.Hour},
		Admission: config.AdmissionConfig{
			UploadsPerWindow: 100,
			Window:           time.Minute,
			SoftQueueLimit:   50,
			HardQueueLimit:   100,
		},
		Queue: config.QueueConfig{
			StandardWorkers:          2,
			PriorityWorkers:          1,
			PriorityReserveThreshold: 5,
			PollInterval:             10 * time.Millisecond,
			JobTTL:                   time.Hour,
		},
		Watchdog: config.WatchdogConfig{
			ProgressTimeout:       time.Second,
			DeadlineCheckInterval: 10 * time.Millisecond,
			BacklogThreshold:      10,
		},
		Upload:  config.UploadConfig{MaxChunks: 10, SessionTTL: time.Hour, SweepInterval: time.Hour},
		Cache:   config.CacheConfig{TTL: time.Hour},
		Partial: config.PartialConfig{TTL: time.Hour, ChunkSeconds: 300},
		Batch:   config.BatchConfig{RecordTTL: time.Hour},
		Webhook: config.WebhookConfig{Timeout: time.Second},
		Plans: map[model.PlanTier]config.PlanConfig{
			model.TierFree:   {FileSizeLimit: 1 << 20, MaxDuration: time.Hour, MaxRuntime: 10 * time.Minute, Weight: 3},
			model.TierPro:    {FileSizeLimit: 10 << 20, MaxDuration: 4 * time.Hour, MaxRuntime: 30 * time.Minute, Weight: 2, Privileged: true},
			model.TierStudio: {FileSizeLimit: 100 << 20, MaxDuration: 12 * time.Hour, MaxRuntime: time.Hour, Weight: 1, Privileged: true},
		},
	}
}

// testStack wires services over a fresh in-memory store.
type testStack struct {
	store     store.Store
	queue     *queue.Queue
	cfg       *config.Config
	jobs      *JobService
	uploads   *UploadService
	batches   *BatchService
	cache     *CacheService
	admission *Admission
	publisher *partial.Publisher
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	cfg := testConfig(t)
	st := store.NewMemoryStore()
	q := queue.New(st)
	admission := NewAdmission(st, cfg.Admission)
	cache := NewCacheService(st, cfg.Cache.TTL)
	tokens := NewJobTokens(cfg.JWT.Secret, cfg.JWT.JobTokenTTL)
	publisher := partial.NewPublisher(st, cfg.Partial.TTL, nil)
	jobs := NewJobService(st, q, cache, admission, tokens, publisher, cfg)

	return &testStack{
		store:     st,
		queue:     q,
		cfg:       cfg,
		jobs:      jobs,
		uploads:   NewUploadService(st, jobs, cfg),
		batches:   NewBatchService(st, jobs, cfg),
		cache:     cache,
		admission: admission,
		publisher: publisher,
	}
}
