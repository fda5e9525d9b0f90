package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/guntupalli09/videotools-sub000/internal/client"
	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/handler"
	"github.com/guntupalli09/videotools-sub000/internal/middleware"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/notify"
	"github.com/guntupalli09/videotools-sub000/internal/partial"
	"github.com/guntupalli09/videotools-sub000/internal/queue"
	"github.com/guntupalli09/videotools-sub000/internal/service"
	"github.com/guntupalli09/videotools-sub000/internal/store"
	"github.com/guntupalli09/videotools-sub000/internal/worker"
	ws "github.com/guntupalli09/videotools-sub000/internal/websocket"
)

const testUser = "test-user-123"

// testApp holds all components needed for testing.
type testApp struct {
	app     *fiber.App
	cfg     *config.Config
	workDir string
}

// setupApp builds a Fiber app identical to main.go but over the in-memory
// store, with unconfigured external clients so every service uses its mock
// fallback. Gateway identity is enabled so tests authenticate with headers.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	workDir := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{WorkDir: workDir},
		JWT:    config.JWTConfig{Secret: "test-secret-for-e2e", JobTokenTTL: time.Hour},
		Admission: config.AdmissionConfig{
			UploadsPerWindow: 10000,
			Window:           time.Minute,
			SoftQueueLimit:   500,
			HardQueueLimit:   1000,
		},
		Queue: config.QueueConfig{
			StandardWorkers:          2,
			PriorityWorkers:          1,
			PriorityReserveThreshold: 100,
			PollInterval:             10 * time.Millisecond,
			JobTTL:                   time.Hour,
		},
		Watchdog: config.WatchdogConfig{
			ProgressTimeout:       5 * time.Second,
			DeadlineCheckInterval: 50 * time.Millisecond,
			BacklogThreshold:      100,
		},
		Upload:  config.UploadConfig{MaxChunks: 100, SessionTTL: time.Hour, SweepInterval: time.Hour},
		Cache:   config.CacheConfig{TTL: time.Hour},
		Partial: config.PartialConfig{TTL: time.Hour, ChunkSeconds: 300},
		Batch:   config.BatchConfig{RecordTTL: time.Hour},
		Webhook: config.WebhookConfig{Timeout: time.Second},
		Plans: map[model.PlanTier]config.PlanConfig{
			model.TierFree:   {FileSizeLimit: 10 << 20, MaxDuration: time.Hour, MaxRuntime: 10 * time.Minute, Weight: 3},
			model.TierPro:    {FileSizeLimit: 100 << 20, MaxDuration: 4 * time.Hour, MaxRuntime: 30 * time.Minute, Weight: 2, Privileged: true},
			model.TierStudio: {FileSizeLimit: 500 << 20, MaxDuration: 12 * time.Hour, MaxRuntime: time.Hour, Weight: 1, Privileged: true},
		},
		Gateway: config.GatewayConfig{Enabled: true},
	}

	st := store.NewMemoryStore()

	validate := validator.New()
	hub := ws.NewHub()
	go hub.Run()

	// Unconfigured clients fall back to mocks; storage stays nil.
	mediaClient := client.NewMediaClient(&cfg.Media)
	transcriberClient := client.NewTranscriberClient(&cfg.Transcriber)
	usageRecorder := client.NewLogUsageRecorder()

	q := queue.New(st)
	admission := service.NewAdmission(st, cfg.Admission)
	cache := service.NewCacheService(st, cfg.Cache.TTL)
	tokens := service.NewJobTokens(cfg.JWT.Secret, cfg.JWT.JobTokenTTL)
	publisher := partial.NewPublisher(st, cfg.Partial.TTL, hub.BroadcastPartial)

	jobService := service.NewJobService(st, q, cache, admission, tokens, publisher, cfg)
	uploadService := service.NewUploadService(st, jobService, cfg)
	batchService := service.NewBatchService(st, jobService, cfg)

	notifier := notify.NewNotifier(nil, cfg.Webhook.Timeout)

	monitor := worker.NewDeadlineMonitor(q, cfg.Watchdog)
	executor := worker.NewExecutor(
		jobService, batchService, cache,
		mediaClient, transcriberClient, nil, usageRecorder,
		publisher, notifier, monitor, hub, cfg,
	)
	pool := worker.NewPool(q, jobService, executor, monitor, cfg.Queue)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	pool.Start(workerCtx)
	t.Cleanup(func() {
		stopWorkers()
		pool.Wait()
	})

	jobHandler := handler.NewJobHandler(jobService, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)
	batchHandler := handler.NewBatchHandler(batchService, validate)

	identity := middleware.NewIdentity(nil, cfg.Gateway.Enabled)

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "redis": false})
	})

	api := app.Group("/api", identity.Resolve())

	jobs := api.Group("/jobs")
	jobs.Post("/", middleware.UploadLimit(admission), jobHandler.Submit)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)
	jobs.Get("/:jobId/download", jobHandler.Download)

	upload := api.Group("/upload")
	upload.Post("/init", middleware.UploadLimit(admission), uploadHandler.Init)
	upload.Put("/chunk", uploadHandler.Chunk)
	upload.Post("/:uploadId/complete", uploadHandler.Complete)

	batch := api.Group("/batch")
	batch.Post("/", middleware.UploadLimit(admission), batchHandler.Submit)
	batch.Get("/:batchId", batchHandler.Status)
	batch.Get("/:batchId/archive", batchHandler.Archive)

	return &testApp{app: app, cfg: cfg, workDir: workDir}
}

// writeMediaFile drops a fake input file into the work directory.
func writeMediaFile(t *testing.T, ta *testApp, name, content string) string {
	t.Helper()
	path := filepath.Join(ta.workDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write media file: %v", err)
	}
	return path
}

// gatewayHeaders authenticates a request as the given user via the trusted
// gateway headers.
func gatewayHeaders(user string) map[string]string {
	return map[string]string{
		"X-User-Id":   user,
		"X-User-Plan": "pro",
	}
}

// doRequest performs an HTTP request against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doUserRequest performs a request authenticated as testUser.
func doUserRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, gatewayHeaders(testUser))
}

// doRawPut sends a raw binary body, as chunk uploads do.
func doRawPut(app *fiber.App, path string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPut, path, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses a response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// waitForJob polls the status endpoint until the job reaches a terminal
// state or the deadline passes.
func waitForJob(t *testing.T, ta *testApp, jobID string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := doUserRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID, "")
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		body := parseJSON(t, resp)
		switch body["status"] {
		case string(model.JobStatusCompleted), string(model.JobStatusFailed):
			return body
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("job %s did not finish in time", jobID)
	return nil
}
