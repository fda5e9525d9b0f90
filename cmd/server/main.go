package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/guntupalli09/videotools-sub000/internal/auth"
	"github.com/guntupalli09/videotools-sub000/internal/client"
	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/handler"
	"github.com/guntupalli09/videotools-sub000/internal/middleware"
	"github.com/guntupalli09/videotools-sub000/internal/notify"
	"github.com/guntupalli09/videotools-sub000/internal/partial"
	"github.com/guntupalli09/videotools-sub000/internal/queue"
	"github.com/guntupalli09/videotools-sub000/internal/service"
	"github.com/guntupalli09/videotools-sub000/internal/store"
	"github.com/guntupalli09/videotools-sub000/internal/worker"
	ws "github.com/guntupalli09/videotools-sub000/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Initialize Redis; fall back to the in-memory store when unavailable so
	// the service still comes up in development.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var st store.Store
	redisOK := redisClient.Ping(ctx).Err() == nil
	if redisOK {
		st = store.NewRedisStore(redisClient)
	} else {
		log.Printf("Warning: Redis not available at %s, using in-memory store", cfg.Redis.Addr)
		st = store.NewMemoryStore()
	}

	// Asynq rides the same Redis; without it webhooks deliver in-process.
	var asynqClient *asynq.Client
	if redisOK {
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
	}

	validate := validator.New()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// External clients. Unconfigured clients fall back to mocks; R2 is
	// all-or-nothing.
	mediaClient := client.NewMediaClient(&cfg.Media)
	transcriberClient := client.NewTranscriberClient(&cfg.Transcriber)
	usageRecorder := client.NewLogUsageRecorder()

	var storageClient client.StorageClient
	if r2, err := client.NewR2Client(&cfg.R2); err != nil {
		log.Printf("Warning: object storage disabled: %v", err)
	} else {
		storageClient = r2
	}

	var verifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		v, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verification disabled: %v", err)
		} else {
			verifier = v
			defer v.Close()
		}
	}

	// Core services
	q := queue.New(st)
	admission := service.NewAdmission(st, cfg.Admission)
	cache := service.NewCacheService(st, cfg.Cache.TTL)
	tokens := service.NewJobTokens(cfg.JWT.Secret, cfg.JWT.JobTokenTTL)
	publisher := partial.NewPublisher(st, cfg.Partial.TTL, hub.BroadcastPartial)

	jobService := service.NewJobService(st, q, cache, admission, tokens, publisher, cfg)
	uploadService := service.NewUploadService(st, jobService, cfg)
	batchService := service.NewBatchService(st, jobService, cfg)

	notifier := notify.NewNotifier(asynqClient, cfg.Webhook.Timeout)

	// Worker pool
	monitor := worker.NewDeadlineMonitor(q, cfg.Watchdog)
	executor := worker.NewExecutor(
		jobService, batchService, cache,
		mediaClient, transcriberClient, storageClient, usageRecorder,
		publisher, notifier, monitor, hub, cfg,
	)
	pool := worker.NewPool(q, jobService, executor, monitor, cfg.Queue)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	pool.Start(workerCtx)

	// Webhook delivery server
	if redisOK {
		go startWebhookServer(cfg)
	}

	// Orphaned chunk-directory janitor
	go func() {
		ticker := time.NewTicker(cfg.Upload.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				uploadService.SweepOrphans(workerCtx)
			}
		}
	}()

	// Handlers
	jobHandler := handler.NewJobHandler(jobService, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)
	batchHandler := handler.NewBatchHandler(batchService, validate)

	identity := middleware.NewIdentity(verifier, cfg.Gateway.Enabled)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    64 * 1024 * 1024, // raw chunk bodies
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-User-Id,X-User-Plan",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok", "redis": redisOK}
		if mediaClient.IsConfigured() {
			status["media"] = mediaClient.HealthCheck(c.Context()) == nil
		}
		return c.JSON(status)
	})

	// API routes
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

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		if id, err := tokens.Verify(c.Query("token")); err != nil || id != jobID {
			c.Close()
			return
		}
		hub.HandleConnection(c, jobID)
	}))

	// Graceful shutdown: stop accepting requests, then drain in-flight
	// executions. Queued jobs survive in the store for the next start.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		stopWorkers()
		pool.Wait()
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWebhookServer(cfg *config.Config) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				notify.WebhookQueue: 1,
			},
		},
	)

	webhookWorker := notify.NewWorker(cfg.Webhook.Timeout)

	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TaskTypeWebhook, webhookWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
