package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/guntupalli09/videotools-sub000/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Admission   AdmissionConfig
	Queue       QueueConfig
	Watchdog    WatchdogConfig
	Upload      UploadConfig
	Cache       CacheConfig
	Partial     PartialConfig
	Batch       BatchConfig
	Webhook     WebhookConfig
	Plans       map[model.PlanTier]PlanConfig
	Media       MediaConfig
	Transcriber TranscriberConfig
	R2          R2Config
	Zitadel     ZitadelConfig
	Gateway     GatewayConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	WorkDir  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	// JobTokenTTL bounds how long an issued job token stays pollable.
	JobTokenTTL time.Duration
}

type AdmissionConfig struct {
	// UploadsPerWindow caps upload attempts per identity per window.
	UploadsPerWindow int
	Window           time.Duration
	SoftQueueLimit   int64
	HardQueueLimit   int64
}

type QueueConfig struct {
	StandardWorkers int
	PriorityWorkers int
	// PriorityReserveThreshold is the total backlog above which privileged
	// tiers route to the priority lane.
	PriorityReserveThreshold int64
	PollInterval             time.Duration
	JobTTL                   time.Duration
}

type WatchdogConfig struct {
	// ProgressTimeout kills an execution that produced no progress event.
	ProgressTimeout time.Duration
	// DeadlineCheckInterval is how often backlog depth is inspected.
	DeadlineCheckInterval time.Duration
	// BacklogThreshold is the depth above which runtime deadlines apply.
	BacklogThreshold int64
}

type UploadConfig struct {
	MaxChunks  int
	SessionTTL time.Duration
	// SweepInterval is how often orphaned chunk directories are reaped.
	SweepInterval time.Duration
}

type CacheConfig struct {
	// TTL bounds dedup-cache staleness. 0 disables the cache entirely.
	TTL time.Duration
}

type PartialConfig struct {
	TTL time.Duration
	// ChunkSeconds is the audio segment length for parallel transcription.
	ChunkSeconds int
}

type BatchConfig struct {
	RecordTTL time.Duration
}

type WebhookConfig struct {
	Timeout time.Duration
}

// PlanConfig is the per-tier resource envelope.
type PlanConfig struct {
	FileSizeLimit int64 // bytes
	MaxDuration   time.Duration
	MaxRuntime    time.Duration
	Weight        int
	Privileged    bool
}

type MediaConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

type TranscriberConfig struct {
	ServiceURL string
	APIKey     string
	Timeout    time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("TRANSCRIBER_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.work_dir", "WORK_DIR")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.job_token_ttl_hours", "JOB_TOKEN_TTL_HOURS")
	_ = viper.BindEnv("admission.uploads_per_window", "ADMISSION_UPLOADS_PER_WINDOW")
	_ = viper.BindEnv("admission.window_seconds", "ADMISSION_WINDOW_SECONDS")
	_ = viper.BindEnv("admission.soft_queue_limit", "ADMISSION_SOFT_QUEUE_LIMIT")
	_ = viper.BindEnv("admission.hard_queue_limit", "ADMISSION_HARD_QUEUE_LIMIT")
	_ = viper.BindEnv("queue.standard_workers", "QUEUE_STANDARD_WORKERS")
	_ = viper.BindEnv("queue.priority_workers", "QUEUE_PRIORITY_WORKERS")
	_ = viper.BindEnv("queue.priority_reserve_threshold", "QUEUE_PRIORITY_RESERVE_THRESHOLD")
	_ = viper.BindEnv("queue.poll_interval_ms", "QUEUE_POLL_INTERVAL_MS")
	_ = viper.BindEnv("queue.job_ttl_hours", "QUEUE_JOB_TTL_HOURS")
	_ = viper.BindEnv("watchdog.progress_timeout_seconds", "WATCHDOG_PROGRESS_TIMEOUT_SECONDS")
	_ = viper.BindEnv("watchdog.deadline_check_seconds", "WATCHDOG_DEADLINE_CHECK_SECONDS")
	_ = viper.BindEnv("watchdog.backlog_threshold", "WATCHDOG_BACKLOG_THRESHOLD")
	_ = viper.BindEnv("upload.max_chunks", "UPLOAD_MAX_CHUNKS")
	_ = viper.BindEnv("upload.session_ttl_minutes", "UPLOAD_SESSION_TTL_MINUTES")
	_ = viper.BindEnv("upload.sweep_interval_minutes", "UPLOAD_SWEEP_INTERVAL_MINUTES")
	_ = viper.BindEnv("cache.ttl_days", "CACHE_TTL_DAYS")
	_ = viper.BindEnv("partial.ttl_minutes", "PARTIAL_TTL_MINUTES")
	_ = viper.BindEnv("partial.chunk_seconds", "PARTIAL_CHUNK_SECONDS")
	_ = viper.BindEnv("batch.record_ttl_hours", "BATCH_RECORD_TTL_HOURS")
	_ = viper.BindEnv("webhook.timeout_seconds", "WEBHOOK_TIMEOUT_SECONDS")
	_ = viper.BindEnv("media.service_url", "MEDIA_SERVICE_URL")
	_ = viper.BindEnv("media.timeout", "MEDIA_SERVICE_TIMEOUT")
	_ = viper.BindEnv("transcriber.service_url", "TRANSCRIBER_SERVICE_URL")
	_ = viper.BindEnv("transcriber.api_key", "TRANSCRIBER_API_KEY")
	_ = viper.BindEnv("transcriber.timeout", "TRANSCRIBER_TIMEOUT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.work_dir", "./data")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.job_token_ttl_hours", 24)
	viper.SetDefault("admission.uploads_per_window", 20)
	viper.SetDefault("admission.window_seconds", 60)
	viper.SetDefault("admission.soft_queue_limit", 50)
	viper.SetDefault("admission.hard_queue_limit", 200)
	viper.SetDefault("queue.standard_workers", 2)
	viper.SetDefault("queue.priority_workers", 1)
	viper.SetDefault("queue.priority_reserve_threshold", 5)
	viper.SetDefault("queue.poll_interval_ms", 200)
	viper.SetDefault("queue.job_ttl_hours", 24)
	viper.SetDefault("watchdog.progress_timeout_seconds", 90)
	viper.SetDefault("watchdog.deadline_check_seconds", 15)
	viper.SetDefault("watchdog.backlog_threshold", 10)
	viper.SetDefault("upload.max_chunks", 500)
	viper.SetDefault("upload.session_ttl_minutes", 120)
	viper.SetDefault("upload.sweep_interval_minutes", 30)
	viper.SetDefault("cache.ttl_days", 7)
	viper.SetDefault("partial.ttl_minutes", 60)
	viper.SetDefault("partial.chunk_seconds", 300)
	viper.SetDefault("batch.record_ttl_hours", 48)
	viper.SetDefault("webhook.timeout_seconds", 10)
	viper.SetDefault("media.service_url", "http://localhost:8084")
	viper.SetDefault("media.timeout", 600)
	viper.SetDefault("transcriber.service_url", "")
	viper.SetDefault("transcriber.timeout", 600)
	viper.SetDefault("gateway.enabled", false)

	// Plan defaults
	viper.SetDefault("plans.free.file_size_limit_mb", 500)
	viper.SetDefault("plans.free.max_duration_minutes", 60)
	viper.SetDefault("plans.free.max_runtime_minutes", 10)
	viper.SetDefault("plans.free.weight", 3)
	viper.SetDefault("plans.free.privileged", false)
	viper.SetDefault("plans.pro.file_size_limit_mb", 2048)
	viper.SetDefault("plans.pro.max_duration_minutes", 180)
	viper.SetDefault("plans.pro.max_runtime_minutes", 30)
	viper.SetDefault("plans.pro.weight", 2)
	viper.SetDefault("plans.pro.privileged", true)
	viper.SetDefault("plans.studio.file_size_limit_mb", 8192)
	viper.SetDefault("plans.studio.max_duration_minutes", 480)
	viper.SetDefault("plans.studio.max_runtime_minutes", 60)
	viper.SetDefault("plans.studio.weight", 1)
	viper.SetDefault("plans.studio.privileged", true)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
			WorkDir:  viper.GetString("server.work_dir"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:      viper.GetString("jwt.secret"),
			JobTokenTTL: time.Duration(viper.GetInt("jwt.job_token_ttl_hours")) * time.Hour,
		},
		Admission: AdmissionConfig{
			UploadsPerWindow: viper.GetInt("admission.uploads_per_window"),
			Window:           time.Duration(viper.GetInt("admission.window_seconds")) * time.Second,
			SoftQueueLimit:   viper.GetInt64("admission.soft_queue_limit"),
			HardQueueLimit:   viper.GetInt64("admission.hard_queue_limit"),
		},
		Queue: QueueConfig{
			StandardWorkers:          viper.GetInt("queue.standard_workers"),
			PriorityWorkers:          viper.GetInt("queue.priority_workers"),
			PriorityReserveThreshold: viper.GetInt64("queue.priority_reserve_threshold"),
			PollInterval:             time.Duration(viper.GetInt("queue.poll_interval_ms")) * time.Millisecond,
			JobTTL:                   time.Duration(viper.GetInt("queue.job_ttl_hours")) * time.Hour,
		},
		Watchdog: WatchdogConfig{
			ProgressTimeout:       time.Duration(viper.GetInt("watchdog.progress_timeout_seconds")) * time.Second,
			DeadlineCheckInterval: time.Duration(viper.GetInt("watchdog.deadline_check_seconds")) * time.Second,
			BacklogThreshold:      viper.GetInt64("watchdog.backlog_threshold"),
		},
		Upload: UploadConfig{
			MaxChunks:     viper.GetInt("upload.max_chunks"),
			SessionTTL:    time.Duration(viper.GetInt("upload.session_ttl_minutes")) * time.Minute,
			SweepInterval: time.Duration(viper.GetInt("upload.sweep_interval_minutes")) * time.Minute,
		},
		Cache: CacheConfig{
			TTL: time.Duration(viper.GetInt("cache.ttl_days")) * 24 * time.Hour,
		},
		Partial: PartialConfig{
			TTL:          time.Duration(viper.GetInt("partial.ttl_minutes")) * time.Minute,
			ChunkSeconds: viper.GetInt("partial.chunk_seconds"),
		},
		Batch: BatchConfig{
			RecordTTL: time.Duration(viper.GetInt("batch.record_ttl_hours")) * time.Hour,
		},
		Webhook: WebhookConfig{
			Timeout: time.Duration(viper.GetInt("webhook.timeout_seconds")) * time.Second,
		},
		Plans: map[model.PlanTier]PlanConfig{
			model.TierFree:   loadPlan("free"),
			model.TierPro:    loadPlan("pro"),
			model.TierStudio: loadPlan("studio"),
		},
		Media: MediaConfig{
			ServiceURL: viper.GetString("media.service_url"),
			Timeout:    time.Duration(viper.GetInt("media.timeout")) * time.Second,
		},
		Transcriber: TranscriberConfig{
			ServiceURL: viper.GetString("transcriber.service_url"),
			APIKey:     viper.GetString("transcriber.api_key"),
			Timeout:    time.Duration(viper.GetInt("transcriber.timeout")) * time.Second,
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}

func loadPlan(tier string) PlanConfig {
	return PlanConfig{
		FileSizeLimit: viper.GetInt64("plans."+tier+".file_size_limit_mb") * 1024 * 1024,
		MaxDuration:   time.Duration(viper.GetInt("plans."+tier+".max_duration_minutes")) * time.Minute,
		MaxRuntime:    time.Duration(viper.GetInt("plans."+tier+".max_runtime_minutes")) * time.Minute,
		Weight:        viper.GetInt("plans." + tier + ".weight"),
		Privileged:    viper.GetBool("plans." + tier + ".privileged"),
	}
}

// Plan returns the plan envelope for a tier, falling back to free.
func (c *Config) Plan(tier model.PlanTier) PlanConfig {
	if p, ok := c.Plans[tier]; ok {
		return p
	}
	return c.Plans[model.TierFree]
}
