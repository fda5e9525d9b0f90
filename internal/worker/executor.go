package worker

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/client"
	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/notify"
	"github.com/guntupalli09/videotools-sub000/internal/partial"
	"github.com/guntupalli09/videotools-sub000/internal/queue"
	"github.com/guntupalli09/videotools-sub000/internal/service"
)

// transcribeConcurrency bounds parallel chunk transcriptions per job.
const transcribeConcurrency = 3

// Broadcaster pushes live job events to connected websocket clients.
type Broadcaster interface {
	BroadcastProgress(jobID string, progress int, step string)
	BroadcastComplete(jobID string, result *model.JobResult)
	BroadcastError(jobID string, message string)
}

// Executor runs one job end to end: validate, transform, persist the
// artifact, settle the terminal state and fire side effects.
type Executor struct {
	jobs        *service.JobService
	batches     *service.BatchService
	cache       *service.CacheService
	media       client.MediaProcessor
	transcriber client.Transcriber
	storage     client.StorageClient // nil when object storage is not configured
	usage       client.UsageRecorder
	publisher   *partial.Publisher
	notifier    *notify.Notifier
	monitor     *DeadlineMonitor
	hub         Broadcaster // nil when the websocket hub is disabled
	cfg         *config.Config
}

// NewExecutor wires the executor's collaborators.
func NewExecutor(
	jobs *service.JobService,
	batches *service.BatchService,
	cache *service.CacheService,
	media client.MediaProcessor,
	transcriber client.Transcriber,
	storage client.StorageClient,
	usage client.UsageRecorder,
	publisher *partial.Publisher,
	notifier *notify.Notifier,
	monitor *DeadlineMonitor,
	hub Broadcaster,
	cfg *config.Config,
) *Executor {
	return &Executor{
		jobs:        jobs,
		batches:     batches,
		cache:       cache,
		media:       media,
		transcriber: transcriber,
		storage:     storage,
		usage:       usage,
		publisher:   publisher,
		notifier:    notifier,
		monitor:     monitor,
		hub:         hub,
		cfg:         cfg,
	}
}

// validationError marks a failure of the job definition itself. Validation
// failures are never retried: the same input produces the same rejection.
type validationError struct {
	err error
}

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

func validationf(format string, args ...any) error {
	return &validationError{err: fmt.Errorf(format, args...)}
}

func classifyError(err error) queue.ErrorKind {
	var v *validationError
	switch {
	case errors.Is(err, ErrHungTask):
		return queue.KindHung
	case errors.Is(err, ErrDeadlineExceeded):
		return queue.KindDeadline
	case errors.As(err, &v):
		return queue.KindValidation
	default:
		return queue.KindTransient
	}
}

// stepTracker carries the current step label from the operation goroutine to
// the guard loop, which owns all job record writes during execution.
type stepTracker struct {
	mu sync.Mutex
	s  string
}

func (t *stepTracker) set(s string) {
	t.mu.Lock()
	t.s = s
	t.mu.Unlock()
}

func (t *stepTracker) get() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}

// Execute runs a job that has already been marked active. It never returns
// an error: every outcome is settled on the job record.
func (e *Executor) Execute(ctx context.Context, job *model.Job) {
	if job.CachedResult != nil {
		result := *job.CachedResult
		result.Cached = true
		log.Printf("[Executor] Job %s served from dedup cache", job.ID)
		e.succeed(ctx, job, &result, 0)
		return
	}

	info, err := e.media.Probe(ctx, job.InputPath)
	if err != nil {
		e.settleFailure(ctx, job, fmt.Errorf("failed to probe input: %w", err))
		return
	}

	plan := e.cfg.Plan(job.Tier)
	if info.Size > plan.FileSizeLimit {
		e.settleFailure(ctx, job, validationf("%w: input size %d on the %s plan", service.ErrSizeExceeded, info.Size, job.Tier))
		return
	}
	if mediaDuration(info) > plan.MaxDuration {
		e.settleFailure(ctx, job, validationf("%w: input duration %.0fs on the %s plan", service.ErrDurationExceeded, info.Duration, job.Tier))
		return
	}

	handle := e.monitor.Register(job.ID, plan.MaxRuntime)
	defer e.monitor.Unregister(job.ID)

	steps := &stepTracker{}
	var result *model.JobResult

	err = runGuarded(ctx, e.cfg.Watchdog.ProgressTimeout, handle,
		func(p int) {
			if err := e.jobs.UpdateProgress(ctx, job, p, steps.get()); err != nil {
				log.Printf("[Executor] Failed to save progress for job %s: %v", job.ID, err)
			}
			if e.hub != nil {
				e.hub.BroadcastProgress(job.ID, job.Progress, job.CurrentStep)
			}
		},
		func(opCtx context.Context, progress func(int)) error {
			var opErr error
			result, opErr = e.runTool(opCtx, job, steps, progress)
			return opErr
		})
	if err != nil {
		e.settleFailure(ctx, job, err)
		return
	}

	e.succeed(ctx, job, result, info.Duration)
}

func mediaDuration(info *client.MediaInfo) time.Duration {
	return time.Duration(info.Duration * float64(time.Second))
}

func (e *Executor) runTool(ctx context.Context, job *model.Job, steps *stepTracker, progress func(int)) (*model.JobResult, error) {
	if err := os.MkdirAll(e.artifactDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	switch job.Type {
	case model.ToolTranscribe, model.ToolSubtitle:
		return e.runTranscription(ctx, job, steps, progress)
	case model.ToolTranslate:
		return e.runTranslate(ctx, job, steps, progress)
	case model.ToolFix:
		return e.runFix(ctx, job, steps, progress)
	case model.ToolBurn:
		return e.runBurn(ctx, job, steps, progress)
	case model.ToolCompress:
		return e.runCompress(ctx, job, steps, progress)
	case model.ToolConvert:
		return e.runConvert(ctx, job, steps, progress)
	default:
		return nil, validationf("unsupported tool type: %s", job.Type)
	}
}

// runTranscription extracts fixed-duration audio chunks, transcribes them
// concurrently while streaming completed prefixes to the partial publisher,
// then renders the merged cue list as a subtitle file.
func (e *Executor) runTranscription(ctx context.Context, job *model.Job, steps *stepTracker, progress func(int)) (result *model.JobResult, err error) {
	steps.set("extracting audio")
	progress(5)

	chunks, err := e.media.ExtractAudioChunks(ctx, job.InputPath, e.cfg.Partial.ChunkSeconds, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to extract audio: %w", err)
	}
	if len(chunks) == 0 {
		return nil, validationf("input has no audio track")
	}
	progress(10)

	writer := e.publisher.StartWriter(job.ID)
	succeeded := false
	defer func() { writer.Close(context.Background(), succeeded) }()

	steps.set("transcribing audio")
	language, _ := optString(job.Options, "language")

	chunkCtx, cancelChunks := context.WithCancel(ctx)
	defer cancelChunks()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int32
	)
	sem := make(chan struct{}, transcribeConcurrency)
	results := make([][]model.Segment, len(chunks))

	for i, ch := range chunks {
		wg.Add(1)
		go func(i int, ch client.AudioChunk) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-chunkCtx.Done():
				return
			}
			defer func() { <-sem }()

			segs, terr := e.transcriber.TranscribeChunk(chunkCtx, ch.Path, ch.Offset, language)
			if terr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = terr
					cancelChunks()
				}
				mu.Unlock()
				return
			}

			results[i] = segs
			writer.Submit(i, segs)
			n := atomic.AddInt32(&done, 1)
			progress(10 + 60*int(n)/len(chunks))
		}(i, ch)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, fmt.Errorf("failed to transcribe audio: %w", firstErr)
	}

	steps.set("formatting subtitles")
	progress(80)

	merged := make([]model.Segment, 0, len(chunks)*4)
	for _, segs := range results {
		merged = append(merged, segs...)
	}

	format, _ := optString(job.Options, "format")
	path, err := e.writeSubtitleArtifact(job, merged, format)
	if err != nil {
		return nil, err
	}

	succeeded = true
	progress(95)
	return &model.JobResult{
		OutputPath: path,
		FileName:   filepath.Base(path),
		Segments:   merged,
	}, nil
}

// runTranslate rewrites an uploaded subtitle file into one or more target
// languages. Multiple targets produce a zip bundle.
func (e *Executor) runTranslate(ctx context.Context, job *model.Job, steps *stepTracker, progress func(int)) (*model.JobResult, error) {
	targets := optStringSlice(job.Options, "targetLanguages")
	if single, ok := optString(job.Options, "targetLanguage"); ok && len(targets) == 0 {
		targets = []string{single}
	}
	if len(targets) == 0 {
		return nil, validationf("no target language specified")
	}

	steps.set("parsing subtitles")
	segments, err := e.parseSubtitleInput(job)
	if err != nil {
		return nil, err
	}
	progress(10)

	steps.set("translating subtitles")
	base := baseNameNoExt(job.InputName)
	ext := subtitleExt(job.InputName)

	var paths []string
	for i, lang := range targets {
		translated, err := e.transcriber.Translate(ctx, segments, lang)
		if err != nil {
			return nil, fmt.Errorf("failed to translate to %s: %w", lang, err)
		}

		path := e.artifactPath(job, fmt.Sprintf("%s.%s%s", base, lang, ext))
		if err := writeSubtitleFile(path, translated); err != nil {
			return nil, err
		}
		paths = append(paths, path)
		progress(10 + 80*(i+1)/len(targets))
	}

	if len(paths) == 1 {
		return &model.JobResult{OutputPath: paths[0], FileName: filepath.Base(paths[0])}, nil
	}

	steps.set("bundling artifacts")
	bundle := e.artifactPath(job, base+"_translations.zip")
	if err := zipFiles(bundle, paths); err != nil {
		return nil, fmt.Errorf("failed to bundle translations: %w", err)
	}
	progress(95)
	return &model.JobResult{OutputPath: bundle, FileName: filepath.Base(bundle)}, nil
}

// runFix normalizes cue timings in an uploaded subtitle file.
func (e *Executor) runFix(ctx context.Context, job *model.Job, steps *stepTracker, progress func(int)) (*model.JobResult, error) {
	steps.set("parsing subtitles")
	segments, err := e.parseSubtitleInput(job)
	if err != nil {
		return nil, err
	}
	progress(30)

	steps.set("fixing cue timings")
	fixed := FixSegments(segments)
	if len(fixed) == 0 {
		return nil, validationf("no usable cues remain after fixing")
	}
	progress(70)

	path := e.artifactPath(job, baseNameNoExt(job.InputName)+"_fixed"+subtitleExt(job.InputName))
	if err := writeSubtitleFile(path, fixed); err != nil {
		return nil, err
	}
	progress(95)
	return &model.JobResult{OutputPath: path, FileName: filepath.Base(path), Segments: fixed}, nil
}

func (e *Executor) runBurn(ctx context.Context, job *model.Job, steps *stepTracker, progress func(int)) (*model.JobResult, error) {
	subtitlePath, ok := optString(job.Options, "subtitlePath")
	if !ok {
		return nil, validationf("burn requires a subtitlePath option")
	}
	if _, err := os.Stat(subtitlePath); err != nil {
		return nil, validationf("subtitle file not found: %s", filepath.Base(subtitlePath))
	}

	steps.set("burning subtitles")
	out := e.artifactPath(job, baseNameNoExt(job.InputName)+"_subtitled.mp4")
	if err := e.media.BurnSubtitles(ctx, job.InputPath, subtitlePath, out, scaleProgress(progress, 10, 90)); err != nil {
		return nil, fmt.Errorf("failed to burn subtitles: %w", err)
	}
	progress(95)
	return &model.JobResult{OutputPath: out, FileName: filepath.Base(out)}, nil
}

func (e *Executor) runCompress(ctx context.Context, job *model.Job, steps *stepTracker, progress func(int)) (*model.JobResult, error) {
	quality := optInt(job.Options, "quality", 28)
	if quality < 0 || quality > 51 {
		return nil, validationf("quality must be between 0 and 51")
	}

	steps.set("compressing video")
	out := e.artifactPath(job, baseNameNoExt(job.InputName)+"_compressed.mp4")
	if err := e.media.Compress(ctx, job.InputPath, out, quality, scaleProgress(progress, 10, 90)); err != nil {
		return nil, fmt.Errorf("failed to compress video: %w", err)
	}
	progress(95)
	return &model.JobResult{OutputPath: out, FileName: filepath.Base(out)}, nil
}

func (e *Executor) runConvert(ctx context.Context, job *model.Job, steps *stepTracker, progress func(int)) (*model.JobResult, error) {
	format, ok := optString(job.Options, "format")
	if !ok {
		return nil, validationf("convert requires a format option")
	}
	format = strings.TrimPrefix(strings.ToLower(format), ".")

	steps.set("converting media")
	out := e.artifactPath(job, fmt.Sprintf("%s.%s", baseNameNoExt(job.InputName), format))
	if err := e.media.Convert(ctx, job.InputPath, out, format, scaleProgress(progress, 10, 90)); err != nil {
		return nil, fmt.Errorf("failed to convert media: %w", err)
	}
	progress(95)
	return &model.JobResult{OutputPath: out, FileName: filepath.Base(out)}, nil
}

func (e *Executor) parseSubtitleInput(job *model.Job) ([]model.Segment, error) {
	f, err := os.Open(job.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	segments, err := ParseSubtitles(f)
	if err != nil {
		return nil, validationf("invalid subtitle file: %v", err)
	}
	return segments, nil
}

func (e *Executor) writeSubtitleArtifact(job *model.Job, segments []model.Segment, format string) (string, error) {
	if format != string(model.FormatVTT) {
		format = string(model.FormatSRT)
	}
	path := e.artifactPath(job, fmt.Sprintf("%s.%s", baseNameNoExt(job.InputName), format))
	return path, writeSubtitleFile(path, segments)
}

func writeSubtitleFile(path string, segments []model.Segment) error {
	var text string
	if strings.HasSuffix(path, ".vtt") {
		text = FormatVTT(segments)
	} else {
		text = FormatSRT(segments)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write subtitle file: %w", err)
	}
	return nil
}

// succeed settles a completed job: artifact upload, record transition, dedup
// cache fill, usage metering, batch callback, webhook and live broadcast.
func (e *Executor) succeed(ctx context.Context, job *model.Job, result *model.JobResult, mediaSeconds float64) {
	if result.OutputPath != "" && result.Size == 0 {
		if info, err := os.Stat(result.OutputPath); err == nil {
			result.Size = info.Size()
		}
	}

	if e.storage != nil && result.OutputPath != "" && !result.Cached {
		key := "artifacts/" + filepath.Base(result.OutputPath)
		url, err := e.storage.UploadFile(ctx, key, result.OutputPath, contentTypeFor(result.OutputPath))
		if err != nil {
			log.Printf("[Executor] Failed to upload artifact for job %s, serving locally: %v", job.ID, err)
		} else {
			result.DownloadURL = url
		}
	}

	if err := e.jobs.Complete(ctx, job, result); err != nil {
		log.Printf("[Executor] Failed to complete job %s: %v", job.ID, err)
		return
	}
	log.Printf("[Executor] Job %s completed (%s, cached=%t)", job.ID, job.Type, result.Cached)

	if !result.Cached {
		if job.ContentHash != "" && job.OptionsHash != "" {
			e.cache.Store(ctx, job.OwnerID, job.ContentHash, job.Type, job.OptionsHash, result.OutputPath, result.FileName)
		}
		if err := e.usage.Record(ctx, job.OwnerID, job.Type, mediaSeconds); err != nil {
			log.Printf("[Executor] Failed to record usage for job %s: %v", job.ID, err)
		}
	}

	if job.Batch != nil {
		e.batches.OnItemTerminal(ctx, job, true, "")
	}
	e.notifier.Notify(job.ID, model.JobStatusCompleted, job.Result, nil, job.WebhookURL)
	if e.hub != nil {
		e.hub.BroadcastComplete(job.ID, result)
	}
}

// settleFailure consults the retry policy, then either requeues the attempt
// or fails the job and fires its terminal side effects.
func (e *Executor) settleFailure(ctx context.Context, job *model.Job, cause error) {
	kind := classifyError(cause)

	if queue.ShouldRetry(job.Attempts, kind) {
		log.Printf("[Executor] Job %s attempt %d failed (%s), requeueing: %v", job.ID, job.Attempts, kind, cause)
		if err := e.jobs.Requeue(ctx, job); err != nil {
			log.Printf("[Executor] Failed to requeue job %s: %v", job.ID, err)
		} else {
			return
		}
	}

	msg := cause.Error()
	notCharged := kind == queue.KindDeadline
	if err := e.jobs.Fail(ctx, job, msg, kind, notCharged); err != nil {
		log.Printf("[Executor] Failed to fail job %s: %v", job.ID, err)
		return
	}
	log.Printf("[Executor] Job %s failed (%s): %s", job.ID, kind, msg)

	if job.Batch != nil {
		e.batches.OnItemTerminal(ctx, job, false, msg)
	}
	e.notifier.Notify(job.ID, model.JobStatusFailed, nil, &msg, job.WebhookURL)
	if e.hub != nil {
		e.hub.BroadcastError(job.ID, msg)
	}
}

func (e *Executor) artifactDir() string {
	return filepath.Join(e.cfg.Server.WorkDir, "artifacts")
}

// artifactPath names an output file. Batch items carry their batch prefix so
// archive generation can collect them by glob; standalone jobs are prefixed
// with a short job id to keep names unique.
func (e *Executor) artifactPath(job *model.Job, name string) string {
	if job.Batch != nil {
		return filepath.Join(e.artifactDir(), service.ItemArtifactPrefix(job.Batch.BatchID, job.Batch.Position)+name)
	}
	short := job.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(e.artifactDir(), fmt.Sprintf("%s_%s", short, name))
}

func scaleProgress(progress func(int), lo, hi int) client.ProgressFunc {
	return func(p int) {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		progress(lo + (hi-lo)*p/100)
	}
}

func optString(options map[string]any, key string) (string, bool) {
	v, ok := options[key].(string)
	return v, ok && v != ""
}

func optInt(options map[string]any, key string, def int) int {
	switch v := options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func optStringSlice(options map[string]any, key string) []string {
	raw, ok := options[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func baseNameNoExt(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" {
		base = "output"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func subtitleExt(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".vtt") {
		return ".vtt"
	}
	return ".srt"
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	case ".zip":
		return "application/zip"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

func zipFiles(dst string, files []string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.Base(path))
		if err != nil {
			f.Close()
			return err
		}
		if _, err := io.Copy(w, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	return zw.Close()
}
