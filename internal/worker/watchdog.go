package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/queue"
)

// ErrHungTask is returned when an execution makes no progress for the
// configured window.
var ErrHungTask = errors.New("task made no progress within the watchdog window")

// ErrDeadlineExceeded is returned when a backlog-activated runtime deadline
// fires for an execution.
var ErrDeadlineExceeded = errors.New("task exceeded its runtime deadline")

// deadlineHandle tracks one active execution. The deadline is unset until the
// monitor arms it; it can be armed and disarmed while the execution runs.
type deadlineHandle struct {
	startedAt  time.Time
	maxRuntime time.Duration

	mu       sync.Mutex
	deadline time.Time
}

func (h *deadlineHandle) arm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deadline.IsZero() {
		h.deadline = h.startedAt.Add(h.maxRuntime)
	}
}

func (h *deadlineHandle) disarm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deadline = time.Time{}
}

func (h *deadlineHandle) exceeded(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.deadline.IsZero() && now.After(h.deadline)
}

// DeadlineMonitor arms per-execution runtime deadlines when the queue backlog
// crosses the configured threshold and disarms them when it recedes. An
// execution that started under light load keeps its grace if the backlog
// grows: the armed deadline is always measured from its own start time.
type DeadlineMonitor struct {
	queue *queue.Queue
	cfg   config.WatchdogConfig

	mu     sync.Mutex
	active map[string]*deadlineHandle
}

// NewDeadlineMonitor creates a monitor over the given queue.
func NewDeadlineMonitor(q *queue.Queue, cfg config.WatchdogConfig) *DeadlineMonitor {
	return &DeadlineMonitor{
		queue:  q,
		cfg:    cfg,
		active: make(map[string]*deadlineHandle),
	}
}

// Register tracks a newly started execution and returns its handle.
func (m *DeadlineMonitor) Register(jobID string, maxRuntime time.Duration) *deadlineHandle {
	h := &deadlineHandle{startedAt: time.Now(), maxRuntime: maxRuntime}
	m.mu.Lock()
	m.active[jobID] = h
	m.mu.Unlock()
	return h
}

// Unregister forgets a finished execution.
func (m *DeadlineMonitor) Unregister(jobID string) {
	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()
}

// Run polls the backlog until ctx is cancelled.
func (m *DeadlineMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.DeadlineCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *DeadlineMonitor) sweep(ctx context.Context) {
	depth, err := m.queue.TotalDepth(ctx)
	if err != nil {
		log.Printf("[Watchdog] failed to read queue depth: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.active {
		if depth > m.cfg.BacklogThreshold {
			h.arm()
		} else {
			h.disarm()
		}
	}
}

// operation is a cancellable unit of work that reports progress.
type operation func(ctx context.Context, progress func(int)) error

// runGuarded runs op under the hung-task watchdog and the deadline handle.
// Progress reports reset the hung timer. When either guard fires, op's
// context is cancelled and runGuarded waits for it to return before
// reporting the guard's error, so the worker slot is only released once the
// losing goroutine is reaped.
func runGuarded(ctx context.Context, progressTimeout time.Duration, handle *deadlineHandle, onProgress func(int), op operation) error {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	progressCh := make(chan int, 64)
	errCh := make(chan error, 1)

	go func() {
		errCh <- op(opCtx, func(p int) {
			select {
			case progressCh <- p:
			default:
			}
		})
	}()

	hung := time.NewTimer(progressTimeout)
	defer hung.Stop()
	deadlineTick := time.NewTicker(time.Second)
	defer deadlineTick.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case p := <-progressCh:
			if !hung.Stop() {
				select {
				case <-hung.C:
				default:
				}
			}
			hung.Reset(progressTimeout)
			if onProgress != nil {
				onProgress(p)
			}
		case <-hung.C:
			cancel()
			<-errCh
			return ErrHungTask
		case <-deadlineTick.C:
			if handle != nil && handle.exceeded(time.Now()) {
				cancel()
				<-errCh
				return ErrDeadlineExceeded
			}
		}
	}
}
