package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/queue"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

func TestRunGuardedPassesThroughResult(t *testing.T) {
	opErr := errors.New("encode failed")
	err := runGuarded(context.Background(), time.Second, nil, nil, func(ctx context.Context, progress func(int)) error {
		return opErr
	})
	if err != opErr {
		t.Errorf("expected op error to pass through, got %v", err)
	}

	err = runGuarded(context.Background(), time.Second, nil, nil, func(ctx context.Context, progress func(int)) error {
		return nil
	})
	if err != nil {
		t.Errorf("expected nil for successful op, got %v", err)
	}
}

func TestRunGuardedForwardsProgress(t *testing.T) {
	var got []int
	err := runGuarded(context.Background(), time.Second, nil, func(p int) {
		got = append(got, p)
	}, func(ctx context.Context, progress func(int)) error {
		progress(10)
		progress(50)
		// Give the guard loop time to drain before returning.
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != 10 || got[1] != 50 {
		t.Errorf("progress reports lost or reordered: %v", got)
	}
}

func TestRunGuardedDetectsHungTask(t *testing.T) {
	cancelled := make(chan struct{})
	start := time.Now()
	err := runGuarded(context.Background(), 30*time.Millisecond, nil, nil, func(ctx context.Context, progress func(int)) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	if err != ErrHungTask {
		t.Fatalf("expected ErrHungTask, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("hung detection took too long")
	}

	select {
	case <-cancelled:
	default:
		t.Error("losing goroutine was not cancelled")
	}
}

func TestRunGuardedProgressResetsHungTimer(t *testing.T) {
	// The op runs well past the progress window but reports steadily.
	err := runGuarded(context.Background(), 60*time.Millisecond, nil, nil, func(ctx context.Context, progress func(int)) error {
		for i := 0; i < 5; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(30 * time.Millisecond):
				progress(i * 20)
			}
		}
		return nil
	})
	if err != nil {
		t.Errorf("steady progress must not trip the watchdog: %v", err)
	}
}

func TestRunGuardedDeadline(t *testing.T) {
	handle := &deadlineHandle{startedAt: time.Now().Add(-time.Hour), maxRuntime: time.Minute}
	handle.arm()

	err := runGuarded(context.Background(), time.Hour, handle, nil, func(ctx context.Context, progress func(int)) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != ErrDeadlineExceeded {
		t.Errorf("expected ErrDeadlineExceeded, got %v", err)
	}
}

func TestDeadlineHandleArmDisarm(t *testing.T) {
	h := &deadlineHandle{startedAt: time.Now().Add(-time.Hour), maxRuntime: time.Minute}

	if h.exceeded(time.Now()) {
		t.Error("unarmed handle must never be exceeded")
	}

	h.arm()
	if !h.exceeded(time.Now()) {
		t.Error("armed handle past its runtime must be exceeded")
	}

	h.disarm()
	if h.exceeded(time.Now()) {
		t.Error("disarmed handle must not be exceeded")
	}

	// The deadline is always measured from the execution's own start.
	fresh := &deadlineHandle{startedAt: time.Now(), maxRuntime: time.Hour}
	fresh.arm()
	if fresh.exceeded(time.Now()) {
		t.Error("armed handle within its runtime must not be exceeded")
	}
}

func TestMonitorArmsOnBacklog(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(st)
	m := NewDeadlineMonitor(q, config.WatchdogConfig{
		ProgressTimeout:       time.Second,
		DeadlineCheckInterval: 10 * time.Millisecond,
		BacklogThreshold:      3,
	})
	ctx := context.Background()

	h := m.Register("job-1", time.Minute)
	h.startedAt = time.Now().Add(-time.Hour)
	defer m.Unregister("job-1")

	m.sweep(ctx)
	if h.exceeded(time.Now()) {
		t.Fatal("deadline must stay unarmed below the backlog threshold")
	}

	for i := 0; i < 4; i++ {
		q.Push(ctx, model.LaneStandard, fmt.Sprintf("j%d", i), 2)
	}
	m.sweep(ctx)
	if !h.exceeded(time.Now()) {
		t.Fatal("deadline must arm once the backlog crosses the threshold")
	}

	for i := 0; i < 4; i++ {
		q.Pop(ctx, model.LaneStandard)
	}
	m.sweep(ctx)
	if h.exceeded(time.Now()) {
		t.Fatal("deadline must disarm when the backlog recedes")
	}
}
