package partial

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

func seg(start float64, text string) model.Segment {
	return model.Segment{Start: start, End: start + 1, Text: text}
}

func TestPublishContiguousPrefixOnly(t *testing.T) {
	st := store.NewMemoryStore()
	p := NewPublisher(st, time.Minute, nil)
	ctx := context.Background()

	w := p.StartWriter("job-1")

	// Chunk 2 arrives first; nothing may be published until 0 and 1 land.
	w.Submit(2, []model.Segment{seg(20, "c")})

	// The writer goroutine processes submissions asynchronously; give it a
	// beat, then confirm no record exists.
	time.Sleep(20 * time.Millisecond)
	if _, err := p.Get(ctx, "job-1"); err != store.ErrNotFound {
		t.Fatalf("expected no record before prefix completes, got %v", err)
	}

	w.Submit(0, []model.Segment{seg(0, "a")})
	w.Submit(1, []model.Segment{seg(10, "b")})
	w.Close(ctx, false)

	rec, err := p.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("expected record after close, got %v", err)
	}
	if len(rec.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(rec.Segments))
	}
	for i, want := range []string{"a", "b", "c"} {
		if rec.Segments[i].Text != want {
			t.Errorf("segment %d: expected %s, got %s", i, want, rec.Segments[i].Text)
		}
	}
}

func TestVersionIncreasesPerPublish(t *testing.T) {
	st := store.NewMemoryStore()

	var mu sync.Mutex
	var versions []int64
	notify := func(jobID string, version int64, segments []model.Segment) {
		mu.Lock()
		versions = append(versions, version)
		mu.Unlock()
	}

	p := NewPublisher(st, time.Minute, notify)
	w := p.StartWriter("job-2")

	w.Submit(0, []model.Segment{seg(0, "a")})
	w.Submit(1, []model.Segment{seg(10, "b")})
	w.Close(context.Background(), false)

	mu.Lock()
	defer mu.Unlock()
	if len(versions) == 0 {
		t.Fatal("expected at least one publish")
	}
	prev := int64(0)
	for _, v := range versions {
		if v <= prev {
			t.Errorf("versions must strictly increase, got %v", versions)
		}
		prev = v
	}
}

func TestOutOfOrderBurstPublishesOnce(t *testing.T) {
	st := store.NewMemoryStore()

	var mu sync.Mutex
	published := 0
	p := NewPublisher(st, time.Minute, func(string, int64, []model.Segment) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	w := p.StartWriter("job-3")
	// All later chunks land before chunk 0. Once 0 arrives the whole prefix
	// extends in one publish.
	w.Submit(1, []model.Segment{seg(10, "b")})
	w.Submit(2, []model.Segment{seg(20, "c")})
	w.Submit(0, []model.Segment{seg(0, "a")})
	w.Close(context.Background(), false)

	mu.Lock()
	defer mu.Unlock()
	if published != 1 {
		t.Errorf("expected exactly one publish, got %d", published)
	}
}

func TestCloseSuccessDeletesRecord(t *testing.T) {
	st := store.NewMemoryStore()
	p := NewPublisher(st, time.Minute, nil)
	ctx := context.Background()

	w := p.StartWriter("job-4")
	w.Submit(0, []model.Segment{seg(0, "a")})
	w.Close(ctx, true)

	if _, err := p.Get(ctx, "job-4"); err != store.ErrNotFound {
		t.Errorf("expected record deleted on success, got %v", err)
	}
}

func TestConcurrentSubmitOrdering(t *testing.T) {
	st := store.NewMemoryStore()
	p := NewPublisher(st, time.Minute, nil)
	ctx := context.Background()

	const n = 10
	w := p.StartWriter("job-5")

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Submit(i, []model.Segment{seg(float64(i*10), "s")})
		}(i)
	}
	wg.Wait()
	w.Close(ctx, false)

	rec, err := p.Get(ctx, "job-5")
	if err != nil {
		t.Fatalf("expected record, got %v", err)
	}
	if len(rec.Segments) != n {
		t.Fatalf("expected %d segments, got %d", n, len(rec.Segments))
	}
	for i := 1; i < len(rec.Segments); i++ {
		if rec.Segments[i].Start < rec.Segments[i-1].Start {
			t.Errorf("segments out of order at %d", i)
		}
	}
}
