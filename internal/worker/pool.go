// Package worker drains the two-lane job queue through a bounded pool and
// runs each job under the hung-task watchdog and the backlog-activated
// runtime deadline.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/queue"
	"github.com/guntupalli09/videotools-sub000/internal/service"
)

// Pool runs a fixed number of workers per lane. Lane capacity is the
// concurrency bound: a worker owns one execution from dequeue to terminal
// state (or requeue) before taking the next.
type Pool struct {
	queue   *queue.Queue
	jobs    *service.JobService
	exec    *Executor
	monitor *DeadlineMonitor
	cfg     config.QueueConfig

	wg sync.WaitGroup
}

// NewPool creates the pool. Workers do not run until Start.
func NewPool(q *queue.Queue, jobs *service.JobService, exec *Executor, monitor *DeadlineMonitor, cfg config.QueueConfig) *Pool {
	return &Pool{
		queue:   q,
		jobs:    jobs,
		exec:    exec,
		monitor: monitor,
		cfg:     cfg,
	}
}

// Start launches the lane workers and the deadline monitor. They run until
// ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.StandardWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, model.LaneStandard, i)
	}
	for i := 0; i < p.cfg.PriorityWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, model.LanePriority, i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.monitor.Run(ctx)
	}()

	log.Printf("[Worker] Pool started: %d standard, %d priority", p.cfg.StandardWorkers, p.cfg.PriorityWorkers)
}

// Wait blocks until all workers have drained after cancellation. In-flight
// executions finish; queued jobs stay queued for the next start.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, lane model.Lane, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.queue.Pop(ctx, lane)
		if err != nil {
			if err != queue.ErrEmpty {
				log.Printf("[Worker] %s/%d failed to pop: %v", lane, id, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.runOne(ctx, lane, id, jobID)
	}
}

func (p *Pool) runOne(ctx context.Context, lane model.Lane, id int, jobID string) {
	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		// Record expired or was never written; nothing to execute.
		log.Printf("[Worker] %s/%d dropped job %s: %v", lane, id, jobID, err)
		return
	}
	if job.Status.Terminal() {
		return
	}

	if err := p.jobs.MarkActive(ctx, job); err != nil {
		log.Printf("[Worker] %s/%d failed to activate job %s: %v", lane, id, jobID, err)
		return
	}

	log.Printf("[Worker] %s/%d executing job %s (%s, attempt %d)", lane, id, job.ID, job.Type, job.Attempts)
	p.exec.Execute(ctx, job)
}
