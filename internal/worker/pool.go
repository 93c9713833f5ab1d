package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultPoll = 2 * time.Second

	recoverEvery = time.Minute
	// A job left 'running' this long belonged to a worker that died.
	stuckAfter = 5 * time.Minute

	// Bookkeeping after a handler returns gets its own deadline so a
	// shutdown mid-job still records the outcome.
	settleTimeout = 10 * time.Second
)

// Job outcomes, used as the metric label.
const (
	outcomeDone      = "done"
	outcomeFailed    = "failed"
	outcomeNoHandler = "no_handler"
)

// Pool claims jobs from the job_queue table and hands them to the handler
// registered for their queue. Each queue is polled by its own goroutine, which
// drains the backlog before sleeping again, so a bulk upload of documents is
// embedded back to back rather than one per tick.
type Pool struct {
	jobs     JobStore
	workerID string
	poll     time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Option configures a Pool.
type Option func(*Pool)

// WithPollInterval overrides how long an idle queue sleeps between claims.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithWorkerID sets the value written to locked_by. Defaults to a random UUID.
func WithWorkerID(id string) Option {
	return func(p *Pool) {
		if id != "" {
			p.workerID = id
		}
	}
}

// WithRegisterer exports askozzy_jobs_total and askozzy_job_duration_seconds
// on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) {
		p.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "askozzy_jobs_total",
			Help: "Background jobs processed, by queue and outcome.",
		}, []string{"queue", "outcome"})
		p.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "askozzy_job_duration_seconds",
			Help:    "Handler run time per background job.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"queue"})
		reg.MustRegister(p.outcomes, p.duration)
	}
}

// New creates a Pool over jobs.
func New(jobs JobStore, opts ...Option) *Pool {
	p := &Pool{
		jobs:     jobs,
		workerID: uuid.NewString(),
		poll:     defaultPoll,
		handlers: make(map[string]Handler),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Register binds h to queue. Must be called before Start.
func (p *Pool) Register(queue string, h Handler) {
	p.mu.Lock()
	p.handlers[queue] = h
	p.mu.Unlock()
}

// Start runs until ctx is cancelled. A job already handed to its handler
// finishes, and its outcome is recorded, before Start returns.
func (p *Pool) Start(ctx context.Context) {
	p.mu.RLock()
	queues := make([]string, 0, len(p.handlers))
	for q := range p.handlers {
		queues = append(queues, q)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(queues) + 1)
	for _, q := range queues {
		go func() {
			defer wg.Done()
			p.pollQueue(ctx, q)
		}()
	}
	go func() {
		defer wg.Done()
		p.recoverLoop(ctx)
	}()
	wg.Wait()
	slog.InfoContext(ctx, "worker pool stopped", "worker_id", p.workerID)
}

// StartBackground runs Start on its own goroutine. The returned stop cancels
// the pool and blocks until Start has returned, so a caller that closes the
// job store afterwards cannot cut off an in-flight job's bookkeeping.
func (p *Pool) StartBackground(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Start(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Pool) pollQueue(ctx context.Context, queue string) {
	slog.InfoContext(ctx, "polling queue", "queue", queue, "worker_id", p.workerID)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		n := p.drain(ctx, queue)
		if n > 1 {
			slog.DebugContext(ctx, "queue drained", "queue", queue, "jobs", n)
		}
		timer.Reset(p.poll)
	}
}

// drain processes jobs from queue until none is pending or ctx ends, and
// returns how many it claimed.
func (p *Pool) drain(ctx context.Context, queue string) int {
	n := 0
	for ctx.Err() == nil && p.processOne(ctx, queue) {
		n++
	}
	return n
}

// processOne claims and runs a single job. It reports whether a job was
// claimed; claim errors are logged and report false.
func (p *Pool) processOne(ctx context.Context, queue string) bool {
	job, err := p.jobs.ClaimJob(ctx, queue, p.workerID)
	if err != nil {
		if ctx.Err() == nil {
			slog.ErrorContext(ctx, "claim job", "queue", queue, "error", err)
		}
		return false
	}
	if job == nil {
		return false
	}

	p.mu.RLock()
	h := p.handlers[queue]
	p.mu.RUnlock()

	log := slog.With("queue", queue, "job_id", job.ID, "attempt", job.Attempts)
	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if h == nil {
		log.ErrorContext(ctx, "no handler for queue")
		p.fail(settle, log, job.ID, "no handler registered")
		p.count(queue, outcomeNoHandler)
		return true
	}

	start := time.Now()
	err = h(ctx, job.Payload)
	if p.duration != nil {
		p.duration.WithLabelValues(queue).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.WarnContext(ctx, "job failed", "error", err)
		p.fail(settle, log, job.ID, err.Error())
		p.count(queue, outcomeFailed)
		return true
	}
	if err := p.jobs.CompleteJob(settle, job.ID); err != nil {
		log.ErrorContext(ctx, "complete job", "error", err)
		return true
	}
	p.count(queue, outcomeDone)
	log.DebugContext(ctx, "job done", "took", time.Since(start))
	return true
}

func (p *Pool) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, reason string) {
	if err := p.jobs.FailJob(ctx, id, reason); err != nil {
		log.ErrorContext(ctx, "fail job", "error", err)
	}
}

func (p *Pool) count(queue, outcome string) {
	if p.outcomes != nil {
		p.outcomes.WithLabelValues(queue, outcome).Inc()
	}
}

func (p *Pool) recoverLoop(ctx context.Context) {
	ticker := time.NewTicker(recoverEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.jobs.RecoverStaleJobs(ctx, stuckAfter)
			switch {
			case err != nil:
				slog.ErrorContext(ctx, "recover stuck jobs", "error", err)
			case n > 0:
				slog.InfoContext(ctx, "requeued stuck jobs", "count", n)
			}
		}
	}
}
