package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultIdleInterval is how long a loop sleeps after an empty claim.
	defaultIdleInterval = 2 * time.Second

	// depthReportInterval is how often the queue depth gauge is refreshed.
	depthReportInterval = 15 * time.Second
)

// Pool runs a set of independent worker loops against the shared job store.
// Loops coordinate only through the store's row locking; there is no shared
// in-process mutable state between them.
type Pool struct {
	store    Store
	handler  Handler
	workerID string
	workers  int
	idle     time.Duration
}

// Options tunes a Pool. Zero values fall back to one worker and the default
// idle interval.
type Options struct {
	// Workers is the number of concurrent claim/execute/record loops.
	Workers int
	// IdleInterval is the suspension after a cycle that found no work.
	IdleInterval time.Duration
}

// New creates a Pool executing h for every claimed job. A random workerID is
// generated at construction time to tag this process in logs.
func New(s Store, h Handler, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = defaultIdleInterval
	}
	return &Pool{
		store:    s,
		handler:  h,
		workerID: uuid.New().String(),
		workers:  opts.Workers,
		idle:     opts.IdleInterval,
	}
}

// Start launches the worker loops plus the queue-depth reporter, then blocks
// until ctx is cancelled. On cancellation each loop stops claiming, any
// in-flight handler completes and its outcome is recorded, and Start returns
// after all goroutines have exited.
func (p *Pool) Start(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.runLoop(ctx, n)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runDepthReporter(ctx)
	}()

	wg.Wait()
	slog.Info("worker pool stopped", "worker_id", p.workerID)
}

// runLoop is one claim/execute/record cycle driver. After a completed job it
// claims again immediately; after an empty or failed claim it idles. The
// timer is stopped explicitly so cancellation during the idle wait does not
// leak it.
func (p *Pool) runLoop(ctx context.Context, n int) {
	slog.Info("worker loop started", "worker_id", p.workerID, "loop", n)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker loop stopping", "loop", n)
			return
		default:
		}

		if p.processOne(ctx, n) {
			continue
		}

		timer := time.NewTimer(p.idle)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("worker loop stopping", "loop", n)
			return
		case <-timer.C:
		}
	}
}

// processOne claims and executes at most one job, returning whether a job
// was executed. Claim errors are transient by policy: logged and treated the
// same as an empty queue so the loop backs off and retries.
func (p *Pool) processOne(ctx context.Context, n int) bool {
	job, err := p.store.ClaimJob(ctx)
	if err != nil {
		claimErrors.Inc()
		slog.Error("claim job error", "loop", n, "error", err)
		return false
	}
	if job == nil {
		return false // no unlocked pending row; normal case
	}
	jobsClaimed.Inc()

	slog.Info("executing job",
		"job_id", job.ID, "loop", n,
		"source", job.SourcePath, "destination", job.DestinationPath)

	// Shutdown must not abort an in-flight transfer or its outcome write:
	// once a job is claimed, the handler and the terminal-state write run
	// under a context detached from cancellation. The loop honours
	// cancellation only at cycle boundaries in runLoop.
	opCtx := context.WithoutCancel(ctx)

	if err := p.handler(opCtx, job.SourcePath, job.DestinationPath); err != nil {
		jobsFailed.Inc()
		slog.Error("job handler failed", "job_id", job.ID, "error", err)
		if failErr := p.store.FailJob(opCtx, job.ID, err.Error()); failErr != nil {
			// The job stays in processing; there is no automatic retry of
			// outcome writes. Surfaced for operator intervention.
			recordErrors.Inc()
			slog.Error("record failure error", "job_id", job.ID, "error", failErr)
		}
		return true
	}

	if err := p.store.CompleteJob(opCtx, job.ID); err != nil {
		// Same stranding gap as above: the copy succeeded but the outcome
		// was not durably recorded.
		recordErrors.Inc()
		slog.Error("record completion error", "job_id", job.ID, "error", err)
		return true
	}

	jobsCompleted.Inc()
	slog.Info("job completed", "job_id", job.ID)
	return true
}

// runDepthReporter periodically refreshes the per-status queue depth gauge.
// Uses time.NewTicker (not time.After) to avoid timer leaks.
func (p *Pool) runDepthReporter(ctx context.Context) {
	ticker := time.NewTicker(depthReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := p.store.CountJobsByStatus(ctx)
			if err != nil {
				slog.Warn("queue depth query error", "error", err)
				continue
			}
			setQueueDepth(counts)
		}
	}
}
