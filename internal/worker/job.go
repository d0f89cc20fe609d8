// Package worker provides a pool of goroutines that claim and execute jobs
// from the jobs table using FOR UPDATE SKIP LOCKED.
//
// Each loop goroutine repeats: claim one job, run the handler, record the
// outcome (done on success, failed with the error text otherwise). When no
// job is available — or the claim itself fails transiently — the loop idles
// for the configured interval before trying again. No error from a single
// cycle stops the loop; only context cancellation does, and an in-flight
// handler always runs to completion first.
package worker

import (
	"context"

	"github.com/yusufsahin/queuepgskip/internal/store"
)

// Store is the job store surface the pool needs. *store.Store satisfies it.
type Store interface {
	ClaimJob(ctx context.Context) (*store.Job, error)
	CompleteJob(ctx context.Context, id int64) error
	FailJob(ctx context.Context, id int64, reason string) error
	CountJobsByStatus(ctx context.Context) (map[store.Status]int64, error)
}

// Handler executes the body of a claimed job: copy source to destination.
// A non-nil return marks the job failed with the error text as last_error;
// nil marks it done. The handler never sees or mutates job state.
type Handler func(ctx context.Context, source, destination string) error
