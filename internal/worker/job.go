// Package worker provides a goroutine pool that claims and executes jobs
// from the job_queue table using FOR UPDATE SKIP LOCKED.
//
// Handlers are registered per queue name before calling Pool.Start.
// Each queue gets a dedicated polling goroutine; a shared recovery goroutine
// resets any jobs stuck in 'running' state.
//
// Jobs run without a request principal. Handlers that touch department data
// use the store's system accessors and carry the department explicitly.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
)

// Handler is the function executed for each claimed job.
// A non-nil return value triggers retry logic (exponential backoff up to
// max_attempts, then dead status). A nil return marks the job succeeded.
type Handler func(ctx context.Context, payload json.RawMessage) error

// JobStore is the subset of *store.Store the pool needs.
type JobStore interface {
	ClaimJob(ctx context.Context, queue, workerID string) (*store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) error
	RecoverStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error)
}

var _ JobStore = (*store.Store)(nil)
