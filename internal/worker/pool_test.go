package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghwmelite-dotcom/ask-ozzy-sub003/internal/store"
)

type fakeJobs struct {
	mu        sync.Mutex
	pending   []*store.Job
	completed []uuid.UUID
	failed    map[uuid.UUID]string
	claimErr  error
	recovered int
}

func newFakeJobs(jobs ...*store.Job) *fakeJobs {
	return &fakeJobs{pending: jobs, failed: map[uuid.UUID]string{}}
}

func (f *fakeJobs) ClaimJob(_ context.Context, queue, _ string) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	for i, j := range f.pending {
		if j.Queue == queue {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return j, nil
		}
	}
	return nil, nil
}

func (f *fakeJobs) CompleteJob(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobs) FailJob(_ context.Context, id uuid.UUID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = msg
	return nil
}

func (f *fakeJobs) RecoverStaleJobs(context.Context, time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered++
	return 0, nil
}

func job(queue string) *store.Job {
	return &store.Job{ID: uuid.New(), Queue: queue, Payload: json.RawMessage(`{}`), Attempts: 1}
}

func TestProcessOne_Success(t *testing.T) {
	j := job("q")
	jobs := newFakeJobs(j)
	p := New(jobs)
	var got json.RawMessage
	p.Register("q", func(_ context.Context, payload json.RawMessage) error {
		got = payload
		return nil
	})

	assert.True(t, p.processOne(context.Background(), "q"))
	assert.JSONEq(t, `{}`, string(got))
	assert.Equal(t, []uuid.UUID{j.ID}, jobs.completed)
	assert.Empty(t, jobs.failed)
}

func TestProcessOne_HandlerErrorFailsJob(t *testing.T) {
	j := job("q")
	jobs := newFakeJobs(j)
	p := New(jobs)
	p.Register("q", func(context.Context, json.RawMessage) error { return errors.New("boom") })

	assert.True(t, p.processOne(context.Background(), "q"))
	assert.Equal(t, "boom", jobs.failed[j.ID])
	assert.Empty(t, jobs.completed)
}

func TestProcessOne_NoJob(t *testing.T) {
	jobs := newFakeJobs()
	p := New(jobs)
	p.Register("q", func(context.Context, json.RawMessage) error {
		t.Fatal("handler must not run without a job")
		return nil
	})
	assert.False(t, p.processOne(context.Background(), "q"))
}

func TestProcessOne_ClaimError(t *testing.T) {
	jobs := newFakeJobs(job("q"))
	jobs.claimErr = errors.New("db down")
	p := New(jobs)
	assert.False(t, p.processOne(context.Background(), "q"))
}

func TestProcessOne_UnregisteredQueueFailsJob(t *testing.T) {
	j := job("orphan")
	jobs := newFakeJobs(j)
	p := New(jobs)

	assert.True(t, p.processOne(context.Background(), "orphan"))
	assert.Contains(t, jobs.failed, j.ID)
}

func TestStart_DrainsAndStopsOnCancel(t *testing.T) {
	j1, j2 := job("q"), job("q")
	jobs := newFakeJobs(j1, j2)
	p := New(jobs, WithPollInterval(5*time.Millisecond))

	done := make(chan struct{}, 2)
	p.Register("q", func(context.Context, json.RawMessage) error {
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(stopped)
	}()

	for range 2 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("jobs were not processed")
		}
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	require.Len(t, jobs.completed, 2)
}

func TestDrain_ClaimsBacklogInOneTick(t *testing.T) {
	jobs := newFakeJobs(job("q"), job("q"), job("q"), job("other"))
	p := New(jobs)
	p.Register("q", func(context.Context, json.RawMessage) error { return nil })

	assert.Equal(t, 3, p.drain(context.Background(), "q"))
	assert.Len(t, jobs.completed, 3)
	require.Len(t, jobs.pending, 1)
	assert.Equal(t, "other", jobs.pending[0].Queue)
}

func TestDrain_StopsWhenContextEnds(t *testing.T) {
	jobs := newFakeJobs(job("q"), job("q"))
	p := New(jobs)
	ctx, cancel := context.WithCancel(context.Background())
	p.Register("q", func(context.Context, json.RawMessage) error {
		cancel()
		return nil
	})

	assert.Equal(t, 1, p.drain(ctx, "q"))
	assert.Len(t, jobs.pending, 1)
}

// A job whose handler is still running at shutdown is recorded as done even
// though the pool's context is already cancelled.
func TestProcessOne_SettlesAfterCancel(t *testing.T) {
	j := job("q")
	jobs := newFakeJobs(j)
	p := New(jobs)
	ctx, cancel := context.WithCancel(context.Background())
	p.Register("q", func(context.Context, json.RawMessage) error {
		cancel()
		return nil
	})

	assert.True(t, p.processOne(ctx, "q"))
	assert.Equal(t, []uuid.UUID{j.ID}, jobs.completed)
}

func TestProcessOne_Metrics(t *testing.T) {
	jobs := newFakeJobs(job("q"), job("q"), job("orphan"))
	p := New(jobs, WithRegisterer(prometheus.NewRegistry()))
	calls := 0
	p.Register("q", func(context.Context, json.RawMessage) error {
		calls++
		if calls == 2 {
			return errors.New("embedding endpoint down")
		}
		return nil
	})

	ctx := context.Background()
	p.drain(ctx, "q")
	p.processOne(ctx, "orphan")

	assert.InDelta(t, 1, promtest.ToFloat64(p.outcomes.WithLabelValues("q", outcomeDone)), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(p.outcomes.WithLabelValues("q", outcomeFailed)), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(p.outcomes.WithLabelValues("orphan", outcomeNoHandler)), 0)
	assert.Equal(t, 1, promtest.CollectAndCount(p.duration))
}

func TestWithWorkerID(t *testing.T) {
	assert.Equal(t, "worker-a", New(newFakeJobs(), WithWorkerID("worker-a")).workerID)
	assert.NotEmpty(t, New(newFakeJobs(), WithWorkerID("")).workerID)
}

// stop must not return while a job is still running, or the caller could close
// the job store before the outcome is written.
func TestStartBackground_StopWaitsForInFlightJob(t *testing.T) {
	j := job("q")
	jobs := newFakeJobs(j)
	p := New(jobs, WithPollInterval(5*time.Millisecond))

	started := make(chan struct{})
	release := make(chan struct{})
	p.Register("q", func(context.Context, json.RawMessage) error {
		close(started)
		<-release
		return nil
	})

	stop := p.StartBackground(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not started")
	}

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("stop returned while the job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return after the job finished")
	}
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Equal(t, []uuid.UUID{j.ID}, jobs.completed)

	stop() // idempotent
}
