package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/fabricagent/internal/types"
)

// laneIdleTimeout is how long an empty lane survives before it is reclaimed.
const laneIdleTimeout = time.Minute

// Queue manages per-thread lanes with a global concurrency semaphore.
// Each thread name gets its own FIFO channel (lane) so that at most one run
// is active against a remote thread, while the semaphore limits the total
// number of concurrent runs across all threads.
type Queue struct {
	lanes     map[types.ThreadName]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64
	idle      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all thread lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.ThreadName]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		idle:      laneIdleTimeout,
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish. Runs still waiting in a lane fail with
// context.Canceled.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for name, lane := range q.lanes {
		close(lane)
		delete(q.lanes, name)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to its thread's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue not running")
	}

	lane, exists := q.lanes[run.ThreadName]
	if !exists {
		lane = make(chan *Run, 100)
		q.lanes[run.ThreadName] = lane
		q.wg.Add(1)
		go q.processLane(run.ThreadName, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for thread %s", run.ThreadName)
	}
}

// processLane drains a single thread lane, acquiring a semaphore slot
// before running the processor synchronously. A lane that stays empty for
// the idle timeout removes itself.
func (q *Queue) processLane(name types.ThreadName, lane chan *Run) {
	defer q.wg.Done()
	idle := time.NewTimer(q.idle)
	defer idle.Stop()

	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			q.execute(run)
			idle.Reset(q.idle)
		case <-idle.C:
			q.mu.Lock()
			if len(lane) > 0 {
				q.mu.Unlock()
				idle.Reset(q.idle)
				continue
			}
			if q.lanes[name] == lane {
				delete(q.lanes, name)
			}
			q.mu.Unlock()
			slog.Debug("lane reclaimed", "thread", string(name))
			return
		case <-q.ctx.Done():
			q.drain(lane)
			return
		}
	}
}

func (q *Queue) execute(run *Run) {
	if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
		run.finish(err)
		return
	}
	defer q.semaphore.Release(1)

	if run.Ctx == nil {
		run.Ctx = q.ctx
	}
	run.start()
	q.active.Add(1)
	defer q.active.Add(-1)

	var err error
	if q.processor != nil {
		err = q.processor(run)
	}
	if err != nil {
		slog.Error("run failed", "run_id", string(run.ID), "thread", string(run.ThreadName), "error", err)
	}
	run.finish(err)
}

// drain fails every run still buffered in a lane.
func (q *Queue) drain(lane chan *Run) {
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			run.finish(q.ctx.Err())
		default:
			return
		}
	}
}

// Lanes returns the number of live lanes.
func (q *Queue) Lanes() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.lanes)
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}
