package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/user/fabricagent/internal/extract"
	"github.com/user/fabricagent/internal/types"
	"github.com/user/fabricagent/pkg/dataagent"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Result is the outcome of asking the data agent one question.
type Result struct {
	ThreadName types.ThreadName    `json:"thread_name"`
	ThreadID   string              `json:"thread_id"`
	RunID      string              `json:"run_id"`
	RunStatus  string              `json:"run_status"`
	Response   string              `json:"response"`
	Messages   []dataagent.Message `json:"messages"`
	Steps      []dataagent.RunStep `json:"run_steps"`
	Report     *extract.Report     `json:"report"`
	Duration   time.Duration       `json:"duration"`
}

// Run tracks one question on its way through the queue.
type Run struct {
	ID         types.RunID
	ThreadName types.ThreadName
	Question   *types.InboundQuestion
	Status     RunStatus
	Attempts   int
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time

	// Ctx is the context the processor runs under. The queue fills it in
	// when the submitter left it nil.
	Ctx    context.Context
	Result *Result
	Error  error

	OnComplete func(*Result, error)

	once sync.Once
	done chan struct{}
}

// NewRun creates a Run in the Queued state. A question without a thread
// name gets a freshly generated one, so its lane is private.
func NewRun(q *types.InboundQuestion) *Run {
	name := q.ThreadName
	if name == "" {
		name = types.NewThreadName()
	}
	return &Run{
		ID:         types.NewRunID(),
		ThreadName: name,
		Question:   q,
		Status:     RunStatusQueued,
		CreatedAt:  time.Now(),
		done:       make(chan struct{}),
	}
}

// Done is closed once the run has finished, successfully or not.
func (r *Run) Done() <-chan struct{} {
	r.once.Do(r.init)
	return r.done
}

func (r *Run) init() {
	if r.done == nil {
		r.done = make(chan struct{})
	}
}

func (r *Run) start() {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
	r.Attempts++
}

// finish records the outcome, fires OnComplete, and closes Done.
func (r *Run) finish(err error) {
	r.once.Do(r.init)
	now := time.Now()
	r.EndedAt = &now
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
	} else {
		r.Status = RunStatusComplete
	}
	if r.OnComplete != nil {
		r.OnComplete(r.Result, err)
	}
	close(r.done)
}
