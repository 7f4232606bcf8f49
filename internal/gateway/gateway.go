package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/fabricagent/internal/types"
)

// Gateway turns inbound questions into runs and feeds them through the
// per-thread queue.
type Gateway struct {
	Queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway whose queue runs at most maxConcurrent questions at
// once. Values below one mean two.
func New(maxConcurrent int64) *Gateway {
	if maxConcurrent < 1 {
		maxConcurrent = 2
	}
	return &Gateway{Queue: NewQueue(maxConcurrent)}
}

// SetProcessor sets the function that answers each run.
func (g *Gateway) SetProcessor(fn func(*Run) error) {
	g.Queue.SetProcessor(fn)
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context and waits for the queue to drain.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked when the run finishes.
func WithOnComplete(fn func(*Result, error)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// WithContext runs the question under ctx instead of the gateway's context.
func WithContext(ctx context.Context) RunOption {
	return func(r *Run) { r.Ctx = ctx }
}

// Submit validates q, wraps it in a Run, and enqueues it without waiting.
func (g *Gateway) Submit(q *types.InboundQuestion, opts ...RunOption) (*Run, error) {
	if q == nil || strings.TrimSpace(q.Question) == "" {
		return nil, fmt.Errorf("submit question: question is empty")
	}
	run := NewRun(q)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	return run, nil
}

// Ask submits q and waits for its result. Cancelling ctx abandons the wait
// and cancels the run's remote polling.
func (g *Gateway) Ask(ctx context.Context, q *types.InboundQuestion) (*Result, error) {
	run, err := g.Submit(q, WithContext(ctx))
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done():
		return run.Result, run.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
