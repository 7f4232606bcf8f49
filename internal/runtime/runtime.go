// Package runtime drives one question through the data agent: it posts the
// question to a thread, waits for the run, and mines the run for queries
// and data.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/fabricagent/internal/extract"
	"github.com/user/fabricagent/internal/gateway"
	"github.com/user/fabricagent/internal/metrics"
	"github.com/user/fabricagent/internal/types"
	"github.com/user/fabricagent/pkg/dataagent"
)

// NoResponse is the response text when the agent produced no assistant
// message.
const NoResponse = "No response received from the data agent."

// ErrRunTimeout is returned when a run is still pending at the deadline.
var ErrRunTimeout = errors.New("run timed out")

// Options tunes a Runtime. Zero values take defaults.
type Options struct {
	PollInterval time.Duration // default 2s
	RunTimeout   time.Duration // default 120s
	Retry        *gateway.RetryPolicy
	History      types.HistoryStore
	Logger       *slog.Logger
}

// Runtime answers runs against one data agent.
type Runtime struct {
	agent      dataagent.Agent
	opts       Options
	aggregator *extract.Aggregator
	logger     *slog.Logger
}

// New creates a Runtime that talks to agent.
func New(agent dataagent.Agent, opts Options) *Runtime {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 120 * time.Second
	}
	if opts.Retry == nil {
		opts.Retry = gateway.DefaultRetryPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		agent:      agent,
		opts:       opts,
		aggregator: extract.NewAggregator(logger),
		logger:     logger,
	}
}

// ProcessRun answers a single run and stores the outcome on it.
// This is the function passed to Queue.SetProcessor.
func (rt *Runtime) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	res, err := rt.ask(ctx, run)
	elapsed := time.Since(start)
	if res != nil {
		res.Duration = elapsed
	}
	run.Result = res

	metrics.ObserveAsk(run.Question.Source, err, elapsed)
	rt.record(ctx, run, res, err, elapsed)
	return err
}

func (rt *Runtime) ask(ctx context.Context, run *gateway.Run) (*gateway.Result, error) {
	logger := rt.logger.With("run_id", string(run.ID), "thread", string(run.ThreadName))
	threadName := run.ThreadName
	if threadName == "" {
		threadName = types.NewThreadName()
	}

	var assistant *dataagent.Assistant
	err := rt.opts.Retry.Execute(ctx, func() (err error) {
		assistant, err = rt.agent.CreateAssistant(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create assistant: %w", err)
	}

	var thread *dataagent.Thread
	err = rt.opts.Retry.Execute(ctx, func() (err error) {
		thread, err = rt.agent.GetOrCreateThread(ctx, string(threadName))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", threadName, err)
	}

	// Posting and starting are not idempotent; they are not retried.
	if _, err := rt.agent.CreateMessage(ctx, thread.ID, "user", run.Question.Question); err != nil {
		return nil, fmt.Errorf("post question: %w", err)
	}
	remote, err := rt.agent.CreateRun(ctx, thread.ID, assistant.ID)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logger.Info("run started", "remote_run", remote.ID, "thread_id", thread.ID)

	remote, err = rt.wait(ctx, thread.ID, remote)
	if err != nil {
		return nil, err
	}
	if remote.LastError != nil {
		logger.Warn("run ended with error", "status", remote.Status, "code", remote.LastError.Code, "message", remote.LastError.Message)
	}

	var messages []dataagent.Message
	err = rt.opts.Retry.Execute(ctx, func() (err error) {
		messages, err = rt.agent.ListMessages(ctx, thread.ID, "asc")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var steps []dataagent.RunStep
	err = rt.opts.Retry.Execute(ctx, func() (err error) {
		steps, err = rt.agent.ListRunSteps(ctx, thread.ID, remote.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}

	texts := assistantTexts(messages, remote.ID)
	response := NoResponse
	var latest string
	if len(texts) > 0 {
		response = strings.Join(texts, "\n")
		latest = texts[len(texts)-1]
	}

	report := rt.aggregator.Aggregate(steps, latest)
	metrics.ObserveReport(report)
	logger.Info("run finished",
		"status", remote.Status,
		"messages", len(messages),
		"steps", len(steps),
		"queries", len(report.Queries),
	)

	return &gateway.Result{
		ThreadName: threadName,
		ThreadID:   thread.ID,
		RunID:      remote.ID,
		RunStatus:  remote.Status,
		Response:   response,
		Messages:   messages,
		Steps:      steps,
		Report:     report,
	}, nil
}

// wait polls the remote run until it leaves queued/in_progress.
func (rt *Runtime) wait(ctx context.Context, threadID string, remote *dataagent.Run) (*dataagent.Run, error) {
	deadline := time.Now().Add(rt.opts.RunTimeout)
	ticker := time.NewTicker(rt.opts.PollInterval)
	defer ticker.Stop()

	for remote.Pending() {
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("run %s still %s after %s: %w", remote.ID, remote.Status, rt.opts.RunTimeout, ErrRunTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("poll run %s: %w", remote.ID, ctx.Err())
		case <-ticker.C:
		}

		var next *dataagent.Run
		err := rt.opts.Retry.Execute(ctx, func() (err error) {
			next, err = rt.agent.RetrieveRun(ctx, threadID, remote.ID)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("retrieve run %s: %w", remote.ID, err)
		}
		remote = next
	}
	return remote, nil
}

// assistantTexts returns the text of assistant messages in thread order.
// Messages produced by runID are preferred; when none are tagged with it,
// every assistant message counts.
func assistantTexts(messages []dataagent.Message, runID string) []string {
	var own, all []string
	for i := range messages {
		m := &messages[i]
		if m.Role != "assistant" {
			continue
		}
		text, ok := m.Text()
		if !ok {
			continue
		}
		all = append(all, text)
		if m.RunID == runID {
			own = append(own, text)
		}
	}
	if len(own) > 0 {
		return own
	}
	return all
}

// record stores the exchange in history. Failures are logged, not returned.
func (rt *Runtime) record(ctx context.Context, run *gateway.Run, res *gateway.Result, runErr error, elapsed time.Duration) {
	if rt.opts.History == nil {
		return
	}
	rec := &types.AskRecord{
		RunID:      string(run.ID),
		ThreadName: string(run.ThreadName),
		Source:     run.Question.Source,
		Question:   run.Question.Question,
		DurationMs: elapsed.Milliseconds(),
		Success:    runErr == nil,
	}
	if runErr != nil {
		rec.ErrorMessage = runErr.Error()
	}
	if res != nil {
		rec.ThreadName = string(res.ThreadName)
		rec.Response = res.Response
		rec.RunStatus = res.RunStatus
		if res.Report != nil {
			rec.DataRetrievalQuery = res.Report.DataRetrievalQuery
			if data, err := json.Marshal(res.Report); err == nil {
				rec.ReportJSON = string(data)
			}
		}
	}

	// The run context may already be cancelled; history still gets written.
	if err := rt.opts.History.Record(context.WithoutCancel(ctx), rec); err != nil {
		rt.logger.Warn("record history failed", "run_id", string(run.ID), "error", err)
	}
}
