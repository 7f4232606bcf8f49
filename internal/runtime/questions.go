package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/fabricagent/internal/delivery"
	"github.com/user/fabricagent/internal/gateway"
	"github.com/user/fabricagent/internal/state"
	"github.com/user/fabricagent/internal/types"
)

// Asker answers one question and waits for the result. *gateway.Gateway
// implements it.
type Asker interface {
	Ask(ctx context.Context, q *types.InboundQuestion) (*gateway.Result, error)
}

// QuestionRunner asks saved questions and delivers their results.
type QuestionRunner struct {
	asker    Asker
	delivery *delivery.Registry
	logger   *slog.Logger
}

// NewQuestionRunner creates a runner. A nil registry disables delivery.
func NewQuestionRunner(asker Asker, reg *delivery.Registry, logger *slog.Logger) *QuestionRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionRunner{asker: asker, delivery: reg, logger: logger}
}

// Run asks q on its thread. A non-empty override replaces the saved question
// text for this run only. When the question has a delivery target the result
// (or the failure) is delivered there; delivery failures are logged.
func (r *QuestionRunner) Run(ctx context.Context, q *state.SavedQuestion, override, source string) (*gateway.Result, error) {
	text := q.Question
	if s := strings.TrimSpace(override); s != "" {
		text = s
	}

	res, err := r.asker.Ask(ctx, &types.InboundQuestion{
		Source:     source,
		ThreadName: types.ThreadName(q.ThreadName),
		Question:   text,
	})
	if q.DeliverTo != "" && r.delivery != nil {
		p := NewPayload(q.Name, text, res, err)
		if derr := r.delivery.Deliver(context.WithoutCancel(ctx), q.DeliverTo, p); derr != nil {
			r.logger.Warn("deliver question result failed", "name", q.Name, "target", q.DeliverTo, "error", derr)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("run question %s: %w", q.Name, err)
	}
	return res, nil
}

// NewPayload builds the delivery payload for a finished question.
func NewPayload(name, question string, res *gateway.Result, err error) *delivery.Payload {
	p := &delivery.Payload{
		Name:     name,
		Question: question,
		At:       time.Now().UTC(),
	}
	if err != nil {
		p.Error = err.Error()
	}
	if res == nil {
		return p
	}
	p.ThreadName = string(res.ThreadName)
	p.Response = res.Response
	p.RunStatus = res.RunStatus
	if res.Report != nil {
		p.DataRetrievalQuery = res.Report.DataRetrievalQuery
		p.Queries = res.Report.Queries
		p.Preview = res.Report.RetrievalPreview()
	}
	return p
}
