package extract

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/user/fabricagent/pkg/dataagent"
)

// Aggregator folds a run's steps into a Report. A panic while analyzing one
// tool call is logged and that call contributes nothing.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator returns an Aggregator logging to logger, or to
// slog.Default() when logger is nil.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Aggregate is NewAggregator(nil).Aggregate.
func Aggregate(steps []dataagent.RunStep, finalText string) *Report {
	return NewAggregator(nil).Aggregate(steps, finalText)
}

// Aggregate builds a Report from run steps in order and the final assistant
// text. The first tool call that yields both SQL and a non-empty preview
// sets the retrieval query. When no call yields SQL, the serialized steps
// are scanned instead. When no retrieval query is found, the final text is
// mined for a preview.
func (a *Aggregator) Aggregate(steps []dataagent.RunStep, finalText string) *Report {
	report := newReport()

	var candidates []string
	for i, step := range steps {
		for j, call := range step.StepDetails.ToolCalls {
			analysis := a.analyze(call, i, j)
			candidates = append(candidates, analysis.SQL...)
			report.DataPreviews = append(report.DataPreviews, analysis.Preview)

			if !report.HasRetrievalQuery() && len(analysis.SQL) > 0 && len(analysis.Preview) > 0 {
				report.DataRetrievalQuery = analysis.SQL[len(analysis.SQL)-1]
				report.DataRetrievalQueryIndex = len(dedupe(candidates))
			}
		}
	}
	report.Queries = dedupe(candidates)

	if len(report.Queries) == 0 {
		report.Queries = a.scanSteps(steps)
	}

	if !report.HasRetrievalQuery() {
		if preview := a.fromResponse(finalText); len(preview) > 0 {
			report.DataPreviews = append(report.DataPreviews, preview)
			if len(report.Queries) > 0 {
				report.DataRetrievalQuery = report.Queries[0]
				report.DataRetrievalQueryIndex = 1
			}
		}
	}

	a.logger.Debug("run aggregated",
		"steps", len(steps),
		"queries", len(report.Queries),
		"previews", len(report.DataPreviews),
		"retrieval_index", report.DataRetrievalQueryIndex,
	)
	return report
}

func (a *Aggregator) analyze(call dataagent.ToolCall, step, index int) (analysis Analysis) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("tool call analysis failed", "step", step, "call", index, "tool_call_id", call.ID, "panic", r)
			analysis = Analysis{Preview: []string{}}
		}
	}()
	return AnalyzeToolCall(call)
}

// scanSteps serializes each step and runs the step matcher over it.
func (a *Aggregator) scanSteps(steps []dataagent.RunStep) []string {
	var found []string
	for i, step := range steps {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(step); err != nil {
			a.logger.Warn("serialize run step failed", "step", i, "error", err)
			continue
		}
		found = append(found, FindStepStatements(buf.String())...)
	}
	return dedupe(found)
}

func (a *Aggregator) fromResponse(text string) (preview []string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("response table extraction failed", "panic", r)
			preview = nil
		}
	}()
	return ExtractFromResponse(text)
}
