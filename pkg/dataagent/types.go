package dataagent

import (
	"bytes"
	"encoding/json"
)

// Text is a string field that the service sometimes sends as a JSON-encoded
// string and sometimes as a raw object or array. Raw values keep their JSON
// text so callers can still parse them.
type Text string

// UnmarshalJSON accepts a string, null, or any raw JSON value.
func (t *Text) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*t = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(trimmed)
	return nil
}

// String returns the field as a plain string.
func (t Text) String() string {
	return string(t)
}

// Assistant is the (unused) assistant the service requires for a run.
type Assistant struct {
	ID     string `json:"id"`
	Object string `json:"object,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Thread is a conversation container on the service.
type Thread struct {
	ID        string `json:"id"`
	Object    string `json:"object,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Message is one message on a thread.
type Message struct {
	ID        string           `json:"id"`
	Object    string           `json:"object,omitempty"`
	ThreadID  string           `json:"thread_id,omitempty"`
	RunID     string           `json:"run_id,omitempty"`
	Role      string           `json:"role"`
	CreatedAt int64            `json:"created_at,omitempty"`
	Content   []MessageContent `json:"content"`
}

// MessageContent is one content item; only text items carry a value.
type MessageContent struct {
	Type string       `json:"type"`
	Text *TextContent `json:"text,omitempty"`
}

// TextContent is the text payload of a message content item.
type TextContent struct {
	Value       string          `json:"value"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// Text returns the value of the first content item, if it is text.
func (m *Message) Text() (string, bool) {
	if len(m.Content) == 0 || m.Content[0].Text == nil {
		return "", false
	}
	return m.Content[0].Text.Value, true
}

// Run statuses reported by the service.
const (
	RunStatusQueued         = "queued"
	RunStatusInProgress     = "in_progress"
	RunStatusRequiresAction = "requires_action"
	RunStatusCompleted      = "completed"
	RunStatusFailed         = "failed"
	RunStatusCancelled      = "cancelled"
	RunStatusExpired        = "expired"
)

// Run is one execution of the agent against a thread.
type Run struct {
	ID          string    `json:"id"`
	Object      string    `json:"object,omitempty"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id"`
	Status      string    `json:"status"`
	CreatedAt   int64     `json:"created_at,omitempty"`
	CompletedAt int64     `json:"completed_at,omitempty"`
	LastError   *RunError `json:"last_error,omitempty"`
}

// Pending reports whether the run has not reached a terminal state.
func (r *Run) Pending() bool {
	return r.Status == RunStatusQueued || r.Status == RunStatusInProgress
}

// RunError is the failure detail attached to a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunStep is one unit of agent work within a run.
type RunStep struct {
	ID          string      `json:"id"`
	Object      string      `json:"object,omitempty"`
	RunID       string      `json:"run_id,omitempty"`
	Type        string      `json:"type"`
	Status      string      `json:"status,omitempty"`
	CreatedAt   int64       `json:"created_at,omitempty"`
	StepDetails StepDetails `json:"step_details"`
}

// StepDetails holds the tool calls of a tool_calls step.
type StepDetails struct {
	Type            string           `json:"type"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
	MessageCreation *MessageCreation `json:"message_creation,omitempty"`
}

// MessageCreation links a message_creation step to its message.
type MessageCreation struct {
	MessageID string `json:"message_id"`
}

// ToolCall is one invocation of an agent-side capability.
type ToolCall struct {
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function *FunctionCall `json:"function,omitempty"`
	Output   Text          `json:"output,omitempty"`
}

// FunctionCall carries the arguments and output of a function tool call.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments Text   `json:"arguments,omitempty"`
	Output    Text   `json:"output,omitempty"`
}

// ArgumentsText returns function.arguments, or "" when absent.
func (tc *ToolCall) ArgumentsText() string {
	if tc.Function == nil {
		return ""
	}
	return tc.Function.Arguments.String()
}

// OutputText prefers function.output and falls back to the call's output.
func (tc *ToolCall) OutputText() string {
	if tc.Function != nil && tc.Function.Output != "" {
		return tc.Function.Output.String()
	}
	return tc.Output.String()
}

// List is the paged list envelope used by list endpoints.
type List[T any] struct {
	Object  string `json:"object,omitempty"`
	Data    []T    `json:"data"`
	FirstID string `json:"first_id,omitempty"`
	LastID  string `json:"last_id,omitempty"`
	HasMore bool   `json:"has_more"`
}
