package dataagent

import (
	"context"
	"time"
)

// Agent defines the thread/run/message protocol spoken by the data agent
// service. Implementations handle URL layout, authentication headers and
// response decoding.
type Agent interface {
	// CreateAssistant creates the placeholder assistant a run must reference.
	CreateAssistant(ctx context.Context) (*Assistant, error)

	// GetOrCreateThread returns the thread tagged with name, creating it if needed.
	GetOrCreateThread(ctx context.Context, name string) (*Thread, error)

	// CreateMessage posts a message to a thread.
	CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error)

	// CreateRun starts the agent on a thread.
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)

	// RetrieveRun fetches the current state of a run.
	RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error)

	// ListMessages returns every message on a thread in the given order ("asc" or "desc").
	ListMessages(ctx context.Context, threadID, order string) ([]Message, error)

	// ListRunSteps returns every step of a run in creation order.
	ListRunSteps(ctx context.Context, threadID, runID string) ([]RunStep, error)
}

// Credentials supplies a bearer token for each request.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
}

// CredentialsFunc adapts a function to Credentials.
type CredentialsFunc func(ctx context.Context) (string, error)

// AccessToken calls f.
func (f CredentialsFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// DefaultAPIVersion is the api-version query parameter the service expects.
const DefaultAPIVersion = "2024-05-01-preview"

// Config holds connection settings for a data agent endpoint.
type Config struct {
	// URL is the published data agent URL, usually ending in /openai.
	URL        string
	APIVersion string
	Timeout    time.Duration
}
