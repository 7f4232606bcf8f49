// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type RunID string
type ThreadName string
type ActivityID string

// threadNamePrefix matches the tag used by external clients of the data agent.
const threadNamePrefix = "external-client-thread-"

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// NewThreadName returns a fresh thread tag for a conversation that was not
// given one by the caller.
func NewThreadName() ThreadName {
	return ThreadName(threadNamePrefix + uuid.New().String())
}

// NewActivityID returns the per-request correlation id sent to the service.
func NewActivityID() ActivityID {
	return ActivityID(uuid.New().String())
}

// IsGenerated reports whether the thread name was produced by NewThreadName.
func (n ThreadName) IsGenerated() bool {
	return strings.HasPrefix(string(n), threadNamePrefix)
}
