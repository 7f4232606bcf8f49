// internal/delivery/registry.go
package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Payload is what a saved question delivers after it runs.
type Payload struct {
	Name               string    `json:"name"`
	Question           string    `json:"question"`
	ThreadName         string    `json:"thread_name,omitempty"`
	Response           string    `json:"response"`
	RunStatus          string    `json:"run_status,omitempty"`
	DataRetrievalQuery string    `json:"data_retrieval_query,omitempty"`
	Queries            []string  `json:"queries,omitempty"`
	Preview            []string  `json:"preview,omitempty"`
	Error              string    `json:"error,omitempty"`
	At                 time.Time `json:"at"`
}

// Handler delivers a payload to a target such as a URL or file.
type Handler func(ctx context.Context, target string, p *Payload) error

// Registry routes payloads to the delivery handler whose prefix matches the
// target (e.g. "https://", "file:"). The longest matching prefix wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for targets starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver finds the handler matching the target prefix and calls it.
// Returns an error if no handler is registered for the prefix.
func (r *Registry) Deliver(ctx context.Context, target string, p *Payload) error {
	r.mu.RLock()
	var best string
	var handler Handler
	for prefix, h := range r.handlers {
		if strings.HasPrefix(target, prefix) && len(prefix) > len(best) {
			best, handler = prefix, h
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no delivery handler for target: %s", target)
	}
	if err := handler(ctx, target, p); err != nil {
		return fmt.Errorf("deliver to %s: %w", target, err)
	}
	return nil
}
