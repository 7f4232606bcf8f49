// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/user/fabricagent/internal/state"
)

// Handler is the callback invoked when a saved question's schedule fires.
type Handler func(q *state.SavedQuestion)

// Entry describes one registered schedule.
type Entry struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

// Scheduler evaluates cron expressions from the question store and fires
// saved questions through a handler callback.
type Scheduler struct {
	store   *state.QuestionStore
	handler Handler

	mu    sync.Mutex
	cron  *cron.Cron
	names map[cron.EntryID]*state.SavedQuestion
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is a schedule the scheduler accepts.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// New creates a new Scheduler backed by the given question store. The handler
// is called each time a scheduled question fires.
func New(store *state.QuestionStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(cronParser)),
		names:   make(map[cron.EntryID]*state.SavedQuestion),
	}
}

// Start loads saved questions, registers enabled questions that have a
// schedule as cron entries, and starts the cron ticker.
func (s *Scheduler) Start() error {
	questions, err := s.store.List()
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range questions {
		if q.Schedule == "" || !q.Enabled {
			continue
		}

		id, err := s.cron.AddFunc(q.Schedule, func() {
			slog.Info("cron firing question", "name", q.Name, "thread", q.ThreadName)
			s.handler(q)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", q.Name, "schedule", q.Schedule, "error", err)
			continue
		}
		s.names[id] = q
		slog.Info("scheduled question", "name", q.Name, "schedule", q.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.names = make(map[cron.EntryID]*state.SavedQuestion)
	s.mu.Unlock()
	return s.Start()
}

// Entries returns the registered schedules sorted by next fire time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.cron.Entries() {
		q := s.names[e.ID]
		out = append(out, Entry{Name: q.Name, Schedule: q.Schedule, Next: e.Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// Stop stops the cron ticker and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}
