// internal/state/question.go
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrQuestionNotFound is returned when no saved question has the given name.
var ErrQuestionNotFound = errors.New("question not found")

// SavedQuestion is a named question that can be asked on demand, on a cron
// schedule, or over HTTP.
type SavedQuestion struct {
	Name       string `json:"name"`
	Question   string `json:"question"`
	Schedule   string `json:"schedule,omitempty"`
	ThreadName string `json:"thread_name,omitempty"`
	DeliverTo  string `json:"deliver_to,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// QuestionStore is a JSON-file-backed store for saved questions.
type QuestionStore struct {
	path string
	mu   sync.RWMutex
}

// NewQuestionStore creates a new file-backed QuestionStore at the given file path.
func NewQuestionStore(path string) *QuestionStore {
	return &QuestionStore{path: path}
}

// Path returns the file path used by this store.
func (s *QuestionStore) Path() string {
	return s.path
}

// List returns all saved questions. Returns an empty slice if the file doesn't exist.
func (s *QuestionStore) List() ([]*SavedQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	questions, err := s.load()
	if err != nil {
		return nil, err
	}
	if questions == nil {
		return []*SavedQuestion{}, nil
	}
	return questions, nil
}

// Get finds a saved question by name.
func (s *QuestionStore) Get(name string) (*SavedQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	questions, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		if q.Name == name {
			return q, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrQuestionNotFound, name)
}

// Add appends a saved question. Names are unique.
func (s *QuestionStore) Add(q *SavedQuestion) error {
	if q.Name == "" {
		return fmt.Errorf("add question: name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	questions, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range questions {
		if existing.Name == q.Name {
			return fmt.Errorf("question already exists: %s", q.Name)
		}
	}
	return s.save(append(questions, q))
}

// Remove deletes a saved question by name.
func (s *QuestionStore) Remove(name string) error {
	return s.update(name, func(questions []*SavedQuestion, i int) []*SavedQuestion {
		return append(questions[:i], questions[i+1:]...)
	})
}

// SetEnabled toggles the enabled flag for a saved question.
func (s *QuestionStore) SetEnabled(name string, enabled bool) error {
	return s.update(name, func(questions []*SavedQuestion, i int) []*SavedQuestion {
		questions[i].Enabled = enabled
		return questions
	})
}

func (s *QuestionStore) update(name string, fn func([]*SavedQuestion, int) []*SavedQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	questions, err := s.load()
	if err != nil {
		return err
	}
	for i, q := range questions {
		if q.Name == name {
			return s.save(fn(questions, i))
		}
	}
	return fmt.Errorf("%w: %s", ErrQuestionNotFound, name)
}

// load reads the JSON file. Returns nil if the file doesn't exist.
func (s *QuestionStore) load() ([]*SavedQuestion, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read questions file: %w", err)
	}

	var questions []*SavedQuestion
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	return questions, nil
}

// save writes the list to disk using atomic write (temp file + rename).
func (s *QuestionStore) save(questions []*SavedQuestion) error {
	data, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create questions dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp questions file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp questions file: %w", err)
	}
	return nil
}
