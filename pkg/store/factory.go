package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookforge/bookforge/pkg/job"
)

// Factory creates a Store for a validated configuration.
type Factory func(cfg *Config) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[Backend]Factory{}
)

// RegisterFactory installs a backend factory. Backends register themselves
// in init; the last registration for a name wins, which lets tests swap in
// fakes.
func RegisterFactory(name Backend, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New creates a store using the backend named in cfg. A disabled
// configuration yields a null in-memory store so callers never branch on
// persistence being off.
func New(cfg *Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}
	if !cfg.Enabled {
		return NewNullStore(), nil
	}

	factoriesMu.RLock()
	factory, ok := factories[cfg.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no store factory registered for backend %q", cfg.Backend)
	}
	s, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", cfg.Backend, err)
	}
	return s, nil
}

// NullStore satisfies Store without persisting anything. Used when
// persistence is disabled and in tests that only need the contract.
type NullStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*job.Job
}

// NewNullStore returns an empty in-memory store.
func NewNullStore() *NullStore {
	return &NullStore{jobs: make(map[uuid.UUID]*job.Job)}
}

func (s *NullStore) Save(j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *NullStore) Get(id uuid.UUID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return j.Clone(), nil
}

func (s *NullStore) List() ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *NullStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *NullStore) GetPending() ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*job.Job
	for _, j := range s.jobs {
		if !j.IsTerminal() {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

func (s *NullStore) Cleanup(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		if j.IsTerminal() && j.CreatedAt.Before(olderThan) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *NullStore) Flush() error { return nil }

func (s *NullStore) Close() error { return nil }
