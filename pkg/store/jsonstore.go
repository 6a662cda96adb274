package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bookforge/bookforge/pkg/job"
)

func init() {
	RegisterFactory(BackendJSON, func(cfg *Config) (Store, error) {
		return NewJSONStore(cfg)
	})
}

const jsonStoreVersion = 1

// storedJobs is the on-disk shape of the flat-file backend.
type storedJobs struct {
	Version int                    `json:"version"`
	Jobs    map[uuid.UUID]*job.Job `json:"jobs"`
}

// JSONStore persists jobs to a single JSON file. It keeps an in-memory
// mirror guarded by a RWMutex; Flush atomically replaces the file
// (write-temp-then-rename) so a crash mid-write can never truncate it. A
// file lock on the data directory keeps a second process from corrupting
// the same state.
type JSONStore struct {
	path     string
	lock     *flock.Flock
	mu       sync.RWMutex
	jobs     map[uuid.UUID]*job.Job
	dirty    bool
	closed   bool
	stopSave chan struct{}
	saveDone chan struct{}
}

// NewJSONStore opens (creating if needed) the flat-file store under
// cfg.Dir and loads prior state. Malformed content surfaces as a
// CorruptStateError rather than being silently discarded.
func NewJSONStore(cfg *Config) (*JSONStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.Dir, "jobs.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire storage lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	s := &JSONStore{
		path:     filepath.Join(cfg.Dir, "jobs.json"),
		lock:     lock,
		jobs:     make(map[uuid.UUID]*job.Job),
		stopSave: make(chan struct{}),
		saveDone: make(chan struct{}),
	}
	if err := s.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	go s.autoSaveLoop(cfg.AutoSaveInterval)
	return s, nil
}

// load populates the mirror from disk. A missing or empty file means no
// prior state.
func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var stored storedJobs
	if err := json.Unmarshal(data, &stored); err != nil {
		return &CorruptStateError{Path: s.path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stored.Jobs != nil {
		s.jobs = stored.Jobs
	}
	return nil
}

// autoSaveLoop flushes dirty state on a fixed interval, bounding data loss
// from ungraceful termination to one interval of progress updates. Status
// transitions are flushed synchronously by Save and do not depend on this
// loop.
func (s *JSONStore) autoSaveLoop(interval time.Duration) {
	defer close(s.saveDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSave:
			return
		case <-ticker.C:
			s.mu.RLock()
			dirty := s.dirty
			s.mu.RUnlock()
			if !dirty {
				continue
			}
			if err := s.Flush(); err != nil && !errors.Is(err, ErrClosed) {
				log.Error().
					Str("component", "store").
					Err(err).
					Msg("Auto-save flush failed")
			}
		}
	}
}

// Save records the job in the mirror. A new record or a status change is
// flushed to disk before Save returns, so admission and every transition
// survive a crash; a write that only touches progress fields stays in
// memory until the next auto-save.
func (s *JSONStore) Save(j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, known := s.jobs[j.ID]
	s.jobs[j.ID] = j.Clone()
	s.dirty = true
	if !known || prev.Status != j.Status {
		if err := s.flushLocked(); err != nil {
			// Roll the mirror back so a rejected write cannot resurface
			// through a later auto-save.
			if known {
				s.jobs[j.ID] = prev
			} else {
				delete(s.jobs, j.ID)
			}
			return err
		}
	}
	return nil
}

func (s *JSONStore) Get(id uuid.UUID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return j.Clone(), nil
}

func (s *JSONStore) List() ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *JSONStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.jobs, id)
	s.dirty = true
	return nil
}

func (s *JSONStore) GetPending() ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []*job.Job
	for _, j := range s.jobs {
		if !j.IsTerminal() {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

func (s *JSONStore) Cleanup(olderThan time.Time) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	removed := 0
	for id, j := range s.jobs {
		if j.IsTerminal() && j.CreatedAt.Before(olderThan) {
			delete(s.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	s.mu.Unlock()

	if removed > 0 {
		if err := s.Flush(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Flush writes the mirror to disk through an atomic replace. The write
// path is serialized by the mutex so concurrent flushes never interleave.
func (s *JSONStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

func (s *JSONStore) flushLocked() error {
	stored := storedJobs{Version: jsonStoreVersion, Jobs: s.jobs}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// Close flushes, stops the auto-save loop and releases the directory lock.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	flushErr := s.flushLocked()
	s.closed = true
	s.mu.Unlock()

	close(s.stopSave)
	<-s.saveDone

	if err := s.lock.Unlock(); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("release storage lock: %w", err)
	}
	return flushErr
}

// Path returns the JSON file location, used in logs and tests.
func (s *JSONStore) Path() string { return s.path }

// Len returns the number of records in the mirror.
func (s *JSONStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
