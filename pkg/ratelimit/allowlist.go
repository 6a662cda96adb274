package ratelimit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// allowlist is a hot-reloading set of exempt client IDs, one per line.
// Blank lines and #-comments are ignored.
type allowlist struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	entries map[string]struct{}
}

func newAllowlist(path string) (*allowlist, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: invalid allowlist path %q: %w", path, err)
	}

	a := &allowlist{path: abs, entries: make(map[string]struct{})}
	if err := a.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: create allowlist watcher: %w", err)
	}
	// Watch the directory, not the file: editors and atomic writers
	// replace the file, which would orphan a file-level watch.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("ratelimit: watch allowlist dir: %w", err)
	}
	a.watcher = watcher

	go a.watch()
	return a, nil
}

func (a *allowlist) reload() error {
	f, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("ratelimit: open allowlist: %w", err)
	}
	defer f.Close()

	entries := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ratelimit: read allowlist: %w", err)
	}

	a.mu.Lock()
	a.entries = entries
	a.mu.Unlock()

	log.Debug().
		Str("component", "ratelimit").
		Int("entries", len(entries)).
		Msg("Allowlist loaded")
	return nil
}

func (a *allowlist) watch() {
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if event.Name != a.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := a.reload(); err != nil {
				// Keep the previous entries on a bad reload.
				log.Warn().
					Str("component", "ratelimit").
					Err(err).
					Msg("Allowlist reload failed")
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().
				Str("component", "ratelimit").
				Err(err).
				Msg("Allowlist watcher error")
		}
	}
}

func (a *allowlist) contains(clientID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.entries[clientID]
	return ok
}

func (a *allowlist) size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *allowlist) close() error {
	return a.watcher.Close()
}
