// Package pagestate tracks per-page conversion outcomes for a source
// document, so an interrupted conversion resumes instead of redoing pages
// that already succeeded. The state is bound to the options it was
// produced with: a changed configuration invalidates it wholesale.
package pagestate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bookforge/bookforge/pkg/job"
)

// PageStatus is the outcome recorded for one page.
type PageStatus string

const (
	// PagePending has not been attempted, or its result was invalidated.
	PagePending PageStatus = "pending"
	// PageSuccess produced its output artifact.
	PageSuccess PageStatus = "success"
	// PageFailed failed but has attempts left.
	PageFailed PageStatus = "failed"
	// PageAbandoned failed and exhausted its attempts; reprocessing skips
	// it so one bad page cannot wedge the whole document.
	PageAbandoned PageStatus = "abandoned"
)

// Page is the record for a single page.
type Page struct {
	Index    int        `json:"index"`
	Status   PageStatus `json:"status"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

// State is the resumable conversion state for one source document.
type State struct {
	Source     string    `json:"source"`
	OutputDir  string    `json:"output_dir"`
	Pages      []Page    `json:"pages"`
	ConfigHash string    `json:"config_hash"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MaxAttempts is how many times a page may fail before being abandoned.
const MaxAttempts = 3

// New creates a fresh state with every page pending.
func New(source, outputDir string, pageCount int, opts job.ConvertOptions) *State {
	now := time.Now().UTC()
	pages := make([]Page, pageCount)
	for i := range pages {
		pages[i] = Page{Index: i, Status: PagePending}
	}
	return &State{
		Source:     source,
		OutputDir:  outputDir,
		Pages:      pages,
		ConfigHash: HashOptions(opts),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// HashOptions fingerprints the options that shape page output. Two option
// sets with the same fingerprint produce interchangeable pages.
func HashOptions(opts job.ConvertOptions) string {
	data, _ := json.Marshal(opts)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Matches reports whether existing page results are usable under the given
// options.
func (s *State) Matches(opts job.ConvertOptions) bool {
	return s.ConfigHash == HashOptions(opts)
}

// MarkSuccess records a page as done.
func (s *State) MarkSuccess(index int) error {
	p, err := s.page(index)
	if err != nil {
		return err
	}
	p.Status = PageSuccess
	p.Error = ""
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed records a failed attempt. Once the attempt budget is spent
// the page moves to abandoned and is not offered for reprocessing again.
func (s *State) MarkFailed(index int, reason string) error {
	p, err := s.page(index)
	if err != nil {
		return err
	}
	p.Attempts++
	p.Error = reason
	if p.Attempts >= MaxAttempts {
		p.Status = PageAbandoned
	} else {
		p.Status = PageFailed
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *State) page(index int) (*Page, error) {
	if index < 0 || index >= len(s.Pages) {
		return nil, fmt.Errorf("page index %d out of range [0,%d)", index, len(s.Pages))
	}
	return &s.Pages[index], nil
}

// Remaining returns the indexes still worth attempting: pending pages and
// failed pages with attempts left. Abandoned pages are excluded.
func (s *State) Remaining() []int {
	var out []int
	for _, p := range s.Pages {
		if p.Status == PagePending || p.Status == PageFailed {
			out = append(out, p.Index)
		}
	}
	return out
}

// Done reports whether no page remains attemptable.
func (s *State) Done() bool {
	return len(s.Remaining()) == 0
}

// Counts tallies pages per status.
func (s *State) Counts() map[PageStatus]int {
	out := make(map[PageStatus]int, 4)
	for _, p := range s.Pages {
		out[p.Status]++
	}
	return out
}

// Reset returns every non-success page to pending with a fresh attempt
// budget. Used when the operator explicitly asks for a reprocess.
func (s *State) Reset() {
	for i := range s.Pages {
		if s.Pages[i].Status != PageSuccess {
			s.Pages[i] = Page{Index: s.Pages[i].Index, Status: PagePending}
		}
	}
	s.UpdatedAt = time.Now().UTC()
}

// PathFor returns the state file path for a source document. The name is
// derived from the source path, so a retry of the same document finds the
// prior state regardless of job identity.
func PathFor(dir, source string) string {
	sum := sha256.Sum256([]byte(source))
	return filepath.Join(dir, hex.EncodeToString(sum[:8])+".pages.json")
}

// Load reads a state file. A missing file returns (nil, nil) so callers
// can treat absence as "start fresh".
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read page state %s: %w", path, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode page state %s: %w", path, err)
	}
	return &s, nil
}

// Resume loads prior state for the source if it is still valid under the
// given options; otherwise it returns a fresh state. A stale or missing
// state never fails the conversion, it just costs the redo.
func Resume(path, source, outputDir string, pageCount int, opts job.ConvertOptions) (*State, error) {
	prior, err := Load(path)
	if err != nil {
		return nil, err
	}
	if prior == nil || prior.Source != source || len(prior.Pages) != pageCount || !prior.Matches(opts) {
		return New(source, outputDir, pageCount, opts), nil
	}
	return prior, nil
}

// Save writes the state through a temp file and atomic rename.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode page state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
