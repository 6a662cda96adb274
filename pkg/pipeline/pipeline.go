// Package pipeline executes conversion jobs as an ordered sequence of
// stages. Which stages run is decided by the job's options; every stage
// boundary checks for cancellation so a cancel lands within one stage of
// being issued.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/bookforge/bookforge/pkg/job"
	"github.com/bookforge/bookforge/pkg/pagestate"
	"github.com/bookforge/bookforge/pkg/worker"
)

// Env is the per-job execution environment handed to stages.
type Env struct {
	Job        *job.Job
	WorkDir    string
	OutputPath string

	// Pages tracks per-page outcomes. StatePath is where it persists; a
	// conversion interrupted mid-document resumes from it on the next
	// attempt instead of redoing finished pages.
	Pages     *pagestate.State
	StatePath string
}

// StageFunc performs one stage of the conversion.
type StageFunc func(ctx context.Context, env *Env) error

// PageCountFunc reports how many pages the source document has. The
// default treats the document as a single page; registered conversion
// tooling replaces it with a real reader.
type PageCountFunc func(ctx context.Context, env *Env) (int, error)

type stage struct {
	name string
	fn   StageFunc
}

// Config holds pipeline paths.
type Config struct {
	// OutputDir receives finished artifacts.
	OutputDir string `koanf:"output_dir"`
	// WorkDir holds per-job scratch space, removed after execution.
	WorkDir string `koanf:"work_dir"`
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{OutputDir: "./output", WorkDir: "./work"}
}

// Pipeline implements the worker's Executor contract. The stage bodies
// are pluggable: Register swaps in a real implementation for a named
// stage, which is how the conversion tooling binds in without the
// orchestration layer knowing about it.
type Pipeline struct {
	cfg        Config
	stages     map[string]StageFunc
	countPages PageCountFunc
}

// Stage names in execution order. Optional stages only run when the job's
// options ask for them.
const (
	StageRender   = "render"
	StageDeskew   = "deskew"
	StageUpscale  = "upscale"
	StageOCR      = "ocr"
	StageAssemble = "assemble"
)

var _ worker.Executor = (*Pipeline)(nil)

// New creates a pipeline with passthrough stage bodies.
func New(cfg Config) *Pipeline {
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultConfig().OutputDir
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = DefaultConfig().WorkDir
	}
	return &Pipeline{
		cfg: cfg,
		stages: map[string]StageFunc{
			StageRender:   renderPages,
			StageDeskew:   passthrough,
			StageUpscale:  passthrough,
			StageOCR:      passthrough,
			StageAssemble: assemble,
		},
		countPages: singlePage,
	}
}

// Register replaces the body of a named stage.
func (p *Pipeline) Register(name string, fn StageFunc) {
	p.stages[name] = fn
}

// RegisterPageCounter replaces the page counting function.
func (p *Pipeline) RegisterPageCounter(fn PageCountFunc) {
	p.countPages = fn
}

// plan selects the stages a job needs, in order.
func (p *Pipeline) plan(opts job.ConvertOptions) []stage {
	out := []stage{{StageRender, p.stages[StageRender]}}
	if opts.Deskew {
		out = append(out, stage{StageDeskew, p.stages[StageDeskew]})
	}
	if opts.Upscale {
		out = append(out, stage{StageUpscale, p.stages[StageUpscale]})
	}
	if opts.OCR {
		out = append(out, stage{StageOCR, p.stages[StageOCR]})
	}
	return append(out, stage{StageAssemble, p.stages[StageAssemble]})
}

// Execute runs the planned stages for one job.
func (p *Pipeline) Execute(ctx context.Context, j *job.Job, progress worker.ProgressFunc) (string, error) {
	workDir := filepath.Join(p.cfg.WorkDir, j.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	env := &Env{
		Job:        j,
		WorkDir:    workDir,
		OutputPath: filepath.Join(p.cfg.OutputDir, j.ID.String()+".pdf"),
	}
	if err := p.resumePages(ctx, env); err != nil {
		return "", err
	}

	stages := p.plan(j.Options)
	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			p.savePages(env)
			return "", err
		}
		progress(job.NewProgress(i+1, len(stages), st.name))
		log.Debug().
			Str("component", "pipeline").
			Str("job_id", j.ID.String()).
			Str("stage", st.name).
			Msg("Stage started")
		if err := st.fn(ctx, env); err != nil {
			p.savePages(env)
			return "", fmt.Errorf("stage %s: %w", st.name, err)
		}
	}
	if err := ctx.Err(); err != nil {
		p.savePages(env)
		return "", err
	}
	// The document is through; its resume state has nothing left to say.
	_ = os.Remove(env.StatePath)
	return env.OutputPath, nil
}

// resumePages attaches per-page state to the environment, picking up a
// prior interrupted run of the same source when one is still valid. A
// corrupt state file costs a redo, never the conversion.
func (p *Pipeline) resumePages(ctx context.Context, env *Env) error {
	count, err := p.countPages(ctx, env)
	if err != nil {
		return fmt.Errorf("count pages: %w", err)
	}
	env.StatePath = pagestate.PathFor(p.cfg.WorkDir, env.Job.InputPath)
	pages, err := pagestate.Resume(env.StatePath, env.Job.InputPath, p.cfg.OutputDir, count, env.Job.Options)
	if err != nil {
		log.Warn().
			Str("component", "pipeline").
			Str("job_id", env.Job.ID.String()).
			Err(err).
			Msg("Page state unusable, starting fresh")
		pages = pagestate.New(env.Job.InputPath, p.cfg.OutputDir, count, env.Job.Options)
	}
	env.Pages = pages
	return nil
}

func (p *Pipeline) savePages(env *Env) {
	if env.Pages == nil {
		return
	}
	if err := env.Pages.Save(env.StatePath); err != nil {
		log.Warn().
			Str("component", "pipeline").
			Str("job_id", env.Job.ID.String()).
			Err(err).
			Msg("Failed to save page state")
	}
}

// passthrough is the default stage body; real conversion tooling replaces
// it through Register.
func passthrough(ctx context.Context, env *Env) error {
	return ctx.Err()
}

// singlePage is the default page counter.
func singlePage(ctx context.Context, env *Env) (int, error) {
	return 1, nil
}

// renderPages is the default render body: it walks the pages still worth
// attempting and records them as rendered, checkpointing the state so an
// interruption resumes mid-document.
func renderPages(ctx context.Context, env *Env) error {
	for _, idx := range env.Pages.Remaining() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := env.Pages.MarkSuccess(idx); err != nil {
			return err
		}
	}
	return env.Pages.Save(env.StatePath)
}

// assemble produces the output artifact. Without registered conversion
// stages it copies the input through, which keeps the orchestration path
// exercised end to end.
func assemble(ctx context.Context, env *Env) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if env.Job.InputPath == "" {
		return os.WriteFile(env.OutputPath, nil, 0o644)
	}
	src, err := os.Open(env.Job.InputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(env.OutputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
