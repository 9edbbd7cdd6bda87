// Package pipeline chains the four stages into one run: plan, gather
// evidence, write, assemble. Each stage's plan is persisted so a run can be
// inspected or resumed stage by stage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/pkg/assemble"
	"github.com/draftforge/draftforge/pkg/config"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/plan"
	"github.com/draftforge/draftforge/pkg/planner"
	"github.com/draftforge/draftforge/pkg/progress"
	"github.com/draftforge/draftforge/pkg/retrieval"
	"github.com/draftforge/draftforge/pkg/retriever"
	"github.com/draftforge/draftforge/pkg/writer"
)

// Artifact file names inside a run's output directory.
const (
	ArtifactPlannerPlan   = "plan_after_planner.json"
	ArtifactRetrieverPlan = "plan_after_retriever.json"
	ArtifactWriterPlan    = "plan_after_writer.json"
	ArtifactDocument      = "document.md"
)

// Result is the outcome of one pipeline run.
type Result struct {
	RunID    string
	Plan     *plan.Plan
	Document string
	Stats    assemble.Stats
	Summary  progress.Summary
	OutDir   string
	Duration time.Duration
}

// Pipeline owns one configured set of stage agents. All collaborators are
// injected; nothing is process-global, so tests run pipelines side by side.
type Pipeline struct {
	cfg       config.Config
	planner   *planner.Planner
	retriever *retriever.Retriever
	writer    *writer.Writer
	tracker   *progress.Tracker
}

// New wires the stages from a validated config and injected clients.
func New(cfg config.Config, completer llm.Completer, searcher retrieval.Searcher, tracker *progress.Tracker) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		planner:   planner.New(completer, cfg.Planner, tracker),
		retriever: retriever.New(completer, searcher, cfg.Retriever, tracker),
		writer:    writer.New(completer, cfg.Writer, tracker),
		tracker:   tracker,
	}
}

// Run executes all four stages for one request. A fresh uuid names the run's
// output directory under the configured output dir. kind, when set, overrides
// the planner's document classification. Stages always advance: every stage
// degrades internally rather than failing, so the only errors Run returns are
// an unusable request or a context cancellation surfacing through the
// planner.
func (p *Pipeline) Run(ctx context.Context, request string, kind plan.DocKind) (*Result, error) {
	runID := uuid.NewString()
	outDir := filepath.Join(p.cfg.Output.Dir, runID)
	started := time.Now()

	slog.Info("Pipeline run starting", "run_id", runID, "out_dir", outDir)

	planned, err := p.planner.Plan(ctx, request, kind)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	p.persistPlan(planned, outDir, ArtifactPlannerPlan)

	enriched := p.retriever.Enrich(ctx, planned)
	p.persistPlan(enriched, outDir, ArtifactRetrieverPlan)

	written := p.writer.Write(ctx, enriched)
	p.persistPlan(written, outDir, ArtifactWriterPlan)

	if p.tracker != nil {
		p.tracker.StageStarted(progress.StageAssembler)
	}
	document, stats := assemble.Document(written)
	if p.tracker != nil {
		p.tracker.StageCompleted(progress.StageAssembler)
	}
	p.persistDocument(document, outDir)

	result := &Result{
		RunID:    runID,
		Plan:     written,
		Document: document,
		Stats:    stats,
		OutDir:   outDir,
		Duration: time.Since(started),
	}
	if p.tracker != nil {
		result.Summary = p.tracker.Summary()
	}

	slog.Info("Pipeline run finished",
		"run_id", runID,
		"parts", stats.Parts,
		"sections", stats.Sections,
		"completed_sections", stats.CompletedSections,
		"mean_quality", fmt.Sprintf("%.2f", stats.MeanQuality),
		"duration", result.Duration)
	return result, nil
}

// persistPlan writes a stage artifact. Artifacts are diagnostics: a write
// failure is logged and the run continues.
func (p *Pipeline) persistPlan(pl *plan.Plan, outDir, name string) {
	if err := pl.Save(filepath.Join(outDir, name)); err != nil {
		slog.Warn("Failed to persist stage artifact", "artifact", name, "error", err)
	}
}

func (p *Pipeline) persistDocument(document, outDir string) {
	path := filepath.Join(outDir, ArtifactDocument)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		slog.Warn("Failed to create output dir", "dir", outDir, "error", err)
		return
	}
	if err := os.WriteFile(path, []byte(document), 0o644); err != nil {
		slog.Warn("Failed to persist document", "path", path, "error", err)
	}
}
