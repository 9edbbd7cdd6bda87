// Package planner builds the document plan from a free-form request in two
// phases: a single structure call that produces the outline, then a pooled
// guidance phase that writes per-leaf instructions. Both phases degrade
// gracefully; the planner always returns a usable plan.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/draftforge/draftforge/pkg/config"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/plan"
	"github.com/draftforge/draftforge/pkg/pool"
	"github.com/draftforge/draftforge/pkg/progress"
)

// Planner turns a request into a fully guided plan.
type Planner struct {
	completer llm.Completer
	workers   int
	tracker   *progress.Tracker
}

// New creates a planner.
func New(completer llm.Completer, cfg config.PlannerConfig, tracker *progress.Tracker) *Planner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Planner{completer: completer, workers: workers, tracker: tracker}
}

const structureSystemPrompt = `You are a document architect. Given a user request,
classify the document and design its outline.

Return JSON only, exactly this shape:
{"doc_kind": "technical|user_manual|research|tutorial",
 "parts": [{"title": "...", "goal": "...", "leaves": [{"subtitle": "..."}]}]}

Rules:
- 2 to 6 parts, each with 2 to 6 leaves.
- "goal" states in one or two sentences why the part exists.
- Subtitles must be unique within a part.`

const guidanceSystemPrompt = `You are a senior technical editor. For each listed
subsection, write one concrete instruction telling a writer what the subsection
must cover, in what order, and what to avoid.

Return JSON only, exactly this shape:
{"guides": [{"subtitle": "...", "how_to_write": "..."}]}

Include every subtitle you were given, verbatim.`

type structureResponse struct {
	DocKind string `json:"doc_kind"`
	Parts   []struct {
		Title  string `json:"title"`
		Goal   string `json:"goal"`
		Leaves []struct {
			Subtitle string `json:"subtitle"`
		} `json:"leaves"`
	} `json:"parts"`
}

type guidanceResponse struct {
	Guides []struct {
		Subtitle   string `json:"subtitle"`
		HowToWrite string `json:"how_to_write"`
	} `json:"guides"`
}

// Plan runs both phases. Structure-phase failure falls back to the default
// skeleton; guidance-phase failure degrades only the affected part. A valid
// kind overrides the model's classification; an empty one leaves it alone.
// The returned plan always passes plan.Validate.
func (p *Planner) Plan(ctx context.Context, request string, kind plan.DocKind) (*plan.Plan, error) {
	if strings.TrimSpace(request) == "" {
		return nil, fmt.Errorf("empty request")
	}

	if p.tracker != nil {
		p.tracker.StageStarted(progress.StagePlanner)
		defer p.tracker.StageCompleted(progress.StagePlanner)
	}

	result := p.structure(ctx, request)
	if kind != "" {
		if kind.Valid() {
			result.DocKind = kind
		} else {
			slog.Warn("Ignoring unknown document kind override", "doc_kind", kind)
		}
	}
	p.guidance(ctx, result)

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("planner produced invalid plan: %w", err)
	}
	return result, nil
}

// structure performs the outline call, degrading to the default skeleton when
// the model never produces a parseable structure.
func (p *Planner) structure(ctx context.Context, request string) *plan.Plan {
	start := time.Now()

	var parsed structureResponse
	err := p.completer.CompleteJSON(ctx, structureMessages(request),
		`{"doc_kind", "parts": [{"title", "goal", "leaves": [{"subtitle"}]}]}`, &parsed)
	if err != nil {
		slog.Warn("Structure phase failed, using default skeleton",
			"error", err, "duration", time.Since(start))
		if p.tracker != nil {
			p.tracker.LeafFailed(progress.StagePlanner, "structure", err.Error())
		}
		return defaultSkeleton(request)
	}

	result := fromStructure(request, parsed)
	if err := result.Validate(); err != nil {
		slog.Warn("Structure phase returned unusable outline, using default skeleton", "error", err)
		return defaultSkeleton(request)
	}

	slog.Info("Structure phase completed",
		"doc_kind", result.DocKind, "parts", len(result.Parts),
		"leaves", result.LeafCount(), "duration", time.Since(start))
	return result
}

// guidance fills how_to_write for every leaf, one pooled call per part.
func (p *Planner) guidance(ctx context.Context, pl *plan.Plan) {
	pool.Run(ctx, p.workers, len(pl.Parts), func(ctx context.Context, pi int) error {
		part := &pl.Parts[pi]

		var parsed guidanceResponse
		err := p.completer.CompleteJSON(ctx, guidanceMessages(pl.Request, part),
			`{"guides": [{"subtitle", "how_to_write"}]}`, &parsed)
		if err != nil {
			slog.Warn("Guidance phase failed for part, using default instructions",
				"part", part.Title, "error", err)
			if p.tracker != nil {
				p.tracker.LeafFailed(progress.StagePlanner, fmt.Sprintf("part-%d", pi),
					"guidance failed: "+err.Error())
			}
		}

		guides := make(map[string]string, len(parsed.Guides))
		for _, g := range parsed.Guides {
			if g.HowToWrite != "" {
				guides[g.Subtitle] = g.HowToWrite
			}
		}

		for li := range part.Leaves {
			leaf := &part.Leaves[li]
			if how, ok := guides[leaf.Subtitle]; ok {
				leaf.HowToWrite = how
				continue
			}
			slog.Info("No guidance returned for leaf, using default instruction",
				"part", part.Title, "subtitle", leaf.Subtitle)
			leaf.HowToWrite = defaultInstruction(leaf.Subtitle, part.Goal)
		}

		if err == nil && p.tracker != nil {
			p.tracker.LeafCompleted(progress.StagePlanner, fmt.Sprintf("part-%d", pi))
		}
		return nil
	})
}

func fromStructure(request string, parsed structureResponse) *plan.Plan {
	kind := plan.DocKind(parsed.DocKind)
	if !kind.Valid() {
		slog.Warn("Model returned unknown document kind, defaulting to technical", "doc_kind", parsed.DocKind)
		kind = plan.DocKindTechnical
	}

	result := &plan.Plan{Request: request, DocKind: kind}
	for _, part := range parsed.Parts {
		cp := plan.Part{Title: strings.TrimSpace(part.Title), Goal: strings.TrimSpace(part.Goal)}
		for _, leaf := range part.Leaves {
			if subtitle := strings.TrimSpace(leaf.Subtitle); subtitle != "" {
				cp.Leaves = append(cp.Leaves, plan.Leaf{Subtitle: subtitle})
			}
		}
		if cp.Title != "" && len(cp.Leaves) > 0 {
			result.Parts = append(result.Parts, cp)
		}
	}
	return result
}

// defaultSkeleton is the structure-phase fallback: a minimal outline that
// keeps the pipeline moving when the model never yields valid JSON.
func defaultSkeleton(request string) *plan.Plan {
	return &plan.Plan{
		Request: request,
		DocKind: plan.DocKindTechnical,
		Parts: []plan.Part{{
			Title: "Overview",
			Goal:  "Present the requested content as a single coherent section.",
			Leaves: []plan.Leaf{
				{Subtitle: "Background"},
				{Subtitle: "Main Content"},
				{Subtitle: "Summary"},
			},
		}},
	}
}

func defaultInstruction(subtitle, goal string) string {
	return fmt.Sprintf("Write a thorough, accurate treatment of %q. Cover the topic completely and keep it consistent with the section's purpose: %s", subtitle, goal)
}

func structureMessages(request string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: structureSystemPrompt},
		{Role: llm.RoleUser, Content: request},
	}
}

func guidanceMessages(request string, part *plan.Part) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Document request: %s\n\nPart: %s\nGoal: %s\n\nSubsections:\n", request, part.Title, part.Goal)
	for _, leaf := range part.Leaves {
		fmt.Fprintf(&b, "- %s\n", leaf.Subtitle)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: guidanceSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}
