// Package writer drafts and grades prose for every plan leaf. Each leaf gets
// a bounded draft/evaluate loop: a cheap rule check filters obviously broken
// drafts before the model is asked to grade, and evaluator feedback feeds the
// next attempt.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/draftforge/draftforge/pkg/config"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/plan"
	"github.com/draftforge/draftforge/pkg/pool"
	"github.com/draftforge/draftforge/pkg/progress"
)

// Placeholder is the prose used when a leaf cannot be written at all.
const Placeholder = "Content unavailable for this section."

// Fast rule check bounds, in characters of draft text.
const (
	minDraftLen = 200
	maxDraftLen = 2000
)

// Writer produces prose and quality for plan leaves.
type Writer struct {
	completer llm.Completer
	cfg       config.WriterConfig
	tracker   *progress.Tracker
}

// New creates a writer.
func New(completer llm.Completer, cfg config.WriterConfig, tracker *progress.Tracker) *Writer {
	return &Writer{completer: completer, cfg: cfg, tracker: tracker}
}

type evaluation struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Write fills prose and quality for every leaf. Leaves that cannot be
// written end with the placeholder and quality 0; the pipeline always gets a
// complete plan back.
func (w *Writer) Write(ctx context.Context, in *plan.Plan) *plan.Plan {
	out := in.Clone()

	if w.tracker != nil {
		w.tracker.StageStarted(progress.StageWriter)
		defer w.tracker.StageCompleted(progress.StageWriter)
	}

	refs := out.Leaves()
	pool.Run(ctx, w.cfg.Workers, len(refs), func(ctx context.Context, i int) error {
		leaf := out.Leaf(refs[i])
		w.writeLeaf(ctx, refs[i], leaf)
		return nil
	})
	return out
}

// writeLeaf runs the attempt loop for one leaf. At most 2×max_attempts LLM
// calls: one draft and at most one evaluation per attempt.
func (w *Writer) writeLeaf(ctx context.Context, ref plan.LeafRef, leaf *plan.Leaf) {
	var (
		lastProse string
		lastScore float64
		feedback  string
	)

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		draft, err := w.completer.Complete(ctx, draftMessages(leaf, feedback), nil)
		if err != nil {
			slog.Warn("Draft call failed", "leaf", ref.String(), "attempt", attempt, "error", err)
			if lastProse == "" {
				leaf.Prose = Placeholder
				leaf.Quality = 0
				if w.tracker != nil {
					w.tracker.LeafFailed(progress.StageWriter, ref.String(), "draft failed: "+err.Error())
				}
				return
			}
			break
		}
		draft = strings.TrimSpace(draft)

		score, fb, final := w.fastCheck(draft)
		if !final {
			score, fb = w.evaluate(ctx, leaf, draft)
		}

		lastProse, lastScore = draft, score
		if w.tracker != nil {
			w.tracker.LeafProgress(progress.StageWriter, ref.String(), attempt, score)
		}

		if score >= w.cfg.QualityThreshold {
			break
		}
		feedback = fb
	}

	leaf.Prose = Clean(lastProse, leaf.Subtitle)
	leaf.Quality = lastScore

	if lastScore < w.cfg.QualityThreshold {
		if w.tracker != nil {
			w.tracker.LeafFailed(progress.StageWriter, ref.String(),
				fmt.Sprintf("quality %.2f below threshold after %d attempts", lastScore, w.cfg.MaxAttempts))
		}
		return
	}
	if w.tracker != nil {
		w.tracker.LeafCompleted(progress.StageWriter, ref.String())
	}
}

// fastCheck grades a draft without a model call. final reports whether the
// verdict stands on its own (a failing draft is never sent to the evaluator).
func (w *Writer) fastCheck(draft string) (score float64, feedback string, final bool) {
	switch {
	case len(draft) < minDraftLen:
		return 0.1, "too short", true
	case len(draft) > maxDraftLen:
		return 0.4, "too long, tighten", true
	case strings.HasPrefix(draft, "[") && strings.HasSuffix(draft, "]"):
		return 0.0, "regeneration needed", true
	}
	return 0, "", false
}

// evaluateFallbackScore is recorded when the evaluator never answers: the
// draft is kept but stays well below any sane threshold, so remaining
// attempts retry and an unevaluated leaf is never reported as near-acceptable.
const evaluateFallbackScore = 0.2

// evaluate asks the model to grade the draft. Scores come back on a 0–100
// scale and are normalized.
func (w *Writer) evaluate(ctx context.Context, leaf *plan.Leaf, draft string) (float64, string) {
	var ev evaluation
	err := w.completer.CompleteJSON(ctx, evaluateMessages(leaf, draft),
		`{"score": 0-100, "feedback": "..."}`, &ev)
	if err != nil {
		slog.Warn("Evaluation call failed, keeping draft unscored", "error", err)
		return evaluateFallbackScore, "evaluation unavailable"
	}

	score := float64(ev.Score) / 100
	if w.cfg.ShouldClampScore() {
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
	}
	return score, ev.Feedback
}

const draftSystemPrompt = `You write one section of a larger document. Write
plain prose only: no headings, no Markdown decoration, no lists of caveats.
Target 800 to 1200 characters. Ground every claim in the provided evidence
when evidence is given.`

func draftMessages(leaf *plan.Leaf, feedback string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Section: %s\nInstruction: %s\n", leaf.Subtitle, leaf.HowToWrite)
	if leaf.Evidence != "" {
		fmt.Fprintf(&b, "\nEvidence:\n%s\n", leaf.Evidence)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nYour previous draft was rejected: %s\nRewrite it accordingly.\n", feedback)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: draftSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

const evaluateSystemPrompt = `You grade a section draft against its writing
instruction and evidence. Judge accuracy, coverage and tone.

Return JSON only, exactly this shape:
{"score": <integer 0-100>, "feedback": "<one actionable sentence>"}`

func evaluateMessages(leaf *plan.Leaf, draft string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", leaf.HowToWrite)
	if leaf.Evidence != "" {
		fmt.Fprintf(&b, "\nEvidence:\n%s\n", leaf.Evidence)
	}
	fmt.Fprintf(&b, "\nDraft:\n%s\n", draft)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: evaluateSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}
