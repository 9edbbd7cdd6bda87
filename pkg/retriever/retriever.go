// Package retriever attaches evidence to every plan leaf through an
// iterative reason/act/observe/reflect loop against the retrieval service.
// Each leaf runs independently inside a bounded worker pool; a failed leaf
// ends with empty evidence and never disturbs its siblings.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/draftforge/draftforge/pkg/config"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/plan"
	"github.com/draftforge/draftforge/pkg/pool"
	"github.com/draftforge/draftforge/pkg/progress"
	"github.com/draftforge/draftforge/pkg/retrieval"
)

// fallbackScore is assigned when the observation call yields nothing
// parseable as a float.
const fallbackScore = 0.2

// Retriever gathers evidence for plan leaves.
type Retriever struct {
	completer llm.Completer
	searcher  retrieval.Searcher
	cfg       config.RetrieverConfig
	tracker   *progress.Tracker
}

// New creates a retriever.
func New(completer llm.Completer, searcher retrieval.Searcher, cfg config.RetrieverConfig, tracker *progress.Tracker) *Retriever {
	return &Retriever{completer: completer, searcher: searcher, cfg: cfg, tracker: tracker}
}

// state is the per-leaf loop state. It lives on one worker's stack and is
// never shared.
type state struct {
	attemptedQueries    []string
	attemptedStrategies []Strategy
	qualityHistory      []float64
	gathered            []gatheredSnippet
	seen                map[string]bool
}

// gatheredSnippet remembers which iteration a snippet arrived in, so evidence
// assembly can put the best iteration's snippets first.
type gatheredSnippet struct {
	retrieval.Snippet
	iteration int
}

type reasonResponse struct {
	Analysis string `json:"analysis"`
	Strategy string `json:"strategy"`
	Keywords string `json:"keywords"`
}

// Enrich fills the evidence field of every leaf. It never returns an error:
// leaves that fail are recorded in the tracker and end with empty evidence.
func (r *Retriever) Enrich(ctx context.Context, in *plan.Plan) *plan.Plan {
	out := in.Clone()

	if r.tracker != nil {
		r.tracker.StageStarted(progress.StageRetriever)
		defer r.tracker.StageCompleted(progress.StageRetriever)
	}

	refs := out.Leaves()
	errs := pool.Run(ctx, r.cfg.Workers, len(refs), func(ctx context.Context, i int) error {
		leaf := out.Leaf(refs[i])
		evidence, err := r.enrichLeaf(ctx, refs[i], leaf)
		if err != nil {
			leaf.Evidence = ""
			return err
		}
		leaf.Evidence = evidence
		if r.tracker != nil {
			r.tracker.LeafCompleted(progress.StageRetriever, refs[i].String())
		}
		return nil
	})

	for i, err := range errs {
		if err != nil {
			slog.Warn("Leaf evidence gathering failed", "leaf", refs[i].String(), "error", err)
			if r.tracker != nil {
				r.tracker.LeafFailed(progress.StageRetriever, refs[i].String(), err.Error())
			}
		}
	}
	return out
}

// enrichLeaf runs the reason/act/observe/reflect loop for one leaf and
// returns the consolidated evidence. At most 2×max_iterations LLM calls.
func (r *Retriever) enrichLeaf(ctx context.Context, ref plan.LeafRef, leaf *plan.Leaf) (string, error) {
	st := &state{seen: make(map[string]bool)}

	for iteration := 0; ; iteration++ {
		strategy, keywords, err := r.reason(ctx, leaf, st)
		if err != nil {
			return "", fmt.Errorf("reason call: %w", err)
		}

		// A byte-identical repeat query would loop forever on the same
		// results; rotate the strategy and re-prefix to force divergence.
		if containsString(st.attemptedQueries, keywords) {
			strategy = NextUnused(strategy, st.attemptedStrategies)
			keywords = string(strategy) + ": " + keywords
			slog.Debug("Repeat query perturbed", "leaf", ref.String(), "strategy", strategy)
		}
		st.attemptedQueries = append(st.attemptedQueries, keywords)
		st.attemptedStrategies = append(st.attemptedStrategies, strategy)

		snippets := r.searcher.Search(ctx, keywords)
		merged := r.merge(st, snippets, iteration)

		score := r.observe(ctx, leaf, keywords, snippets)
		st.qualityHistory = append(st.qualityHistory, score)

		if r.tracker != nil {
			r.tracker.LeafProgress(progress.StageRetriever, ref.String(), iteration, score)
		}
		slog.Debug("Retrieval iteration finished",
			"leaf", ref.String(), "iteration", iteration, "strategy", strategy,
			"new_snippets", merged, "score", score)

		if r.done(st, score, iteration) {
			break
		}
	}

	return r.assemble(st), nil
}

// reason asks the model for the next strategy and keyword list.
func (r *Retriever) reason(ctx context.Context, leaf *plan.Leaf, st *state) (Strategy, string, error) {
	var parsed reasonResponse
	err := r.completer.CompleteJSON(ctx, reasonMessages(leaf, st),
		`{"analysis", "strategy", "keywords"}`, &parsed)
	if err != nil {
		return "", "", err
	}

	keywords := strings.TrimSpace(parsed.Keywords)
	if keywords == "" {
		keywords = leaf.Subtitle
	}
	return ParseStrategy(parsed.Strategy, st.attemptedStrategies), keywords, nil
}

// merge adds snippets to the gathered set, deduplicating by exact text (or a
// configured prefix of it). Returns how many were new.
func (r *Retriever) merge(st *state, snippets []retrieval.Snippet, iteration int) int {
	added := 0
	for _, s := range snippets {
		key := s.Content
		if n := r.cfg.DedupPrefixLen; n > 0 && len(key) > n {
			key = key[:n]
		}
		if st.seen[key] {
			continue
		}
		st.seen[key] = true
		st.gathered = append(st.gathered, gatheredSnippet{Snippet: s, iteration: iteration})
		added++
	}
	return added
}

var floatRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// observe scores the current query's results in [0,1]. Anything that fails —
// the call itself or parsing — degrades to the fallback score so the loop
// keeps its no-progress accounting.
func (r *Retriever) observe(ctx context.Context, leaf *plan.Leaf, keywords string, snippets []retrieval.Snippet) float64 {
	text, err := r.completer.Complete(ctx, observeMessages(leaf, keywords, snippets), nil)
	if err != nil {
		slog.Warn("Observation call failed, using fallback score", "error", err)
		return fallbackScore
	}

	match := floatRe.FindString(text)
	if match == "" {
		slog.Warn("Observation response had no score, using fallback", "response", firstLine(text))
		return fallbackScore
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return fallbackScore
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// done applies the reflect exit conditions.
func (r *Retriever) done(st *state, score float64, iteration int) bool {
	if score >= r.cfg.QualityThreshold {
		return true
	}
	n := len(st.qualityHistory)
	if n >= 2 && st.qualityHistory[n-1] < r.cfg.LowScoreCutoff && st.qualityHistory[n-2] < r.cfg.LowScoreCutoff {
		return true
	}
	return iteration+1 >= r.cfg.MaxIterations
}

// assemble consolidates gathered snippets into the evidence string: the
// highest-scoring iteration's snippets first in arrival order, then the rest
// by arrival, capped at top_k and joined by blank lines.
func (r *Retriever) assemble(st *state) string {
	if len(st.gathered) == 0 {
		return ""
	}

	best := 0
	for i, score := range st.qualityHistory {
		if score > st.qualityHistory[best] {
			best = i
		}
	}

	ordered := make([]gatheredSnippet, 0, len(st.gathered))
	for _, s := range st.gathered {
		if s.iteration == best {
			ordered = append(ordered, s)
		}
	}
	for _, s := range st.gathered {
		if s.iteration != best {
			ordered = append(ordered, s)
		}
	}

	k := r.cfg.TopK
	if k <= 0 || k > len(ordered) {
		k = len(ordered)
	}

	parts := make([]string, 0, k)
	for _, s := range ordered[:k] {
		parts = append(parts, s.Content)
	}
	return strings.Join(parts, "\n\n")
}

const reasonSystemPrompt = `You plan retrieval queries for a document writer.
Given the section being written and the search history, pick the next
strategy and keywords.

Return JSON only, exactly this shape:
{"analysis": "...", "strategy": "...", "keywords": "..."}

"keywords" is 3 to 5 comma-separated search terms.
Never repeat a previous query.`

func reasonMessages(leaf *plan.Leaf, st *state) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Section: %s\nInstruction: %s\n", leaf.Subtitle, leaf.HowToWrite)

	b.WriteString("\nAvailable strategies:\n")
	for _, s := range Strategies {
		fmt.Fprintf(&b, "- %s: %s\n", s, s.Hint())
	}

	if len(st.attemptedQueries) > 0 {
		b.WriteString("\nAttempted queries (chronological):\n")
		for i, q := range st.attemptedQueries {
			fmt.Fprintf(&b, "%d. [%s] %q scored %.2f\n",
				i+1, st.attemptedStrategies[i], q, st.qualityHistory[i])
		}
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: reasonSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

const observeSystemPrompt = `You judge retrieval results for a document writer.
Score how well the snippets serve the section on relevance, completeness and
utility. Respond with a single number between 0 and 1. No other text.`

func observeMessages(leaf *plan.Leaf, keywords string, snippets []retrieval.Snippet) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Section: %s\nInstruction: %s\nQuery: %s\n\n", leaf.Subtitle, leaf.HowToWrite, keywords)

	if len(snippets) == 0 {
		b.WriteString("No results were returned.\n")
	}
	for i, s := range snippets {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "Result %d: %s\n\n", i+1, s.Content)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: observeSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
