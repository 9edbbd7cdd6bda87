package retriever

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/pkg/config"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/llm/llmtest"
	"github.com/draftforge/draftforge/pkg/plan"
	"github.com/draftforge/draftforge/pkg/progress"
	"github.com/draftforge/draftforge/pkg/retrieval"
)

type fakeSearcher struct {
	mu      sync.Mutex
	fn      func(keywords string) []retrieval.Snippet
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, keywords string) []retrieval.Snippet {
	f.mu.Lock()
	f.queries = append(f.queries, keywords)
	f.mu.Unlock()
	if f.fn == nil {
		return nil
	}
	return f.fn(keywords)
}

func testCfg() config.RetrieverConfig {
	return config.RetrieverConfig{
		Workers:          2,
		MaxIterations:    3,
		QualityThreshold: 0.7,
		LowScoreCutoff:   0.3,
		TopK:             5,
	}
}

func onePlan() *plan.Plan {
	return &plan.Plan{
		Request: "r",
		DocKind: plan.DocKindTechnical,
		Parts: []plan.Part{{
			Title: "P", Goal: "g",
			Leaves: []plan.Leaf{{Subtitle: "Scheduling", HowToWrite: "Cover the scheduler."}},
		}},
	}
}

// respondReactWith builds a fake that answers reason prompts with the given
// keyword sequence (one entry per iteration) and observe prompts with the
// given scores.
func respondReactWith(keywords []string, scores []string) llmtest.RespondFunc {
	var mu sync.Mutex
	reasonCalls, observeCalls := 0, 0
	return func(_ int, messages []llm.Message) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if strings.Contains(messages[0].Content, "plan retrieval queries") {
			i := reasonCalls
			reasonCalls++
			if i >= len(keywords) {
				i = len(keywords) - 1
			}
			return fmt.Sprintf(`{"analysis": "a", "strategy": "direct", "keywords": %q}`, keywords[i]), nil
		}
		i := observeCalls
		observeCalls++
		if i >= len(scores) {
			i = len(scores) - 1
		}
		return scores[i], nil
	}
}

func TestEnrichStopsAtQualityThreshold(t *testing.T) {
	fake := llmtest.NewFake(respondReactWith([]string{"scheduler, queue, policy"}, []string{"0.8"}))
	searcher := &fakeSearcher{fn: func(string) []retrieval.Snippet {
		return []retrieval.Snippet{{Content: "snippet one"}, {Content: "snippet two"}}
	}}
	r := New(fake, searcher, testCfg(), progress.NewTracker(nil))

	out := r.Enrich(context.Background(), onePlan())

	assert.Equal(t, "snippet one\n\nsnippet two", out.Parts[0].Leaves[0].Evidence)
	assert.Equal(t, []string{"scheduler, queue, policy"}, searcher.queries)
	// One reason call plus one observe call.
	assert.Equal(t, 2, fake.Calls())
}

func TestEnrichNoProgressGuard(t *testing.T) {
	fake := llmtest.NewFake(respondReactWith(
		[]string{"q one", "q two", "q three"},
		[]string{"0.2", "0.25", "0.9"}))
	searcher := &fakeSearcher{}
	r := New(fake, searcher, testCfg(), nil)

	out := r.Enrich(context.Background(), onePlan())

	// Two consecutive scores below the cutoff end the loop at iteration 2:
	// the third query is never attempted.
	assert.Len(t, searcher.queries, 2)
	assert.Equal(t, 4, fake.Calls())
	assert.Equal(t, "", out.Parts[0].Leaves[0].Evidence)
}

func TestEnrichExhaustsIterationBudget(t *testing.T) {
	fake := llmtest.NewFake(respondReactWith(
		[]string{"q one", "q two", "q three"},
		[]string{"0.5", "0.5", "0.5"}))
	searcher := &fakeSearcher{fn: func(q string) []retrieval.Snippet {
		return []retrieval.Snippet{{Content: "for " + q}}
	}}
	r := New(fake, searcher, testCfg(), nil)

	out := r.Enrich(context.Background(), onePlan())

	assert.Len(t, searcher.queries, 3)
	assert.Equal(t, 6, fake.Calls(), "at most two LLM calls per iteration")
	assert.Equal(t, "for q one\n\nfor q two\n\nfor q three", out.Parts[0].Leaves[0].Evidence)
}

func TestEnrichDeduplicatesByExactText(t *testing.T) {
	fake := llmtest.NewFake(respondReactWith(
		[]string{"q one", "q two"},
		[]string{"0.5", "0.8"}))
	searcher := &fakeSearcher{fn: func(string) []retrieval.Snippet {
		return []retrieval.Snippet{{Content: "same snippet"}, {Content: "same snippet"}}
	}}
	r := New(fake, searcher, testCfg(), nil)

	out := r.Enrich(context.Background(), onePlan())
	assert.Equal(t, "same snippet", out.Parts[0].Leaves[0].Evidence)
}

func TestEnrichPerturbsRepeatQueries(t *testing.T) {
	// The model insists on the same keywords and low scores force iteration.
	fake := llmtest.NewFake(respondReactWith(
		[]string{"stuck keywords", "stuck keywords", "stuck keywords"},
		[]string{"0.5", "0.5", "0.5"}))
	searcher := &fakeSearcher{}
	r := New(fake, searcher, testCfg(), nil)

	r.Enrich(context.Background(), onePlan())

	require.Len(t, searcher.queries, 3)
	assert.Equal(t, "stuck keywords", searcher.queries[0])
	assert.Equal(t, "contextual: stuck keywords", searcher.queries[1])
	assert.Equal(t, "semantic: stuck keywords", searcher.queries[2])
}

func TestEnrichBestIterationSnippetsComeFirst(t *testing.T) {
	fake := llmtest.NewFake(respondReactWith(
		[]string{"q one", "q two", "q three"},
		[]string{"0.4", "0.6", "0.5"}))
	searcher := &fakeSearcher{fn: func(q string) []retrieval.Snippet {
		return []retrieval.Snippet{{Content: q + " / a"}, {Content: q + " / b"}}
	}}
	cfg := testCfg()
	cfg.TopK = 4
	r := New(fake, searcher, cfg, nil)

	out := r.Enrich(context.Background(), onePlan())

	// Iteration 2 scored highest: its snippets lead, then arrival order.
	assert.Equal(t,
		"q two / a\n\nq two / b\n\nq one / a\n\nq one / b",
		out.Parts[0].Leaves[0].Evidence)
}

func TestEnrichUnparseableScoreFallsBack(t *testing.T) {
	fake := llmtest.NewFake(respondReactWith(
		[]string{"q one", "q two"},
		[]string{"the results look pretty good to me", "no score here either"}))
	searcher := &fakeSearcher{}
	r := New(fake, searcher, testCfg(), nil)

	r.Enrich(context.Background(), onePlan())

	// Fallback 0.2 twice trips the no-progress guard after two iterations.
	assert.Len(t, searcher.queries, 2)
}

func TestEnrichReasonFailureFailsOnlyThatLeaf(t *testing.T) {
	fake := llmtest.NewFake(func(_ int, messages []llm.Message) (string, error) {
		if strings.Contains(messages[0].Content, "plan retrieval queries") {
			for _, m := range messages {
				if strings.Contains(m.Content, "Broken") {
					return "never json", nil
				}
			}
			return `{"analysis": "a", "strategy": "direct", "keywords": "fine, query, terms"}`, nil
		}
		return "0.9", nil
	})
	searcher := &fakeSearcher{fn: func(string) []retrieval.Snippet {
		return []retrieval.Snippet{{Content: "good evidence"}}
	}}
	tracker := progress.NewTracker(nil)
	r := New(fake, searcher, testCfg(), tracker)

	in := &plan.Plan{
		Request: "r", DocKind: plan.DocKindTechnical,
		Parts: []plan.Part{{
			Title: "P", Goal: "g",
			Leaves: []plan.Leaf{
				{Subtitle: "Broken", HowToWrite: "x"},
				{Subtitle: "Healthy", HowToWrite: "y"},
			},
		}},
	}
	out := r.Enrich(context.Background(), in)

	assert.Equal(t, "", out.Parts[0].Leaves[0].Evidence)
	assert.Equal(t, "good evidence", out.Parts[0].Leaves[1].Evidence)

	s := tracker.Summary()
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "0.0", s.Failures[0].LeafID)
}

func TestEnrichDoesNotMutateInput(t *testing.T) {
	fake := llmtest.NewFake(respondReactWith([]string{"q"}, []string{"0.9"}))
	searcher := &fakeSearcher{fn: func(string) []retrieval.Snippet {
		return []retrieval.Snippet{{Content: "e"}}
	}}
	r := New(fake, searcher, testCfg(), nil)

	in := onePlan()
	out := r.Enrich(context.Background(), in)

	assert.Equal(t, "", in.Parts[0].Leaves[0].Evidence)
	assert.Equal(t, "e", out.Parts[0].Leaves[0].Evidence)
}

func TestParseStrategy(t *testing.T) {
	assert.Equal(t, StrategySemantic, ParseStrategy(" Semantic ", nil))
	assert.Equal(t, StrategyDirect, ParseStrategy("made-up", nil))
	assert.Equal(t, StrategyContextual, ParseStrategy("made-up", []Strategy{StrategyDirect}))
}

func TestNextUnused(t *testing.T) {
	assert.Equal(t, StrategyContextual, NextUnused(StrategyDirect, []Strategy{StrategyDirect}))
	assert.Equal(t, StrategySpecific,
		NextUnused(StrategyDirect, []Strategy{StrategyDirect, StrategyContextual, StrategySemantic}))
	// Wraps around past the end of the canonical order.
	assert.Equal(t, StrategyDirect,
		NextUnused(StrategyAlternative, []Strategy{StrategyAlternative}))
}
