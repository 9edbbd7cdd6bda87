package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/pkg/config"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/llm/llmtest"
	"github.com/draftforge/draftforge/pkg/plan"
	"github.com/draftforge/draftforge/pkg/progress"
)

const structureJSON = `{
	"doc_kind": "technical",
	"parts": [
		{"title": "Architecture", "goal": "Explain the system design.",
		 "leaves": [{"subtitle": "Components"}, {"subtitle": "Data Flow"}]},
		{"title": "Operations", "goal": "Explain how to run it.",
		 "leaves": [{"subtitle": "Deployment"}, {"subtitle": "Monitoring"}]}
	]
}`

// respondByPhase answers the structure prompt with outline JSON and guidance
// prompts with full guide JSON for whichever part is being asked about.
func respondByPhase(call int, messages []llm.Message) (string, error) {
	system := messages[0].Content
	if strings.Contains(system, "document architect") {
		return structureJSON, nil
	}
	user := messages[len(messages)-1].Content
	if strings.Contains(user, "Part: Architecture") {
		return `{"guides": [
			{"subtitle": "Components", "how_to_write": "List each component."},
			{"subtitle": "Data Flow", "how_to_write": "Trace a request end to end."}
		]}`, nil
	}
	return `{"guides": [
		{"subtitle": "Deployment", "how_to_write": "Describe the rollout steps."},
		{"subtitle": "Monitoring", "how_to_write": "Name the key signals."}
	]}`, nil
}

func TestPlanHappyPath(t *testing.T) {
	fake := llmtest.NewFake(respondByPhase)
	p := New(fake, config.PlannerConfig{Workers: 2}, progress.NewTracker(nil))

	result, err := p.Plan(context.Background(), "Write a technical report on the scheduler", "")
	require.NoError(t, err)

	require.Len(t, result.Parts, 2)
	assert.Equal(t, plan.DocKindTechnical, result.DocKind)
	assert.Equal(t, "Write a technical report on the scheduler", result.Request)
	assert.Equal(t, "List each component.", result.Parts[0].Leaves[0].HowToWrite)
	assert.Equal(t, "Name the key signals.", result.Parts[1].Leaves[1].HowToWrite)

	// One structure call plus one guidance call per part.
	assert.Equal(t, 3, fake.Calls())
}

func TestPlanStructureFallbackAfterThreeBadResponses(t *testing.T) {
	fake := llmtest.NewFake(func(call int, messages []llm.Message) (string, error) {
		if strings.Contains(messages[0].Content, "document architect") {
			return "not json at all", nil
		}
		return `{"guides": []}`, nil
	})
	p := New(fake, config.PlannerConfig{Workers: 1}, progress.NewTracker(nil))

	result, err := p.Plan(context.Background(), "anything", "")
	require.NoError(t, err)

	require.Len(t, result.Parts, 1)
	assert.Equal(t, "Overview", result.Parts[0].Title)
	require.Len(t, result.Parts[0].Leaves, 3)
	for _, leaf := range result.Parts[0].Leaves {
		assert.NotEmpty(t, leaf.HowToWrite, "skeleton leaves still get instructions")
	}
	require.NoError(t, result.Validate())
}

func TestPlanGuidanceFailureDegradesOnlyThatPart(t *testing.T) {
	fake := llmtest.NewFake(func(call int, messages []llm.Message) (string, error) {
		if strings.Contains(messages[0].Content, "document architect") {
			return structureJSON, nil
		}
		for _, m := range messages {
			if strings.Contains(m.Content, "Part: Operations") {
				return "no json here", nil
			}
		}
		return `{"guides": [
			{"subtitle": "Components", "how_to_write": "List each component."},
			{"subtitle": "Data Flow", "how_to_write": "Trace a request end to end."}
		]}`, nil
	})
	tracker := progress.NewTracker(nil)
	p := New(fake, config.PlannerConfig{Workers: 1}, tracker)

	result, err := p.Plan(context.Background(), "report", "")
	require.NoError(t, err)

	assert.Equal(t, "List each component.", result.Parts[0].Leaves[0].HowToWrite)
	for _, leaf := range result.Parts[1].Leaves {
		assert.Contains(t, leaf.HowToWrite, leaf.Subtitle, "degraded part uses default instruction")
	}

	failures := tracker.Summary().Failures
	require.Len(t, failures, 1, "the degraded part shows up in the summary")
	assert.Equal(t, progress.StagePlanner, failures[0].Stage)
	assert.Equal(t, "part-1", failures[0].LeafID)
	assert.Contains(t, failures[0].Reason, "guidance failed")
}

func TestPlanMissingLeafGetsDefaultInstruction(t *testing.T) {
	fake := llmtest.NewFake(func(call int, messages []llm.Message) (string, error) {
		if strings.Contains(messages[0].Content, "document architect") {
			return `{"doc_kind": "tutorial", "parts": [
				{"title": "Intro", "goal": "Set the scene.",
				 "leaves": [{"subtitle": "Why"}, {"subtitle": "What"}]}
			]}`, nil
		}
		// Guidance covers only one of the two leaves.
		return `{"guides": [{"subtitle": "Why", "how_to_write": "Motivate the reader."}]}`, nil
	})
	p := New(fake, config.PlannerConfig{Workers: 1}, nil)

	result, err := p.Plan(context.Background(), "tutorial", "")
	require.NoError(t, err)

	assert.Equal(t, "Motivate the reader.", result.Parts[0].Leaves[0].HowToWrite)
	assert.Contains(t, result.Parts[0].Leaves[1].HowToWrite, `"What"`)
}

func TestPlanUnknownDocKindDefaultsToTechnical(t *testing.T) {
	fake := llmtest.NewFake(func(call int, messages []llm.Message) (string, error) {
		if strings.Contains(messages[0].Content, "document architect") {
			return `{"doc_kind": "novella", "parts": [
				{"title": "A", "goal": "g", "leaves": [{"subtitle": "s"}]}
			]}`, nil
		}
		return `{"guides": []}`, nil
	})
	p := New(fake, config.PlannerConfig{Workers: 1}, nil)

	result, err := p.Plan(context.Background(), "x", "")
	require.NoError(t, err)
	assert.Equal(t, plan.DocKindTechnical, result.DocKind)
}

func TestPlanKindOverrideWinsOverClassification(t *testing.T) {
	fake := llmtest.NewFake(respondByPhase) // classifies as technical
	p := New(fake, config.PlannerConfig{Workers: 1}, nil)

	result, err := p.Plan(context.Background(), "report", plan.DocKindResearch)
	require.NoError(t, err)
	assert.Equal(t, plan.DocKindResearch, result.DocKind)
}

func TestPlanInvalidKindOverrideIsIgnored(t *testing.T) {
	fake := llmtest.NewFake(respondByPhase)
	p := New(fake, config.PlannerConfig{Workers: 1}, nil)

	result, err := p.Plan(context.Background(), "report", plan.DocKind("novella"))
	require.NoError(t, err)
	assert.Equal(t, plan.DocKindTechnical, result.DocKind)
}

func TestPlanRejectsEmptyRequest(t *testing.T) {
	p := New(llmtest.Always("{}"), config.PlannerConfig{Workers: 1}, nil)
	_, err := p.Plan(context.Background(), "   ", "")
	require.Error(t, err)
}

func TestPlanEmptyOutlineFallsBackToSkeleton(t *testing.T) {
	fake := llmtest.NewFake(func(call int, messages []llm.Message) (string, error) {
		if strings.Contains(messages[0].Content, "document architect") {
			return `{"doc_kind": "technical", "parts": []}`, nil
		}
		return `{"guides": []}`, nil
	})
	p := New(fake, config.PlannerConfig{Workers: 1}, nil)

	result, err := p.Plan(context.Background(), "x", "")
	require.NoError(t, err)
	require.Len(t, result.Parts, 1)
	assert.Equal(t, "Overview", result.Parts[0].Title)
}
