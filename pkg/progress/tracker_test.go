package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountersAreThreadSafe(t *testing.T) {
	tr := NewTracker(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.LLMCallCompleted()
			tr.RetrievalCompleted(2)
			tr.LeafCompleted(StageWriter, "0.0")
		}()
	}
	wg.Wait()

	s := tr.Summary()
	assert.Equal(t, int64(50), s.LLMCalls)
	assert.Equal(t, int64(50), s.RetrievalCalls)
	assert.Equal(t, int64(100), s.SnippetsGathered)
	assert.Equal(t, int64(50), s.LeavesCompleted)
}

func TestTrackerFailureSummaryIsSorted(t *testing.T) {
	tr := NewTracker(nil)

	tr.LeafFailed(StageWriter, "2.1", "quality below threshold")
	tr.LeafFailed(StageRetriever, "0.3", "no evidence")
	tr.LeafFailed(StageWriter, "1.0", "llm failure")

	s := tr.Summary()
	require.Len(t, s.Failures, 3)
	assert.Equal(t, "0.3", s.Failures[0].LeafID)
	assert.Equal(t, "1.0", s.Failures[1].LeafID)
	assert.Equal(t, "2.1", s.Failures[2].LeafID)
}

func TestTrackerStageDurations(t *testing.T) {
	tr := NewTracker(nil)

	tr.StageStarted(StagePlanner)
	time.Sleep(10 * time.Millisecond)
	tr.StageCompleted(StagePlanner)

	s := tr.Summary()
	require.Contains(t, s.StageDurations, StagePlanner)
	assert.GreaterOrEqual(t, s.StageDurations[StagePlanner], 10*time.Millisecond)
}

func TestTrackerCurrentStage(t *testing.T) {
	tr := NewTracker(nil)
	assert.Equal(t, Stage(""), tr.CurrentStage())

	tr.StageStarted(StageRetriever)
	assert.Equal(t, StageRetriever, tr.CurrentStage())

	tr.StageCompleted(StageRetriever)
	assert.Equal(t, Stage(""), tr.CurrentStage())
}

func TestTrackerMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := NewTracker(reg)

	tr.LLMCallCompleted()
	tr.RetrievalCompleted(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["draftforge_llm_calls_total"])
	assert.True(t, names["draftforge_retrieval_calls_total"])
	assert.True(t, names["draftforge_snippets_gathered_total"])
}

func TestTwoTrackersDoNotCollide(t *testing.T) {
	// Separate registries: instantiating a second pipeline must not panic
	// with duplicate metric registration.
	a := NewTracker(prometheus.NewRegistry())
	b := NewTracker(prometheus.NewRegistry())

	a.LLMCallCompleted()
	assert.Equal(t, int64(1), a.LLMCalls())
	assert.Equal(t, int64(0), b.LLMCalls())
}
