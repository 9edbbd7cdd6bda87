// Package progress tracks pipeline activity: thread-safe counters, per-stage
// structured log emission, and Prometheus metrics. One Tracker is created per
// pipeline instance and passed explicitly into every component, so multiple
// pipelines can run in one process without collision.
package progress

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage identifies a pipeline stage in logs and metrics.
type Stage string

// Pipeline stages in execution order.
const (
	StagePlanner   Stage = "planner"
	StageRetriever Stage = "retriever"
	StageWriter    Stage = "writer"
	StageAssembler Stage = "assembler"
)

// LeafFailure records a degraded or failed leaf for the final summary.
type LeafFailure struct {
	Stage  Stage
	LeafID string
	Reason string
}

// Summary is the end-of-run report.
type Summary struct {
	LLMCalls         int64
	RetrievalCalls   int64
	SnippetsGathered int64
	LeavesCompleted  int64
	Failures         []LeafFailure
	StageDurations   map[Stage]time.Duration
}

// Tracker is the process-wide progress sink shared by all stage workers.
// All methods are safe for concurrent use.
type Tracker struct {
	mu               sync.Mutex
	llmCalls         int64
	retrievalCalls   int64
	snippetsGathered int64
	leavesCompleted  int64
	failures         []LeafFailure
	currentStage     Stage
	stageStarted     map[Stage]time.Time
	stageDuration    map[Stage]time.Duration

	metrics *metrics
}

// NewTracker creates a tracker and registers its metrics on reg.
// A nil registerer disables metric registration (handy in tests).
func NewTracker(reg prometheus.Registerer) *Tracker {
	return &Tracker{
		stageStarted:  make(map[Stage]time.Time),
		stageDuration: make(map[Stage]time.Duration),
		metrics:       newMetrics(reg),
	}
}

// StageStarted marks the beginning of a stage.
func (t *Tracker) StageStarted(stage Stage) {
	t.mu.Lock()
	t.currentStage = stage
	t.stageStarted[stage] = time.Now()
	t.mu.Unlock()
	slog.Info("Stage started", "stage", stage)
}

// StageCompleted marks the end of a stage and logs its wall-clock duration.
func (t *Tracker) StageCompleted(stage Stage) {
	t.mu.Lock()
	var d time.Duration
	if started, ok := t.stageStarted[stage]; ok {
		d = time.Since(started)
		t.stageDuration[stage] = d
	}
	if t.currentStage == stage {
		t.currentStage = ""
	}
	t.mu.Unlock()
	t.metrics.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	slog.Info("Stage completed", "stage", stage, "duration", d)
}

// CurrentStage returns the stage currently in progress, or "" between stages.
func (t *Tracker) CurrentStage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentStage
}

// LLMCallCompleted increments the global LLM-call counter. Called by the
// client on every successful completion.
func (t *Tracker) LLMCallCompleted() {
	t.mu.Lock()
	t.llmCalls++
	t.mu.Unlock()
	t.metrics.llmCalls.Inc()
}

// LLMCalls returns the number of successful LLM calls so far.
func (t *Tracker) LLMCalls() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.llmCalls
}

// RetrievalCompleted records one retrieval round trip and how many snippets
// it returned.
func (t *Tracker) RetrievalCompleted(snippets int) {
	t.mu.Lock()
	t.retrievalCalls++
	t.snippetsGathered += int64(snippets)
	t.mu.Unlock()
	t.metrics.retrievalCalls.Inc()
	t.metrics.snippetsGathered.Add(float64(snippets))
}

// LeafProgress logs one unit of per-leaf progress within a stage.
func (t *Tracker) LeafProgress(stage Stage, leafID string, iteration int, score float64) {
	slog.Info("Leaf progress",
		"stage", stage,
		"leaf", leafID,
		"iteration", iteration,
		"score", fmt.Sprintf("%.2f", score))
}

// LeafCompleted records a successfully finished leaf for a stage.
func (t *Tracker) LeafCompleted(stage Stage, leafID string) {
	t.mu.Lock()
	t.leavesCompleted++
	t.mu.Unlock()
	t.metrics.leavesCompleted.WithLabelValues(string(stage)).Inc()
	slog.Info("Leaf completed", "stage", stage, "leaf", leafID)
}

// LeafFailed records a degraded or failed leaf. The pipeline proceeds; the
// failure shows up in the final summary.
func (t *Tracker) LeafFailed(stage Stage, leafID, reason string) {
	t.mu.Lock()
	t.failures = append(t.failures, LeafFailure{Stage: stage, LeafID: leafID, Reason: reason})
	t.mu.Unlock()
	t.metrics.leavesFailed.WithLabelValues(string(stage)).Inc()
	slog.Warn("Leaf degraded", "stage", stage, "leaf", leafID, "reason", reason)
}

// Summary returns a snapshot of the run totals. Failures are sorted by leaf
// identifier for stable reporting.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	failures := make([]LeafFailure, len(t.failures))
	copy(failures, t.failures)
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].LeafID != failures[j].LeafID {
			return failures[i].LeafID < failures[j].LeafID
		}
		return failures[i].Stage < failures[j].Stage
	})

	durations := make(map[Stage]time.Duration, len(t.stageDuration))
	for k, v := range t.stageDuration {
		durations[k] = v
	}

	return Summary{
		LLMCalls:         t.llmCalls,
		RetrievalCalls:   t.retrievalCalls,
		SnippetsGathered: t.snippetsGathered,
		LeavesCompleted:  t.leavesCompleted,
		Failures:         failures,
		StageDurations:   durations,
	}
}
