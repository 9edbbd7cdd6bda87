package progress

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	llmCalls         prometheus.Counter
	retrievalCalls   prometheus.Counter
	snippetsGathered prometheus.Counter
	leavesCompleted  *prometheus.CounterVec
	leavesFailed     *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		llmCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_llm_calls_total",
			Help: "Successful LLM chat-completion calls.",
		}),
		retrievalCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_retrieval_calls_total",
			Help: "Retrieval service round trips.",
		}),
		snippetsGathered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_snippets_gathered_total",
			Help: "Snippets returned by the retrieval service.",
		}),
		leavesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftforge_leaves_completed_total",
			Help: "Leaves finished per stage.",
		}, []string{"stage"}),
		leavesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftforge_leaves_failed_total",
			Help: "Leaves degraded or failed per stage.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "draftforge_stage_duration_seconds",
			Help:    "Wall-clock duration per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.llmCalls,
			m.retrievalCalls,
			m.snippetsGathered,
			m.leavesCompleted,
			m.leavesFailed,
			m.stageDuration,
		)
	}
	return m
}
