package config

// Defaults returns the built-in configuration. User YAML is merged on top;
// any key left unset keeps the value below.
func Defaults() *Config {
	clamp := true
	return &Config{
		LLM: LLMConfig{
			APIKeyEnv:   "LLM_API_KEY",
			Model:       "deepseek/deepseek-chat",
			MaxTokens:   10000,
			Temperature: 0.3,
			TimeoutS:    60,
			MaxRetries:  3,
		},
		RateLimit: RateLimitConfig{
			MinSpacingS: 4,
		},
		Retrieval: RetrievalConfig{
			TimeoutS:   30,
			ResultPath: "results.#.content",
			SourcePath: "results.#.source",
			ScorePath:  "results.#.score",
		},
		Planner: PlannerConfig{
			Workers: 1,
		},
		Retriever: RetrieverConfig{
			Workers:          5,
			MaxIterations:    3,
			QualityThreshold: 0.7,
			LowScoreCutoff:   0.3,
			TopK:             5,
			DedupPrefixLen:   0,
		},
		Writer: WriterConfig{
			Workers:          3,
			MaxAttempts:      3,
			QualityThreshold: 0.7,
			ClampScore:       &clamp,
		},
		Output: OutputConfig{
			Dir: "./out",
		},
	}
}
