package config

import "time"

// Config is the fully resolved runtime configuration for a pipeline run.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Planner   PlannerConfig   `yaml:"planner"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Writer    WriterConfig    `yaml:"writer"`
	Output    OutputConfig    `yaml:"output"`
}

// LLMConfig configures the chat-completion client.
type LLMConfig struct {
	// Endpoint is the full chat-completion URL, e.g.
	// https://openrouter.ai/api/v1/chat/completions
	Endpoint string `yaml:"endpoint"`
	// APIKeyEnv names the environment variable holding the bearer token.
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutS    int     `yaml:"timeout_s"`
	MaxRetries  int     `yaml:"max_retries"`
}

// Timeout returns the per-call timeout as a duration.
func (c LLMConfig) Timeout() time.Duration { return time.Duration(c.TimeoutS) * time.Second }

// RateLimitConfig configures the process-wide spacing between LLM calls.
type RateLimitConfig struct {
	MinSpacingS float64 `yaml:"min_spacing_s"`
}

// MinSpacing returns the minimum spacing as a duration.
func (c RateLimitConfig) MinSpacing() time.Duration {
	return time.Duration(c.MinSpacingS * float64(time.Second))
}

// RetrievalConfig configures the best-effort snippet search client.
type RetrievalConfig struct {
	Endpoint string `yaml:"endpoint"`
	TimeoutS int    `yaml:"timeout_s"`
	// ResultPath is the gjson path that extracts snippet texts from the
	// response body. Anything that does not match yields no snippets.
	ResultPath string `yaml:"result_path"`
	SourcePath string `yaml:"source_path"`
	ScorePath  string `yaml:"score_path"`
}

// Timeout returns the retrieval timeout as a duration.
func (c RetrievalConfig) Timeout() time.Duration { return time.Duration(c.TimeoutS) * time.Second }

// PlannerConfig configures the outline/guidance stage.
type PlannerConfig struct {
	Workers int `yaml:"workers"`
}

// RetrieverConfig configures the per-leaf evidence gathering loop.
type RetrieverConfig struct {
	Workers          int     `yaml:"workers"`
	MaxIterations    int     `yaml:"max_iterations"`
	QualityThreshold float64 `yaml:"quality_threshold"`
	// LowScoreCutoff is the no-progress guard: two consecutive iteration
	// scores below this end the loop early.
	LowScoreCutoff float64 `yaml:"low_score_cutoff"`
	// TopK bounds how many snippets are consolidated into leaf evidence.
	TopK int `yaml:"top_k"`
	// DedupPrefixLen deduplicates snippets by the first N bytes;
	// 0 compares full text.
	DedupPrefixLen int `yaml:"dedup_prefix_len"`
}

// WriterConfig configures the drafting/evaluation stage.
type WriterConfig struct {
	Workers          int     `yaml:"workers"`
	MaxAttempts      int     `yaml:"max_attempts"`
	QualityThreshold float64 `yaml:"quality_threshold"`
	// ClampScore clamps model evaluation scores into [0,1] after /100
	// normalization instead of rejecting out-of-range values.
	ClampScore *bool `yaml:"clamp_score"`
}

// ShouldClampScore reports the effective clamp setting (default true).
func (c WriterConfig) ShouldClampScore() bool {
	return c.ClampScore == nil || *c.ClampScore
}

// OutputConfig configures where run artifacts land.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}
