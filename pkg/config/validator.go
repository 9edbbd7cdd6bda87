package config

import (
	"fmt"
	"os"
)

// Validate checks the configuration for values that would prevent a pipeline
// run from starting. Everything else degrades at runtime; only problems
// caught here are fatal.
func Validate(cfg *Config) error {
	if cfg.LLM.Endpoint == "" {
		return &ValidationError{Section: "llm", Field: "endpoint",
			Err: fmt.Errorf("%w: no chat-completion endpoint configured", ErrConfigurationInvalid)}
	}
	if cfg.LLM.APIKeyEnv == "" {
		return &ValidationError{Section: "llm", Field: "api_key_env",
			Err: fmt.Errorf("%w: api key environment variable name is empty", ErrConfigurationInvalid)}
	}
	if os.Getenv(cfg.LLM.APIKeyEnv) == "" {
		return &ValidationError{Section: "llm", Field: "api_key_env",
			Err: fmt.Errorf("%w: environment variable %s is not set", ErrConfigurationInvalid, cfg.LLM.APIKeyEnv)}
	}
	if cfg.LLM.MaxRetries < 0 {
		return &ValidationError{Section: "llm", Field: "max_retries",
			Err: fmt.Errorf("%w: must be >= 0", ErrConfigurationInvalid)}
	}
	if cfg.RateLimit.MinSpacingS < 0 {
		return &ValidationError{Section: "rate_limit", Field: "min_spacing_s",
			Err: fmt.Errorf("%w: must be >= 0", ErrConfigurationInvalid)}
	}
	for _, c := range []struct {
		section string
		workers int
	}{
		{"planner", cfg.Planner.Workers},
		{"retriever", cfg.Retriever.Workers},
		{"writer", cfg.Writer.Workers},
	} {
		if c.workers < 1 {
			return &ValidationError{Section: c.section, Field: "workers",
				Err: fmt.Errorf("%w: must be >= 1", ErrConfigurationInvalid)}
		}
	}
	if cfg.Retriever.MaxIterations < 1 {
		return &ValidationError{Section: "retriever", Field: "max_iterations",
			Err: fmt.Errorf("%w: must be >= 1", ErrConfigurationInvalid)}
	}
	if cfg.Retriever.QualityThreshold < 0 || cfg.Retriever.QualityThreshold > 1 {
		return &ValidationError{Section: "retriever", Field: "quality_threshold",
			Err: fmt.Errorf("%w: must be in [0,1]", ErrConfigurationInvalid)}
	}
	if cfg.Writer.MaxAttempts < 1 {
		return &ValidationError{Section: "writer", Field: "max_attempts",
			Err: fmt.Errorf("%w: must be >= 1", ErrConfigurationInvalid)}
	}
	if cfg.Writer.QualityThreshold < 0 || cfg.Writer.QualityThreshold > 1 {
		return &ValidationError{Section: "writer", Field: "quality_threshold",
			Err: fmt.Errorf("%w: must be in [0,1]", ErrConfigurationInvalid)}
	}
	return nil
}
