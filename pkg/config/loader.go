package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-project configuration file looked up in the
// config directory.
const ConfigFileName = "draftforge.yaml"

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Read draftforge.yaml from configDir (optional; defaults apply when absent)
//  2. Expand environment variables via {{.VAR}} templates
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Resolve endpoint fallbacks from the environment
//  6. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := Defaults()

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info("No configuration file found, using defaults", "path", path)
	case err != nil:
		return nil, &LoadError{File: path, Err: err}
	default:
		data = ExpandEnv(data)
		user := &Config{}
		if err := yaml.Unmarshal(data, user); err != nil {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
		}
		// Non-zero user values override defaults.
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, &LoadError{File: path, Err: err}
		}
	}

	applyEnvFallbacks(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"llm_model", cfg.LLM.Model,
		"min_spacing_s", cfg.RateLimit.MinSpacingS,
		"retriever_workers", cfg.Retriever.Workers,
		"writer_workers", cfg.Writer.Workers)

	return cfg, nil
}

// applyEnvFallbacks fills endpoints from the environment when the YAML left
// them empty. Keeps zero-config runs working with just a .env file.
func applyEnvFallbacks(cfg *Config) {
	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = os.Getenv("LLM_ENDPOINT")
	}
	if cfg.Retrieval.Endpoint == "" {
		cfg.Retrieval.Endpoint = os.Getenv("RETRIEVAL_ENDPOINT")
	}
}
