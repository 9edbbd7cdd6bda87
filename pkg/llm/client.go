// Package llm implements the chat-completion client shared by all pipeline
// agents. Every outbound call passes through the process-wide rate limiter;
// transient failures retry with exponential backoff; successful calls
// increment the global progress counter.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/cenkalti/backoff/v4"

	"github.com/draftforge/draftforge/pkg/config"
	"github.com/draftforge/draftforge/pkg/progress"
	"github.com/draftforge/draftforge/pkg/ratelimit"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries optional per-call overrides.
type Options struct {
	Temperature *float64
	MaxTokens   *int
}

// Completer is the interface agents program against. Tests substitute
// scripted implementations.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts *Options) (string, error)
	CompleteJSON(ctx context.Context, messages []Message, schemaHint string, out any) error
}

// Client is the HTTP chat-completion client. Stateless per call and safe for
// concurrent use; retry state is per-call.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	limiter     *ratelimit.Limiter
	tracker     *progress.Tracker
}

// NewClient creates a client from configuration. The API key is resolved
// from the environment variable named by cfg.APIKeyEnv; a missing key is a
// configuration error caught before the pipeline starts.
func NewClient(cfg config.LLMConfig, limiter *ratelimit.Limiter, tracker *progress.Tracker) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: llm endpoint is empty", config.ErrConfigurationInvalid)
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s is not set", config.ErrConfigurationInvalid, cfg.APIKeyEnv)
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		endpoint:    cfg.Endpoint,
		apiKey:      apiKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		limiter:     limiter,
		tracker:     tracker,
	}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the conversation and returns the model's text.
//
// Transient failures (network errors, timeouts, 429, 5xx) retry with
// exponential backoff up to the configured attempt budget. Responses are
// never cached across attempts: each retry is a fresh call whose fresh
// sample is what we want. Non-429 4xx responses fail immediately.
func (c *Client) Complete(ctx context.Context, messages []Message, opts *Options) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if opts != nil {
		if opts.Temperature != nil {
			req.Temperature = *opts.Temperature
		}
		if opts.MaxTokens != nil {
			req.MaxTokens = *opts.MaxTokens
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var content string
	operation := func() error {
		text, opErr := c.send(ctx, body)
		if opErr != nil {
			var se *StatusError
			if errors.As(opErr, &se) && !se.Transient() {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrRequestRejected, opErr))
			}
			slog.Warn("LLM call failed, will retry", "error", opErr)
			return opErr
		}
		content = text
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}

	if c.tracker != nil {
		c.tracker.LLMCallCompleted()
	}
	return content, nil
}

// send performs one rate-limited HTTP round trip.
func (c *Client) send(ctx context.Context, body []byte) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return "", err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 300)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
