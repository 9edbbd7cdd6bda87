package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// jsonAttempts is the total number of completions tried before giving up on
// a parseable object.
const jsonAttempts = 3

// CompleteJSON calls Complete and parses the response as a JSON object into
// out. Models decorate JSON with code fences and leading prose; both are
// stripped before parsing. On parse failure the call is repeated with an
// appended corrective instruction; after the attempt budget the error wraps
// ErrMalformedOutput.
//
// Each retry is a fresh completion — nothing from a failed attempt is
// reused, since retries seek a successful parse, not a specific answer.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message, schemaHint string, out any) error {
	return CompleteJSONWith(ctx, c.Complete, messages, schemaHint, out)
}

// CompleteFunc is the text-completion function CompleteJSONWith drives.
type CompleteFunc func(ctx context.Context, messages []Message, opts *Options) (string, error)

// CompleteJSONWith implements the JSON-mode retry policy over any completion
// function. Fake completers in tests reuse it so their JSON handling matches
// the real client's byte for byte.
func CompleteJSONWith(ctx context.Context, complete CompleteFunc, messages []Message, schemaHint string, out any) error {
	conv := make([]Message, len(messages))
	copy(conv, messages)

	var lastErr error
	for attempt := 1; attempt <= jsonAttempts; attempt++ {
		if attempt > 1 {
			conv = append(conv, Message{
				Role:    RoleUser,
				Content: fmt.Sprintf("Return JSON only matching %s. No prose, no code fences.", schemaHint),
			})
		}

		text, err := complete(ctx, conv, nil)
		if err != nil {
			return err
		}

		raw, err := ExtractJSON(text)
		if err == nil {
			if uerr := json.Unmarshal([]byte(raw), out); uerr == nil {
				return nil
			} else {
				err = uerr
			}
		}
		lastErr = err
		slog.Warn("Model output did not parse as JSON",
			"attempt", attempt, "schema", schemaHint, "error", err)
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrMalformedOutput, schemaHint, jsonAttempts, lastErr)
}

// ExtractJSON locates the first complete JSON object in model output,
// tolerating surrounding prose and markdown code fences.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return "", fmt.Errorf("empty response")
	}

	// Prefer the contents of a fenced block when present.
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}
