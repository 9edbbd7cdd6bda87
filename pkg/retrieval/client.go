// Package retrieval wraps the external snippet-search service. Retrieval is
// best-effort by contract: any failure — timeout, connection refused, non-2xx,
// malformed body — degrades to an empty result so the pipeline keeps moving.
package retrieval

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/draftforge/draftforge/pkg/config"
	"github.com/draftforge/draftforge/pkg/progress"
)

// Snippet is one unit of evidence returned by the search service.
type Snippet struct {
	Content string
	Source  string
	Score   float64
}

// Searcher is the interface agents program against.
type Searcher interface {
	Search(ctx context.Context, keywords string) []Snippet
}

// Client queries the retrieval service over HTTP. Response shapes vary across
// deployments, so field locations are configurable gjson paths rather than
// fixed struct tags.
type Client struct {
	httpClient *http.Client
	endpoint   string
	resultPath string
	sourcePath string
	scorePath  string
	tracker    *progress.Tracker
}

// NewClient creates a retrieval client from configuration.
func NewClient(cfg config.RetrievalConfig, tracker *progress.Tracker) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		endpoint:   cfg.Endpoint,
		resultPath: cfg.ResultPath,
		sourcePath: cfg.SourcePath,
		scorePath:  cfg.ScorePath,
		tracker:    tracker,
	}
}

// Search issues one query and returns whatever snippets came back. It never
// returns an error: an unreachable or misbehaving service yields an empty
// slice, and the caller's scoring loop treats that as a low-quality result.
func (c *Client) Search(ctx context.Context, keywords string) []Snippet {
	if c.endpoint == "" {
		return nil
	}

	reqURL := c.endpoint + "?query=" + url.QueryEscape(keywords)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		slog.Warn("Retrieval request construction failed", "error", err)
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("Retrieval service unreachable", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("Retrieval service returned error status", "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		slog.Warn("Retrieval response read failed", "error", err)
		return nil
	}
	if !gjson.ValidBytes(body) {
		slog.Warn("Retrieval response is not valid JSON")
		return nil
	}

	snippets := c.extract(body)
	if c.tracker != nil {
		c.tracker.RetrievalCompleted(len(snippets))
	}
	slog.Debug("Retrieval completed", "keywords", keywords, "snippets", len(snippets))
	return snippets
}

// extract pulls snippets out of the response body along the configured paths.
// Content entries and their source/score siblings align by array position;
// missing siblings leave zero values.
func (c *Client) extract(body []byte) []Snippet {
	contents := gjson.GetBytes(body, c.resultPath).Array()
	if len(contents) == 0 {
		return nil
	}

	var sources, scores []gjson.Result
	if c.sourcePath != "" {
		sources = gjson.GetBytes(body, c.sourcePath).Array()
	}
	if c.scorePath != "" {
		scores = gjson.GetBytes(body, c.scorePath).Array()
	}

	snippets := make([]Snippet, 0, len(contents))
	for i, content := range contents {
		if content.String() == "" {
			continue
		}
		s := Snippet{Content: content.String()}
		if i < len(sources) {
			s.Source = sources[i].String()
		}
		if i < len(scores) {
			s.Score = scores[i].Float()
		}
		snippets = append(snippets, s)
	}
	return snippets
}
