// Package crossencoder scores (query, passage) pairs against an HTTP
// cross-encoder service.
//
// Request:  {"query": "...", "model": "...", "candidates": [{"id": "0", "text": "..."}]}
// Response: {"ranking": [{"id": "0", "score": 0.91}]}
package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/version"
)

const serviceName = "cross_encoder"

// Config holds the cross-encoder endpoint settings.
type Config struct {
	URL    string
	Model  string
	APIKey string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// Client implements domain.CrossEncoder.
type Client struct {
	url    string
	model  string
	apiKey string
	http   *http.Client
}

// New creates a cross-encoder client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{url: cfg.URL, model: cfg.Model, apiKey: cfg.APIKey, http: hc}
}

type candidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type scoreRequest struct {
	Query      string      `json:"query"`
	Model      string      `json:"model,omitempty"`
	Candidates []candidate `json:"candidates"`
}

type scoreResponse struct {
	Ranking []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"ranking"`
}

// Score returns one raw score per text, in input order. Every text must be scored.
func (c *Client) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := scoreRequest{Query: query, Model: c.model, Candidates: make([]candidate, len(texts))}
	for i, t := range texts {
		req.Candidates[i] = candidate{ID: strconv.Itoa(i), Text: t}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCrossEncoderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.NewStatusError(serviceName, resp.StatusCode,
			fmt.Errorf("%w: %s", domain.ErrCrossEncoderUnavailable, bytes.TrimSpace(msg)))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w: %w", domain.ErrCrossEncoderUnavailable, err)
	}
	return order(sr, len(texts))
}

// order maps the ranking back onto input positions.
func order(sr scoreResponse, n int) ([]float64, error) {
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, r := range sr.Ranking {
		i, err := strconv.Atoi(r.ID)
		if err != nil || i < 0 || i >= n {
			return nil, fmt.Errorf("unknown candidate id %q: %w", r.ID, domain.ErrCrossEncoderUnavailable)
		}
		scores[i] = r.Score
		seen[i] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("candidate %d not scored: %w", i, domain.ErrCrossEncoderUnavailable)
		}
	}
	return scores, nil
}

// HealthCheck scores a single pair.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.Score(ctx, "ping", []string{"pong"}); err != nil {
		return errors.Join(errors.New("cross-encoder health check failed"), err)
	}
	return nil
}
