package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SemanticProvider supplies the external semantic-similarity signal: how
// close in meaning two text fragments are, in [0,1]. Implementations may
// be backed by any embedding or LLM similarity service.
type SemanticProvider interface {
	Score(ctx context.Context, beforeText, afterText string) (float64, error)
}

// HTTPSemanticProvider calls a similarity service over HTTP.
type HTTPSemanticProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSemanticProvider creates a provider for the given endpoint. The
// request timeout is governed by the caller's context; the client timeout
// is a backstop.
func NewHTTPSemanticProvider(endpoint, apiKey string, timeout time.Duration) *HTTPSemanticProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSemanticProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type semanticRequest struct {
	BeforeText string `json:"before_text"`
	AfterText  string `json:"after_text"`
}

type semanticResponse struct {
	Score float64 `json:"score"`
}

// Score implements SemanticProvider.
func (p *HTTPSemanticProvider) Score(ctx context.Context, beforeText, afterText string) (float64, error) {
	body, err := json.Marshal(semanticRequest{BeforeText: beforeText, AfterText: afterText})
	if err != nil {
		return 0, fmt.Errorf("failed to encode similarity request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build similarity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("similarity request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("similarity service returned %d: %s", resp.StatusCode, string(payload))
	}

	var out semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode similarity response: %w", err)
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, fmt.Errorf("similarity service returned score %g outside [0,1]", out.Score)
	}
	return out.Score, nil
}
