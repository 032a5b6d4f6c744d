package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RemoteProvider calls an external model server over HTTP. Every call is
// bounded by the configured timeout and optionally rate limited so a burst
// of promotions cannot saturate the model server.
type RemoteProvider struct {
	endpoint   string
	dimensions int
	client     *http.Client
	limiter    *rate.Limiter
}

// RemoteConfig holds the settings for NewRemoteProvider.
type RemoteConfig struct {
	Endpoint   string
	Dimensions int
	Timeout    time.Duration

	// RequestsPerSecond limits calls to the model server. Zero disables
	// the limiter.
	RequestsPerSecond float64
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewRemoteProvider creates a remote embedder.
func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &RemoteProvider{
		endpoint:   cfg.Endpoint,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Embed posts the text to the model server and returns the vector.
func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	body, err := json.Marshal(embedRequest{Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: model server returned %d", ErrUnavailable, resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding: model server returned empty vector")
	}
	if p.dimensions > 0 && len(out.Embedding) != p.dimensions {
		return nil, fmt.Errorf("embedding: dimension mismatch: expected %d, got %d",
			p.dimensions, len(out.Embedding))
	}

	return out.Embedding, nil
}

// Dimensions returns the expected embedding size.
func (p *RemoteProvider) Dimensions() int {
	return p.dimensions
}

// Ping issues a lightweight request to check the model server.
func (p *RemoteProvider) Ping(ctx context.Context) error {
	_, err := p.Embed(ctx, "ping")
	return err
}
