package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Image is a generated featured image
type Image struct {
	URL     string
	CostUSD float64
}

// ImageGenerator produces a featured image for an article
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

// ImageConfig configures the HTTP image API client
type ImageConfig struct {
	Endpoint   string
	APIKey     string
	StyleType  string
	Resolution string
	// CostPerImage is the flat USD price charged per generated image
	CostPerImage float64
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// DefaultImageEndpoint is the text-to-image endpoint used when none is configured
const DefaultImageEndpoint = "https://api.ideogram.ai/v1/ideogram-v3/generate"

// HTTPImageClient calls a text-to-image HTTP API that answers with either
// {"data":[{"url":...}]} or {"url":...}
type HTTPImageClient struct {
	cfg    ImageConfig
	client *http.Client
}

// NewHTTPImageClient creates an image API client
func NewHTTPImageClient(cfg ImageConfig) (*HTTPImageClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("image API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultImageEndpoint
	}
	if cfg.StyleType == "" {
		cfg.StyleType = "REALISTIC"
	}
	if cfg.Resolution == "" {
		cfg.Resolution = "1312x736"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPImageClient{cfg: cfg, client: client}, nil
}

type imageRequest struct {
	Prompt     string `json:"prompt"`
	StyleType  string `json:"style_type"`
	Resolution string `json:"resolution"`
}

type imageResponse struct {
	URL  string `json:"url"`
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Generate requests one image for prompt
func (c *HTTPImageClient) Generate(ctx context.Context, prompt string) (*Image, error) {
	body, err := json.Marshal(imageRequest{Prompt: prompt, StyleType: c.cfg.StyleType, Resolution: c.cfg.Resolution})
	if err != nil {
		return nil, fmt.Errorf("failed to encode image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	req.Header.Set("Api-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read image response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image API returned status %d: %s", resp.StatusCode, clip(string(raw), 200))
	}

	var out imageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode image response: %w", err)
	}
	url := out.URL
	if len(out.Data) > 0 && out.Data[0].URL != "" {
		url = out.Data[0].URL
	}
	if url == "" {
		return nil, fmt.Errorf("image API returned no image URL")
	}
	return &Image{URL: url, CostUSD: c.cfg.CostPerImage}, nil
}
