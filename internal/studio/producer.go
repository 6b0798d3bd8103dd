// Package studio talks to the external generation service that turns a poem
// into scene drafts, narration audio, and illustrations. The core only ever
// consumes its outputs; everything here is a producer for the deck.
package studio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Draft is one scene as proposed by poem analysis, before any assets exist.
type Draft struct {
	Text         string
	VisualPrompt string
	DurationHint time.Duration
}

// Producer generates presentation assets. Narration is raw PCM in the format
// internal/pcm decodes: signed 16-bit little-endian mono at 24 kHz.
type Producer interface {
	AnalyzePoem(ctx context.Context, poem string) ([]Draft, error)
	GenerateNarration(ctx context.Context, text string) ([]byte, error)
	GenerateVisual(ctx context.Context, prompt string) (string, error)
}

// ClientConfig holds the HTTP client settings.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Rate limit requests per minute so a large poem does not hammer the
	// service (defaults to 60).
	RequestsPerMinute int
}

// Client is the HTTP Producer implementation.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	// Rate limiting across all endpoints
	limiter *rate.Limiter
}

// NewClient creates a producer client for the given service.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
}

type analyzeRequest struct {
	Poem string `json:"poem"`
}

type analyzeResponse struct {
	Scenes []struct {
		Text           string `json:"text"`
		VisualPrompt   string `json:"visual_prompt"`
		DurationHintMS int    `json:"duration_hint_ms"`
	} `json:"scenes"`
}

type narrateRequest struct {
	Text string `json:"text"`
}

type narrateResponse struct {
	AudioBase64 string `json:"audio_base64"`
}

type illustrateRequest struct {
	Prompt string `json:"prompt"`
}

type illustrateResponse struct {
	AssetRef string `json:"asset_ref"`
}

// AnalyzePoem splits the poem into ordered scene drafts.
func (c *Client) AnalyzePoem(ctx context.Context, poem string) ([]Draft, error) {
	var resp analyzeResponse
	if err := c.post(ctx, "/v1/analyze", analyzeRequest{Poem: poem}, &resp); err != nil {
		return nil, fmt.Errorf("analyze poem: %w", err)
	}
	drafts := make([]Draft, 0, len(resp.Scenes))
	for _, s := range resp.Scenes {
		drafts = append(drafts, Draft{
			Text:         s.Text,
			VisualPrompt: s.VisualPrompt,
			DurationHint: time.Duration(s.DurationHintMS) * time.Millisecond,
		})
	}
	return drafts, nil
}

// GenerateNarration returns raw narration PCM, decoded from the service's
// base64 transport encoding.
func (c *Client) GenerateNarration(ctx context.Context, text string) ([]byte, error) {
	var resp narrateResponse
	if err := c.post(ctx, "/v1/narrate", narrateRequest{Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("generate narration: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("generate narration: decode audio: %w", err)
	}
	return data, nil
}

// GenerateVisual returns an opaque asset reference for the prompt.
func (c *Client) GenerateVisual(ctx context.Context, prompt string) (string, error) {
	var resp illustrateResponse
	if err := c.post(ctx, "/v1/illustrate", illustrateRequest{Prompt: prompt}, &resp); err != nil {
		return "", fmt.Errorf("generate visual: %w", err)
	}
	return resp.AssetRef, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: HTTP %d: %s", path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
