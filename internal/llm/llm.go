// Package llm wraps the Gemini API for the three pipeline uses: scoring
// transcripts against topics, generating digest scripts, and producing
// episode title/summary metadata. Scoring and metadata use structured
// output with a response schema; scripts are free-form text.
package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// Client is a thin wrapper over the Gemini SDK. Model names arrive per call
// from settings; the client itself is model-agnostic.
type Client struct {
	g   *genai.Client
	log zerolog.Logger
}

// NewClient creates a Gemini client. The API key is required; callers fail
// fast before the pipeline starts if it is absent.
func NewClient(ctx context.Context, apiKey string, log zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	g, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{
		g:   g,
		log: log.With().Str("component", "llm").Logger(),
	}, nil
}

// generate runs one GenerateContent call and returns the response text.
func (c *Client) generate(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := c.g.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model %s", model)
	}
	return text, nil
}
