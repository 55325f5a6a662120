package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

const metadataPrompt = `Write podcast episode metadata for the digest script below.
The title should be specific to what the episode covers, not generic.
The summary is one or two sentences for the feed description.

Topic: %s

Script:
---
%s
---`

// metadataScriptSample caps how much of the script is sent for metadata;
// the opening carries the headline content.
const metadataScriptSample = 8000

// Metadata is a generated episode title and summary.
type Metadata struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// MetadataRequest is one title/summary generation call.
type MetadataRequest struct {
	Topic            string
	Script           string
	Model            string
	MaxTitleTokens   int
	MaxSummaryTokens int
}

// GenerateMetadata produces a title and summary for a digest. This call is
// best-effort: the caller falls back to a deterministic title on error.
func (c *Client) GenerateMetadata(ctx context.Context, req MetadataRequest) (Metadata, error) {
	script := truncateBytes(req.Script, metadataScriptSample)

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":   {Type: genai.TypeString},
			"summary": {Type: genai.TypeString},
		},
		Required: []string{"title", "summary"},
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	if budget := req.MaxTitleTokens + req.MaxSummaryTokens; budget > 0 {
		cfg.MaxOutputTokens = int32(budget)
	}

	text, err := c.generate(ctx, req.Model, fmt.Sprintf(metadataPrompt, req.Topic, script), cfg)
	if err != nil {
		return Metadata{}, err
	}

	var md Metadata
	if err := json.Unmarshal([]byte(text), &md); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	if md.Title == "" {
		return Metadata{}, fmt.Errorf("metadata response has empty title")
	}
	return md, nil
}
