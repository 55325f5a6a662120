package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"
)

// charsPerToken is the rough character budget per input token used when
// truncating transcripts to fit the model's context.
const charsPerToken = 4

// TranscriptInput is one selected episode's transcript feeding a digest.
type TranscriptInput struct {
	Title      string
	Transcript string
}

// ScriptRequest is one digest-script generation call.
type ScriptRequest struct {
	Topic           string
	Date            string // human-readable, display timezone
	Instructions    string // topic's instructions_md; caller guarantees non-empty
	Transcripts     []TranscriptInput
	Model           string
	MaxInputTokens  int
	MaxOutputTokens int
}

// GenerateScript produces a digest script from the topic instructions and the
// selected transcripts. Transcripts are truncated earliest-characters-first
// to fit the input budget; the opening of an episode carries its thesis, so
// the head is what survives.
func (c *Client) GenerateScript(ctx context.Context, req ScriptRequest) (string, error) {
	if strings.TrimSpace(req.Instructions) == "" {
		return "", fmt.Errorf("topic %q has no instructions", req.Topic)
	}
	if len(req.Transcripts) == 0 {
		return "", fmt.Errorf("no transcripts for topic %q", req.Topic)
	}

	var b strings.Builder
	b.WriteString(req.Instructions)
	fmt.Fprintf(&b, "\n\nTopic: %s\nDate: %s\n", req.Topic, req.Date)
	fmt.Fprintf(&b, "\nSource material: transcripts of %d episode(s) follow.\n", len(req.Transcripts))

	budget := req.MaxInputTokens * charsPerToken
	if budget > 0 {
		budget -= b.Len()
	}
	perEpisode := 0
	if budget > 0 {
		perEpisode = budget / len(req.Transcripts)
	}

	for i, tr := range req.Transcripts {
		text := tr.Transcript
		if perEpisode > 0 {
			text = truncateBytes(text, perEpisode)
		}
		fmt.Fprintf(&b, "\n=== Episode %d: %s ===\n%s\n", i+1, tr.Title, text)
	}

	cfg := &genai.GenerateContentConfig{}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	script, err := c.generate(ctx, req.Model, b.String(), cfg)
	if err != nil {
		return "", fmt.Errorf("generate script for topic %q: %w", req.Topic, err)
	}
	return strings.TrimSpace(script), nil
}

// truncateBytes caps s at max bytes without splitting a multi-byte rune.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
