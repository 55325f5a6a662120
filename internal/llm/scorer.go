package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"
)

const scorePromptHeader = `You are scoring a podcast episode transcript for relevance to a set of topics.
For each topic, return a relevance score between 0.0 (completely unrelated)
and 1.0 (the episode is substantially about this topic). Judge by actual
content discussed, not passing mentions.

Topics:
%s
Transcript:
---
%s
---`

// ScoreRequest is one scoring call: a (trimmed) transcript against the
// active topic set.
type ScoreRequest struct {
	Transcript string
	Topics     []string
	Model      string
	MaxTokens  int
}

// ScoreTranscript asks the model for a per-topic relevance score. The
// response is constrained by a JSON schema enumerating every topic name as a
// required number property, and validated strictly on the way back in:
// every topic present, every value in [0,1]. A response violating either is
// an error, never silently patched.
func (c *Client) ScoreTranscript(ctx context.Context, req ScoreRequest) (map[string]float64, error) {
	if len(req.Topics) == 0 {
		return nil, fmt.Errorf("no topics to score against")
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, fmt.Errorf("empty transcript")
	}

	props := make(map[string]*genai.Schema, len(req.Topics))
	var topicList strings.Builder
	for _, name := range req.Topics {
		props[name] = &genai.Schema{Type: genai.TypeNumber}
		fmt.Fprintf(&topicList, "- %s\n", name)
	}
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   req.Topics,
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	prompt := fmt.Sprintf(scorePromptHeader, topicList.String(), req.Transcript)
	text, err := c.generate(ctx, req.Model, prompt, cfg)
	if err != nil {
		return nil, err
	}

	return parseScores(text, req.Topics)
}

func parseScores(text string, topics []string) (map[string]float64, error) {
	var scores map[string]float64
	if err := json.Unmarshal([]byte(text), &scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}

	for _, name := range topics {
		v, ok := scores[name]
		if !ok {
			return nil, fmt.Errorf("score response missing topic %q", name)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("score for topic %q out of range: %v", name, v)
		}
	}
	// Keys outside the active topic set must not leak into the store.
	for name := range scores {
		found := false
		for _, t := range topics {
			if t == name {
				found = true
				break
			}
		}
		if !found {
			delete(scores, name)
		}
	}
	return scores, nil
}

// TrimForScoring removes a leading and trailing fraction of the transcript
// before scoring, which strips most sponsor reads and outro boilerplate.
// fraction applies to each end; 0.05 drops 5% from the front and 5% from
// the back.
func TrimForScoring(transcript string, fraction float64) string {
	if fraction <= 0 {
		return transcript
	}
	n := len(transcript)
	cut := int(float64(n) * fraction)
	if cut == 0 || 2*cut >= n {
		return transcript
	}
	// The byte-computed offsets can land inside a multi-byte rune; back each
	// up to the start of the rune it falls in.
	lo, hi := cut, n-cut
	for lo > 0 && !utf8.RuneStart(transcript[lo]) {
		lo--
	}
	for hi > lo && !utf8.RuneStart(transcript[hi]) {
		hi--
	}
	return transcript[lo:hi]
}
