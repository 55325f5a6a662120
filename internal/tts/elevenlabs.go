// Package tts synthesizes digest scripts into MP3 files through the
// ElevenLabs API, committing each file atomically: audio is rendered to a
// pending temp file, probed for valid framing and plausible duration, and
// only then renamed into place. A failure at any step removes the temp file
// and leaves nothing behind.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// Client calls the ElevenLabs text-to-speech API. A shared rate limiter
// spaces out requests across all TTS workers.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates an ElevenLabs client. requestsPerMinute bounds the
// synthesis call rate across all workers sharing this client.
func NewClient(apiKey string, timeout time.Duration, requestsPerMinute int, log zerolog.Logger) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
		log:     log.With().Str("component", "tts").Logger(),
	}
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// StatusError carries the HTTP status of a failed synthesis call so the
// caller can distinguish transient provider trouble from bad input.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("elevenlabs API error (status %d): %s", e.Status, e.Body)
}

// Synthesize renders text with the given voice and model, streaming the MP3
// body to w. The response is copied straight through; memory stays constant
// regardless of script length.
func (c *Client) Synthesize(ctx context.Context, text, voiceID, model string, w io.Writer) error {
	if voiceID == "" {
		return fmt.Errorf("voice id is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: model,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create synthesis request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("stream synthesis body: %w", err)
	}

	c.log.Debug().
		Str("voice_id", voiceID).
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("speech synthesized")
	return nil
}
