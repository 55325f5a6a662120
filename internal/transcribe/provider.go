// Package transcribe converts episode audio chunks to text and streams the
// result into the state store one chunk at a time, keeping transcription
// memory independent of episode length.
package transcribe

import "context"

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string) (*Response, error)
	Name() string  // "whisper", "deepinfra"
	Model() string // model identifier for logs
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
}
