package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSynthesize(t *testing.T) {
	mp3 := []byte("ID3 fake mp3 payload")
	var gotPath, gotKey string
	var gotReq synthesisRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(mp3)
	}))
	defer srv.Close()

	c := NewClient("secret-key", 10*time.Second, 600, zerolog.Nop())
	c.baseURL = srv.URL

	var buf bytes.Buffer
	err := c.Synthesize(context.Background(), "Good morning.", "voice-1", "eleven_multilingual_v2", &buf)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotPath != "/v1/text-to-speech/voice-1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret-key" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if gotReq.Text != "Good morning." || gotReq.ModelID != "eleven_multilingual_v2" {
		t.Errorf("request = %+v", gotReq)
	}
	if !bytes.Equal(buf.Bytes(), mp3) {
		t.Errorf("streamed %d bytes, want %d", buf.Len(), len(mp3))
	}
}

func TestSynthesizeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", 10*time.Second, 600, zerolog.Nop())
	c.baseURL = srv.URL

	var buf bytes.Buffer
	err := c.Synthesize(context.Background(), "text", "v", "m", &buf)
	if err == nil {
		t.Fatal("Synthesize succeeded on 429")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StatusError", err)
	}
	if se.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", se.Status)
	}
}

func TestSynthesizeRequiresVoice(t *testing.T) {
	c := NewClient("k", time.Second, 600, zerolog.Nop())
	var buf bytes.Buffer
	if err := c.Synthesize(context.Background(), "text", "", "m", &buf); err == nil {
		t.Error("Synthesize accepted empty voice id")
	}
}
