package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/podbrief/podbrief/internal/config"
	"github.com/podbrief/podbrief/internal/pipeline"
	"github.com/podbrief/podbrief/internal/settings"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"generic", errors.New("boom"), 1},
		{"settings", &settings.Error{Missing: []string{"display.timezone"}}, 2},
		{"wrapped_settings", fmt.Errorf("load: %w", &settings.Error{Missing: []string{"rss.image_url"}}), 2},
		{"bad_config", fmt.Errorf("%w: unknown provider", errBadConfig), 2},
		{"outage", fmt.Errorf("phase publishing: %w", pipeline.ErrOutage), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestCheckPhaseCredentials(t *testing.T) {
	cfg := &config.Config{}

	err := checkPhaseCredentials(cfg, []string{pipeline.PhaseTTS})
	if err == nil {
		t.Fatal("missing ELEVENLABS_API_KEY not rejected with tts selected")
	}
	if got := exitCode(err); got != 2 {
		t.Errorf("exitCode = %d, want 2", got)
	}

	if err := checkPhaseCredentials(cfg, []string{pipeline.PhaseDiscovery, pipeline.PhaseAudio}); err != nil {
		t.Errorf("key demanded for phases that do not synthesize: %v", err)
	}

	cfg.ElevenLabsAPIKey = "key"
	if err := checkPhaseCredentials(cfg, []string{pipeline.PhaseTTS}); err != nil {
		t.Errorf("key present but rejected: %v", err)
	}
}
