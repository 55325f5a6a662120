package settings

import (
	"errors"
	"strings"
	"testing"

	"github.com/podbrief/podbrief/internal/database"
)

// validRows returns a complete settings table; tests mutate copies of it.
func validRows() []database.SettingRow {
	rows := []database.SettingRow{
		{Category: "content_filtering", Key: "score_threshold", ValueType: "float", ValueText: "0.65"},
		{Category: "content_filtering", Key: "max_episodes_per_digest", ValueType: "int", ValueText: "5"},
		{Category: "audio_processing", Key: "chunk_duration_minutes", ValueType: "int", ValueText: "10"},
		{Category: "pipeline", Key: "max_episodes_per_run", ValueType: "int", ValueText: "20"},
		{Category: "pipeline", Key: "audio_max_workers", ValueType: "int", ValueText: "3"},
		{Category: "pipeline", Key: "tts_max_workers", ValueType: "int", ValueText: "2"},
		{Category: "pipeline", Key: "discovery_lookback_hours", ValueType: "int", ValueText: "26"},
		{Category: "retention", Key: "local_mp3_days", ValueType: "int", ValueText: "3"},
		{Category: "retention", Key: "audio_cache_days", ValueType: "int", ValueText: "1"},
		{Category: "retention", Key: "logs_days", ValueType: "int", ValueText: "14"},
		{Category: "retention", Key: "github_release_days", ValueType: "int", ValueText: "30"},
		{Category: "retention", Key: "episode_retention_days", ValueType: "int", ValueText: "14"},
		{Category: "retention", Key: "digest_retention_days", ValueType: "int", ValueText: "30"},
		{Category: "ai_content_scoring", Key: "model", ValueType: "string", ValueText: "gemini-2.5-flash"},
		{Category: "ai_content_scoring", Key: "max_tokens", ValueType: "int", ValueText: "8192"},
		{Category: "ai_digest_generation", Key: "model", ValueType: "string", ValueText: "gemini-2.5-pro"},
		{Category: "ai_digest_generation", Key: "max_output_tokens", ValueType: "int", ValueText: "32768"},
		{Category: "ai_digest_generation", Key: "max_input_tokens", ValueType: "int", ValueText: "200000"},
		{Category: "ai_metadata_generation", Key: "model", ValueType: "string", ValueText: "gemini-2.5-flash"},
		{Category: "ai_metadata_generation", Key: "max_title_tokens", ValueType: "int", ValueText: "64"},
		{Category: "ai_metadata_generation", Key: "max_summary_tokens", ValueType: "int", ValueText: "256"},
		{Category: "ai_metadata_generation", Key: "max_description_tokens", ValueType: "int", ValueText: "512"},
		{Category: "tts_generation", Key: "model", ValueType: "string", ValueText: "eleven_multilingual_v2"},
		{Category: "tts_generation", Key: "max_characters", ValueType: "int", ValueText: "40000"},
		{Category: "display", Key: "timezone", ValueType: "string", ValueText: "America/New_York"},
	}
	return rows
}

func without(rows []database.SettingRow, category, key string) []database.SettingRow {
	out := make([]database.SettingRow, 0, len(rows))
	for _, r := range rows {
		if r.Category == category && r.Key == key {
			continue
		}
		out = append(out, r)
	}
	return out
}

func withValue(rows []database.SettingRow, category, key, value string) []database.SettingRow {
	out := make([]database.SettingRow, len(rows))
	copy(out, rows)
	for i, r := range out {
		if r.Category == category && r.Key == key {
			out[i].ValueText = value
			return out
		}
	}
	return append(out, database.SettingRow{Category: category, Key: key, ValueType: "string", ValueText: value})
}

// ── Load ─────────────────────────────────────────────────────────────

func TestLoadComplete(t *testing.T) {
	s, err := Load(validRows())
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if got, want := s.ContentFiltering.ScoreThreshold, 0.65; got != want {
		t.Errorf("ScoreThreshold = %v, want %v", got, want)
	}
	if got, want := s.Pipeline.MaxEpisodesPerRun, 20; got != want {
		t.Errorf("MaxEpisodesPerRun = %v, want %v", got, want)
	}
	if got, want := s.Retention.EpisodeRetentionDays, 14; got != want {
		t.Errorf("EpisodeRetentionDays = %v, want %v", got, want)
	}
	if s.Location == nil || s.Location.String() != "America/New_York" {
		t.Errorf("Location = %v, want America/New_York", s.Location)
	}
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(validRows())
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"processing_timeout_minutes", s.Pipeline.ProcessingTimeoutMinutes, 10},
		{"ad_trim_fraction", s.Pipeline.AdTrimFraction, 0.05},
		{"feed_deactivation_threshold", s.Pipeline.FeedDeactivationThreshold, 3},
		{"max_retries", s.Pipeline.MaxRetries, 3},
		{"publish_max_retries", s.Pipeline.PublishMaxRetries, 5},
		{"max_chunks_per_episode", s.AudioProcessing.MaxChunksPerEpisode, 0},
		{"min_episodes_per_digest", s.ContentFiltering.MinEpisodesPerDigest, 0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadMissingRequired(t *testing.T) {
	rows := without(validRows(), "pipeline", "max_episodes_per_run")
	rows = without(rows, "tts_generation", "model")

	_, err := Load(rows)
	if err == nil {
		t.Fatal("Load() error = nil, want missing-settings error")
	}

	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("Load() error type = %T, want *Error", err)
	}
	if len(serr.Missing) != 2 {
		t.Fatalf("Missing = %v, want 2 entries", serr.Missing)
	}
	for _, want := range []string{"pipeline.max_episodes_per_run", "tts_generation.model"} {
		found := false
		for _, got := range serr.Missing {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Missing does not contain %q: %v", want, serr.Missing)
		}
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		category string
		key      string
		value    string
	}{
		{"threshold_above_one", "content_filtering", "score_threshold", "1.5"},
		{"threshold_not_number", "content_filtering", "score_threshold", "high"},
		{"trim_out_of_range", "pipeline", "ad_trim_fraction", "0.5"},
		{"workers_zero", "pipeline", "audio_max_workers", "0"},
		{"bad_timezone", "display", "timezone", "Mars/Olympus_Mons"},
		{"int_not_number", "retention", "logs_days", "two weeks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := withValue(validRows(), tt.category, tt.key, tt.value)
			_, err := Load(rows)
			if err == nil {
				t.Fatalf("Load() error = nil, want invalid-setting error for %s.%s=%q", tt.category, tt.key, tt.value)
			}
			var serr *Error
			if !errors.As(err, &serr) {
				t.Fatalf("Load() error type = %T, want *Error", err)
			}
			if len(serr.Invalid) == 0 {
				t.Errorf("Invalid is empty, want entry for %s.%s", tt.category, tt.key)
			}
		})
	}
}

func TestLoadCollectsAllProblems(t *testing.T) {
	rows := without(validRows(), "retention", "logs_days")
	rows = without(rows, "ai_digest_generation", "model")
	rows = withValue(rows, "pipeline", "tts_max_workers", "0")

	_, err := Load(rows)
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("Load() error type = %T, want *Error", err)
	}
	if len(serr.Missing) != 2 || len(serr.Invalid) != 1 {
		t.Errorf("Missing/Invalid = %d/%d, want 2/1 (%v / %v)",
			len(serr.Missing), len(serr.Invalid), serr.Missing, serr.Invalid)
	}
	if !strings.Contains(serr.Error(), "retention.logs_days") {
		t.Errorf("Error() = %q, want it to name retention.logs_days", serr.Error())
	}
}

// ── LoadRSS ──────────────────────────────────────────────────────────

func TestLoadRSS(t *testing.T) {
	rows := []database.SettingRow{
		{Category: "rss", Key: "channel_title", ValueType: "string", ValueText: "Daily Digest"},
		{Category: "rss", Key: "channel_description", ValueType: "string", ValueText: "Topic digests from your podcasts"},
		{Category: "rss", Key: "owner_email", ValueType: "string", ValueText: "ops@example.com"},
		{Category: "rss", Key: "image_url", ValueType: "string", ValueText: "https://example.com/cover.jpg"},
		{Category: "display", Key: "timezone", ValueType: "string", ValueText: "UTC"},
	}

	f, err := LoadRSS(rows)
	if err != nil {
		t.Fatalf("LoadRSS() error = %v, want nil", err)
	}
	if got, want := f.ChannelTitle, "Daily Digest"; got != want {
		t.Errorf("ChannelTitle = %q, want %q", got, want)
	}
	if got, want := f.EdgeCacheSeconds, 300; got != want {
		t.Errorf("EdgeCacheSeconds = %v, want %v (default)", got, want)
	}
	if got, want := f.SWRSeconds, 600; got != want {
		t.Errorf("SWRSeconds = %v, want %v (default)", got, want)
	}
}

func TestLoadRSSMissingChannel(t *testing.T) {
	rows := []database.SettingRow{
		{Category: "display", Key: "timezone", ValueType: "string", ValueText: "UTC"},
	}
	_, err := LoadRSS(rows)
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("LoadRSS() error type = %T, want *Error", err)
	}
	if len(serr.Missing) != 4 {
		t.Errorf("Missing = %v, want the four rss channel keys", serr.Missing)
	}
}
