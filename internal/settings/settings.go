// Package settings provides the typed view over the web_settings table.
// Every pipeline tunable lives there, written by the management UI and read
// once per run. A required key with no row is a fatal configuration error;
// defaults exist only where a default is an explicitly documented behavior.
package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/podbrief/podbrief/internal/database"
)

// Error reports settings rows that are missing or unparseable. The whole
// table is validated in one pass so the operator sees every problem at once.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid settings: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// ContentFiltering controls digest episode selection.
type ContentFiltering struct {
	ScoreThreshold       float64
	MaxEpisodesPerDigest int
	// MinEpisodesPerDigest is loaded for visibility but not consulted by
	// selection. Do not wire it back into the no-content branch without
	// product direction.
	MinEpisodesPerDigest int
}

// AudioProcessing controls chunking.
type AudioProcessing struct {
	ChunkDurationMinutes int
	MaxChunksPerEpisode  int // 0 = unbounded
}

// Pipeline controls orchestration budgets and recovery.
type Pipeline struct {
	MaxEpisodesPerRun         int
	AudioMaxWorkers           int
	TTSMaxWorkers             int
	ProcessingTimeoutMinutes  int
	DiscoveryLookbackHours    int
	AdTrimFraction            float64
	FeedDeactivationThreshold int
	MaxRetries                int
	PublishMaxRetries         int
}

// Retention holds per-class age windows in days.
type Retention struct {
	LocalMP3Days         int
	AudioCacheDays       int
	LogsDays             int
	GithubReleaseDays    int
	EpisodeRetentionDays int
	DigestRetentionDays  int
}

// ContentScoring configures the relevance scorer.
type ContentScoring struct {
	Model     string
	MaxTokens int
}

// DigestGeneration configures the script generator.
type DigestGeneration struct {
	Model           string
	MaxOutputTokens int
	MaxInputTokens  int
}

// MetadataGeneration configures the best-effort title/summary generator.
type MetadataGeneration struct {
	Model                string
	MaxTitleTokens       int
	MaxSummaryTokens     int
	MaxDescriptionTokens int
}

// TTSGeneration configures speech synthesis.
type TTSGeneration struct {
	Model         string
	MaxCharacters int
}

// Settings is the full typed snapshot a pipeline run operates under.
type Settings struct {
	ContentFiltering ContentFiltering
	AudioProcessing  AudioProcessing
	Pipeline         Pipeline
	Retention        Retention
	ContentScoring   ContentScoring
	DigestGeneration DigestGeneration
	Metadata         MetadataGeneration
	TTS              TTSGeneration

	DisplayTimezone string
	Location        *time.Location
}

// RSS is the typed snapshot the feed endpoint operates under.
type RSS struct {
	ChannelTitle       string
	ChannelDescription string
	OwnerEmail         string
	ImageURL           string
	EdgeCacheSeconds   int
	SWRSeconds         int

	DisplayTimezone string
	Location        *time.Location
}

// Load builds the pipeline settings view, failing with *Error if any
// required key is absent or any present value does not parse or validate.
func Load(rows []database.SettingRow) (*Settings, error) {
	r := newReader(rows)
	s := &Settings{}

	s.ContentFiltering.ScoreThreshold = r.requireFloat("content_filtering", "score_threshold")
	s.ContentFiltering.MaxEpisodesPerDigest = r.requireInt("content_filtering", "max_episodes_per_digest")
	s.ContentFiltering.MinEpisodesPerDigest = r.intOr("content_filtering", "min_episodes_per_digest", 0)

	s.AudioProcessing.ChunkDurationMinutes = r.requireInt("audio_processing", "chunk_duration_minutes")
	s.AudioProcessing.MaxChunksPerEpisode = r.intOr("audio_processing", "max_chunks_per_episode", 0)

	s.Pipeline.MaxEpisodesPerRun = r.requireInt("pipeline", "max_episodes_per_run")
	s.Pipeline.AudioMaxWorkers = r.requireInt("pipeline", "audio_max_workers")
	s.Pipeline.TTSMaxWorkers = r.requireInt("pipeline", "tts_max_workers")
	s.Pipeline.ProcessingTimeoutMinutes = r.intOr("pipeline", "processing_timeout_minutes", 10)
	s.Pipeline.DiscoveryLookbackHours = r.requireInt("pipeline", "discovery_lookback_hours")
	s.Pipeline.AdTrimFraction = r.floatOr("pipeline", "ad_trim_fraction", 0.05)
	s.Pipeline.FeedDeactivationThreshold = r.intOr("pipeline", "feed_deactivation_threshold", 3)
	s.Pipeline.MaxRetries = r.intOr("pipeline", "max_retries", 3)
	s.Pipeline.PublishMaxRetries = r.intOr("pipeline", "publish_max_retries", 5)

	s.Retention.LocalMP3Days = r.requireInt("retention", "local_mp3_days")
	s.Retention.AudioCacheDays = r.requireInt("retention", "audio_cache_days")
	s.Retention.LogsDays = r.requireInt("retention", "logs_days")
	s.Retention.GithubReleaseDays = r.requireInt("retention", "github_release_days")
	s.Retention.EpisodeRetentionDays = r.requireInt("retention", "episode_retention_days")
	s.Retention.DigestRetentionDays = r.requireInt("retention", "digest_retention_days")

	s.ContentScoring.Model = r.requireString("ai_content_scoring", "model")
	s.ContentScoring.MaxTokens = r.requireInt("ai_content_scoring", "max_tokens")

	s.DigestGeneration.Model = r.requireString("ai_digest_generation", "model")
	s.DigestGeneration.MaxOutputTokens = r.requireInt("ai_digest_generation", "max_output_tokens")
	s.DigestGeneration.MaxInputTokens = r.requireInt("ai_digest_generation", "max_input_tokens")

	s.Metadata.Model = r.requireString("ai_metadata_generation", "model")
	s.Metadata.MaxTitleTokens = r.requireInt("ai_metadata_generation", "max_title_tokens")
	s.Metadata.MaxSummaryTokens = r.requireInt("ai_metadata_generation", "max_summary_tokens")
	s.Metadata.MaxDescriptionTokens = r.requireInt("ai_metadata_generation", "max_description_tokens")

	s.TTS.Model = r.requireString("tts_generation", "model")
	s.TTS.MaxCharacters = r.requireInt("tts_generation", "max_characters")

	s.DisplayTimezone = r.requireString("display", "timezone")

	// Range validation on values that parsed.
	if s.ContentFiltering.ScoreThreshold < 0 || s.ContentFiltering.ScoreThreshold > 1 {
		r.invalid("content_filtering.score_threshold", "must be in [0,1]")
	}
	if s.Pipeline.AdTrimFraction < 0 || s.Pipeline.AdTrimFraction > 0.2 {
		r.invalid("pipeline.ad_trim_fraction", "must be in [0,0.2]")
	}
	if s.Pipeline.AudioMaxWorkers < 1 {
		r.invalid("pipeline.audio_max_workers", "must be at least 1")
	}
	if s.Pipeline.TTSMaxWorkers < 1 {
		r.invalid("pipeline.tts_max_workers", "must be at least 1")
	}
	if s.DisplayTimezone != "" {
		loc, err := time.LoadLocation(s.DisplayTimezone)
		if err != nil {
			r.invalid("display.timezone", "unknown IANA timezone")
		} else {
			s.Location = loc
		}
	}

	if err := r.err(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadRSS builds the feed endpoint's settings view.
func LoadRSS(rows []database.SettingRow) (*RSS, error) {
	r := newReader(rows)
	f := &RSS{}

	f.ChannelTitle = r.requireString("rss", "channel_title")
	f.ChannelDescription = r.requireString("rss", "channel_description")
	f.OwnerEmail = r.requireString("rss", "owner_email")
	f.ImageURL = r.requireString("rss", "image_url")
	f.EdgeCacheSeconds = r.intOr("rss", "edge_cache_seconds", 300)
	f.SWRSeconds = r.intOr("rss", "swr_seconds", 600)

	f.DisplayTimezone = r.requireString("display", "timezone")
	if f.DisplayTimezone != "" {
		loc, err := time.LoadLocation(f.DisplayTimezone)
		if err != nil {
			r.invalid("display.timezone", "unknown IANA timezone")
		} else {
			f.Location = loc
		}
	}

	if err := r.err(); err != nil {
		return nil, err
	}
	return f, nil
}

// reader resolves typed values over the raw rows, accumulating problems
// instead of stopping at the first one.
type reader struct {
	rows        map[string]database.SettingRow
	missingKeys []string
	invalidKeys []string
}

func newReader(rows []database.SettingRow) *reader {
	m := make(map[string]database.SettingRow, len(rows))
	for _, row := range rows {
		m[row.Category+"."+row.Key] = row
	}
	return &reader{rows: m}
}

func (r *reader) lookup(category, key string) (database.SettingRow, bool) {
	row, ok := r.rows[category+"."+key]
	return row, ok
}

func (r *reader) missing(category, key string) {
	r.missingKeys = append(r.missingKeys, category+"."+key)
}

func (r *reader) invalid(name, reason string) {
	r.invalidKeys = append(r.invalidKeys, fmt.Sprintf("%s (%s)", name, reason))
}

func (r *reader) requireString(category, key string) string {
	row, ok := r.lookup(category, key)
	if !ok || strings.TrimSpace(row.ValueText) == "" {
		r.missing(category, key)
		return ""
	}
	return strings.TrimSpace(row.ValueText)
}

func (r *reader) requireInt(category, key string) int {
	row, ok := r.lookup(category, key)
	if !ok {
		r.missing(category, key)
		return 0
	}
	return r.parseInt(category+"."+key, row.ValueText)
}

func (r *reader) intOr(category, key string, def int) int {
	row, ok := r.lookup(category, key)
	if !ok {
		return def
	}
	return r.parseInt(category+"."+key, row.ValueText)
}

func (r *reader) requireFloat(category, key string) float64 {
	row, ok := r.lookup(category, key)
	if !ok {
		r.missing(category, key)
		return 0
	}
	return r.parseFloat(category+"."+key, row.ValueText)
}

func (r *reader) floatOr(category, key string, def float64) float64 {
	row, ok := r.lookup(category, key)
	if !ok {
		return def
	}
	return r.parseFloat(category+"."+key, row.ValueText)
}

func (r *reader) parseInt(name, raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		r.invalid(name, "not an integer")
		return 0
	}
	return v
}

func (r *reader) parseFloat(name, raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		r.invalid(name, "not a number")
		return 0
	}
	return v
}

func (r *reader) err() error {
	if len(r.missingKeys) == 0 && len(r.invalidKeys) == 0 {
		return nil
	}
	sort.Strings(r.missingKeys)
	return &Error{Missing: r.missingKeys, Invalid: r.invalidKeys}
}
