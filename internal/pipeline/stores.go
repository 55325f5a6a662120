package pipeline

import (
	"context"
	"time"

	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/feeds"
	"github.com/podbrief/podbrief/internal/llm"
	"github.com/podbrief/podbrief/internal/tts"
)

// Per-phase views of the state store. *database.DB satisfies all of them;
// phase tests substitute fakes for just the slice they exercise.

// DiscoveryStore is the discovery phase's store surface.
type DiscoveryStore interface {
	ListActiveFeeds(ctx context.Context) ([]database.Feed, error)
	MarkFeedChecked(ctx context.Context, id int64, title string) error
	RecordFeedFailure(ctx context.Context, id int64, threshold int) (int, bool, error)
	InsertEpisode(ctx context.Context, e database.NewEpisode) (bool, error)
}

// AudioStore is the audio phase's store surface.
type AudioStore interface {
	RecoverStuckEpisodes(ctx context.Context, cutoff time.Time) (int64, error)
	StuckProcessingEpisodes(ctx context.Context, cutoff time.Time) ([]database.Episode, error)
	ClaimPendingEpisodes(ctx context.Context, limit int) ([]database.Episode, error)
	ListPendingEpisodes(ctx context.Context, limit int) ([]database.Episode, error)
	ListActiveTopics(ctx context.Context) ([]database.Topic, error)
	FinalizeTranscript(ctx context.Context, id int64) error
	GetTranscript(ctx context.Context, id int64) (string, error)
	SetEpisodeScores(ctx context.Context, id int64, scores []byte, relevant bool) error
	FailEpisode(ctx context.Context, id int64, reason string, maxRetries int) (string, error)
}

// DigestStore is the digest phase's store surface.
type DigestStore interface {
	ListActiveTopics(ctx context.Context) ([]database.Topic, error)
	QualifyingEpisodes(ctx context.Context, topic string, threshold float64, limit int) ([]database.QualifyingEpisode, error)
	UpsertDigest(ctx context.Context, topic string, date time.Time, script string, episodeIDs []int64) (int64, error)
	MarkEpisodesDigested(ctx context.Context, ids []int64) (int64, error)
}

// TTSStore is the TTS phase's store surface.
type TTSStore interface {
	ListActiveTopics(ctx context.Context) ([]database.Topic, error)
	DigestsEligibleForTTS(ctx context.Context, date time.Time) ([]database.Digest, error)
	AttachDigestAudio(ctx context.Context, id int64, path string, durationSeconds int, sizeBytes int64, title, summary string) error
	SetDigestFailure(ctx context.Context, id int64, reason string) error
}

// PublishStore is the publishing phase's store surface.
type PublishStore interface {
	DigestsEligibleForPublish(ctx context.Context) ([]database.Digest, error)
	MarkDigestPublished(ctx context.Context, id int64, artifactURL string, sizeBytes int64, publishedAt time.Time) error
	ClearDigestMP3Path(ctx context.Context, id int64) error
	SetDigestFailure(ctx context.Context, id int64, reason string) error
}

// RetentionStore is the retention phase's store surface.
type RetentionStore interface {
	CountEpisodesPublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteEpisodesPublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountDigestsBefore(ctx context.Context, cutoffDate time.Time) (int64, error)
	DeleteDigestsBefore(ctx context.Context, cutoffDate time.Time) (int64, error)
	ClearArtifactURLsForDate(ctx context.Context, date time.Time) (int64, error)
}

// Store is the full store surface the orchestrator runs against.
type Store interface {
	DiscoveryStore
	AudioStore
	DigestStore
	TTSStore
	PublishStore
	RetentionStore
}

// FeedFetcher fetches and parses a podcast feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*feeds.Feed, error)
}

// AudioProcessor downloads and chunks episode audio.
type AudioProcessor interface {
	Download(ctx context.Context, url, dest string) error
	Chunk(ctx context.Context, src, dir string, chunkDuration time.Duration, maxChunks int) ([]string, error)
}

// Transcriber transcribes one claimed episode's chunks, appending each
// chunk's text to the store as it lands.
type Transcriber interface {
	Run(ctx context.Context, episodeID int64, chunkPaths []string) (int, error)
}

// LLM is the language-model surface the digest pipeline consumes.
type LLM interface {
	ScoreTranscript(ctx context.Context, req llm.ScoreRequest) (map[string]float64, error)
	GenerateScript(ctx context.Context, req llm.ScriptRequest) (string, error)
	GenerateMetadata(ctx context.Context, req llm.MetadataRequest) (llm.Metadata, error)
}

// Synthesizer renders a script to a validated, atomically committed MP3.
type Synthesizer interface {
	SynthesizeToFile(ctx context.Context, text, voiceID, model, finalPath string, minDuration time.Duration) (tts.Result, error)
}
