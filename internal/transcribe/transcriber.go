package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/podbrief/podbrief/internal/metrics"
)

// ChunkStore is the slice of the state store the transcriber writes through.
// Implemented by *database.DB.
type ChunkStore interface {
	AppendTranscriptChunk(ctx context.Context, episodeID int64, text string, wordCount int) error
	FinalizeTranscript(ctx context.Context, episodeID int64) error
}

// EpisodeTranscriber runs a provider over an episode's chunks in order,
// appending each chunk's text to the store before touching the next one.
// At no point does it hold more than a single chunk of text in memory.
type EpisodeTranscriber struct {
	provider Provider
	store    ChunkStore
	log      zerolog.Logger
}

// NewEpisodeTranscriber wires a provider to the store.
func NewEpisodeTranscriber(provider Provider, store ChunkStore, log zerolog.Logger) *EpisodeTranscriber {
	return &EpisodeTranscriber{
		provider: provider,
		store:    store,
		log:      log.With().Str("component", "transcriber").Str("provider", provider.Name()).Logger(),
	}
}

// Run transcribes chunkPaths sequentially for the given episode and
// finalizes the transcript. Returns the total word count. Any error aborts
// the episode; the caller decides whether to retry, and a restarted episode
// begins again from chunk 1 after the store discards partial text.
func (t *EpisodeTranscriber) Run(ctx context.Context, episodeID int64, chunkPaths []string) (int, error) {
	if len(chunkPaths) == 0 {
		return 0, fmt.Errorf("no chunks to transcribe")
	}

	totalWords := 0
	for i, path := range chunkPaths {
		resp, err := t.provider.Transcribe(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("transcribe chunk %d/%d: %w", i+1, len(chunkPaths), err)
		}

		text := strings.TrimSpace(resp.Text)
		if text == "" {
			// Silence (or an ad break the model refused to voice). Nothing
			// to append; the chunk still counts as done.
			t.log.Debug().Int64("episode_id", episodeID).Int("chunk", i+1).Msg("empty chunk transcript")
			continue
		}

		totalWords += len(strings.Fields(text))
		if i > 0 {
			text = "\n" + text
		}
		if err := t.store.AppendTranscriptChunk(ctx, episodeID, text, totalWords); err != nil {
			return 0, fmt.Errorf("append chunk %d/%d: %w", i+1, len(chunkPaths), err)
		}
		metrics.TranscriptChunksTotal.Inc()

		t.log.Debug().
			Int64("episode_id", episodeID).
			Int("chunk", i+1).
			Int("chunks", len(chunkPaths)).
			Int("words_total", totalWords).
			Msg("chunk transcribed")
		// text goes out of scope here; the buffer never outlives its chunk.
	}

	if err := t.store.FinalizeTranscript(ctx, episodeID); err != nil {
		return 0, fmt.Errorf("finalize transcript: %w", err)
	}
	return totalWords, nil
}
