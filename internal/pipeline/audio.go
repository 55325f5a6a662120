package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podbrief/podbrief/internal/audio"
	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/llm"
	"github.com/podbrief/podbrief/internal/metrics"
	"github.com/podbrief/podbrief/internal/transcribe"
)

// runAudio is the heavy phase: recover stuck claims, claim a batch of
// pending episodes, then per episode download, chunk, transcribe chunk by
// chunk into the store, and score the transcript against the active topics.
// Episodes are fanned out over audio_max_workers; each worker handles one
// episode end to end.
func (o *Orchestrator) runAudio(ctx context.Context, store AudioStore, opts Options, rep *PhaseReport) error {
	cutoff := o.now().Add(-time.Duration(o.set.Pipeline.ProcessingTimeoutMinutes) * time.Minute)

	if opts.DryRun {
		return o.planAudio(ctx, store, cutoff, opts, rep)
	}

	recovered, err := store.RecoverStuckEpisodes(ctx, cutoff)
	if err != nil {
		return err
	}
	if recovered > 0 {
		rep.add("recovered", int(recovered))
		o.log.Warn().Int64("episodes", recovered).Msg("stuck episodes reset to pending")
	}

	limit := itemLimit(o.set.Pipeline.MaxEpisodesPerRun, opts.Limit)
	episodes, err := store.ClaimPendingEpisodes(ctx, limit)
	if err != nil {
		return err
	}
	rep.add("claimed", len(episodes))
	if len(episodes) == 0 {
		return nil
	}

	topics, err := store.ListActiveTopics(ctx)
	if err != nil {
		return err
	}
	topicNames := make([]string, len(topics))
	for i, t := range topics {
		topicNames[i] = t.Name
	}

	jobs := make(chan database.Episode)
	var wg sync.WaitGroup
	for range o.set.Pipeline.AudioMaxWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				o.processEpisode(ctx, store, e, topicNames, rep)
			}
		}()
	}
	for _, e := range episodes {
		jobs <- e
	}
	close(jobs)
	wg.Wait()
	return nil
}

// planAudio reports what a real run would recover and claim.
func (o *Orchestrator) planAudio(ctx context.Context, store AudioStore, cutoff time.Time, opts Options, rep *PhaseReport) error {
	stuck, err := store.StuckProcessingEpisodes(ctx, cutoff)
	if err != nil {
		return err
	}
	rep.add("would_recover", len(stuck))

	limit := itemLimit(o.set.Pipeline.MaxEpisodesPerRun, opts.Limit)
	pending, err := store.ListPendingEpisodes(ctx, limit)
	if err != nil {
		return err
	}
	rep.add("would_claim", len(pending))
	return nil
}

// processEpisode runs one claimed episode through download, chunking,
// transcription, and scoring. All failure paths release the staging
// directory; transcript state in the store is cleaned up by FailEpisode.
func (o *Orchestrator) processEpisode(ctx context.Context, store AudioStore, e database.Episode, topicNames []string, rep *PhaseReport) {
	log := o.log.With().Int64("episode_id", e.ID).Str("title", e.Title).Logger()

	stagingDir := filepath.Join(o.cfg.StagingDir, fmt.Sprintf("episode_%d", e.ID))
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		o.failEpisode(ctx, store, e, fmt.Errorf("create staging dir: %w", err), rep, log)
		return
	}
	defer os.RemoveAll(stagingDir)

	words, err := o.transcribeEpisode(ctx, store, e, stagingDir, log)
	if err != nil {
		if errors.Is(err, database.ErrNotProcessing) {
			// Recovery took the claim back mid-flight. Another run owns the
			// episode now; dropping it here is the correct outcome.
			rep.add("abandoned", 1)
			log.Warn().Msg("claim lost during transcription, abandoning episode")
			return
		}
		o.failEpisode(ctx, store, e, err, rep, log)
		return
	}
	rep.add("transcribed", 1)
	metrics.PhaseItemsTotal.WithLabelValues(PhaseAudio, "transcribed").Inc()

	relevant, err := o.scoreEpisode(ctx, store, e, topicNames, log)
	if err != nil {
		o.failEpisode(ctx, store, e, err, rep, log)
		return
	}
	if relevant {
		rep.add("scored", 1)
		metrics.PhaseItemsTotal.WithLabelValues(PhaseAudio, "scored").Inc()
	} else {
		rep.add("not_relevant", 1)
		metrics.PhaseItemsTotal.WithLabelValues(PhaseAudio, "not_relevant").Inc()
	}
	log.Info().Int("words", words).Bool("relevant", relevant).Msg("episode processed")
}

// transcribeEpisode downloads the source audio, splits it into chunks, and
// streams chunk transcripts into the store. The download lands in the audio
// cache so a retry of a failed attempt skips it; the cache entry is removed
// once the transcript is finalized.
func (o *Orchestrator) transcribeEpisode(ctx context.Context, store AudioStore, e database.Episode, stagingDir string, log zerolog.Logger) (int, error) {
	src := filepath.Join(o.cfg.AudioCacheDir, fmt.Sprintf("episode_%d.mp3", e.ID))
	if _, err := os.Stat(src); err != nil {
		if err := o.audio.Download(ctx, e.AudioURL, src); err != nil {
			metrics.ExternalCallsTotal.WithLabelValues("audio_download", "error").Inc()
			return 0, fmt.Errorf("download: %w", err)
		}
		metrics.ExternalCallsTotal.WithLabelValues("audio_download", "success").Inc()
	} else {
		log.Debug().Str("src", src).Msg("using cached source audio")
	}

	chunkDur := time.Duration(o.set.AudioProcessing.ChunkDurationMinutes) * time.Minute
	chunks, err := o.audio.Chunk(ctx, src, stagingDir, chunkDur, o.set.AudioProcessing.MaxChunksPerEpisode)
	if err != nil {
		return 0, fmt.Errorf("chunk: %w", err)
	}
	log.Debug().Int("chunks", len(chunks)).Msg("audio chunked")

	words, err := o.transcriber.Run(ctx, e.ID, chunks)
	if err != nil {
		return 0, err
	}

	if err := store.FinalizeTranscript(ctx, e.ID); err != nil {
		return 0, err
	}
	if err := os.Remove(src); err != nil {
		log.Debug().Err(err).Str("src", src).Msg("remove source audio")
	}
	return words, nil
}

// scoreEpisode scores the finished transcript against the active topics and
// persists the result. Returns whether any topic met the threshold.
func (o *Orchestrator) scoreEpisode(ctx context.Context, store AudioStore, e database.Episode, topicNames []string, log zerolog.Logger) (bool, error) {
	if len(topicNames) == 0 {
		return false, fmt.Errorf("no active topics to score against")
	}

	transcript, err := store.GetTranscript(ctx, e.ID)
	if err != nil {
		return false, err
	}

	scores, err := o.llm.ScoreTranscript(ctx, llm.ScoreRequest{
		Transcript: llm.TrimForScoring(transcript, o.set.Pipeline.AdTrimFraction),
		Topics:     topicNames,
		Model:      o.set.ContentScoring.Model,
		MaxTokens:  o.set.ContentScoring.MaxTokens,
	})
	if err != nil {
		metrics.ExternalCallsTotal.WithLabelValues("llm_score", "error").Inc()
		return false, fmt.Errorf("score transcript: %w", err)
	}
	metrics.ExternalCallsTotal.WithLabelValues("llm_score", "success").Inc()

	relevant := false
	for _, v := range scores {
		if v >= o.set.ContentFiltering.ScoreThreshold {
			relevant = true
			break
		}
	}

	raw, err := json.Marshal(scores)
	if err != nil {
		return false, fmt.Errorf("encode scores: %w", err)
	}
	if err := store.SetEpisodeScores(ctx, e.ID, raw, relevant); err != nil {
		return false, err
	}
	return relevant, nil
}

// failEpisode records one episode's failure against its retry budget. A run
// that is shutting down is not charged: the processing claim stays in place
// and stuck-work recovery returns the episode to pending on a later run.
// Per-request timeouts from the HTTP clients unwrap to the same sentinel as
// a real cancellation, so the run's own context is the only reliable signal.
func (o *Orchestrator) failEpisode(ctx context.Context, store AudioStore, e database.Episode, cause error, rep *PhaseReport, log zerolog.Logger) {
	if ctx.Err() != nil {
		rep.add("interrupted", 1)
		log.Warn().Err(cause).Msg("run shutting down, leaving claim for stuck recovery")
		return
	}

	rep.addError(fmt.Sprintf("episode %d", e.ID), cause.Error())
	metrics.PhaseItemsTotal.WithLabelValues(PhaseAudio, "failed").Inc()

	status, err := store.FailEpisode(ctx, e.ID, cause.Error(), o.set.Pipeline.MaxRetries)
	if err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("record episode failure")
		return
	}
	if status == database.EpisodeStatusFailed {
		rep.add("failed", 1)
		log.Error().Err(cause).Msg("episode failed permanently")
	} else {
		rep.add("retry_pending", 1)
		log.Warn().Err(cause).Int("failure_count", e.FailureCount+1).Msg("episode returned to pending")
	}
}

var (
	_ AudioProcessor = (*audio.Processor)(nil)
	_ Transcriber    = (*transcribe.EpisodeTranscriber)(nil)
)
