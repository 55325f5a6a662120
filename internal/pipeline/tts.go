package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/llm"
	"github.com/podbrief/podbrief/internal/metrics"
	"github.com/podbrief/podbrief/internal/rss"
	"github.com/podbrief/podbrief/internal/tts"
)

// minDigestAudio rejects implausibly short synthesis output for digests that
// had real content. No-content digests are legitimately a sentence long.
const minDigestAudio = 10 * time.Second

// runTTS synthesizes MP3s for today's digests that have a script but no
// audio. Synthesis commits atomically: audio lands in a temp file, is probed
// for validity, renamed into place, and only then recorded in the store. A
// crash at any point leaves either no file or a committed file with a
// matching row, never a half-written MP3 the publisher could ship.
func (o *Orchestrator) runTTS(ctx context.Context, store TTSStore, opts Options, rep *PhaseReport) error {
	digests, err := store.DigestsEligibleForTTS(ctx, o.today())
	if err != nil {
		return err
	}
	if limit := itemLimit(0, opts.Limit); limit > 0 && len(digests) > limit {
		digests = digests[:limit]
	}
	rep.add("eligible", len(digests))
	if len(digests) == 0 {
		return nil
	}

	if opts.DryRun {
		for _, d := range digests {
			o.log.Info().Str("topic", d.Topic).Int("script_chars", len(d.ScriptContent)).Msg("synthesis planned")
		}
		rep.add("would_synthesize", len(digests))
		return nil
	}

	voices, err := o.topicVoices(ctx, store)
	if err != nil {
		return err
	}

	jobs := make(chan database.Digest)
	var wg sync.WaitGroup
	for range o.set.Pipeline.TTSMaxWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				o.synthesizeDigest(ctx, store, d, voices[d.Topic], rep)
			}
		}()
	}
	for _, d := range digests {
		jobs <- d
	}
	close(jobs)
	wg.Wait()
	return nil
}

// topicVoices maps topic name to its bound ElevenLabs voice.
func (o *Orchestrator) topicVoices(ctx context.Context, store TTSStore) (map[string]string, error) {
	topics, err := store.ListActiveTopics(ctx)
	if err != nil {
		return nil, err
	}
	voices := make(map[string]string, len(topics))
	for _, t := range topics {
		voices[t.Name] = t.VoiceID
	}
	return voices, nil
}

// synthesizeDigest handles one digest end to end. Failures are recorded on
// the row and leave it eligible for the next run; the one exception is an
// over-length script, which will never fit and is reported for an operator
// to shorten the topic instructions.
func (o *Orchestrator) synthesizeDigest(ctx context.Context, store TTSStore, d database.Digest, voiceID string, rep *PhaseReport) {
	log := o.log.With().Int64("digest_id", d.ID).Str("topic", d.Topic).Logger()

	fail := func(reason string, cause error) {
		rep.add("failed", 1)
		rep.addError(d.Topic, reason)
		metrics.PhaseItemsTotal.WithLabelValues(PhaseTTS, "failed").Inc()
		log.Error().Err(cause).Msg(reason)
		if err := store.SetDigestFailure(ctx, d.ID, reason); err != nil {
			log.Error().Err(err).Msg("record digest failure")
		}
	}

	if maxChars := o.set.TTS.MaxCharacters; len(d.ScriptContent) > maxChars {
		// Scripts are never truncated: a digest cut off mid-sentence is
		// worse than a digest that arrives a day late after a fix.
		fail(fmt.Sprintf("script length %d exceeds tts limit %d", len(d.ScriptContent), maxChars), nil)
		rep.add("rejected_length", 1)
		return
	}
	if voiceID == "" {
		fail("topic has no voice configured", nil)
		return
	}

	title, summary := o.digestMetadata(ctx, d, log)

	finalPath := filepath.Join(o.cfg.StagingDir, mp3Filename(d.Topic, o.now()))
	minDur := minDigestAudio
	if len(d.EpisodeIDs) == 0 {
		minDur = time.Second
	}

	result, err := o.tts.SynthesizeToFile(ctx, d.ScriptContent, voiceID, o.set.TTS.Model, finalPath, minDur)
	if err != nil {
		metrics.ExternalCallsTotal.WithLabelValues("tts", "error").Inc()
		fail(fmt.Sprintf("synthesize: %v", err), err)
		return
	}
	metrics.ExternalCallsTotal.WithLabelValues("tts", "success").Inc()

	if err := store.AttachDigestAudio(ctx, d.ID, finalPath, result.DurationSeconds, result.SizeBytes, title, summary); err != nil {
		// The file committed but the row write failed; remove the file so
		// the next run re-synthesizes instead of publishing an orphan.
		if rmErr := os.Remove(finalPath); rmErr != nil {
			log.Error().Err(rmErr).Str("path", finalPath).Msg("remove orphaned mp3")
		}
		fail(fmt.Sprintf("record audio: %v", err), err)
		return
	}

	rep.add("synthesized", 1)
	metrics.PhaseItemsTotal.WithLabelValues(PhaseTTS, "synthesized").Inc()
	log.Info().Str("path", finalPath).Int("duration_s", result.DurationSeconds).Int64("bytes", result.SizeBytes).Msg("digest audio committed")
}

// digestMetadata generates a title and summary for the digest. Metadata is
// best-effort: on any model failure the deterministic title is used and the
// summary stays empty.
func (o *Orchestrator) digestMetadata(ctx context.Context, d database.Digest, log zerolog.Logger) (title, summary string) {
	md, err := o.llm.GenerateMetadata(ctx, llm.MetadataRequest{
		Topic:            d.Topic,
		Script:           d.ScriptContent,
		Model:            o.set.Metadata.Model,
		MaxTitleTokens:   o.set.Metadata.MaxTitleTokens,
		MaxSummaryTokens: o.set.Metadata.MaxSummaryTokens,
	})
	if err != nil {
		metrics.ExternalCallsTotal.WithLabelValues("llm_metadata", "error").Inc()
		log.Warn().Err(err).Msg("metadata generation failed, using fallback title")
		return rss.FallbackTitle(d.Topic, d.DigestDate), ""
	}
	metrics.ExternalCallsTotal.WithLabelValues("llm_metadata", "success").Inc()
	return md.Title, md.Summary
}

// mp3Filename builds the staged MP3 name: {topic_slug}_{YYYYMMDD}_{HHMMSS}.mp3.
func mp3Filename(topic string, now time.Time) string {
	return fmt.Sprintf("%s_%s.mp3", rss.Slugify(topic), now.Format("20060102_150405"))
}

var _ Synthesizer = (*tts.Client)(nil)
