package pipeline

import (
	"context"
	"fmt"

	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/llm"
	"github.com/podbrief/podbrief/internal/metrics"
)

// runDigest generates one script per active topic for today. Episodes are
// selected per topic by score, so one episode can feed several same-day
// digests; the digested transition is deferred until every topic has its
// script, and skipped entirely if any topic failed so the next run can
// retry with the full candidate set.
func (o *Orchestrator) runDigest(ctx context.Context, store DigestStore, opts Options, rep *PhaseReport) error {
	topics, err := store.ListActiveTopics(ctx)
	if err != nil {
		return err
	}
	rep.add("topics", len(topics))
	if len(topics) == 0 {
		o.log.Info().Msg("no active topics")
		return nil
	}

	date := o.today()
	dateHuman := date.Format("January 2, 2006")
	perTopic := itemLimit(o.set.ContentFiltering.MaxEpisodesPerDigest, opts.Limit)

	usedEpisodes := make(map[int64]bool)
	topicFailed := false

	for _, topic := range topics {
		log := o.log.With().Str("topic", topic.Name).Logger()

		eps, err := store.QualifyingEpisodes(ctx, topic.Name, o.set.ContentFiltering.ScoreThreshold, perTopic)
		if err != nil {
			return err
		}

		if opts.DryRun {
			rep.add("would_generate", 1)
			log.Info().Int("qualifying", len(eps)).Msg("digest planned")
			continue
		}

		script, err := o.buildScript(ctx, topic, eps, dateHuman)
		if err != nil {
			topicFailed = true
			rep.add("topic_errors", 1)
			rep.addError(topic.Name, err.Error())
			metrics.PhaseItemsTotal.WithLabelValues(PhaseDigest, "failed").Inc()
			log.Error().Err(err).Msg("digest generation failed")
			continue
		}

		ids := make([]int64, len(eps))
		for i, e := range eps {
			ids[i] = e.ID
			usedEpisodes[e.ID] = true
		}

		if _, err := store.UpsertDigest(ctx, topic.Name, date, script, ids); err != nil {
			topicFailed = true
			rep.add("topic_errors", 1)
			rep.addError(topic.Name, err.Error())
			log.Error().Err(err).Msg("store digest")
			continue
		}

		if len(eps) == 0 {
			rep.add("no_content", 1)
			metrics.PhaseItemsTotal.WithLabelValues(PhaseDigest, "no_content").Inc()
		} else {
			rep.add("generated", 1)
			metrics.PhaseItemsTotal.WithLabelValues(PhaseDigest, "generated").Inc()
		}
		log.Info().Int("episodes", len(eps)).Msg("digest stored")
	}

	if opts.DryRun || topicFailed || len(usedEpisodes) == 0 {
		if topicFailed {
			o.log.Warn().Msg("digested marking skipped, at least one topic failed")
		}
		return nil
	}

	ids := make([]int64, 0, len(usedEpisodes))
	for id := range usedEpisodes {
		ids = append(ids, id)
	}
	marked, err := store.MarkEpisodesDigested(ctx, ids)
	if err != nil {
		return err
	}
	rep.add("episodes_digested", int(marked))
	return nil
}

// buildScript produces the digest script for one topic: a deterministic
// no-content script when nothing qualified (no model call), otherwise a
// generated script from the topic's stored instructions.
func (o *Orchestrator) buildScript(ctx context.Context, topic database.Topic, eps []database.QualifyingEpisode, dateHuman string) (string, error) {
	if len(eps) == 0 {
		return noContentScript(topic.Name, dateHuman), nil
	}
	if topic.InstructionsMD == "" {
		return "", fmt.Errorf("topic %q has no digest instructions", topic.Name)
	}

	transcripts := make([]llm.TranscriptInput, len(eps))
	for i, e := range eps {
		transcripts[i] = llm.TranscriptInput{Title: e.Title, Transcript: e.Transcript}
	}

	script, err := o.llm.GenerateScript(ctx, llm.ScriptRequest{
		Topic:           topic.Name,
		Date:            dateHuman,
		Instructions:    topic.InstructionsMD,
		Transcripts:     transcripts,
		Model:           o.set.DigestGeneration.Model,
		MaxInputTokens:  o.set.DigestGeneration.MaxInputTokens,
		MaxOutputTokens: o.set.DigestGeneration.MaxOutputTokens,
	})
	if err != nil {
		metrics.ExternalCallsTotal.WithLabelValues("llm_generate", "error").Inc()
		return "", err
	}
	metrics.ExternalCallsTotal.WithLabelValues("llm_generate", "success").Inc()

	if script == "" {
		return "", fmt.Errorf("model returned an empty script for topic %q", topic.Name)
	}
	return script, nil
}

// noContentScript is the short spoken script used when a topic had no
// qualifying episodes. It still becomes an MP3 so the feed has an entry for
// the day.
func noContentScript(topic, dateHuman string) string {
	return fmt.Sprintf(
		"Welcome to your %s daily digest for %s. "+
			"No new episodes covering %s crossed the relevance bar today. "+
			"We'll be back tomorrow with the next update.",
		topic, dateHuman, topic)
}
