package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/podbrief/podbrief/internal/artifact"
	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/metrics"
)

// publishRetryBase is the initial backoff between upload attempts.
const publishRetryBase = 2 * time.Second

// runPublishing uploads committed MP3s to the artifact host under their
// day's tag and records the public URL. Eligibility ignores age so an
// interrupted run's leftovers from previous days are published too. Items
// fail independently; the phase itself fails (as an outage) only when the
// host rejected every single item.
func (o *Orchestrator) runPublishing(ctx context.Context, store PublishStore, opts Options, rep *PhaseReport) error {
	digests, err := store.DigestsEligibleForPublish(ctx)
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
			o.log.Info().Str("topic", d.Topic).
				Str("tag", artifact.TagName(d.DigestDate)).
				Msg("upload planned")
		}
		rep.add("would_publish", len(digests))
		return nil
	}

	hostFailures := 0
	for _, d := range digests {
		switch err := o.publishDigest(ctx, store, d, rep); {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			hostFailures++
		}
	}

	if hostFailures == len(digests) {
		return fmt.Errorf("artifact host rejected all %d uploads: %w", len(digests), ErrOutage)
	}
	return nil
}

// publishDigest uploads one digest's MP3 and flips the row to published.
// The local file is deleted after a successful upload; a failed delete is
// logged and left for the retention sweep.
func (o *Orchestrator) publishDigest(ctx context.Context, store PublishStore, d database.Digest, rep *PhaseReport) error {
	log := o.log.With().Int64("digest_id", d.ID).Str("topic", d.Topic).Logger()

	if d.MP3Path == nil {
		// Eligibility guarantees a path; a nil here means the query and the
		// row disagree and the row needs an operator.
		rep.addError(d.Topic, "eligible digest has no mp3 path")
		return nil
	}
	path := *d.MP3Path

	if _, err := os.Stat(path); err != nil {
		// Row says there is a file but the disk disagrees: recorded, skipped,
		// and left for an operator rather than guessed at.
		reason := fmt.Sprintf("local mp3 missing: %s", path)
		rep.add("missing_file", 1)
		rep.addError(d.Topic, reason)
		log.Error().Str("path", path).Msg("eligible digest has no local mp3")
		if err := store.SetDigestFailure(ctx, d.ID, reason); err != nil {
			log.Error().Err(err).Msg("record digest failure")
		}
		return nil
	}

	retries := o.set.Pipeline.PublishMaxRetries

	var tag string
	err := withRetry(ctx, retries, publishRetryBase, log, "ensure tag", func() error {
		var err error
		tag, err = o.host.EnsureTag(ctx, d.DigestDate)
		return err
	})
	if err != nil {
		metrics.ExternalCallsTotal.WithLabelValues("artifact_host", "error").Inc()
		rep.add("failed", 1)
		rep.addError(d.Topic, err.Error())
		return err
	}

	var asset artifact.Asset
	err = withRetry(ctx, retries, publishRetryBase, log, "upload asset", func() error {
		var err error
		asset, err = o.host.UploadAsset(ctx, tag, path, "audio/mpeg")
		return err
	})
	if err != nil {
		metrics.ExternalCallsTotal.WithLabelValues("artifact_host", "error").Inc()
		rep.add("failed", 1)
		rep.addError(d.Topic, err.Error())
		metrics.PhaseItemsTotal.WithLabelValues(PhasePublishing, "failed").Inc()
		return err
	}
	metrics.ExternalCallsTotal.WithLabelValues("artifact_host", "success").Inc()

	if err := store.MarkDigestPublished(ctx, d.ID, asset.URL, asset.SizeBytes, o.now().UTC()); err != nil {
		rep.add("failed", 1)
		rep.addError(d.Topic, err.Error())
		log.Error().Err(err).Msg("mark digest published")
		return nil
	}

	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("delete local mp3 after upload")
	} else if err := store.ClearDigestMP3Path(ctx, d.ID); err != nil {
		log.Error().Err(err).Msg("clear digest mp3 path")
	}

	rep.add("published", 1)
	metrics.PhaseItemsTotal.WithLabelValues(PhasePublishing, "published").Inc()
	log.Info().Str("url", asset.URL).Str("tag", tag).Msg("digest published")
	return nil
}
