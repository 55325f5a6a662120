package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/podbrief/podbrief/internal/artifact"
)

// runRetention sweeps aged-out data: staged MP3s, cached source audio, log
// files, artifact host tags, then digest and episode rows. Age is always
// measured against content dates (file mtime, tag date, digest_date,
// published_at). Sweeps are independent; one failing does not stop the rest,
// and the first failure is reported after everything ran.
func (o *Orchestrator) runRetention(ctx context.Context, store RetentionStore, opts Options, rep *PhaseReport) error {
	now := o.now()
	ret := o.set.Retention

	var firstErr error
	keep := func(what string, err error) {
		if err != nil {
			rep.addError(what, err.Error())
			o.log.Error().Err(err).Str("sweep", what).Msg("retention sweep failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", what, err)
			}
		}
	}

	keep("staging", o.sweepDir(o.cfg.StagingDir, now.AddDate(0, 0, -ret.LocalMP3Days), "staging_removed", opts, rep))
	keep("audio_cache", o.sweepDir(o.cfg.AudioCacheDir, now.AddDate(0, 0, -ret.AudioCacheDays), "cache_removed", opts, rep))
	keep("logs", o.sweepDir(o.cfg.LogDir, now.AddDate(0, 0, -ret.LogsDays), "logs_removed", opts, rep))
	keep("artifact_tags", o.sweepArtifactTags(ctx, store, now.AddDate(0, 0, -ret.GithubReleaseDays), opts, rep))
	keep("digest_rows", o.sweepDigestRows(ctx, store, opts, rep))
	keep("episode_rows", o.sweepEpisodeRows(ctx, store, now.AddDate(0, 0, -ret.EpisodeRetentionDays), opts, rep))

	return firstErr
}

// sweepDir removes regular files under root older than cutoff (by mtime),
// then drops directories the sweep emptied. A missing root is fine: nothing
// has been staged yet.
func (o *Orchestrator) sweepDir(root string, cutoff time.Time, counter string, opts Options, rep *PhaseReport) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	var emptied []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root {
				emptied = append(emptied, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if opts.DryRun {
			rep.add(counter, 1)
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		rep.add(counter, 1)
		o.log.Debug().Str("path", path).Msg("aged file removed")
		return nil
	})
	if err != nil {
		return err
	}

	if !opts.DryRun {
		// Deepest first so nested empty dirs collapse; Remove refuses
		// non-empty dirs, which is exactly the behavior wanted.
		for i := len(emptied) - 1; i >= 0; i-- {
			_ = os.Remove(emptied[i])
		}
	}
	return nil
}

// sweepArtifactTags deletes daily tags on the artifact host older than
// cutoff and blanks the corresponding rows' artifact URLs so the feed stops
// serving dead enclosure links.
func (o *Orchestrator) sweepArtifactTags(ctx context.Context, store RetentionStore, cutoff time.Time, opts Options, rep *PhaseReport) error {
	tags, err := o.host.ListTags(ctx)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}

	for _, tag := range tags {
		date, err := artifact.ParseTagDate(tag.Name)
		if err != nil {
			continue
		}
		if !date.Before(cutoff) {
			continue
		}
		if opts.DryRun {
			rep.add("tags_removed", 1)
			continue
		}
		if err := o.host.DeleteTag(ctx, tag.Name); err != nil {
			return fmt.Errorf("delete tag %s: %w", tag.Name, err)
		}
		if _, err := store.ClearArtifactURLsForDate(ctx, date); err != nil {
			return err
		}
		rep.add("tags_removed", 1)
		o.log.Info().Str("tag", tag.Name).Msg("artifact tag removed")
	}
	return nil
}

func (o *Orchestrator) sweepDigestRows(ctx context.Context, store RetentionStore, opts Options, rep *PhaseReport) error {
	cutoff := o.today().AddDate(0, 0, -o.set.Retention.DigestRetentionDays)
	if opts.DryRun {
		n, err := store.CountDigestsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		rep.add("digests_removed", int(n))
		return nil
	}
	n, err := store.DeleteDigestsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	rep.add("digests_removed", int(n))
	return nil
}

func (o *Orchestrator) sweepEpisodeRows(ctx context.Context, store RetentionStore, cutoff time.Time, opts Options, rep *PhaseReport) error {
	if opts.DryRun {
		n, err := store.CountEpisodesPublishedBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		rep.add("episodes_removed", int(n))
		return nil
	}
	n, err := store.DeleteEpisodesPublishedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	rep.add("episodes_removed", int(n))
	return nil
}
