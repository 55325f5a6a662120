package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/feeds"
	"github.com/podbrief/podbrief/internal/metrics"
)

// discoveryParallelism bounds concurrent feed fetches. Feeds are third-party
// servers; a handful in flight is plenty and keeps us a polite client.
const discoveryParallelism = 4

// weekendCatchup widens Monday's lookback window so episodes published over
// the weekend are not lost to a weekday-sized window.
const weekendCatchup = 48 * time.Hour

// runDiscovery fetches every active feed and inserts episodes published
// inside the lookback window. Feed failures are isolated per feed and
// tracked: a feed failing feed_deactivation_threshold runs in a row is
// deactivated until an operator re-enables it.
func (o *Orchestrator) runDiscovery(ctx context.Context, store DiscoveryStore, opts Options, rep *PhaseReport) error {
	feedRows, err := store.ListActiveFeeds(ctx)
	if err != nil {
		return err
	}
	rep.add("feeds", len(feedRows))
	if len(feedRows) == 0 {
		o.log.Info().Msg("no active feeds")
		return nil
	}

	cutoff := o.discoveryCutoff()
	budget := itemLimit(o.set.Pipeline.MaxEpisodesPerRun, opts.Limit)

	// New-row budget shared across feeds. Feeds are fetched oldest-checked
	// first, so a capped run rotates fairly over time.
	var mu sync.Mutex
	inserted := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryParallelism)

	for _, feed := range feedRows {
		g.Go(func() error {
			o.discoverFeed(gctx, store, feed, cutoff, budget, &mu, &inserted, opts, rep)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) discoverFeed(ctx context.Context, store DiscoveryStore, feed database.Feed, cutoff time.Time, budget int, mu *sync.Mutex, inserted *int, opts Options, rep *PhaseReport) {
	log := o.log.With().Int64("feed_id", feed.ID).Str("url", feed.URL).Logger()

	parsed, err := o.feeds.Fetch(ctx, feed.URL)
	if err != nil {
		metrics.ExternalCallsTotal.WithLabelValues("feed_fetch", "error").Inc()
		rep.add("feed_errors", 1)
		rep.addError(feed.URL, err.Error())
		if opts.DryRun {
			log.Warn().Err(err).Msg("feed fetch failed (dry run, failure not recorded)")
			return
		}
		failures, deactivated, ferr := store.RecordFeedFailure(ctx, feed.ID, o.set.Pipeline.FeedDeactivationThreshold)
		if ferr != nil {
			log.Error().Err(ferr).Msg("record feed failure")
			return
		}
		if deactivated {
			rep.add("feeds_deactivated", 1)
			log.Warn().Err(err).Int("consecutive_failures", failures).Msg("feed deactivated")
		} else {
			log.Warn().Err(err).Int("consecutive_failures", failures).Msg("feed fetch failed")
		}
		return
	}
	metrics.ExternalCallsTotal.WithLabelValues("feed_fetch", "success").Inc()

	newCount := 0
	for _, item := range parsed.Items {
		if item.PublishedAt.Before(cutoff) {
			continue
		}

		mu.Lock()
		if budget > 0 && *inserted >= budget {
			mu.Unlock()
			rep.add("capped", 1)
			break
		}
		// Reserve a budget slot before the insert so racing feeds cannot
		// blow past the cap; a duplicate returns the slot.
		*inserted++
		mu.Unlock()

		if opts.DryRun {
			rep.add("would_insert", 1)
			newCount++
			continue
		}

		created, err := store.InsertEpisode(ctx, database.NewEpisode{
			GUID:            item.GUID,
			FeedID:          feed.ID,
			Title:           item.Title,
			PublishedAt:     item.PublishedAt,
			AudioURL:        item.AudioURL,
			DurationSeconds: item.DurationSeconds,
		})
		if err != nil {
			log.Error().Err(err).Str("guid", item.GUID).Msg("insert episode")
			rep.addError(item.GUID, err.Error())
			mu.Lock()
			*inserted--
			mu.Unlock()
			continue
		}
		if created {
			newCount++
			rep.add("episodes_new", 1)
			metrics.PhaseItemsTotal.WithLabelValues(PhaseDiscovery, "inserted").Inc()
		} else {
			rep.add("episodes_known", 1)
			mu.Lock()
			*inserted--
			mu.Unlock()
		}
	}

	if !opts.DryRun {
		if err := store.MarkFeedChecked(ctx, feed.ID, parsed.Title); err != nil {
			log.Error().Err(err).Msg("mark feed checked")
		}
	}
	log.Debug().Int("items", len(parsed.Items)).Int("new", newCount).Msg("feed checked")
}

// discoveryCutoff computes the oldest publication time discovery accepts.
// The window is measured in the display timezone, and Mondays look further
// back to cover the weekend.
func (o *Orchestrator) discoveryCutoff() time.Time {
	loc := o.set.Location
	if loc == nil {
		loc = time.UTC
	}
	now := o.now().In(loc)

	lookback := time.Duration(o.set.Pipeline.DiscoveryLookbackHours) * time.Hour
	if now.Weekday() == time.Monday {
		lookback += weekendCatchup
	}
	return now.Add(-lookback)
}

var _ FeedFetcher = (*feeds.Client)(nil)
