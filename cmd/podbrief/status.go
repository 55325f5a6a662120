package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/settings"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print pipeline state: episode counts, feeds, topics, today's digests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return status()
		},
	}
	return cmd
}

func status() error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := database.Connect(ctx, cfg.DatabaseURL, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	// Settings are best-effort here: an unconfigured table should not make
	// the status of the rest of the system unreadable.
	stuckAfter := 30 * time.Minute
	loc := time.UTC
	if rows, err := db.LoadSettings(ctx); err == nil {
		if set, err := settings.Load(rows); err == nil {
			stuckAfter = time.Duration(set.Pipeline.ProcessingTimeoutMinutes) * time.Minute
			if set.Location != nil {
				loc = set.Location
			}
		}
	}

	feedTotal, feedActive, err := db.FeedCounts(ctx)
	if err != nil {
		return fmt.Errorf("feed counts: %w", err)
	}
	topicTotal, topicActive, err := db.TopicCounts(ctx)
	if err != nil {
		return fmt.Errorf("topic counts: %w", err)
	}
	fmt.Printf("Feeds:  %d active / %d total\n", feedActive, feedTotal)
	fmt.Printf("Topics: %d active / %d total\n", topicActive, topicTotal)

	counts, err := db.EpisodeStatusCounts(ctx)
	if err != nil {
		return fmt.Errorf("episode counts: %w", err)
	}
	fmt.Println("\nEpisodes")
	for _, s := range []string{
		database.EpisodeStatusPending, database.EpisodeStatusProcessing,
		database.EpisodeStatusTranscribed, database.EpisodeStatusScored,
		database.EpisodeStatusDigested, database.EpisodeStatusNotRelevant,
		database.EpisodeStatusFailed,
	} {
		fmt.Printf("  %-13s %d\n", s, counts[s])
	}

	stuck, err := db.StuckProcessingEpisodes(ctx, time.Now().Add(-stuckAfter))
	if err != nil {
		return fmt.Errorf("stuck episodes: %w", err)
	}
	if len(stuck) > 0 {
		fmt.Printf("\nStuck in processing (> %s)\n", stuckAfter)
		for _, e := range stuck {
			fmt.Printf("  %d  %q  since %s\n", e.ID, e.Title, e.UpdatedAt.Format(time.RFC3339))
		}
	}

	y, m, d := time.Now().In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	digests, err := db.ListDigestsForDate(ctx, today)
	if err != nil {
		return fmt.Errorf("today's digests: %w", err)
	}
	fmt.Printf("\nDigests for %s\n", today.Format("2006-01-02"))
	if len(digests) == 0 {
		fmt.Println("  (none)")
	}
	for _, dg := range digests {
		state := "generated"
		switch {
		case dg.PublishedAt != nil:
			state = "published"
		case dg.MP3Path != nil:
			state = "synthesized"
		case dg.FailureReason != nil:
			state = "failed: " + *dg.FailureReason
		}
		fmt.Printf("  %-20s %s\n", dg.Topic, state)
	}

	return nil
}
