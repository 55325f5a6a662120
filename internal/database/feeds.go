package database

import (
	"context"
	"fmt"
	"time"
)

// Feed is a subscribed podcast RSS feed. Feeds are created and edited by
// the management UI; the pipeline only reads them and maintains the
// fetch-health columns.
type Feed struct {
	ID                  int64      `json:"id"`
	URL                 string     `json:"url"`
	Title               string     `json:"title"`
	Active              bool       `json:"active"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ListActiveFeeds returns all feeds eligible for discovery, oldest-checked first
// so a partially-capped run rotates fairly across feeds.
func (db *DB) ListActiveFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, url, title, active, consecutive_failures, last_checked_at, created_at, updated_at
		FROM feeds
		WHERE active
		ORDER BY last_checked_at ASC NULLS FIRST, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query active feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		if err := rows.Scan(&f.ID, &f.URL, &f.Title, &f.Active, &f.ConsecutiveFailures,
			&f.LastCheckedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if feeds == nil {
		feeds = []Feed{}
	}
	return feeds, nil
}

// MarkFeedChecked records a successful fetch: resets the failure streak,
// stamps last_checked_at, and refreshes the title when the feed provides one.
func (db *DB) MarkFeedChecked(ctx context.Context, id int64, title string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE feeds
		SET title = CASE WHEN $2 <> '' THEN $2 ELSE title END,
		    consecutive_failures = 0,
		    last_checked_at = now(),
		    updated_at = now()
		WHERE id = $1
	`, id, title)
	if err != nil {
		return fmt.Errorf("mark feed checked: %w", err)
	}
	return nil
}

// RecordFeedFailure increments the feed's consecutive-failure count and
// deactivates it once the streak reaches threshold. Returns the new streak
// and whether the feed was deactivated by this call.
func (db *DB) RecordFeedFailure(ctx context.Context, id int64, threshold int) (int, bool, error) {
	var failures int
	var active bool
	err := db.Pool.QueryRow(ctx, `
		UPDATE feeds
		SET consecutive_failures = consecutive_failures + 1,
		    active = (consecutive_failures + 1 < $2),
		    last_checked_at = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING consecutive_failures, active
	`, id, threshold).Scan(&failures, &active)
	if err != nil {
		return 0, false, fmt.Errorf("record feed failure: %w", err)
	}
	return failures, !active, nil
}

// FeedCounts returns total and active feed counts for maintenance output.
func (db *DB) FeedCounts(ctx context.Context) (total, active int64, err error) {
	err = db.Pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE active) FROM feeds`,
	).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("count feeds: %w", err)
	}
	return total, active, nil
}
