package database

import (
	"context"
	"fmt"
	"time"
)

// Retention row cleanup. Age is always measured against the content's own
// date (published_at for episodes, digest_date for digests), never against
// updated_at, so a late metadata touch cannot extend old content's lifetime.

// CountEpisodesPublishedBefore counts episodes a retention sweep would remove.
func (db *DB) CountEpisodesPublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM episodes WHERE published_at < $1`, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count old episodes: %w", err)
	}
	return n, nil
}

// DeleteEpisodesPublishedBefore removes episodes older than the cutoff,
// transcript text included.
func (db *DB) DeleteEpisodesPublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM episodes WHERE published_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old episodes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDigestsBefore counts digests a retention sweep would remove.
func (db *DB) CountDigestsBefore(ctx context.Context, cutoffDate time.Time) (int64, error) {
	var n int64
	err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM digests WHERE digest_date < $1`, cutoffDate,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count old digests: %w", err)
	}
	return n, nil
}

// DeleteDigestsBefore removes digests dated before the cutoff date.
func (db *DB) DeleteDigestsBefore(ctx context.Context, cutoffDate time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM digests WHERE digest_date < $1`, cutoffDate,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old digests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClearArtifactURLsForDate blanks artifact_url on a day's digests after their
// artifact tag was deleted remotely, so the RSS feed stops linking assets
// that no longer exist. The rows themselves live until digest retention.
func (db *DB) ClearArtifactURLsForDate(ctx context.Context, date time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE digests
		SET artifact_url = NULL
		WHERE digest_date = $1 AND artifact_url IS NOT NULL
	`, date)
	if err != nil {
		return 0, fmt.Errorf("clear artifact urls: %w", err)
	}
	return tag.RowsAffected(), nil
}
