package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Digest is one topic's single-day aggregation: the generated script, the
// episodes it drew from, and the audio/publication bookkeeping that follows.
// (topic, digest_date) is the natural key.
type Digest struct {
	ID                 int64      `json:"id"`
	Topic              string     `json:"topic"`
	DigestDate         time.Time  `json:"digest_date"`
	ScriptContent      string     `json:"script_content"`
	EpisodeIDs         []int64    `json:"episode_ids"`
	MP3Path            *string    `json:"mp3_path,omitempty"`
	MP3DurationSeconds *int       `json:"mp3_duration_seconds,omitempty"`
	MP3SizeBytes       *int64     `json:"mp3_size_bytes,omitempty"`
	MP3Title           *string    `json:"mp3_title,omitempty"`
	MP3Summary         *string    `json:"mp3_summary,omitempty"`
	ArtifactURL        *string    `json:"artifact_url,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
	FailureReason      *string    `json:"failure_reason,omitempty"`
	GeneratedAt        time.Time  `json:"generated_at"`
}

const digestColumns = `id, topic, digest_date, script_content, episode_ids,
	mp3_path, mp3_duration_seconds, mp3_size_bytes, mp3_title, mp3_summary,
	artifact_url, published_at, failure_reason, generated_at`

func scanDigest(row interface{ Scan(...any) error }) (Digest, error) {
	var d Digest
	var ids []byte
	err := row.Scan(&d.ID, &d.Topic, &d.DigestDate, &d.ScriptContent, &ids,
		&d.MP3Path, &d.MP3DurationSeconds, &d.MP3SizeBytes, &d.MP3Title, &d.MP3Summary,
		&d.ArtifactURL, &d.PublishedAt, &d.FailureReason, &d.GeneratedAt)
	if err != nil {
		return Digest{}, err
	}
	if len(ids) > 0 {
		if err := json.Unmarshal(ids, &d.EpisodeIDs); err != nil {
			return Digest{}, fmt.Errorf("decode episode_ids: %w", err)
		}
	}
	return d, nil
}

// UpsertDigest creates or replaces the digest for (topic, date). A same-day
// re-run overwrites script_content and the episode references, which keeps
// the phase idempotent within the day. Returns the digest id.
func (db *DB) UpsertDigest(ctx context.Context, topic string, date time.Time, script string, episodeIDs []int64) (int64, error) {
	if episodeIDs == nil {
		episodeIDs = []int64{}
	}
	ids, err := json.Marshal(episodeIDs)
	if err != nil {
		return 0, fmt.Errorf("encode episode_ids: %w", err)
	}

	var id int64
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO digests (topic, digest_date, script_content, episode_ids)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (topic, digest_date) DO UPDATE
		SET script_content = EXCLUDED.script_content,
		    episode_ids = EXCLUDED.episode_ids,
		    failure_reason = NULL,
		    generated_at = now()
		RETURNING id
	`, topic, date, script, ids).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert digest: %w", err)
	}
	return id, nil
}

// DigestExists reports whether a digest row exists for (topic, date).
func (db *DB) DigestExists(ctx context.Context, topic string, date time.Time) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM digests WHERE topic = $1 AND digest_date = $2)`,
		topic, date,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check digest exists: %w", err)
	}
	return exists, nil
}

// DigestsEligibleForTTS returns the given day's digests that still need
// audio: non-empty script, no committed MP3, not yet published.
func (db *DB) DigestsEligibleForTTS(ctx context.Context, date time.Time) ([]Digest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+digestColumns+`
		FROM digests
		WHERE digest_date = $1
		  AND script_content <> ''
		  AND artifact_url IS NULL
		  AND mp3_path IS NULL
		ORDER BY topic ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query digests eligible for tts: %w", err)
	}
	defer rows.Close()

	var digests []Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if digests == nil {
		digests = []Digest{}
	}
	return digests, nil
}

// AttachDigestAudio records a committed MP3 on the digest row. The single
// UPDATE is the transactional half of the atomic file-commit protocol: the
// caller renames the validated temp file into place first, then this write
// makes the digest eligible for publishing.
func (db *DB) AttachDigestAudio(ctx context.Context, id int64, path string, durationSeconds int, sizeBytes int64, title, summary string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE digests
		SET mp3_path = $2,
		    mp3_duration_seconds = $3,
		    mp3_size_bytes = $4,
		    mp3_title = $5,
		    mp3_summary = $6,
		    failure_reason = NULL
		WHERE id = $1 AND mp3_path IS NULL
	`, id, path, durationSeconds, sizeBytes, title, summary)
	if err != nil {
		return fmt.Errorf("attach digest audio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attach digest audio: digest %d already has audio", id)
	}
	return nil
}

// DigestsEligibleForPublish returns digests with committed audio that have
// not been uploaded yet, regardless of age, so an interrupted run's leftovers
// are retried.
func (db *DB) DigestsEligibleForPublish(ctx context.Context) ([]Digest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+digestColumns+`
		FROM digests
		WHERE mp3_path IS NOT NULL AND artifact_url IS NULL
		ORDER BY digest_date ASC, topic ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query digests eligible for publish: %w", err)
	}
	defer rows.Close()

	var digests []Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if digests == nil {
		digests = []Digest{}
	}
	return digests, nil
}

// MarkDigestPublished records the uploaded asset URL and publication time.
// Size is re-recorded from the upload response as the authoritative value.
func (db *DB) MarkDigestPublished(ctx context.Context, id int64, artifactURL string, sizeBytes int64, publishedAt time.Time) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE digests
		SET artifact_url = $2,
		    mp3_size_bytes = $3,
		    published_at = $4,
		    failure_reason = NULL
		WHERE id = $1 AND artifact_url IS NULL
	`, id, artifactURL, sizeBytes, publishedAt)
	if err != nil {
		return fmt.Errorf("mark digest published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark digest published: digest %d already published", id)
	}
	return nil
}

// ClearDigestMP3Path drops the local-path reference once the file is gone
// (deleted after upload, or swept by retention).
func (db *DB) ClearDigestMP3Path(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE digests SET mp3_path = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear digest mp3 path: %w", err)
	}
	return nil
}

// SetDigestFailure records a per-digest failure reason without changing any
// other state; the row stays eligible for the next run.
func (db *DB) SetDigestFailure(ctx context.Context, id int64, reason string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE digests SET failure_reason = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("set digest failure: %w", err)
	}
	return nil
}

// PublishedDigests returns every published digest, newest first. This is the
// RSS read path: the feed is a pure function of these rows.
func (db *DB) PublishedDigests(ctx context.Context) ([]Digest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+digestColumns+`
		FROM digests
		WHERE artifact_url IS NOT NULL
		ORDER BY published_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query published digests: %w", err)
	}
	defer rows.Close()

	var digests []Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if digests == nil {
		digests = []Digest{}
	}
	return digests, nil
}

// ListDigestsForDate returns a day's digests for maintenance output.
func (db *DB) ListDigestsForDate(ctx context.Context, date time.Time) ([]Digest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+digestColumns+`
		FROM digests
		WHERE digest_date = $1
		ORDER BY topic ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query digests for date: %w", err)
	}
	defer rows.Close()

	var digests []Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if digests == nil {
		digests = []Digest{}
	}
	return digests, nil
}
