package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Episode lifecycle states. Transitions are forward-only except the
// stuck-work recovery reset (processing back to pending).
const (
	EpisodeStatusPending     = "pending"
	EpisodeStatusProcessing  = "processing"
	EpisodeStatusTranscribed = "transcribed"
	EpisodeStatusScored      = "scored"
	EpisodeStatusDigested    = "digested"
	EpisodeStatusNotRelevant = "not_relevant"
	EpisodeStatusFailed      = "failed"
)

// ErrNotProcessing is returned when an append or finalize targets an episode
// that is no longer in the processing state. The caller lost its claim
// (stuck-work recovery reset the row) and must abandon the episode.
var ErrNotProcessing = errors.New("episode is not in processing state")

// Episode is one podcast episode moving through the pipeline.
type Episode struct {
	ID              int64      `json:"id"`
	GUID            string     `json:"episode_guid"`
	FeedID          int64      `json:"feed_id"`
	Title           string     `json:"title"`
	PublishedAt     time.Time  `json:"published_at"`
	AudioURL        string     `json:"audio_url"`
	DurationSeconds int        `json:"duration_seconds"`
	WordCount       *int       `json:"word_count,omitempty"`
	Status          string     `json:"status"`
	FailureCount    int        `json:"failure_count"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewEpisode is a discovered episode descriptor ready for insertion.
type NewEpisode struct {
	GUID            string
	FeedID          int64
	Title           string
	PublishedAt     time.Time
	AudioURL        string
	DurationSeconds int
}

// InsertEpisode inserts a discovered episode. A guid collision means the
// episode is already known and is skipped, not an error. Returns whether a
// new row was created.
func (db *DB) InsertEpisode(ctx context.Context, e NewEpisode) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO episodes (episode_guid, feed_id, title, published_at, audio_url, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (episode_guid) DO NOTHING
	`, e.GUID, e.FeedID, e.Title, e.PublishedAt, e.AudioURL, e.DurationSeconds)
	if err != nil {
		return false, fmt.Errorf("insert episode: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecoverStuckEpisodes resets episodes that were claimed but whose worker
// stopped touching them before the cutoff. Partial transcripts are discarded:
// the restarted transcription begins again from chunk 1.
func (db *DB) RecoverStuckEpisodes(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE episodes
		SET status = 'pending',
		    transcript_text = NULL,
		    word_count = NULL,
		    updated_at = now()
		WHERE status = 'processing' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stuck episodes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimPendingEpisodes atomically moves up to limit pending episodes to
// processing and returns them ordered by publication time, oldest first.
// SKIP LOCKED makes concurrent claimers take disjoint sets.
func (db *DB) ClaimPendingEpisodes(ctx context.Context, limit int) ([]Episode, error) {
	rows, err := db.Pool.Query(ctx, `
		WITH claimed AS (
			SELECT id FROM episodes
			WHERE status = 'pending'
			ORDER BY published_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE episodes e
		SET status = 'processing', updated_at = now()
		FROM claimed c
		WHERE e.id = c.id
		RETURNING e.id, e.episode_guid, e.feed_id, e.title, e.published_at,
		          e.audio_url, e.duration_seconds, e.failure_count
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		var e Episode
		e.Status = EpisodeStatusProcessing
		if err := rows.Scan(&e.ID, &e.GUID, &e.FeedID, &e.Title, &e.PublishedAt,
			&e.AudioURL, &e.DurationSeconds, &e.FailureCount); err != nil {
			return nil, fmt.Errorf("scan claimed episode: %w", err)
		}
		episodes = append(episodes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not preserve the CTE's ordering.
	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].PublishedAt.Before(episodes[j].PublishedAt)
	})
	return episodes, nil
}

// ListPendingEpisodes previews the episodes a claim of the given size would
// take, without claiming them. Used by dry runs.
func (db *DB) ListPendingEpisodes(ctx context.Context, limit int) ([]Episode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, episode_guid, feed_id, title, published_at, audio_url, duration_seconds, failure_count
		FROM episodes
		WHERE status = 'pending'
		ORDER BY published_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		var e Episode
		e.Status = EpisodeStatusPending
		if err := rows.Scan(&e.ID, &e.GUID, &e.FeedID, &e.Title, &e.PublishedAt,
			&e.AudioURL, &e.DurationSeconds, &e.FailureCount); err != nil {
			return nil, fmt.Errorf("scan pending episode: %w", err)
		}
		episodes = append(episodes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if episodes == nil {
		episodes = []Episode{}
	}
	return episodes, nil
}

// AppendTranscriptChunk appends one chunk's text to the episode transcript
// and stores the running word count. Exactly one DB round trip; the caller
// releases its chunk buffer afterwards, so transcription memory stays O(1)
// in transcript length. Fails with ErrNotProcessing if the claim was lost.
func (db *DB) AppendTranscriptChunk(ctx context.Context, id int64, text string, wordCount int) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE episodes
		SET transcript_text = COALESCE(transcript_text, '') || $2,
		    word_count = $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, text, wordCount)
	if err != nil {
		return fmt.Errorf("append transcript chunk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessing
	}
	return nil
}

// FinalizeTranscript marks a fully transcribed episode. The word count was
// maintained incrementally by AppendTranscriptChunk.
func (db *DB) FinalizeTranscript(ctx context.Context, id int64) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE episodes
		SET status = 'transcribed', updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id)
	if err != nil {
		return fmt.Errorf("finalize transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessing
	}
	return nil
}

// GetTranscript loads the transcript text of one episode.
func (db *DB) GetTranscript(ctx context.Context, id int64) (string, error) {
	var transcript *string
	err := db.Pool.QueryRow(ctx,
		`SELECT transcript_text FROM episodes WHERE id = $1`, id,
	).Scan(&transcript)
	if err != nil {
		return "", fmt.Errorf("get transcript: %w", err)
	}
	if transcript == nil {
		return "", nil
	}
	return *transcript, nil
}

// SetEpisodeScores persists the per-topic score mapping produced by the
// scorer and moves the episode to scored or not_relevant.
func (db *DB) SetEpisodeScores(ctx context.Context, id int64, scores []byte, relevant bool) error {
	status := EpisodeStatusScored
	if !relevant {
		status = EpisodeStatusNotRelevant
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE episodes
		SET scores = $2, status = $3, failure_reason = NULL, updated_at = now()
		WHERE id = $1 AND status = 'transcribed'
	`, id, scores, status)
	if err != nil {
		return fmt.Errorf("set episode scores: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set episode scores: episode %d is not in transcribed state", id)
	}
	return nil
}

// FailEpisode records a per-episode failure, returning the episode to pending
// until the retry budget is spent; an exhausted budget parks it as failed.
// Partial transcript state is discarded either way. Returns the resulting
// status.
func (db *DB) FailEpisode(ctx context.Context, id int64, reason string, maxRetries int) (string, error) {
	var status string
	err := db.Pool.QueryRow(ctx, `
		UPDATE episodes
		SET failure_count = failure_count + 1,
		    failure_reason = $2,
		    status = CASE WHEN failure_count + 1 < $3 THEN 'pending' ELSE 'failed' END,
		    transcript_text = NULL,
		    word_count = NULL,
		    scores = NULL,
		    updated_at = now()
		WHERE id = $1
		RETURNING status
	`, id, reason, maxRetries).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("fail episode: %w", err)
	}
	return status, nil
}

// MarkEpisodesDigested moves scored episodes into the digested terminal state.
// Called once per run, after every topic's digest landed, so an episode can
// appear in several same-day digests before it stops being a candidate.
func (db *DB) MarkEpisodesDigested(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE episodes
		SET status = 'digested', updated_at = now()
		WHERE id = ANY($1) AND status = 'scored'
	`, ids)
	if err != nil {
		return 0, fmt.Errorf("mark episodes digested: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QualifyingEpisode is a scored episode selected as digest input for one topic.
type QualifyingEpisode struct {
	ID         int64
	Title      string
	Transcript string
	Score      float64
}

// QualifyingEpisodes returns episodes qualifying for the topic, best score
// first, capped at limit. The inclusive threshold comparison is deliberate:
// a score exactly at the threshold qualifies.
func (db *DB) QualifyingEpisodes(ctx context.Context, topic string, threshold float64, limit int) ([]QualifyingEpisode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, title, COALESCE(transcript_text, ''), (scores->>$1)::float8
		FROM episodes
		WHERE status = 'scored'
		  AND scores->>$1 IS NOT NULL
		  AND (scores->>$1)::float8 >= $2
		ORDER BY (scores->>$1)::float8 DESC, published_at DESC
		LIMIT $3
	`, topic, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query qualifying episodes: %w", err)
	}
	defer rows.Close()

	var eps []QualifyingEpisode
	for rows.Next() {
		var q QualifyingEpisode
		if err := rows.Scan(&q.ID, &q.Title, &q.Transcript, &q.Score); err != nil {
			return nil, fmt.Errorf("scan qualifying episode: %w", err)
		}
		eps = append(eps, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if eps == nil {
		eps = []QualifyingEpisode{}
	}
	return eps, nil
}

// EpisodeStatusCounts returns row counts per lifecycle state.
func (db *DB) EpisodeStatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT status, count(*) FROM episodes GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("count episodes by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// StuckProcessingEpisodes lists claimed episodes that stopped making progress
// before the cutoff. Maintenance/diagnostic view of what recovery will reset.
func (db *DB) StuckProcessingEpisodes(ctx context.Context, cutoff time.Time) ([]Episode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, episode_guid, feed_id, title, published_at, audio_url, duration_seconds, failure_count, updated_at
		FROM episodes
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		var e Episode
		e.Status = EpisodeStatusProcessing
		if err := rows.Scan(&e.ID, &e.GUID, &e.FeedID, &e.Title, &e.PublishedAt,
			&e.AudioURL, &e.DurationSeconds, &e.FailureCount, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stuck episode: %w", err)
		}
		episodes = append(episodes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if episodes == nil {
		episodes = []Episode{}
	}
	return episodes, nil
}
