package database

import (
	"context"
	"fmt"
)

// Topic is an operator-defined subject a daily digest is produced for.
// Topics are managed by the management UI; the pipeline treats them as
// read-only input. instructions_md and voice_id live here, never on disk.
type Topic struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	InstructionsMD string `json:"instructions_md"`
	VoiceID        string `json:"voice_id"`
	Active         bool   `json:"active"`
	SortOrder      int    `json:"sort_order"`
}

// ListActiveTopics returns active topics in display order.
func (db *DB) ListActiveTopics(ctx context.Context) ([]Topic, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, description, instructions_md, voice_id, active, sort_order
		FROM topics
		WHERE active
		ORDER BY sort_order ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query active topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.InstructionsMD,
			&t.VoiceID, &t.Active, &t.SortOrder); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if topics == nil {
		topics = []Topic{}
	}
	return topics, nil
}

// TopicCounts returns total and active topic counts for maintenance output.
func (db *DB) TopicCounts(ctx context.Context) (total, active int64, err error) {
	err = db.Pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE active) FROM topics`,
	).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("count topics: %w", err)
	}
	return total, active, nil
}
