package database

import (
	"context"
	"fmt"
)

// SettingRow is one raw key/value row from web_settings. Typed access and
// validation live in the settings package; this layer only loads rows.
type SettingRow struct {
	Category  string
	Key       string
	ValueType string
	ValueText string
}

// LoadSettings returns every settings row. The pipeline loads the whole
// table once per run and fails fast on anything missing.
func (db *DB) LoadSettings(ctx context.Context) ([]SettingRow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT category, key, value_type, value_text FROM web_settings`,
	)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var settings []SettingRow
	for rows.Next() {
		var s SettingRow
		if err := rows.Scan(&s.Category, &s.Key, &s.ValueType, &s.ValueText); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if settings == nil {
		settings = []SettingRow{}
	}
	return settings, nil
}
