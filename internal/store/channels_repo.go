package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"phonepilot/internal/core"
)

// ListEnabledChannels returns every enabled notification channel.
func (s *Store) ListEnabledChannels(ctx context.Context) ([]*core.NotificationChannel, error) {
	return s.listChannels(ctx, `
		SELECT id, type, config, enabled FROM notification_channels WHERE enabled = 1 ORDER BY id
	`)
}

// GetChannelsByIDs returns the enabled channels among the given IDs. Unknown
// or disabled IDs are silently skipped.
func (s *Store) GetChannelsByIDs(ctx context.Context, ids []string) ([]*core.NotificationChannel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, type, config, enabled FROM notification_channels WHERE enabled = 1 AND id IN (`
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, id)
	}
	query += `) ORDER BY id`
	return s.listChannels(ctx, query, args...)
}

// InsertChannel adds a notification channel record.
func (s *Store) InsertChannel(ctx context.Context, ch *core.NotificationChannel) error {
	config, err := json.Marshal(ch.Config)
	if err != nil {
		return fmt.Errorf("marshal channel config: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO notification_channels (id, type, config, enabled) VALUES (?, ?, ?, ?)
	`, ch.ID, ch.Type, string(config), ch.Enabled)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *Store) listChannels(ctx context.Context, query string, args ...any) ([]*core.NotificationChannel, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var channels []*core.NotificationChannel
	for rows.Next() {
		var (
			ch     core.NotificationChannel
			config sql.NullString
		)
		if err := rows.Scan(&ch.ID, &ch.Type, &config, &ch.Enabled); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		if config.Valid && config.String != "" {
			if err := json.Unmarshal([]byte(config.String), &ch.Config); err != nil {
				return nil, fmt.Errorf("decode channel config: %w", err)
			}
		}
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}
