package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/toolscout/internal/model"
)

// GetChannel returns the channel record with the given key, or nil if none exists.
func (db *DB) GetChannel(ctx context.Context, key string) (*model.Channel, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, source_kind, handle, title, url, last_scanned_at, created_at
		FROM channels WHERE id = ?`, key,
	)
	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting channel %s: %w", key, err)
	}
	return ch, nil
}

// UpsertChannel registers the channel and stamps lastScannedAt. Empty titles
// and URLs keep the stored values.
func (db *DB) UpsertChannel(ctx context.Context, ch model.ChannelRef) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO channels (id, source_kind, handle, title, url, last_scanned_at, created_at)
		VALUES (?, ?, ?, ?, ?, `+sqliteNow+`, `+sqliteNow+`)
		ON CONFLICT(id) DO UPDATE SET
			handle = excluded.handle,
			title = CASE WHEN excluded.title = '' THEN channels.title ELSE excluded.title END,
			url = CASE WHEN excluded.url = '' THEN channels.url ELSE excluded.url END,
			last_scanned_at = excluded.last_scanned_at`,
		ch.Key(), string(ch.Kind), ch.Handle, ch.Title, ch.URL,
	)
	if err != nil {
		return fmt.Errorf("upserting channel %s: %w", ch.Key(), err)
	}
	return nil
}

// ListChannels returns every channel, least recently scanned first.
func (db *DB) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, source_kind, handle, title, url, last_scanned_at, created_at
		FROM channels ORDER BY last_scanned_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func scanChannel(row rowScanner) (*model.Channel, error) {
	var (
		ch                   model.Channel
		kind                 string
		scannedAt, createdAt sql.NullString
	)
	if err := row.Scan(&ch.Key, &kind, &ch.Handle, &ch.Title, &ch.URL, &scannedAt, &createdAt); err != nil {
		return nil, err
	}
	ch.Kind = model.SourceKind(kind)
	ch.LastScannedAt = parseTime(scannedAt)
	ch.CreatedAt = parseTime(createdAt)
	return &ch, nil
}
