package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TobiSchelling/toolscout/internal/model"
)

const sourceColumns = `id, source_kind, external_id, channel_key, title, description, ai_summary,
	author, published_at, url, thumbnail_url, detected_apps, repair_attempts, is_fallback,
	needs_repair, created_at, updated_at`

// GetSource returns the record with the given id, or nil if none exists.
func (db *DB) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id,
	)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting source %s: %w", id, err)
	}
	return src, nil
}

// UpsertSource inserts rec or merges it into the existing record. createdAt
// is only written on insert, repairAttempts never decreases and an empty
// thumbnail keeps the stored one.
func (db *DB) UpsertSource(ctx context.Context, rec *model.Source) error {
	apps := rec.DetectedApps
	if apps == nil {
		apps = []model.App{}
	}
	appsJSON, err := json.Marshal(apps)
	if err != nil {
		return fmt.Errorf("encoding detected apps: %w", err)
	}

	var thumb any
	if rec.ThumbnailURL != "" {
		thumb = rec.ThumbnailURL
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO sources (id, source_kind, external_id, channel_key, title, description,
			ai_summary, author, published_at, url, thumbnail_url, detected_apps, app_count,
			repair_attempts, is_fallback, needs_repair, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, `+sqliteNow+`, `+sqliteNow+`)
		ON CONFLICT(id) DO UPDATE SET
			source_kind = excluded.source_kind,
			external_id = excluded.external_id,
			channel_key = excluded.channel_key,
			title = excluded.title,
			description = excluded.description,
			ai_summary = excluded.ai_summary,
			author = excluded.author,
			published_at = COALESCE(excluded.published_at, sources.published_at),
			url = excluded.url,
			thumbnail_url = COALESCE(excluded.thumbnail_url, sources.thumbnail_url),
			detected_apps = excluded.detected_apps,
			app_count = excluded.app_count,
			repair_attempts = MAX(excluded.repair_attempts, sources.repair_attempts),
			is_fallback = excluded.is_fallback,
			needs_repair = excluded.needs_repair,
			updated_at = excluded.updated_at`,
		rec.ID, string(rec.Kind), rec.ExternalID, rec.ChannelKey, rec.Title, rec.Description,
		rec.AISummary, rec.Author, formatTime(rec.PublishedAt), rec.URL, thumb, string(appsJSON),
		len(apps), rec.RepairAttempts, rec.IsFallback, rec.NeedsRepair,
	)
	if err != nil {
		return fmt.Errorf("upserting source %s: %w", rec.ID, err)
	}
	return nil
}

// QuerySources returns records matching field = value. Records never re-driven
// by a repair come first, then the least recently re-driven, then the least
// recently updated. An empty field matches every record. limit <= 0 means no limit.
func (db *DB) QuerySources(ctx context.Context, field string, value any, limit int) ([]model.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	var args []any
	if field != "" {
		col, v, err := resolveFilter(field, value)
		if err != nil {
			return nil, err
		}
		query += " WHERE " + col + " = ?"
		args = append(args, v)
	}
	query += " ORDER BY last_repair_at ASC, updated_at ASC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()
	return scanSources(rows)
}

// MarkRepairAttempted stamps the record as re-driven now, moving it behind
// every other repair candidate.
func (db *DB) MarkRepairAttempted(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE sources SET last_repair_at = `+sqliteNow+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking repair of %s: %w", id, err)
	}
	return nil
}

// RecentHealthy returns healthy records updated at or after since, newest first.
func (db *DB) RecentHealthy(ctx context.Context, since time.Time, limit int) ([]model.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources
		WHERE updated_at >= ? AND app_count > 0 AND needs_repair = 0 AND is_fallback = 0
		ORDER BY updated_at DESC, id ASC`
	args := []any{since.UTC().Format(timeLayout)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying healthy sources: %w", err)
	}
	defer rows.Close()
	return scanSources(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*model.Source, error) {
	var (
		s                    model.Source
		kind                 string
		published, thumb     sql.NullString
		appsJSON             string
		createdAt, updatedAt sql.NullString
	)
	err := row.Scan(&s.ID, &kind, &s.ExternalID, &s.ChannelKey, &s.Title, &s.Description,
		&s.AISummary, &s.Author, &published, &s.URL, &thumb, &appsJSON, &s.RepairAttempts,
		&s.IsFallback, &s.NeedsRepair, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.Kind = model.SourceKind(kind)
	s.PublishedAt = parseTime(published)
	s.ThumbnailURL = thumb.String
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(appsJSON), &s.DetectedApps); err != nil {
		return nil, fmt.Errorf("decoding detected apps for %s: %w", s.ID, err)
	}
	return &s, nil
}

func scanSources(rows *sql.Rows) ([]model.Source, error) {
	var out []model.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
