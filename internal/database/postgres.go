package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TobiSchelling/toolscout/internal/model"
)

// PG is the Postgres record store. Timestamps come from the server clock.
type PG struct {
	pool *pgxpool.Pool
}

var _ Store = (*PG)(nil)

const pgSchema = `
CREATE TABLE IF NOT EXISTS toolscout_sources (
    id TEXT PRIMARY KEY,
    source_kind TEXT NOT NULL,
    external_id TEXT NOT NULL,
    channel_key TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    ai_summary TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    published_at TIMESTAMPTZ,
    url TEXT NOT NULL DEFAULT '',
    thumbnail_url TEXT,
    detected_apps JSONB NOT NULL DEFAULT '[]'::jsonb,
    app_count INTEGER NOT NULL DEFAULT 0,
    repair_attempts INTEGER NOT NULL DEFAULT 0,
    is_fallback BOOLEAN NOT NULL DEFAULT FALSE,
    needs_repair BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE toolscout_sources ADD COLUMN IF NOT EXISTS last_repair_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS toolscout_sources_repair_idx ON toolscout_sources (needs_repair, updated_at);
CREATE TABLE IF NOT EXISTS toolscout_channels (
    id TEXT PRIMARY KEY,
    source_kind TEXT NOT NULL,
    handle TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    last_scanned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// OpenPostgres connects to dsn and makes sure the tables exist.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*PG, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating postgres schema: %w", err)
	}
	return &PG{pool: pool}, nil
}

// Close releases the connection pool.
func (p *PG) Close() error {
	p.pool.Close()
	return nil
}

const pgSourceColumns = `id, source_kind, external_id, channel_key, title, description, ai_summary,
	author, published_at, url, thumbnail_url, detected_apps, repair_attempts, is_fallback,
	needs_repair, created_at, updated_at`

func (p *PG) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pgSourceColumns+` FROM toolscout_sources WHERE id = $1`, id)
	src, err := scanPGSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting source %s: %w", id, err)
	}
	return src, nil
}

func (p *PG) UpsertSource(ctx context.Context, rec *model.Source) error {
	apps := rec.DetectedApps
	if apps == nil {
		apps = []model.App{}
	}
	appsJSON, err := json.Marshal(apps)
	if err != nil {
		return fmt.Errorf("encoding detected apps: %w", err)
	}

	var published *time.Time
	if !rec.PublishedAt.IsZero() {
		published = &rec.PublishedAt
	}
	var thumb *string
	if rec.ThumbnailURL != "" {
		thumb = &rec.ThumbnailURL
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO toolscout_sources (id, source_kind, external_id, channel_key, title, description,
			ai_summary, author, published_at, url, thumbnail_url, detected_apps, app_count,
			repair_attempts, is_fallback, needs_repair, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14, $15, $16, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			source_kind = EXCLUDED.source_kind,
			external_id = EXCLUDED.external_id,
			channel_key = EXCLUDED.channel_key,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			ai_summary = EXCLUDED.ai_summary,
			author = EXCLUDED.author,
			published_at = COALESCE(EXCLUDED.published_at, toolscout_sources.published_at),
			url = EXCLUDED.url,
			thumbnail_url = COALESCE(EXCLUDED.thumbnail_url, toolscout_sources.thumbnail_url),
			detected_apps = EXCLUDED.detected_apps,
			app_count = EXCLUDED.app_count,
			repair_attempts = GREATEST(EXCLUDED.repair_attempts, toolscout_sources.repair_attempts),
			is_fallback = EXCLUDED.is_fallback,
			needs_repair = EXCLUDED.needs_repair,
			updated_at = now()`,
		rec.ID, string(rec.Kind), rec.ExternalID, rec.ChannelKey, rec.Title, rec.Description,
		rec.AISummary, rec.Author, published, rec.URL, thumb, string(appsJSON), len(apps),
		rec.RepairAttempts, rec.IsFallback, rec.NeedsRepair,
	)
	if err != nil {
		return fmt.Errorf("upserting source %s: %w", rec.ID, err)
	}
	return nil
}

func (p *PG) QuerySources(ctx context.Context, field string, value any, limit int) ([]model.Source, error) {
	query := `SELECT ` + pgSourceColumns + ` FROM toolscout_sources`
	var args []any
	if field != "" {
		col, v, err := resolveFilter(field, value)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		query += fmt.Sprintf(" WHERE %s = $%d", col, len(args))
	}
	query += " ORDER BY last_repair_at ASC NULLS FIRST, updated_at ASC, id ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	return collectPGSources(rows)
}

func (p *PG) MarkRepairAttempted(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `UPDATE toolscout_sources SET last_repair_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("marking repair of %s: %w", id, err)
	}
	return nil
}

func (p *PG) RecentHealthy(ctx context.Context, since time.Time, limit int) ([]model.Source, error) {
	query := `SELECT ` + pgSourceColumns + ` FROM toolscout_sources
		WHERE updated_at >= $1 AND app_count > 0 AND NOT needs_repair AND NOT is_fallback
		ORDER BY updated_at DESC, id ASC`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying healthy sources: %w", err)
	}
	return collectPGSources(rows)
}

func (p *PG) GetChannel(ctx context.Context, key string) (*model.Channel, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, source_kind, handle, title, url, last_scanned_at, created_at
		FROM toolscout_channels WHERE id = $1`, key)
	ch, err := scanPGChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting channel %s: %w", key, err)
	}
	return ch, nil
}

func (p *PG) UpsertChannel(ctx context.Context, ch model.ChannelRef) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO toolscout_channels (id, source_kind, handle, title, url, last_scanned_at, created_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			handle = EXCLUDED.handle,
			title = COALESCE(NULLIF(EXCLUDED.title, ''), toolscout_channels.title),
			url = COALESCE(NULLIF(EXCLUDED.url, ''), toolscout_channels.url),
			last_scanned_at = now()`,
		ch.Key(), string(ch.Kind), ch.Handle, ch.Title, ch.URL,
	)
	if err != nil {
		return fmt.Errorf("upserting channel %s: %w", ch.Key(), err)
	}
	return nil
}

func (p *PG) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, source_kind, handle, title, url, last_scanned_at, created_at
		FROM toolscout_channels ORDER BY last_scanned_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		ch, err := scanPGChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (p *PG) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE app_count > 0 AND NOT needs_repair AND NOT is_fallback),
			COUNT(*) FILTER (WHERE needs_repair),
			COUNT(*) FILTER (WHERE is_fallback)
		FROM toolscout_sources`,
	).Scan(&s.Sources, &s.Healthy, &s.NeedsRepair, &s.Fallback)
	if err != nil {
		return s, fmt.Errorf("counting sources: %w", err)
	}
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM toolscout_channels").Scan(&s.Channels); err != nil {
		return s, fmt.Errorf("counting channels: %w", err)
	}
	return s, nil
}

func scanPGSource(row pgx.Row) (*model.Source, error) {
	var (
		s         model.Source
		kind      string
		published *time.Time
		thumb     *string
		appsJSON  []byte
	)
	err := row.Scan(&s.ID, &kind, &s.ExternalID, &s.ChannelKey, &s.Title, &s.Description,
		&s.AISummary, &s.Author, &published, &s.URL, &thumb, &appsJSON, &s.RepairAttempts,
		&s.IsFallback, &s.NeedsRepair, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Kind = model.SourceKind(kind)
	if published != nil {
		s.PublishedAt = *published
	}
	if thumb != nil {
		s.ThumbnailURL = *thumb
	}
	if err := json.Unmarshal(appsJSON, &s.DetectedApps); err != nil {
		return nil, fmt.Errorf("decoding detected apps for %s: %w", s.ID, err)
	}
	return &s, nil
}

func collectPGSources(rows pgx.Rows) ([]model.Source, error) {
	defer rows.Close()
	var out []model.Source
	for rows.Next() {
		s, err := scanPGSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanPGChannel(row pgx.Row) (*model.Channel, error) {
	var (
		ch   model.Channel
		kind string
	)
	if err := row.Scan(&ch.Key, &kind, &ch.Handle, &ch.Title, &ch.URL, &ch.LastScannedAt, &ch.CreatedAt); err != nil {
		return nil, err
	}
	ch.Kind = model.SourceKind(kind)
	return &ch, nil
}
