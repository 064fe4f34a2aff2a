package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/TobiSchelling/toolscout/internal/database/migrations"
	"github.com/TobiSchelling/toolscout/internal/model"
)

// ErrUnknownField is returned by QuerySources for fields that are not filterable.
var ErrUnknownField = errors.New("unknown query field")

// Store is the record store shared by the SQLite and Postgres backends.
// Lookups of missing records return nil without an error.
type Store interface {
	GetSource(ctx context.Context, id string) (*model.Source, error)
	// UpsertSource merges rec into the stored record. The store assigns
	// createdAt on first insert and updatedAt on every write.
	UpsertSource(ctx context.Context, rec *model.Source) error
	// QuerySources returns records whose field equals value, least recently
	// re-driven by a repair first, then least recently updated. An empty
	// field returns all records.
	QuerySources(ctx context.Context, field string, value any, limit int) ([]model.Source, error)
	// MarkRepairAttempted records that a repair re-drove the record, so the
	// next sweep reaches the candidates behind it.
	MarkRepairAttempted(ctx context.Context, id string) error
	RecentHealthy(ctx context.Context, since time.Time, limit int) ([]model.Source, error)

	GetChannel(ctx context.Context, key string) (*model.Channel, error)
	// UpsertChannel creates the channel record or refreshes its title, URL
	// and lastScannedAt.
	UpsertChannel(ctx context.Context, ch model.ChannelRef) error
	ListChannels(ctx context.Context) ([]model.Channel, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats summarizes the store contents.
type Stats struct {
	Sources     int `json:"sources"`
	Healthy     int `json:"healthy"`
	NeedsRepair int `json:"needsRepair"`
	Fallback    int `json:"fallback"`
	Channels    int `json:"channels"`
}

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

var _ Store = (*DB)(nil)

// Open creates or opens a SQLite database at the given path and applies
// pending migrations.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// the scheduler and API handlers share one file; serialize writers
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrations.Run(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// SchemaVersion returns the applied migration version.
func (db *DB) SchemaVersion() (int64, error) {
	return migrations.Version(db.conn)
}

// Stats counts records by health state.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN app_count > 0 AND needs_repair = 0 AND is_fallback = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(needs_repair), 0),
			COALESCE(SUM(is_fallback), 0)
		FROM sources`,
	).Scan(&s.Sources, &s.Healthy, &s.NeedsRepair, &s.Fallback)
	if err != nil {
		return s, fmt.Errorf("counting sources: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM channels").Scan(&s.Channels); err != nil {
		return s, fmt.Errorf("counting channels: %w", err)
	}
	return s, nil
}

// queryColumns maps filterable record fields to their columns. Both the
// snake_case and the JSON spelling are accepted.
var queryColumns = map[string]string{
	"needs_repair": "needs_repair",
	"needsRepair":  "needs_repair",
	"is_fallback":  "is_fallback",
	"isFallback":   "is_fallback",
	"source_kind":  "source_kind",
	"sourceType":   "source_kind",
	"kind":         "source_kind",
	"channel_key":  "channel_key",
	"channelKey":   "channel_key",
	"author":       "author",
}

var boolColumns = map[string]bool{
	"needs_repair": true,
	"is_fallback":  true,
}

// resolveFilter validates field and coerces value to the column's type.
func resolveFilter(field string, value any) (string, any, error) {
	col, ok := queryColumns[field]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if !boolColumns[col] {
		switch v := value.(type) {
		case string:
			return col, v, nil
		case model.SourceKind:
			return col, string(v), nil
		}
		return "", nil, fmt.Errorf("field %q wants a string value, got %T", field, value)
	}
	switch v := value.(type) {
	case bool:
		return col, v, nil
	case string:
		switch v {
		case "true", "1":
			return col, true, nil
		case "false", "0":
			return col, false, nil
		}
	}
	return "", nil, fmt.Errorf("field %q wants a boolean value, got %v", field, value)
}

// timeLayout has a fixed width so stored timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// sqliteNow is the store-side clock used for createdAt/updatedAt.
const sqliteNow = `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
