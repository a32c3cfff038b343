// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides event/character/theme persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_app TEXT NOT NULL,
			session_id TEXT NOT NULL,
			hook_event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			chat TEXT,
			summary TEXT,
			timestamp INTEGER NOT NULL,
			human_in_the_loop TEXT,
			human_in_the_loop_status TEXT,
			model_name TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_events_source_app ON events(source_app);
		CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
		CREATE INDEX IF NOT EXISTS idx_events_hook_event_type ON events(hook_event_type);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

		CREATE TABLE IF NOT EXISTS agent_characters (
			agent_key TEXT PRIMARY KEY,
			character_id TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS themes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			description TEXT,
			light_colors TEXT,
			dark_colors TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_themes_name ON themes(name);

		CREATE TABLE IF NOT EXISTS theme_characters (
			id TEXT PRIMARY KEY,
			theme_id TEXT NOT NULL,
			character_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			sort_order INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL,

			UNIQUE(theme_id, character_id),
			FOREIGN KEY (theme_id) REFERENCES themes(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_theme_characters_theme ON theme_characters(theme_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times. A restart against an
// older database must never fail: "column already exists" is a no-op.
func (s *SQLiteStore) runMigrations() error {
	// Migration: columns added to the events table after the initial release.
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('events') WHERE name = 'chat'`,
			apply:  `ALTER TABLE events ADD COLUMN chat TEXT`,
			column: "chat",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('events') WHERE name = 'summary'`,
			apply:  `ALTER TABLE events ADD COLUMN summary TEXT`,
			column: "summary",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('events') WHERE name = 'human_in_the_loop'`,
			apply:  `ALTER TABLE events ADD COLUMN human_in_the_loop TEXT`,
			column: "human_in_the_loop",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('events') WHERE name = 'human_in_the_loop_status'`,
			apply:  `ALTER TABLE events ADD COLUMN human_in_the_loop_status TEXT`,
			column: "human_in_the_loop_status",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('events') WHERE name = 'model_name'`,
			apply:  `ALTER TABLE events ADD COLUMN model_name TEXT`,
			column: "model_name",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		// Column doesn't exist, apply migration
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to events: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "events")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// GetSetting retrieves a persistent server setting.
// Returns ErrNotFound if the key has never been set.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a persistent server setting, replacing any previous value.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO app_settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("saving setting: %w", err)
	}
	return nil
}

// DeleteSetting removes a persistent server setting. Deleting a missing key
// is a no-op.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting setting: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
