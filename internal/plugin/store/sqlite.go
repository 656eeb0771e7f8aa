package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fathomhq/fathom/internal/plugin"
)

// schema creates the plugin table. Permission and hook sets are stored as
// JSON arrays; they are small and only ever read back whole.
const schema = `
CREATE TABLE IF NOT EXISTS plugins (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	version         TEXT NOT NULL,
	author          TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	path            TEXT NOT NULL,
	enabled         INTEGER NOT NULL DEFAULT 1,
	permissions     TEXT NOT NULL DEFAULT '[]',
	hooks           TEXT NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT 'loaded',
	execution_count INTEGER NOT NULL DEFAULT 0,
	error_count     INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	installed_at    TIMESTAMP NOT NULL,
	last_updated    TIMESTAMP NOT NULL
);
`

// SQLiteStore persists plugins in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and if needed creates) the plugin database at path. Use
// ":memory:" for an ephemeral database.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate plugin database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SavePlugin upserts one plugin record.
func (s *SQLiteStore) SavePlugin(ctx context.Context, p plugin.Plugin) error {
	permsJSON, err := json.Marshal(p.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	hooksJSON, err := json.Marshal(p.Hooks)
	if err != nil {
		return fmt.Errorf("failed to marshal hooks: %w", err)
	}

	query := `
		INSERT INTO plugins (id, name, version, author, description, path, enabled, permissions, hooks, status, execution_count, error_count, last_error, installed_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			author = excluded.author,
			description = excluded.description,
			path = excluded.path,
			enabled = excluded.enabled,
			permissions = excluded.permissions,
			hooks = excluded.hooks,
			status = excluded.status,
			execution_count = excluded.execution_count,
			error_count = excluded.error_count,
			last_error = excluded.last_error,
			last_updated = excluded.last_updated
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Version,
		p.Author,
		p.Description,
		p.Path,
		p.Enabled,
		string(permsJSON),
		string(hooksJSON),
		p.Runtime.Status.String(),
		p.Runtime.ExecutionCount,
		p.Runtime.ErrorCount,
		p.Runtime.LastError,
		p.InstalledAt,
		p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to save plugin %s: %w", p.Name, err)
	}
	return nil
}

// DeletePlugin removes one plugin record. Deleting an absent id is not an
// error; uninstall already removed the authoritative registry entry.
func (s *SQLiteStore) DeletePlugin(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete plugin %s: %w", id, err)
	}
	return nil
}

// ListPlugins returns every persisted plugin, oldest install first.
func (s *SQLiteStore) ListPlugins(ctx context.Context) ([]plugin.Plugin, error) {
	query := `
		SELECT id, name, version, author, description, path, enabled, permissions, hooks, status, execution_count, error_count, last_error, installed_at, last_updated
		FROM plugins
		ORDER BY installed_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}
	defer rows.Close()

	var out []plugin.Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plugin rows: %w", err)
	}
	return out, nil
}

func scanPlugin(rows *sql.Rows) (plugin.Plugin, error) {
	var (
		p           plugin.Plugin
		permsJSON   string
		hooksJSON   string
		status      string
		installedAt time.Time
		lastUpdated time.Time
	)

	err := rows.Scan(
		&p.ID,
		&p.Name,
		&p.Version,
		&p.Author,
		&p.Description,
		&p.Path,
		&p.Enabled,
		&permsJSON,
		&hooksJSON,
		&status,
		&p.Runtime.ExecutionCount,
		&p.Runtime.ErrorCount,
		&p.Runtime.LastError,
		&installedAt,
		&lastUpdated,
	)
	if err != nil {
		return plugin.Plugin{}, fmt.Errorf("failed to scan plugin row: %w", err)
	}

	if err := json.Unmarshal([]byte(permsJSON), &p.Permissions); err != nil {
		return plugin.Plugin{}, fmt.Errorf("failed to unmarshal permissions for %s: %w", p.Name, err)
	}
	if err := json.Unmarshal([]byte(hooksJSON), &p.Hooks); err != nil {
		return plugin.Plugin{}, fmt.Errorf("failed to unmarshal hooks for %s: %w", p.Name, err)
	}
	p.Runtime.Status = plugin.ParseStatus(status)
	p.InstalledAt = installedAt
	p.LastUpdated = lastUpdated
	return p, nil
}
