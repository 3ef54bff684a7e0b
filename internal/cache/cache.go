// Package cache is the device-local snapshot store. It holds the last-known
// value of every top-level household collection so the UI has non-empty state
// before the remote connection completes and keeps working offline, plus a
// small key/value table for the durable device id and UI preferences.
package cache

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Cache wraps the local SQLite database.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the cache database at path and runs
// migrations. Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	// One connection: the cache is device-local and low-traffic, and a pool
	// would hand each ":memory:" connection its own empty database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Cache{db: db, logger: logger}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// LoadAll reads every stored collection snapshot. Rows whose body does not
// parse as JSON are discarded with a warning; missing collections are simply
// absent from the result. Never returns a partially-corrupt map.
func (c *Cache) LoadAll() (map[string]json.RawMessage, error) {
	rows, err := c.db.Query(`SELECT collection, body FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var name, body string
		if err := rows.Scan(&name, &body); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if !json.Valid([]byte(body)) {
			c.logger.Warn("discarding corrupt cached collection", "collection", name)
			continue
		}
		out[name] = json.RawMessage(body)
	}
	return out, rows.Err()
}

// Persist stores one collection's authoritative value, replacing any prior
// row. Called on every optimistic update and every merged remote snapshot so
// the cache is never more than one state-update behind in-memory truth.
func (c *Cache) Persist(collection string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", collection, err)
	}
	_, err = c.db.Exec(
		`INSERT INTO snapshots (collection, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(collection) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, string(body), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("persist %s: %w", collection, err)
	}
	return nil
}

// PersistRaw stores an already-marshaled collection body.
func (c *Cache) PersistRaw(collection string, body json.RawMessage) error {
	_, err := c.db.Exec(
		`INSERT INTO snapshots (collection, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(collection) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, string(body), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("persist %s: %w", collection, err)
	}
	return nil
}

// GetKV returns the stored value for key, or "" if the key is absent.
func (c *Cache) GetKV(key string) (string, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv %q: %w", key, err)
	}
	return value, nil
}

// SetKV stores value under key, replacing any prior value.
func (c *Cache) SetKV(key, value string) error {
	_, err := c.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set kv %q: %w", key, err)
	}
	return nil
}

// DeleteKV removes key. Deleting an absent key is not an error.
func (c *Cache) DeleteKV(key string) error {
	_, err := c.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete kv %q: %w", key, err)
	}
	return nil
}
