package configstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yoonka/acdctl/internal/domain"
	"github.com/yoonka/acdctl/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store over a sqlite database, following the same
// WAL-mode, busy-timeout, and retry-on-SQLITE_BUSY technique as the
// teacher's user/session store.
type SQLiteStore struct {
	db          *sql.DB
	maxRetries  int
	retryDelay  time.Duration
}

// NewSQLite opens (creating if needed) a sqlite-backed configuration store.
func NewSQLite(dbPath string, maxRetries int, retryDelay time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, maxRetries: maxRetries, retryDelay: retryDelay}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS queue_config (
		name TEXT PRIMARY KEY,
		recipe TEXT NOT NULL,
		weight INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		brand TEXT NOT NULL,
		queues TEXT NOT NULL,
		autoend_wrapup INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS release_options (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		bias INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) withRetry(fn func() error) error {
	delay := s.retryDelay
	for i := 0; i < s.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == s.maxRetries-1 {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return nil
}

// Queues implements Store.
func (s *SQLiteStore) Queues(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM queue_config ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query queues: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan queue name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// QueueConfig implements Store.
func (s *SQLiteStore) QueueConfig(ctx context.Context, name string) (QueueConfig, bool, error) {
	var cfg QueueConfig
	cfg.Name = name
	row := s.db.QueryRowContext(ctx, `SELECT recipe, weight FROM queue_config WHERE name = ?`, name)
	if err := row.Scan(&cfg.Recipe, &cfg.Weight); err != nil {
		if err == sql.ErrNoRows {
			return QueueConfig{}, false, nil
		}
		return QueueConfig{}, false, fmt.Errorf("query queue config: %w", err)
	}
	return cfg, true, nil
}

// UpsertQueueConfig implements Store.
func (s *SQLiteStore) UpsertQueueConfig(ctx context.Context, cfg QueueConfig) error {
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO queue_config (name, recipe, weight) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET recipe = excluded.recipe, weight = excluded.weight
		`, cfg.Name, cfg.Recipe, cfg.Weight)
		if err != nil {
			return fmt.Errorf("upsert queue config: %w", err)
		}
		return nil
	})
}

// Clients implements Store.
func (s *SQLiteStore) Clients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, brand, queues, autoend_wrapup FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var out []domain.Client
	for rows.Next() {
		var c domain.Client
		var queuesCSV string
		if err := rows.Scan(&c.ID, &c.Brand, &queuesCSV, &c.AutoendWrapup); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		c.Queues = splitCSV(queuesCSV)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Client implements Store.
func (s *SQLiteStore) Client(ctx context.Context, id string) (domain.Client, bool, error) {
	var c domain.Client
	var queuesCSV string
	row := s.db.QueryRowContext(ctx, `SELECT id, brand, queues, autoend_wrapup FROM clients WHERE id = ?`, id)
	if err := row.Scan(&c.ID, &c.Brand, &queuesCSV, &c.AutoendWrapup); err != nil {
		if err == sql.ErrNoRows {
			return domain.Client{}, false, nil
		}
		return domain.Client{}, false, fmt.Errorf("query client: %w", err)
	}
	c.Queues = splitCSV(queuesCSV)
	return c, true, nil
}

// ReleaseOptions implements Store.
func (s *SQLiteStore) ReleaseOptions(ctx context.Context) ([]domain.ReleaseOption, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, bias FROM release_options ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("query release options: %w", err)
	}
	defer rows.Close()

	var out []domain.ReleaseOption
	for rows.Next() {
		var ro domain.ReleaseOption
		if err := rows.Scan(&ro.ID, &ro.Label, &ro.Bias); err != nil {
			return nil, fmt.Errorf("scan release option: %w", err)
		}
		out = append(out, ro)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
