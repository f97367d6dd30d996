// Package store keeps the history of domains found by discovery runs in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/miguelmartens/opgecanceld-blocklist/assets"
)

const (
	maxOpenConns    = 1
	maxIdleDBConns  = 1
	connMaxLifetime = 5 * time.Minute
)

var ErrNotFound = errors.New("domain not found")

// Domain is a host seen during discovery.
type Domain struct {
	Name      string
	Source    string
	Hits      int
	FirstSeen time.Time
	LastSeen  time.Time
}

type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at dsn and migrates it.
// dsn is a path or a file: URI and may carry sqlite3 query parameters
// after a '?'.
func Open(dsn string, logger *slog.Logger) (*Repository, error) {
	path, _, _ := strings.Cut(dsn, "?")
	path = strings.TrimPrefix(path, "file:")
	if path != "" && path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleDBConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	applyPragmas(db, logger)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Repository{db: db, logger: logger}, nil
}

func applyPragmas(db *sql.DB, logger *slog.Logger) {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warn("failed to set pragma", slog.String("pragma", pragma), slog.String("error", err.Error()))
		}
	}
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(assets.EmbeddedFiles)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Record stores a sighting of name on source. It reports whether name had
// never been recorded before.
func (r *Repository) Record(ctx context.Context, name, source string) (bool, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO discovered_domains (name, source, hits, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET hits = hits + 1, last_seen = excluded.last_seen
		RETURNING hits
	`

	var hits int
	if err := r.db.QueryRowContext(ctx, query, name, source, now, now).Scan(&hits); err != nil {
		return false, fmt.Errorf("failed to record domain: %w", err)
	}
	return hits == 1, nil
}

func (r *Repository) Get(ctx context.Context, name string) (Domain, error) {
	query := `SELECT name, source, hits, first_seen, last_seen FROM discovered_domains WHERE name = ?`

	var d Domain
	err := r.db.QueryRowContext(ctx, query, name).Scan(&d.Name, &d.Source, &d.Hits, &d.FirstSeen, &d.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Domain{}, ErrNotFound
		}
		return Domain{}, fmt.Errorf("failed to get domain: %w", err)
	}
	return d, nil
}

// List returns every recorded domain, oldest discovery first.
func (r *Repository) List(ctx context.Context) ([]Domain, error) {
	query := `SELECT name, source, hits, first_seen, last_seen FROM discovered_domains ORDER BY first_seen, name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var domains []Domain
	for rows.Next() {
		var d Domain
		if err := rows.Scan(&d.Name, &d.Source, &d.Hits, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	return domains, nil
}

func (r *Repository) Ping() error {
	return r.db.Ping()
}

func (r *Repository) Close() error {
	return r.db.Close()
}
