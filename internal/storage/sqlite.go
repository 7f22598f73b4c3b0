package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	logx "patchwatch/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	version, err := runMigrations(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite ready", logx.String("path", path), logx.Uint64("schema_version", uint64(version)))
	return &sqliteStore{db: db, log: log}, nil
}

func runMigrations(db *sql.DB) (uint, error) {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadDestinations(ctx context.Context) (map[string]DestinationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, thread_id, tag, credential FROM destinations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]DestinationRecord{}
	for rows.Next() {
		var (
			id  string
			rec DestinationRecord
			tag sql.NullString
		)
		if err := rows.Scan(&id, &rec.ChatID, &rec.ThreadID, &tag, &rec.Credential); err != nil {
			return nil, err
		}
		if tag.Valid {
			v := tag.String
			rec.Tag = &v
		}
		out[id] = rec
	}
	return out, rows.Err()
}

// SaveDestinations replaces the table contents in one transaction.
func (s *sqliteStore) SaveDestinations(ctx context.Context, all map[string]DestinationRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM destinations`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO destinations(id, chat_id, thread_id, tag, credential, updated_at) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for id, rec := range all {
		var tag any
		if rec.Tag != nil {
			tag = *rec.Tag
		}
		if _, err = stmt.ExecContext(ctx, id, rec.ChatID, rec.ThreadID, tag, rec.Credential, now); err != nil {
			return fmt.Errorf("insert destination %s: %w", id, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("destinations saved", logx.Int("count", len(all)))
	return nil
}
