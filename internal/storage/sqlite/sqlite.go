package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"

	"ChatWidget/internal/storage"
)

type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

var _ storage.KV = (*Storage)(nil)

func New(dsn string, log *slog.Logger) (*Storage, error) {
	const op = "storage.sqlite.New"

	if dsn == "" {
		return nil, fmt.Errorf("%s: empty dsn", op)
	}

	log.Info("opening sqlite store", slog.String("dsn", dsn))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// sqlite не любит параллельных писателей
	db.SetMaxOpenConns(1)

	s := &Storage{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s, nil
}

func (s *Storage) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS widget_kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	return err
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "storage.sqlite.Get"

	if key == "" {
		return "", false, storage.ErrEmptyKey
	}
	if s.db == nil {
		return "", false, storage.ErrClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM widget_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	return value, true, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	const op = "storage.sqlite.Set"

	if key == "" {
		return storage.ErrEmptyKey
	}
	if s.db == nil {
		return storage.ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO widget_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	const op = "storage.sqlite.Delete"

	if key == "" {
		return storage.ErrEmptyKey
	}
	if s.db == nil {
		return storage.ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM widget_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
