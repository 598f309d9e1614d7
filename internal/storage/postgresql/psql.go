package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/exp/slog"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ChatWidget/internal/storage"
)

// Storage keeps widget keys in the widget_kv table created by cmd/migrator.
type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

var _ storage.KV = (*Storage)(nil)

func New(databaseURL string, log *slog.Logger) (*Storage, error) {
	const op = "storage.postgres.New"

	log.Info("opening postgres connection")

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// ВАЖНО: проверить соединение сразу
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping failed: %w", op, err)
	}

	return &Storage{
		db:  db,
		log: log,
	}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "storage.postgres.Get"

	if key == "" {
		return "", false, storage.ErrEmptyKey
	}

	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM widget_kv
		WHERE key = $1
	`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	return value, true, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	const op = "storage.postgres.Set"

	if key == "" {
		return storage.ErrEmptyKey
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO widget_kv (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	const op = "storage.postgres.Delete"

	if key == "" {
		return storage.ErrEmptyKey
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM widget_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
