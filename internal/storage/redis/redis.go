package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"ChatWidget/internal/storage"
)

type Storage struct {
	client *goredis.Client
	prefix string
	log    *slog.Logger
}

var _ storage.KV = (*Storage)(nil)

func New(ctx context.Context, addr, password string, db int, prefix string, log *slog.Logger) (*Storage, error) {
	const op = "storage.redis.New"

	log.Info("opening redis connection", slog.String("addr", addr), slog.Int("db", db))

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: ping failed: %w", op, err)
	}

	return &Storage{client: client, prefix: prefix, log: log}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "storage.redis.Get"

	if key == "" {
		return "", false, storage.ErrEmptyKey
	}

	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	return v, true, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	const op = "storage.redis.Set"

	if key == "" {
		return storage.ErrEmptyKey
	}

	// без TTL: время жизни сессии считает session.Manager
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	const op = "storage.redis.Delete"

	if key == "" {
		return storage.ErrEmptyKey
	}

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
