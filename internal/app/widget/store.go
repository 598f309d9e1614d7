package widget

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/exp/slog"

	"ChatWidget/internal/config"
	"ChatWidget/internal/storage"
	"ChatWidget/internal/storage/memory"
	"ChatWidget/internal/storage/postgresql"
	"ChatWidget/internal/storage/redis"
	"ChatWidget/internal/storage/sqlite"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

type Store interface {
	storage.KV
	io.Closer
}

// OpenStore picks the backing store for every widget origin.
func OpenStore(ctx context.Context, log *slog.Logger, cfg config.Storage) (Store, error) {
	const op = "widget.OpenStore"

	var (
		st  Store
		err error
	)

	switch cfg.Driver {
	case "memory":
		st = memory.New()
	case "sqlite", "":
		st, err = sqlite.New(cfg.DSN, log)
	case "postgres", "postgresql":
		st, err = postgresql.New(cfg.DSN, log)
	case "redis":
		st, err = redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, log)
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, cfg.Driver, ErrUnknownDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("storage opened", slog.String("driver", cfg.Driver))

	return st, nil
}
