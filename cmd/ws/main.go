package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"ChatWidget/internal/app/widget"
	"ChatWidget/internal/app/ws"
	"ChatWidget/internal/config"
	"ChatWidget/internal/lib/logger/handlers/slogpretty"
	"ChatWidget/internal/lib/logger/sl"
	"ChatWidget/internal/server/handlers"
	httpapi "ChatWidget/internal/server/http"
	"ChatWidget/internal/services/auth"
	"ChatWidget/internal/services/shops"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.ENV)
	log.Info("starting chat widget", slog.String("env", cfg.ENV), slog.String("backend", cfg.BACKEND.BaseURL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := widget.OpenStore(ctx, log, cfg.STORAGE)
	if err != nil {
		log.Error("failed to open store", sl.Err(err))
		os.Exit(1)
	}
	defer store.Close()

	// без каталога виджет работает, просто без карточек магазинов
	catalog, err := shops.Load(ctx, log, cfg.SHOPS.Source, cfg.SHOPS.Timeout)
	if err != nil {
		log.Warn("shops catalog unavailable, continuing without shops", sl.Err(err))
		catalog = shops.Empty()
	}

	var validator widget.TokenValidator
	if cfg.AUTH.URLAuth != "" {
		authClient, err := auth.New(log, cfg.AUTH.URLAuth, cfg.AUTH.Timeout, cfg.AUTH.RetriesCount, cfg.AUTH.Insecure)
		if err != nil {
			log.Error("failed to create auth client", sl.Err(err))
			os.Exit(1)
		}
		defer authClient.Close()

		validator = authClient
		log.Info("host token check enabled", slog.String("addr", cfg.AUTH.URLAuth))
	}
	identifier := widget.NewIdentifier(validator)

	registry := widget.NewRegistry(log, cfg, store, catalog)
	defer registry.Close()

	wsHandler := handlers.NewWebSocketHandler(
		log,
		func(ctx context.Context, key widget.Key) (handlers.Conversation, error) {
			p, err := registry.Pipeline(ctx, key)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		identifier.Identify,
		cfg.WEBSOCKET.AllowedOrigins,
	)

	api := httpapi.NewAPI(
		log,
		func(ctx context.Context, key widget.Key) (httpapi.Conversation, error) {
			p, err := registry.Pipeline(ctx, key)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		identifier.Identify,
	)

	app := ws.New(log, cfg, wsHandler, api)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(app.Run)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping application", slog.Int("widgets", registry.Len()))
		return app.Stop()
	})

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		log.Error("application stopped with error", sl.Err(err))
		return
	}

	log.Info("application stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default: // If env config is invalid, set prod settings by default due to security
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
