package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/exp/slog"

	"ChatWidget/internal/app/widget"
	"ChatWidget/internal/config"
	"ChatWidget/internal/server/handlers"
	httpapi "ChatWidget/internal/server/http"
)

type App struct {
	log    *slog.Logger
	server *http.Server
	config *config.Config
}

func New(
	log *slog.Logger,
	cfg *config.Config,
	wsHandler *handlers.WebSocketHandler,
	api *httpapi.API,
) *App {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleConnection)
	mux.HandleFunc("/session", api.Session)
	mux.HandleFunc("/feedback", api.Feedback)
	mux.HandleFunc("/messages/", api.MessageByID)
	mux.HandleFunc("/health", healthHandler)

	// виджет встраивается в чужие страницы, поэтому REST ходит через CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.WEBSOCKET.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization", widget.VisitorHeader},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:        cfg.WEBSOCKET.URLWS,
		Handler:     c.Handler(mux),
		ReadTimeout: cfg.WEBSOCKET.Timeout,
		// WriteTimeout не ставим: рендеры идут по сокету дольше таймаута
	}

	return &App{
		log:    log,
		server: server,
		config: cfg,
	}
}

// MustRun запускает сервер или паникует при ошибке
func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "wsapp.Run"

	a.log.Info("starting widget server",
		slog.String("addr", a.server.Addr),
		slog.String("env", a.config.ENV),
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Stop gracefully останавливает сервер
func (a *App) Stop() error {
	const op = "wsapp.Stop"

	a.log.Info("stopping widget server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("widget server stopped")
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok", "service": "chat-widget"}`))
}
