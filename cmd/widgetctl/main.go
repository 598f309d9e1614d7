package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"ChatWidget/internal/app/widget"
	"ChatWidget/internal/config"
	"ChatWidget/internal/lib/logger/handlers/slogdiscard"
	"ChatWidget/internal/lib/logger/handlers/slogpretty"
	"ChatWidget/internal/services/shops"
)

type rootOptions struct {
	configPath string
	origin     string
	visitor    string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "widgetctl",
		Short:         "Talk to the chat widget core from a terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (or CONFIG_PATH)")
	root.PersistentFlags().StringVar(&opts.origin, "origin", "http://localhost", "host page origin the widget is embedded in")
	root.PersistentFlags().StringVar(&opts.visitor, "visitor", "widgetctl", "visitor id the widget state is kept under")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "print widget logs")

	root.AddCommand(newChatCmd(opts), newSessionCmd(opts), newResetCmd(opts))

	return root
}

// env собирает зависимости виджета так же, как сервер, но для одного origin
type env struct {
	log      *slog.Logger
	cfg      *config.Config
	store    widget.Store
	registry *widget.Registry
}

func (o *rootOptions) open(cmd *cobra.Command) (*env, error) {
	_ = godotenv.Load()

	path := o.configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		return nil, fmt.Errorf("config path is empty: use --config or CONFIG_PATH")
	}

	cfg, err := config.LoadByPath(path)
	if err != nil {
		return nil, err
	}

	log := slogdiscard.NewDiscardLogger()
	if o.verbose {
		log = slog.New(slogpretty.PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug},
		}.NewPrettyHandler(cmd.ErrOrStderr()))
	}

	store, err := widget.OpenStore(cmd.Context(), log, cfg.STORAGE)
	if err != nil {
		return nil, err
	}

	catalog, err := shops.Load(cmd.Context(), log, cfg.SHOPS.Source, cfg.SHOPS.Timeout)
	if err != nil {
		log.Warn("shops catalog unavailable", slog.String("error", err.Error()))
		catalog = shops.Empty()
	}

	return &env{
		log:      log,
		cfg:      cfg,
		store:    store,
		registry: widget.NewRegistry(log, cfg, store, catalog),
	}, nil
}

func (o *rootOptions) key() widget.Key {
	return widget.Key{Origin: o.origin, Visitor: o.visitor}
}

func (e *env) Close() {
	e.registry.Close()
	_ = e.store.Close()
}
