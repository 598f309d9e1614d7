// Package widget builds one fully wired widget per browser of a host page.
package widget

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/exp/slog"

	"ChatWidget/internal/config"
	"ChatWidget/internal/services/conversation"
	"ChatWidget/internal/services/gateway"
	"ChatWidget/internal/services/pipeline"
	"ChatWidget/internal/services/screen"
	"ChatWidget/internal/services/sequencer"
	"ChatWidget/internal/services/session"
	"ChatWidget/internal/storage"
)

type Widget struct {
	Key      Key
	Sessions *session.Manager
	Gateway  *gateway.Client
	Store    *conversation.Store
	Screens  *screen.Controller
	Pipeline *pipeline.Pipeline
}

type Registry struct {
	log   *slog.Logger
	cfg   *config.Config
	kv    storage.KV
	shops sequencer.Shops
	opts  []pipeline.Option

	mu      sync.Mutex
	widgets map[Key]*Widget
}

func NewRegistry(log *slog.Logger, cfg *config.Config, kv storage.KV, shops sequencer.Shops, opts ...pipeline.Option) *Registry {
	return &Registry{
		log:     log,
		cfg:     cfg,
		kv:      kv,
		shops:   shops,
		opts:    opts,
		widgets: make(map[Key]*Widget),
	}
}

// Widget returns the widget of key, building and restoring it on first use.
func (r *Registry) Widget(ctx context.Context, key Key) (*Widget, error) {
	if key.Visitor == "" {
		return nil, ErrNoVisitor
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.widgets[key]; ok {
		return w, nil
	}

	w, err := r.build(ctx, key)
	if err != nil {
		return nil, err
	}
	r.widgets[key] = w

	return w, nil
}

func (r *Registry) Pipeline(ctx context.Context, key Key) (*pipeline.Pipeline, error) {
	w, err := r.Widget(ctx, key)
	if err != nil {
		return nil, err
	}
	return w.Pipeline, nil
}

func (r *Registry) build(ctx context.Context, key Key) (*Widget, error) {
	const op = "widget.build"

	log := r.log.With(slog.String("origin", key.Origin), slog.String("visitor", key.Visitor))
	// как localStorage: сначала страница, внутри неё конкретный браузер
	kv := storage.Scope(storage.Scope(r.kv, key.Origin), key.Visitor)

	sessions := session.New(log, kv, session.Config{
		Timeout:      r.cfg.SESSION.Timeout,
		CookieMaxAge: r.cfg.SESSION.CookieMaxAge,
	})

	b, wcfg := r.cfg.BACKEND, r.cfg.WIDGET
	gw, err := gateway.New(log, gateway.Config{
		BaseURL:             b.BaseURL,
		InitPath:            b.InitPath,
		ChatPath:            b.ChatPath,
		FeedbackPath:        b.FeedbackPath,
		MessageFeedbackPath: b.MessageFbPath,
		ContactPath:         b.ContactPath,
		ErrorReportPath:     b.ErrorReportPath,
		Timeout:             b.Timeout,
		ReportTimeout:       b.ReportTimeout,
		WidgetID:            wcfg.WidgetID,
		AgentID:             wcfg.AgentID,
		ClientURL:           clientURL(wcfg.ClientURL, key.Origin),
		IsInternal:          wcfg.IsInternal,
	}, sessions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	store := conversation.New(log, kv, sessions, conversation.WithInitializer(gw))
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	screens := screen.New(sessions, r.cfg.SEQUENCER.ThankYouDelay)

	seq, msgs := r.cfg.SEQUENCER, r.cfg.MESSAGES
	p := pipeline.New(log, pipeline.Config{
		Messages: pipeline.Messages{
			Welcome:            wcfg.WelcomeMessage,
			DefaultSuggestions: wcfg.DefaultSuggestions,
			Timeout:            msgs.Timeout,
			NoAnswer:           msgs.NoAnswer,
			Unreachable:        msgs.Unreachable,
			Unknown:            msgs.Unknown,
			Fallback:           msgs.Fallback,
		},
		Policy: sequencer.Policy{
			BaseDelay:        seq.BaseDelay,
			ShopDelay:        seq.ShopDelay,
			AllShopsMapDelay: seq.AllShopsMapDelay,
			VideoDelay:       seq.VideoDelay,
			SuggestionsLead:  seq.SuggestionsLead,
		},
	}, pipeline.Deps{
		Gateway:  gw,
		Sessions: sessions,
		Store:    store,
		Screens:  screens,
		Shops:    r.shops,
	}, r.opts...)

	userID := sessions.GetOrCreateUserID(ctx)
	log.Info("widget ready",
		slog.String("user_id", userID),
		slog.Int("restored_messages", len(store.Messages())),
	)

	return &Widget{
		Key:      key,
		Sessions: sessions,
		Gateway:  gw,
		Store:    store,
		Screens:  screens,
		Pipeline: p,
	}, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.widgets)
}

// Close stops every pipeline and waits for their pending reports.
func (r *Registry) Close() {
	r.mu.Lock()
	widgets := make([]*Widget, 0, len(r.widgets))
	for _, w := range r.widgets {
		widgets = append(widgets, w)
	}
	r.mu.Unlock()

	for _, w := range widgets {
		w.Pipeline.Close()
	}
}

// clientURL falls back to the host page origin when none is configured.
func clientURL(configured, origin string) string {
	if configured != "" {
		return configured
	}
	return origin
}

// OriginOf identifies the host page of a request: the Origin header, then
// the "origin" query parameter.
func OriginOf(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return normalizeOrigin(o)
	}
	return normalizeOrigin(r.URL.Query().Get("origin"))
}

func normalizeOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
