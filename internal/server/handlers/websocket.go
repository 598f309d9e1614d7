package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"

	"ChatWidget/internal/app/widget"
	"ChatWidget/internal/lib/logger/sl"
	"ChatWidget/internal/services/pipeline"
)

const (
	pongWait   = 20 * time.Second
	pingPeriod = 15 * time.Second
	writeWait  = 5 * time.Second

	// сколько инструкций может ждать медленного клиента
	outBuffer = 256
	// сколько intent-ов может ждать своей очереди
	inBuffer = 64

	visitorMaxAge = 365 * 24 * time.Hour
)

// Conversation is a widget pipeline the socket can subscribe to.
type Conversation interface {
	Pipeline
	Subscribe(fn func(pipeline.Render)) (unsubscribe func())
}

var _ Conversation = (*pipeline.Pipeline)(nil)

// Resolver returns the conversation of one browser of a host page.
type Resolver func(ctx context.Context, key widget.Key) (Conversation, error)

// Identify resolves who is calling, see widget.Identifier.
type Identify func(r *http.Request) (widget.Key, error)

// Rejected is sent back when an intent could not be applied.
type Rejected struct {
	Kind   string `json:"kind"`
	Intent string `json:"intent,omitempty"`
	Error  string `json:"error"`
}

// VisitorIssued tells a new browser which id to keep for the next visits.
type VisitorIssued struct {
	Kind      string `json:"kind"`
	VisitorID string `json:"visitorId"`
}

type WebSocketHandler struct {
	log      *slog.Logger
	resolve  Resolver
	identify Identify
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(
	log *slog.Logger,
	resolve Resolver,
	identify Identify,
	allowedOrigins []string,
) *WebSocketHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &WebSocketHandler{
		log:      log,
		resolve:  resolve,
		identify: identify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// пустой список - разрешаем всем (локальная разработка)
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	const op = "WebSocketHandler.HandleConnection"

	log := h.log.With(slog.String("op", op))

	// до сборки виджета, чтобы чужие страницы не заводили состояние
	if !h.upgrader.CheckOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	key, err := h.identify(r)
	issued := false
	switch {
	case errors.Is(err, widget.ErrNoVisitor):
		// первый визит этого браузера
		key.Visitor = uuid.NewString()
		issued = true
	case errors.Is(err, widget.ErrUnauthorized):
		log.Warn("host token rejected", sl.Err(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	case err != nil:
		log.Info("bad visitor", sl.Err(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	p, err := h.resolve(r.Context(), key)
	if err != nil {
		log.Error("failed to build widget", slog.String("widget", key.String()), sl.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var header http.Header
	if issued {
		header = http.Header{}
		c := &http.Cookie{
			Name:     widget.VisitorCookie,
			Value:    key.Visitor,
			Path:     "/",
			MaxAge:   int(visitorMaxAge.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteNoneMode,
			Secure:   r.TLS != nil,
		}
		header.Add("Set-Cookie", c.String())
	}

	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Warn("upgrade error", sl.Err(err))
		return
	}
	defer conn.Close()

	log = log.With(slog.String("origin", key.Origin), slog.String("visitor", key.Visitor))
	log.Info("client connected", slog.Bool("new_visitor", issued))

	// разговор продолжается, даже если вкладка закрылась посреди запроса
	ctx := context.WithoutCancel(r.Context())

	out := make(chan any, outBuffer)
	done := make(chan struct{})

	if issued {
		out <- VisitorIssued{Kind: "visitor", VisitorID: key.Visitor}
	}

	unsubscribe := p.Subscribe(func(rd pipeline.Render) {
		select {
		case out <- rd:
		case <-done:
		default:
			log.Warn("client too slow, render dropped", slog.String("kind", string(rd.Kind)))
		}
	})

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		h.writeLoop(conn, out, done, log)
	}()

	// intent-ы выполняются строго в порядке прихода
	in := make(chan Intent, inBuffer)
	var worker sync.WaitGroup
	worker.Add(1)
	go func() {
		defer worker.Done()
		for it := range in {
			h.handleIntent(ctx, p, it, out, done, log)
		}
	}()

	defer func() {
		unsubscribe()
		close(done)
		writer.Wait()
		// начатые intent-ы доживают без сокета
		close(in)
		worker.Wait()
		log.Info("client disconnected")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", sl.Err(err))
			}
			return
		}

		it, err := decodeIntent(message)
		if err != nil {
			log.Debug("bad intent", sl.Err(err))
			h.reject(out, done, "", err)
			continue
		}

		// чтение не ждёт send, который держит запрос до таймаута
		select {
		case in <- it:
		default:
			log.Warn("intent queue full, intent rejected", slog.String("intent", it.Type))
			h.reject(out, done, it.Type, errQueueFull)
		}
	}
}

var errQueueFull = errors.New("too many pending intents")

func (h *WebSocketHandler) handleIntent(ctx context.Context, p Pipeline, in Intent, out chan<- any, done <-chan struct{}, log *slog.Logger) {
	err := Dispatch(ctx, p, in)
	if err == nil {
		return
	}

	if in.Conversational() && !errors.Is(err, ErrUnknownIntent) {
		log.Debug("conversational call failed", slog.String("intent", in.Type), sl.Err(err))
		return
	}

	log.Info("intent rejected", slog.String("intent", in.Type), sl.Err(err))
	h.reject(out, done, in.Type, err)
}

func (h *WebSocketHandler) reject(out chan<- any, done <-chan struct{}, intent string, err error) {
	select {
	case out <- Rejected{Kind: "rejected", Intent: intent, Error: err.Error()}:
	case <-done:
	}
}

// writeLoop is the only writer of conn.
func (h *WebSocketHandler) writeLoop(conn *websocket.Conn, out <-chan any, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case v := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				log.Warn("write error, closing", sl.Err(err))
				conn.Close()
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				log.Warn("ping error, closing", sl.Err(err))
				conn.Close()
				return
			}
		}
	}
}
