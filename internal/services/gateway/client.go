package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"

	"ChatWidget/internal/domain"
	"ChatWidget/internal/lib/logger/sl"
	"ChatWidget/internal/services/normalizer"
)

type Config struct {
	BaseURL             string
	InitPath            string
	ChatPath            string
	FeedbackPath        string
	MessageFeedbackPath string
	ContactPath         string
	ErrorReportPath     string
	Timeout             time.Duration
	ReportTimeout       time.Duration

	WidgetID   string
	AgentID    string
	ClientURL  string
	IsInternal bool
}

// Sessions is the part of session.Manager the gateway drives.
type Sessions interface {
	EnsureSessionID(ctx context.Context) string
	IsInitialized() bool
	IsCookieValid(ctx context.Context) bool
	BeginCookieInit()
	FailCookieInit()
	MarkCookieInitialized(ctx context.Context) error
	InvalidateCookie(ctx context.Context) error
}

type Client struct {
	log      *slog.Logger
	cfg      Config
	http     *http.Client
	sessions Sessions

	// параллельные вызовы делят одну инициализацию cookie
	init singleflight.Group

	newID func() string
	now   func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(log *slog.Logger, cfg Config, sessions Sessions, opts ...Option) (*Client, error) {
	const op = "gateway.New"

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 2 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		log:      log,
		cfg:      cfg,
		http:     &http.Client{Jar: jar},
		sessions: sessions,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		c.http.Jar = jar
	}

	return c, nil
}

type result struct {
	body []byte
	err  error
}

// Request races the call against timeout. A response that arrives after the
// timer fired lands in the buffered channel and is never read.
func (c *Client) Request(ctx context.Context, method, endpoint string, payload any, timeout time.Duration) ([]byte, error) {
	const op = "gateway.Request"

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.cfg.BaseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	ch := make(chan result, 1)
	go func() {
		b, err := c.do(req)
		ch <- result{body: b, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%s %s: %w", op, endpoint, r.err)
		}
		return r.body, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s %s after %s: %w", op, endpoint, timeout, ErrTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s %s: %w", op, endpoint, ctx.Err())
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if cerr := req.Context().Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: trimLong(string(b))}
	}

	return b, nil
}

// EnsureSession makes sure the auth cookie was initialized during this process.
// force skips the memoized state, it is used after a 403.
func (c *Client) EnsureSession(ctx context.Context, force bool) bool {
	const op = "gateway.EnsureSession"

	if !force && c.sessions.IsInitialized() && c.sessions.IsCookieValid(ctx) {
		return true
	}

	// init общий для всех ждущих, отмена одного из них его не прерывает
	initCtx := context.WithoutCancel(ctx)

	ch := c.init.DoChan("init", func() (any, error) {
		c.sessions.BeginCookieInit()

		if _, err := c.Request(initCtx, http.MethodGet, c.cfg.InitPath, nil, c.cfg.Timeout); err != nil {
			c.sessions.FailCookieInit()
			return false, err
		}

		if err := c.sessions.MarkCookieInitialized(initCtx); err != nil {
			c.log.Warn("failed to persist cookie timestamp", slog.String("op", op), sl.Err(err))
		}
		return true, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return false
	}
	if res.Err != nil {
		c.log.Warn("session init failed", slog.String("op", op), sl.Err(res.Err))
		return false
	}

	ok, _ := res.Val.(bool)
	return ok
}

// withSession runs call against an initialized cookie and retries exactly once
// after a 403.
func (c *Client) withSession(ctx context.Context, call func() ([]byte, error)) ([]byte, error) {
	c.EnsureSession(ctx, false)

	body, err := call()
	if !IsStatus(err, http.StatusForbidden) {
		return body, err
	}

	c.log.Info("auth cookie rejected, re-initializing")

	if ierr := c.sessions.InvalidateCookie(ctx); ierr != nil {
		c.log.Warn("failed to clear cookie timestamp", sl.Err(ierr))
	}
	c.EnsureSession(ctx, true)

	body, err = call()
	if IsStatus(err, http.StatusForbidden) {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return body, err
}

func (c *Client) SendConversationMessage(ctx context.Context, text string) (domain.NormalizedReply, error) {
	const op = "gateway.SendConversationMessage"

	payload := domain.ChatRequest{
		UserMessage:   text,
		SessionID:     c.sessions.EnsureSessionID(ctx),
		CorrelationID: c.newID(),
		ClientURL:     c.cfg.ClientURL,
		WidgetID:      c.cfg.WidgetID,
		AgentID:       c.cfg.AgentID,
		IsInternal:    c.cfg.IsInternal,
	}

	c.log.Debug("-> message",
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("text", trimLong(text)),
	)

	body, err := c.withSession(ctx, func() ([]byte, error) {
		return c.Request(ctx, http.MethodPost, c.cfg.ChatPath, payload, c.cfg.Timeout)
	})
	if err != nil {
		return domain.NormalizedReply{}, fmt.Errorf("%s: %w", op, err)
	}

	reply, perr := normalizer.Parse(body)
	if perr != nil {
		c.log.Warn("unexpected reply from backend", slog.String("body", trimLong(string(body))), sl.Err(perr))
	}

	c.log.Debug("<- reply",
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("kind", string(reply.Kind)),
		slog.Int("segments", len(reply.TextSegments)),
	)

	return reply, nil
}

// SubmitFeedback never blocks the UI on failure, the outcome is only logged.
func (c *Client) SubmitFeedback(ctx context.Context, rec domain.FeedbackRecord) bool {
	const op = "gateway.SubmitFeedback"

	rec.SessionID = c.sessions.EnsureSessionID(ctx)
	rec.AgentID = c.cfg.AgentID
	rec.WidgetID = c.cfg.WidgetID
	rec.Timestamp = domain.Timestamp(c.now())
	if rec.Options == nil {
		rec.Options = []string{}
	}

	_, err := c.withSession(ctx, func() ([]byte, error) {
		return c.Request(ctx, http.MethodPost, c.cfg.FeedbackPath, rec, c.cfg.Timeout)
	})
	if err != nil {
		c.log.Warn("feedback not delivered", slog.String("op", op), sl.Err(err))
		return false
	}

	return true
}

// SubmitMessageFeedback sends a rating or, with a non-rating kind, a plain comment.
func (c *Client) SubmitMessageFeedback(ctx context.Context, messageID string, kind domain.FeedbackKind, comment, messageText string) bool {
	const op = "gateway.SubmitMessageFeedback"

	rec := domain.MessageFeedbackRecord{
		SessionID:   c.sessions.EnsureSessionID(ctx),
		MessageID:   messageID,
		Comment:     comment,
		MessageText: messageText,
		AgentID:     c.cfg.AgentID,
		WidgetID:    c.cfg.WidgetID,
		Timestamp:   domain.Timestamp(c.now()),
	}
	if kind.IsRating() {
		k := kind
		rec.FeedbackType = &k
	}

	_, err := c.withSession(ctx, func() ([]byte, error) {
		return c.Request(ctx, http.MethodPost, c.cfg.MessageFeedbackPath, rec, c.cfg.Timeout)
	})
	if err != nil {
		c.log.Warn("message feedback not delivered",
			slog.String("op", op),
			slog.String("message_id", messageID),
			sl.Err(err),
		)
		return false
	}

	return true
}

// SubmitContactForm surfaces failures, the form has to show them.
func (c *Client) SubmitContactForm(ctx context.Context, form map[string]string) (domain.ContactFormResult, error) {
	const op = "gateway.SubmitContactForm"

	msg, err := json.Marshal(form)
	if err != nil {
		return domain.ContactFormResult{Error: err.Error()}, fmt.Errorf("%s: %w", op, err)
	}

	req := domain.ContactFormRequest{
		Type:      normalizer.TypeSimpleMessage,
		Message:   string(msg),
		FormData:  form,
		SessionID: c.sessions.EnsureSessionID(ctx),
		WidgetID:  c.cfg.WidgetID,
		AgentID:   c.cfg.AgentID,
		Timestamp: domain.Timestamp(c.now()),
	}

	body, err := c.withSession(ctx, func() ([]byte, error) {
		return c.Request(ctx, http.MethodPost, c.cfg.ContactPath, req, c.cfg.Timeout)
	})
	if err != nil {
		return domain.ContactFormResult{Error: err.Error()}, fmt.Errorf("%s: %w", op, err)
	}

	res := domain.ContactFormResult{Success: true}
	if len(bytes.TrimSpace(body)) > 0 {
		var data map[string]any
		if err := json.Unmarshal(body, &data); err == nil {
			res.Data = data
		}
	}

	return res, nil
}

// ReportError is fire-and-forget diagnostics, its own failure is dropped.
func (c *Client) ReportError(ctx context.Context, class ErrorClass, userMessage, sessionID string) {
	rep := domain.ErrorReport{
		Class:       string(class),
		UserMessage: userMessage,
		SessionID:   sessionID,
		WidgetID:    c.cfg.WidgetID,
		Timestamp:   domain.Timestamp(c.now()),
	}

	if _, err := c.Request(ctx, http.MethodPost, c.cfg.ErrorReportPath, rep, c.cfg.ReportTimeout); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug("error report dropped", sl.Err(err))
	}
}

func trimLong(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "...(truncated)"
}
