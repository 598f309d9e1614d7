// Package session owns the widget identity, the conversation session window
// and the in-memory state of the backend authentication cookie.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"ChatWidget/internal/domain"
	"ChatWidget/internal/lib/logger/sl"
	"ChatWidget/internal/storage"
)

// CookieState tracks the backend authentication cookie for the current process.
// It is distinct from the conversation session.
type CookieState int

const (
	CookieUninitialized CookieState = iota
	CookieInitializing
	CookieValid
)

func (s CookieState) String() string {
	switch s {
	case CookieInitializing:
		return "initializing"
	case CookieValid:
		return "valid"
	default:
		return "uninitialized"
	}
}

type Config struct {
	// Timeout bounds the total session length measured from its start.
	// Zero means the session only ends on an explicit reset.
	Timeout time.Duration
	// CookieMaxAge is kept below the lifetime the backend really honors.
	CookieMaxAge time.Duration
}

type Manager struct {
	log *slog.Logger
	kv  storage.KV
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	cookie   CookieState
	fallback string // user id when the store is unavailable
}

type Option func(*Manager)

// WithClock replaces time.Now, tests drive expiry with a logical clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(log *slog.Logger, kv storage.KV, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		log: log,
		kv:  kv,
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Now() time.Time {
	return m.now()
}

// GetOrCreateUserID never fails: if the store is broken the id lives in memory.
func (m *Manager) GetOrCreateUserID(ctx context.Context) string {
	const op = "session.GetOrCreateUserID"

	id, ok, err := m.kv.Get(ctx, storage.KeyUserID)
	if err == nil && ok && id != "" {
		return id
	}
	if err != nil {
		m.log.Warn("failed to read user id", slog.String("op", op), sl.Err(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fallback == "" {
		m.fallback = uuid.NewString()
	}
	if err := m.kv.Set(ctx, storage.KeyUserID, m.fallback); err != nil {
		m.log.Warn("failed to persist user id", slog.String("op", op), sl.Err(err))
	}

	return m.fallback
}

func (m *Manager) SessionID(ctx context.Context) (string, bool) {
	id, ok, err := m.kv.Get(ctx, storage.KeySessionID)
	if err != nil {
		m.log.Warn("failed to read session id", sl.Err(err))
		return "", false
	}
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// SetSessionID stores id and stamps the session start only when id is new.
func (m *Manager) SetSessionID(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	prev, _ := m.SessionID(ctx)
	if prev == id {
		return nil
	}

	if err := m.kv.Set(ctx, storage.KeySessionID, id); err != nil {
		return err
	}

	m.log.Debug("new session id", slog.String("session_id", id))

	return m.setTime(ctx, storage.KeySessionStartTime, m.now())
}

// EnsureSessionID returns the current session id, starting a new session if
// there is none.
func (m *Manager) EnsureSessionID(ctx context.Context) string {
	if id, ok := m.SessionID(ctx); ok {
		return id
	}

	id := uuid.NewString()
	if err := m.SetSessionID(ctx, id); err != nil {
		m.log.Warn("failed to persist session id", sl.Err(err))
	}
	return id
}

func (m *Manager) SessionStartTime(ctx context.Context) (time.Time, bool) {
	return m.getTime(ctx, storage.KeySessionStartTime)
}

// IsSessionExpired measures from session start, not from last activity.
func (m *Manager) IsSessionExpired(ctx context.Context) bool {
	if m.cfg.Timeout <= 0 {
		return false
	}

	start, ok := m.SessionStartTime(ctx)
	if !ok {
		return false
	}

	return m.now().Sub(start) > m.cfg.Timeout
}

// HasUsableSession clears an expired session as a side effect.
func (m *Manager) HasUsableSession(ctx context.Context) bool {
	if _, ok := m.SessionID(ctx); !ok {
		return false
	}

	if m.IsSessionExpired(ctx) {
		m.log.Info("session expired, clearing")
		if err := m.Reset(ctx); err != nil {
			m.log.Warn("failed to clear expired session", sl.Err(err))
		}
		return false
	}

	return m.persistedMessageCount(ctx) > 0
}

func (m *Manager) persistedMessageCount(ctx context.Context) int {
	raw, ok, err := m.kv.Get(ctx, storage.KeyMessages)
	if err != nil || !ok || raw == "" {
		return 0
	}

	var msgs []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return 0
	}
	return len(msgs)
}

func (m *Manager) IsCookieValid(ctx context.Context) bool {
	at, ok := m.getTime(ctx, storage.KeyCookieInitTime)
	if !ok {
		return false
	}
	return m.now().Sub(at) < m.cfg.CookieMaxAge
}

func (m *Manager) CookieState() CookieState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cookie
}

// IsInitialized reports whether the cookie was initialized during this process.
func (m *Manager) IsInitialized() bool {
	return m.CookieState() == CookieValid
}

func (m *Manager) BeginCookieInit() {
	m.mu.Lock()
	m.cookie = CookieInitializing
	m.mu.Unlock()
}

// FailCookieInit returns an interrupted initialization to the start state.
func (m *Manager) FailCookieInit() {
	m.mu.Lock()
	if m.cookie == CookieInitializing {
		m.cookie = CookieUninitialized
	}
	m.mu.Unlock()
}

// MarkCookieInitialized is called only after a successful init call.
func (m *Manager) MarkCookieInitialized(ctx context.Context) error {
	m.mu.Lock()
	m.cookie = CookieValid
	m.mu.Unlock()

	return m.setTime(ctx, storage.KeyCookieInitTime, m.now())
}

func (m *Manager) ClearCookieTimestamp(ctx context.Context) error {
	return m.kv.Delete(ctx, storage.KeyCookieInitTime)
}

// InvalidateCookie handles a 403: the cookie is gone until the next init.
func (m *Manager) InvalidateCookie(ctx context.Context) error {
	m.mu.Lock()
	m.cookie = CookieUninitialized
	m.mu.Unlock()

	return m.ClearCookieTimestamp(ctx)
}

func (m *Manager) Metadata(ctx context.Context) domain.SessionMetadata {
	start, _ := m.getTime(ctx, storage.KeySessionStartTime)
	cookie, _ := m.getTime(ctx, storage.KeyCookieInitTime)
	return domain.SessionMetadata{
		SessionStartTime:           start,
		CookieInitTime:             cookie,
		SessionInitializedInMemory: m.IsInitialized(),
	}
}

// Reset clears everything that belongs to the conversation. The user id survives.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.cookie = CookieUninitialized
	m.mu.Unlock()

	for _, key := range []string{
		storage.KeySessionID,
		storage.KeyMessages,
		storage.KeySessionStartTime,
		storage.KeyCookieInitTime,
		storage.KeyHasAnswer,
		storage.KeyMessageFeedback,
	} {
		if err := m.kv.Delete(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) setTime(ctx context.Context, key string, t time.Time) error {
	return m.kv.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10))
}

func (m *Manager) getTime(ctx context.Context, key string) (time.Time, bool) {
	raw, ok, err := m.kv.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	return time.UnixMilli(ms), true
}
