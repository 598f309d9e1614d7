package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrEmptyKey = errors.New("empty key")
	ErrClosed   = errors.New("storage closed")
)

// ключи, которые виджет хранит между перезагрузками
const (
	KeyUserID           = "chatbot_user_id"
	KeySessionID        = "chatbot_session_id"
	KeyMessages         = "chatbot_messages"
	KeyCollapsed        = "chatbot_collapsed"
	KeyCookieInitTime   = "chatbot_cookie_init_time"
	KeySessionStartTime = "chatbot_session_start_time"
	KeyHasAnswer        = "chatbot_has_answer"
	KeyMessageFeedback  = "chatbot_message_feedback"
)

// KV - синхронное key-value хранилище, единственный источник правды после перезагрузки
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type scoped struct {
	kv     KV
	prefix string
}

// Scope returns a view of kv whose keys live under origin, the way browser
// storage is partitioned per page origin.
func Scope(kv KV, origin string) KV {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return kv
	}
	return &scoped{kv: kv, prefix: origin + "|"}
}

func (s *scoped) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	return s.kv.Get(ctx, s.prefix+key)
}

func (s *scoped) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.kv.Set(ctx, s.prefix+key, value)
}

func (s *scoped) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.kv.Delete(ctx, s.prefix+key)
}
