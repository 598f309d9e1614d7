// Package conversation holds the ConversationState of one widget and saves it
// to the store at fixed points: append, has-answer, collapsed and reset.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"ChatWidget/internal/domain"
	"ChatWidget/internal/lib/logger/sl"
	"ChatWidget/internal/storage"
)

var (
	ErrAlreadyRated   = errors.New("message already rated")
	ErrUnknownMessage = errors.New("unknown message")
	ErrNotRating      = errors.New("feedback kind is not a rating")
)

// Sessions is the part of session.Manager the store needs.
type Sessions interface {
	GetOrCreateUserID(ctx context.Context) string
	SessionID(ctx context.Context) (string, bool)
	Metadata(ctx context.Context) domain.SessionMetadata
	Reset(ctx context.Context) error
}

// Initializer re-establishes the backend cookie right after a reset.
type Initializer interface {
	EnsureSession(ctx context.Context, force bool) bool
}

type Meta struct {
	IsHTML  bool
	IsError bool
}

type Store struct {
	log      *slog.Logger
	kv       storage.KV
	sessions Sessions
	init     Initializer
	now      func() time.Time
	newID    func() string

	mu    sync.Mutex
	state domain.ConversationState
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithInitializer(init Initializer) Option {
	return func(s *Store) { s.init = init }
}

func New(log *slog.Logger, kv storage.KV, sessions Sessions, opts ...Option) *Store {
	s := &Store{
		log:      log,
		kv:       kv,
		sessions: sessions,
		now:      time.Now,
		newID:    uuid.NewString,
		state:    emptyState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func emptyState() domain.ConversationState {
	return domain.ConversationState{
		Messages:        []domain.Message{},
		CurrentScreen:   domain.ScreenWelcome,
		MessageFeedback: map[string]domain.MessageFeedback{},
	}
}

// Load rehydrates the state from the store. hasAnswer is recomputed from the
// message log, the persisted flag can only add to it. Error notices are not answers.
func (s *Store) Load(ctx context.Context) error {
	const op = "conversation.Load"

	msgs, err := s.readMessages(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	hasAnswer := s.readBool(ctx, storage.KeyHasAnswer)
	for _, m := range msgs {
		if !m.IsUser && !m.IsError {
			hasAnswer = true
			break
		}
	}

	collapsed := s.readBool(ctx, storage.KeyCollapsed)
	feedback := s.readFeedback(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Messages = msgs
	s.state.MessageFeedback = feedback
	s.state.HasAnswer = hasAnswer
	s.state.Collapsed = collapsed

	s.log.Debug("conversation restored",
		slog.Int("messages", len(msgs)),
		slog.Bool("has_answer", hasAnswer),
	)

	return nil
}

func (s *Store) readMessages(ctx context.Context) ([]domain.Message, error) {
	raw, ok, err := s.kv.Get(ctx, storage.KeyMessages)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []domain.Message{}, nil
	}

	var msgs []domain.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		// битый лог не должен ломать виджет
		s.log.Warn("dropping unreadable message log", sl.Err(err))
		return []domain.Message{}, nil
	}
	return msgs, nil
}

func (s *Store) readBool(ctx context.Context, key string) bool {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	v, _ := strconv.ParseBool(raw)
	return v
}

// AppendMessage assigns id and timestamp and persists the whole sequence.
func (s *Store) AppendMessage(ctx context.Context, text string, isUser bool, meta Meta) (domain.Message, error) {
	const op = "conversation.AppendMessage"

	msg := domain.Message{
		ID:        s.newID(),
		Text:      text,
		IsUser:    isUser,
		Timestamp: domain.Timestamp(s.now()),
		IsHTML:    meta.IsHTML,
		IsError:   meta.IsError,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Messages = append(s.state.Messages, msg)

	raw, err := json.Marshal(s.state.Messages)
	if err != nil {
		return msg, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.kv.Set(ctx, storage.KeyMessages, string(raw)); err != nil {
		return msg, fmt.Errorf("%s: %w", op, err)
	}

	return msg, nil
}

func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Message, len(s.state.Messages))
	copy(out, s.state.Messages)
	return out
}

func (s *Store) Message(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.state.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Message{}, false
}

func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	s.state.IsLoading = v
	s.mu.Unlock()
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsLoading
}

// BeginLoading sets the loading flag unless it is already set.
// false means another send is in flight.
func (s *Store) BeginLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsLoading {
		return false
	}
	s.state.IsLoading = true
	return true
}

func (s *Store) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.state.LastError = err.Error()
	s.mu.Unlock()
}

func (s *Store) ClearError() {
	s.mu.Lock()
	s.state.LastError = ""
	s.mu.Unlock()
}

func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastError
}

func (s *Store) IncrementRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RetryCount++
	return s.state.RetryCount
}

func (s *Store) ResetRetry() {
	s.mu.Lock()
	s.state.RetryCount = 0
	s.mu.Unlock()
}

func (s *Store) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RetryCount
}

// SetLastUserMessage keeps the text that retry resends.
func (s *Store) SetLastUserMessage(text string) {
	s.mu.Lock()
	s.state.LastUserMessage = text
	s.mu.Unlock()
}

func (s *Store) LastUserMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastUserMessage
}

// SetMessageFeedback records a rating. A message is rated at most once.
func (s *Store) SetMessageFeedback(ctx context.Context, id string, kind domain.FeedbackKind, comment string) error {
	if !kind.IsRating() {
		return ErrNotRating
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasMessage(id) {
		return ErrUnknownMessage
	}
	if fb, ok := s.state.MessageFeedback[id]; ok && fb.Kind.IsRating() {
		return ErrAlreadyRated
	}

	s.state.MessageFeedback[id] = domain.MessageFeedback{
		Kind:        kind,
		Comment:     comment,
		SubmittedAt: s.now(),
	}
	return s.saveFeedback(ctx)
}

// AddMessageComment attaches a comment and keeps an existing rating.
func (s *Store) AddMessageComment(ctx context.Context, id, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasMessage(id) {
		return ErrUnknownMessage
	}

	fb, ok := s.state.MessageFeedback[id]
	if !ok {
		fb.Kind = domain.FeedbackCommentOnly
	}
	fb.Comment = comment
	fb.SubmittedAt = s.now()
	s.state.MessageFeedback[id] = fb

	return s.saveFeedback(ctx)
}

// saveFeedback пишет всю карту оценок, вызывать под s.mu.
func (s *Store) saveFeedback(ctx context.Context) error {
	const op = "conversation.saveFeedback"

	raw, err := json.Marshal(s.state.MessageFeedback)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.kv.Set(ctx, storage.KeyMessageFeedback, string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) readFeedback(ctx context.Context) map[string]domain.MessageFeedback {
	out := map[string]domain.MessageFeedback{}

	raw, ok, err := s.kv.Get(ctx, storage.KeyMessageFeedback)
	if err != nil || !ok || raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.log.Warn("dropping unreadable message feedback", sl.Err(err))
		return map[string]domain.MessageFeedback{}
	}
	return out
}

// HasMessageFeedback reports whether the message already carries a rating.
func (s *Store) HasMessageFeedback(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fb, ok := s.state.MessageFeedback[id]
	return ok && fb.Kind.IsRating()
}

func (s *Store) MessageFeedback(id string) (domain.MessageFeedback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fb, ok := s.state.MessageFeedback[id]
	return fb, ok
}

func (s *Store) hasMessage(id string) bool {
	for _, m := range s.state.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// SetHasAnswer is monotonic by convention, callers only ever pass true
// between resets.
func (s *Store) SetHasAnswer(ctx context.Context, v bool) {
	s.mu.Lock()
	s.state.HasAnswer = v
	s.mu.Unlock()

	if err := s.kv.Set(ctx, storage.KeyHasAnswer, strconv.FormatBool(v)); err != nil {
		s.log.Warn("failed to persist has-answer flag", sl.Err(err))
	}
}

func (s *Store) HasAnswer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.HasAnswer
}

func (s *Store) SetCollapsed(ctx context.Context, v bool) {
	s.mu.Lock()
	s.state.Collapsed = v
	s.mu.Unlock()

	if err := s.kv.Set(ctx, storage.KeyCollapsed, strconv.FormatBool(v)); err != nil {
		s.log.Warn("failed to persist collapsed flag", sl.Err(err))
	}
}

func (s *Store) IsCollapsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Collapsed
}

func (s *Store) SetSelectedCategory(c string) {
	s.mu.Lock()
	s.state.SelectedCategory = c
	s.mu.Unlock()
}

func (s *Store) SetScreen(screen domain.Screen) {
	s.mu.Lock()
	s.state.CurrentScreen = screen
	s.mu.Unlock()
}

func (s *Store) Screen() domain.Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentScreen
}

// Snapshot is a deep copy with identity and session metadata filled in.
func (s *Store) Snapshot(ctx context.Context) domain.ConversationState {
	userID := s.sessions.GetOrCreateUserID(ctx)
	sessionID, _ := s.sessions.SessionID(ctx)
	meta := s.sessions.Metadata(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.state
	out.Identity = domain.Identity{UserID: userID, SessionID: sessionID}
	out.SessionMetadata = meta
	out.Messages = make([]domain.Message, len(s.state.Messages))
	copy(out.Messages, s.state.Messages)
	out.MessageFeedback = make(map[string]domain.MessageFeedback, len(s.state.MessageFeedback))
	for k, v := range s.state.MessageFeedback {
		out.MessageFeedback[k] = v
	}

	return out
}

// Reset ends the conversation. The user id and the collapsed flag survive.
// With reinitialize the backend cookie is requested right away so the next
// send does not pay for it.
func (s *Store) Reset(ctx context.Context, reinitialize bool) error {
	const op = "conversation.Reset"

	if err := s.sessions.Reset(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	collapsed := s.state.Collapsed
	s.state = emptyState()
	s.state.Collapsed = collapsed
	s.mu.Unlock()

	s.log.Info("conversation reset", slog.Bool("reinitialize", reinitialize))

	if reinitialize && s.init != nil {
		s.init.EnsureSession(ctx, true)
	}

	return nil
}
