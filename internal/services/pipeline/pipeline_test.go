package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatWidget/internal/domain"
	"ChatWidget/internal/lib/logger/handlers/slogdiscard"
	"ChatWidget/internal/services/conversation"
	"ChatWidget/internal/services/gateway"
	"ChatWidget/internal/services/screen"
	"ChatWidget/internal/services/sequencer"
	"ChatWidget/internal/services/session"
	"ChatWidget/internal/storage/memory"
)

var testConfig = Config{
	Messages: Messages{
		Welcome:            "Hallo!",
		DefaultSuggestions: []string{"Internet", "Mobile"},
		Timeout:            "timeout-text",
		NoAnswer:           "no-answer-text",
		Unreachable:        "unreachable-text",
		Unknown:            "unknown-text",
		Fallback:           "fallback-text",
	},
	Policy: sequencer.Policy{
		BaseDelay:       800 * time.Millisecond,
		ShopDelay:       400 * time.Millisecond,
		SuggestionsLead: 200 * time.Millisecond,
	},
}

func immediate(_ time.Duration, f func()) func() bool {
	f()
	return func() bool { return false }
}

// timerQueue holds timers until Run.
type timerQueue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *timerQueue) AfterFunc(_ time.Duration, f func()) func() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fns = append(q.fns, f)
	return func() bool { return false }
}

func (q *timerQueue) Run() {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()

	for _, f := range fns {
		f()
	}
}

type recorder struct {
	mu      sync.Mutex
	renders []Render
}

func (r *recorder) add(x Render) {
	r.mu.Lock()
	r.renders = append(r.renders, x)
	r.mu.Unlock()
}

func (r *recorder) all() []Render {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Render, len(r.renders))
	copy(out, r.renders)
	return out
}

func (r *recorder) last(kind Kind) (Render, bool) {
	all := r.all()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Kind == kind {
			return all[i], true
		}
	}
	return Render{}, false
}

func (r *recorder) suggestions() []string {
	for _, x := range r.all() {
		if x.Kind == RenderStep && x.Step.Op == sequencer.OpAppendSuggestions {
			return x.Step.Suggestions
		}
	}
	return nil
}

type fakeReply struct {
	reply domain.NormalizedReply
	err   error
}

type fakeGateway struct {
	mu       sync.Mutex
	replies  []fakeReply
	sent     []string
	reports  []gateway.ErrorClass
	feedback []domain.FeedbackRecord
	rated    []domain.FeedbackKind
	forced   int

	contactErr error

	// если задан, ответ ждёт закрытия канала
	block   chan struct{}
	started chan struct{}
}

func (g *fakeGateway) EnsureSession(_ context.Context, force bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if force {
		g.forced++
	}
	return true
}

func (g *fakeGateway) SendConversationMessage(_ context.Context, text string) (domain.NormalizedReply, error) {
	g.mu.Lock()
	g.sent = append(g.sent, text)
	block, started := g.block, g.started
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.replies) == 0 {
		return domain.NormalizedReply{}, nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.reply, r.err
}

func (g *fakeGateway) SubmitFeedback(_ context.Context, rec domain.FeedbackRecord) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.feedback = append(g.feedback, rec)
	return false
}

func (g *fakeGateway) SubmitMessageFeedback(_ context.Context, _ string, kind domain.FeedbackKind, _, _ string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rated = append(g.rated, kind)
	return true
}

func (g *fakeGateway) SubmitContactForm(_ context.Context, _ map[string]string) (domain.ContactFormResult, error) {
	if g.contactErr != nil {
		return domain.ContactFormResult{Error: g.contactErr.Error()}, g.contactErr
	}
	return domain.ContactFormResult{Success: true}, nil
}

func (g *fakeGateway) ReportError(_ context.Context, class gateway.ErrorClass, _, _ string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reports = append(g.reports, class)
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock    *fakeClock
	p        *Pipeline
	store    *conversation.Store
	sessions *session.Manager
	screens  *screen.Controller
	rec      *recorder
}

func newHarness(t *testing.T, gw Gateway, opts ...Option) *harness {
	t.Helper()

	log := slogdiscard.NewDiscardLogger()
	kv := memory.New()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	sessions := session.New(log, kv, session.Config{Timeout: time.Hour, CookieMaxAge: time.Hour}, session.WithClock(clock.Now))
	store := conversation.New(log, kv, sessions, conversation.WithInitializer(gw))
	screens := screen.New(sessions, time.Second)

	p := New(log, testConfig, Deps{
		Gateway:  gw,
		Sessions: sessions,
		Store:    store,
		Screens:  screens,
	}, append([]Option{WithAfterFunc(immediate)}, opts...)...)

	rec := &recorder{}
	p.Subscribe(rec.add)
	t.Cleanup(p.Close)

	return &harness{clock: clock, p: p, store: store, sessions: sessions, screens: screens, rec: rec}
}

func textReply(text string, suggestions ...string) fakeReply {
	return fakeReply{reply: domain.NormalizedReply{
		Kind:         domain.ReplyText,
		TextSegments: []domain.TextSegment{{Content: text, IsHTML: true}},
		Suggestions:  suggestions,
	}}
}

func TestSend_InternetEndToEnd(t *testing.T) {
	var inits, chats atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		inits.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "auth", Value: "ok", Path: "/"})
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		chats.Add(1)
		if _, err := r.Cookie("auth"); err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var req domain.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Internet", req.UserMessage)
		_, _ = w.Write([]byte(`{"replies":["Hier sind Infos zu Internet"],"suggestions":["Mobile","TV"]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	log := slogdiscard.NewDiscardLogger()
	kv := memory.New()
	sessions := session.New(log, kv, session.Config{Timeout: time.Hour, CookieMaxAge: 20 * time.Hour})
	gw, err := gateway.New(log, gateway.Config{
		BaseURL:  srv.URL,
		InitPath: "/init",
		ChatPath: "/chat",
		Timeout:  time.Second,
	}, sessions)
	require.NoError(t, err)

	store := conversation.New(log, kv, sessions, conversation.WithInitializer(gw))
	p := New(log, testConfig, Deps{
		Gateway:  gw,
		Sessions: sessions,
		Store:    store,
		Screens:  screen.New(sessions, time.Second),
	}, WithAfterFunc(immediate))
	defer p.Close()

	rec := &recorder{}
	p.Subscribe(rec.add)

	require.NoError(t, p.Send(context.Background(), "Internet"))

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsUser)
	assert.Equal(t, "Internet", msgs[0].Text)
	assert.False(t, msgs[1].IsUser)
	assert.Equal(t, "Hier sind Infos zu Internet", msgs[1].Text)

	assert.True(t, store.HasAnswer())
	assert.Equal(t, []string{"Mobile", "TV"}, rec.suggestions())
	assert.EqualValues(t, 1, inits.Load())
	assert.EqualValues(t, 1, chats.Load())
	assert.False(t, store.IsLoading())
	assert.Equal(t, domain.ScreenChat, store.Screen())
}

func TestSend_TimeoutThenLateResponseIgnored(t *testing.T) {
	release := make(chan struct{})
	answered := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"type":"simpleMessage","message":"too late"}`))
		close(answered)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	log := slogdiscard.NewDiscardLogger()
	kv := memory.New()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	sessions := session.New(log, kv, session.Config{Timeout: time.Hour, CookieMaxAge: time.Hour}, session.WithClock(clock.Now))
	gw, err := gateway.New(log, gateway.Config{
		BaseURL:  srv.URL,
		InitPath: "/init",
		ChatPath: "/chat",
		Timeout:  50 * time.Millisecond,
	}, sessions)
	require.NoError(t, err)

	store := conversation.New(log, kv, sessions)
	p := New(log, testConfig, Deps{
		Gateway:  gw,
		Sessions: sessions,
		Store:    store,
		Screens:  screen.New(sessions, time.Second),
	}, WithAfterFunc(immediate))
	defer p.Close()

	err = p.Send(context.Background(), "hallo")
	require.ErrorIs(t, err, gateway.ErrTimeout)

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "timeout-text", msgs[1].Text)
	assert.True(t, msgs[1].IsError)

	close(release)
	select {
	case <-answered:
	case <-time.After(time.Second):
	}
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, store.Messages(), 2)
	assert.False(t, store.HasAnswer())
}

func TestSend_ErrorClasses(t *testing.T) {
	cases := []struct {
		err   error
		class gateway.ErrorClass
		text  string
	}{
		{gateway.ErrTimeout, gateway.ClassTimeout, "timeout-text"},
		{&gateway.HTTPError{Status: http.StatusNotFound}, gateway.ClassNoAnswer, "no-answer-text"},
		{gateway.ErrNetwork, gateway.ClassUnreachable, "unreachable-text"},
		{&gateway.HTTPError{Status: http.StatusServiceUnavailable}, gateway.ClassUnreachable, "unreachable-text"},
		{gateway.ErrSessionExpired, gateway.ClassUnknown, "unknown-text"},
	}

	for _, tc := range cases {
		t.Run(string(tc.class)+"/"+tc.err.Error(), func(t *testing.T) {
			gw := &fakeGateway{replies: []fakeReply{{err: tc.err}}}
			h := newHarness(t, gw)

			err := h.p.Send(context.Background(), "frage")
			require.ErrorIs(t, err, tc.err)

			msgs := h.store.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, tc.text, msgs[1].Text)
			assert.True(t, msgs[1].IsError)
			assert.Equal(t, 1, h.store.RetryCount())
			assert.NotEmpty(t, h.store.LastError())
			assert.False(t, h.store.IsLoading())

			r, ok := h.rec.last(RenderError)
			require.True(t, ok)
			assert.True(t, r.Retry)
			assert.Equal(t, string(tc.class), r.ErrorClass)

			h.p.Close()
			assert.Equal(t, []gateway.ErrorClass{tc.class}, gw.reports)
		})
	}
}

func TestSend_WhileLoadingIsNoop(t *testing.T) {
	gw := &fakeGateway{
		replies: []fakeReply{textReply("eins")},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	h := newHarness(t, gw)

	done := make(chan error, 1)
	go func() { done <- h.p.Send(context.Background(), "erste") }()

	<-gw.started
	require.NoError(t, h.p.Send(context.Background(), "zweite"))
	require.NoError(t, h.p.Retry(context.Background()))

	close(gw.block)
	require.NoError(t, <-done)

	assert.Equal(t, 1, gw.sentCount())
	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "erste", msgs[0].Text)
	assert.Equal(t, "eins", msgs[1].Text)
}

func TestRetry_ResendsLastMessage(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{
		{err: gateway.ErrTimeout},
		textReply("jetzt klappt es"),
	}}
	h := newHarness(t, gw)
	ctx := context.Background()

	require.Error(t, h.p.Send(ctx, "Tarife"))
	require.NoError(t, h.p.Retry(ctx))

	assert.Equal(t, []string{"Tarife", "Tarife"}, gw.sent)

	msgs := h.store.Messages()
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].IsUser)
	assert.True(t, msgs[1].IsError)
	assert.Equal(t, "jetzt klappt es", msgs[2].Text)
	assert.Zero(t, h.store.RetryCount())
	assert.Empty(t, h.store.LastError())
}

func TestStartOver_ResendsIntoFreshConversation(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{
		{err: gateway.ErrNetwork},
		textReply("neu"),
	}}
	h := newHarness(t, gw)
	ctx := context.Background()

	require.Error(t, h.p.Send(ctx, "Router"))
	require.NoError(t, h.p.StartOver(ctx))

	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Router", msgs[0].Text)
	assert.Equal(t, "neu", msgs[1].Text)
	assert.Equal(t, 1, gw.forced)
}

func TestSend_ContactFormReply(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{{reply: domain.NormalizedReply{
		Kind:        domain.ReplyContactForm,
		ContactForm: map[string]any{"topic": "Vertrag"},
	}}}}
	h := newHarness(t, gw)

	require.NoError(t, h.p.Send(context.Background(), "Kontakt"))

	assert.Equal(t, domain.ScreenContactForm, h.screens.Current())
	r, ok := h.rec.last(RenderScreen)
	require.True(t, ok)
	assert.Equal(t, domain.ScreenContactForm, r.Screen)
	assert.Equal(t, "Vertrag", r.ContactForm["topic"])

	// только сообщение пользователя, без fallback
	assert.Len(t, h.store.Messages(), 1)
}

func TestSubmitContactForm(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{{reply: domain.NormalizedReply{Kind: domain.ReplyContactForm}}}}
	h := newHarness(t, gw)
	ctx := context.Background()

	require.NoError(t, h.p.Send(ctx, "Kontakt"))

	gw.contactErr = assert.AnError
	require.Error(t, h.p.SubmitContactForm(ctx, map[string]string{"email": "x"}))
	assert.Equal(t, domain.ScreenContactForm, h.screens.Current())

	gw.contactErr = nil
	require.NoError(t, h.p.SubmitContactForm(ctx, map[string]string{"email": "a@b.c"}))
	assert.Equal(t, domain.ScreenContactSuccess, h.screens.Current())
}

func TestSend_AdoptsSessionID(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{{reply: domain.NormalizedReply{
		Kind:         domain.ReplyLegacy,
		TextSegments: []domain.TextSegment{{Content: "ok"}},
		SessionID:    "backend-session",
	}}}}
	h := newHarness(t, gw)
	ctx := context.Background()

	require.NoError(t, h.p.Send(ctx, "hi"))

	id, ok := h.sessions.SessionID(ctx)
	require.True(t, ok)
	assert.Equal(t, "backend-session", id)
}

func TestSend_EmptyReplyFallsBack(t *testing.T) {
	h := newHarness(t, &fakeGateway{})

	require.NoError(t, h.p.Send(context.Background(), "???"))

	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "fallback-text", msgs[1].Text)
	assert.True(t, h.store.HasAnswer())
}

func TestSend_SuggestionsOnlyReplyFallsBack(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{{reply: domain.NormalizedReply{
		Kind:        domain.ReplyLegacy,
		Suggestions: []string{"Tarife"},
	}}}}
	h := newHarness(t, gw)

	require.NoError(t, h.p.Send(context.Background(), "???"))

	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "fallback-text", msgs[1].Text)
	assert.True(t, h.store.HasAnswer())
	assert.Equal(t, []string{"Tarife"}, h.rec.suggestions())
}

func TestOpen_ExpiredSessionOnChatStartsOver(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{textReply("a1")}}
	h := newHarness(t, gw)
	ctx := context.Background()

	h.sessions.EnsureSessionID(ctx)
	require.NoError(t, h.p.Send(ctx, "q1"))
	require.Equal(t, domain.ScreenChat, h.screens.Current())

	h.clock.Advance(3 * time.Hour)
	require.True(t, h.sessions.IsSessionExpired(ctx))

	require.NoError(t, h.p.Open(ctx))

	r, ok := h.rec.last(RenderScreen)
	require.True(t, ok)
	assert.Equal(t, domain.ScreenWelcome, r.Screen)
	assert.Empty(t, r.Messages)
	assert.Equal(t, domain.ScreenWelcome, h.screens.Current())
	assert.Empty(t, h.store.Messages())

	_, ok = h.sessions.SessionID(ctx)
	assert.False(t, ok)
}

func TestSend_ExpiredSessionStartsFreshConversation(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{textReply("a1"), textReply("a2")}}
	h := newHarness(t, gw)
	ctx := context.Background()

	first := h.sessions.EnsureSessionID(ctx)
	require.NoError(t, h.p.Send(ctx, "q1"))
	require.Len(t, h.store.Messages(), 2)

	h.clock.Advance(3 * time.Hour)

	require.NoError(t, h.p.Send(ctx, "q2"))

	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "q2", msgs[0].Text)
	assert.Equal(t, "a2", msgs[1].Text)
	assert.Equal(t, domain.ScreenChat, h.screens.Current())
	assert.False(t, h.store.IsLoading())

	// шлюз сам заводит новую сессию, здесь это делает тест
	second := h.sessions.EnsureSessionID(ctx)
	assert.NotEqual(t, first, second)
	assert.False(t, h.sessions.IsSessionExpired(ctx))
}

func TestSend_FreshSessionIsNotReset(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{textReply("a1"), textReply("a2")}}
	h := newHarness(t, gw)
	ctx := context.Background()

	id := h.sessions.EnsureSessionID(ctx)
	require.NoError(t, h.p.Send(ctx, "q1"))

	h.clock.Advance(30 * time.Minute)
	require.NoError(t, h.p.Send(ctx, "q2"))

	assert.Len(t, h.store.Messages(), 4)
	got, _ := h.sessions.SessionID(ctx)
	assert.Equal(t, id, got)
}

func TestSend_BlankIsIgnored(t *testing.T) {
	gw := &fakeGateway{}
	h := newHarness(t, gw)

	require.NoError(t, h.p.Send(context.Background(), "   "))
	assert.Zero(t, gw.sentCount())
	assert.Empty(t, h.store.Messages())
}

func TestReset_ClearsConversationKeepsUser(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{textReply("a"), textReply("b")}}
	h := newHarness(t, gw)
	ctx := context.Background()

	userID := h.sessions.GetOrCreateUserID(ctx)
	require.NoError(t, h.p.Send(ctx, "eins"))
	require.NoError(t, h.p.Send(ctx, "zwei"))
	require.Len(t, h.store.Messages(), 4)

	require.NoError(t, h.p.Reset(ctx))

	assert.Empty(t, h.store.Messages())
	_, ok := h.sessions.SessionID(ctx)
	assert.False(t, ok)
	assert.Equal(t, userID, h.sessions.GetOrCreateUserID(ctx))
	assert.False(t, h.store.HasAnswer())
	assert.Equal(t, domain.ScreenWelcome, h.screens.Current())
	assert.Equal(t, 1, gw.forced)

	r, ok := h.rec.last(RenderScreen)
	require.True(t, ok)
	assert.Equal(t, screen.EntryReset, r.Entry)
	assert.Equal(t, []string{"Internet", "Mobile"}, r.Suggestions)
}

func TestRate_OncePerMessage(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{textReply("antwort")}}
	h := newHarness(t, gw)
	ctx := context.Background()

	require.NoError(t, h.p.Send(ctx, "frage"))
	msgs := h.store.Messages()
	user, bot := msgs[0], msgs[1]

	require.ErrorIs(t, h.p.Rate(ctx, user.ID, domain.FeedbackPositive, ""), ErrNotBotMessage)
	require.NoError(t, h.p.Rate(ctx, bot.ID, domain.FeedbackPositive, ""))
	require.ErrorIs(t, h.p.Rate(ctx, bot.ID, domain.FeedbackNegative, ""), conversation.ErrAlreadyRated)
	require.NoError(t, h.p.Comment(ctx, bot.ID, "danke"))
	require.ErrorIs(t, h.p.Comment(ctx, bot.ID, " "), ErrEmptyComment)

	assert.Equal(t, []domain.FeedbackKind{domain.FeedbackPositive, domain.FeedbackCommentOnly}, gw.rated)

	fb, ok := h.store.MessageFeedback(bot.ID)
	require.True(t, ok)
	assert.Equal(t, domain.FeedbackPositive, fb.Kind)
	assert.Equal(t, "danke", fb.Comment)
}

func TestEndChatFeedbackReturnsToFreshWelcome(t *testing.T) {
	timers := &timerQueue{}
	gw := &fakeGateway{replies: []fakeReply{textReply("antwort")}}
	h := newHarness(t, gw, WithAfterFunc(timers.AfterFunc))
	ctx := context.Background()

	require.NoError(t, h.p.Send(ctx, "frage"))
	timers.Run()
	require.Len(t, h.store.Messages(), 2)

	require.NoError(t, h.p.EndChat(ctx))
	assert.Equal(t, domain.ScreenFeedback, h.screens.Current())

	require.ErrorIs(t, h.p.SubmitFeedback(ctx, 9, nil, ""), ErrInvalidRating)

	// бек отвечает ошибкой, экран всё равно меняется
	require.NoError(t, h.p.SubmitFeedback(ctx, 5, []string{"schnell"}, "super"))
	assert.Equal(t, domain.ScreenThankYou, h.screens.Current())
	require.Len(t, gw.feedback, 1)
	assert.Equal(t, 5, gw.feedback[0].Rating)

	timers.Run()
	assert.Equal(t, domain.ScreenWelcome, h.screens.Current())
	assert.Empty(t, h.store.Messages())
}

func TestOpen_ReplaysUsableSession(t *testing.T) {
	gw := &fakeGateway{replies: []fakeReply{textReply("antwort")}}
	h := newHarness(t, gw)
	ctx := context.Background()

	h.sessions.EnsureSessionID(ctx)
	require.NoError(t, h.p.Send(ctx, "frage"))

	// новая "страница" поверх того же хранилища
	screens := screen.New(h.sessions, time.Second)
	p2 := New(slogdiscard.NewDiscardLogger(), testConfig, Deps{
		Gateway:  gw,
		Sessions: h.sessions,
		Store:    h.store,
		Screens:  screens,
	}, WithAfterFunc(immediate))
	defer p2.Close()

	rec := &recorder{}
	p2.Subscribe(rec.add)

	require.NoError(t, p2.Open(ctx))

	r, ok := rec.last(RenderScreen)
	require.True(t, ok)
	assert.Equal(t, domain.ScreenChat, r.Screen)
	assert.Equal(t, screen.EntryReplay, r.Entry)
	assert.Len(t, r.Messages, 2)
}

func TestOpen_FreshShowsWelcome(t *testing.T) {
	h := newHarness(t, &fakeGateway{})

	require.NoError(t, h.p.Open(context.Background()))

	r, ok := h.rec.last(RenderScreen)
	require.True(t, ok)
	assert.Equal(t, domain.ScreenWelcome, r.Screen)
	assert.Equal(t, "Hallo!", r.Text)
	assert.Equal(t, []string{"Internet", "Mobile"}, r.Suggestions)
}

func TestToggle(t *testing.T) {
	h := newHarness(t, &fakeGateway{})

	h.p.Toggle(context.Background(), true)
	assert.True(t, h.store.IsCollapsed())

	r, ok := h.rec.last(RenderCollapsed)
	require.True(t, ok)
	assert.True(t, r.Collapsed)
}

func TestNavigate(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	ctx := context.Background()

	require.NoError(t, h.p.Navigate(ctx, domain.ScreenPrivacy))
	assert.Equal(t, domain.ScreenPrivacy, h.store.Screen())

	require.ErrorIs(t, h.p.Navigate(ctx, domain.ScreenThankYou), screen.ErrInvalidTransition)

	require.NoError(t, h.p.Navigate(ctx, domain.ScreenWelcome))
	assert.Equal(t, domain.ScreenWelcome, h.screens.Current())
}
