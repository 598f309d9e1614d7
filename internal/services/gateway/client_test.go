package gateway

import (
	"context"
	"encoding/json"
	"errors"
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
	"ChatWidget/internal/services/session"
	"ChatWidget/internal/storage/memory"
)

// fakeBackend hands out an auth cookie on /init and answers /chat only when it is present.
type fakeBackend struct {
	t *testing.T

	inits    atomic.Int32
	chats    atomic.Int32
	feedback atomic.Int32

	// chatStatus, если задан, отдаётся вместо нормального ответа
	mu         sync.Mutex
	chatStatus []int
	lastChat   domain.ChatRequest
	lastMsgFb  map[string]any
	reply      string
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		b.inits.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "auth", Value: "ok", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		b.chats.Add(1)

		b.mu.Lock()
		defer b.mu.Unlock()

		if len(b.chatStatus) > 0 {
			status := b.chatStatus[0]
			b.chatStatus = b.chatStatus[1:]
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
		}

		if _, err := r.Cookie("auth"); err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		assert.NoError(b.t, json.NewDecoder(r.Body).Decode(&b.lastChat))
		_, _ = w.Write([]byte(b.reply))
	})

	mux.HandleFunc("/feedback", func(w http.ResponseWriter, r *http.Request) {
		b.feedback.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	mux.HandleFunc("/message-feedback", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		assert.NoError(b.t, json.NewDecoder(r.Body).Decode(&b.lastMsgFb))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/contact", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("auth"); err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"ticket":"T-1"}`))
	})

	return mux
}

func newClient(t *testing.T, baseURL string, timeout time.Duration) (*Client, *session.Manager) {
	t.Helper()

	log := slogdiscard.NewDiscardLogger()
	sessions := session.New(log, memory.New(), session.Config{Timeout: time.Hour, CookieMaxAge: 20 * time.Hour})

	c, err := New(log, Config{
		BaseURL:             baseURL,
		InitPath:            "/init",
		ChatPath:            "/chat",
		FeedbackPath:        "/feedback",
		MessageFeedbackPath: "/message-feedback",
		ContactPath:         "/contact",
		ErrorReportPath:     "/client-error",
		Timeout:             timeout,
		ReportTimeout:       timeout,
		WidgetID:            "w-1",
		AgentID:             "a-1",
		ClientURL:           "https://shop.example",
	}, sessions)
	require.NoError(t, err)

	return c, sessions
}

func TestSendConversationMessage_InitializesOnce(t *testing.T) {
	b := &fakeBackend{t: t, reply: `{"type":"simpleMessage","message":"Hallo","suggestions":["A"]}`}
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	c, sessions := newClient(t, srv.URL, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reply, err := c.SendConversationMessage(ctx, "Internet")
		require.NoError(t, err)
		require.Len(t, reply.TextSegments, 1)
		assert.Equal(t, "Hallo", reply.TextSegments[0].Content)
	}

	assert.EqualValues(t, 1, b.inits.Load())
	assert.EqualValues(t, 3, b.chats.Load())
	assert.Equal(t, session.CookieValid, sessions.CookieState())

	sid, ok := sessions.SessionID(ctx)
	require.True(t, ok)
	assert.Equal(t, sid, b.lastChat.SessionID)
	assert.Equal(t, "Internet", b.lastChat.UserMessage)
	assert.Equal(t, "w-1", b.lastChat.WidgetID)
	assert.Equal(t, "a-1", b.lastChat.AgentID)
	assert.NotEmpty(t, b.lastChat.CorrelationID)
}

func TestEnsureSession_ConcurrentCallersShareInit(t *testing.T) {
	release := make(chan struct{})
	var inits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inits.Add(1)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL, time.Second)

	var wg sync.WaitGroup
	results := make([]bool, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.EnsureSession(context.Background(), false)
		}(i)
	}

	require.Eventually(t, func() bool { return inits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, inits.Load())
	for _, ok := range results {
		assert.True(t, ok)
	}
}

func TestEnsureSession_CancelledLeaderDoesNotFailWaiters(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var inits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inits.Add(1) == 1 {
			close(started)
		}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, sessions := newClient(t, srv.URL, 2*time.Second)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan bool, 1)
	go func() { leader <- c.EnsureSession(leaderCtx, false) }()
	<-started

	waiter := make(chan bool, 1)
	go func() { waiter <- c.EnsureSession(context.Background(), false) }()

	cancel()
	select {
	case ok := <-leader:
		assert.False(t, ok, "cancelled caller leaves without a result")
	case <-time.After(time.Second):
		t.Fatal("cancelled caller is still waiting for init")
	}

	close(release)

	select {
	case ok := <-waiter:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not get the init result")
	}

	assert.EqualValues(t, 1, inits.Load())
	assert.Equal(t, session.CookieValid, sessions.CookieState())
}

func TestSendConversationMessage_RetriesOnceAfterForbidden(t *testing.T) {
	b := &fakeBackend{
		t:          t,
		chatStatus: []int{http.StatusForbidden, http.StatusOK},
		reply:      `{"type":"simpleMessage","message":"ok"}`,
	}
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	c, _ := newClient(t, srv.URL, time.Second)

	reply, err := c.SendConversationMessage(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.TextSegments[0].Content)

	assert.EqualValues(t, 2, b.chats.Load())
	assert.EqualValues(t, 2, b.inits.Load(), "forced re-init after 403")
}

func TestSendConversationMessage_SessionExpiredAfterSecondForbidden(t *testing.T) {
	b := &fakeBackend{
		t:          t,
		chatStatus: []int{http.StatusForbidden, http.StatusForbidden, http.StatusForbidden},
	}
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	c, sessions := newClient(t, srv.URL, time.Second)

	_, err := c.SendConversationMessage(context.Background(), "hi")
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.EqualValues(t, 2, b.chats.Load())
	assert.Equal(t, ClassUnknown, Classify(err))
	assert.NotEqual(t, session.CookieUninitialized, sessions.CookieState())
}

func TestSendConversationMessage_ServerErrorIsNotRetried(t *testing.T) {
	b := &fakeBackend{t: t, chatStatus: []int{http.StatusServiceUnavailable}}
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	c, _ := newClient(t, srv.URL, time.Second)

	_, err := c.SendConversationMessage(context.Background(), "hi")
	require.Error(t, err)

	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusServiceUnavailable, he.Status)
	assert.Equal(t, ClassUnreachable, Classify(err))
	assert.EqualValues(t, 1, b.chats.Load())
}

func TestRequest_TimeoutWinsTheRace(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := newClient(t, srv.URL, 50*time.Millisecond)

	start := time.Now()
	_, err := c.Request(context.Background(), http.MethodGet, "/slow", nil, 50*time.Millisecond)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, ClassTimeout, Classify(err))
}

func TestRequest_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := newClient(t, url, time.Second)

	_, err := c.Request(context.Background(), http.MethodGet, "/init", nil, time.Second)
	require.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, ClassUnreachable, Classify(err))
}

func TestSubmitFeedback_SwallowsFailure(t *testing.T) {
	b := &fakeBackend{t: t}
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	c, _ := newClient(t, srv.URL, time.Second)

	ok := c.SubmitFeedback(context.Background(), domain.FeedbackRecord{Rating: 4})
	assert.False(t, ok)
	assert.EqualValues(t, 1, b.feedback.Load())
}

func TestSubmitMessageFeedback_CommentOnlyHasNullType(t *testing.T) {
	b := &fakeBackend{t: t}
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	c, _ := newClient(t, srv.URL, time.Second)
	ctx := context.Background()

	require.True(t, c.SubmitMessageFeedback(ctx, "m-1", domain.FeedbackNegative, "", "answer"))
	assert.Equal(t, "negative", b.lastMsgFb["feedbackType"])
	assert.Equal(t, "m-1", b.lastMsgFb["messageId"])

	require.True(t, c.SubmitMessageFeedback(ctx, "m-1", domain.FeedbackCommentOnly, "too short", "answer"))
	v, present := b.lastMsgFb["feedbackType"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Equal(t, "too short", b.lastMsgFb["comment"])
}

func TestSubmitContactForm(t *testing.T) {
	b := &fakeBackend{t: t}
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	c, _ := newClient(t, srv.URL, time.Second)

	res, err := c.SubmitContactForm(context.Background(), map[string]string{"email": "a@b.c"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "T-1", res.Data["ticket"])
}

func TestSubmitContactForm_SurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := newClient(t, srv.URL, time.Second)

	res, err := c.SubmitContactForm(context.Background(), map[string]string{"email": "x"})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorClass
	}{
		{nil, ""},
		{ErrTimeout, ClassTimeout},
		{ErrNetwork, ClassUnreachable},
		{&HTTPError{Status: http.StatusNotFound}, ClassNoAnswer},
		{&HTTPError{Status: http.StatusBadGateway}, ClassUnreachable},
		{&HTTPError{Status: http.StatusGatewayTimeout}, ClassUnreachable},
		{&HTTPError{Status: http.StatusInternalServerError}, ClassUnknown},
		{ErrSessionExpired, ClassUnknown},
		{errors.New("boom"), ClassUnknown},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}
