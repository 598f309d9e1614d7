// Package pipeline consumes widget intents and emits render instructions.
// It glues the gateway, the conversation store, the sequencer and the screen
// controller of one widget together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slog"

	"ChatWidget/internal/domain"
	"ChatWidget/internal/lib/logger/sl"
	"ChatWidget/internal/services/conversation"
	"ChatWidget/internal/services/gateway"
	"ChatWidget/internal/services/screen"
	"ChatWidget/internal/services/sequencer"
)

var (
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrEmptyComment  = errors.New("empty comment")
	ErrNotBotMessage = errors.New("feedback allowed only for bot messages")
)

type Gateway interface {
	EnsureSession(ctx context.Context, force bool) bool
	SendConversationMessage(ctx context.Context, text string) (domain.NormalizedReply, error)
	SubmitFeedback(ctx context.Context, rec domain.FeedbackRecord) bool
	SubmitMessageFeedback(ctx context.Context, messageID string, kind domain.FeedbackKind, comment, messageText string) bool
	SubmitContactForm(ctx context.Context, form map[string]string) (domain.ContactFormResult, error)
	ReportError(ctx context.Context, class gateway.ErrorClass, userMessage, sessionID string)
}

type Sessions interface {
	SessionID(ctx context.Context) (string, bool)
	SetSessionID(ctx context.Context, id string) error
	HasUsableSession(ctx context.Context) bool
	IsSessionExpired(ctx context.Context) bool
}

// Messages are the texts the user sees from the widget itself.
type Messages struct {
	Welcome            string
	DefaultSuggestions []string

	Timeout     string
	NoAnswer    string
	Unreachable string
	Unknown     string
	Fallback    string
}

func (m Messages) For(class gateway.ErrorClass) string {
	switch class {
	case gateway.ClassTimeout:
		return m.Timeout
	case gateway.ClassNoAnswer:
		return m.NoAnswer
	case gateway.ClassUnreachable:
		return m.Unreachable
	default:
		return m.Unknown
	}
}

type Config struct {
	Messages Messages
	Policy   sequencer.Policy
}

type Deps struct {
	Gateway  Gateway
	Sessions Sessions
	Store    *conversation.Store
	Screens  *screen.Controller
	Shops    sequencer.Shops
}

type Pipeline struct {
	log      *slog.Logger
	cfg      Config
	gw       Gateway
	sessions Sessions
	store    *conversation.Store
	screens  *screen.Controller
	shops    sequencer.Shops
	dec      sequencer.Decorator
	after    sequencer.AfterFunc
	player   *sequencer.Player

	// растёт на каждом reset, ответ старого разговора отбрасывается
	epoch atomic.Uint64

	mu        sync.Mutex
	subs      map[int]func(Render)
	nextSub   int
	playback  *sequencer.Playback
	scheduled func() bool

	reports sync.WaitGroup
}

type Option func(*Pipeline)

// WithAfterFunc replaces real timers for presentation delays and screen follow-ups.
func WithAfterFunc(after sequencer.AfterFunc) Option {
	return func(p *Pipeline) { p.after = after }
}

func WithDecorator(dec sequencer.Decorator) Option {
	return func(p *Pipeline) { p.dec = dec }
}

func New(log *slog.Logger, cfg Config, deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:      log,
		cfg:      cfg,
		gw:       deps.Gateway,
		sessions: deps.Sessions,
		store:    deps.Store,
		screens:  deps.Screens,
		shops:    deps.Shops,
		dec:      sequencer.HTMLDecorator{},
		after:    sequencer.RealTimers,
		subs:     make(map[int]func(Render)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.player = sequencer.NewPlayer(p.after)

	return p
}

// Subscribe registers a render sink, the returned func removes it.
func (p *Pipeline) Subscribe(fn func(Render)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *Pipeline) emit(r Render) {
	p.mu.Lock()
	subs := make([]func(Render), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(r)
	}
}

func (p *Pipeline) Store() *conversation.Store {
	return p.store
}

func (p *Pipeline) Snapshot(ctx context.Context) domain.ConversationState {
	return p.store.Snapshot(ctx)
}

// Open shows the widget: a usable session is replayed, otherwise the current
// screen is rendered as is.
func (p *Pipeline) Open(ctx context.Context) error {
	p.emit(Render{Kind: RenderCollapsed, Collapsed: p.store.IsCollapsed()})

	if p.expireIfStale(ctx) {
		return nil
	}

	cur := p.screens.Current()
	if cur == domain.ScreenWelcome && p.sessions.HasUsableSession(ctx) {
		return p.fire(ctx, screen.EventStartChat)
	}

	r := Render{Kind: RenderScreen, Screen: cur}
	switch cur {
	case domain.ScreenWelcome:
		r.Text, r.Suggestions = p.cfg.Messages.Welcome, p.defaultSuggestions()
	default:
		r.Messages = p.store.Messages()
	}
	p.emit(r)

	return nil
}

// Send is a silent no-op while another send is in flight.
func (p *Pipeline) Send(ctx context.Context, text string) error {
	const op = "pipeline.Send"

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !p.store.BeginLoading() {
		p.log.Debug("send ignored, request in flight")
		return nil
	}

	p.expireIfStale(ctx)

	if p.screens.Current() == domain.ScreenWelcome {
		if err := p.fire(ctx, screen.EventStartChat); err != nil {
			p.log.Warn("failed to enter chat", slog.String("op", op), sl.Err(err))
		}
		// вход в чат мог сбросить истёкший разговор вместе с флагом
		p.store.SetLoading(true)
	}

	msg, err := p.store.AppendMessage(ctx, text, true, conversation.Meta{})
	if err != nil {
		p.log.Warn("failed to persist user message", slog.String("op", op), sl.Err(err))
	}
	p.store.SetLastUserMessage(text)
	p.emit(Render{Kind: RenderMessage, Message: &msg})

	return p.deliver(ctx, text)
}

// expireIfStale resets a conversation whose session timed out after the
// widget left the welcome screen. The welcome screen is emitted on reset.
func (p *Pipeline) expireIfStale(ctx context.Context) bool {
	if p.screens.Current() == domain.ScreenWelcome || !p.sessions.IsSessionExpired(ctx) {
		return false
	}

	p.log.Info("session expired, starting over", slog.String("screen", string(p.screens.Current())))
	if err := p.fire(ctx, screen.EventReset); err != nil {
		p.log.Warn("failed to reset expired session", sl.Err(err))
	}

	return true
}

// Retry resends the last user message without appending it again.
func (p *Pipeline) Retry(ctx context.Context) error {
	if !p.store.BeginLoading() {
		return nil
	}

	text := p.store.LastUserMessage()
	if text == "" {
		p.store.SetLoading(false)
		return nil
	}

	return p.deliver(ctx, text)
}

// StartOver resets the conversation and sends the last user message into the new one.
func (p *Pipeline) StartOver(ctx context.Context) error {
	text := p.store.LastUserMessage()

	if err := p.Reset(ctx); err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	return p.Send(ctx, text)
}

func (p *Pipeline) deliver(ctx context.Context, text string) error {
	const op = "pipeline.deliver"

	epoch := p.epoch.Load()

	p.emit(Render{Kind: RenderTyping, Typing: true})

	reply, err := p.gw.SendConversationMessage(ctx, text)

	if p.epoch.Load() != epoch {
		p.log.Debug("reply for a reset conversation dropped")
		return nil
	}

	p.store.SetLoading(false)
	p.emit(Render{Kind: RenderTyping, Typing: false})

	if err != nil {
		p.fail(ctx, err, text)
		return fmt.Errorf("%s: %w", op, err)
	}

	p.store.ClearError()
	p.store.ResetRetry()

	if reply.SessionID != "" {
		if err := p.sessions.SetSessionID(ctx, reply.SessionID); err != nil {
			p.log.Warn("failed to adopt session id", slog.String("op", op), sl.Err(err))
		}
	}

	p.present(ctx, reply)

	if reply.Kind == domain.ReplyContactForm {
		tr, err := p.screens.Fire(ctx, screen.EventContactFormRequested)
		if err != nil {
			p.log.Warn("contact form requested outside chat", slog.String("op", op), sl.Err(err))
			return nil
		}
		p.apply(ctx, tr, func(r *Render) { r.ContactForm = reply.ContactForm })
	}

	return nil
}

// present appends the bot messages in plan order right away and lets the
// player realize the offsets for the render layer.
func (p *Pipeline) present(ctx context.Context, reply domain.NormalizedReply) {
	const op = "pipeline.present"

	steps := sequencer.Plan(reply, p.cfg.Policy, p.dec, p.shops)
	if reply.Kind != domain.ReplyContactForm && !appendsMessage(steps) {
		// одни подсказки без текста тоже не ответ
		steps = append([]sequencer.Step{{Op: sequencer.OpAppendMessage, Text: p.cfg.Messages.Fallback}}, steps...)
	}

	renders := make([]Render, len(steps))
	for i := range steps {
		r := Render{Kind: RenderStep, Step: &steps[i]}

		if steps[i].AppendsMessage() {
			msg, err := p.store.AppendMessage(ctx, steps[i].Text, false, conversation.Meta{IsHTML: steps[i].IsHTML})
			if err != nil {
				p.log.Warn("failed to persist bot message", slog.String("op", op), sl.Err(err))
			}
			p.store.SetHasAnswer(ctx, true)
			r.Message = &msg
		}

		renders[i] = r
	}

	p.mu.Lock()
	prev := p.playback
	p.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	pb := p.player.Play(steps, func(i int, _ sequencer.Step) {
		p.emit(renders[i])
	})

	p.mu.Lock()
	p.playback = pb
	p.mu.Unlock()
}

func appendsMessage(steps []sequencer.Step) bool {
	for _, s := range steps {
		if s.AppendsMessage() {
			return true
		}
	}
	return false
}

func (p *Pipeline) fail(ctx context.Context, err error, text string) {
	class := gateway.Classify(err)

	p.log.Warn("message not delivered", slog.String("class", string(class)), sl.Err(err))

	p.store.RecordError(err)
	p.store.IncrementRetry()

	msg, aerr := p.store.AppendMessage(ctx, p.cfg.Messages.For(class), false, conversation.Meta{IsError: true})
	if aerr != nil {
		p.log.Warn("failed to persist error message", sl.Err(aerr))
	}

	p.emit(Render{
		Kind:       RenderError,
		Message:    &msg,
		Retry:      true,
		ErrorClass: string(class),
	})

	sessionID, _ := p.sessions.SessionID(ctx)

	p.reports.Add(1)
	go func() {
		defer p.reports.Done()
		p.gw.ReportError(context.WithoutCancel(ctx), class, text, sessionID)
	}()
}

// Reset clears the conversation and returns to the welcome screen.
func (p *Pipeline) Reset(ctx context.Context) error {
	return p.fire(ctx, screen.EventReset)
}

func (p *Pipeline) EndChat(ctx context.Context) error {
	return p.fire(ctx, screen.EventEndChat)
}

func (p *Pipeline) Navigate(ctx context.Context, target domain.Screen) error {
	tr, err := p.screens.Navigate(ctx, target)
	if err != nil {
		return err
	}
	if tr.From == tr.To {
		return nil
	}

	p.apply(ctx, tr, nil)
	return nil
}

func (p *Pipeline) Toggle(ctx context.Context, collapsed bool) {
	p.store.SetCollapsed(ctx, collapsed)
	p.emit(Render{Kind: RenderCollapsed, Collapsed: collapsed})
}

// Rate records a rating once per message and forwards it to the backend.
func (p *Pipeline) Rate(ctx context.Context, messageID string, kind domain.FeedbackKind, comment string) error {
	const op = "pipeline.Rate"

	msg, ok := p.store.Message(messageID)
	if !ok {
		return fmt.Errorf("%s: %w", op, conversation.ErrUnknownMessage)
	}
	if msg.IsUser {
		return fmt.Errorf("%s: %w", op, ErrNotBotMessage)
	}

	if err := p.store.SetMessageFeedback(ctx, messageID, kind, comment); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.emit(Render{Kind: RenderFeedback, MessageID: messageID, Feedback: kind})
	p.gw.SubmitMessageFeedback(ctx, messageID, kind, comment, msg.Text)

	return nil
}

// Comment attaches a standalone comment, with or without an earlier rating.
func (p *Pipeline) Comment(ctx context.Context, messageID, comment string) error {
	const op = "pipeline.Comment"

	comment = strings.TrimSpace(comment)
	if comment == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyComment)
	}

	msg, ok := p.store.Message(messageID)
	if !ok {
		return fmt.Errorf("%s: %w", op, conversation.ErrUnknownMessage)
	}
	if msg.IsUser {
		return fmt.Errorf("%s: %w", op, ErrNotBotMessage)
	}

	if err := p.store.AddMessageComment(ctx, messageID, comment); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	fb, _ := p.store.MessageFeedback(messageID)
	p.emit(Render{Kind: RenderFeedback, MessageID: messageID, Feedback: fb.Kind})
	p.gw.SubmitMessageFeedback(ctx, messageID, domain.FeedbackCommentOnly, comment, msg.Text)

	return nil
}

// SubmitFeedback moves on to the thank-you screen whatever the backend says.
func (p *Pipeline) SubmitFeedback(ctx context.Context, rating int, options []string, text string) error {
	const op = "pipeline.SubmitFeedback"

	if rating < 1 || rating > 5 {
		return fmt.Errorf("%s: %w", op, ErrInvalidRating)
	}

	if !p.gw.SubmitFeedback(ctx, domain.FeedbackRecord{
		Rating:             rating,
		Options:            options,
		AdditionalFeedback: text,
	}) {
		p.log.Info("feedback lost, continuing", slog.String("op", op))
	}

	return p.fire(ctx, screen.EventFeedbackSubmitted)
}

// SubmitContactForm keeps the form open on failure so the user can resend.
func (p *Pipeline) SubmitContactForm(ctx context.Context, form map[string]string) error {
	const op = "pipeline.SubmitContactForm"

	res, err := p.gw.SubmitContactForm(ctx, form)
	if err != nil {
		p.emit(Render{Kind: RenderContactResult, ContactResult: &res, Error: err.Error()})
		return fmt.Errorf("%s: %w", op, err)
	}

	p.emit(Render{Kind: RenderContactResult, ContactResult: &res})

	return p.fire(ctx, screen.EventContactSubmitted)
}

func (p *Pipeline) fire(ctx context.Context, ev screen.Event) error {
	tr, err := p.screens.Fire(ctx, ev)
	if err != nil {
		return err
	}
	p.apply(ctx, tr, nil)
	return nil
}

// apply runs the entry action, emits the screen and arms its follow-up.
func (p *Pipeline) apply(ctx context.Context, tr screen.Transition, extra func(*Render)) {
	r := p.enter(ctx, tr)
	if extra != nil {
		extra(&r)
	}
	p.emit(r)

	if tr.Scheduled != nil {
		p.schedule(*tr.Scheduled)
	}
}

func (p *Pipeline) enter(ctx context.Context, tr screen.Transition) Render {
	r := Render{Kind: RenderScreen, Screen: tr.To, Entry: tr.Entry}

	switch tr.Entry {
	case screen.EntryReplay:
		r.Messages = p.store.Messages()

	case screen.EntryWelcomePrompt:
		// сессия истекла, старый лог больше не показываем
		if len(p.store.Messages()) > 0 {
			p.resetConversation(ctx, false)
		}
		r.Text, r.Suggestions = p.cfg.Messages.Welcome, p.defaultSuggestions()

	case screen.EntryReset:
		p.resetConversation(ctx, true)
		r.Text, r.Suggestions = p.cfg.Messages.Welcome, p.defaultSuggestions()
	}

	p.store.SetScreen(tr.To)

	return r
}

func (p *Pipeline) resetConversation(ctx context.Context, reinitialize bool) {
	p.epoch.Add(1)
	p.stopPending()

	if err := p.store.Reset(ctx, reinitialize); err != nil {
		p.log.Error("failed to reset conversation", sl.Err(err))
	}
}

func (p *Pipeline) schedule(s screen.Scheduled) {
	stop := p.after(s.After, func() {
		if err := p.fire(context.Background(), s.Event); err != nil {
			p.log.Debug("scheduled screen change skipped", slog.String("event", string(s.Event)), sl.Err(err))
		}
	})

	p.mu.Lock()
	prev := p.scheduled
	p.scheduled = stop
	p.mu.Unlock()

	if prev != nil {
		prev()
	}
}

func (p *Pipeline) stopPending() {
	p.mu.Lock()
	pb := p.playback
	p.playback = nil
	p.mu.Unlock()

	if pb != nil {
		pb.Stop()
	}
}

func (p *Pipeline) defaultSuggestions() []string {
	out := make([]string, len(p.cfg.Messages.DefaultSuggestions))
	copy(out, p.cfg.Messages.DefaultSuggestions)
	return out
}

// Close stops pending presentation and waits for error reports in flight.
func (p *Pipeline) Close() {
	p.stopPending()

	p.mu.Lock()
	stop := p.scheduled
	p.scheduled = nil
	p.mu.Unlock()
	if stop != nil {
		stop()
	}

	p.reports.Wait()
}
