package main

import (
	"html"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/fatih/color"

	"ChatWidget/internal/domain"
	"ChatWidget/internal/services/pipeline"
	"ChatWidget/internal/services/sequencer"
)

var tags = regexp.MustCompile(`<[^>]*>`)

// printer рисует рендеры виджета в терминал, рендеры приходят из таймеров
type printer struct {
	mu  sync.Mutex
	out io.Writer

	bot    *color.Color
	user   *color.Color
	muted  *color.Color
	failed *color.Color
	hint   *color.Color
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:    out,
		bot:    color.New(color.FgCyan),
		user:   color.New(color.FgWhite, color.Bold),
		muted:  color.New(color.FgHiBlack),
		failed: color.New(color.FgRed),
		hint:   color.New(color.FgYellow),
	}
}

func (p *printer) Problem(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed.Fprintf(p.out, "! %v\n", err)
}

func (p *printer) Render(r pipeline.Render) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.Kind {
	case pipeline.RenderMessage:
		if r.Message != nil {
			p.message(*r.Message)
		}
	case pipeline.RenderTyping:
		if r.Typing {
			p.muted.Fprintln(p.out, "  ...")
		}
	case pipeline.RenderStep:
		switch {
		case r.Message != nil:
			p.message(*r.Message)
		case r.Step != nil:
			p.step(*r.Step)
		}
	case pipeline.RenderError:
		p.failed.Fprintf(p.out, "! %s\n", r.Text)
		if r.Retry {
			p.hint.Fprintln(p.out, "  /retry or /restart")
		}
	case pipeline.RenderScreen:
		p.screen(r)
	case pipeline.RenderFeedback:
		p.muted.Fprintf(p.out, "  feedback %s on %s\n", r.Feedback, r.MessageID)
	case pipeline.RenderContactResult:
		if r.Error != "" {
			p.failed.Fprintf(p.out, "! contact form: %s\n", r.Error)
		}
	}
}

func (p *printer) message(m domain.Message) {
	text := m.Text
	if m.IsHTML {
		text = plain(text)
	}

	switch {
	case m.IsUser:
		p.user.Fprintf(p.out, "> %s\n", text)
	case m.IsError:
		p.failed.Fprintf(p.out, "! %s\n", text)
	default:
		p.bot.Fprintf(p.out, "%s\n", text)
		p.muted.Fprintf(p.out, "  [%s]\n", m.ID)
	}
}

func (p *printer) step(s sequencer.Step) {
	switch s.Op {
	case sequencer.OpScrollToShop:
		p.muted.Fprintf(p.out, "  (shop %s)\n", s.ShopID)
	case sequencer.OpAppendSuggestions:
		p.suggestions(s.Suggestions)
	}
}

func (p *printer) screen(r pipeline.Render) {
	switch r.Screen {
	case domain.ScreenWelcome:
		p.bot.Fprintf(p.out, "%s\n", r.Text)
		p.suggestions(r.Suggestions)
	case domain.ScreenChat:
		for _, m := range r.Messages {
			p.message(m)
		}
	case domain.ScreenFeedback:
		p.hint.Fprintln(p.out, "-- how was the chat? /feedback <1-5> [text]")
	case domain.ScreenThankYou:
		p.hint.Fprintln(p.out, "-- thank you!")
	case domain.ScreenContactForm:
		p.hint.Fprintln(p.out, "-- contact form: /contact name=... email=... message=...")
	case domain.ScreenContactSuccess:
		p.hint.Fprintln(p.out, "-- contact request sent")
	case domain.ScreenPrivacy:
		p.hint.Fprintln(p.out, "-- privacy notice, /back to return")
	}
}

func (p *printer) suggestions(s []string) {
	if len(s) == 0 {
		return
	}
	p.hint.Fprintf(p.out, "  try: %s\n", strings.Join(s, " | "))
}

func plain(s string) string {
	return strings.TrimSpace(html.UnescapeString(tags.ReplaceAllString(s, " ")))
}

