// Package screen is the view state machine of the widget.
package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ChatWidget/internal/domain"
)

var ErrInvalidTransition = errors.New("invalid screen transition")

type Event string

const (
	EventStartChat            Event = "startChat"
	EventEndChat              Event = "endChat"
	EventOpenFeedback         Event = "openFeedback"
	EventFeedbackSubmitted    Event = "feedbackSubmitted"
	EventContactFormRequested Event = "contactFormRequested"
	EventContactSubmitted     Event = "contactSubmitted"
	EventOpenPrivacy          Event = "openPrivacy"
	EventBack                 Event = "back"
	EventThankYouElapsed      Event = "thankYouElapsed"
	EventReset                Event = "reset"
)

// Entry is what the render layer has to do when the target screen is entered.
type Entry string

const (
	EntryNone          Entry = ""
	EntryReplay        Entry = "replayMessages"
	EntryWelcomePrompt Entry = "welcomePrompt"
	EntryReset         Entry = "resetConversation"
)

// Scheduled is a follow-up event the caller fires after a delay.
type Scheduled struct {
	After time.Duration
	Event Event
}

type Transition struct {
	From      domain.Screen
	To        domain.Screen
	Event     Event
	Entry     Entry
	Scheduled *Scheduled
}

// back returns to the screen the overlay was opened from
const back domain.Screen = ""

var transitions = map[domain.Screen]map[Event]domain.Screen{
	domain.ScreenWelcome: {
		EventStartChat:   domain.ScreenChat,
		EventOpenPrivacy: domain.ScreenPrivacy,
	},
	domain.ScreenChat: {
		EventEndChat:              domain.ScreenFeedback,
		EventOpenFeedback:         domain.ScreenFeedback,
		EventContactFormRequested: domain.ScreenContactForm,
		EventOpenPrivacy:          domain.ScreenPrivacy,
	},
	domain.ScreenFeedback: {
		EventFeedbackSubmitted: domain.ScreenThankYou,
		EventBack:              back,
	},
	domain.ScreenThankYou: {
		EventThankYouElapsed: domain.ScreenWelcome,
		EventBack:            back,
	},
	domain.ScreenContactForm: {
		EventContactSubmitted: domain.ScreenContactSuccess,
		EventBack:             back,
	},
	domain.ScreenContactSuccess: {
		EventBack: back,
	},
	domain.ScreenPrivacy: {
		EventBack: back,
	},
}

// SessionProbe decides between replay and welcome prompt on chat entry.
type SessionProbe interface {
	HasUsableSession(ctx context.Context) bool
}

type Controller struct {
	probe         SessionProbe
	thankYouDelay time.Duration

	mu      sync.Mutex
	current domain.Screen
	base    domain.Screen
	// feedback был открыт через "завершить чат"
	endedChat bool
}

func New(probe SessionProbe, thankYouDelay time.Duration) *Controller {
	return &Controller{
		probe:         probe,
		thankYouDelay: thankYouDelay,
		current:       domain.ScreenWelcome,
		base:          domain.ScreenWelcome,
	}
}

func (c *Controller) Current() domain.Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) Fire(ctx context.Context, ev Event) (Transition, error) {
	const op = "screen.Fire"

	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.current
	tr := Transition{From: from, Event: ev}

	if ev == EventReset {
		c.current, c.base, c.endedChat = domain.ScreenWelcome, domain.ScreenWelcome, false
		tr.To, tr.Entry = domain.ScreenWelcome, EntryReset
		return tr, nil
	}

	if ev == EventThankYouElapsed && !c.endedChat {
		return tr, fmt.Errorf("%s: %s -> %s: %w", op, from, ev, ErrInvalidTransition)
	}

	to, ok := transitions[from][ev]
	if !ok {
		return tr, fmt.Errorf("%s: %s -> %s: %w", op, from, ev, ErrInvalidTransition)
	}
	if to == back {
		to = c.base
	}

	switch {
	case to.IsOverlay() && !from.IsOverlay():
		c.base = from
	case !to.IsOverlay():
		c.base = to
	}

	switch ev {
	case EventEndChat:
		c.endedChat = true
	case EventBack:
		c.endedChat = false
	case EventFeedbackSubmitted:
		if c.endedChat {
			tr.Scheduled = &Scheduled{After: c.thankYouDelay, Event: EventThankYouElapsed}
		}
	case EventThankYouElapsed:
		c.endedChat = false
		c.base = domain.ScreenWelcome
		tr.Entry = EntryReset
	case EventStartChat:
		tr.Entry = EntryWelcomePrompt
		if c.probe != nil && c.probe.HasUsableSession(ctx) {
			tr.Entry = EntryReplay
		}
	}

	c.current = to
	tr.To = to

	return tr, nil
}

// Navigate maps a host navigation request onto an event.
func (c *Controller) Navigate(ctx context.Context, target domain.Screen) (Transition, error) {
	const op = "screen.Navigate"

	if !target.Valid() {
		return Transition{}, fmt.Errorf("%s: unknown screen %q: %w", op, target, ErrInvalidTransition)
	}

	c.mu.Lock()
	cur, base := c.current, c.base
	c.mu.Unlock()

	if cur == target {
		return Transition{From: cur, To: cur}, nil
	}

	var ev Event
	switch target {
	case domain.ScreenPrivacy:
		ev = EventOpenPrivacy
	case domain.ScreenFeedback:
		ev = EventOpenFeedback
	case domain.ScreenContactForm:
		ev = EventContactFormRequested
	case domain.ScreenChat, domain.ScreenWelcome:
		switch {
		case cur.IsOverlay() && base == target:
			ev = EventBack
		case target == domain.ScreenChat && !cur.IsOverlay():
			ev = EventStartChat
		default:
			return Transition{From: cur}, fmt.Errorf("%s: %s -> %s: %w", op, cur, target, ErrInvalidTransition)
		}
	default:
		return Transition{From: cur}, fmt.Errorf("%s: %s is not reachable by navigation: %w", op, target, ErrInvalidTransition)
	}

	return c.Fire(ctx, ev)
}
