package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ChatWidget/internal/domain"
)

var ErrUnknownIntent = errors.New("unknown intent")

// Intent is the closed vocabulary of user actions the render layer sends.
type Intent struct {
	Type string `json:"type"`

	Text      string              `json:"text,omitempty"`
	MessageID string              `json:"messageId,omitempty"`
	Feedback  domain.FeedbackKind `json:"feedback,omitempty"`
	Comment   string              `json:"comment,omitempty"`
	Rating    int                 `json:"rating,omitempty"`
	Options   []string            `json:"options,omitempty"`
	Form      map[string]string   `json:"form,omitempty"`
	Screen    domain.Screen       `json:"screen,omitempty"`
	Collapsed bool                `json:"collapsed,omitempty"`
}

const (
	IntentOpen              = "open"
	IntentSend              = "send"
	IntentRetry             = "retry"
	IntentStartOver         = "startOver"
	IntentRate              = "rate"
	IntentComment           = "comment"
	IntentEndChat           = "endChat"
	IntentSubmitFeedback    = "submitFeedback"
	IntentSubmitContactForm = "submitContactForm"
	IntentNavigate          = "navigate"
	IntentReset             = "reset"
	IntentToggle            = "toggle"
)

// Pipeline is what a widget does with intents.
type Pipeline interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, text string) error
	Retry(ctx context.Context) error
	StartOver(ctx context.Context) error
	Rate(ctx context.Context, messageID string, kind domain.FeedbackKind, comment string) error
	Comment(ctx context.Context, messageID, comment string) error
	EndChat(ctx context.Context) error
	SubmitFeedback(ctx context.Context, rating int, options []string, text string) error
	SubmitContactForm(ctx context.Context, form map[string]string) error
	Navigate(ctx context.Context, target domain.Screen) error
	Reset(ctx context.Context) error
	Toggle(ctx context.Context, collapsed bool)
}

func decodeIntent(raw []byte) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, fmt.Errorf("JSON unmarshal error: %w", err)
	}
	if in.Type == "" {
		return Intent{}, fmt.Errorf("%w: empty type", ErrUnknownIntent)
	}
	return in, nil
}

// Conversational reports whether the pipeline already rendered the failure itself.
func (in Intent) Conversational() bool {
	switch in.Type {
	case IntentSend, IntentRetry, IntentStartOver:
		return true
	}
	return false
}

func Dispatch(ctx context.Context, p Pipeline, in Intent) error {
	switch in.Type {
	case IntentOpen:
		return p.Open(ctx)
	case IntentSend:
		return p.Send(ctx, in.Text)
	case IntentRetry:
		return p.Retry(ctx)
	case IntentStartOver:
		return p.StartOver(ctx)
	case IntentRate:
		return p.Rate(ctx, in.MessageID, in.Feedback, in.Comment)
	case IntentComment:
		return p.Comment(ctx, in.MessageID, in.Comment)
	case IntentEndChat:
		return p.EndChat(ctx)
	case IntentSubmitFeedback:
		return p.SubmitFeedback(ctx, in.Rating, in.Options, in.Text)
	case IntentSubmitContactForm:
		return p.SubmitContactForm(ctx, in.Form)
	case IntentNavigate:
		return p.Navigate(ctx, in.Screen)
	case IntentReset:
		return p.Reset(ctx)
	case IntentToggle:
		p.Toggle(ctx, in.Collapsed)
		return nil
	}

	return fmt.Errorf("%w: %q", ErrUnknownIntent, in.Type)
}
