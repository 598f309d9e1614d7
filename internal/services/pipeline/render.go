package pipeline

import (
	"ChatWidget/internal/domain"
	"ChatWidget/internal/services/screen"
	"ChatWidget/internal/services/sequencer"
)

type Kind string

const (
	RenderMessage       Kind = "message"
	RenderTyping        Kind = "typing"
	RenderStep          Kind = "step"
	RenderError         Kind = "error"
	RenderScreen        Kind = "screen"
	RenderCollapsed     Kind = "collapsed"
	RenderFeedback      Kind = "feedback"
	RenderContactResult Kind = "contactResult"
)

// Render is one instruction for the render layer.
type Render struct {
	Kind Kind `json:"kind"`

	Message  *domain.Message  `json:"message,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
	Step     *sequencer.Step  `json:"step,omitempty"`

	Typing bool `json:"typing,omitempty"`

	Screen      domain.Screen  `json:"screen,omitempty"`
	Entry       screen.Entry   `json:"entry,omitempty"`
	Text        string         `json:"text,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	ContactForm map[string]any `json:"contactForm,omitempty"`

	// Retry показывает кнопки "повторить" / "начать заново"
	Retry      bool   `json:"retry,omitempty"`
	ErrorClass string `json:"errorClass,omitempty"`
	Error      string `json:"error,omitempty"`

	Collapsed bool `json:"collapsed,omitempty"`

	MessageID string              `json:"messageId,omitempty"`
	Feedback  domain.FeedbackKind `json:"feedback,omitempty"`

	ContactResult *domain.ContactFormResult `json:"contactResult,omitempty"`
}
