package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatWidget/internal/domain"
	"ChatWidget/internal/server/handlers"
	"ChatWidget/internal/services/pipeline"
	"ChatWidget/internal/services/sequencer"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want handlers.Intent
	}{
		{"Wie schnell ist DSL?", handlers.Intent{Type: handlers.IntentSend, Text: "Wie schnell ist DSL?"}},
		{"/retry", handlers.Intent{Type: handlers.IntentRetry}},
		{"/restart", handlers.Intent{Type: handlers.IntentStartOver}},
		{"/end", handlers.Intent{Type: handlers.IntentEndChat}},
		{"/reset", handlers.Intent{Type: handlers.IntentReset}},
		{"/privacy", handlers.Intent{Type: handlers.IntentNavigate, Screen: domain.ScreenPrivacy}},
		{"/back", handlers.Intent{Type: handlers.IntentNavigate, Screen: domain.ScreenChat}},
		{
			"/rate m1 up sehr gut",
			handlers.Intent{Type: handlers.IntentRate, MessageID: "m1", Feedback: domain.FeedbackPositive, Comment: "sehr gut"},
		},
		{"/rate m1 -", handlers.Intent{Type: handlers.IntentRate, MessageID: "m1", Feedback: domain.FeedbackNegative}},
		{"/comment m2 zu lang", handlers.Intent{Type: handlers.IntentComment, MessageID: "m2", Comment: "zu lang"}},
		{"/feedback 4 passt", handlers.Intent{Type: handlers.IntentSubmitFeedback, Rating: 4, Text: "passt"}},
		{
			"/contact name=Anna email=anna@example.org",
			handlers.Intent{Type: handlers.IntentSubmitContactForm, Form: map[string]string{"name": "Anna", "email": "anna@example.org"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	for _, line := range []string{"/rate m1", "/rate m1 maybe", "/comment m1", "/feedback", "/feedback five", "/contact name"} {
		_, err := parseLine(line)
		assert.True(t, errors.Is(err, errUsage), line)
	}

	_, err := parseLine("/dance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestPrinter_Render(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	p := newPrinter(&buf)

	p.Render(pipeline.Render{Kind: pipeline.RenderScreen, Screen: domain.ScreenWelcome, Text: "Hallo!", Suggestions: []string{"Internet", "TV"}})
	p.Render(pipeline.Render{Kind: pipeline.RenderMessage, Message: &domain.Message{ID: "u1", Text: "Internet", IsUser: true}})
	p.Render(pipeline.Render{
		Kind:    pipeline.RenderStep,
		Step:    &sequencer.Step{Op: sequencer.OpAppendMessage, Text: "<b>DSL</b> &amp; Glasfaser", IsHTML: true},
		Message: &domain.Message{ID: "b1", Text: "<b>DSL</b> &amp; Glasfaser", IsHTML: true},
	})
	p.Render(pipeline.Render{Kind: pipeline.RenderStep, Step: &sequencer.Step{Op: sequencer.OpAppendSuggestions, Suggestions: []string{"Preise"}}})
	p.Render(pipeline.Render{Kind: pipeline.RenderError, Text: "Zeitüberschreitung", Retry: true})

	out := buf.String()
	assert.Contains(t, out, "Hallo!")
	assert.Contains(t, out, "try: Internet | TV")
	assert.Contains(t, out, "> Internet")
	assert.Contains(t, out, "DSL  & Glasfaser")
	assert.Contains(t, out, "[b1]")
	assert.Contains(t, out, "try: Preise")
	assert.Contains(t, out, "! Zeitüberschreitung")
	assert.Contains(t, out, "/retry or /restart")
}
