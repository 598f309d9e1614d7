package screen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatWidget/internal/domain"
)

type usable bool

func (u usable) HasUsableSession(context.Context) bool { return bool(u) }

func fire(t *testing.T, c *Controller, ev Event) Transition {
	t.Helper()
	tr, err := c.Fire(context.Background(), ev)
	require.NoError(t, err)
	return tr
}

func TestStartChat_EntryDependsOnSession(t *testing.T) {
	tr := fire(t, New(usable(false), time.Second), EventStartChat)
	assert.Equal(t, domain.ScreenWelcome, tr.From)
	assert.Equal(t, domain.ScreenChat, tr.To)
	assert.Equal(t, EntryWelcomePrompt, tr.Entry)

	tr = fire(t, New(usable(true), time.Second), EventStartChat)
	assert.Equal(t, EntryReplay, tr.Entry)
}

func TestEndChatFeedbackReturnsToWelcome(t *testing.T) {
	c := New(usable(false), 3*time.Second)

	fire(t, c, EventStartChat)
	fire(t, c, EventEndChat)
	assert.Equal(t, domain.ScreenFeedback, c.Current())

	tr := fire(t, c, EventFeedbackSubmitted)
	assert.Equal(t, domain.ScreenThankYou, tr.To)
	require.NotNil(t, tr.Scheduled)
	assert.Equal(t, 3*time.Second, tr.Scheduled.After)
	assert.Equal(t, EventThankYouElapsed, tr.Scheduled.Event)

	tr = fire(t, c, tr.Scheduled.Event)
	assert.Equal(t, domain.ScreenWelcome, tr.To)
	assert.Equal(t, EntryReset, tr.Entry)
}

func TestFeedbackWithoutEndChatStays(t *testing.T) {
	c := New(usable(false), time.Second)

	fire(t, c, EventStartChat)
	fire(t, c, EventOpenFeedback)

	tr := fire(t, c, EventFeedbackSubmitted)
	assert.Equal(t, domain.ScreenThankYou, tr.To)
	assert.Nil(t, tr.Scheduled)

	_, err := c.Fire(context.Background(), EventThankYouElapsed)
	require.ErrorIs(t, err, ErrInvalidTransition)

	tr = fire(t, c, EventBack)
	assert.Equal(t, domain.ScreenChat, tr.To)
}

func TestBackAfterEndChatCancelsScheduledReturn(t *testing.T) {
	c := New(usable(false), time.Second)

	fire(t, c, EventStartChat)
	fire(t, c, EventEndChat)
	fire(t, c, EventBack)
	assert.Equal(t, domain.ScreenChat, c.Current())

	fire(t, c, EventOpenFeedback)
	tr := fire(t, c, EventFeedbackSubmitted)
	assert.Nil(t, tr.Scheduled)
}

func TestContactForm(t *testing.T) {
	c := New(usable(false), time.Second)

	fire(t, c, EventStartChat)
	fire(t, c, EventContactFormRequested)
	tr := fire(t, c, EventContactSubmitted)
	assert.Equal(t, domain.ScreenContactSuccess, tr.To)

	tr = fire(t, c, EventBack)
	assert.Equal(t, domain.ScreenChat, tr.To)
	assert.Equal(t, EntryNone, tr.Entry)
}

func TestPrivacyReturnsToBase(t *testing.T) {
	c := New(usable(false), time.Second)

	fire(t, c, EventOpenPrivacy)
	assert.Equal(t, domain.ScreenWelcome, fire(t, c, EventBack).To)

	fire(t, c, EventStartChat)
	fire(t, c, EventOpenPrivacy)
	assert.Equal(t, domain.ScreenChat, fire(t, c, EventBack).To)
}

func TestOverlaysAreExclusive(t *testing.T) {
	c := New(usable(false), time.Second)

	fire(t, c, EventStartChat)
	fire(t, c, EventOpenFeedback)

	for _, ev := range []Event{EventOpenPrivacy, EventContactFormRequested, EventEndChat, EventStartChat} {
		_, err := c.Fire(context.Background(), ev)
		require.ErrorIs(t, err, ErrInvalidTransition, "%s", ev)
	}
	assert.Equal(t, domain.ScreenFeedback, c.Current())
}

func TestResetFromAnywhere(t *testing.T) {
	for _, s := range domain.Screens {
		c := New(usable(false), time.Second)
		c.current = s

		tr := fire(t, c, EventReset)
		assert.Equal(t, domain.ScreenWelcome, tr.To, "from %s", s)
		assert.Equal(t, EntryReset, tr.Entry)
	}
}

func TestNavigate(t *testing.T) {
	c := New(usable(true), time.Second)
	ctx := context.Background()

	tr, err := c.Navigate(ctx, domain.ScreenChat)
	require.NoError(t, err)
	assert.Equal(t, EntryReplay, tr.Entry)

	_, err = c.Navigate(ctx, domain.ScreenPrivacy)
	require.NoError(t, err)

	_, err = c.Navigate(ctx, domain.ScreenWelcome)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.ScreenPrivacy, c.Current())

	tr, err = c.Navigate(ctx, domain.ScreenChat)
	require.NoError(t, err)
	assert.Equal(t, domain.ScreenChat, tr.To)

	_, err = c.Navigate(ctx, domain.ScreenThankYou)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = c.Navigate(ctx, domain.Screen("settings"))
	require.ErrorIs(t, err, ErrInvalidTransition)

	tr, err = c.Navigate(ctx, domain.ScreenChat)
	require.NoError(t, err)
	assert.Equal(t, tr.From, tr.To)
}
