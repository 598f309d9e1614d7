package domain

import "time"

type Identity struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
}

type SessionMetadata struct {
	SessionStartTime           time.Time `json:"sessionStartTime"`
	CookieInitTime             time.Time `json:"cookieInitTime"`
	SessionInitializedInMemory bool      `json:"sessionInitializedInMemory"`
}

// Message неизменяем после создания, порядок в логе = порядок отображения
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsUser    bool   `json:"isUser"`
	Timestamp string `json:"timestamp"` // ISO-8601
	IsHTML    bool   `json:"isHtml,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
}

type FeedbackKind string

const (
	FeedbackPositive    FeedbackKind = "positive"
	FeedbackNegative    FeedbackKind = "negative"
	FeedbackCommentOnly FeedbackKind = "comment-only"
)

func (k FeedbackKind) IsRating() bool {
	return k == FeedbackPositive || k == FeedbackNegative
}

type MessageFeedback struct {
	Kind        FeedbackKind `json:"kind"`
	Comment     string       `json:"comment"`
	SubmittedAt time.Time    `json:"submittedAt"`
}

type ReplyKind string

const (
	ReplyText        ReplyKind = "text"
	ReplyContactForm ReplyKind = "contactForm"
	ReplyLegacy      ReplyKind = "legacy"
)

type TextSegment struct {
	Content string `json:"content"`
	IsHTML  bool   `json:"isHtml"`
}

type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Icon  string `json:"icon,omitempty"`
}

type VideoLink struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// NormalizedReply - единый вид ответа бека, не сохраняется
type NormalizedReply struct {
	Kind            ReplyKind      `json:"kind"`
	TextSegments    []TextSegment  `json:"textSegments"`
	Suggestions     []string       `json:"suggestions"`
	ShopReferences  []string       `json:"shopReferences,omitempty"`
	MapLink         string         `json:"mapLink,omitempty"`
	SearchResults   []SearchResult `json:"searchResults,omitempty"`
	YoutubeLinks    []VideoLink    `json:"youtubeLinks,omitempty"`
	ShowAllShopsMap bool           `json:"showAllShopsMap,omitempty"`
	SessionID       string         `json:"sessionId,omitempty"`

	// только для Kind == ReplyContactForm
	ContactForm map[string]any `json:"contactForm,omitempty"`
}

func (r NormalizedReply) IsEmpty() bool {
	return len(r.TextSegments) == 0 && len(r.Suggestions) == 0 && r.Kind != ReplyContactForm
}

type Screen string

const (
	ScreenWelcome        Screen = "welcome"
	ScreenChat           Screen = "chat"
	ScreenFeedback       Screen = "feedback"
	ScreenThankYou       Screen = "thankYou"
	ScreenContactForm    Screen = "contactForm"
	ScreenContactSuccess Screen = "contactSuccess"
	ScreenPrivacy        Screen = "privacy"
)

var Screens = []Screen{
	ScreenWelcome,
	ScreenChat,
	ScreenFeedback,
	ScreenThankYou,
	ScreenContactForm,
	ScreenContactSuccess,
	ScreenPrivacy,
}

func (s Screen) Valid() bool {
	for _, v := range Screens {
		if v == s {
			return true
		}
	}
	return false
}

// IsOverlay - экраны, которые лежат поверх чата и исключают друг друга
func (s Screen) IsOverlay() bool {
	switch s {
	case ScreenFeedback, ScreenThankYou, ScreenContactForm, ScreenContactSuccess, ScreenPrivacy:
		return true
	}
	return false
}

type ConversationState struct {
	Identity
	SessionMetadata

	Messages         []Message                  `json:"messages"`
	IsLoading        bool                       `json:"isLoading"`
	LastError        string                     `json:"lastError,omitempty"`
	RetryCount       int                        `json:"retryCount"`
	LastUserMessage  string                     `json:"lastUserMessage,omitempty"`
	HasAnswer        bool                       `json:"hasAnswerInConversation"`
	SelectedCategory string                     `json:"selectedCategory,omitempty"`
	CurrentScreen    Screen                     `json:"currentScreen"`
	Collapsed        bool                       `json:"collapsed"`
	MessageFeedback  map[string]MessageFeedback `json:"messageFeedback,omitempty"`
}

// -------------------- wire models --------------------

// ---------- POST /chat ----------
type ChatRequest struct {
	UserMessage   string `json:"userMessage"`
	SessionID     string `json:"sessionId"`
	CorrelationID string `json:"correlationId"`
	ClientURL     string `json:"clientUrl"`
	WidgetID      string `json:"widgetId"`
	AgentID       string `json:"agentId"`
	IsInternal    bool   `json:"isInternal"`
}

// ---------- POST /feedback ----------
type FeedbackRecord struct {
	SessionID          string   `json:"sessionId"`
	Rating             int      `json:"rating"` // 1..5
	Options            []string `json:"options"`
	AdditionalFeedback string   `json:"additionalFeedback"`
	AgentID            string   `json:"agentId"`
	WidgetID           string   `json:"widgetId"`
	Timestamp          string   `json:"timestamp"`
}

// ---------- POST /message-feedback ----------
type MessageFeedbackRecord struct {
	SessionID    string        `json:"sessionId"`
	MessageID    string        `json:"messageId"`
	FeedbackType *FeedbackKind `json:"feedbackType"` // null для комментария без оценки
	Comment      string        `json:"comment"`
	MessageText  string        `json:"messageText"`
	AgentID      string        `json:"agentId"`
	WidgetID     string        `json:"widgetId"`
	Timestamp    string        `json:"timestamp"`
}

// ---------- POST /contact ----------
type ContactFormRequest struct {
	Type      string            `json:"type"` // всегда "simpleMessage"
	Message   string            `json:"message"`
	FormData  map[string]string `json:"formData"`
	SessionID string            `json:"sessionId"`
	WidgetID  string            `json:"widgetId"`
	AgentID   string            `json:"agentId"`
	Timestamp string            `json:"timestamp"`
}

type ContactFormResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ---------- POST /client-error ----------
type ErrorReport struct {
	Class       string `json:"errorType"`
	UserMessage string `json:"userMessage"`
	SessionID   string `json:"sessionId"`
	WidgetID    string `json:"widgetId"`
	Timestamp   string `json:"timestamp"`
}

// -------------------- shops --------------------

type Shop struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Hours     string  `json:"hours,omitempty"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

type MapPin struct {
	ShopID    string  `json:"shopId"`
	Title     string  `json:"title"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Timestamp formats t the way messages and wire payloads carry it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
