package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/exp/slog"

	"ChatWidget/internal/app/widget"
	"ChatWidget/internal/domain"
	"ChatWidget/internal/lib/logger/sl"
)

// Conversation is the part of a widget the REST surface needs.
type Conversation interface {
	Snapshot(ctx context.Context) domain.ConversationState
	Reset(ctx context.Context) error
	Rate(ctx context.Context, messageID string, kind domain.FeedbackKind, comment string) error
	Comment(ctx context.Context, messageID, comment string) error
	SubmitFeedback(ctx context.Context, rating int, options []string, text string) error
}

// Resolver returns the conversation of one browser of a host page.
type Resolver func(ctx context.Context, key widget.Key) (Conversation, error)

type API struct {
	log      *slog.Logger
	resolve  Resolver
	identify func(r *http.Request) (widget.Key, error)
}

func NewAPI(log *slog.Logger, resolve Resolver, identify func(r *http.Request) (widget.Key, error)) *API {
	return &API{log: log, resolve: resolve, identify: identify}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResp struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiErrorResp{Error: apiError{Code: code, Message: msg}})
}

func (a *API) conversation(w http.ResponseWriter, r *http.Request) (Conversation, bool) {
	key, err := a.identify(r)
	if err != nil {
		switch {
		case errors.Is(err, widget.ErrUnauthorized):
			writeErr(w, http.StatusUnauthorized, "unauthorized", "invalid host token")
		case errors.Is(err, widget.ErrNoVisitor):
			writeErr(w, http.StatusBadRequest, "validation_error", "visitor id is required")
		default:
			writeErr(w, http.StatusBadRequest, "validation_error", "malformed visitor id")
		}
		return nil, false
	}

	conv, err := a.resolve(r.Context(), key)
	if err != nil {
		a.log.Error("failed to resolve widget", slog.String("widget", key.String()), sl.Err(err))
		writeErr(w, http.StatusInternalServerError, "internal", "internal error")
		return nil, false
	}
	return conv, true
}

// /session -> GET snapshot, DELETE reset
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.snapshot(w, r)
	case http.MethodDelete:
		a.reset(w, r)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// /feedback -> POST session rating
func (a *API) Feedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	a.sessionFeedback(w, r)
}

// /messages/{message_id}/feedback
func (a *API) MessageByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/messages/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 2 || parts[0] == "" || parts[1] != "feedback" {
		writeErr(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	messageID := parts[0]
	a.messageFeedback(w, r, messageID)
}
