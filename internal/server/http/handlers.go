package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"ChatWidget/internal/domain"
	"ChatWidget/internal/lib/logger/sl"
	"ChatWidget/internal/services/conversation"
	"ChatWidget/internal/services/pipeline"
)

type messageFeedbackReq struct {
	// пустой feedback - только комментарий
	Feedback domain.FeedbackKind `json:"feedback"`
	Comment  string              `json:"comment"`
}

type messageFeedbackResp struct {
	MessageID string                 `json:"messageId"`
	Feedback  domain.MessageFeedback `json:"feedback"`
}

type sessionFeedbackReq struct {
	Rating  int      `json:"rating"`
	Options []string `json:"options"`
	Text    string   `json:"text"`
}

func (a *API) snapshot(w http.ResponseWriter, r *http.Request) {
	conv, ok := a.conversation(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, conv.Snapshot(r.Context()))
}

func (a *API) reset(w http.ResponseWriter, r *http.Request) {
	conv, ok := a.conversation(w, r)
	if !ok {
		return
	}

	if err := conv.Reset(r.Context()); err != nil {
		a.log.Error("reset failed", sl.Err(err))
		writeErr(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) messageFeedback(w http.ResponseWriter, r *http.Request, messageID string) {
	var req messageFeedbackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_json", "invalid json body")
		return
	}
	if req.Feedback == "" && req.Comment == "" {
		writeErr(w, http.StatusBadRequest, "validation_error", "feedback or comment is required")
		return
	}
	if req.Feedback != "" && !req.Feedback.IsRating() {
		writeErr(w, http.StatusBadRequest, "validation_error", "feedback must be positive or negative")
		return
	}

	conv, ok := a.conversation(w, r)
	if !ok {
		return
	}

	var err error
	if req.Feedback != "" {
		err = conv.Rate(r.Context(), messageID, req.Feedback, req.Comment)
	} else {
		err = conv.Comment(r.Context(), messageID, req.Comment)
	}
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrUnknownMessage):
			writeErr(w, http.StatusNotFound, "message_not_found", "message not found")
		case errors.Is(err, pipeline.ErrNotBotMessage):
			writeErr(w, http.StatusBadRequest, "not_bot_message", "feedback allowed only for bot messages")
		case errors.Is(err, conversation.ErrAlreadyRated):
			writeErr(w, http.StatusConflict, "already_rated", "message already rated")
		case errors.Is(err, pipeline.ErrEmptyComment), errors.Is(err, conversation.ErrNotRating):
			writeErr(w, http.StatusBadRequest, "validation_error", err.Error())
		default:
			writeErr(w, http.StatusInternalServerError, "internal", "internal error")
		}
		return
	}

	fb := conv.Snapshot(r.Context()).MessageFeedback[messageID]
	writeJSON(w, http.StatusOK, messageFeedbackResp{MessageID: messageID, Feedback: fb})
}

func (a *API) sessionFeedback(w http.ResponseWriter, r *http.Request) {
	var req sessionFeedbackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_json", "invalid json body")
		return
	}

	conv, ok := a.conversation(w, r)
	if !ok {
		return
	}

	if err := conv.SubmitFeedback(r.Context(), req.Rating, req.Options, req.Text); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidRating):
			writeErr(w, http.StatusBadRequest, "validation_error", "rating must be between 1 and 5")
		default:
			// экран не сменился (например, фидбек уже отправлен)
			writeErr(w, http.StatusConflict, "invalid_state", err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
