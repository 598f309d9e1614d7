package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ChatWidget/internal/domain"
	"ChatWidget/internal/server/handlers"
)

var errUsage = errors.New("usage")

// parseLine превращает строку терминала в intent виджета
func parseLine(line string) (handlers.Intent, error) {
	if !strings.HasPrefix(line, "/") {
		return handlers.Intent{Type: handlers.IntentSend, Text: line}, nil
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/retry":
		return handlers.Intent{Type: handlers.IntentRetry}, nil
	case "/restart":
		return handlers.Intent{Type: handlers.IntentStartOver}, nil
	case "/end":
		return handlers.Intent{Type: handlers.IntentEndChat}, nil
	case "/reset":
		return handlers.Intent{Type: handlers.IntentReset}, nil
	case "/privacy":
		return handlers.Intent{Type: handlers.IntentNavigate, Screen: domain.ScreenPrivacy}, nil
	case "/back":
		return handlers.Intent{Type: handlers.IntentNavigate, Screen: domain.ScreenChat}, nil

	case "/rate":
		if len(args) < 2 {
			return handlers.Intent{}, fmt.Errorf("%w: /rate <id> up|down [comment]", errUsage)
		}
		var kind domain.FeedbackKind
		switch args[1] {
		case "up", "+":
			kind = domain.FeedbackPositive
		case "down", "-":
			kind = domain.FeedbackNegative
		default:
			return handlers.Intent{}, fmt.Errorf("%w: rating is up or down", errUsage)
		}
		return handlers.Intent{
			Type:      handlers.IntentRate,
			MessageID: args[0],
			Feedback:  kind,
			Comment:   strings.Join(args[2:], " "),
		}, nil

	case "/comment":
		if len(args) < 2 {
			return handlers.Intent{}, fmt.Errorf("%w: /comment <id> <text>", errUsage)
		}
		return handlers.Intent{
			Type:      handlers.IntentComment,
			MessageID: args[0],
			Comment:   strings.Join(args[1:], " "),
		}, nil

	case "/feedback":
		if len(args) < 1 {
			return handlers.Intent{}, fmt.Errorf("%w: /feedback <1-5> [text]", errUsage)
		}
		rating, err := strconv.Atoi(args[0])
		if err != nil {
			return handlers.Intent{}, fmt.Errorf("%w: rating must be a number", errUsage)
		}
		return handlers.Intent{
			Type:   handlers.IntentSubmitFeedback,
			Rating: rating,
			Text:   strings.Join(args[1:], " "),
		}, nil

	case "/contact":
		form := make(map[string]string, len(args))
		for _, a := range args {
			k, v, ok := strings.Cut(a, "=")
			if !ok || k == "" {
				return handlers.Intent{}, fmt.Errorf("%w: /contact key=value ...", errUsage)
			}
			form[k] = v
		}
		return handlers.Intent{Type: handlers.IntentSubmitContactForm, Form: form}, nil
	}

	return handlers.Intent{}, fmt.Errorf("unknown command %s", name)
}
