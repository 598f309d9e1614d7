package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"ChatWidget/internal/services/normalizer"
)

var (
	ErrTimeout        = errors.New("request timed out")
	ErrNetwork        = errors.New("network error")
	ErrSessionExpired = errors.New("session expired")

	// ErrMalformedResponse is only logged, the reply degrades to an empty one.
	ErrMalformedResponse = normalizer.ErrMalformedResponse
)

// HTTPError is a non-2xx answer. 403 means the auth cookie is missing or expired.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.Status)
}

func IsStatus(err error, status int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == status
}

// ErrorClass is what the user gets told about a failed conversational call.
type ErrorClass string

const (
	ClassTimeout     ErrorClass = "timeout"
	ClassNoAnswer    ErrorClass = "noAnswer"
	ClassUnreachable ErrorClass = "unreachable"
	ClassUnknown     ErrorClass = "unknown"
)

func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrNetwork):
		return ClassUnreachable
	}

	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Status == http.StatusNotFound:
			return ClassNoAnswer
		case he.Status == http.StatusBadGateway,
			he.Status == http.StatusServiceUnavailable,
			he.Status == http.StatusGatewayTimeout:
			return ClassUnreachable
		}
	}

	return ClassUnknown
}
