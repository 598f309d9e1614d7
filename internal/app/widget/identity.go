package widget

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoVisitor    = errors.New("visitor id is required")
	ErrBadVisitor   = errors.New("malformed visitor id")
)

const (
	VisitorHeader = "X-Widget-Visitor"
	VisitorQuery  = "visitor"
	VisitorCookie = "widget_visitor"
)

var visitorRe = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Key identifies one browser of one host page: its own user id, session,
// message log and loading gate.
type Key struct {
	Origin  string
	Visitor string
}

func (k Key) String() string {
	return k.Origin + "#" + k.Visitor
}

// TokenValidator checks the host page token, see services/auth.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int64, error)
}

// Identifier resolves the widget key of a request. With a validator the
// visitor is the sso user, otherwise the id the browser keeps for itself.
type Identifier struct {
	auth TokenValidator
}

func NewIdentifier(auth TokenValidator) *Identifier {
	return &Identifier{auth: auth}
}

// Identify returns ErrNoVisitor together with the origin when the browser has
// not been issued an id yet.
func (i *Identifier) Identify(r *http.Request) (Key, error) {
	const op = "widget.Identify"

	key := Key{Origin: OriginOf(r)}

	if i != nil && i.auth != nil {
		uid, err := i.auth.ValidateToken(r.Context(), tokenOf(r))
		if err != nil {
			return key, fmt.Errorf("%s: %w: %v", op, ErrUnauthorized, err)
		}
		key.Visitor = "user-" + strconv.FormatInt(uid, 10)
		return key, nil
	}

	v := VisitorOf(r)
	if v == "" {
		return key, ErrNoVisitor
	}
	if !visitorRe.MatchString(v) {
		return key, fmt.Errorf("%s: %w", op, ErrBadVisitor)
	}
	key.Visitor = v

	return key, nil
}

// VisitorOf reads the browser-held visitor id: header, query, then cookie.
func VisitorOf(r *http.Request) string {
	if v := r.Header.Get(VisitorHeader); v != "" {
		return strings.TrimSpace(v)
	}
	if v := r.URL.Query().Get(VisitorQuery); v != "" {
		return strings.TrimSpace(v)
	}
	if c, err := r.Cookie(VisitorCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func tokenOf(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}
