// Package normalizer maps the backend's reply shapes onto domain.NormalizedReply.
//
// Shapes are tried in a fixed priority order and the first structurally valid
// match wins:
//
//  1. contact-form directive (ContactFormPrefix + JSON inside a message field)
//  2. "simpleMessage" envelope (explicit type tag)
//  3. legacy envelope (a "response" object or the payload itself with "replies")
//
// The prefix convention stays here, at the wire boundary.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ChatWidget/internal/domain"
)

const (
	ContactFormPrefix = "CONTACTFORMPAYLOAD_"
	TypeSimpleMessage = "simpleMessage"
)

var ErrMalformedResponse = errors.New("malformed response")

// Normalize never fails, an unreadable payload becomes an empty reply.
func Normalize(raw []byte) domain.NormalizedReply {
	reply, _ := Parse(raw)
	return reply
}

// Parse is Normalize with the reason for an empty result, used for logging.
func Parse(raw []byte) (domain.NormalizedReply, error) {
	const op = "normalizer.Parse"

	empty := domain.NormalizedReply{Kind: domain.ReplyLegacy}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return empty, fmt.Errorf("%s: empty payload: %w", op, ErrMalformedResponse)
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return empty, fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}

	switch v := payload.(type) {
	case map[string]any:
		return fromObject(v), nil
	case string:
		// голая строка - как legacy с одним ответом
		return fromObject(map[string]any{"replies": []any{v}}), nil
	default:
		return empty, fmt.Errorf("%s: unexpected %T: %w", op, payload, ErrMalformedResponse)
	}
}

func fromObject(m map[string]any) domain.NormalizedReply {
	if reply, ok := contactForm(m); ok {
		return reply
	}

	if strings.EqualFold(str(m, "type"), TypeSimpleMessage) {
		return simpleMessage(m)
	}

	return legacy(m)
}

// ---------- shape 1 ----------

func contactForm(m map[string]any) (domain.NormalizedReply, bool) {
	candidates := []string{str(m, "simpleMessage"), str(m, "message")}
	resp := obj(m, "response")
	if resp != nil {
		candidates = append(candidates, str(resp, "message"), str(resp, "simpleMessage"))
	}
	if replies := replies(m, resp); len(replies) > 0 {
		candidates = append(candidates, replies[0].Content)
	}

	for _, c := range candidates {
		lead, form, ok := parseDirective(c)
		if !ok {
			continue
		}

		reply := domain.NormalizedReply{
			Kind:        domain.ReplyContactForm,
			ContactForm: form,
			Suggestions: firstStrings(m, resp, "suggestions"),
			SessionID:   firstStr(m, resp, "sessionId"),
		}
		if lead != "" {
			reply.TextSegments = append(reply.TextSegments, domain.TextSegment{Content: lead, IsHTML: true})
		}
		return reply, true
	}

	return domain.NormalizedReply{}, false
}

// parseDirective rejects malformed JSON, such text is simply not a contact form.
func parseDirective(s string) (string, map[string]any, bool) {
	idx := strings.Index(s, ContactFormPrefix)
	if idx < 0 {
		return "", nil, false
	}

	var form map[string]any
	dec := json.NewDecoder(strings.NewReader(s[idx+len(ContactFormPrefix):]))
	if err := dec.Decode(&form); err != nil || form == nil {
		return "", nil, false
	}

	return strings.TrimSpace(s[:idx]), form, true
}

// ---------- shape 2 ----------

func simpleMessage(m map[string]any) domain.NormalizedReply {
	reply := domain.NormalizedReply{Kind: domain.ReplyText}

	if msg := str(m, "message"); msg != "" {
		reply.TextSegments = []domain.TextSegment{{Content: msg, IsHTML: true}}
	}
	reply.Suggestions = strList(m, "suggestions")
	reply.SessionID = str(m, "sessionId")
	sideChannels(&reply, m)

	return reply
}

// ---------- shape 3 ----------

func legacy(m map[string]any) domain.NormalizedReply {
	reply := domain.NormalizedReply{Kind: domain.ReplyLegacy}

	resp := obj(m, "response")
	reply.TextSegments = replies(m, resp)
	reply.Suggestions = firstStrings(m, resp, "suggestions")
	reply.SessionID = firstStr(m, resp, "sessionId")

	if resp != nil {
		sideChannels(&reply, resp)
	}
	sideChannels(&reply, m)

	return reply
}

func replies(m, resp map[string]any) []domain.TextSegment {
	src := m
	if resp != nil {
		src = resp
	}

	items, _ := src["replies"].([]any)
	out := make([]domain.TextSegment, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v != "" {
				out = append(out, domain.TextSegment{Content: v})
			}
		case map[string]any:
			text := str(v, "text")
			if text == "" {
				text = str(v, "content")
			}
			if text == "" {
				text = str(v, "message")
			}
			if text != "" {
				out = append(out, domain.TextSegment{Content: text, IsHTML: boolean(v, "isHtml")})
			}
		}
	}
	return out
}

// ---------- side channels ----------

func sideChannels(reply *domain.NormalizedReply, m map[string]any) {
	for _, id := range ids(m, "shops") {
		reply.ShopReferences = appendUnique(reply.ShopReferences, id)
	}
	for _, id := range ids(m, "shopIds") {
		reply.ShopReferences = appendUnique(reply.ShopReferences, id)
	}

	if reply.MapLink == "" {
		reply.MapLink = str(m, "mapLink")
	}
	if reply.MapLink == "" {
		reply.MapLink = str(m, "mapsLink")
	}

	if items, ok := m["searchResults"].([]any); ok {
		for _, it := range items {
			o, ok := it.(map[string]any)
			if !ok || str(o, "url") == "" {
				continue
			}
			reply.SearchResults = append(reply.SearchResults, domain.SearchResult{
				Title: str(o, "title"),
				URL:   str(o, "url"),
				Icon:  str(o, "icon"),
			})
		}
	}

	if items, ok := m["youtubeLinks"].([]any); ok {
		for _, it := range items {
			switch v := it.(type) {
			case string:
				if v != "" {
					reply.YoutubeLinks = append(reply.YoutubeLinks, domain.VideoLink{URL: v})
				}
			case map[string]any:
				if u := str(v, "url"); u != "" {
					reply.YoutubeLinks = append(reply.YoutubeLinks, domain.VideoLink{URL: u, Title: str(v, "title")})
				}
			}
		}
	}

	if boolean(m, "showAllShopsMap") {
		reply.ShowAllShopsMap = true
	}
}

// ---------- lenient accessors ----------

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func boolean(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func obj(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	o, _ := m[key].(map[string]any)
	return o
}

// strList accepts ["a"] as well as [{"text":"a"}].
func strList(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	items, ok := m[key].([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case map[string]any:
			for _, k := range []string{"text", "title", "label"} {
				if s := str(v, k); s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

func ids(m map[string]any, key string) []string {
	items, ok := m[key].([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, fmt.Sprintf("%.0f", v))
		case map[string]any:
			if id := str(v, "id"); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func firstStr(m, resp map[string]any, key string) string {
	if s := str(resp, key); s != "" {
		return s
	}
	return str(m, key)
}

func firstStrings(m, resp map[string]any, key string) []string {
	if s := strList(resp, key); len(s) > 0 {
		return s
	}
	return strList(m, key)
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
