// Package sequencer turns one NormalizedReply into an ordered list of render
// steps with relative offsets. Planning is pure, Player realizes the offsets.
package sequencer

import (
	"html/template"
	"time"

	"ChatWidget/internal/domain"
)

type Op string

const (
	OpAppendMessage     Op = "appendMessage"
	OpAppendShop        Op = "appendShop"
	OpScrollToShop      Op = "scrollToShop"
	OpAllShopsMap       Op = "allShopsMap"
	OpAppendVideo       Op = "appendVideo"
	OpAppendSuggestions Op = "appendSuggestions"
)

// Step is one render instruction. Offset counts from the moment the typing
// indicator is cleared.
type Step struct {
	Offset      time.Duration `json:"offset"`
	Op          Op            `json:"op"`
	Text        string        `json:"text,omitempty"`
	IsHTML      bool          `json:"isHtml,omitempty"`
	ShopID      string        `json:"shopId,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// AppendsMessage reports whether the step adds a bot message to the conversation.
func (s Step) AppendsMessage() bool {
	switch s.Op {
	case OpAppendMessage, OpAppendShop, OpAllShopsMap, OpAppendVideo:
		return true
	}
	return false
}

type Policy struct {
	BaseDelay        time.Duration
	ShopDelay        time.Duration
	AllShopsMapDelay time.Duration
	VideoDelay       time.Duration
	SuggestionsLead  time.Duration
}

type Shops interface {
	Lookup(id string) (domain.Shop, bool)
	Pins() []domain.MapPin
}

// Plan is deterministic: the same reply and policy always give the same steps.
// shops may be nil, shop references are then skipped.
func Plan(reply domain.NormalizedReply, p Policy, dec Decorator, shops Shops) []Step {
	var steps []Step

	segments := reply.TextSegments
	decoration := trailing(reply, dec)
	if len(segments) == 0 && decoration != "" {
		segments = []domain.TextSegment{{IsHTML: true}}
	}

	var cursor time.Duration
	for i, seg := range segments {
		text, isHTML := seg.Content, seg.IsHTML

		// карта и результаты поиска идут в последний сегмент
		if i == len(segments)-1 && decoration != "" {
			if !isHTML {
				text = template.HTMLEscapeString(text)
			}
			text += decoration
			isHTML = true
		}

		cursor = time.Duration(i) * p.BaseDelay
		steps = append(steps, Step{Offset: cursor, Op: OpAppendMessage, Text: text, IsHTML: isHTML})
	}

	var shown []domain.Shop
	if shops != nil {
		for _, id := range reply.ShopReferences {
			if shop, ok := shops.Lookup(id); ok {
				shown = append(shown, shop)
			}
		}
	}
	for _, shop := range shown {
		cursor += p.ShopDelay
		steps = append(steps, Step{Offset: cursor, Op: OpAppendShop, Text: dec.ShopCard(shop), IsHTML: true, ShopID: shop.ID})
	}
	if len(shown) == 1 && reply.MapLink != "" {
		steps = append(steps, Step{Offset: cursor, Op: OpScrollToShop, ShopID: shown[0].ID})
	}

	if reply.ShowAllShopsMap && shops != nil {
		if pins := shops.Pins(); len(pins) > 0 {
			cursor += p.AllShopsMapDelay
			steps = append(steps, Step{Offset: cursor, Op: OpAllShopsMap, Text: dec.AllShopsMap(pins), IsHTML: true})
		}
	}

	for _, v := range reply.YoutubeLinks {
		cursor += p.VideoDelay
		steps = append(steps, Step{Offset: cursor, Op: OpAppendVideo, Text: dec.Video(v), IsHTML: true})
	}

	if len(reply.Suggestions) > 0 {
		at := cursor - p.SuggestionsLead
		if at < 0 {
			at = 0
		}
		suggestions := make([]string, len(reply.Suggestions))
		copy(suggestions, reply.Suggestions)
		steps = append(steps, Step{Offset: at, Op: OpAppendSuggestions, Suggestions: suggestions})
	}

	return steps
}

func trailing(reply domain.NormalizedReply, dec Decorator) string {
	var out string
	if reply.MapLink != "" {
		out += dec.MapsWidget(reply.MapLink)
	}
	if len(reply.SearchResults) > 0 {
		out += dec.SearchResults(reply.SearchResults)
	}
	return out
}

// Total is the offset of the last step.
func Total(steps []Step) time.Duration {
	var last time.Duration
	for _, s := range steps {
		if s.Offset > last {
			last = s.Offset
		}
	}
	return last
}
