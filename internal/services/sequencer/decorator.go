package sequencer

import (
	"html/template"
	"strings"

	"ChatWidget/internal/domain"
)

// Decorator renders the non-text parts of a reply as HTML snippets.
type Decorator interface {
	MapsWidget(link string) string
	SearchResults(results []domain.SearchResult) string
	ShopCard(shop domain.Shop) string
	AllShopsMap(pins []domain.MapPin) string
	Video(v domain.VideoLink) string
}

var tmpl = template.Must(template.New("widget").Parse(`
{{define "maps"}}<div class="chat-maps-widget"><a href="{{.}}" target="_blank" rel="noopener">Auf Google Maps öffnen</a></div>{{end}}
{{define "search"}}<ul class="chat-search-results">{{range .}}<li><a href="{{.URL}}" target="_blank" rel="noopener">{{if .Icon}}<img src="{{.Icon}}" alt="">{{end}}{{.Title}}</a></li>{{end}}</ul>{{end}}
{{define "shop"}}<div class="chat-shop-card" data-shop-id="{{.ID}}"><strong>{{.Name}}</strong><span class="address">{{.Address}}</span>{{if .Hours}}<span class="hours">{{.Hours}}</span>{{end}}</div>{{end}}
{{define "allShops"}}<div class="chat-all-shops-map">{{range .}}<span class="pin" data-shop-id="{{.ShopID}}" data-lat="{{.Latitude}}" data-lng="{{.Longitude}}">{{.Title}}</span>{{end}}</div>{{end}}
{{define "video"}}<div class="chat-video"><a href="{{.URL}}" target="_blank" rel="noopener">{{if .Title}}{{.Title}}{{else}}Video ansehen{{end}}</a></div>{{end}}
`))

// HTMLDecorator escapes everything that comes from the backend.
type HTMLDecorator struct{}

var _ Decorator = HTMLDecorator{}

func (HTMLDecorator) MapsWidget(link string) string { return render("maps", link) }

func (HTMLDecorator) SearchResults(results []domain.SearchResult) string {
	return render("search", results)
}

func (HTMLDecorator) ShopCard(shop domain.Shop) string { return render("shop", shop) }

func (HTMLDecorator) AllShopsMap(pins []domain.MapPin) string { return render("allShops", pins) }

func (HTMLDecorator) Video(v domain.VideoLink) string { return render("video", v) }

func render(name string, data any) string {
	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return ""
	}
	return b.String()
}
