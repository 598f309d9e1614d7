// Package shops loads the read-only shop directory the widget renders cards
// and map pins from.
package shops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"ChatWidget/internal/domain"
)

var ErrBadStatus = errors.New("unexpected status")

type Catalog struct {
	shops map[string]domain.Shop
	pins  []domain.MapPin
}

type payload struct {
	Shops map[string]domain.Shop `json:"shops"`
	Pins  []domain.MapPin        `json:"pins"`
}

func Empty() *Catalog {
	return &Catalog{shops: map[string]domain.Shop{}}
}

func (c *Catalog) Lookup(id string) (domain.Shop, bool) {
	if c == nil {
		return domain.Shop{}, false
	}
	s, ok := c.shops[id]
	return s, ok
}

func (c *Catalog) Pins() []domain.MapPin {
	if c == nil {
		return nil
	}
	out := make([]domain.MapPin, len(c.pins))
	copy(out, c.pins)
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.shops)
}

// Load reads the directory from an http(s) URL or a local file.
// An empty source gives an empty catalog.
func Load(ctx context.Context, log *slog.Logger, source string, timeout time.Duration) (*Catalog, error) {
	const op = "shops.Load"

	if source == "" {
		return Empty(), nil
	}

	var (
		raw []byte
		err error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		raw, err = fetch(ctx, source, timeout)
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("shops loaded", slog.String("source", source), slog.Int("shops", c.Len()))

	return c, nil
}

func fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Parse fills missing shop ids from the map keys and derives pins when the
// source has none.
func Parse(raw []byte) (*Catalog, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	c := Empty()
	for id, s := range p.Shops {
		if s.ID == "" {
			s.ID = id
		}
		c.shops[id] = s
	}

	if len(p.Pins) > 0 {
		c.pins = p.Pins
		return c, nil
	}

	ids := make([]string, 0, len(c.shops))
	for id := range c.shops {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := c.shops[id]
		c.pins = append(c.pins, domain.MapPin{ShopID: id, Title: s.Name, Latitude: s.Latitude, Longitude: s.Longitude})
	}

	return c, nil
}
