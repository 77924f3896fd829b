package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/matzehuels/masonry/pkg/cache"
	"github.com/matzehuels/masonry/pkg/errors"
)

// Item is a canonical, immutable feed entry.
type Item struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	Height      float64        `json:"height,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	Raw         map[string]any `json:"-"`
}

// FieldMapping maps canonical item fields to dot paths in raw items.
// An empty path leaves the field unset.
type FieldMapping struct {
	ID          string            `toml:"id" json:"id"`
	Title       string            `toml:"title" json:"title"`
	Description string            `toml:"description" json:"description"`
	ImageURL    string            `toml:"image_url" json:"imageUrl"`
	Height      string            `toml:"height" json:"height"`
	Extra       map[string]string `toml:"extra" json:"extra,omitempty"`
}

// DefaultFieldMapping returns the mapping for upstreams that already use
// canonical names.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		ID:          "id",
		Title:       "title",
		Description: "description",
		ImageURL:    "imageUrl",
		Height:      "height",
	}
}

// Validate checks every path in m.
func (m FieldMapping) Validate() error {
	for name, path := range map[string]string{
		"id":          m.ID,
		"title":       m.Title,
		"description": m.Description,
		"image_url":   m.ImageURL,
		"height":      m.Height,
	} {
		if err := errors.ValidateFieldPath(path); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "field %s", name)
		}
	}
	for name, path := range m.Extra {
		if name == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "extra field with empty name")
		}
		if err := errors.ValidateFieldPath(path); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "extra field %s", name)
		}
	}
	return nil
}

// Map converts a raw upstream item into an Item.
// Items without a resolvable ID are keyed by a hash of their content so
// deduplication still works.
func (m FieldMapping) Map(raw map[string]any) Item {
	item := Item{
		ID:          stringAt(raw, m.ID),
		Title:       stringAt(raw, m.Title),
		Description: stringAt(raw, m.Description),
		ImageURL:    stringAt(raw, m.ImageURL),
		Raw:         raw,
	}
	if v, ok := Resolve(raw, m.Height); ok {
		item.Height, _ = toFloat(v)
	}
	if len(m.Extra) > 0 {
		item.Extra = make(map[string]any, len(m.Extra))
		for name, path := range m.Extra {
			if v, ok := Resolve(raw, path); ok {
				item.Extra[name] = v
			}
		}
	}
	if item.ID == "" {
		item.ID = contentKey(raw)
	}
	return item
}

// MapAll maps a page of raw items, preserving order.
func (m FieldMapping) MapAll(raw []map[string]any) []Item {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		items = append(items, m.Map(r))
	}
	return items
}

func contentKey(raw map[string]any) string {
	// encoding/json sorts map keys, so the hash is stable.
	data, err := json.Marshal(raw)
	if err != nil {
		data = []byte(fmt.Sprint(raw))
	}
	return "sha256:" + cache.Hash(data)[:16]
}

// Resolve walks a dot path through nested maps and slices.
// Numeric segments index into slices. An empty path resolves to nothing.
func Resolve(raw map[string]any, path string) (any, bool) {
	if path == "" || raw == nil {
		return nil, false
	}
	var cur any = raw
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func stringAt(raw map[string]any, path string) string {
	v, ok := Resolve(raw, path)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
