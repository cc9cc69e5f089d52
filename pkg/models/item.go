package models

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Cursor is the id of the last item of the most recently completed page.
// The zero value means "start from the newest item".
type Cursor string

// NoCursor requests the newest page.
const NoCursor Cursor = ""

// IsNone reports whether c is the "start from newest" sentinel.
func (c Cursor) IsNone() bool {
	return c == NoCursor
}

// Item is a single remote record. Only its id is interpreted; the payload
// is kept verbatim.
type Item struct {
	ID  string
	Raw json.RawMessage
}

// NewItem builds an Item from a raw JSON object, reading its id.
func NewItem(raw []byte) (Item, error) {
	id := gjson.GetBytes(raw, "id")
	if !id.Exists() || id.String() == "" {
		return Item{}, fmt.Errorf("record has no id")
	}
	// copy so the item does not alias the response buffer
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return Item{ID: id.String(), Raw: buf}, nil
}

// MarshalJSON emits the original payload.
func (i Item) MarshalJSON() ([]byte, error) {
	if len(i.Raw) == 0 {
		return json.Marshal(map[string]string{"id": i.ID})
	}
	return i.Raw, nil
}

// UnmarshalJSON keeps the payload and extracts the id.
func (i *Item) UnmarshalJSON(data []byte) error {
	item, err := NewItem(data)
	if err != nil {
		return err
	}
	*i = item
	return nil
}

// LastID returns the id of the last item, or "" for an empty slice.
func LastID(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	return items[len(items)-1].ID
}
