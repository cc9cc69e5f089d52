package models

import "time"

// ReconciledPageNumber is the page number of synthetic pages holding items
// published after the first harvest.
const ReconciledPageNumber = 0

// Page is one persisted batch of items.
type Page struct {
	Page      int       `json:"page"`
	Cursor    Cursor    `json:"cursor,omitempty"`
	Count     int       `json:"count"`
	FetchedAt time.Time `json:"fetched_at"`
	Data      []Item    `json:"data"`
}

// NewPage builds a page record, deriving Count from items.
func NewPage(number int, cursor Cursor, items []Item, fetchedAt time.Time) Page {
	if items == nil {
		items = []Item{}
	}
	return Page{
		Page:      number,
		Cursor:    cursor,
		Count:     len(items),
		FetchedAt: fetchedAt.UTC(),
		Data:      items,
	}
}

// LastID returns the id of the page's last item.
func (p Page) LastID() string {
	return LastID(p.Data)
}

// FirstID returns the id of the page's first item.
func (p Page) FirstID() string {
	if len(p.Data) == 0 {
		return ""
	}
	return p.Data[0].ID
}
