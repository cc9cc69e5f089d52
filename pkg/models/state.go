package models

// State is where a harvest resumes. It is always derived from the
// persisted pages and never stored on its own.
type State struct {
	Cursor     Cursor `json:"cursor"`
	NextPage   int    `json:"next_page"`
	TotalItems int    `json:"total_items"`
}

// InitialState is the state of an empty store.
func InitialState() State {
	return State{Cursor: NoCursor, NextPage: 1, TotalItems: 0}
}

// ReplayState derives the resume state from persisted pages in stored
// order. The cursor is the last item of the last page that holds any
// (filtered pages may be empty); the total counts every page, including
// reconciled ones.
func ReplayState(pages []Page) State {
	if len(pages) == 0 {
		return InitialState()
	}

	state := InitialState()
	for _, p := range pages {
		state.TotalItems += p.Count
	}
	for i := len(pages) - 1; i >= 0; i-- {
		if id := pages[i].LastID(); id != "" {
			state.Cursor = Cursor(id)
			break
		}
	}
	state.NextPage = pages[len(pages)-1].Page + 1
	return state
}

// NewestID returns the id of the first item of the first non-empty page.
func NewestID(pages []Page) (string, bool) {
	for _, p := range pages {
		if id := p.FirstID(); id != "" {
			return id, true
		}
	}
	return "", false
}
