// Package testutil provides a configurable mock timeline API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// MockResponse defines a canned response returned ahead of real pages.
type MockResponse struct {
	StatusCode int
	Body       string
}

// MockTimeline serves /api/v1/accounts/lookup and
// /api/v1/accounts/{id}/statuses from an in-memory list of statuses,
// newest first, paginated by max_id.
type MockTimeline struct {
	server *httptest.Server

	mu        sync.Mutex
	handle    string
	accountID string
	statuses  []mockStatus
	queued    []MockResponse
	handlers  map[string]http.HandlerFunc

	// Tracking
	lookupCount   int
	statusQueries []string
	lastHeader    http.Header
}

type mockStatus struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// NewMockTimeline creates a mock API for one account whose timeline
// holds the given ids, newest first.
func NewMockTimeline(handle, accountID string, ids ...string) *MockTimeline {
	m := &MockTimeline{
		handle:    handle,
		accountID: accountID,
		handlers:  make(map[string]http.HandlerFunc),
	}
	m.SetStatuses(ids...)
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server URL.
func (m *MockTimeline) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTimeline) Close() {
	m.server.Close()
}

// SetStatuses replaces the timeline with ids, newest first.
func (m *MockTimeline) SetStatuses(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = make([]mockStatus, len(ids))
	for i, id := range ids {
		m.statuses[i] = mockStatus{ID: id, Content: fmt.Sprintf("<p>status %s</p>", id)}
	}
}

// Publish adds newer statuses at the head of the timeline.
func (m *MockTimeline) Publish(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := make([]mockStatus, len(ids))
	for i, id := range ids {
		fresh[i] = mockStatus{ID: id, Content: fmt.Sprintf("<p>status %s</p>", id)}
	}
	m.statuses = append(fresh, m.statuses...)
}

// SetContent changes the content field of a status.
func (m *MockTimeline) SetContent(id, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.statuses {
		if m.statuses[i].ID == id {
			m.statuses[i].Content = content
		}
	}
}

// QueueResponses makes the next statuses requests return these responses
// in order before real pages are served again.
func (m *MockTimeline) QueueResponses(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, responses...)
}

// FailNext queues n responses with the given status code.
func (m *MockTimeline) FailNext(statusCode, n int) {
	for i := 0; i < n; i++ {
		m.QueueResponses(MockResponse{StatusCode: statusCode, Body: `{"error":"mock failure"}`})
	}
}

// SetHandler overrides the handler for a specific path.
func (m *MockTimeline) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// StatusQueries returns the max_id of every statuses request, "" for none.
func (m *MockTimeline) StatusQueries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.statusQueries))
	copy(out, m.statusQueries)
	return out
}

// LookupCount returns how many account lookups were served.
func (m *MockTimeline) LookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupCount
}

// LastHeader returns the headers of the most recent request.
func (m *MockTimeline) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// StatusesPath returns the statuses path of the mock account.
func (m *MockTimeline) StatusesPath() string {
	return "/api/v1/accounts/" + m.accountID + "/statuses"
}

func (m *MockTimeline) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.lastHeader = r.Header.Clone()
	handler, exists := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if exists {
		if r.URL.Path == m.StatusesPath() {
			m.trackStatuses(r)
		}
		handler(w, r)
		return
	}

	switch {
	case r.URL.Path == "/api/v1/accounts/lookup":
		m.serveLookup(w, r)
	case r.URL.Path == m.StatusesPath():
		m.trackStatuses(r)
		m.serveStatuses(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Record not found"})
	}
}

func (m *MockTimeline) trackStatuses(r *http.Request) {
	m.mu.Lock()
	m.statusQueries = append(m.statusQueries, r.URL.Query().Get("max_id"))
	m.mu.Unlock()
}

func (m *MockTimeline) serveLookup(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.lookupCount++
	count := len(m.statuses)
	m.mu.Unlock()

	if !strings.EqualFold(r.URL.Query().Get("acct"), m.handle) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Record not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             m.accountID,
		"username":       m.handle,
		"acct":           m.handle,
		"display_name":   strings.ToUpper(m.handle),
		"statuses_count": count,
	})
}

func (m *MockTimeline) serveStatuses(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	if len(m.queued) > 0 {
		resp := m.queued[0]
		m.queued = m.queued[1:]
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write([]byte(resp.Body))
		return
	}
	statuses := make([]mockStatus, len(m.statuses))
	copy(statuses, m.statuses)
	m.mu.Unlock()

	limit := 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	start := 0
	if maxID := r.URL.Query().Get("max_id"); maxID != "" {
		start = len(statuses)
		for i, s := range statuses {
			if olderThan(s.ID, maxID) {
				start = i
				break
			}
		}
	}

	end := start + limit
	if end > len(statuses) {
		end = len(statuses)
	}
	writeJSON(w, http.StatusOK, statuses[start:end])
}

// olderThan compares numeric ids without parsing them.
func olderThan(id, maxID string) bool {
	if len(id) != len(maxID) {
		return len(id) < len(maxID)
	}
	return id < maxID
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DescendingIDs returns n numeric ids counting down from newest.
func DescendingIDs(newest, n int) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = strconv.Itoa(newest - i)
	}
	return ids
}
