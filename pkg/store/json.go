package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"tsscraper/pkg/logger"
	"tsscraper/pkg/models"
)

// JSONStore keeps all pages in one indented JSON array. Every write
// rewrites the whole document atomically.
type JSONStore struct {
	path   string
	lock   *fileLock
	logger logger.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewJSONStore creates a whole-document store at path
func NewJSONStore(path string, log logger.Logger) *JSONStore {
	return &JSONStore{
		path:   path,
		lock:   newFileLock(path),
		logger: log,
		now:    time.Now,
	}
}

// Location returns the document path
func (s *JSONStore) Location() string {
	return s.path
}

// LoadPages reads the document; a missing or empty file holds no pages
func (s *JSONStore) LoadPages(ctx context.Context) ([]models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadPages()
}

func (s *JSONStore) loadPages() ([]models.Page, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var pages []models.Page
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	return pages, nil
}

// LoadState replays the persisted pages
func (s *JSONStore) LoadState(ctx context.Context) (models.State, error) {
	pages, err := s.LoadPages(ctx)
	if err != nil {
		return models.State{}, err
	}
	return models.ReplayState(pages), nil
}

// SavePage appends page and rewrites the document
func (s *JSONStore) SavePage(ctx context.Context, page models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages, err := s.loadPages()
	if err != nil {
		return err
	}
	return s.write(append(pages, page))
}

// NewestID returns the first item id of the document
func (s *JSONStore) NewestID(ctx context.Context) (string, bool, error) {
	pages, err := s.LoadPages(ctx)
	if err != nil {
		return "", false, err
	}
	id, ok := models.NewestID(pages)
	return id, ok, nil
}

// PrependItems inserts a synthetic page 0 at the front of the document
func (s *JSONStore) PrependItems(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pages, err := s.loadPages()
	if err != nil {
		return err
	}
	page := models.NewPage(models.ReconciledPageNumber, models.NoCursor, items, s.now())
	return s.write(append([]models.Page{page}, pages...))
}

func (s *JSONStore) write(pages []models.Page) error {
	if pages == nil {
		pages = []models.Page{}
	}
	data, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pages: %w", err)
	}
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return err
	}

	s.logger.DebugWithFields("Store document written", map[string]interface{}{
		"path":  s.path,
		"pages": len(pages),
	})
	return nil
}

// Lock takes the lock file next to the document
func (s *JSONStore) Lock(ctx context.Context) error {
	return s.lock.acquire()
}

// Close releases the lock
func (s *JSONStore) Close() error {
	return s.lock.release()
}
