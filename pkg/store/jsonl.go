package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tsscraper/pkg/logger"
	"tsscraper/pkg/models"
)

// JSONLStore keeps one page record per line and appends new pages. A
// final line cut short by a crash is ignored on load and trimmed before
// the next append.
type JSONLStore struct {
	path   string
	lock   *fileLock
	logger logger.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewJSONLStore creates a line-delimited store at path
func NewJSONLStore(path string, log logger.Logger) *JSONLStore {
	return &JSONLStore{
		path:   path,
		lock:   newFileLock(path),
		logger: log,
		now:    time.Now,
	}
}

// Location returns the file path
func (s *JSONLStore) Location() string {
	return s.path
}

// LoadPages decodes every complete line
func (s *JSONLStore) LoadPages(ctx context.Context) ([]models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}
	pages, _, err := s.decode(data)
	return pages, err
}

func (s *JSONLStore) read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return data, nil
}

// decode parses data line by line. valid is the length of the prefix
// holding intact records; anything after it is a torn tail.
func (s *JSONLStore) decode(data []byte) (pages []models.Page, valid int, err error) {
	offset := 0
	for lineNo := 1; offset < len(data); lineNo++ {
		end := bytes.IndexByte(data[offset:], '\n')
		terminated := end >= 0
		if !terminated {
			end = len(data) - offset
		}
		line := bytes.TrimSpace(data[offset : offset+end])

		if len(line) > 0 {
			var page models.Page
			if err := json.Unmarshal(line, &page); err != nil {
				if !terminated {
					s.logger.WarnWithFields("Ignoring torn final line", map[string]interface{}{
						"path": s.path,
						"line": lineNo,
					})
					return pages, offset, nil
				}
				return nil, 0, fmt.Errorf("failed to decode %s line %d: %w", s.path, lineNo, err)
			}
			pages = append(pages, page)
		}

		offset += end
		if terminated {
			offset++
		}
	}
	return pages, offset, nil
}

// LoadState replays the persisted pages
func (s *JSONLStore) LoadState(ctx context.Context) (models.State, error) {
	pages, err := s.LoadPages(ctx)
	if err != nil {
		return models.State{}, err
	}
	return models.ReplayState(pages), nil
}

// SavePage appends page as one fsynced line
func (s *JSONLStore) SavePage(ctx context.Context, page models.Page) error {
	line, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to encode page: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repairTail(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}

	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("failed to append page: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync %s: %w", s.path, err)
	}
	return file.Close()
}

// repairTail makes the file end on a record boundary: a torn final line
// is cut off, an intact one missing its newline gets it.
func (s *JSONLStore) repairTail() error {
	data, err := s.read()
	if err != nil || len(data) == 0 || data[len(data)-1] == '\n' {
		return err
	}

	_, valid, err := s.decode(data)
	if err != nil {
		return err
	}

	if valid < len(data) {
		s.logger.WarnWithFields("Trimming torn final line", map[string]interface{}{
			"path":  s.path,
			"bytes": len(data) - valid,
		})
		if err := os.Truncate(s.path, int64(valid)); err != nil {
			return fmt.Errorf("failed to trim %s: %w", s.path, err)
		}
		return nil
	}

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	if _, err := file.Write([]byte{'\n'}); err != nil {
		file.Close()
		return fmt.Errorf("failed to terminate final line: %w", err)
	}
	return file.Close()
}

// NewestID returns the first item id in the file
func (s *JSONLStore) NewestID(ctx context.Context) (string, bool, error) {
	pages, err := s.LoadPages(ctx)
	if err != nil {
		return "", false, err
	}
	id, ok := models.NewestID(pages)
	return id, ok, nil
}

// PrependItems rewrites the file with a synthetic page 0 first
func (s *JSONLStore) PrependItems(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	pages, _, err := s.decode(data)
	if err != nil {
		return err
	}

	pages = append([]models.Page{
		models.NewPage(models.ReconciledPageNumber, models.NoCursor, items, s.now()),
	}, pages...)

	var buf bytes.Buffer
	for _, page := range pages {
		line, err := json.Marshal(page)
		if err != nil {
			return fmt.Errorf("failed to encode page: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return writeFileAtomic(s.path, buf.Bytes())
}

// Lock takes the lock file next to the store
func (s *JSONLStore) Lock(ctx context.Context) error {
	return s.lock.acquire()
}

// Close releases the lock
func (s *JSONLStore) Close() error {
	return s.lock.release()
}
