// Package history persists delivered transcripts as append-only JSON lines.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"dictamic/internal/domain"
)

// Store appends one {ts, text} object per line. Lines written by older
// versions as plain text are still listed; stray log lines are skipped.
type Store struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string {
	return s.path
}

type line struct {
	TS   string `json:"ts"`
	Text string `json:"text"`
}

// Append writes entry as a single line. A zero timestamp is stamped now.
func (s *Store) Append(entry domain.HistoryEntry) error {
	text := strings.TrimSpace(entry.Text)
	if text == "" {
		return nil
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	payload, err := json.Marshal(line{TS: ts.UTC().Format(time.RFC3339Nano), Text: text})
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("append history: %w", err)
	}
	return f.Close()
}

// List returns entries newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]domain.HistoryEntry, error) {
	return s.Search("", limit)
}

// Search is List filtered by a case-insensitive substring.
func (s *Store) Search(query string, limit int) ([]domain.HistoryEntry, error) {
	entries, err := s.read()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query != "" {
		entries = lo.Filter(entries, func(e domain.HistoryEntry, _ int) bool {
			return strings.Contains(strings.ToLower(e.Text), query)
		})
	}

	entries = lo.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Latest returns the most recent entry, if any.
func (s *Store) Latest() (domain.HistoryEntry, bool, error) {
	entries, err := s.List(1)
	if err != nil || len(entries) == 0 {
		return domain.HistoryEntry{}, false, err
	}
	return entries[0], true, nil
}

// Clear truncates the log.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path, nil, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *Store) read() ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var entries []domain.HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "{") {
			if entry, ok := parseJSONLine(raw); ok {
				entries = append(entries, entry)
			}
			continue
		}
		if looksLikeLog(raw) {
			continue
		}
		entries = append(entries, domain.HistoryEntry{Text: raw})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

func parseJSONLine(raw string) (domain.HistoryEntry, bool) {
	var l line
	if err := json.Unmarshal([]byte(raw), &l); err != nil || strings.TrimSpace(l.Text) == "" {
		return domain.HistoryEntry{}, false
	}
	entry := domain.HistoryEntry{Text: l.Text}
	if ts, err := time.Parse(time.RFC3339Nano, l.TS); err == nil {
		entry.Timestamp = ts
	}
	return entry, true
}

var (
	localeLogPrefix  = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4},`)
	backendLogPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

func looksLikeLog(raw string) bool {
	return strings.HasPrefix(raw, "[") ||
		localeLogPrefix.MatchString(raw) ||
		backendLogPrefix.MatchString(raw)
}
