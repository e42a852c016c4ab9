// Package planstore persists the results of completed call steps.
//
// The store is a small overwrite-by-key cache backed by one JSON file. Each
// key holds the latest result for that step (last-write-wins, no history)
// together with the time it was recorded. Writes never block the caller:
// the in-memory map is updated synchronously and a background flusher
// persists to disk.
package planstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one cached step result: a timestamp plus the recorded payload
// fields, stored as a single flat JSON object.
type Entry struct {
	Timestamp time.Time
	Fields    map[string]any
}

// MarshalJSON flattens the entry into {"timestamp": ..., ...fields}.
func (e Entry) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		if k == "timestamp" {
			continue
		}
		obj[k] = v
	}
	obj["timestamp"] = e.Timestamp.Format(time.RFC3339)
	return json.Marshal(obj)
}

// UnmarshalJSON restores an entry from its flat JSON form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	if raw, ok := obj["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			e.Timestamp = ts
		}
	}
	delete(obj, "timestamp")
	e.Fields = obj

	return nil
}

// Store is a JSON-file backed result cache.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool

	saveMu  sync.Mutex
	flushCh chan struct{}
	quitCh  chan struct{}
	doneCh  chan struct{}
}

// storeData is the JSON structure of the store file.
type storeData struct {
	Version   int              `json:"version"`
	UpdatedAt string           `json:"updated_at"`
	Results   map[string]Entry `json:"results"`
}

const currentVersion = 1

// NewStore creates a store at the given path.
// If the file doesn't exist, it is created on first flush.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
		flushCh: make(chan struct{}, 1),
		quitCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			// The cache is reconstructible; start fresh rather than fail
			logger.Warn("result store unreadable, starting fresh",
				"path", path, "error", err)
			s.entries = make(map[string]Entry)
		}
	}

	go s.flushLoop()

	return s, nil
}

// NewDefaultStore creates a store at the default location (~/.coach/results.json).
func NewDefaultStore(logger *slog.Logger) (*Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewStore(filepath.Join(homeDir, ".coach", "results.json"), logger)
}

// load reads the store file into memory.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	s.entries = stored.Results
	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}

	return nil
}

// Record overwrites the entry for key with the given payload fields,
// stamped with the current time. It never blocks on disk I/O: persistence
// happens on the background flusher.
func (s *Store) Record(key string, fields map[string]any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.entries[key] = Entry{
		Timestamp: time.Now(),
		Fields:    fields,
	}
	s.mu.Unlock()

	// Nudge the flusher; a pending nudge already covers this write
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

// Last returns the most recent entry for key, if any.
func (s *Store) Last(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	return entry, ok
}

// All returns a snapshot of every entry.
func (s *Store) All() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Count returns the number of cached entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Path returns the file path of the store.
func (s *Store) Path() string {
	return s.path
}

// Flush synchronously writes the store to disk.
func (s *Store) Flush() error {
	s.mu.RLock()
	results := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		results[k] = v
	}
	s.mu.RUnlock()

	stored := storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Results:   results,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Serialize writers; write to temp file then rename (atomic write)
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// flushLoop persists the store whenever Record nudges it.
func (s *Store) flushLoop() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.quitCh:
			return
		case <-s.flushCh:
			if err := s.Flush(); err != nil {
				s.logger.Warn("result store flush failed", "error", err)
			}
		}
	}
}

// Close stops the flusher and performs a final flush.
// The store accepts no writes after Close.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.quitCh)
	<-s.doneCh

	return s.Flush()
}
