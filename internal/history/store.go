// Package history provides the bounded, persisted conversation log.
//
// The log is a single JSON array of role/content entries rewritten
// wholesale on every mutation, so the file on disk is always a complete,
// valid snapshot. The store is the only owner of the sequence; callers
// get copies.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/guardedchat/gatehouse/internal/gemini"
)

// Role values for history entries.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Entry is one persisted conversation message.
type Entry struct {
	Role    string `json:"role"` // user, model
	Content string `json:"content"`
}

// Store manages the conversation history. All methods are safe for
// concurrent use; reads and writes serialize on one mutex so the
// on-disk file and the in-memory sequence never diverge.
type Store struct {
	mu       sync.Mutex
	path     string
	maxTurns int
	entries  []Entry
	logger   *slog.Logger
}

// NewStore creates a history store backed by the JSON file at path,
// trimmed to the newest maxTurns entries. A missing or malformed file
// is never fatal: the store starts empty and logs a warning.
func NewStore(path string, maxTurns int, logger *slog.Logger) *Store {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:     path,
		maxTurns: maxTurns,
		logger:   logger,
	}
	s.entries = s.load()

	logger.Info("history store ready",
		"path", path,
		"entries", len(s.entries),
		"max_turns", maxTurns,
	)
	return s
}

// load reads the history file. Any failure degrades to an empty
// history rather than an error; a corrupt file must not take the
// service down.
func (s *Store) load() []Entry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("history file unreadable, starting empty", "path", s.path, "error", err)
		}
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("history file malformed, starting empty", "path", s.path, "error", err)
		return nil
	}

	for _, e := range entries {
		if e.Role != RoleUser && e.Role != RoleModel {
			s.logger.Warn("history file has invalid entries, starting empty", "path", s.path, "role", e.Role)
			return nil
		}
	}
	return entries
}

// persist writes the full sequence to disk. Called with the mutex held.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}

// Append adds an entry, persists the full sequence, and trims to the
// newest maxTurns entries. The length invariant holds on return even
// when persistence fails; a write error is logged and returned so the
// caller can decide, but the in-memory sequence stays consistent.
func (s *Store) Append(role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{Role: role, Content: content})
	if len(s.entries) > s.maxTurns {
		s.entries = s.entries[len(s.entries)-s.maxTurns:]
	}

	if err := s.persist(); err != nil {
		s.logger.Error("history persist failed, continuing in memory", "path", s.path, "error", err)
		return err
	}
	return nil
}

// All returns a copy of the full history in insertion order.
func (s *Store) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clear resets the history to empty and persists immediately.
// Clearing an already-empty history is a no-op with the same result.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	if err := s.persist(); err != nil {
		s.logger.Error("history clear persist failed", "path", s.path, "error", err)
		return err
	}
	return nil
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ForModel returns the projection of the history sent to the
// completion service: plain-text entries in original order. Entries
// standing in for binary payloads (image placeholders) are dropped;
// the model cannot use a filename marker as context.
func (s *Store) ForModel() []gemini.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]gemini.Message, 0, len(s.entries))
	for _, e := range s.entries {
		if strings.HasPrefix(e.Content, "[Image:") {
			continue
		}
		out = append(out, gemini.Message{Role: e.Role, Content: e.Content})
	}
	return out
}
