// Package progress persists replication checkpoints in a JSON file keyed by
// source/target pair.
package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blockedby/tg-cloner/internal/logger"
)

// Entry is the checkpoint stored for one source/target pair.
type Entry struct {
	LastMessageID     int    `json:"last_message_id"`
	Completed         bool   `json:"completed"`
	LastUpdate        string `json:"last_update,omitempty"`
	MessagesProcessed int    `json:"messages_processed"`
	MessagesSent      int    `json:"messages_sent"`
	MessagesFailed    int    `json:"messages_failed"`
}

// UpdatedAt parses LastUpdate. ok is false when the field is empty or was
// edited into something that is not a timestamp.
func (e Entry) UpdatedAt() (t time.Time, ok bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, e.LastUpdate); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Store reads and writes the progress file. Failures never reach the caller:
// they are logged and the in-memory run continues.
type Store struct {
	path string
	log  *logger.Logger
	now  func() time.Time
	mu   sync.Mutex
}

// NewStore creates a store backed by the file at path.
func NewStore(path string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Get()
	}
	return &Store{
		path: path,
		log:  log,
		now:  time.Now,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the entry for key. found is false when the file, the key or
// a readable entry is missing; the zero Entry is returned then.
func (s *Store) Load(key string) (entry Entry, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readAll()
	if err != nil {
		s.log.Warn().Err(err).Str("file", s.path).Msg("progress: could not read progress file, starting fresh")
		return Entry{}, false
	}

	msg, ok := raw[key]
	if !ok {
		return Entry{}, false
	}
	entry, ok, err = decodeEntry(msg)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Bool("used", ok).Msg("progress: malformed entry")
	}
	if !ok {
		return Entry{}, false
	}
	return entry, true
}

// decodeEntry reads one stored entry. Fields with the wrong type keep their
// zero value and the rest is still used; ok is false only when the entry is
// not a JSON object. A quoted or fractional last_message_id is accepted.
func decodeEntry(msg json.RawMessage) (entry Entry, ok bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("entry is null")
		}
		return Entry{}, false, err
	}

	var typeErr *json.UnmarshalTypeError
	if err = json.Unmarshal(msg, &entry); err != nil && !errors.As(err, &typeErr) {
		return Entry{}, false, err
	}
	if id, found := fields["last_message_id"]; found {
		if n, perr := lenientInt(id); perr == nil {
			entry.LastMessageID = n
		}
	}
	return entry, true, err
}

// lenientInt parses 500, 500.0 and "500".
func lenientInt(raw json.RawMessage) (int, error) {
	var str string
	if json.Unmarshal(raw, &str) == nil {
		raw = json.RawMessage(strings.TrimSpace(str))
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, err
	}
	f, err := num.Float64()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readAll()
	if err != nil {
		s.log.Warn().Err(err).Str("file", s.path).Msg("progress: could not read progress file")
		return nil
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save replaces the entry for key and leaves every other entry untouched.
// last_message_id never moves backwards for a key. Returns false if the
// file could not be written; the previous file content is kept in that case.
func (s *Store) Save(key string, entry Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readAll()
	if err != nil {
		// a corrupt file is replaced, an unreadable one is left alone
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
			s.log.Warn().Err(err).Str("file", s.path).Msg("progress: could not save progress")
			return false
		}
		s.log.Warn().Err(err).Str("file", s.path).Msg("progress: overwriting corrupt progress file")
		raw = map[string]json.RawMessage{}
	}

	if prev, ok := raw[key]; ok {
		if old, ok, _ := decodeEntry(prev); ok && old.LastMessageID > entry.LastMessageID {
			entry.LastMessageID = old.LastMessageID
		}
	}
	entry.LastUpdate = s.now().Format(time.RFC3339)

	encoded, err := json.Marshal(entry)
	if err != nil {
		s.log.Warn().Err(err).Msg("progress: could not encode entry")
		return false
	}
	raw[key] = encoded

	if err := s.writeAll(raw); err != nil {
		s.log.Warn().Err(err).Str("file", s.path).Msg("progress: could not save progress")
		return false
	}

	s.log.Debug().Str("key", key).Int("last_message_id", entry.LastMessageID).Msg("progress: checkpoint saved")
	return true
}

// readAll returns the raw entries. A missing or empty file is an empty map.
func (s *Store) readAll() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return raw, nil
}

// writeAll writes to a temp file next to the target and renames it into place.
func (s *Store) writeAll(raw map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
