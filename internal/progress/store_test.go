package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-cloner/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "clone_progress.json"), logger.Nop())
	s.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	return s
}

// readEntry decodes one key of the file, leaving the others untouched.
func readEntry(t *testing.T, path, key string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	raw := map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, key)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw[key], &out))
	return out
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := newTestStore(t)

	entry, found := s.Load("a_to_b")
	assert.False(t, found)
	assert.Equal(t, Entry{}, entry)
}

func TestStore_LoadCorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	entry, found := s.Load("a_to_b")
	assert.False(t, found)
	assert.Equal(t, Entry{}, entry)
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	ok := s.Save("a_to_b", Entry{LastMessageID: 42, MessagesProcessed: 10, MessagesSent: 9, MessagesFailed: 1})
	require.True(t, ok)

	entry, found := s.Load("a_to_b")
	require.True(t, found)
	assert.Equal(t, 42, entry.LastMessageID)
	assert.Equal(t, 10, entry.MessagesProcessed)
	assert.Equal(t, 9, entry.MessagesSent)
	assert.Equal(t, 1, entry.MessagesFailed)
	assert.Equal(t, "2024-01-15T12:00:00Z", entry.LastUpdate)

	_, err := os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not be left behind")
}

func TestStore_SaveKeepsOtherEntries(t *testing.T) {
	s := newTestStore(t)
	existing := `{
  "other_to_pair": {"last_message_id": 7, "completed": true, "custom": "kept"},
  "broken_entry": "manually edited"
}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(existing), 0o644))

	require.True(t, s.Save("a_to_b", Entry{LastMessageID: 3}))

	other := readEntry(t, s.Path(), "other_to_pair")
	assert.Equal(t, float64(7), other["last_message_id"])
	assert.Equal(t, "kept", other["custom"])
	assert.Equal(t, float64(3), readEntry(t, s.Path(), "a_to_b")["last_message_id"])

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"manually edited"`)
}

func TestStore_LastMessageIDIsMonotonic(t *testing.T) {
	s := newTestStore(t)

	ids := []int{10, 50, 30, 50, 80, 0}
	last := 0
	for _, id := range ids {
		require.True(t, s.Save("a_to_b", Entry{LastMessageID: id}))
		entry, found := s.Load("a_to_b")
		require.True(t, found)
		assert.GreaterOrEqual(t, entry.LastMessageID, last)
		last = entry.LastMessageID
	}
	assert.Equal(t, 80, last)
}

func TestStore_FailedSaveKeepsPreviousFile(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.Save("a_to_b", Entry{LastMessageID: 5}))

	// a directory in place of the temp file makes the write fail
	require.NoError(t, os.Mkdir(s.Path()+".tmp", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Path()+".tmp", "blocker"), nil, 0o644))

	ok := s.Save("a_to_b", Entry{LastMessageID: 99})
	assert.False(t, ok)

	entry, found := s.Load("a_to_b")
	require.True(t, found)
	assert.Equal(t, 5, entry.LastMessageID)
}

func TestStore_SaveOverCorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("[1, 2"), 0o644))

	require.True(t, s.Save("a_to_b", Entry{LastMessageID: 12}))

	entry, found := s.Load("a_to_b")
	require.True(t, found)
	assert.Equal(t, 12, entry.LastMessageID)
}

func TestStore_PartialEntry(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"a_to_b": {"last_message_id": 17}}`), 0o644))

	entry, found := s.Load("a_to_b")
	require.True(t, found)
	assert.Equal(t, 17, entry.LastMessageID)
	assert.False(t, entry.Completed)
	assert.Zero(t, entry.MessagesProcessed)

	_, ok := entry.UpdatedAt()
	assert.False(t, ok)
}

func TestStore_MistypedFields(t *testing.T) {
	tests := []struct {
		name      string
		entry     string
		wantFound bool
		wantID    int
	}{
		{name: "numeric last_update", entry: `{"last_message_id": 500, "last_update": 1}`, wantFound: true, wantID: 500},
		{name: "string counters", entry: `{"last_message_id": 500, "messages_sent": "many", "completed": "yes"}`, wantFound: true, wantID: 500},
		{name: "quoted id", entry: `{"last_message_id": "500"}`, wantFound: true, wantID: 500},
		{name: "fractional id", entry: `{"last_message_id": 500.0}`, wantFound: true, wantID: 500},
		{name: "unparseable id", entry: `{"last_message_id": "abc", "messages_sent": 4}`, wantFound: true, wantID: 0},
		{name: "not an object", entry: `"manually edited"`, wantFound: false},
		{name: "null", entry: `null`, wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.WriteFile(s.Path(), []byte(`{"a_to_b": `+tt.entry+`}`), 0o644))

			entry, found := s.Load("a_to_b")
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantID, entry.LastMessageID)
		})
	}
}

func TestStore_SaveNeverRewindsMistypedEntry(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"a_to_b": {"last_message_id": 500, "last_update": 1}}`), 0o644))

	require.True(t, s.Save("a_to_b", Entry{LastMessageID: 10, MessagesSent: 10}))

	entry, found := s.Load("a_to_b")
	require.True(t, found)
	assert.Equal(t, 500, entry.LastMessageID)
	assert.Equal(t, 10, entry.MessagesSent)
	assert.Equal(t, "2024-01-15T12:00:00Z", entry.LastUpdate)
}

func TestStore_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "nested", "progress.json")
	s := NewStore(path, logger.Nop())

	require.True(t, s.Save("a_to_b", Entry{LastMessageID: 1}))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestStore_Keys(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.Keys())

	s.Save("b_to_c", Entry{LastMessageID: 1})
	s.Save("a_to_b", Entry{LastMessageID: 1})

	assert.Equal(t, []string{"a_to_b", "b_to_c"}, s.Keys())
}

func TestEntry_UpdatedAt(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		wantOK bool
	}{
		{name: "rfc3339", value: "2024-01-15T12:00:00Z", wantOK: true},
		{name: "naive isoformat with micros", value: "2024-01-15T12:00:00.123456", wantOK: true},
		{name: "naive isoformat", value: "2024-01-15T12:00:00", wantOK: true},
		{name: "garbage", value: "yesterday", wantOK: false},
		{name: "empty", value: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Entry{LastUpdate: tt.value}.UpdatedAt()
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
