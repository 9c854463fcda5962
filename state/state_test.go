package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhcgn/inbox-to-sheets/model"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "state.json"), nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

func TestFileStore_MissingFile(t *testing.T) {
	st := newTestStore(t).Load()
	if st.Len() != 0 {
		t.Errorf("Len() = %d, want 0", st.Len())
	}
	if _, ok := st.LastRun(); ok {
		t.Error("LastRun() present on fresh state")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	st := store.Load()
	st.MarkProcessed("a")
	st.MarkProcessed("b")
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	st.TouchLastRun(now)

	if err := store.Save(st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if st.Dirty() {
		t.Error("state still dirty after Save()")
	}

	loaded := store.Load()
	if !loaded.Contains("a") || !loaded.Contains("b") || loaded.Contains("c") {
		t.Errorf("loaded ids = %v", loaded.ProcessedIDs())
	}
	got, ok := loaded.LastRun()
	if !ok || !got.Equal(now) {
		t.Errorf("LastRun() = %v, %v; want %v", got, ok, now)
	}
}

func TestFileStore_DocumentShape(t *testing.T) {
	store := newTestStore(t)
	st := New()
	st.MarkProcessed("x")
	if err := store.Save(st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(doc) != 2 {
		t.Errorf("document has %d fields, want 2: %s", len(doc), data)
	}
	if v, ok := doc["lastRunTimestamp"]; !ok || v != nil {
		t.Errorf("lastRunTimestamp = %v (present=%v), want null", v, ok)
	}
	ids, ok := doc["processedIds"].([]any)
	if !ok || len(ids) != 1 || ids[0] != "x" {
		t.Errorf("processedIds = %v", doc["processedIds"])
	}
}

func TestFileStore_ForwardCompatible(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantIDs []string
		wantRun bool
	}{
		{name: "empty file", content: "", wantIDs: nil},
		{name: "empty object", content: "{}", wantIDs: nil},
		{name: "null fields", content: `{"processedIds": null, "lastRunTimestamp": null}`, wantIDs: nil},
		{name: "unknown fields", content: `{"processedIds": ["a"], "schema": 9, "extra": {"k": 1}}`, wantIDs: []string{"a"}},
		{name: "legacy keys", content: `{"processed_message_ids": ["p", "q"], "last_run_timestamp": "2024-01-01T10:00:00.123456"}`, wantIDs: []string{"p", "q"}, wantRun: true},
		{name: "corrupt", content: `{"processedIds": [`, wantIDs: nil},
		{name: "bad timestamp keeps ids", content: `{"processedIds": ["a"], "lastRunTimestamp": "yesterday"}`, wantIDs: []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			if err := os.MkdirAll(filepath.Dir(store.Path()), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(store.Path(), []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			st := store.Load()
			got := st.ProcessedIDs()
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("ProcessedIDs() = %v, want %v", got, tt.wantIDs)
			}
			for i := range got {
				if got[i] != tt.wantIDs[i] {
					t.Errorf("ProcessedIDs()[%d] = %q, want %q", i, got[i], tt.wantIDs[i])
				}
			}
			if _, ok := st.LastRun(); ok != tt.wantRun {
				t.Errorf("LastRun() present = %v, want %v", ok, tt.wantRun)
			}
			if st.Dirty() {
				t.Error("freshly loaded state is dirty")
			}
		})
	}
}

func TestFileStore_SaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := NewFileStore(filepath.Join(blocker, "state.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	err = store.Save(New())
	if !errors.Is(err, model.ErrPersist) {
		t.Fatalf("Save() error = %v, want ErrPersist", err)
	}
}

func TestNewFileStore_EmptyPath(t *testing.T) {
	if _, err := NewFileStore("  ", nil); !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("NewFileStore() error = %v, want ErrConfiguration", err)
	}
}

func TestState_MarkProcessedIdempotent(t *testing.T) {
	st := New()
	if !st.MarkProcessed("a") {
		t.Error("first MarkProcessed() = false")
	}
	if st.MarkProcessed("a") {
		t.Error("second MarkProcessed() = true")
	}
	if st.MarkProcessed("") {
		t.Error("MarkProcessed(\"\") = true")
	}
	if st.Len() != 1 {
		t.Errorf("Len() = %d, want 1", st.Len())
	}
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	store := NewMemoryStore("a")
	st := store.Load()
	st.MarkProcessed("b")
	if store.Load().Contains("b") {
		t.Error("unsaved change visible through Load()")
	}
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}
	if !store.Load().Contains("b") || store.Saves != 1 {
		t.Errorf("saved state missing b or Saves = %d", store.Saves)
	}
}
