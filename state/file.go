package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhcgn/inbox-to-sheets/model"
)

// FileStore persists state as a single JSON document. Saves replace the file
// atomically via a temporary file in the same directory.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// diskDocument is the form written to disk.
type diskDocument struct {
	ProcessedIDs     []string `json:"processedIds"`
	LastRunTimestamp *string  `json:"lastRunTimestamp"`
}

// readDocument additionally accepts the snake_case keys written by earlier
// releases. Unknown fields are ignored.
type readDocument struct {
	ProcessedIDs       []string `json:"processedIds"`
	LastRunTimestamp   *string  `json:"lastRunTimestamp"`
	LegacyProcessedIDs []string `json:"processed_message_ids"`
	LegacyLastRun      *string  `json:"last_run_timestamp"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: state file path is empty", model.ErrConfiguration)
	}
	return &FileStore{path: filepath.Clean(path), logger: logger}, nil
}

// Path returns the state file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load() *State {
	st := New()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		if f.logger != nil {
			f.logger.Info("no state file, starting fresh", "path", f.path)
		}
		return st
	}
	if err != nil {
		f.warn("read state file", err)
		return st
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return st
	}

	var doc readDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		f.warn("parse state file", err)
		return st
	}

	for _, id := range doc.ProcessedIDs {
		st.MarkProcessed(id)
	}
	for _, id := range doc.LegacyProcessedIDs {
		st.MarkProcessed(id)
	}

	raw := doc.LastRunTimestamp
	if raw == nil {
		raw = doc.LegacyLastRun
	}
	if raw != nil {
		if t, ok := parseTimestamp(*raw); ok {
			st.lastRun = &t
		} else if f.logger != nil {
			f.logger.Warn("ignoring unparseable last run timestamp", "value", *raw)
		}
	}

	st.markClean()
	if f.logger != nil {
		f.logger.Info("loaded state", "path", f.path, "processed", st.Len())
	}
	return st
}

func (f *FileStore) Save(st *State) error {
	doc := diskDocument{ProcessedIDs: st.ProcessedIDs()}
	if t, ok := st.LastRun(); ok {
		s := t.Format(time.RFC3339Nano)
		doc.LastRunTimestamp = &s
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode state: %w", model.ErrPersist, err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPersist, err)
	}

	st.markClean()
	if f.logger != nil {
		f.logger.Info("saved state", "path", f.path, "processed", st.Len())
	}
	return nil
}

func (f *FileStore) warn(op string, err error) {
	if f.logger != nil {
		f.logger.Warn("state unreadable, starting fresh", "op", op, "path", f.path, "err", err)
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
