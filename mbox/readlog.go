package mbox

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ReadLog is an append-only JSONL record of message ids marked read.
type ReadLog struct {
	path   string
	logger *slog.Logger
	read   map[string]struct{}
	file   *os.File
}

type readRecord struct {
	ID     string    `json:"id"`
	ReadAt time.Time `json:"readAt"`
}

// OpenReadLog loads path, creating it on first Mark. Malformed lines are
// skipped.
func OpenReadLog(path string, logger *slog.Logger) (*ReadLog, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &ReadLog{path: path, logger: logger, read: make(map[string]struct{})}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ReadLog) load() error {
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open read log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record readRecord
		if err := json.Unmarshal(text, &record); err != nil {
			l.logger.Warn("skipping malformed read log line", "path", l.path, "line", line, "err", err)
			continue
		}
		if record.ID == "" {
			continue
		}
		l.read[record.ID] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read read log: %w", err)
	}
	return nil
}

func (l *ReadLog) Contains(id string) bool {
	_, ok := l.read[id]
	return ok
}

func (l *ReadLog) Len() int {
	return len(l.read)
}

// Mark appends id and syncs the file. Known ids are not written twice.
func (l *ReadLog) Mark(id string, at time.Time) error {
	if id == "" || l.Contains(id) {
		return nil
	}
	if l.file == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return fmt.Errorf("create read log directory: %w", err)
		}
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open read log for append: %w", err)
		}
		l.file = file
	}

	data, err := json.Marshal(readRecord{ID: id, ReadAt: at.UTC()})
	if err != nil {
		return fmt.Errorf("encode read record: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write read log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync read log: %w", err)
	}

	l.read[id] = struct{}{}
	return nil
}

func (l *ReadLog) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close read log: %w", err)
	}
	return nil
}
