// Package mbox exposes an mbox file as a mail source. The file itself is never
// modified; read state lives in a JSONL log next to it.
package mbox

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/inbox-to-sheets/model"
	"github.com/dhcgn/inbox-to-sheets/rfc822"
)

const readLogSuffix = ".read.jsonl"

type Options struct {
	Path string
	// ReadLogPath defaults to Path with a ".read.jsonl" suffix.
	ReadLogPath string
}

type Source struct {
	path    string
	logPath string
	logger  *slog.Logger
	log     *ReadLog
	cache   map[string][]byte
}

func NewSource(opts Options, logger *slog.Logger) (*Source, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: mbox path is empty", model.ErrConfiguration)
	}
	logPath := strings.TrimSpace(opts.ReadLogPath)
	if logPath == "" {
		logPath = path + readLogSuffix
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Source{
		path:    path,
		logPath: logPath,
		logger:  logger,
		cache:   make(map[string][]byte),
	}, nil
}

// Authenticate checks the mbox is readable and loads the read log.
func (s *Source) Authenticate(context.Context) error {
	if s.log != nil {
		return nil
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("%w: open mbox: %w", model.ErrSourceUnavailable, err)
	}
	log, err := OpenReadLog(s.logPath, s.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
	}
	s.log = log
	return nil
}

// ListUnread scans the file in order and returns up to limit messages that are
// not in the read log. The raw bytes are kept for FetchFull.
func (s *Source) ListUnread(ctx context.Context, limit int) ([]model.MessageRef, error) {
	if err := s.Authenticate(ctx); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open mbox: %w", model.ErrSourceUnavailable, err)
	}
	defer file.Close()

	clear(s.cache)
	reader := mboxlib.NewReader(file)
	var refs []model.MessageRef

	for idx := 0; limit <= 0 || len(refs) < limit; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: message %d: %w", model.ErrSourceUnavailable, idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			s.logger.Warn("skipping unreadable mbox message", "index", idx, "err", err)
			continue
		}

		id := MessageID(raw)
		if _, dup := s.cache[id]; dup || s.log.Contains(id) {
			continue
		}
		s.cache[id] = raw
		refs = append(refs, model.MessageRef{ID: id})
	}

	s.logger.Debug("mbox unread messages", "path", s.path, "returned", len(refs), "read", s.log.Len())
	return refs, nil
}

func (s *Source) FetchFull(_ context.Context, id string) (model.RawMessage, error) {
	raw, ok := s.cache[id]
	if !ok {
		return model.RawMessage{}, fmt.Errorf("%w: %s not in current listing", model.ErrNotFound, id)
	}
	return rfc822.Parse(id, raw, time.Time{})
}

func (s *Source) MarkRead(ctx context.Context, id string) error {
	if err := s.Authenticate(ctx); err != nil {
		return err
	}
	if err := s.log.Mark(id, time.Now()); err != nil {
		return fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
	}
	return nil
}

func (s *Source) Close() error {
	if s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	return err
}

// MessageID returns the Message-Id without angle brackets, or a sha256 of the
// raw bytes when the header is missing.
func MessageID(raw []byte) string {
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err == nil {
		id := strings.Trim(strings.TrimSpace(header.Get("Message-Id")), " <>")
		if id != "" {
			return id
		}
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + base64.RawURLEncoding.EncodeToString(sum[:])
}
