// Package imap reads unread messages from an IMAP mailbox and marks them
// \Seen once they are synced.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/inbox-to-sheets/model"
	"github.com/dhcgn/inbox-to-sheets/rfc822"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
}

// Source is a mail source over one IMAP session. It is not safe for
// concurrent use.
type Source struct {
	opts        Options
	logger      *slog.Logger
	client      *imapclient.Client
	cleanup     func()
	uidValidity uint32
}

func NewSource(opts Options, logger *slog.Logger) (*Source, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("%w: imap host is empty", model.ErrConfiguration)
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("%w: imap port must be positive", model.ErrConfiguration)
	}
	if opts.Username == "" {
		return nil, fmt.Errorf("%w: imap user is empty", model.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Source{opts: opts, logger: logger}, nil
}

func (s *Source) folder() string {
	if s.opts.Folder == "" {
		return "INBOX"
	}
	return s.opts.Folder
}

// Authenticate dials, logs in and selects the folder. Calling it again on an
// open session is a no-op.
func (s *Source) Authenticate(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	client, cleanup, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
	}

	data, err := client.Select(s.folder(), nil).Wait()
	if err != nil {
		cleanup()
		return fmt.Errorf("%w: select %s: %w", model.ErrSourceUnavailable, s.folder(), err)
	}

	s.client, s.cleanup, s.uidValidity = client, cleanup, data.UIDValidity
	s.logger.Debug("imap mailbox selected", "mailbox", s.folder(), "messages", data.NumMessages, "uidValidity", data.UIDValidity)
	return nil
}

func (s *Source) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	s.logger.Debug("imap connection established", "address", address, "user", s.opts.Username, "tls", s.opts.UseTLS)

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				s.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil {
			s.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

// ListUnread returns up to limit messages without the \Seen flag, lowest UID
// first.
func (s *Source) ListUnread(ctx context.Context, limit int) ([]model.MessageRef, error) {
	if err := s.Authenticate(ctx); err != nil {
		return nil, err
	}

	criteria := &imapv2.SearchCriteria{NotFlag: []imapv2.Flag{imapv2.FlagSeen}}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: search unseen: %w", model.ErrSourceUnavailable, err)
	}

	uids := data.AllUIDs()
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	refs := make([]model.MessageRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, model.MessageRef{ID: FormatID(s.uidValidity, uid)})
	}
	s.logger.Debug("imap unseen messages", "returned", len(refs), "total", len(data.AllUIDs()))
	return refs, nil
}

// FetchFull fetches the complete message without setting \Seen.
func (s *Source) FetchFull(ctx context.Context, id string) (model.RawMessage, error) {
	if err := s.Authenticate(ctx); err != nil {
		return model.RawMessage{}, err
	}
	uid, err := s.resolve(id)
	if err != nil {
		return model.RawMessage{}, err
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	cmd := s.client.Fetch(imapv2.UIDSetNum(uid), &imapv2.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{section},
	})
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		if err := cmd.Close(); err != nil {
			return model.RawMessage{}, fmt.Errorf("%w: fetch %s: %w", model.ErrSourceUnavailable, id, err)
		}
		return model.RawMessage{}, fmt.Errorf("%w: uid %d", model.ErrNotFound, uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return model.RawMessage{}, fmt.Errorf("%w: collect %s: %w", model.ErrSourceUnavailable, id, err)
	}
	raw := buf.FindBodySection(section)
	if raw == nil {
		return model.RawMessage{}, fmt.Errorf("%w: uid %d returned no body", model.ErrNotFound, uid)
	}

	return rfc822.Parse(id, raw, buf.InternalDate)
}

// MarkRead adds \Seen to the message.
func (s *Source) MarkRead(ctx context.Context, id string) error {
	if err := s.Authenticate(ctx); err != nil {
		return err
	}
	uid, err := s.resolve(id)
	if err != nil {
		return err
	}

	cmd := s.client.Store(imapv2.UIDSetNum(uid), &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagSeen},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("%w: store \\Seen on %s: %w", model.ErrSourceUnavailable, id, err)
	}
	return nil
}

// Close logs out and releases the connection.
func (s *Source) Close() error {
	if s.cleanup != nil {
		s.cleanup()
	}
	s.client, s.cleanup = nil, nil
	return nil
}

// resolve maps an id back to a UID of the selected mailbox. Ids minted under
// a different UIDVALIDITY no longer refer to the same message. The session
// must be authenticated.
func (s *Source) resolve(id string) (imapv2.UID, error) {
	validity, uid, err := ParseID(id)
	if err != nil {
		return 0, err
	}
	if validity != s.uidValidity {
		return 0, fmt.Errorf("%w: %s is from uidvalidity %d, mailbox has %d", model.ErrNotFound, id, validity, s.uidValidity)
	}
	return uid, nil
}

// FormatID builds the stable message id "<uidvalidity>:<uid>".
func FormatID(uidValidity uint32, uid imapv2.UID) string {
	return strconv.FormatUint(uint64(uidValidity), 10) + ":" + strconv.FormatUint(uint64(uid), 10)
}

// ParseID is the inverse of FormatID.
func ParseID(id string) (uint32, imapv2.UID, error) {
	left, right, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: malformed imap id %q", model.ErrNotFound, id)
	}
	validity, err := strconv.ParseUint(left, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed imap id %q", model.ErrNotFound, id)
	}
	uid, err := strconv.ParseUint(right, 10, 32)
	if err != nil || uid == 0 {
		return 0, 0, fmt.Errorf("%w: malformed imap id %q", model.ErrNotFound, id)
	}
	return uint32(validity), imapv2.UID(uid), nil
}
