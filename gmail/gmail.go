// Package gmail is a mail source over the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dhcgn/inbox-to-sheets/model"
)

const (
	DefaultQuery = "in:inbox is:unread"
	userID       = "me"
	unreadLabel  = "UNREAD"
)

// ClientFunc returns an authorized HTTP client for the Gmail API.
type ClientFunc func(ctx context.Context) (*http.Client, error)

type Options struct {
	Query string
	// ClientOptions are appended after the HTTP client option; tests use them
	// to point the service at a local endpoint.
	ClientOptions []option.ClientOption
}

type Source struct {
	opts    Options
	connect ClientFunc
	logger  *slog.Logger
	svc     *gmailapi.Service
}

func NewSource(opts Options, connect ClientFunc, logger *slog.Logger) (*Source, error) {
	if connect == nil {
		return nil, fmt.Errorf("%w: gmail client func must not be nil", model.ErrConfiguration)
	}
	if opts.Query == "" {
		opts.Query = DefaultQuery
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Source{opts: opts, connect: connect, logger: logger}, nil
}

// Authenticate builds the Gmail service from the authorized client.
func (s *Source) Authenticate(ctx context.Context) error {
	if s.svc != nil {
		return nil
	}
	hc, err := s.connect(ctx)
	if errors.Is(err, model.ErrConfiguration) {
		return fmt.Errorf("gmail auth: %w", err)
	}
	if err != nil {
		return fmt.Errorf("%w: gmail auth: %w", model.ErrSourceUnavailable, err)
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, s.opts.ClientOptions...)
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("%w: create gmail service: %w", model.ErrSourceUnavailable, err)
	}
	s.svc = svc
	return nil
}

func (s *Source) ListUnread(ctx context.Context, limit int) ([]model.MessageRef, error) {
	if err := s.Authenticate(ctx); err != nil {
		return nil, err
	}

	call := s.svc.Users.Messages.List(userID).Q(s.opts.Query).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", model.ErrSourceUnavailable, err)
	}

	refs := make([]model.MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.Id == "" {
			continue
		}
		refs = append(refs, model.MessageRef{ID: m.Id})
	}
	s.logger.Debug("gmail unread messages", "query", s.opts.Query, "returned", len(refs), "estimate", resp.ResultSizeEstimate)
	return refs, nil
}

func (s *Source) FetchFull(ctx context.Context, id string) (model.RawMessage, error) {
	if err := s.Authenticate(ctx); err != nil {
		return model.RawMessage{}, err
	}

	msg, err := s.svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return model.RawMessage{}, classify(fmt.Sprintf("get message %s", id), err)
	}
	return Convert(msg), nil
}

// MarkRead removes the UNREAD label.
func (s *Source) MarkRead(ctx context.Context, id string) error {
	if err := s.Authenticate(ctx); err != nil {
		return err
	}

	req := &gmailapi.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := s.svc.Users.Messages.Modify(userID, id, req).Context(ctx).Do(); err != nil {
		return classify(fmt.Sprintf("modify message %s", id), err)
	}
	return nil
}

func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %w", model.ErrNotFound, op, err)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrSourceUnavailable, op, err)
}

// Convert maps an API message onto the provider-neutral model. Body data
// stays base64 encoded.
func Convert(m *gmailapi.Message) model.RawMessage {
	msg := model.RawMessage{ID: m.Id, InternalDateMillis: m.InternalDate}
	if m.Payload == nil {
		return msg
	}
	msg.Headers = make([]model.Header, 0, len(m.Payload.Headers))
	for _, h := range m.Payload.Headers {
		if h == nil {
			continue
		}
		msg.Headers = append(msg.Headers, model.Header{Name: h.Name, Value: h.Value})
	}
	p := convertPart(m.Payload)
	msg.Payload = &p
	return msg
}

func convertPart(mp *gmailapi.MessagePart) model.Part {
	part := model.Part{MimeType: mp.MimeType, Encoded: true}
	if mp.Body != nil {
		part.Body = mp.Body.Data
	}
	for _, child := range mp.Parts {
		if child == nil {
			continue
		}
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}
