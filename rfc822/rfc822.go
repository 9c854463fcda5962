// Package rfc822 converts raw internet messages into the provider-neutral
// message model. Transfer encodings and charsets are decoded here, so every
// leaf part it produces holds plain text.
package rfc822

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/dhcgn/inbox-to-sheets/model"
)

const (
	maxDepth    = 16
	maxPartSize = 8 << 20
)

// Parse reads raw into a model.RawMessage with the given id. A non-zero
// received time becomes the internal date. Unknown charsets and transfer
// encodings are tolerated; only an unreadable header block fails.
func Parse(id string, raw []byte, received time.Time) (model.RawMessage, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return model.RawMessage{}, fmt.Errorf("%w: message %s: %w", model.ErrParse, id, err)
	}

	msg := model.RawMessage{
		ID:      id,
		Headers: headers(entity.Header),
		Payload: walk(entity, 0),
	}
	if !received.IsZero() {
		msg.InternalDateMillis = received.UnixMilli()
	}
	return msg, nil
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func headers(h message.Header) []model.Header {
	out := make([]model.Header, 0, h.Len())
	fields := h.Fields()
	for fields.Next() {
		out = append(out, model.Header{Name: fields.Key(), Value: fields.Value()})
	}
	return out
}

func walk(e *message.Entity, depth int) *model.Part {
	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	part := &model.Part{MimeType: mediaType}

	if mr := e.MultipartReader(); mr != nil && depth < maxDepth {
		for {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && !tolerable(err) {
				break
			}
			if child == nil {
				break
			}
			part.Parts = append(part.Parts, *walk(child, depth+1))
		}
		return part
	}

	body, err := io.ReadAll(io.LimitReader(e.Body, maxPartSize))
	if err == nil || len(body) > 0 {
		part.Body = string(body)
	}
	return part
}
