// Package normalize maps provider messages onto the fixed-shape record that is
// written to the table: sender address, subject, local timestamp, and a
// whitespace-collapsed plain-text body.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dhcgn/inbox-to-sheets/model"
)

// TimestampLayout is the lexical format written to the Date column.
const TimestampLayout = "2006-01-02 15:04:05"

// UnknownTimestamp is written when a message carries no date at all.
const UnknownTimestamp = "Unknown"

var addressPattern = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.\w+`)

// Normalizer converts raw messages into records. The zero value formats
// timestamps in time.Local.
type Normalizer struct {
	loc *time.Location
}

// New returns a Normalizer that renders provider timestamps in loc. A nil loc
// means time.Local.
func New(loc *time.Location) *Normalizer {
	return &Normalizer{loc: loc}
}

// Normalize builds the record for msg. It fails with model.ErrParse only when
// the message has neither headers nor a payload; every other defect degrades
// to a best-effort value.
func (n *Normalizer) Normalize(msg model.RawMessage) (model.Record, error) {
	if msg.Headers == nil && msg.Payload == nil {
		return model.Record{}, fmt.Errorf("%w: message %s has neither headers nor payload", model.ErrParse, msg.ID)
	}

	return model.Record{
		Sender:    Sender(HeaderValue(msg.Headers, "From")),
		Subject:   HeaderValue(msg.Headers, "Subject"),
		Timestamp: n.timestamp(msg),
		Body:      Body(msg.Payload),
	}, nil
}

func (n *Normalizer) timestamp(msg model.RawMessage) string {
	if msg.InternalDateMillis > 0 {
		loc := n.loc
		if loc == nil {
			loc = time.Local
		}
		return time.UnixMilli(msg.InternalDateMillis).In(loc).Format(TimestampLayout)
	}
	if date := strings.TrimSpace(HeaderValue(msg.Headers, "Date")); date != "" {
		return date
	}
	return UnknownTimestamp
}

// HeaderValue returns the decoded value of the first header called name,
// compared case-insensitively, or "" when absent.
func HeaderValue(headers []model.Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return DecodeHeader(h.Value)
		}
	}
	return ""
}

// Sender reduces a From header to its bare address when one is embedded,
// dropping any display name.
func Sender(from string) string {
	if addr := addressPattern.FindString(from); addr != "" {
		return addr
	}
	return strings.TrimSpace(from)
}
