package model

import "strings"

// MessageRef identifies an unread message returned by a mail source listing.
type MessageRef struct {
	ID string
}

// Header is a single message header as delivered by the provider. Values may
// still carry RFC 2047 encoded words.
type Header struct {
	Name  string
	Value string
}

// Part is one node of a message body tree. Leaf parts carry Body; multipart
// containers carry Parts. When Encoded is set, Body holds base64 (URL-safe or
// standard alphabet) rather than decoded text.
type Part struct {
	MimeType string
	Body     string
	Encoded  bool
	Parts    []Part
}

// IsMultipart reports whether the part is a container of other parts.
func (p Part) IsMultipart() bool {
	return len(p.Parts) > 0
}

// MediaType returns the lower-cased content type without parameters.
func (p Part) MediaType() string {
	mt := p.MimeType
	if idx := strings.IndexByte(mt, ';'); idx >= 0 {
		mt = mt[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// RawMessage is the full content of a provider message before normalization.
type RawMessage struct {
	ID string
	// InternalDateMillis is the provider's epoch-milliseconds receive time,
	// zero when the provider does not supply one.
	InternalDateMillis int64
	Headers            []Header
	Payload            *Part
}
