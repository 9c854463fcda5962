package model

import "errors"

var (
	// ErrParse marks a message that could not be normalized. It is recoverable:
	// the message is skipped and the pass continues.
	ErrParse = errors.New("message parse failed")
	// ErrNotFound is returned by a mail source when a listed message no longer exists.
	ErrNotFound = errors.New("message not found")
	// ErrSourceUnavailable marks a transport or auth failure of the mail source.
	ErrSourceUnavailable = errors.New("mail source unavailable")
	// ErrSinkUnavailable marks a transport or auth failure of the table sink.
	ErrSinkUnavailable = errors.New("table sink unavailable")
	// ErrPersist marks a failure to write the sync state.
	ErrPersist = errors.New("state persist failed")
	// ErrConfiguration marks missing or invalid settings detected before any remote call.
	ErrConfiguration = errors.New("invalid configuration")
)
