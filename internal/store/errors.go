package store

import "errors"

var (
	// ErrMalformedRecord is returned when a persisted record cannot be
	// decoded. The wrapping error names the record position.
	ErrMalformedRecord = errors.New("malformed journal record")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown journal backend")
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("journal closed")
)
