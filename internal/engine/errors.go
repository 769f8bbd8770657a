package engine

import "errors"

var (
	// ErrClosed is returned for work submitted after Close.
	ErrClosed = errors.New("engine closed")
	// ErrNotFound is returned when no stored fact has the requested text.
	ErrNotFound = errors.New("fact not found")
	// ErrInputTooShort is returned for text shorter than MinInputLength.
	ErrInputTooShort = errors.New("input too short")
)
