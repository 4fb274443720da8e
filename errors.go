package goecl

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("goecl: invalid configuration")

	// ErrUnknownExpert is returned when configuration or a run names an
	// expert that does not exist.
	ErrUnknownExpert = errors.New("goecl: unknown expert")

	// ErrEmptyDocument is returned when there is no text to extract from.
	ErrEmptyDocument = errors.New("goecl: document text is empty")

	// ErrTraceNotFound is returned when a pipeline trace id does not exist.
	ErrTraceNotFound = errors.New("goecl: trace not found")

	// ErrUnsupportedFormat is returned for document formats no reader handles.
	ErrUnsupportedFormat = errors.New("goecl: unsupported document format")

	// ErrModelUnavailable is returned when model-backed experts are required
	// but no model backend could be configured.
	ErrModelUnavailable = errors.New("goecl: model backend unavailable")

	// ErrTraceStoreClosed is returned when operating on a closed engine.
	ErrTraceStoreClosed = errors.New("goecl: trace store is closed")
)
