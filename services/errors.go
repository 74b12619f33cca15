package services

import (
	"errors"
)

var (
	// ErrInsufficientData means too few rows or features to train.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNoViableModel means every candidate failed to train.
	ErrNoViableModel = errors.New("no viable model")
	// ErrModelNotFound means a prediction named an unregistered model.
	ErrModelNotFound = errors.New("model not found")
	// ErrSchemaMismatch means a bundle or prediction row does not match the
	// feature schema the model was trained with.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrCollectionUnavailable means an external data source could not be reached.
	ErrCollectionUnavailable = errors.New("collection unavailable")
)

// ErrorKind classifies errors for callers outside the pipeline.
type ErrorKind string

const (
	KindNotFound       ErrorKind = "not_found"
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	KindInternal       ErrorKind = "internal"
)

// PublicError maps err to the kind and message a client may see. Anything
// other than a missing model or a schema mismatch is reported generically.
func PublicError(err error) (ErrorKind, string) {
	switch {
	case errors.Is(err, ErrModelNotFound):
		return KindNotFound, err.Error()
	case errors.Is(err, ErrSchemaMismatch):
		return KindSchemaMismatch, err.Error()
	default:
		return KindInternal, "internal error"
	}
}
