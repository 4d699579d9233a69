package docstore

import "errors"

var (
	// ErrInvalidID is returned when a document id is unknown, already in
	// use, or missing where one is required.
	ErrInvalidID = errors.New("invalid document id")

	// ErrNonDeletable is returned when deleting a document whose
	// "deletable" field is false.
	ErrNonDeletable = errors.New("document is not deletable")

	// ErrInvalidSelector is returned when a selector uses an unknown or
	// malformed operator.
	ErrInvalidSelector = errors.New("invalid selector")

	// ErrBackendClosed is returned on operations against a closed backend.
	ErrBackendClosed = errors.New("backend is closed")
)
