package columnar

import "errors"

var (
	// ErrMalformedIdentifier is returned when a composite identifier has no
	// numeric height prefix.
	ErrMalformedIdentifier = errors.New("malformed identifier")

	// ErrEncoding is returned when a field cannot be flattened to its column
	// representation.
	ErrEncoding = errors.New("encoding error")

	// ErrSchemaInvariant marks a mismatch between a batch and its schema.
	// It always indicates a programming error and is never skipped.
	ErrSchemaInvariant = errors.New("schema invariant violation")

	// ErrIO wraps failures of the physical writer or the storage backend.
	ErrIO = errors.New("i/o error")
)
