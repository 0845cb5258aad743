package core

import "errors"

// Sentinel errors of the session layer. Callers match with errors.Is; the
// concrete message is wrapped by the failing operation.
var (
	// ErrNotFound marks an unresolved game, scene, token, or asset id.
	ErrNotFound = errors.New("not found")

	// ErrMalformedArchive marks an import package with a broken manifest or
	// a referenced image missing from the container.
	ErrMalformedArchive = errors.New("malformed archive")
)
