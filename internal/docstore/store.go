// Package docstore keeps the shared locations document in an external
// versioned store and merges approvals into it under optimistic concurrency.
package docstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrVersionMismatch is returned by Store.Write when the document changed
// since the version the caller read.
var ErrVersionMismatch = errors.New("document version mismatch")

// Snapshot is the raw document plus the opaque version token it was read at.
// An absent document has empty Content and an empty Version.
type Snapshot struct {
	Content []byte
	Version string
}

// Exists reports whether the document was present when read.
func (s Snapshot) Exists() bool {
	return s.Version != ""
}

// WriteRequest is a conditional write. An empty Version means "create only if absent".
type WriteRequest struct {
	Content []byte
	Version string
	Message string
}

// Store is a versioned blob holding the shared document.
type Store interface {
	// Fetch reads the current document and its version token.
	Fetch(ctx context.Context) (Snapshot, error)
	// Write stores content only if the document is still at req.Version and
	// returns the new version token. A lost race yields ErrVersionMismatch.
	Write(ctx context.Context, req WriteRequest) (string, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// MismatchError carries the versions involved in a lost race.
type MismatchError struct {
	Expected string
	Current  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("document version mismatch: expected %q, store has %q", e.Expected, e.Current)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrVersionMismatch
}
