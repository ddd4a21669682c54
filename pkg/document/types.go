// ABOUTME: Document data model for the shared JSON tree
// ABOUTME: Defines snapshots and tree statistics

package document

import "errors"

var (
	// ErrInvalidValue indicates a value that cannot be represented as JSON
	ErrInvalidValue = errors.New("document: value is not JSON-encodable")

	// ErrEmptyFilename indicates a load or save without a target file
	ErrEmptyFilename = errors.New("document: filename is required")
)

// Snapshot is a detached deep copy of the tree used to roll back a failed batch
type Snapshot struct {
	tree any
}

// Stats summarizes the tree shape
type Stats struct {
	Nodes    int // Every object, array, and scalar in the tree
	MaxDepth int // Deepest nesting level (0 for a scalar root)
}
