// ABOUTME: Mapping between package errors and wire status codes
// ABOUTME: Lets callers use errors.Is on a finished request

package query

import (
	"errors"

	"github.com/nainya/jsondb/pkg/document"
	"github.com/nainya/jsondb/pkg/jsonpath"
	"github.com/nainya/jsondb/pkg/locking"
)

var (
	ErrInvalidRequest   = errors.New("query: invalid request")
	ErrInvalidDB        = errors.New("query: unknown database")
	ErrInvalidOperation = errors.New("query: operation not permitted")
)

// statusFor classifies an error returned by the store or lock manager
func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusNone
	case errors.Is(err, jsonpath.ErrInvalidPath),
		errors.Is(err, jsonpath.ErrNotFound),
		errors.Is(err, jsonpath.ErrNotContainer):
		return StatusInvalidPath
	case errors.Is(err, locking.ErrLocksDisabled):
		return StatusInvalidOperation
	case errors.Is(err, locking.ErrReadConflict):
		return StatusReadConflict
	case errors.Is(err, locking.ErrWriteConflict):
		return StatusWriteConflict
	case errors.Is(err, locking.ErrLockConflict):
		return StatusLockConflict
	case errors.Is(err, locking.ErrUnlockConflict):
		return StatusUnlockConflict
	case errors.Is(err, ErrInvalidDB):
		return StatusInvalidDB
	case errors.Is(err, ErrInvalidOperation):
		return StatusInvalidOperation
	case errors.Is(err, document.ErrInvalidValue), errors.Is(err, locking.ErrInvalidKind):
		return StatusInvalidRequest
	default:
		return StatusInvalidRequest
	}
}

// Err returns the sentinel error for s, or nil for StatusNone
func (s Status) Err() error {
	switch s {
	case StatusNone:
		return nil
	case StatusInvalidPath:
		return jsonpath.ErrInvalidPath
	case StatusInvalidDB:
		return ErrInvalidDB
	case StatusInvalidOperation:
		return ErrInvalidOperation
	case StatusLockConflict:
		return locking.ErrLockConflict
	case StatusUnlockConflict:
		return locking.ErrUnlockConflict
	case StatusWriteConflict:
		return locking.ErrWriteConflict
	case StatusReadConflict:
		return locking.ErrReadConflict
	default:
		return ErrInvalidRequest
	}
}
