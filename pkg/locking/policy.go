// ABOUTME: Locking policies and lock kinds
// ABOUTME: Parsing and validation for process-wide lock configuration

package locking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nainya/jsondb/pkg/metadata"
)

var (
	// ErrInvalidPolicy indicates an unrecognized locking policy name
	ErrInvalidPolicy = errors.New("locking: invalid policy")

	// ErrInvalidKind indicates an unrecognized lock kind
	ErrInvalidKind = errors.New("locking: invalid lock kind")

	// ErrLocksDisabled indicates a lock request under the none policy
	ErrLocksDisabled = errors.New("locking: locks are disabled")

	ErrReadConflict   = errors.New("locking: read conflict")
	ErrWriteConflict  = errors.New("locking: write conflict")
	ErrLockConflict   = errors.New("locking: lock conflict")
	ErrUnlockConflict = errors.New("locking: unlock conflict")
)

// Policy selects lock granularity and batch atomicity
type Policy string

const (
	PolicyNone        Policy = "none"
	PolicyRecord      Policy = "record"
	PolicyTransaction Policy = "transaction"
	PolicyFull        Policy = "full"
)

// ParsePolicy parses a policy name, case-insensitively
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyNone, PolicyRecord, PolicyTransaction, PolicyFull:
		return p, nil
	case "trans":
		return PolicyTransaction, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// Atomic reports whether write, lock, and unlock batches commit all-or-nothing
func (p Policy) Atomic() bool {
	return p == PolicyTransaction
}

func (p Policy) String() string {
	return string(p)
}

// ParseKind parses a lock kind. An empty kind means write.
func ParseKind(s string) (metadata.LockKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "w", "write":
		return metadata.LockWrite, nil
	case "r", "read":
		return metadata.LockRead, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}
