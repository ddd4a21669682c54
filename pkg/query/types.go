// ABOUTME: Request and query item types for the dispatcher
// ABOUTME: Operation kinds and wire status codes

package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nainya/jsondb/pkg/jsonpath"
	"github.com/nainya/jsondb/pkg/notify"
)

// Operation selects what a request does with its items
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpLock
	OpUnlock
	OpSubscribe
	OpUnsubscribe
)

var operationNames = []string{"READ", "WRITE", "LOCK", "UNLOCK", "SUBSCRIBE", "UNSUBSCRIBE"}

func (o Operation) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return fmt.Sprintf("Operation(%d)", int(o))
	}
	return operationNames[o]
}

// Valid reports whether o is a known operation
func (o Operation) Valid() bool {
	return o >= 0 && int(o) < len(operationNames)
}

// MarshalText encodes the operation by name
func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalJSON accepts either the numeric code or the name in any case
func (o *Operation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		code, convErr := strconv.Atoi(string(data))
		if convErr != nil {
			return fmt.Errorf("invalid operation %s", data)
		}
		*o = Operation(code)
		return nil
	}
	return o.UnmarshalText([]byte(name))
}

// UnmarshalText parses an operation name in any case
func (o *Operation) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for i, n := range operationNames {
		if n == name {
			*o = Operation(i)
			return nil
		}
	}
	return fmt.Errorf("unknown operation %q", text)
}

// Status is a per-item and per-batch result code
type Status int

const (
	StatusNone             Status = 0
	StatusInvalidRequest   Status = 1
	StatusInvalidPath      Status = 2
	StatusInvalidDB        Status = 3
	StatusInvalidOperation Status = 4
	StatusLockConflict     Status = 9
	StatusUnlockConflict   Status = 10
	StatusWriteConflict    Status = 11
	StatusReadConflict     Status = 12
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusInvalidPath:
		return "INVALID_PATH"
	case StatusInvalidDB:
		return "INVALID_DB"
	case StatusInvalidOperation:
		return "INVALID_OPER"
	case StatusLockConflict:
		return "LOCK"
	case StatusUnlockConflict:
		return "UNLOCK"
	case StatusWriteConflict:
		return "WRITE"
	case StatusReadConflict:
		return "READ"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Conflict reports whether the lock manager denied the item
func (s Status) Conflict() bool {
	switch s {
	case StatusLockConflict, StatusUnlockConflict, StatusWriteConflict, StatusReadConflict:
		return true
	}
	return false
}

// Item is one path-addressed entry of a batch
type Item struct {
	Path    string           `json:"path"`
	Key     string           `json:"key,omitempty"`
	Value   any              `json:"value,omitempty"`
	Lock    string           `json:"lock,omitempty"`
	Status  Status           `json:"status"`
	Results []jsonpath.Match `json:"results,omitempty"`
}

// Request is a batch of items sharing one operation and client
type Request struct {
	ID        string    `json:"id,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
	DB        string    `json:"db,omitempty"`
	Operation Operation `json:"operation"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Items     []*Item   `json:"items"`
	Status    Status    `json:"status"`

	// Subscriber receives notifications for SUBSCRIBE requests
	Subscriber notify.Sink `json:"-"`
}

// fail stamps the batch and every item with one status
func (r *Request) fail(st Status) {
	r.Status = st
	for _, item := range r.Items {
		item.Status = st
		item.Results = nil
	}
}

// aggregate returns the first non-NONE item status in item order
func aggregate(items []*Item) Status {
	for _, item := range items {
		if item.Status != StatusNone {
			return item.Status
		}
	}
	return StatusNone
}
