// ABOUTME: Metadata record data model
// ABOUTME: Per-path lock holders and subscribers

package metadata

import (
	"time"

	"github.com/nainya/jsondb/pkg/jsonpath"
	"github.com/nainya/jsondb/pkg/notify"
)

// LockKind is the kind of lock a client holds on a path
type LockKind string

const (
	LockRead  LockKind = "r"
	LockWrite LockKind = "w"
)

// Record holds the metadata attached to one canonical path
type Record struct {
	Path        jsonpath.Path
	Locks       map[string]LockKind    // clientID -> lock kind
	Subscribers map[string]notify.Sink // clientID -> sink
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func newRecord(p jsonpath.Path, now time.Time) *Record {
	return &Record{
		Path:        p,
		Locks:       make(map[string]LockKind),
		Subscribers: make(map[string]notify.Sink),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Empty reports whether the record holds neither locks nor subscribers
func (r *Record) Empty() bool {
	return len(r.Locks) == 0 && len(r.Subscribers) == 0
}
