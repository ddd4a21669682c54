// ABOUTME: Conflict predicates over a set of overlapping metadata records
// ABOUTME: Two-pass evaluation: self permission first, then foreign conflicts

package locking

import "github.com/nainya/jsondb/pkg/metadata"

// holds reports whether client holds one of kinds anywhere in set
func holds(set []*metadata.Record, client string, kinds ...metadata.LockKind) bool {
	for _, rec := range set {
		held, ok := rec.Locks[client]
		if !ok {
			continue
		}
		for _, k := range kinds {
			if held == k {
				return true
			}
		}
	}
	return false
}

// foreign reports whether a client other than client holds a lock in set.
// With no kinds given any lock counts.
func foreign(set []*metadata.Record, client string, kinds ...metadata.LockKind) bool {
	for _, rec := range set {
		for holder, held := range rec.Locks {
			if holder == client {
				continue
			}
			if len(kinds) == 0 {
				return true
			}
			for _, k := range kinds {
				if held == k {
					return true
				}
			}
		}
	}
	return false
}

// CanRead is true when client holds any lock in set, or when no other
// client holds a write lock in set
func CanRead(set []*metadata.Record, client string) bool {
	if holds(set, client, metadata.LockRead, metadata.LockWrite) {
		return true
	}
	return !foreign(set, client, metadata.LockWrite)
}

// CanWrite is true when client holds a write lock in set, or when set
// holds no lock at all
func CanWrite(set []*metadata.Record, client string) bool {
	if holds(set, client, metadata.LockWrite) {
		return true
	}
	for _, rec := range set {
		if len(rec.Locks) > 0 {
			return false
		}
	}
	return true
}

// CanAcquire is true only when set holds no lock by any client
func CanAcquire(set []*metadata.Record) bool {
	for _, rec := range set {
		if len(rec.Locks) > 0 {
			return false
		}
	}
	return true
}

// CanAcquireShared decides record-level acquisition: readers exclude
// foreign writers, writers exclude every foreign lock
func CanAcquireShared(set []*metadata.Record, client string, kind metadata.LockKind) bool {
	if kind == metadata.LockRead {
		return !foreign(set, client, metadata.LockWrite)
	}
	return !foreign(set, client)
}
