// ABOUTME: Lock manager applying the configured policy to the metadata index
// ABOUTME: Decides reads, writes, and lock transitions; never blocks or queues

package locking

import (
	"fmt"

	"github.com/nainya/jsondb/pkg/jsonpath"
	"github.com/nainya/jsondb/pkg/metadata"
)

// Manager enforces one locking policy over a metadata index.
// Conflicting requests fail immediately.
type Manager struct {
	policy Policy
	index  *metadata.Index
}

// NewManager creates a manager for policy over index
func NewManager(policy Policy, index *metadata.Index) *Manager {
	return &Manager{policy: policy, index: index}
}

// Policy returns the enforced policy
func (m *Manager) Policy() Policy {
	return m.policy
}

// target maps a requested path to the path that holds its lock
func (m *Manager) target(p jsonpath.Path) jsonpath.Path {
	if m.policy == PolicyFull {
		return jsonpath.Root
	}
	return p
}

// CheckRead decides whether client may read p
func (m *Manager) CheckRead(p jsonpath.Path, client string) error {
	if m.policy == PolicyNone {
		return nil
	}
	if !CanRead(m.index.Overlapping(p), client) {
		return fmt.Errorf("%w: %s", ErrReadConflict, p)
	}
	return nil
}

// CheckWrite decides whether client may write p
func (m *Manager) CheckWrite(p jsonpath.Path, client string) error {
	if m.policy == PolicyNone {
		return nil
	}
	if !CanWrite(m.index.Overlapping(p), client) {
		return fmt.Errorf("%w: %s", ErrWriteConflict, p)
	}
	return nil
}

// CheckLock decides whether client may acquire a kind lock on p
func (m *Manager) CheckLock(p jsonpath.Path, client string, kind metadata.LockKind) error {
	var ok bool
	switch m.policy {
	case PolicyNone:
		return ErrLocksDisabled
	case PolicyRecord:
		ok = CanAcquireShared(m.index.Overlapping(p), client, kind)
	case PolicyTransaction:
		ok = CanAcquire(m.index.Overlapping(p))
	case PolicyFull:
		// Only the current holder may touch the global lock
		rec := m.index.Get(jsonpath.Root)
		ok = rec == nil || !foreign([]*metadata.Record{rec}, client)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockConflict, m.target(p))
	}
	return nil
}

// Lock acquires a kind lock for client on p
func (m *Manager) Lock(p jsonpath.Path, client string, kind metadata.LockKind) error {
	if err := m.CheckLock(p, client, kind); err != nil {
		return err
	}
	m.Grant(p, client, kind)
	return nil
}

// Grant records a lock without checking; callers validate first.
// A held write lock is never downgraded; it only ends on release.
func (m *Manager) Grant(p jsonpath.Path, client string, kind metadata.LockKind) {
	rec := m.index.GetOrCreate(m.target(p))
	if rec.Locks[client] == metadata.LockWrite {
		kind = metadata.LockWrite
	}
	rec.Locks[client] = kind
	m.index.Touch(rec)
}

// CheckUnlock decides whether client may release its lock on p
func (m *Manager) CheckUnlock(p jsonpath.Path, client string) error {
	if m.policy == PolicyNone {
		return ErrLocksDisabled
	}
	rec := m.index.Get(m.target(p))
	if rec == nil {
		return fmt.Errorf("%w: %s is not locked", ErrUnlockConflict, m.target(p))
	}
	if _, ok := rec.Locks[client]; !ok {
		return fmt.Errorf("%w: %s is not held by %s", ErrUnlockConflict, m.target(p), client)
	}
	return nil
}

// Unlock releases client's lock on p and returns the kind that was held
func (m *Manager) Unlock(p jsonpath.Path, client string) (metadata.LockKind, error) {
	if err := m.CheckUnlock(p, client); err != nil {
		return "", err
	}
	return m.Revoke(p, client), nil
}

// Revoke drops a lock without checking and prunes the emptied record
func (m *Manager) Revoke(p jsonpath.Path, client string) metadata.LockKind {
	t := m.target(p)
	rec := m.index.Get(t)
	if rec == nil {
		return ""
	}
	kind := rec.Locks[client]
	delete(rec.Locks, client)
	m.index.Touch(rec)
	m.index.Prune(t)
	return kind
}

// Held lists the locks client holds, keyed by path
func (m *Manager) Held(client string) map[jsonpath.Path]metadata.LockKind {
	out := make(map[jsonpath.Path]metadata.LockKind)
	for _, rec := range m.index.Records() {
		if kind, ok := rec.Locks[client]; ok {
			out[rec.Path] = kind
		}
	}
	return out
}
