// ABOUTME: Per-operation batch handlers run under the engine mutex
// ABOUTME: Transaction batches validate every item before mutating anything

package query

import (
	"errors"

	"github.com/nainya/jsondb/pkg/jsonpath"
	"github.com/nainya/jsondb/pkg/locking"
	"github.com/nainya/jsondb/pkg/metadata"
	"github.com/nainya/jsondb/pkg/notify"
)

// batch carries per-request state through the handlers
type batch struct {
	req        *Request
	deliveries []notify.Delivery
}

// publish queues notifications for the committed value at p
func (e *Engine) publish(b *batch, p jsonpath.Path) {
	matches := e.store.Select(p)
	var value any
	switch len(matches) {
	case 0:
	case 1:
		value = matches[0].Value
	default:
		values := make([]any, len(matches))
		for i, m := range matches {
			values[i] = m.Value
		}
		value = values
	}
	b.deliveries = append(b.deliveries, e.broadcaster.Broadcast(p, value)...)
}

func resolve(item *Item) (jsonpath.Path, Status) {
	p, err := jsonpath.Canonicalize(item.Path)
	if err != nil {
		return "", StatusInvalidPath
	}
	return p, StatusNone
}

func (e *Engine) read(b *batch) {
	for _, item := range b.req.Items {
		p, st := resolve(item)
		if st != StatusNone {
			item.Status = st
			continue
		}
		if err := e.locks.CheckRead(p, b.req.ClientID); err != nil {
			item.Status = statusFor(err)
			continue
		}

		matches := e.store.Select(p)
		if len(matches) == 0 {
			item.Status = StatusInvalidPath
			continue
		}
		item.Results = matches
		if len(matches) == 1 {
			item.Value = matches[0].Value
		} else {
			values := make([]any, len(matches))
			for i, m := range matches {
				values[i] = m.Value
			}
			item.Value = values
		}
	}
}

func (e *Engine) write(b *batch) {
	if e.settings.LockingPolicy().Atomic() {
		e.writeAtomic(b)
		return
	}

	for _, item := range b.req.Items {
		p, st := resolve(item)
		if st != StatusNone {
			item.Status = st
			continue
		}
		target, err := p.Child(item.Key)
		if err != nil {
			item.Status = statusFor(err)
			continue
		}
		if err := e.locks.CheckWrite(target, b.req.ClientID); err != nil {
			item.Status = statusFor(err)
			continue
		}

		matches, err := e.store.Update(p, item.Key, item.Value)
		if err != nil {
			item.Status = statusFor(err)
			continue
		}
		item.Results = matches

		// Locked writes are announced when the write lock is released
		if e.settings.LockingPolicy() == locking.PolicyNone {
			e.publish(b, target)
		}
	}
}

func (e *Engine) writeAtomic(b *batch) {
	paths := make([]jsonpath.Path, len(b.req.Items))
	for i, item := range b.req.Items {
		p, st := resolve(item)
		if st != StatusNone {
			b.req.fail(st)
			return
		}
		target, err := p.Child(item.Key)
		if err != nil {
			b.req.fail(statusFor(err))
			return
		}
		if err := e.locks.CheckWrite(target, b.req.ClientID); err != nil {
			b.req.fail(statusFor(err))
			return
		}
		paths[i] = p
	}

	snap := e.store.Snapshot()
	for i, item := range b.req.Items {
		matches, err := e.store.Update(paths[i], item.Key, item.Value)
		if err != nil {
			e.store.Restore(snap)
			b.req.fail(statusFor(err))
			return
		}
		item.Results = matches
	}
}

// lockRequest is a parsed LOCK or UNLOCK item
type lockRequest struct {
	path jsonpath.Path
	kind metadata.LockKind
}

func parseLock(item *Item) (lockRequest, Status) {
	p, st := resolve(item)
	if st != StatusNone {
		return lockRequest{}, st
	}
	kind, err := locking.ParseKind(item.Lock)
	if err != nil {
		return lockRequest{}, statusFor(err)
	}
	return lockRequest{path: p, kind: kind}, StatusNone
}

func (e *Engine) lock(b *batch) {
	if e.settings.LockingPolicy() == locking.PolicyNone {
		b.req.fail(StatusInvalidOperation)
		return
	}
	client := b.req.ClientID

	if e.settings.LockingPolicy().Atomic() {
		parsed := make([]lockRequest, len(b.req.Items))
		for i, item := range b.req.Items {
			lr, st := parseLock(item)
			if st != StatusNone {
				b.req.fail(st)
				return
			}
			if err := e.locks.CheckLock(lr.path, client, lr.kind); err != nil {
				b.req.fail(statusFor(err))
				return
			}
			parsed[i] = lr
		}
		for _, lr := range parsed {
			e.locks.Grant(lr.path, client, lr.kind)
		}
		return
	}

	for _, item := range b.req.Items {
		lr, st := parseLock(item)
		if st != StatusNone {
			item.Status = st
			continue
		}
		if err := e.locks.Lock(lr.path, client, lr.kind); err != nil {
			item.Status = statusFor(err)
		}
	}
}

func (e *Engine) unlock(b *batch) {
	if e.settings.LockingPolicy() == locking.PolicyNone {
		b.req.fail(StatusInvalidOperation)
		return
	}
	client := b.req.ClientID

	if e.settings.LockingPolicy().Atomic() {
		paths := make([]jsonpath.Path, len(b.req.Items))
		for i, item := range b.req.Items {
			p, st := resolve(item)
			if st != StatusNone {
				b.req.fail(st)
				return
			}
			if err := e.locks.CheckUnlock(p, client); err != nil {
				b.req.fail(statusFor(err))
				return
			}
			paths[i] = p
		}
		for _, p := range paths {
			if e.locks.Revoke(p, client) == metadata.LockWrite {
				e.publish(b, p)
			}
		}
		return
	}

	for _, item := range b.req.Items {
		p, st := resolve(item)
		if st != StatusNone {
			item.Status = st
			continue
		}
		kind, err := e.locks.Unlock(p, client)
		if err != nil {
			item.Status = statusFor(err)
			continue
		}
		if kind == metadata.LockWrite {
			e.publish(b, p)
		}
	}
}

func (e *Engine) subscribe(b *batch) {
	for _, item := range b.req.Items {
		p, st := resolve(item)
		if st != StatusNone {
			item.Status = st
			continue
		}
		rec := e.index.GetOrCreate(p)
		rec.Subscribers[b.req.ClientID] = b.req.Subscriber
		e.index.Touch(rec)
	}
}

func (e *Engine) unsubscribe(b *batch) {
	for _, item := range b.req.Items {
		p, st := resolve(item)
		if st != StatusNone {
			item.Status = st
			continue
		}
		rec := e.index.Get(p)
		if rec == nil {
			continue
		}
		if _, ok := rec.Subscribers[b.req.ClientID]; !ok {
			continue
		}
		delete(rec.Subscribers, b.req.ClientID)
		e.index.Touch(rec)
		e.index.Prune(p)
	}
}

// DropClient releases every lock and subscription client holds.
// Released write locks notify subscribers like an explicit unlock.
func (e *Engine) DropClient(client string) error {
	if client == "" {
		return errors.New("query: empty client id")
	}

	b := &batch{}
	e.mu.Lock()
	for _, rec := range e.index.Records() {
		_, subscribed := rec.Subscribers[client]
		kind, locked := rec.Locks[client]
		if !subscribed && !locked {
			continue
		}
		if subscribed {
			delete(rec.Subscribers, client)
		}
		if locked {
			delete(rec.Locks, client)
		}
		e.index.Touch(rec)
		e.index.Prune(rec.Path)
		if kind == metadata.LockWrite {
			e.publish(b, rec.Path)
		}
	}
	e.metrics.SetMetadataRecords(e.name, e.index.Len())
	e.mu.Unlock()

	delivered, dropped := notify.Deliver(b.deliveries)
	e.metrics.RecordNotifications(e.name, delivered, dropped)
	return nil
}
