// ABOUTME: Notification model and subscriber sinks
// ABOUTME: Decouples deciding a notification is due from delivering it

package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nainya/jsondb/pkg/jsonpath"
)

// Notification announces a committed change to a subscriber
type Notification struct {
	Path       jsonpath.Path `json:"path"`       // Path that was committed
	Subscribed jsonpath.Path `json:"subscribed"` // Path the subscriber registered on
	ClientID   string        `json:"clientId"`   // Receiving client
	Value      any           `json:"value"`      // Value resolved at Path on commit
	Time       time.Time     `json:"time"`
}

// Sink receives notifications. Deliver reports false when the
// notification was dropped.
type Sink interface {
	Deliver(n Notification) bool
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(n Notification)

// Deliver calls f
func (f SinkFunc) Deliver(n Notification) bool {
	f(n)
	return true
}

// Subscription pairs a client and path with its sink
type Subscription struct {
	ClientID string
	Path     jsonpath.Path
	Sink     Sink
}

// Queue is a buffered channel sink. A full or closed queue drops.
type Queue struct {
	mu      sync.Mutex
	ch      chan Notification
	closed  bool
	dropped atomic.Uint64
}

// NewQueue creates a queue holding up to size pending notifications
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan Notification, size)}
}

// Deliver enqueues n without blocking
func (q *Queue) Deliver(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.ch <- n:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// C returns the receive side of the queue
func (q *Queue) C() <-chan Notification {
	return q.ch
}

// Dropped counts notifications lost to a full or closed queue
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops accepting notifications and closes the channel
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
