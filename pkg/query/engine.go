// ABOUTME: Request dispatcher for one named database
// ABOUTME: Serializes batches over the document store, metadata index, and lock manager

package query

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nainya/jsondb/internal/logger"
	"github.com/nainya/jsondb/internal/metrics"
	"github.com/nainya/jsondb/pkg/document"
	"github.com/nainya/jsondb/pkg/jsonpath"
	"github.com/nainya/jsondb/pkg/locking"
	"github.com/nainya/jsondb/pkg/metadata"
	"github.com/nainya/jsondb/pkg/notify"
)

// Engine owns one database and runs request batches against it
type Engine struct {
	name     string
	settings Settings

	mu          sync.Mutex
	store       *document.Store
	index       *metadata.Index
	locks       *locking.Manager
	broadcaster *notify.Broadcaster
	counter     uint64
	saved       os.FileInfo

	now     func() time.Time
	log     *logger.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the clock used for request timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a database with an empty tree
func NewEngine(name string, settings Settings, opts ...Option) *Engine {
	index := metadata.NewIndex()
	e := &Engine{
		name:        name,
		settings:    settings,
		store:       document.NewStore(),
		index:       index,
		locks:       locking.NewManager(settings.LockingPolicy(), index),
		broadcaster: notify.NewBroadcaster(index),
		now:         time.Now,
		log:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.DbLogger(name)
	return e
}

// Name returns the database name
func (e *Engine) Name() string {
	return e.name
}

// Settings returns the settings the engine was built with
func (e *Engine) Settings() Settings {
	return e.settings
}

// Dispatch runs one batch and returns the completed request.
// Notifications and done run after the batch commits, before Dispatch returns.
func (e *Engine) Dispatch(req *Request, done func(*Request)) *Request {
	start := time.Now()
	if req == nil {
		req = &Request{Status: StatusInvalidRequest}
		if done != nil {
			done(req)
		}
		return req
	}

	deliveries := e.dispatchLocked(req)
	delivered, dropped := notify.Deliver(deliveries)
	e.observe(req, time.Since(start), delivered, dropped)

	if done != nil {
		done(req)
	}
	return req
}

func (e *Engine) dispatchLocked(req *Request) []notify.Delivery {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ID == "" {
		req.ID = "L" + strconv.FormatUint(e.counter, 10)
		e.counter++
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = e.now()
	}

	if st := e.validate(req); st != StatusNone {
		req.fail(st)
		return nil
	}
	for _, item := range req.Items {
		item.Status = StatusNone
		item.Results = nil
	}

	b := &batch{req: req}
	switch req.Operation {
	case OpRead:
		e.read(b)
	case OpWrite:
		e.write(b)
	case OpLock:
		e.lock(b)
	case OpUnlock:
		e.unlock(b)
	case OpSubscribe:
		e.subscribe(b)
	case OpUnsubscribe:
		e.unsubscribe(b)
	}

	req.Status = aggregate(req.Items)
	e.metrics.SetMetadataRecords(e.name, e.index.Len())
	return b.deliveries
}

func (e *Engine) validate(req *Request) Status {
	if req.DB != "" && req.DB != e.name {
		return StatusInvalidDB
	}
	if !req.Operation.Valid() || len(req.Items) == 0 {
		return StatusInvalidRequest
	}
	for _, item := range req.Items {
		if item == nil {
			return StatusInvalidRequest
		}
	}
	switch req.Operation {
	case OpLock, OpUnlock, OpSubscribe, OpUnsubscribe:
		if req.ClientID == "" {
			return StatusInvalidRequest
		}
	}
	if req.Operation == OpSubscribe && req.Subscriber == nil {
		return StatusInvalidRequest
	}
	return StatusNone
}

func (e *Engine) observe(req *Request, elapsed time.Duration, delivered, dropped int) {
	op := req.Operation.String()
	for _, item := range req.Items {
		if item == nil {
			continue
		}
		e.metrics.RecordItem(e.name, op, item.Status.String())
		if item.Status.Conflict() {
			e.metrics.RecordConflict(e.name, item.Status.String())
		}
	}
	e.metrics.RecordRequest(e.name, op, req.Status.String(), elapsed)
	e.metrics.RecordNotifications(e.name, delivered, dropped)
	e.log.LogDispatch(req.ID, req.ClientID, op, len(req.Items), req.Status.String(), elapsed)
}

// Read runs req as a READ batch
func (e *Engine) Read(req *Request, done func(*Request)) *Request {
	return e.dispatchAs(OpRead, req, done)
}

// Write runs req as a WRITE batch
func (e *Engine) Write(req *Request, done func(*Request)) *Request {
	return e.dispatchAs(OpWrite, req, done)
}

// Lock runs req as a LOCK batch
func (e *Engine) Lock(req *Request, done func(*Request)) *Request {
	return e.dispatchAs(OpLock, req, done)
}

// Unlock runs req as an UNLOCK batch
func (e *Engine) Unlock(req *Request, done func(*Request)) *Request {
	return e.dispatchAs(OpUnlock, req, done)
}

// Subscribe runs req as a SUBSCRIBE batch
func (e *Engine) Subscribe(req *Request, done func(*Request)) *Request {
	return e.dispatchAs(OpSubscribe, req, done)
}

// Unsubscribe runs req as an UNSUBSCRIBE batch
func (e *Engine) Unsubscribe(req *Request, done func(*Request)) *Request {
	return e.dispatchAs(OpUnsubscribe, req, done)
}

func (e *Engine) dispatchAs(op Operation, req *Request, done func(*Request)) *Request {
	if req != nil {
		req.Operation = op
	}
	return e.Dispatch(req, done)
}

// Tree returns a deep copy of the current document
func (e *Engine) Tree() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Tree()
}

// HeldLocks lists the locks client holds, keyed by canonical path
func (e *Engine) HeldLocks(client string) map[jsonpath.Path]metadata.LockKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locks.Held(client)
}

// Load replaces the document with the snapshot in filename.
// Locks and subscriptions are kept.
func (e *Engine) Load(filename string) error {
	e.mu.Lock()
	n, err := e.store.Load(filename)
	nodes := e.store.Stats().Nodes
	e.mu.Unlock()

	e.log.LogSnapshot("load", filename, humanize.Bytes(uint64(n)), err)
	e.metrics.RecordSnapshot(e.name, "load", n, nodes, err)
	return err
}

// Save writes the document to filename as JSON
func (e *Engine) Save(filename string) error {
	e.mu.Lock()
	n, err := e.store.Save(filename)
	nodes := e.store.Stats().Nodes
	if err == nil {
		if fi, statErr := os.Stat(filename); statErr == nil {
			e.saved = fi
		}
	}
	e.mu.Unlock()

	e.log.LogSnapshot("save", filename, humanize.Bytes(uint64(n)), err)
	e.metrics.RecordSnapshot(e.name, "save", n, nodes, err)
	return err
}

// savedByUs reports whether fi describes the file written by the last Save
func (e *Engine) savedByUs(fi os.FileInfo) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saved != nil && os.SameFile(e.saved, fi) &&
		e.saved.Size() == fi.Size() && e.saved.ModTime().Equal(fi.ModTime())
}
