// ABOUTME: Registry of named databases sharing one set of settings
// ABOUTME: Routes requests to their database by name

package query

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrDatabaseExists = errors.New("query: database already exists")

// Registry holds the named engines of one process
type Registry struct {
	mu          sync.RWMutex
	engines     map[string]*Engine
	defaultName string
	settings    Settings
	opts        []Option
}

// NewRegistry creates an empty registry; every engine it creates gets settings and opts
func NewRegistry(settings Settings, opts ...Option) *Registry {
	return &Registry{
		engines:  make(map[string]*Engine),
		settings: settings,
		opts:     opts,
	}
}

// Create adds a database. The first database created becomes the default.
func (r *Registry) Create(name string) (*Engine, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidDB)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseExists, name)
	}
	e := NewEngine(name, r.settings, r.opts...)
	r.engines[name] = e
	if r.defaultName == "" {
		r.defaultName = name
	}
	return e, nil
}

// Get returns the named database
func (r *Registry) Get(name string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	e, ok := r.engines[name]
	return e, ok
}

// Names lists the databases in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Settings returns the settings shared by every database
func (r *Registry) Settings() Settings {
	return r.settings
}

// Dispatch routes req to the database it names, or to the default database
// when it names none. Unknown databases fail the batch with INVALID_DB.
func (r *Registry) Dispatch(req *Request, done func(*Request)) *Request {
	if req == nil {
		req = &Request{Status: StatusInvalidRequest}
		if done != nil {
			done(req)
		}
		return req
	}

	e, ok := r.Get(req.DB)
	if !ok {
		req.fail(StatusInvalidDB)
		if done != nil {
			done(req)
		}
		return req
	}
	return e.Dispatch(req, done)
}

// DropClient releases client's locks and subscriptions in every database
func (r *Registry) DropClient(client string) error {
	r.mu.RLock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.RUnlock()

	var errs []error
	for _, e := range engines {
		if err := e.DropClient(client); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}
