// ABOUTME: Document store holding the shared JSON tree
// ABOUTME: Value access is delegated to the jsonpath query engine

package document

import (
	"encoding/json"
	"fmt"

	"github.com/nainya/jsondb/pkg/jsonpath"
)

// Store owns the document tree. It is not safe for concurrent use;
// callers serialize access.
type Store struct {
	tree any
}

// NewStore creates a store holding an empty object
func NewStore() *Store {
	return &Store{tree: map[string]any{}}
}

// Select resolves p and returns detached copies of the matched values
func (s *Store) Select(p jsonpath.Path) []jsonpath.Match {
	matches := jsonpath.Select(s.tree, p)
	for i := range matches {
		matches[i].Value = jsonpath.Clone(matches[i].Value)
	}
	return matches
}

// Update writes value under key at every container resolved by p,
// creating missing intermediate objects
func (s *Store) Update(p jsonpath.Path, key string, value any) ([]jsonpath.Match, error) {
	v, err := normalize(value)
	if err != nil {
		return nil, err
	}

	// Fan-out paths may fail after touching some branches
	var snap *Snapshot
	if fansOut(p) {
		sn := s.Snapshot()
		snap = &sn
	}

	tree, matches, err := jsonpath.Update(s.tree, p, key, v, true)
	if err != nil {
		if snap != nil {
			s.Restore(*snap)
		}
		return nil, err
	}
	s.tree = tree

	for i := range matches {
		matches[i].Value = jsonpath.Clone(matches[i].Value)
	}
	return matches, nil
}

func fansOut(p jsonpath.Path) bool {
	for _, seg := range p.Segments() {
		if jsonpath.IsWildcard(seg) || jsonpath.IsFilter(seg) {
			return true
		}
	}
	return false
}

// Snapshot captures the current tree
func (s *Store) Snapshot() Snapshot {
	return Snapshot{tree: jsonpath.Clone(s.tree)}
}

// Restore replaces the tree with a snapshot taken earlier
func (s *Store) Restore(snap Snapshot) {
	s.tree = jsonpath.Clone(snap.tree)
}

// Tree returns a deep copy of the whole tree
func (s *Store) Tree() any {
	return jsonpath.Clone(s.tree)
}

// Replace swaps in a new tree wholesale
func (s *Store) Replace(tree any) error {
	v, err := normalize(tree)
	if err != nil {
		return err
	}
	s.tree = v
	return nil
}

// Stats walks the tree and counts its nodes
func (s *Store) Stats() Stats {
	var st Stats
	walk(s.tree, 0, &st)
	return st
}

func walk(v any, depth int, st *Stats) {
	st.Nodes++
	if depth > st.MaxDepth {
		st.MaxDepth = depth
	}
	switch n := v.(type) {
	case map[string]any:
		for _, c := range n {
			walk(c, depth+1, st)
		}
	case []any:
		for _, c := range n {
			walk(c, depth+1, st)
		}
	}
}

// normalize round-trips a value through JSON so the tree only holds
// maps, slices, and JSON scalars
func normalize(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, float64:
		return value, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}
