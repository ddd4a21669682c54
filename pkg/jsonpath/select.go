// ABOUTME: Path query engine resolving canonical paths against a JSON tree
// ABOUTME: Walks wildcards and indexes in-house; filter expressions are evaluated by ojg

package jsonpath

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/ohler55/ojg/jp"
)

var (
	// ErrNotFound indicates a path that resolves to nothing
	ErrNotFound = errors.New("jsonpath: path not found")

	// ErrNotContainer indicates an update below a scalar value
	ErrNotContainer = errors.New("jsonpath: value is not a container")
)

// Match is one resolved location in the tree
type Match struct {
	Path  Path `json:"path"`
	Value any  `json:"value"`
}

// Select resolves p against tree. Map keys are visited in sorted order.
func Select(tree any, p Path) []Match {
	var out []Match
	selectInto(tree, p.Segments(), nil, &out)
	return out
}

func selectInto(node any, segs []string, at []string, out *[]Match) {
	if len(segs) == 0 {
		*out = append(*out, Match{Path: FromSegments(at), Value: node})
		return
	}
	seg, rest := segs[0], segs[1:]
	if seg == "@" {
		selectInto(node, rest, at, out)
		return
	}
	for _, c := range children(node, seg) {
		selectInto(c.value, rest, appendSeg(at, c.key), out)
	}
}

type child struct {
	key   string
	value any
}

// children lists the members of node addressed by one segment
func children(node any, seg string) []child {
	switch n := node.(type) {
	case map[string]any:
		if IsWildcard(seg) || IsFilter(seg) {
			var out []child
			for _, k := range slices.Sorted(maps.Keys(n)) {
				if IsWildcard(seg) || matchFilter(n[k], seg) {
					out = append(out, child{key: k, value: n[k]})
				}
			}
			return out
		}
		if v, ok := n[seg]; ok {
			return []child{{key: seg, value: v}}
		}
	case []any:
		if IsWildcard(seg) || IsFilter(seg) {
			var out []child
			for i, v := range n {
				if IsWildcard(seg) || matchFilter(v, seg) {
					out = append(out, child{key: strconv.Itoa(i), value: v})
				}
			}
			return out
		}
		if i, err := strconv.Atoi(seg); err == nil && i >= 0 && i < len(n) {
			return []child{{key: seg, value: n[i]}}
		}
	}
	return nil
}

// Update sets key under every container resolved by p and returns the
// possibly replaced tree. An empty key replaces the resolved node itself.
// With createMissing, absent map members along p are created as objects.
func Update(tree any, p Path, key string, value any, createMissing bool) (any, []Match, error) {
	segs := p.Segments()
	if key == "" {
		if len(segs) == 0 {
			return value, []Match{{Path: Root, Value: value}}, nil
		}
		key = segs[len(segs)-1]
		segs = segs[:len(segs)-1]
		if IsWildcard(key) || IsFilter(key) {
			return tree, nil, fmt.Errorf("%w: cannot replace %q", ErrNotFound, p)
		}
	}

	u := updater{key: key, value: value, create: createMissing}
	newTree, err := u.walk(tree, segs, nil)
	if err != nil {
		return tree, nil, err
	}
	if len(u.matches) == 0 {
		return tree, nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return newTree, u.matches, nil
}

type updater struct {
	key     string
	value   any
	create  bool
	matches []Match
}

func (u *updater) walk(node any, segs []string, at []string) (any, error) {
	if len(segs) == 0 {
		return u.set(node, at)
	}
	seg, rest := segs[0], segs[1:]
	if seg == "@" {
		return u.walk(node, rest, at)
	}
	if node == nil && u.create && !IsWildcard(seg) && !IsFilter(seg) {
		node = map[string]any{}
	}

	switch n := node.(type) {
	case map[string]any:
		if IsWildcard(seg) || IsFilter(seg) {
			for _, c := range children(n, seg) {
				v, err := u.walk(c.value, rest, appendSeg(at, c.key))
				if err != nil {
					return node, err
				}
				n[c.key] = v
			}
			return n, nil
		}
		c, ok := n[seg]
		if !ok && !u.create {
			return node, fmt.Errorf("%w: %s", ErrNotFound, FromSegments(appendSeg(at, seg)))
		}
		v, err := u.walk(c, rest, appendSeg(at, seg))
		if err != nil {
			return node, err
		}
		n[seg] = v
		return n, nil
	case []any:
		for _, c := range children(n, seg) {
			i, _ := strconv.Atoi(c.key)
			v, err := u.walk(c.value, rest, appendSeg(at, c.key))
			if err != nil {
				return node, err
			}
			n[i] = v
		}
		if !IsWildcard(seg) && !IsFilter(seg) && len(children(n, seg)) == 0 {
			return node, fmt.Errorf("%w: %s", ErrNotFound, FromSegments(appendSeg(at, seg)))
		}
		return n, nil
	case nil:
		return node, fmt.Errorf("%w: %s", ErrNotFound, FromSegments(appendSeg(at, seg)))
	default:
		return node, fmt.Errorf("%w: %s", ErrNotContainer, FromSegments(at))
	}
}

func (u *updater) set(node any, at []string) (any, error) {
	if node == nil && u.create {
		node = map[string]any{}
	}
	loc := FromSegments(appendSeg(at, u.key))
	switch n := node.(type) {
	case map[string]any:
		n[u.key] = u.value
		u.matches = append(u.matches, Match{Path: loc, Value: u.value})
		return n, nil
	case []any:
		i, err := strconv.Atoi(u.key)
		switch {
		case u.key == "-" || (err == nil && i == len(n)):
			n = append(n, u.value)
			loc = FromSegments(appendSeg(at, strconv.Itoa(len(n)-1)))
		case err == nil && i >= 0 && i < len(n):
			n[i] = u.value
		default:
			return node, fmt.Errorf("%w: index %q out of range at %s", ErrNotFound, u.key, FromSegments(at))
		}
		u.matches = append(u.matches, Match{Path: loc, Value: u.value})
		return n, nil
	case nil:
		return node, fmt.Errorf("%w: %s", ErrNotFound, FromSegments(at))
	default:
		return node, fmt.Errorf("%w: %s", ErrNotContainer, FromSegments(at))
	}
}

func appendSeg(at []string, seg string) []string {
	out := make([]string, len(at), len(at)+1)
	copy(out, at)
	return append(out, seg)
}

var filters sync.Map // segment -> jp.Expr

// filterExpr parses a bracketed filter segment with the ojg JSONPath parser
func filterExpr(seg string) (jp.Expr, error) {
	if x, ok := filters.Load(seg); ok {
		return x.(jp.Expr), nil
	}
	x, err := jp.ParseString("$" + seg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	filters.Store(seg, x)
	return x, nil
}

// matchFilter applies a filter segment such as [?(@.active == true)] to one
// member. The member is wrapped in a one-element list so the filter sees it
// as a candidate child.
func matchFilter(v any, seg string) bool {
	x, err := filterExpr(seg)
	if err != nil {
		return false
	}
	return len(x.Get([]any{v})) > 0
}

// Clone deep-copies a JSON value built from maps, slices and scalars
func Clone(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, c := range n {
			out[k] = Clone(c)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, c := range n {
			out[i] = Clone(c)
		}
		return out
	default:
		return v
	}
}
