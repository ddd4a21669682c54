// ABOUTME: Canonical path form used as the metadata key for locks and subscriptions
// ABOUTME: Tokenizes raw path expressions into delimiter-joined segments

package jsonpath

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Delimiter joins canonical path segments
const Delimiter = "/"

// Root is the canonical path of the whole tree
const Root Path = Delimiter

// ErrInvalidPath indicates a raw path with no recognizable segment
var ErrInvalidPath = errors.New("jsonpath: invalid path")

// A token is a name run optionally followed by a bracketed filter or index.
// Names run up to the next delimiter, dot or bracket.
var tokenPattern = regexp.MustCompile(`([^/.\[\]]+)?(\[.+?\])?`)

// Path is a canonical, delimiter-joined segment string
type Path string

// Canonicalize normalizes a raw path expression.
// Empty input, "/", "*" and "$" address the root.
func Canonicalize(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	switch strings.Trim(raw, Delimiter) {
	case "", "*", "$":
		return Root, nil
	}

	var segments []string
	for _, m := range tokenPattern.FindAllStringSubmatch(raw, -1) {
		if name := strings.TrimSpace(m[1]); name != "" {
			segments = append(segments, name)
		}
		if m[2] != "" {
			segments = append(segments, bracketSegment(m[2]))
		}
	}
	// A leading "$" names the root and carries no position
	if len(segments) > 0 && segments[0] == "$" {
		segments = segments[1:]
		if len(segments) == 0 {
			return Root, nil
		}
	}
	if len(segments) == 0 {
		return "", ErrInvalidPath
	}
	return Path(strings.Join(segments, Delimiter)), nil
}

// bracketSegment unwraps indexes, wildcards and quoted keys; filters keep their brackets.
func bracketSegment(tok string) string {
	inner := strings.TrimSpace(tok[1 : len(tok)-1])
	if inner == "*" {
		return inner
	}
	if _, err := strconv.Atoi(inner); err == nil {
		return inner
	}
	if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
		if key := inner[1 : len(inner)-1]; key != "" && !strings.Contains(key, Delimiter) {
			return key
		}
	}
	return tok
}

// FromSegments builds a canonical path from already-split segments
func FromSegments(segments []string) Path {
	if len(segments) == 0 {
		return Root
	}
	return Path(strings.Join(segments, Delimiter))
}

// IsRoot reports whether p addresses the whole tree
func (p Path) IsRoot() bool {
	return p == Root || p == ""
}

// Segments splits the path; the root has none
func (p Path) Segments() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(string(p), Delimiter)
}

// Child appends key to p as one literal segment, the same segment a
// quoted bracket key produces. Keys holding the delimiter, a bare
// wildcard or a filter cannot be addressed as one segment.
func (p Path) Child(key string) (Path, error) {
	if key == "" {
		return p, nil
	}
	if strings.Contains(key, Delimiter) || IsWildcard(key) || IsFilter(key) {
		return "", fmt.Errorf("%w: key %q", ErrInvalidPath, key)
	}
	if p.IsRoot() {
		return Path(key), nil
	}
	return p + Delimiter + Path(key), nil
}

func (p Path) String() string {
	if p == "" {
		return string(Root)
	}
	return string(p)
}

// IsWildcard reports whether a segment matches any single segment
func IsWildcard(segment string) bool {
	return segment == "*"
}

// IsFilter reports whether a segment is a bracketed filter expression
func IsFilter(segment string) bool {
	return strings.HasPrefix(segment, "[") && strings.HasSuffix(segment, "]")
}

// SegmentsMatch compares two segments, honoring wildcards and filters on either side.
// A filter may select any child, so it is treated like a wildcard for overlap.
func SegmentsMatch(a, b string) bool {
	return a == b || IsWildcard(a) || IsWildcard(b) || IsFilter(a) || IsFilter(b)
}

// Overlaps reports whether a is an ancestor, descendant, or equal of b.
// Segments are compared whole so "ab" never overlaps "abc".
func Overlaps(a, b Path) bool {
	as, bs := a.Segments(), b.Segments()
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if !SegmentsMatch(as[i], bs[i]) {
			return false
		}
	}
	return true
}
