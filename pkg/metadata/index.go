// ABOUTME: Metadata index keyed by canonical path
// ABOUTME: Prefix tree over path segments for ancestor/descendant overlap queries

package metadata

import (
	"slices"
	"strings"
	"time"

	"github.com/nainya/jsondb/pkg/jsonpath"
	"github.com/nainya/jsondb/pkg/notify"
)

// Index maps canonical paths to metadata records. Overlap queries cost
// time proportional to path depth plus the size of the matching subtree.
// Not safe for concurrent use.
type Index struct {
	root  *node
	count int
	now   func() time.Time
}

type node struct {
	children map[string]*node
	record   *Record
}

// NewIndex creates an empty metadata index
func NewIndex() *Index {
	return &Index{root: &node{}, now: time.Now}
}

// Get returns the record stored exactly at p, or nil
func (ix *Index) Get(p jsonpath.Path) *Record {
	n := ix.find(p)
	if n == nil {
		return nil
	}
	return n.record
}

// GetOrCreate returns the record at p, inserting an empty one if needed
func (ix *Index) GetOrCreate(p jsonpath.Path) *Record {
	n := ix.root
	for _, seg := range p.Segments() {
		c, ok := n.children[seg]
		if !ok {
			if n.children == nil {
				n.children = make(map[string]*node)
			}
			c = &node{}
			n.children[seg] = c
		}
		n = c
	}
	if n.record == nil {
		n.record = newRecord(canonical(p), ix.now())
		ix.count++
	}
	return n.record
}

// Overlapping returns every record whose path is an ancestor, descendant,
// or exact match of p, ordered by path
func (ix *Index) Overlapping(p jsonpath.Path) []*Record {
	var out []*Record
	collect(ix.root, p.Segments(), &out)
	slices.SortFunc(out, func(a, b *Record) int {
		return strings.Compare(string(a.Path), string(b.Path))
	})
	return out
}

func collect(n *node, segs []string, out *[]*Record) {
	if len(segs) == 0 {
		n.each(func(r *Record) { *out = append(*out, r) })
		return
	}
	if n.record != nil {
		*out = append(*out, n.record)
	}
	for key, c := range n.children {
		if jsonpath.SegmentsMatch(key, segs[0]) {
			collect(c, segs[1:], out)
		}
	}
}

func (n *node) each(fn func(*Record)) {
	if n.record != nil {
		fn(n.record)
	}
	for _, c := range n.children {
		c.each(fn)
	}
}

// OverlappingSubscribers flattens the subscribers of every overlapping record
func (ix *Index) OverlappingSubscribers(p jsonpath.Path) []notify.Subscription {
	var subs []notify.Subscription
	for _, rec := range ix.Overlapping(p) {
		clients := make([]string, 0, len(rec.Subscribers))
		for client := range rec.Subscribers {
			clients = append(clients, client)
		}
		slices.Sort(clients)
		for _, client := range clients {
			subs = append(subs, notify.Subscription{
				ClientID: client,
				Path:     rec.Path,
				Sink:     rec.Subscribers[client],
			})
		}
	}
	return subs
}

// Touch marks a record as modified
func (ix *Index) Touch(r *Record) {
	r.UpdatedAt = ix.now()
}

// Prune drops the record at p once it holds no locks and no subscribers,
// then removes trie nodes left without records or children
func (ix *Index) Prune(p jsonpath.Path) bool {
	segs := p.Segments()
	trail := make([]*node, 0, len(segs)+1)
	n := ix.root
	trail = append(trail, n)
	for _, seg := range segs {
		c, ok := n.children[seg]
		if !ok {
			return false
		}
		n = c
		trail = append(trail, n)
	}
	if n.record == nil || !n.record.Empty() {
		return false
	}
	n.record = nil
	ix.count--

	for i := len(segs); i > 0; i-- {
		cur := trail[i]
		if cur.record != nil || len(cur.children) > 0 {
			break
		}
		delete(trail[i-1].children, segs[i-1])
	}
	return true
}

// Len returns the number of records
func (ix *Index) Len() int {
	return ix.count
}

// Records returns all records ordered by path
func (ix *Index) Records() []*Record {
	return ix.Overlapping(jsonpath.Root)
}

func (ix *Index) find(p jsonpath.Path) *node {
	n := ix.root
	for _, seg := range p.Segments() {
		c, ok := n.children[seg]
		if !ok {
			return nil
		}
		n = c
	}
	return n
}

func canonical(p jsonpath.Path) jsonpath.Path {
	if p.IsRoot() {
		return jsonpath.Root
	}
	return p
}
