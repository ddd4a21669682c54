// ABOUTME: Tests for the document store and JSON snapshots
// ABOUTME: Verifies select, update, rollback, and load/save round trips

package document

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/nainya/jsondb/pkg/jsonpath"
)

func setupTestStore(t *testing.T, initial string) *Store {
	t.Helper()
	s := NewStore()
	if initial != "" {
		if _, err := s.Decode(strings.NewReader(initial)); err != nil {
			t.Fatalf("Failed to decode initial tree: %v", err)
		}
	}
	return s
}

func TestNewStoreIsEmptyObject(t *testing.T) {
	s := NewStore()
	tree, ok := s.Tree().(map[string]any)
	if !ok || len(tree) != 0 {
		t.Errorf("Expected empty object, got %v", s.Tree())
	}
}

func TestWriteThenRead(t *testing.T) {
	s := setupTestStore(t, `{"a":{"b":1}}`)

	matches, err := s.Update("a", "b", 2)
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if len(matches) != 1 || matches[0].Path != "a/b" {
		t.Errorf("Expected one match at a/b, got %+v", matches)
	}

	got := s.Select("a/b")
	if len(got) != 1 || got[0].Value != float64(2) {
		t.Errorf("Expected a/b=2, got %+v", got)
	}
}

func TestSelectReturnsCopies(t *testing.T) {
	s := setupTestStore(t, `{"a":{"b":{"c":1}}}`)

	got := s.Select("a/b")
	got[0].Value.(map[string]any)["c"] = 99.0

	again := s.Select("a/b/c")
	if again[0].Value != float64(1) {
		t.Errorf("Store was mutated through a selected value: %v", again[0].Value)
	}
}

func TestUpdateNormalizesValues(t *testing.T) {
	s := NewStore()

	type point struct {
		X int `json:"x"`
	}
	if _, err := s.Update(jsonpath.Root, "p", point{X: 3}); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	got := s.Select("p/x")
	if len(got) != 1 || got[0].Value != float64(3) {
		t.Errorf("Expected p/x=3, got %+v", got)
	}

	if _, err := s.Update(jsonpath.Root, "bad", make(chan int)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
}

func TestFailedFanOutUpdateLeavesTreeUnchanged(t *testing.T) {
	s := setupTestStore(t, `{"a":{"x":{},"y":1}}`)
	before := s.Tree()

	if _, err := s.Update("a/*", "k", true); !errors.Is(err, jsonpath.ErrNotContainer) {
		t.Fatalf("Expected ErrNotContainer, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Tree()) {
		t.Errorf("Expected unchanged tree, got %v", s.Tree())
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := setupTestStore(t, `{"a":1}`)
	snap := s.Snapshot()

	s.Update(jsonpath.Root, "a", 2)
	s.Update(jsonpath.Root, "b", 3)
	s.Restore(snap)

	want := map[string]any{"a": float64(1)}
	if !reflect.DeepEqual(s.Tree(), want) {
		t.Errorf("Expected %v, got %v", want, s.Tree())
	}
}

func TestStats(t *testing.T) {
	s := setupTestStore(t, `{"a":{"b":[1,2]},"c":true}`)
	st := s.Stats()
	if st.Nodes != 6 {
		t.Errorf("Expected 6 nodes, got %d", st.Nodes)
	}
	if st.MaxDepth != 3 {
		t.Errorf("Expected depth 3, got %d", st.MaxDepth)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := setupTestStore(t, `{"users":[{"name":"ann","tags":["x"]},{"name":"bob","age":31.5}],"ok":true,"nil":null}`)
	path := filepath.Join(t.TempDir(), "db.json")

	n, err := s.Save(path)
	if err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat snapshot: %v", err)
	}
	if info.Size() != n {
		t.Errorf("Expected %d bytes on disk, got %d", n, info.Size())
	}

	loaded := NewStore()
	if _, err := loaded.Load(path); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if !reflect.DeepEqual(s.Tree(), loaded.Tree()) {
		t.Errorf("Round trip mismatch:\n%v\n%v", s.Tree(), loaded.Tree())
	}

	// Save leaves no temp files behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the snapshot file, found %d entries", len(entries))
	}
}

func TestLoadErrors(t *testing.T) {
	s := NewStore()
	if _, err := s.Load(""); !errors.Is(err, ErrEmptyFilename) {
		t.Errorf("Expected ErrEmptyFilename, got %v", err)
	}
	if _, err := s.Load(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0o644)
	if _, err := s.Load(bad); err == nil {
		t.Error("Expected decode error")
	}
}

func TestEncode(t *testing.T) {
	s := setupTestStore(t, `{"b":2,"a":1}`)
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if buf.String() != `{"a":1,"b":2}` {
		t.Errorf("Unexpected encoding: %s", buf.String())
	}
}
