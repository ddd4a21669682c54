// ABOUTME: Whole-tree JSON snapshots to and from disk
// ABOUTME: Load replaces the tree wholesale; Save writes through a temp file and rename

package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Load parses a UTF-8 JSON file and replaces the tree with it
func (s *Store) Load(filename string) (int64, error) {
	if filename == "" {
		return 0, ErrEmptyFilename
	}
	f, err := os.Open(filename)
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	n, err := s.Decode(f)
	if err != nil {
		return n, fmt.Errorf("load %s: %w", filename, err)
	}
	return n, nil
}

// Decode reads one JSON document from r and replaces the tree with it
func (s *Store) Decode(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return int64(len(data)), fmt.Errorf("decode snapshot: %w", err)
	}
	s.tree = tree
	return int64(len(data)), nil
}

// Save serializes the whole tree as UTF-8 JSON and returns the byte count
func (s *Store) Save(filename string) (int64, error) {
	if filename == "" {
		return 0, ErrEmptyFilename
	}

	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return 0, err
	}

	// Write next to the target so the rename stays on one filesystem
	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return 0, fmt.Errorf("rename snapshot: %w", err)
	}
	return int64(buf.Len()), nil
}

// Encode writes the tree as JSON to w
func (s *Store) Encode(w io.Writer) error {
	data, err := json.Marshal(s.tree)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = w.Write(data)
	return err
}
