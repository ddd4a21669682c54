// ABOUTME: Tests for the database registry and settings builder
// ABOUTME: Verifies routing by name and that invalid settings are ignored

package query

import (
	"errors"
	"testing"

	"github.com/nainya/jsondb/pkg/locking"
)

func TestRegistryRouting(t *testing.T) {
	reg := NewRegistry(DefaultSettings())
	if _, err := reg.Create("main"); err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if _, err := reg.Create("aux"); err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if _, err := reg.Create("main"); !errors.Is(err, ErrDatabaseExists) {
		t.Errorf("Expected ErrDatabaseExists, got %v", err)
	}

	reg.Dispatch(&Request{DB: "aux", Operation: OpWrite, Items: []*Item{{Path: "", Key: "k", Value: "aux"}}}, nil)

	// No db means the first database created
	r := reg.Dispatch(&Request{Operation: OpRead, Items: []*Item{{Path: "k"}}}, nil)
	if r.Status != StatusInvalidPath {
		t.Errorf("Expected main to lack k, got %v", r.Status)
	}
	r = reg.Dispatch(&Request{DB: "aux", Operation: OpRead, Items: []*Item{{Path: "k"}}}, nil)
	if r.Status != StatusNone || r.Items[0].Value != "aux" {
		t.Errorf("Expected aux k=aux, got %v %v", r.Status, r.Items[0].Value)
	}

	if names := reg.Names(); len(names) != 2 || names[0] != "aux" || names[1] != "main" {
		t.Errorf("Expected [aux main], got %v", names)
	}
}

func TestRegistryUnknownDB(t *testing.T) {
	reg := NewRegistry(DefaultSettings())
	reg.Create("main")

	calls := 0
	r := reg.Dispatch(&Request{DB: "missing", Operation: OpRead, Items: []*Item{{Path: "a"}}}, func(*Request) { calls++ })
	if r.Status != StatusInvalidDB || r.Items[0].Status != StatusInvalidDB {
		t.Errorf("Expected INVALID_DB, got %v", r.Status)
	}
	if calls != 1 {
		t.Errorf("Expected done once, got %d", calls)
	}
	if _, err := reg.Create(""); !errors.Is(err, ErrInvalidDB) {
		t.Errorf("Expected ErrInvalidDB for empty name, got %v", err)
	}
}

func TestSettingsBuilder(t *testing.T) {
	b := NewSettingsBuilder().
		LockingPolicy("record").
		MaxConnections(10).
		LockingPolicy("bogus").
		MaxConnections(-1).
		MaxConnections(MaxConnectionsLimit + 1)

	s := b.Build()
	if s.LockingPolicy() != locking.PolicyRecord {
		t.Errorf("Expected record policy to survive, got %s", s.LockingPolicy())
	}
	if s.MaxConnections() != 10 {
		t.Errorf("Expected 10 connections to survive, got %d", s.MaxConnections())
	}
	if len(b.Rejected()) != 3 {
		t.Errorf("Expected 3 rejected values, got %d", len(b.Rejected()))
	}

	// Built settings do not follow later builder changes
	b.LockingPolicy("full")
	if s.LockingPolicy() != locking.PolicyRecord {
		t.Error("Expected built settings to be immutable")
	}

	if got := NewSettingsBuilder().MaxConnections(MaxConnectionsLimit).Build().MaxConnections(); got != MaxConnectionsLimit {
		t.Errorf("Expected upper bound to be accepted, got %d", got)
	}
	if got := NewSettingsBuilder().LockingPolicy("TRANS").Build().LockingPolicy(); got != locking.PolicyTransaction {
		t.Errorf("Expected transaction, got %s", got)
	}
}
