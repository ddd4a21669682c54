package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/nainya/jsondb/pkg/locking"
	"github.com/nainya/jsondb/pkg/query"
)

func viperFor(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	cmd := newRootCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		t.Fatalf("Failed to bind flags: %v", err)
	}
	return v
}

func TestConfigFromFlags(t *testing.T) {
	v := viperFor(t, "--locking", "record", "--db", "a", "--db", "b", "--max-connections", "5")
	cfg, err := configFromViper(v)
	if err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}
	if cfg.Locking != "record" || cfg.MaxConnections != 5 {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if len(cfg.Databases) != 2 || cfg.Databases[0] != "a" {
		t.Errorf("Expected databases [a b], got %v", cfg.Databases)
	}

	settings, err := buildSettings(cfg)
	if err != nil {
		t.Fatalf("Failed to build settings: %v", err)
	}
	if settings.LockingPolicy() != locking.PolicyRecord || settings.MaxConnections() != 5 {
		t.Errorf("Unexpected settings %+v", settings)
	}
}

func TestConfigRejectsBadValues(t *testing.T) {
	cfg, err := configFromViper(viperFor(t, "--locking", "sometimes"))
	if err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}
	if _, err := buildSettings(cfg); err == nil {
		t.Error("Expected an error for an unknown locking policy")
	}

	if _, err := configFromViper(viperFor(t, "--watch")); err == nil {
		t.Error("Expected --watch without --snapshot-dir to fail")
	}
}

func TestConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "jsondb.yaml")
	if err := os.WriteFile(file, []byte("locking: full\nmax-connections: 7\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	v := viperFor(t, "--config", file)
	if err := loadConfigFile(v); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	cfg, err := configFromViper(v)
	if err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}
	if cfg.Locking != "full" || cfg.MaxConnections != 7 {
		t.Errorf("Expected file values, got %+v", cfg)
	}
}

func TestParseItems(t *testing.T) {
	items, err := parseItems(query.OpWrite, "", []string{"users.ann.age=31", "flag=true", "name=bob"})
	if err != nil {
		t.Fatalf("Failed to parse items: %v", err)
	}
	if items[0].Path != "users.ann" || items[0].Key != "age" || items[0].Value != 31.0 {
		t.Errorf("Unexpected item %+v", items[0])
	}
	if items[1].Path != "" || items[1].Key != "flag" || items[1].Value != true {
		t.Errorf("Unexpected item %+v", items[1])
	}
	if items[2].Value != "bob" {
		t.Errorf("Expected bare word string, got %v", items[2].Value)
	}

	if _, err := parseItems(query.OpWrite, "", []string{"novalue"}); err == nil {
		t.Error("Expected error for write without value")
	}

	items, _ = parseItems(query.OpLock, "r", []string{"a.b"})
	if items[0].Path != "a.b" || items[0].Lock != "r" {
		t.Errorf("Unexpected lock item %+v", items[0])
	}
}
