// ABOUTME: Process-wide database settings and their builder
// ABOUTME: Invalid values are ignored so a bad option never changes live behavior

package query

import (
	"fmt"

	"github.com/nainya/jsondb/pkg/locking"
)

// MaxConnectionsLimit is the largest accepted connection cap
const MaxConnectionsLimit = 999999

// Settings is an immutable set of database options
type Settings struct {
	locking        locking.Policy
	maxConnections int
}

// DefaultSettings returns the settings a builder starts from
func DefaultSettings() Settings {
	return Settings{
		locking:        locking.PolicyNone,
		maxConnections: 0,
	}
}

// LockingPolicy returns the configured locking policy
func (s Settings) LockingPolicy() locking.Policy {
	return s.locking
}

// MaxConnections returns the subscription stream cap; zero means unlimited
func (s Settings) MaxConnections() int {
	return s.maxConnections
}

// SettingsBuilder provides a fluent interface for building settings
type SettingsBuilder struct {
	settings Settings
	rejected []error
}

// NewSettingsBuilder creates a builder holding the defaults
func NewSettingsBuilder() *SettingsBuilder {
	return &SettingsBuilder{settings: DefaultSettings()}
}

// LockingPolicy sets the locking policy by name
func (b *SettingsBuilder) LockingPolicy(name string) *SettingsBuilder {
	p, err := locking.ParsePolicy(name)
	if err != nil {
		b.rejected = append(b.rejected, err)
		return b
	}
	b.settings.locking = p
	return b
}

// MaxConnections sets the connection cap
func (b *SettingsBuilder) MaxConnections(n int) *SettingsBuilder {
	if n < 0 || n > MaxConnectionsLimit {
		b.rejected = append(b.rejected, fmt.Errorf("max connections %d out of range [0, %d]", n, MaxConnectionsLimit))
		return b
	}
	b.settings.maxConnections = n
	return b
}

// Rejected lists the values the builder ignored
func (b *SettingsBuilder) Rejected() []error {
	return b.rejected
}

// Build returns the constructed settings
func (b *SettingsBuilder) Build() Settings {
	return b.settings
}
