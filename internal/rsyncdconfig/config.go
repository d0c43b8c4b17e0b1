// Package rsyncdconfig loads the daemon's TOML configuration file: the
// set of modules to publish and the listeners to accept connections on.
// The teacher's rsyncd.Module already carries toml struct tags
// (rsyncd/rsyncd.go), implying a config loader the teacher's own sources
// reference but don't ship; this package is that loader, completed per
// SPEC_FULL.md §2.3.
package rsyncdconfig

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"
)

// Config is the top-level shape of the daemon's TOML file:
//
//	[[listener]]
//	address = ":8730"
//
//	[[module]]
//	name = "rpki"
//	path = "/var/lib/rpki-repo"
//	acl = ["allow all"]
//	refresh = "30s"
type Config struct {
	Listeners []Listener `toml:"listener"`
	Modules   []Module   `toml:"module"`
}

// Listener is one address to bind and accept rsync daemon connections on.
type Listener struct {
	Address string `toml:"address"`
}

// Module describes one published module. Unlike the teacher's
// rsyncd.Module, there is no Writable field: every module this daemon
// serves is backed by an in-memory read-only snapshot (spec.md §1
// Non-goals: "No write/upload path").
type Module struct {
	Name        string   `toml:"name"`
	Path        string   `toml:"path"`
	Description string   `toml:"description"`
	ACL         []string `toml:"acl"`

	// Refresh is the interval, as a duration string (e.g. "30s"), onto
	// which the module's Repository coalesces fsnotify-triggered rescans of
	// Path: at most one rescan and repositoryUpdated per interval, and none
	// in an interval without changes. Empty means every fsnotify event
	// triggers an immediate rescan.
	Refresh string `toml:"refresh"`

	// ExtraArgs is a free-form string of additional arguments applied to
	// every session against this module, split with shell-word rules.
	ExtraArgs string `toml:"extra_args"`
}

// RefreshInterval parses Refresh, returning 0 (rescan on every event, no
// coalescing) when it is empty.
func (m Module) RefreshInterval() (time.Duration, error) {
	if m.Refresh == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(m.Refresh)
	if err != nil {
		return 0, fmt.Errorf("rsyncdconfig: module %q: invalid refresh %q: %w", m.Name, m.Refresh, err)
	}
	return d, nil
}

// ExtraArgsList splits ExtraArgs with shell-word semantics (quoting,
// escaping), mirroring how a shell would hand rsync's own argument list to
// a process, via github.com/google/shlex.
func (m Module) ExtraArgsList() ([]string, error) {
	if m.ExtraArgs == "" {
		return nil, nil
	}
	args, err := shlex.Split(m.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("rsyncdconfig: module %q: invalid extra_args %q: %w", m.Name, m.ExtraArgs, err)
	}
	return args, nil
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("rsyncdconfig: loading %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants Load depends on: every module
// needs a non-empty, unique name and a non-empty path, and every listener
// needs a non-empty address.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if m.Name == "" {
			return fmt.Errorf("rsyncdconfig: module with empty name")
		}
		if seen[m.Name] {
			return fmt.Errorf("rsyncdconfig: duplicate module name %q", m.Name)
		}
		seen[m.Name] = true
		if m.Path == "" {
			return fmt.Errorf("rsyncdconfig: module %q has no path", m.Name)
		}
		if _, err := m.RefreshInterval(); err != nil {
			return err
		}
		if _, err := m.ExtraArgsList(); err != nil {
			return err
		}
	}
	for _, l := range c.Listeners {
		if l.Address == "" {
			return fmt.Errorf("rsyncdconfig: listener with empty address")
		}
	}
	return nil
}
