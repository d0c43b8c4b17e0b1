package rsyncdconfig_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/rsyncdconfig"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rsyncd.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesModulesAndListeners(t *testing.T) {
	path := writeConfig(t, `
[[listener]]
address = ":8730"

[[module]]
name = "rpki"
path = "/var/lib/rpki-repo"
description = "RPKI repository snapshot"
acl = ["allow all"]
refresh = "30s"
extra_args = "--delete --exclude '*.tmp'"
`)

	cfg, err := rsyncdconfig.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0].Address != ":8730" {
		t.Errorf("Listeners = %+v", cfg.Listeners)
	}
	if len(cfg.Modules) != 1 {
		t.Fatalf("Modules = %+v", cfg.Modules)
	}
	m := cfg.Modules[0]
	if m.Name != "rpki" || m.Path != "/var/lib/rpki-repo" {
		t.Errorf("module = %+v", m)
	}

	refresh, err := m.RefreshInterval()
	if err != nil {
		t.Fatal(err)
	}
	if refresh != 30*time.Second {
		t.Errorf("refresh = %v, want 30s", refresh)
	}

	args, err := m.ExtraArgsList()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"--delete", "--exclude", "*.tmp"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("extra args (-want +got):\n%s", diff)
	}
}

func TestRefreshIntervalEmptyMeansZero(t *testing.T) {
	m := rsyncdconfig.Module{Name: "m"}
	d, err := m.RefreshInterval()
	if err != nil {
		t.Fatal(err)
	}
	if d != 0 {
		t.Errorf("refresh = %v, want 0", d)
	}
}

func TestRefreshIntervalInvalid(t *testing.T) {
	m := rsyncdconfig.Module{Name: "m", Refresh: "not-a-duration"}
	if _, err := m.RefreshInterval(); err == nil {
		t.Error("expected an error for an invalid refresh duration")
	}
}

func TestValidateRejectsDuplicateModuleNames(t *testing.T) {
	cfg := &rsyncdconfig.Config{
		Modules: []rsyncdconfig.Module{
			{Name: "rpki", Path: "/a"},
			{Name: "rpki", Path: "/b"},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for duplicate module names")
	}
}

func TestValidateRejectsEmptyPath(t *testing.T) {
	cfg := &rsyncdconfig.Config{
		Modules: []rsyncdconfig.Module{{Name: "rpki"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a module with no path")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := rsyncdconfig.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected an error loading a missing file")
	}
}
