// Repology Link Checker re-checks link availability for Repology.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"repology-linkchecker/internal/linkchecker/hosts"
)

func TestLoadDefaults(t *testing.T) {
	cfg, h, err := Load("", Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DSN != DefaultDSN {
		t.Errorf("DSN = %q, want default", cfg.DSN)
	}
	if cfg.MaxBuckets != DefaultMaxBuckets {
		t.Errorf("MaxBuckets = %d, want %d", cfg.MaxBuckets, DefaultMaxBuckets)
	}
	if h == nil {
		t.Fatal("Hosts table is nil")
	}
}

// TestLoadUnpatchedHostGetsNonZeroDefaults guards against the base
// settings silently regressing to the Go zero value: a zero Timeout
// disables the HTTP client's deadline, a zero Delay disables
// per-host politeness, and a zero GeneratedSamplingPercentage would
// route every Generated task to OutOfSample instead of actually being
// checked.
func TestLoadUnpatchedHostGetsNonZeroDefaults(t *testing.T) {
	_, h, err := Load("", Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := h.GetSettings("some-host-with-no-patch-or-alias.example")
	want := hosts.DefaultSettings()
	if s != want {
		t.Errorf("GetSettings(unpatched) = %+v, want DefaultSettings() %+v", s, want)
	}
	if s.Timeout != 20*time.Second {
		t.Errorf("Timeout = %v, want 20s", s.Timeout)
	}
	if s.Delay != 3*time.Second {
		t.Errorf("Delay = %v, want 3s", s.Delay)
	}
	if s.GeneratedSamplingPercentage != 100 {
		t.Errorf("GeneratedSamplingPercentage = %d, want 100", s.GeneratedSamplingPercentage)
	}
}

func TestLoadBuiltinAliasAndAggregate(t *testing.T) {
	_, h, err := Load("", Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := h.GetAggregation("foo.github.io"); got != "github.com" {
		t.Errorf("GetAggregation(foo.github.io) = %q, want github.com (builtin is-alias)", got)
	}
	if got := h.GetAggregation("foo.gitlab.com"); got != "gitlab.com" {
		t.Errorf("GetAggregation(foo.gitlab.com) = %q, want gitlab.com (builtin aggregate)", got)
	}
}

func TestLoadDisableBuiltinHostsConfig(t *testing.T) {
	_, h, err := Load("", Overrides{DisableBuiltinHostsConfig: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := h.GetAggregation("foo.github.io"); got != "foo.github.io" {
		t.Errorf("GetAggregation(foo.github.io) = %q, want itself once builtins are disabled", got)
	}
}

func TestLoadFileOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
max_buckets = 42

[hosts."example.org"]
blacklist = true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, h, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxBuckets != 42 {
		t.Errorf("MaxBuckets = %d, want 42", cfg.MaxBuckets)
	}
	if !h.GetSettings("example.org").Blacklist {
		t.Error("example.org should be blacklisted by the file config")
	}
}

func TestLoadOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("max_buckets = 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	override := 7
	cfg, _, err := Load(path, Overrides{MaxBuckets: &override})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxBuckets != 7 {
		t.Errorf("MaxBuckets = %d, want CLI override 7", cfg.MaxBuckets)
	}
}
