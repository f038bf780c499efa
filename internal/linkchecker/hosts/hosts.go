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

// Package hosts implements the per-host policy table: suffix-based
// settings inheritance, "is" aliasing, aggregation-key grouping, and
// the recheck/defer interval generators that consume those settings.
package hosts

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"repology-linkchecker/internal/linkchecker/task"
)

// Rand is the injectable uniform-random source used for splay and
// defer interval generation, so tests can make scheduling decisions
// deterministic. Float64 must return a value in [0, 1).
type Rand interface {
	Float64() float64
}

// defaultRand wraps the standard library's global source.
type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// DefaultRand is the production Rand implementation.
var DefaultRand Rand = defaultRand{}

// DefaultSettings returns the base policy merged beneath every host's
// patch (including the builtin/operator "default" patch, if any),
// matching the original's HostSettings::default().
func DefaultSettings() Settings {
	return Settings{
		Delay:                       3 * time.Second,
		Timeout:                     20 * time.Second,
		RecheckManual:               7 * 24 * time.Hour,
		RecheckGenerated:            14 * 24 * time.Hour,
		RecheckUnsampled:            60 * 24 * time.Hour,
		RecheckSplay:                1.0,
		GeneratedSamplingPercentage: 100,
	}
}

// Settings is the fully-resolved policy for one host: no optional
// fields, no patch semantics, ready to drive checker decisions
// directly.
type Settings struct {
	Delay                       time.Duration
	Timeout                     time.Duration
	RecheckManual               time.Duration
	RecheckGenerated            time.Duration
	RecheckUnsampled            time.Duration
	RecheckSplay                float64
	Skip                        bool
	Aggregate                   bool
	Blacklist                   bool
	Hijacked                    bool
	DisableIPv6                 bool
	DisableHead                 bool
	Monitor                     bool
	GeneratedSamplingPercentage uint8
}

// Patch is a set of optional overrides layered onto a base Settings at
// load time. A patch with Is set must not carry any other field (see
// Check): "is" replaces the resolved settings wholesale, it does not
// merge with them.
type Patch struct {
	Delay                       *float64 `toml:"delay"`          // seconds
	Timeout                     *float64 `toml:"timeout"`        // seconds
	RecheckManual               *float64 `toml:"recheck_manual"` // days
	RecheckGenerated            *float64 `toml:"recheck_generated"`
	RecheckUnsampled            *float64 `toml:"recheck_unsampled"`
	RecheckSplay                *float64 `toml:"recheck_splay"`
	Skip                        *bool    `toml:"skip"`
	Aggregate                   *bool    `toml:"aggregate"`
	Blacklist                   *bool    `toml:"blacklist"`
	Hijacked                    *bool    `toml:"hijacked"`
	DisableIPv6                 *bool    `toml:"disable_ipv6"`
	DisableHead                 *bool    `toml:"disable_head"`
	Monitor                     *bool    `toml:"monitor"`
	GeneratedSamplingPercentage *uint8   `toml:"generated_sampling_percentage"`
	Is                          *string  `toml:"is"`
}

// Check validates the mutual-exclusion rule between Is and every other
// field.
func (p Patch) Check() error {
	if p.Is == nil {
		return nil
	}
	other := p.Delay != nil || p.Timeout != nil || p.RecheckManual != nil ||
		p.RecheckGenerated != nil || p.RecheckUnsampled != nil || p.RecheckSplay != nil ||
		p.Skip != nil || p.Aggregate != nil || p.Blacklist != nil || p.Hijacked != nil ||
		p.DisableIPv6 != nil || p.DisableHead != nil || p.Monitor != nil ||
		p.GeneratedSamplingPercentage != nil
	if other {
		return fmt.Errorf("hosts: patch with is=%q must not set any other field", *p.Is)
	}
	return nil
}

const daySeconds = 86400.0

// merge applies a non-alias patch on top of base, producing a fully
// resolved Settings.
func merge(base Settings, p Patch) Settings {
	out := base
	if p.Delay != nil {
		out.Delay = time.Duration(*p.Delay * float64(time.Second))
	}
	if p.Timeout != nil {
		out.Timeout = time.Duration(*p.Timeout * float64(time.Second))
	}
	if p.RecheckManual != nil {
		out.RecheckManual = time.Duration(*p.RecheckManual * daySeconds * float64(time.Second))
	}
	if p.RecheckGenerated != nil {
		out.RecheckGenerated = time.Duration(*p.RecheckGenerated * daySeconds * float64(time.Second))
	}
	if p.RecheckUnsampled != nil {
		out.RecheckUnsampled = time.Duration(*p.RecheckUnsampled * daySeconds * float64(time.Second))
	}
	if p.RecheckSplay != nil {
		out.RecheckSplay = *p.RecheckSplay
	}
	if p.Skip != nil {
		out.Skip = *p.Skip
	}
	if p.Aggregate != nil {
		out.Aggregate = *p.Aggregate
	}
	if p.Blacklist != nil {
		out.Blacklist = *p.Blacklist
	}
	if p.Hijacked != nil {
		out.Hijacked = *p.Hijacked
	}
	if p.DisableIPv6 != nil {
		out.DisableIPv6 = *p.DisableIPv6
	}
	if p.DisableHead != nil {
		out.DisableHead = *p.DisableHead
	}
	if p.Monitor != nil {
		out.Monitor = *p.Monitor
	}
	if p.GeneratedSamplingPercentage != nil {
		out.GeneratedSamplingPercentage = *p.GeneratedSamplingPercentage
	}
	return out
}

// Hosts is the immutable, fully-resolved host policy table built once
// at startup and shared by reference across every Checker.
type Hosts struct {
	defaultSettings Settings
	settings        map[string]Settings
	aliasTarget     map[string]string
}

// Build resolves a default Settings plus a map of per-host patches
// (keyed by hostname suffix, e.g. "github.io" or "foo.example.com")
// into an immutable Hosts table. Patches are validated with Check
// before merging. A patch whose Is target names a non-alias key in
// patches takes that key's resolved settings; a target that is missing
// from patches or is itself an alias is not an error and resolves to
// defaultSettings (aliases are not followed recursively).
func Build(defaultSettings Settings, patches map[string]Patch) (*Hosts, error) {
	for host, p := range patches {
		if err := p.Check(); err != nil {
			return nil, fmt.Errorf("hosts: host %q: %w", host, err)
		}
	}

	resolved := make(map[string]Settings, len(patches))
	aliasTarget := make(map[string]string)

	for host, p := range patches {
		if p.Is != nil {
			continue
		}
		resolved[host] = merge(defaultSettings, p)
	}

	for host, p := range patches {
		if p.Is == nil {
			continue
		}
		target := *p.Is
		aliasTarget[host] = target
		if s, ok := resolved[target]; ok {
			resolved[host] = s
		} else {
			// Target itself is an alias or unknown at this point; fall
			// back to the default rather than recursing.
			resolved[host] = defaultSettings
		}
	}

	return &Hosts{
		defaultSettings: defaultSettings,
		settings:        resolved,
		aliasTarget:     aliasTarget,
	}, nil
}

// suffixes returns hostname, then each suffix formed by dropping the
// leftmost label, ending with the empty string.
func suffixes(hostname string) []string {
	hostname = strings.ToLower(hostname)
	var out []string
	for {
		out = append(out, hostname)
		if hostname == "" {
			break
		}
		idx := strings.IndexByte(hostname, '.')
		if idx < 0 {
			hostname = ""
			continue
		}
		hostname = hostname[idx+1:]
	}
	return out
}

// GetSettings resolves the effective Settings for hostname: the first
// suffix-table hit, or the default if none matches. Aliased entries
// are already flattened at Build time, so no further indirection
// happens here.
func (h *Hosts) GetSettings(hostname string) Settings {
	for _, suf := range suffixes(hostname) {
		if suf == "" {
			break
		}
		if s, ok := h.settings[suf]; ok {
			return s
		}
	}
	return h.defaultSettings
}

// GetAggregation returns the aggregation key for hostname: the alias
// target if the matching suffix is aliased, the matching suffix itself
// if it has Aggregate set, or the (www.-stripped) hostname if no
// suffix ever matches either condition.
func (h *Hosts) GetAggregation(hostname string) string {
	stripped := strings.ToLower(hostname)
	stripped = strings.TrimPrefix(stripped, "www.")

	for _, suf := range suffixes(stripped) {
		if suf == "" {
			break
		}
		if target, ok := h.aliasTarget[suf]; ok {
			return target
		}
		if s, ok := h.settings[suf]; ok && s.Aggregate {
			return suf
		}
	}
	return stripped
}

var fastFailureManual = []time.Duration{
	1 * time.Hour,
	4 * time.Hour,
	24 * time.Hour,
	3 * 24 * time.Hour,
}

var fastFailureGenerated = []time.Duration{
	1 * time.Hour,
	24 * time.Hour,
}

func recheckBase(s Settings, c task.RecheckCase) time.Duration {
	switch c {
	case task.RecheckManual:
		return s.RecheckManual
	case task.RecheckGenerated:
		return s.RecheckGenerated
	default:
		return s.RecheckUnsampled
	}
}

func splayFactor(s Settings, r Rand) float64 {
	return 1.0 + r.Float64()*s.RecheckSplay
}

// GenerateRecheckInterval scales the recheck-case base interval by a
// uniform splay factor in [1, 1+RecheckSplay).
func GenerateRecheckInterval(s Settings, c task.RecheckCase, r Rand) time.Duration {
	base := recheckBase(s, c)
	return time.Duration(float64(base) * splayFactor(s, r))
}

// GenerateFastFailureRecheckInterval looks up an escalating interval
// by 1-indexed failureStreak in a case-dependent table, returning
// (0, false) once the streak exceeds the table (or the case has no
// table at all, e.g. Unsampled).
func GenerateFastFailureRecheckInterval(s Settings, c task.RecheckCase, failureStreak int, r Rand) (time.Duration, bool) {
	var table []time.Duration
	switch c {
	case task.RecheckManual:
		table = fastFailureManual
	case task.RecheckGenerated:
		table = fastFailureGenerated
	default:
		return 0, false
	}
	if failureStreak < 1 || failureStreak > len(table) {
		return 0, false
	}
	base := table[failureStreak-1]
	return time.Duration(float64(base) * splayFactor(s, r)), true
}

// GenerateDeferInterval draws uniformly from [0, base*(1+splay)) where
// base is the recheck interval for priority, deliberately not
// starting from base so deferred tasks don't cluster at one offset.
func GenerateDeferInterval(s Settings, priority task.Priority, r Rand) time.Duration {
	c := task.RecheckGenerated
	if priority == task.PriorityManual {
		c = task.RecheckManual
	}
	base := recheckBase(s, c)
	upper := float64(base) * (1.0 + s.RecheckSplay)
	return time.Duration(r.Float64() * upper)
}
