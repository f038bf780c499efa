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

// Package resolver provides the per-IP-version DNS cache the checker
// uses to turn a hostname into the single pre-resolved address the
// HTTP engine connects to. Non-global addresses are rejected here so
// the HTTP engine never has to special-case them.
package resolver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"repology-linkchecker/internal/linkchecker/classify"
	"repology-linkchecker/internal/linkchecker/status"
)

// IPVersion selects which address family a lookup should return.
type IPVersion int

const (
	IPv4 IPVersion = 4
	IPv6 IPVersion = 6
)

// DefaultCacheSize bounds each per-version cache so a checker that
// resolves an unbounded stream of distinct hosts over its lifetime has
// a bounded memory footprint.
const DefaultCacheSize = 65536

// DefaultTTL is how long a cached resolution (success or failure)
// remains valid before the next lookup re-queries DNS.
const DefaultTTL = 5 * time.Minute

// Lookup performs the actual DNS query; swappable in tests so
// resolution can be made deterministic without touching a real
// resolver.
type Lookup func(ctx context.Context, hostname string) ([]net.IP, error)

type cacheEntry struct {
	addr      net.IP
	failure   status.LinkStatus
	ok        bool
	expiresAt time.Time
}

// Resolver owns one independent cache per IP version, matching the
// source's "two independent caches per IpVersion" design; a checker
// owns a Resolver exclusively and never shares it with another
// checker.
type Resolver struct {
	lookup Lookup
	ttl    time.Duration

	mu   sync.Mutex
	v4   *lru.Cache[string, cacheEntry]
	v6   *lru.Cache[string, cacheEntry]
}

// New builds a Resolver backed by bounded LRU caches of size
// capacity, using net.DefaultResolver for actual lookups.
func New(capacity int, ttl time.Duration) (*Resolver, error) {
	return NewWithLookup(capacity, ttl, defaultLookup)
}

// NewWithLookup is New with an injectable Lookup, used by tests.
func NewWithLookup(capacity int, ttl time.Duration, lookup Lookup) (*Resolver, error) {
	v4, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("resolver: building ipv4 cache: %w", err)
	}
	v6, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("resolver: building ipv6 cache: %w", err)
	}
	return &Resolver{lookup: lookup, ttl: ttl, v4: v4, v6: v6}, nil
}

func defaultLookup(ctx context.Context, hostname string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", hostname)
}

func (r *Resolver) cacheFor(version IPVersion) *lru.Cache[string, cacheEntry] {
	if version == IPv6 {
		return r.v6
	}
	return r.v4
}

// Resolve returns the first global-scope address of the requested
// family for hostname, or (false, failure) describing why none could
// be used. A successful result is cached; so is a failure, so a host
// that is persistently broken doesn't get re-queried on every check.
func (r *Resolver) Resolve(ctx context.Context, hostname string, version IPVersion) (net.IP, bool, status.LinkStatus) {
	cache := r.cacheFor(version)

	r.mu.Lock()
	if entry, ok := cache.Get(hostname); ok && time.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.addr, entry.ok, entry.failure
	}
	r.mu.Unlock()

	addr, ok, failure := r.resolveUncached(ctx, hostname, version)

	r.mu.Lock()
	cache.Add(hostname, cacheEntry{addr: addr, ok: ok, failure: failure, expiresAt: time.Now().Add(r.ttl)})
	r.mu.Unlock()

	return addr, ok, failure
}

func (r *Resolver) resolveUncached(ctx context.Context, hostname string, version IPVersion) (net.IP, bool, status.LinkStatus) {
	ips, err := r.lookup(ctx, hostname)
	if err != nil {
		return nil, false, classify.ClassifyLogging(classify.FillFromError(err), nil)
	}

	var sawFamily bool
	for _, ip := range ips {
		if !sameFamily(ip, version) {
			continue
		}
		sawFamily = true
		if isGlobal(ip) {
			return ip, true, status.NotYetProcessed
		}
	}

	if sawFamily {
		return nil, false, status.NonGlobalIpAddress
	}
	return nil, false, status.DnsNoAddressRecord
}

func sameFamily(ip net.IP, version IPVersion) bool {
	if v4 := ip.To4(); v4 != nil {
		return version == IPv4
	}
	return version == IPv6
}

func isGlobal(ip net.IP) bool {
	return ip.IsGlobalUnicast() &&
		!ip.IsPrivate() &&
		!ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast()
}
