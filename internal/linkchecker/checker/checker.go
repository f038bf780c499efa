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

// Package checker implements the per-task state machine: given one
// CheckTask it runs the IPv4 and IPv6 probes (following redirects,
// applying host policy, respecting global protocol switches), derives
// the next-check time, and reports state transitions.
package checker

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"repology-linkchecker/internal/linkchecker/delayer"
	"repology-linkchecker/internal/linkchecker/hosts"
	"repology-linkchecker/internal/linkchecker/httpclient"
	"repology-linkchecker/internal/linkchecker/resolver"
	"repology-linkchecker/internal/linkchecker/status"
	"repology-linkchecker/internal/linkchecker/task"
)

// MaxRedirects bounds a single check's redirect chain.
const MaxRedirects = 10

// StateChangeKind identifies which of the three state-transition
// events, if any, a completed check produced.
type StateChangeKind int

const (
	NoStateChange StateChangeKind = iota
	StateLinkRecovery
	StateLinkBreakage
	StateNewBrokenLink
)

func (k StateChangeKind) String() string {
	switch k {
	case StateLinkRecovery:
		return "Link recovery"
	case StateLinkBreakage:
		return "Link breakage"
	case StateNewBrokenLink:
		return "New broken link"
	default:
		return "none"
	}
}

// EventSink is the trait-like sink the checker reports observations
// against; metrics/logging are external collaborators, not core
// dependencies, so the checker only ever talks to this interface.
type EventSink interface {
	RecordRequest(method, aggregationKey string, monitor bool)
	RecordCheckDuration(d time.Duration)
	RecordOverdueAge(d time.Duration)
	RecordCheckPeriod(d time.Duration)
	RecordStatus(protocol string, success *bool, s status.LinkStatus, priority task.Priority)
	RecordStateChange(kind StateChangeKind)
	RecordRecoveryDuration(d time.Duration)
	RecordHostProblem(method string, code int)
}

// NopSink discards every observation; useful as a default when a
// caller doesn't care about metrics.
type NopSink struct{}

func (NopSink) RecordRequest(string, string, bool)                  {}
func (NopSink) RecordCheckDuration(time.Duration)                   {}
func (NopSink) RecordOverdueAge(time.Duration)                      {}
func (NopSink) RecordCheckPeriod(time.Duration)                     {}
func (NopSink) RecordStatus(string, *bool, status.LinkStatus, task.Priority) {}
func (NopSink) RecordStateChange(StateChangeKind)                   {}
func (NopSink) RecordRecoveryDuration(time.Duration)                {}
func (NopSink) RecordHostProblem(string, int)                       {}

// GlobalConfig carries the process-wide switches the checker needs;
// it is passed in fully resolved, never parsed by the checker itself.
type GlobalConfig struct {
	DisableIPv4        bool
	DisableIPv6        bool
	SatisfyWithIPv6    bool
	FastFailureRecheck bool
}

// Checker owns one pair of resolver caches and borrows Hosts, Delayer,
// and an HTTP Client. A single Checker is shared by every bucket worker,
// so Check runs concurrently; its own fields are not written after New,
// and the Resolver and Delayer guard their state with their own mutexes.
type Checker struct {
	hosts    *hosts.Hosts
	delayer  *delayer.Delayer
	client   httpclient.Client
	resolver *resolver.Resolver
	rand     hosts.Rand
	cfg      GlobalConfig
	sink     EventSink
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Checker. sink and logger may be nil, in which case a
// NopSink and slog.Default() are used.
func New(h *hosts.Hosts, d *delayer.Delayer, client httpclient.Client, res *resolver.Resolver, cfg GlobalConfig, rand hosts.Rand, sink EventSink, logger *slog.Logger) *Checker {
	if rand == nil {
		rand = hosts.DefaultRand
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		hosts:    h,
		delayer:  d,
		client:   client,
		resolver: res,
		rand:     rand,
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

func caseForPriority(p task.Priority) task.RecheckCase {
	if p == task.PriorityManual {
		return task.RecheckManual
	}
	return task.RecheckGenerated
}

func trivialPair(s status.LinkStatus, cfg GlobalConfig) (status.WithRedirect, status.WithRedirect) {
	ipv4, ipv6 := s, s
	if cfg.DisableIPv4 {
		ipv4 = status.ProtocolDisabled
	}
	if cfg.DisableIPv6 {
		ipv6 = status.ProtocolDisabled
	}
	return status.WithRedirect{Status: ipv4}, status.WithRedirect{Status: ipv6}
}

// Check runs one task to completion and returns its result. It never
// returns an error: every failure mode is represented as a LinkStatus.
func (c *Checker) Check(ctx context.Context, t task.CheckTask) task.CheckResult {
	start := c.now()
	checkID := uuid.NewString()

	u, parseErr := url.Parse(t.URL)
	recheckCase := caseForPriority(t.Priority)

	var ipv4, ipv6 status.WithRedirect
	var settings hosts.Settings
	trivial := false

	if parseErr != nil || u.Host == "" {
		settings = c.hosts.GetSettings("")
		ipv4, ipv6 = trivialPair(status.InvalidUrl, c.cfg)
		trivial = true
	} else {
		settings = c.hosts.GetSettings(u.Hostname())
		switch {
		case u.Scheme != "http" && u.Scheme != "https":
			ipv4, ipv6 = trivialPair(status.UnsupportedScheme, c.cfg)
			trivial = true
		case settings.Blacklist:
			ipv4, ipv6 = trivialPair(status.Blacklisted, c.cfg)
			trivial = true
		case settings.Hijacked:
			ipv4, ipv6 = trivialPair(status.Hijacked, c.cfg)
			trivial = true
		case settings.Skip:
			ipv4, ipv6 = trivialPair(status.Skipped, c.cfg)
			trivial = true
		case t.Priority == task.PriorityGenerated && int(t.ID%100) >= int(settings.GeneratedSamplingPercentage):
			ipv4, ipv6 = trivialPair(status.OutOfSample, c.cfg)
			recheckCase = task.RecheckUnsampled
			trivial = true
		}

		if !trivial {
			if c.cfg.DisableIPv6 {
				ipv6 = status.WithRedirect{Status: status.ProtocolDisabled}
			} else if settings.DisableIPv6 {
				ipv6 = status.WithRedirect{Status: status.ProtocolDisabledForHost}
			} else {
				ipv6 = c.handleOneCheck(ctx, u, resolver.IPv6)
			}

			switch {
			case c.cfg.SatisfyWithIPv6 && ipv6.Status == status.Http(200):
				ipv4 = status.WithRedirect{Status: status.SatisfiedWithIpv6Success}
			case c.cfg.DisableIPv4:
				ipv4 = status.WithRedirect{Status: status.ProtocolDisabled}
			default:
				ipv4 = c.handleOneCheck(ctx, u, resolver.IPv4)
			}
		}
	}

	checkedAt := c.now()
	duration := checkedAt.Sub(start)

	combined := status.PickFrom46(ipv4.Status, ipv6.Status)
	failed := combined.IsSuccess() != nil && !*combined.IsSuccess()

	nextCheck := checkedAt.Add(hosts.GenerateRecheckInterval(settings, recheckCase, c.rand))
	if c.cfg.FastFailureRecheck && failed {
		if fast, ok := hosts.GenerateFastFailureRecheckInterval(settings, recheckCase, t.FailureStreak+1, c.rand); ok {
			if candidate := checkedAt.Add(fast); candidate.Before(nextCheck) {
				nextCheck = candidate
			}
		}
	}

	c.emitStateChange(checkID, t, ipv4.Status, ipv6.Status, checkedAt, duration)

	c.sink.RecordCheckDuration(duration)
	c.sink.RecordOverdueAge(start.Sub(t.Deadline))
	c.sink.RecordCheckPeriod(nextCheck.Sub(checkedAt))
	c.sink.RecordStatus("ipv4", ipv4.Status.IsSuccess(), ipv4.Status, t.Priority)
	c.sink.RecordStatus("ipv6", ipv6.Status.IsSuccess(), ipv6.Status, t.Priority)

	return task.CheckResult{
		TaskID:    t.ID,
		CheckedAt: checkedAt,
		NextCheck: nextCheck,
		IPv4:      ipv4,
		IPv6:      ipv6,
	}
}

func (c *Checker) emitStateChange(checkID string, t task.CheckTask, ipv4, ipv6 status.LinkStatus, checkedAt time.Time, duration time.Duration) {
	oldCombined := status.PickFrom46(t.PrevIPv4, t.PrevIPv6)
	newCombined := status.PickFrom46(ipv4, ipv6)
	oldSuccess := oldCombined.IsSuccess()
	newSuccess := newCombined.IsSuccess()

	kind := NoStateChange
	switch {
	case oldSuccess != nil && *oldSuccess && newSuccess != nil && !*newSuccess:
		kind = StateLinkBreakage
	case oldSuccess == nil && newSuccess != nil && !*newSuccess:
		kind = StateNewBrokenLink
	case oldSuccess != nil && !*oldSuccess && newSuccess != nil && *newSuccess:
		kind = StateLinkRecovery
	}

	if kind == NoStateChange {
		return
	}

	c.sink.RecordStateChange(kind)

	attrs := []any{
		slog.String("check_id", checkID),
		slog.String("url", t.URL),
		slog.String("old", oldCombined.String()),
		slog.String("new", newCombined.String()),
		slog.Duration("check_duration", duration),
	}
	if kind == StateLinkRecovery && t.LastSuccess != nil {
		recoveryDuration := checkedAt.Sub(*t.LastSuccess)
		c.sink.RecordRecoveryDuration(recoveryDuration)
		attrs = append(attrs, slog.Duration("recovery_duration", recoveryDuration))
	}
	if kind == StateLinkBreakage || kind == StateNewBrokenLink {
		attrs = append(attrs, slog.Int("failure_streak", t.FailureStreak+1))
	}

	c.logger.Warn(kind.String(), attrs...)
}

func (c *Checker) logHostProblem(method string, code int) {
	c.sink.RecordHostProblem(method, code)
	c.logger.Warn("host problem", slog.String("method", method), slog.Int("code", code))
}
