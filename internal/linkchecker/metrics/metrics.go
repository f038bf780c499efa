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

// Package metrics exposes the checker's Prometheus surface, wired the
// same way the teacher's provisioner metrics package is: package-level
// collectors behind a mutex, Reset() for test isolation, Handler() for
// the scrape endpoint, and a set of exported observation functions so
// business logic never touches prometheus types directly.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"repology-linkchecker/internal/linkchecker/checker"
	"repology-linkchecker/internal/linkchecker/status"
	"repology-linkchecker/internal/linkchecker/task"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	requestsTotal          *prometheus.CounterVec
	monitoredRequestsTotal *prometheus.CounterVec
	statusTotal            *prometheus.CounterVec
	stateChangesTotal      *prometheus.CounterVec
	hostProblemsTotal      *prometheus.CounterVec
	checkDuration          *prometheus.HistogramVec
	overdueAge             prometheus.Histogram
	checkPeriod            prometheus.Histogram
	recoveryDuration       prometheus.Histogram
	queuedURLs             prometheus.Gauge
	activeBuckets          prometheus.Gauge
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors; used by tests to
// avoid cross-test collisions on the default registry.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing the registry in Prometheus
// text format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetQueueDepth publishes the queuer's current global queue depth and
// bucket count; the main loop calls this once per feeder batch.
func SetQueueDepth(numQueued, numBuckets int) {
	mu.RLock()
	defer mu.RUnlock()
	queuedURLs.Set(float64(numQueued))
	activeBuckets.Set(float64(numBuckets))
}

// Sink implements checker.EventSink against the package-level
// collectors. It carries no state of its own, so the zero value is
// ready to use and may be shared across every Checker.
type Sink struct{}

var _ checker.EventSink = Sink{}

func (Sink) RecordRequest(method, aggregationKey string, monitor bool) {
	mu.RLock()
	defer mu.RUnlock()
	requestsTotal.WithLabelValues(method).Inc()
	if monitor {
		monitoredRequestsTotal.WithLabelValues(method, sanitizeLabel(aggregationKey)).Inc()
	}
}

func (Sink) RecordCheckDuration(d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	checkDuration.WithLabelValues("total").Observe(seconds(d))
}

func (Sink) RecordOverdueAge(d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	overdueAge.Observe(seconds(d))
}

func (Sink) RecordCheckPeriod(d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	checkPeriod.Observe(seconds(d))
}

func (Sink) RecordStatus(protocol string, success *bool, s status.LinkStatus, priority task.Priority) {
	outcome := "not_checked"
	if success != nil {
		if *success {
			outcome = "success"
		} else {
			outcome = "failure"
		}
	}
	mu.RLock()
	defer mu.RUnlock()
	statusTotal.WithLabelValues(protocol, s.String(), outcome, priority.String()).Inc()
}

func (Sink) RecordStateChange(kind checker.StateChangeKind) {
	mu.RLock()
	defer mu.RUnlock()
	stateChangesTotal.WithLabelValues(kind.String()).Inc()
}

func (Sink) RecordRecoveryDuration(d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	recoveryDuration.Observe(seconds(d))
}

func (Sink) RecordHostProblem(method string, code int) {
	mu.RLock()
	defer mu.RUnlock()
	hostProblemsTotal.WithLabelValues(method, httpCodeLabel(code)).Inc()
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repology_linkchecker",
		Name:      "requests_total",
		Help:      "Total HTTP probe requests issued, by method.",
	}, []string{"method"})

	monitoredReqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repology_linkchecker",
		Name:      "monitored_requests_total",
		Help:      "Total HTTP probe requests issued against hosts with monitor=true, by method and aggregation key.",
	}, []string{"method", "aggregation_key"})

	statuses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repology_linkchecker",
		Name:      "status_total",
		Help:      "Total checks completed, by protocol, resulting status, outcome, and task priority.",
	}, []string{"protocol", "status", "outcome", "priority"})

	stateChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repology_linkchecker",
		Name:      "state_changes_total",
		Help:      "Total link state transitions observed, by kind.",
	}, []string{"kind"})

	hostProblems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repology_linkchecker",
		Name:      "host_problems_total",
		Help:      "Total diagnosed host anomalies (HEAD-405, any-429), by method and code.",
	}, []string{"method", "code"})

	checkDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "repology_linkchecker",
		Name:      "check_duration_seconds",
		Help:      "Wall-clock duration of one task's full check (both IP families).",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"phase"})

	overdue := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "repology_linkchecker",
		Name:      "overdue_age_seconds",
		Help:      "How far past its deadline a task was when its check actually started.",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400, 86400},
	})

	period := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "repology_linkchecker",
		Name:      "check_period_seconds",
		Help:      "Computed next-check interval for a completed task.",
		Buckets:   []float64{3600, 86400, 7 * 86400, 14 * 86400, 30 * 86400},
	})

	recovery := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "repology_linkchecker",
		Name:      "recovery_duration_seconds",
		Help:      "Time elapsed between a link's last success and its recovery.",
		Buckets:   []float64{60, 300, 3600, 86400, 7 * 86400, 30 * 86400},
	})

	queued := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "repology_linkchecker",
		Name:      "queued_urls",
		Help:      "Current number of tasks queued across all buckets.",
	})

	buckets := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "repology_linkchecker",
		Name:      "active_buckets",
		Help:      "Current number of live aggregation-key buckets.",
	})

	registry.MustRegister(reqTotal, monitoredReqTotal, statuses, stateChanges, hostProblems, checkDur, overdue, period, recovery, queued, buckets)

	reg = registry
	requestsTotal = reqTotal
	monitoredRequestsTotal = monitoredReqTotal
	statusTotal = statuses
	stateChangesTotal = stateChanges
	hostProblemsTotal = hostProblems
	checkDuration = checkDur
	overdueAge = overdue
	checkPeriod = period
	recoveryDuration = recovery
	queuedURLs = queued
	activeBuckets = buckets
}

func seconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}

func httpCodeLabel(code int) string {
	if code <= 0 {
		return "unknown"
	}
	return strconv.Itoa(code)
}

func sanitizeLabel(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}
