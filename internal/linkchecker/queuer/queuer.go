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

// Package queuer implements per-aggregation-key admission and
// dispatch: tasks are grouped into buckets keyed by aggregation key,
// each bucket runs its own worker goroutine so a slow host can never
// block a fast one, and the three configured limits bound memory
// regardless of feeder rate.
package queuer

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"repology-linkchecker/internal/linkchecker/hosts"
	"repology-linkchecker/internal/linkchecker/task"
	"repology-linkchecker/internal/linkchecker/updater"
)

// OldBucketAgeThreshold is how long a bucket may exist before its
// worker starts logging a warning (at most once per OldBucketLogPeriod).
const OldBucketAgeThreshold = 10 * time.Minute

// OldBucketLogPeriod rate-limits the old-bucket warning once a bucket
// has crossed OldBucketAgeThreshold.
const OldBucketLogPeriod = 5 * time.Minute

// admissionRetryPeriod is how long TryPut waits before re-attempting
// admission when blocked on the global or bucket-count limit.
const admissionRetryPeriod = time.Second

// Checker is the subset of checker.Checker the queuer depends on.
type Checker interface {
	Check(ctx context.Context, t task.CheckTask) task.CheckResult
}

// Limits bounds the queuer's memory footprint independent of feeder
// rate: at most MaxBuckets buckets, each holding at most
// MaxQueuedURLsPerBucket tasks, with MaxQueuedURLs as a global cap
// across every bucket.
type Limits struct {
	MaxQueuedURLs          int
	MaxQueuedURLsPerBucket int
	MaxBuckets             int
}

type bucket struct {
	key         string
	queue       []task.CheckTask
	ids         map[int64]bool
	numDeferred int
	createdAt   time.Time
}

// Queuer owns every bucket and the worker goroutine that drains it.
// Close invalidates every worker's reference to this state so each
// exits cleanly at its next loop iteration, standing in for the
// source's weak-reference lifetime (see DESIGN.md).
type Queuer struct {
	limits  Limits
	checker Checker
	updater updater.Updater
	hosts   *hosts.Hosts
	rand    hosts.Rand
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	buckets   map[string]*bucket
	numQueued int
}

// New builds a Queuer. rand and logger may be nil, in which case
// hosts.DefaultRand and slog.Default() are used.
func New(limits Limits, checker Checker, upd updater.Updater, h *hosts.Hosts, rand hosts.Rand, logger *slog.Logger) *Queuer {
	if rand == nil {
		rand = hosts.DefaultRand
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queuer{
		limits:  limits,
		checker: checker,
		updater: upd,
		hosts:   h,
		rand:    rand,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		buckets: make(map[string]*bucket),
	}
}

// Close stops every bucket worker and waits for them to exit. TryPut
// must not be called concurrently with or after Close.
func (q *Queuer) Close() {
	q.cancel()
	q.wg.Wait()
}

func aggregationKey(rawURL string, h *hosts.Hosts) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return h.GetAggregation(u.Hostname())
}

func hostSettings(rawURL string, h *hosts.Hosts) hosts.Settings {
	u, err := url.Parse(rawURL)
	if err != nil {
		return h.GetSettings("")
	}
	return h.GetSettings(u.Hostname())
}

// sleepRetry waits admissionRetryPeriod, or returns false early if
// either ctx or the queuer itself is done.
func (q *Queuer) sleepRetry(ctx context.Context) bool {
	timer := time.NewTimer(admissionRetryPeriod)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-q.ctx.Done():
		return false
	}
}

// TryPut attempts to admit t. It returns true only when t was
// actually appended to a bucket's queue. A duplicate ID, or a full
// bucket (the task is deferred, or dropped if it is an unchecked manual
// task), returns false at once. When the global queued-URL limit or the
// bucket-count limit is reached, TryPut retries once per second until a
// slot frees, and returns false only if ctx or the queuer is done first.
func (q *Queuer) TryPut(ctx context.Context, t task.CheckTask) bool {
	for {
		q.mu.Lock()

		if q.numQueued >= q.limits.MaxQueuedURLs {
			q.mu.Unlock()
			if !q.sleepRetry(ctx) {
				return false
			}
			continue
		}

		key := aggregationKey(t.URL, q.hosts)

		if b, ok := q.buckets[key]; ok {
			if b.ids[t.ID] {
				q.mu.Unlock()
				return false
			}

			if len(b.queue) >= q.limits.MaxQueuedURLsPerBucket {
				uncheckedManual := t.Priority == task.PriorityManual && t.LastChecked == nil
				q.mu.Unlock()
				if uncheckedManual {
					return false
				}
				q.mu.Lock()
				b.numDeferred++
				q.mu.Unlock()
				interval := hosts.GenerateDeferInterval(hostSettings(t.URL, q.hosts), t.Priority, q.rand)
				_ = q.updater.DeferBy(ctx, t.ID, interval)
				return false
			}

			b.queue = append(b.queue, t)
			b.ids[t.ID] = true
			q.numQueued++
			q.mu.Unlock()
			return true
		}

		if len(q.buckets) >= q.limits.MaxBuckets {
			q.mu.Unlock()
			if !q.sleepRetry(ctx) {
				return false
			}
			continue
		}

		b := &bucket{key: key, ids: make(map[int64]bool), createdAt: time.Now()}
		b.queue = append(b.queue, t)
		b.ids[t.ID] = true
		q.buckets[key] = b
		q.numQueued++

		q.wg.Add(1)
		go q.runBucket(b)

		q.mu.Unlock()
		return true
	}
}

// runBucket drains one bucket's queue FIFO, one task at a time, until
// the queuer is closed or the queue empties out (at which point the
// bucket is removed from the map and the worker exits).
func (q *Queuer) runBucket(b *bucket) {
	defer q.wg.Done()

	workerID := uuid.NewString()
	logger := q.logger.With(slog.String("worker_id", workerID), slog.String("aggregation_key", b.key))
	logger.Debug("bucket worker started")
	defer logger.Debug("bucket worker exiting")

	select {
	case <-time.After(time.Second):
	case <-q.ctx.Done():
		return
	}

	var lastOldLog time.Time
	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		q.mu.Lock()
		if len(b.queue) == 0 {
			delete(q.buckets, b.key)
			q.mu.Unlock()
			return
		}
		t := b.queue[0]
		b.queue = b.queue[1:]
		q.numQueued--
		q.mu.Unlock()

		if age := time.Since(b.createdAt); age > OldBucketAgeThreshold {
			if lastOldLog.IsZero() || time.Since(lastOldLog) >= OldBucketLogPeriod {
				logger.Warn("bucket exceeded age threshold",
					slog.Duration("age", age),
					slog.Int("queued", len(b.queue)))
				lastOldLog = time.Now()
			}
		}

		result := q.checker.Check(context.Background(), t)
		_ = q.updater.Push(context.Background(), result)

		q.mu.Lock()
		delete(b.ids, t.ID)
		q.mu.Unlock()
	}
}

// NumQueued reports the current global queue depth, for metrics/tests.
func (q *Queuer) NumQueued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numQueued
}

// NumBuckets reports the current bucket count, for metrics/tests.
func (q *Queuer) NumBuckets() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buckets)
}
