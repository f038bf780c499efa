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

// Package mainloop implements the top-level polling loop: ask the
// feeder for a batch of due tasks, hand each to the queuer, repeat
// until shutdown (or, with OnceOnly, after a single pass). Grounded on
// the teacher's jobs.Worker.Run poll-acquire-process loop.
package mainloop

import (
	"context"
	"log/slog"
	"time"

	"repology-linkchecker/internal/linkchecker/feeder"
	"repology-linkchecker/internal/linkchecker/task"
)

// Queuer is the subset of queuer.Queuer the main loop depends on.
type Queuer interface {
	TryPut(ctx context.Context, t task.CheckTask) bool
	NumQueued() int
	NumBuckets() int
}

// Config controls batching and retry pacing; it is passed in fully
// resolved (see config.Config), never parsed here.
type Config struct {
	BatchSize           int
	BatchPeriod         time.Duration
	DatabaseRetryPeriod time.Duration
	OnceOnly            bool
}

// Gauges is an optional callback invoked once per batch with the
// queuer's current depth, used to feed the metrics package without
// mainloop depending on it directly.
type Gauges func(numQueued, numBuckets int)

// Loop drives the feed-then-enqueue cycle until ctx is cancelled, or
// once if cfg.OnceOnly is set.
type Loop struct {
	feeder feeder.Feeder
	queuer Queuer
	cfg    Config
	logger *slog.Logger
	gauges Gauges
	now    func() time.Time
}

// New builds a Loop. logger and gauges may be nil.
func New(f feeder.Feeder, q Queuer, cfg Config, logger *slog.Logger, gauges Gauges) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if gauges == nil {
		gauges = func(int, int) {}
	}
	return &Loop{feeder: f, queuer: q, cfg: cfg, logger: logger, gauges: gauges, now: time.Now}
}

// Run executes the loop. It returns nil when ctx is cancelled or, for
// OnceOnly, after its single pass completes.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("starting main loop", slog.Int("batch_size", l.cfg.BatchSize), slog.Duration("batch_period", l.cfg.BatchPeriod), slog.Bool("once_only", l.cfg.OnceOnly))
	defer l.logger.Info("main loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		tasks, err := l.feeder.Next(ctx, l.cfg.BatchSize)
		if err != nil {
			l.logger.Warn("feeder batch failed, retrying", slog.Any("error", err), slog.Duration("retry_period", l.cfg.DatabaseRetryPeriod))
			if !sleepOrDone(ctx, l.cfg.DatabaseRetryPeriod) {
				return nil
			}
			continue
		}

		for _, t := range tasks {
			l.queuer.TryPut(ctx, t)
		}
		l.gauges(l.queuer.NumQueued(), l.queuer.NumBuckets())

		if l.cfg.OnceOnly {
			return nil
		}

		if len(tasks) == 0 {
			if !sleepOrDone(ctx, l.cfg.BatchPeriod) {
				return nil
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
