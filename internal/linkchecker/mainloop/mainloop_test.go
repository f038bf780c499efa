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

package mainloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"repology-linkchecker/internal/linkchecker/task"
)

type fakeFeeder struct {
	mu      sync.Mutex
	batches [][]task.CheckTask
	calls   int
	err     error
}

func (f *fakeFeeder) Next(ctx context.Context, batchSize int) ([]task.CheckTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls-1 < len(f.batches) {
		return f.batches[f.calls-1], nil
	}
	return nil, nil
}

func (f *fakeFeeder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeQueuer struct {
	mu  sync.Mutex
	put []task.CheckTask
}

func (q *fakeQueuer) TryPut(ctx context.Context, t task.CheckTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.put = append(q.put, t)
	return true
}

func (q *fakeQueuer) NumQueued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.put)
}

func (q *fakeQueuer) NumBuckets() int { return 0 }

func TestRunOnceOnlyExitsAfterOnePass(t *testing.T) {
	f := &fakeFeeder{batches: [][]task.CheckTask{{{ID: 1}, {ID: 2}}}}
	q := &fakeQueuer{}
	var gaugeCalls int
	l := New(f, q, Config{BatchSize: 10, OnceOnly: true}, nil, func(numQueued, numBuckets int) { gaugeCalls++ })

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.callCount() != 1 {
		t.Errorf("feeder called %d times, want 1", f.callCount())
	}
	if q.NumQueued() != 2 {
		t.Errorf("queued %d tasks, want 2", q.NumQueued())
	}
	if gaugeCalls != 1 {
		t.Errorf("gauge callback called %d times, want 1", gaugeCalls)
	}
}

func TestRunLoopsUntilCancelled(t *testing.T) {
	f := &fakeFeeder{}
	q := &fakeQueuer{}
	l := New(f, q, Config{BatchSize: 10, BatchPeriod: 10 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.callCount() < 2 {
		t.Errorf("feeder called %d times, want at least 2 over 60ms with 10ms batch period", f.callCount())
	}
}

func TestRunRetriesOnFeederError(t *testing.T) {
	f := &fakeFeeder{err: errors.New("db unavailable")}
	q := &fakeQueuer{}
	l := New(f, q, Config{BatchSize: 10, DatabaseRetryPeriod: 5 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.callCount() < 2 {
		t.Errorf("feeder retried %d times, want at least 2", f.callCount())
	}
}

func TestRunOnceOnlyWithFeederErrorStillReturns(t *testing.T) {
	f := &fakeFeeder{err: errors.New("db down")}
	q := &fakeQueuer{}
	l := New(f, q, Config{BatchSize: 10, OnceOnly: true, DatabaseRetryPeriod: time.Hour}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// OnceOnly never reaches the success path while the feeder keeps
	// erroring, so Run should return once ctx is cancelled mid-retry
	// rather than hang on the hour-long retry period.
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
