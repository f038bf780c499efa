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

package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"repology-linkchecker/internal/linkchecker/status"
	"repology-linkchecker/internal/linkchecker/task"
)

func open(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkchecker.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndNext(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, "https://example.org", task.PriorityGenerated)
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	tasks, err := s.Next(ctx, 10)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != id {
		t.Fatalf("Next() = %+v, want one task with ID %d", tasks, id)
	}
	if tasks[0].URL != "https://example.org" {
		t.Errorf("URL = %q", tasks[0].URL)
	}
	if tasks[0].Priority != task.PriorityGenerated {
		t.Errorf("Priority = %v, want generated", tasks[0].Priority)
	}
}

func TestNextRespectsDeadline(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, "https://example.org", task.PriorityManual)
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := s.DeferBy(ctx, id, time.Hour); err != nil {
		t.Fatalf("DeferBy: %v", err)
	}

	tasks, err := s.Next(ctx, 10)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("Next() returned %d tasks, want 0 once deferred an hour out", len(tasks))
	}
}

func TestPushRecordsOutcomeAndReschedules(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, "https://example.org", task.PriorityGenerated)
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	now := time.Now().UTC()
	result := task.CheckResult{
		TaskID:    id,
		CheckedAt: now,
		NextCheck: now.Add(7 * 24 * time.Hour),
		IPv4:      status.WithRedirect{Status: status.Http(200)},
		IPv6:      status.WithRedirect{Status: status.Timeout},
	}
	if err := s.Push(ctx, result); err != nil {
		t.Fatalf("Push: %v", err)
	}

	tasks, err := s.Next(ctx, 10)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("Next() returned %d tasks, want 0 right after a week-out reschedule", len(tasks))
	}

	var prevIPv4, prevIPv6 int
	row := s.db.QueryRowContext(ctx, `SELECT prev_ipv4, prev_ipv6 FROM link_tasks WHERE id=?`, id)
	if err := row.Scan(&prevIPv4, &prevIPv6); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if status.LinkStatus(prevIPv4) != status.Http(200) {
		t.Errorf("prev_ipv4 = %d, want 200", prevIPv4)
	}
	if status.LinkStatus(prevIPv6) != status.Timeout {
		t.Errorf("prev_ipv6 = %d, want %d", prevIPv6, status.Timeout)
	}
}

func TestPushIncrementsFailureStreak(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, "https://example.org", task.PriorityGenerated)
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	failure := task.CheckResult{
		TaskID:    id,
		CheckedAt: time.Now().UTC(),
		NextCheck: time.Now().UTC().Add(time.Hour),
		IPv4:      status.WithRedirect{Status: status.Timeout},
		IPv6:      status.WithRedirect{Status: status.Timeout},
	}
	if err := s.Push(ctx, failure); err != nil {
		t.Fatalf("Push 1: %v", err)
	}
	failure.CheckedAt = failure.CheckedAt.Add(time.Minute)
	if err := s.Push(ctx, failure); err != nil {
		t.Fatalf("Push 2: %v", err)
	}

	var streak int
	row := s.db.QueryRowContext(ctx, `SELECT failure_streak FROM link_tasks WHERE id=?`, id)
	if err := row.Scan(&streak); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if streak != 2 {
		t.Errorf("failure_streak = %d, want 2 after two consecutive failures", streak)
	}
}

func TestDeferByUnknownIDReturnsErrNotFound(t *testing.T) {
	s := open(t)
	if err := s.DeferBy(context.Background(), 999, time.Hour); err != ErrNotFound {
		t.Errorf("DeferBy(unknown) = %v, want ErrNotFound", err)
	}
}
