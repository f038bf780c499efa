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

// Package sqlitestore is a concrete Feeder+Updater pair backed by
// SQLite, adapted from the teacher's store package: same pragma DSN,
// same migrate-then-serve shape, same WithTx helper. It tracks one
// link_tasks table of due URLs instead of the teacher's jobs table.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"repology-linkchecker/internal/linkchecker/status"
	"repology-linkchecker/internal/linkchecker/task"
)

const defaultBusyTimeout = 5 * time.Second

// ErrNotFound indicates no rows matched the query.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite database connection and implements both
// feeder.Feeder and updater.Updater against the same link_tasks table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path, applies
// concurrency pragmas, runs migrations, and returns a ready Store. path
// is taken verbatim from the resolved DSN and used as the SQLite file
// name; a URL scheme such as the "postgresql://" of the original CLI
// default is neither stripped nor interpreted, since this reference
// implementation speaks SQLite rather than Postgres (see DESIGN.md).
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := pingContext(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx executes fn inside a transaction, rolling back on error or
// panic and committing otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS link_tasks (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  url            TEXT NOT NULL,
  priority       TEXT NOT NULL CHECK (priority IN ('manual','generated')),
  last_checked   TIMESTAMP NULL,
  deadline       TIMESTAMP NOT NULL,
  prev_ipv4      INTEGER NOT NULL DEFAULT 0,
  prev_ipv6      INTEGER NOT NULL DEFAULT 0,
  last_success   TIMESTAMP NULL,
  failure_streak INTEGER NOT NULL DEFAULT 0,
  next_check     TIMESTAMP NULL,
  ipv4_status    INTEGER NULL,
  ipv6_status    INTEGER NULL,
  ipv4_redirect  TEXT NULL,
  ipv6_redirect  TEXT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_link_tasks_deadline ON link_tasks(deadline);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// Next implements feeder.Feeder: it returns up to batchSize tasks whose
// deadline has passed, ordered soonest-due first. It does not modify
// the rows: a returned task stays due, and later calls return it again,
// until Push or DeferBy moves its deadline.
func (s *Store) Next(ctx context.Context, batchSize int) ([]task.CheckTask, error) {
	const q = `SELECT id, url, priority, last_checked, deadline, prev_ipv4, prev_ipv6, last_success, failure_streak
FROM link_tasks WHERE deadline <= ? ORDER BY deadline ASC LIMIT ?`
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, q, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()

	var out []task.CheckTask
	for rows.Next() {
		var (
			id                        int64
			url, priority             string
			lastChecked, lastSuccess  sql.NullTime
			deadline                  time.Time
			prevIPv4, prevIPv6        int64
			failureStreak             int
		)
		if err := rows.Scan(&id, &url, &priority, &lastChecked, &deadline, &prevIPv4, &prevIPv6, &lastSuccess, &failureStreak); err != nil {
			return nil, fmt.Errorf("scan due task: %w", err)
		}
		ipv4, err := status.FromCode(int16(prevIPv4))
		if err != nil {
			ipv4 = status.UnknownError
		}
		ipv6, err := status.FromCode(int16(prevIPv6))
		if err != nil {
			ipv6 = status.UnknownError
		}
		t := task.CheckTask{
			ID:            id,
			URL:           url,
			Priority:      priorityFromString(priority),
			Deadline:      deadline.UTC(),
			PrevIPv4:      ipv4,
			PrevIPv6:      ipv6,
			FailureStreak: failureStreak,
		}
		if lastChecked.Valid {
			v := lastChecked.Time.UTC()
			t.LastChecked = &v
		}
		if lastSuccess.Valid {
			v := lastSuccess.Time.UTC()
			t.LastSuccess = &v
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due tasks: %w", err)
	}
	return out, nil
}

// Push implements updater.Updater: it records the check outcome and
// reschedules the row's deadline to result.NextCheck. Idempotent per
// task ID: re-pushing the same result for the same ID just overwrites
// identical values.
func (s *Store) Push(ctx context.Context, result task.CheckResult) error {
	const upd = `UPDATE link_tasks SET
  last_checked=?, deadline=?, prev_ipv4=?, prev_ipv6=?, last_success=?, failure_streak=?,
  next_check=?, ipv4_status=?, ipv6_status=?, ipv4_redirect=?, ipv6_redirect=?
WHERE id=?`

	failureStreak := 0
	var lastSuccess any
	if isSuccessful(result) {
		lastSuccess = result.CheckedAt.UTC()
	} else {
		row := s.db.QueryRowContext(ctx, `SELECT failure_streak, last_success, last_checked FROM link_tasks WHERE id=?`, result.TaskID)
		var streak int
		var ls, lc sql.NullTime
		if err := row.Scan(&streak, &ls, &lc); err == nil {
			failureStreak = streak + 1
			if lc.Valid && lc.Time.Equal(result.CheckedAt) {
				// This result is already recorded; keep its streak.
				failureStreak = streak
			}
			if ls.Valid {
				lastSuccess = ls.Time.UTC()
			}
		} else {
			failureStreak = 1
		}
	}

	_, err := s.db.ExecContext(ctx, upd,
		result.CheckedAt.UTC(), result.NextCheck.UTC(),
		result.IPv4.Status.Code(), result.IPv6.Status.Code(),
		lastSuccess, failureStreak,
		result.NextCheck.UTC(), result.IPv4.Status.Code(), result.IPv6.Status.Code(),
		nullIfEmpty(result.IPv4.Redirect), nullIfEmpty(result.IPv6.Redirect),
		result.TaskID)
	if err != nil {
		return fmt.Errorf("push check result: %w", err)
	}
	return nil
}

// DeferBy implements updater.Updater: it pushes a task's deadline out
// by d without touching its recorded status history.
func (s *Store) DeferBy(ctx context.Context, id int64, d time.Duration) error {
	const upd = `UPDATE link_tasks SET deadline = ? WHERE id = ?`
	deadline := time.Now().UTC().Add(d)
	res, err := s.db.ExecContext(ctx, upd, deadline, id)
	if err != nil {
		return fmt.Errorf("defer task %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTask adds a new URL to be tracked, due immediately. Used by
// operator tooling and tests, not by the checker pipeline itself.
func (s *Store) InsertTask(ctx context.Context, url string, priority task.Priority) (int64, error) {
	const ins = `INSERT INTO link_tasks (url, priority, deadline) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, ins, url, priority.String(), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return res.LastInsertId()
}

func isSuccessful(result task.CheckResult) bool {
	if v := result.IPv4.Status.IsSuccess(); v != nil && *v {
		return true
	}
	if v := result.IPv6.Status.IsSuccess(); v != nil && *v {
		return true
	}
	return false
}

func priorityFromString(s string) task.Priority {
	if s == "manual" {
		return task.PriorityManual
	}
	return task.PriorityGenerated
}

func pingContext(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
