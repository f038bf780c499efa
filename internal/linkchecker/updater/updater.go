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

// Package updater defines the contract the queuer pushes finished
// checks through: an Updater records CheckResults and can push a
// task's next-check time forward without recording a status (used by
// the queuer's deferral path).
package updater

import (
	"context"
	"time"

	"repology-linkchecker/internal/linkchecker/task"
)

// Updater is consumed, never implemented, by the core packages.
// Push and DeferBy are both idempotent with respect to task id: a
// retried call after a transient failure must not double-apply.
type Updater interface {
	// Push records result. It is cooperative and may block. No component
	// bounds the number of concurrent Push calls: Config.MaxParallelUpdates
	// is resolved by the config package but not read anywhere else.
	Push(ctx context.Context, result task.CheckResult) error

	// DeferBy advances task id's next-check time by d without
	// recording any status, used when a task is dropped from a full
	// bucket rather than checked.
	DeferBy(ctx context.Context, id int64, d time.Duration) error
}
