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

// Package feeder defines the contract the main loop polls for due
// work: batches of CheckTask ordered by deadline ascending.
package feeder

import (
	"context"

	"repology-linkchecker/internal/linkchecker/task"
)

// Feeder is consumed, never implemented, by the core packages.
// Next yields up to batchSize tasks, earliest deadline first; an
// empty result is not an error, it means nothing is due yet.
type Feeder interface {
	Next(ctx context.Context, batchSize int) ([]task.CheckTask, error)
}
