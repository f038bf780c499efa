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

// Package task defines the work and result types that flow through the
// checker pipeline: a Feeder produces CheckTask values, a Checker turns
// each into a CheckResult, and an Updater consumes the result.
package task

import (
	"time"

	"repology-linkchecker/internal/linkchecker/status"
)

// Priority controls sampling and recheck-interval selection.
type Priority int

const (
	PriorityManual Priority = iota
	PriorityGenerated
)

func (p Priority) String() string {
	if p == PriorityManual {
		return "manual"
	}
	return "generated"
}

// RecheckCase selects which HostSettings recheck base interval applies.
// It usually mirrors Priority but can be downgraded to Unsampled by the
// checker's sampling step.
type RecheckCase int

const (
	RecheckManual RecheckCase = iota
	RecheckGenerated
	RecheckUnsampled
)

// CheckTask is one unit of work: a URL due for a check, plus enough
// history for the checker to drive its recheck/sampling/state-change
// decisions.
type CheckTask struct {
	ID            int64
	URL           string
	Priority      Priority
	LastChecked   *time.Time
	Deadline      time.Time
	PrevIPv4      status.LinkStatus
	PrevIPv6      status.LinkStatus
	LastSuccess   *time.Time
	FailureStreak int
}

// CheckResult is the outcome of running one CheckTask to completion.
type CheckResult struct {
	TaskID    int64
	CheckedAt time.Time
	NextCheck time.Time
	IPv4      status.WithRedirect
	IPv6      status.WithRedirect
}
