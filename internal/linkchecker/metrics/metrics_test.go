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

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"repology-linkchecker/internal/linkchecker/checker"
	"repology-linkchecker/internal/linkchecker/status"
	"repology-linkchecker/internal/linkchecker/task"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}

func TestSinkImplementsEventSink(t *testing.T) {
	var _ checker.EventSink = Sink{}
}

func TestRecordRequestIncrementsCounters(t *testing.T) {
	Reset()
	s := Sink{}
	s.RecordRequest("HEAD", "example.com", false)
	s.RecordRequest("HEAD", "example.com", true)

	body := scrape(t)
	if !strings.Contains(body, "repology_linkchecker_requests_total") {
		t.Error("missing requests_total series")
	}
	if !strings.Contains(body, "repology_linkchecker_monitored_requests_total") {
		t.Error("missing monitored_requests_total series")
	}
}

func TestRecordStatusLabelsOutcome(t *testing.T) {
	Reset()
	s := Sink{}
	success := true
	s.RecordStatus("ipv4", &success, status.Http(200), task.PriorityGenerated)
	s.RecordStatus("ipv6", nil, status.NotYetProcessed, task.PriorityManual)

	body := scrape(t)
	if !strings.Contains(body, `outcome="success"`) {
		t.Error("missing success outcome label")
	}
	if !strings.Contains(body, `outcome="not_checked"`) {
		t.Error("missing not_checked outcome label")
	}
}

func TestRecordStateChangeAndRecovery(t *testing.T) {
	Reset()
	s := Sink{}
	s.RecordStateChange(checker.StateLinkRecovery)
	s.RecordRecoveryDuration(90 * time.Minute)

	body := scrape(t)
	if !strings.Contains(body, `kind="Link recovery"`) {
		t.Error("missing Link recovery state-change label")
	}
	if !strings.Contains(body, "repology_linkchecker_recovery_duration_seconds") {
		t.Error("missing recovery_duration_seconds series")
	}
}

func TestSetQueueDepth(t *testing.T) {
	Reset()
	SetQueueDepth(42, 7)

	body := scrape(t)
	if !strings.Contains(body, "repology_linkchecker_queued_urls 42") {
		t.Errorf("queued_urls gauge not set to 42:\n%s", body)
	}
	if !strings.Contains(body, "repology_linkchecker_active_buckets 7") {
		t.Errorf("active_buckets gauge not set to 7:\n%s", body)
	}
}

func TestHostProblemUnknownCode(t *testing.T) {
	Reset()
	s := Sink{}
	s.RecordHostProblem("HEAD", 0)

	body := scrape(t)
	if !strings.Contains(body, `code="unknown"`) {
		t.Error("missing unknown code label for a non-HTTP host problem")
	}
}
