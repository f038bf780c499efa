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

package hosts

import (
	"testing"
	"time"

	"repology-linkchecker/internal/linkchecker/task"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func defaultSettings() Settings {
	return Settings{
		Delay:            5 * time.Second,
		Timeout:          15 * time.Second,
		RecheckManual:    30 * 24 * time.Hour,
		RecheckGenerated: 10 * 24 * time.Hour,
		RecheckUnsampled: 60 * 24 * time.Hour,
		RecheckSplay:     0.2,
	}
}

func TestGetSettingsSuffixWalk(t *testing.T) {
	aggregate := true
	h, err := Build(defaultSettings(), map[string]Patch{
		"github.io": {Aggregate: &aggregate},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := h.GetSettings("foo.bar.github.io")
	if !got.Aggregate {
		t.Errorf("expected suffix match to inherit Aggregate=true")
	}

	def := h.GetSettings("example.com")
	if def.Aggregate {
		t.Errorf("expected unmatched hostname to get the default settings")
	}
}

func TestIsAliasReplacesNotMerges(t *testing.T) {
	delay := 9.0
	isTarget := "github.com"
	h, err := Build(defaultSettings(), map[string]Patch{
		"github.com": {Delay: &delay},
		"github.io":  {Is: &isTarget},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := h.GetSettings("github.io")
	want := h.GetSettings("github.com")
	if got != want {
		t.Errorf("github.io settings = %+v, want exactly github.com's = %+v", got, want)
	}
}

func TestPatchCheckRejectsIsWithOtherFields(t *testing.T) {
	target := "example.com"
	delay := 1.0
	p := Patch{Is: &target, Delay: &delay}
	if err := p.Check(); err == nil {
		t.Error("expected error for patch mixing is with other fields")
	}
}

func TestGetAggregationAliasWins(t *testing.T) {
	isTarget := "github.com"
	h, err := Build(defaultSettings(), map[string]Patch{
		"github.io": {Is: &isTarget},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.GetAggregation("foo.github.io"); got != "github.com" {
		t.Errorf("GetAggregation(foo.github.io) = %q, want github.com", got)
	}
}

func TestGetAggregationStripsWWWAndFallsBack(t *testing.T) {
	h, err := Build(defaultSettings(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.GetAggregation("www.example.com"); got != "example.com" {
		t.Errorf("GetAggregation(www.example.com) = %q, want example.com", got)
	}
}

func TestGetAggregationBySuffix(t *testing.T) {
	aggregate := true
	h, err := Build(defaultSettings(), map[string]Patch{
		"github.io": {Aggregate: &aggregate},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.GetAggregation("foo.bar.github.io"); got != "github.io" {
		t.Errorf("GetAggregation(foo.bar.github.io) = %q, want github.io", got)
	}
}

func TestGenerateRecheckIntervalSplay(t *testing.T) {
	s := defaultSettings()
	got := GenerateRecheckInterval(s, task.RecheckManual, fixedRand(0))
	if got != s.RecheckManual {
		t.Errorf("splay=0 should give exactly the base interval, got %v want %v", got, s.RecheckManual)
	}
	got = GenerateRecheckInterval(s, task.RecheckManual, fixedRand(0.5))
	want := time.Duration(float64(s.RecheckManual) * 1.1)
	if got != want {
		t.Errorf("splay=0.5*0.2 got %v want %v", got, want)
	}
}

func TestGenerateFastFailureRecheckInterval(t *testing.T) {
	s := defaultSettings()
	if _, ok := GenerateFastFailureRecheckInterval(s, task.RecheckUnsampled, 1, fixedRand(0)); ok {
		t.Error("Unsampled case should never produce a fast-failure interval")
	}
	d, ok := GenerateFastFailureRecheckInterval(s, task.RecheckManual, 1, fixedRand(0))
	if !ok || d != 1*time.Hour {
		t.Errorf("streak 1 manual = %v, %v, want 1h, true", d, ok)
	}
	if _, ok := GenerateFastFailureRecheckInterval(s, task.RecheckManual, 5, fixedRand(0)); ok {
		t.Error("streak beyond table length should return false")
	}
}

func TestGenerateDeferIntervalBounds(t *testing.T) {
	s := defaultSettings()
	d := GenerateDeferInterval(s, task.PriorityGenerated, fixedRand(0.999999))
	upper := time.Duration(float64(s.RecheckGenerated) * 1.2)
	if d >= upper {
		t.Errorf("defer interval %v should be strictly below upper bound %v", d, upper)
	}
	if d0 := GenerateDeferInterval(s, task.PriorityGenerated, fixedRand(0)); d0 != 0 {
		t.Errorf("defer interval at rand=0 should be 0, got %v", d0)
	}
}
