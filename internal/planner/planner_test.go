package planner_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/p-n-ai/pai-courses/internal/planner"
)

func modules(ids ...string) []planner.ModuleSummary {
	out := make([]planner.ModuleSummary, len(ids))
	for i, id := range ids {
		out[i] = planner.ModuleSummary{ID: id, LessonIDs: []string{id + "-l1", id + "-l2"}}
	}
	return out
}

func TestPlan(t *testing.T) {
	abcd := modules("A", "B", "C", "D")

	tests := []struct {
		name    string
		modules []planner.ModuleSummary
		mode    planner.Mode
		focus   planner.Focus
		want    []string
	}{
		{"learning focus B", abcd, planner.Learning, planner.Focus{ModuleID: "B"}, []string{"A", "B", "C"}},
		{"editing ignores focus", abcd, planner.Editing, planner.Focus{ModuleID: "B"}, []string{"A", "B", "C", "D"}},
		{"preview focus first", abcd, planner.Preview, planner.Focus{ModuleID: "A"}, []string{"A", "B"}},
		{"learning focus last", abcd, planner.Learning, planner.Focus{ModuleID: "D"}, []string{"C", "D"}},
		{"no focus defaults to first", abcd, planner.Learning, planner.Focus{}, []string{"A", "B"}},
		{"focus by lesson", abcd, planner.Learning, planner.Focus{LessonID: "C-l2"}, []string{"B", "C", "D"}},
		{"module focus wins over lesson", abcd, planner.Learning, planner.Focus{ModuleID: "A", LessonID: "D-l1"}, []string{"A", "B"}},
		{"unknown focus defaults to first", abcd, planner.Learning, planner.Focus{ModuleID: "Z", LessonID: "nope"}, []string{"A", "B"}},
		{"single module", modules("A"), planner.Learning, planner.Focus{ModuleID: "A"}, []string{"A"}},
		{"empty", nil, planner.Editing, planner.Focus{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planner.Plan(tt.modules, tt.mode, tt.focus).Sorted()
			if !slices.Equal(got, tt.want) {
				t.Errorf("Plan() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlan_AlwaysIncludesFocusAndNeighbours(t *testing.T) {
	ms := modules("m0", "m1", "m2", "m3", "m4", "m5")
	for i, m := range ms {
		set := planner.Plan(ms, planner.Learning, planner.Focus{ModuleID: m.ID})
		if !set.Has(m.ID) {
			t.Errorf("focus %s missing from plan", m.ID)
		}
		if i > 0 && !set.Has(ms[i-1].ID) {
			t.Errorf("previous of %s missing from plan", m.ID)
		}
		if i < len(ms)-1 && !set.Has(ms[i+1].ID) {
			t.Errorf("next of %s missing from plan", m.ID)
		}
		if len(set) > 3 {
			t.Errorf("plan for %s has %d modules, want at most 3", m.ID, len(set))
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    planner.Mode
		wantErr bool
	}{
		{"", planner.Learning, false},
		{"learning", planner.Learning, false},
		{"Preview", planner.Preview, false},
		{" editing ", planner.Editing, false},
		{"admin", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := planner.ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, planner.ErrUnknownMode) {
				t.Errorf("error = %v, want ErrUnknownMode", err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
