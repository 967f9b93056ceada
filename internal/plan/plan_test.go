package plan

import (
	"encoding/json"
	"testing"
)

func twoStagePlan() *Plan {
	return &Plan{Stages: []Stage{
		{
			Name:    "core",
			Mission: "build the core",
			Stories: []Story{
				{Title: "a", Passes: true},
				{Title: "b"},
			},
		},
		{
			Name:    "polish",
			Mission: "polish it",
			Stories: []Story{{Title: "c"}},
		},
	}}
}

func TestActiveStagePicksFirstIncomplete(t *testing.T) {
	p := twoStagePlan()
	st, idx := ActiveStage(p)
	if st == nil || idx != 0 || st.Name != "core" {
		t.Fatalf("ActiveStage = (%v, %d), want core at 0", st, idx)
	}

	// Picker is deterministic: same answer twice without writes.
	st2, idx2 := ActiveStage(p)
	if st2 != st || idx2 != idx {
		t.Error("ActiveStage not deterministic")
	}
}

func TestActiveStageSkipsStageWithAllTerminatedStories(t *testing.T) {
	p := twoStagePlan()
	p.Stages[0].Stories[1].IsSkipped = true
	// Stage 0's flag is stale, but all stories terminated.
	st, idx := ActiveStage(p)
	if st == nil || idx != 1 || st.Name != "polish" {
		t.Fatalf("ActiveStage = (%v, %d), want polish at 1", st, idx)
	}
}

func TestActiveStoryPicksFirstUnterminated(t *testing.T) {
	p := twoStagePlan()
	story, idx := ActiveStory(&p.Stages[0])
	if story == nil || idx != 1 || story.Title != "b" {
		t.Fatalf("ActiveStory = (%v, %d), want b at 1", story, idx)
	}
}

func TestActiveStageNilWhenAllComplete(t *testing.T) {
	p := twoStagePlan()
	p.Stages[0].Stories[1].Passes = true
	p.Stages[1].Stories[0].Passes = true
	if st, idx := ActiveStage(p); st != nil || idx != -1 {
		t.Fatalf("ActiveStage = (%v, %d), want (nil, -1)", st, idx)
	}
}

func TestTerminalFlagsAreExclusive(t *testing.T) {
	skipped := Story{Title: "s", IsSkipped: true}
	if err := MarkStoryPassed(&skipped); err == nil {
		t.Error("MarkStoryPassed allowed overwriting a skip")
	}
	passed := Story{Title: "p", Passes: true}
	if err := MarkStorySkipped(&passed, "why"); err == nil {
		t.Error("MarkStorySkipped allowed overwriting a pass")
	}
}

func TestMarkStageCompleteIfDone(t *testing.T) {
	st := Stage{Stories: []Story{{Passes: true}, {}}}
	if MarkStageCompleteIfDone(&st) {
		t.Error("stage with pending story marked complete")
	}
	st.Stories[1].IsSkipped = true
	if !MarkStageCompleteIfDone(&st) {
		t.Error("stage with all-terminated stories not marked complete")
	}
}

func TestReplaceStoryPreservesOrderAndInherits(t *testing.T) {
	st := Stage{Stories: []Story{
		{Title: "first", Passes: true},
		{Title: "big", Priority: PriorityCritical},
		{Title: "last"},
	}}
	subtasks := []Story{
		{Title: "big-1", Description: "part one"},
		{Title: "big-2", Description: "part two", Priority: PriorityStandard},
	}
	if err := ReplaceStory(&st, 1, subtasks); err != nil {
		t.Fatalf("ReplaceStory: %v", err)
	}

	titles := make([]string, len(st.Stories))
	for i, s := range st.Stories {
		titles[i] = s.Title
	}
	want := []string{"first", "big-1", "big-2", "last"}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("order = %v, want %v", titles, want)
		}
	}
	if st.Stories[1].Priority != PriorityCritical {
		t.Error("subtask without priority did not inherit critical")
	}
	if st.Stories[2].Priority != PriorityStandard {
		t.Error("explicit subtask priority overwritten")
	}
	for _, s := range st.Stories[1:3] {
		if !s.IsSubtasked || s.Passes {
			t.Errorf("subtask %q flags wrong: %+v", s.Title, s)
		}
	}
}

func TestReplaceStoryRejectsBadInput(t *testing.T) {
	st := Stage{Stories: []Story{{Title: "only"}}}
	if err := ReplaceStory(&st, 3, []Story{{Title: "x"}}); err == nil {
		t.Error("out-of-range index accepted")
	}
	if err := ReplaceStory(&st, 0, nil); err == nil {
		t.Error("empty subtask list accepted")
	}
}

func TestValidateCatchesInvariantViolations(t *testing.T) {
	both := &Plan{Stages: []Stage{{Name: "s", Stories: []Story{{Title: "t", Passes: true, IsSkipped: true}}}}}
	if err := Validate(both); err == nil {
		t.Error("both terminal flags accepted")
	}
	stale := &Plan{Stages: []Stage{{Name: "s", IsCompleted: true, Stories: []Story{{Title: "t"}}}}}
	if err := Validate(stale); err == nil {
		t.Error("completed stage with pending story accepted")
	}
	if err := Validate(twoStagePlan()); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}
}

func TestProgress(t *testing.T) {
	p := twoStagePlan()
	done, total := Progress(p)
	if done != 1 || total != 3 {
		t.Errorf("Progress = (%d, %d), want (1, 3)", done, total)
	}
}

func TestLoadFileMissingYieldsEmptyPlan(t *testing.T) {
	root := t.TempDir()
	p, err := LoadFile(root)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !p.Empty() {
		t.Errorf("missing plan file should load as empty, got %+v", p)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	p := twoStagePlan()
	if err := SaveFile(root, p); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	loaded, err := LoadFile(root)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(loaded.Stages) != 2 || loaded.Stages[0].Stories[0].Title != "a" {
		t.Errorf("round trip lost data: %+v", loaded)
	}
}

func TestLegacyFlatPlanLoadsAsEmpty(t *testing.T) {
	// Older documents used {"stories": []} with no stages; the staged
	// model reads that as an empty (immediately complete) plan.
	var p Plan
	if err := json.Unmarshal([]byte(`{"stories":[]}`), &p); err != nil {
		t.Fatalf("unmarshal legacy shape: %v", err)
	}
	if !p.Empty() {
		t.Errorf("legacy flat plan should be empty, got %+v", p)
	}
}
