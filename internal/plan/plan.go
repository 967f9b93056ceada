package plan

import "fmt"

// ActiveStage returns the first non-completed stage and its index, or nil
// and -1 when every stage is completed. A stage whose stories have all
// terminated is treated as completed even if its flag has not been
// persisted yet.
func ActiveStage(p *Plan) (*Stage, int) {
	for i := range p.Stages {
		st := &p.Stages[i]
		if st.IsCompleted {
			continue
		}
		if stageDone(st) {
			continue
		}
		return st, i
	}
	return nil, -1
}

// ActiveStory returns the first story in the stage with neither terminal
// flag set, or nil and -1 when all stories have terminated.
func ActiveStory(st *Stage) (*Story, int) {
	for i := range st.Stories {
		if !st.Stories[i].Terminated() {
			return &st.Stories[i], i
		}
	}
	return nil, -1
}

// MarkStoryPassed sets the passed flag. It refuses to overwrite a skip,
// which would violate terminal-flag exclusivity.
func MarkStoryPassed(s *Story) error {
	if s.IsSkipped {
		return fmt.Errorf("story %q is already skipped", s.Title)
	}
	s.Passes = true
	return nil
}

// MarkStorySkipped sets the skipped flag with a reason.
func MarkStorySkipped(s *Story, reason string) error {
	if s.Passes {
		return fmt.Errorf("story %q already passed", s.Title)
	}
	s.IsSkipped = true
	s.SkipReason = reason
	return nil
}

// MarkStageCompleteIfDone sets the stage's completion flag when every story
// has terminated, and reports whether the stage is now complete.
func MarkStageCompleteIfDone(st *Stage) bool {
	if stageDone(st) {
		st.IsCompleted = true
	}
	return st.IsCompleted
}

// ReplaceStory replaces the story at index idx with the given subtasks,
// preserving the order of the surrounding stories. Subtasks inherit the
// original story's priority when they carry none and are marked as
// subtasked so they are never split again.
func ReplaceStory(st *Stage, idx int, subtasks []Story) error {
	if idx < 0 || idx >= len(st.Stories) {
		return fmt.Errorf("story index %d out of range (stage has %d)", idx, len(st.Stories))
	}
	if len(subtasks) == 0 {
		return fmt.Errorf("cannot replace story with zero subtasks")
	}

	original := st.Stories[idx]
	for i := range subtasks {
		subtasks[i].Passes = false
		subtasks[i].IsSkipped = false
		subtasks[i].SkipReason = ""
		subtasks[i].IsSubtasked = true
		if subtasks[i].Priority == "" {
			subtasks[i].Priority = original.Priority
		}
	}

	replaced := make([]Story, 0, len(st.Stories)+len(subtasks)-1)
	replaced = append(replaced, st.Stories[:idx]...)
	replaced = append(replaced, subtasks...)
	replaced = append(replaced, st.Stories[idx+1:]...)
	st.Stories = replaced
	return nil
}

// Validate checks the plan's structural invariants: a completed stage has no
// unterminated stories, and no story carries both terminal flags.
func Validate(p *Plan) error {
	for i := range p.Stages {
		st := &p.Stages[i]
		for j := range st.Stories {
			s := &st.Stories[j]
			if s.Passes && s.IsSkipped {
				return fmt.Errorf("stage %q story %q has both terminal flags", st.Name, s.Title)
			}
			if st.IsCompleted && !s.Terminated() {
				return fmt.Errorf("stage %q is completed but story %q has not terminated", st.Name, s.Title)
			}
		}
	}
	return nil
}

// Progress returns the counts of terminated and total stories.
func Progress(p *Plan) (done, total int) {
	for i := range p.Stages {
		for j := range p.Stages[i].Stories {
			total++
			if p.Stages[i].Stories[j].Terminated() {
				done++
			}
		}
	}
	return done, total
}

func stageDone(st *Stage) bool {
	for i := range st.Stories {
		if !st.Stories[i].Terminated() {
			return false
		}
	}
	return true
}
