package plan

// Priority classifies how a story's exhausted retries are handled: critical
// stories roll the workspace back and halt the project, standard stories are
// skipped.
const (
	PriorityCritical = "critical"
	PriorityStandard = "standard"
)

// Plan is an ordered sequence of stages. Stages are processed strictly in
// order; stories have no stable id and are identified by position within
// their stage.
type Plan struct {
	Stages []Stage `json:"stages"`
}

// Stage is a named grouping of stories with a mission statement. It is
// completed exactly when every contained story has terminated.
type Stage struct {
	Name        string  `json:"name"`
	Mission     string  `json:"mission"`
	IsCompleted bool    `json:"isCompleted"`
	Stories     []Story `json:"stories"`
}

// Story is an atomic unit of work. Passes and IsSkipped are mutually
// exclusive terminal flags; once set they are never cleared except by
// explicit plan replacement.
type Story struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Passes      bool   `json:"passes"`
	IsSkipped   bool   `json:"isSkipped,omitempty"`
	SkipReason  string `json:"skipReason,omitempty"`
	IsSubtasked bool   `json:"isSubtasked,omitempty"`
}

// Terminated reports whether the story has reached a terminal flag.
func (s *Story) Terminated() bool {
	return s.Passes || s.IsSkipped
}

// Empty reports whether the plan contains no stages.
func (p *Plan) Empty() bool {
	return len(p.Stages) == 0
}
