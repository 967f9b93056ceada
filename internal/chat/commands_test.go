package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/store"
)

type fakeRegistry struct {
	projects []store.Project
	created  []string
}

func (f *fakeRegistry) Projects() []store.Project { return f.projects }

func (f *fakeRegistry) CreateNewProject(ctx context.Context, name, prompt string) (*store.Project, error) {
	f.created = append(f.created, name+":"+prompt)
	return &store.Project{ID: name, Status: store.StatusRunning}, nil
}

type nopResolver struct{ last *bool }

func (r *nopResolver) Resolve(approved bool) { r.last = &approved }

// newTestBridge points the bridge at a stub API server so outbound sends
// never leave the process.
func newTestBridge(t *testing.T, reg *fakeRegistry) (*Bridge, *nopResolver) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	}))
	t.Cleanup(srv.Close)

	resolver := &nopResolver{}
	b := New("token", "42", reg, resolver, nil)
	b.api = srv.URL
	return b, resolver
}

func runningProject(id, stage, story string) store.Project {
	return store.Project{
		ID:     id,
		Status: store.StatusRunning,
		Plan: plan.Plan{Stages: []plan.Stage{{
			Name:    stage,
			Stories: []plan.Story{{Title: story}},
		}}},
	}
}

func TestAuthorisedMatchesConfiguredChat(t *testing.T) {
	b, _ := newTestBridge(t, &fakeRegistry{})
	if !b.authorised(42) {
		t.Error("configured chat rejected")
	}
	if b.authorised(43) {
		t.Error("foreign chat accepted")
	}
}

func TestStatusTextListsProjects(t *testing.T) {
	reg := &fakeRegistry{projects: []store.Project{runningProject("alpha", "s", "t")}}
	b, _ := newTestBridge(t, reg)

	got := b.statusText()
	if !strings.Contains(got, "alpha") || !strings.Contains(got, "running") {
		t.Errorf("status = %q", got)
	}
	if !strings.Contains(got, "0/1 stories") {
		t.Errorf("status missing progress: %q", got)
	}
}

func TestStatusTextEmpty(t *testing.T) {
	b, _ := newTestBridge(t, &fakeRegistry{})
	if got := b.statusText(); !strings.Contains(got, "/new") {
		t.Errorf("empty status should point at /new: %q", got)
	}
}

func TestCurrentTextShowsActiveStory(t *testing.T) {
	reg := &fakeRegistry{projects: []store.Project{
		runningProject("alpha", "core", "wire the API"),
		{ID: "idle", Status: store.StatusPaused},
	}}
	b, _ := newTestBridge(t, reg)

	got := b.currentText()
	if !strings.Contains(got, "[core] wire the API") {
		t.Errorf("current = %q", got)
	}
	if strings.Contains(got, "idle") {
		t.Errorf("paused project listed as active: %q", got)
	}
}

func TestCurrentTextNothingRunning(t *testing.T) {
	b, _ := newTestBridge(t, &fakeRegistry{projects: []store.Project{{ID: "p", Status: store.StatusPaused}}})
	if got := b.currentText(); got != "Nothing is running." {
		t.Errorf("current = %q", got)
	}
}

func TestProjectsTextListsPaths(t *testing.T) {
	reg := &fakeRegistry{projects: []store.Project{{ID: "p", Status: store.StatusCreated, RootPath: "/work/p"}}}
	b, _ := newTestBridge(t, reg)
	got := b.projectsText()
	if !strings.Contains(got, "/work/p") {
		t.Errorf("projects = %q", got)
	}
}

func TestDialogStateMachine(t *testing.T) {
	b, _ := newTestBridge(t, &fakeRegistry{})

	b.startDialog("")
	if b.dialog != dialogAwaitingName {
		t.Fatalf("dialog = %v, want awaiting name", b.dialog)
	}

	b.mu.Lock()
	b.name = "proj"
	b.dialog = dialogAwaitingPrompt
	b.mu.Unlock()
	if b.dialog != dialogAwaitingPrompt {
		t.Fatal("state not advanced")
	}

	b.startDialog("named")
	if b.dialog != dialogAwaitingPrompt || b.name != "named" {
		t.Errorf("dialog with name: state=%v name=%q", b.dialog, b.name)
	}
}

func TestCallbackRoutesToResolver(t *testing.T) {
	b, resolver := newTestBridge(t, &fakeRegistry{})

	b.handleCallback("cb1", "approve")
	if resolver.last == nil || !*resolver.last {
		t.Error("approve not routed")
	}
	b.handleCallback("cb2", "reject")
	if resolver.last == nil || *resolver.last {
		t.Error("reject not routed")
	}
	// Unknown callback data is ignored.
	before := *resolver.last
	b.handleCallback("cb3", "something-else")
	if *resolver.last != before {
		t.Error("unknown callback mutated state")
	}
}
