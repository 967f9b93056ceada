package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ralphlabs/ralphd/internal/llm"
	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/store"
)

type fakeInvoker struct {
	content string
	err     error
}

func (f *fakeInvoker) Invoke(ctx context.Context, role llm.Role, prompt, workdir string) (*llm.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Result{Content: f.content}, nil
}

func newTestRegistry(t *testing.T, invoker *fakeInvoker) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(RegistryConfig{
		Store:       st,
		LLM:         invoker,
		Broadcaster: NewBroadcaster(nil),
	})
	return reg, st
}

func TestCreateProjectDefaultsAndDuplicates(t *testing.T) {
	reg, st := newTestRegistry(t, &fakeInvoker{})

	root := filepath.Join(t.TempDir(), "ws")
	proj, err := reg.CreateProject("demo", root, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if proj.Status != store.StatusCreated {
		t.Errorf("status = %q, want created", proj.Status)
	}
	if !proj.Plan.Empty() {
		t.Errorf("default plan not empty: %+v", proj.Plan)
	}
	if _, err := st.Project("demo"); err != nil {
		t.Errorf("project not persisted: %v", err)
	}

	if _, err := reg.CreateProject("demo", root, nil); err == nil {
		t.Error("duplicate name accepted")
	}
	if _, err := reg.CreateProject("", root, nil); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := reg.CreateProject("a/b", root, nil); err == nil {
		t.Error("name with path separator accepted")
	}
	if _, err := reg.CreateProject(strings.Repeat("x", 65), root, nil); err == nil {
		t.Error("65-char name accepted")
	}
}

func TestGetOrCreateReturnsSingleton(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeInvoker{})
	root := t.TempDir()
	proj, err := reg.CreateProject("p", root, nil)
	if err != nil {
		t.Fatal(err)
	}

	a := reg.GetOrCreate(proj)
	b := reg.GetOrCreate(proj)
	if a != b {
		t.Error("GetOrCreate returned two pipelines for one project")
	}
}

func TestGeneratePlanParsesWrappedJSON(t *testing.T) {
	planJSON := `{"stages":[{"name":"s","mission":"m","stories":[{"title":"t","description":"d","priority":"standard"}]}]}`
	reg, _ := newTestRegistry(t, &fakeInvoker{content: "Here you go:\n```json\n" + planJSON + "\n```"})

	pl, err := reg.GeneratePlan(context.Background(), "build a todo app")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pl.Stages) != 1 || pl.Stages[0].Stories[0].Title != "t" {
		t.Errorf("plan = %+v", pl)
	}
}

func TestGeneratePlanRejectsGarbage(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeInvoker{content: "I cannot do that."})
	if _, err := reg.GeneratePlan(context.Background(), "x"); err == nil {
		t.Error("unparseable response accepted")
	}
}

func TestScaffoldWorkspace(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	pl := &plan.Plan{Stages: []plan.Stage{{Name: "s"}}}

	if err := scaffoldWorkspace(root, pl); err != nil {
		t.Fatalf("scaffold: %v", err)
	}

	for _, rel := range []string{"agents.md", "progress.txt", ".gitignore", filepath.Join(".ralph", "internal_status.txt"), filepath.Join("plans", "prd.json")} {
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			t.Errorf("missing %s: %v", rel, err)
		}
	}
	if info, err := os.Stat(filepath.Join(root, ".ralph", "logs")); err != nil || !info.IsDir() {
		t.Error(".ralph/logs not created")
	}

	loaded, err := plan.LoadFile(root)
	if err != nil || len(loaded.Stages) != 1 {
		t.Errorf("plan not seeded: %+v, %v", loaded, err)
	}

	// Scaffolding again must not clobber existing files.
	if err := os.WriteFile(filepath.Join(root, "agents.md"), []byte("existing log"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := scaffoldWorkspace(root, &plan.Plan{}); err != nil {
		t.Fatalf("rescaffold: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "agents.md"))
	if string(data) != "existing log" {
		t.Error("rescaffold overwrote agents.md")
	}
	reloaded, _ := plan.LoadFile(root)
	if len(reloaded.Stages) != 1 {
		t.Error("rescaffold overwrote the plan")
	}
}

func TestBroadcasterDeliversEnvelopes(t *testing.T) {
	b := NewBroadcaster(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		b.HandleConnection(r.Context(), conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Opening info envelope.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	var info Envelope
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatal(err)
	}
	if info.Type != "info" {
		t.Errorf("first envelope type = %q, want info", info.Type)
	}

	// Wait until the server side registered the observer.
	deadline := time.Now().Add(2 * time.Second)
	for b.ObserverCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	b.Broadcast("status", "proj-1", map[string]interface{}{"message": "running"})

	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "status" || env.ProjectID != "proj-1" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Payload["message"] != "running" {
		t.Errorf("payload = %v", env.Payload)
	}
	if env.Payload["timestamp"] == nil {
		t.Error("payload missing timestamp")
	}
}

func TestBroadcastWithNoObserversIsSafe(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Broadcast("status", "p", nil)
	if b.ObserverCount() != 0 {
		t.Error("phantom observer")
	}
}
