package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ralphlabs/ralphd/internal/llm"
	"github.com/ralphlabs/ralphd/internal/orchestrator"
	"github.com/ralphlabs/ralphd/internal/store"
)

type fakeInvoker struct {
	content string
}

func (f *fakeInvoker) Invoke(ctx context.Context, role llm.Role, prompt, workdir string) (*llm.Result, error) {
	return &llm.Result{Content: f.content}, nil
}

type testEnv struct {
	srv      *httptest.Server
	store    *store.Store
	settings []store.Settings
	root     string
}

func newTestEnv(t *testing.T, invoker *fakeInvoker) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatal(err)
	}
	broadcaster := orchestrator.NewBroadcaster(nil)
	registry := orchestrator.NewRegistry(orchestrator.RegistryConfig{
		Store:       st,
		LLM:         invoker,
		Broadcaster: broadcaster,
	})

	env := &testEnv{store: st, root: t.TempDir()}
	server := New(Config{
		Store:       st,
		Registry:    registry,
		Broadcaster: broadcaster,
		OnSettings:  func(s store.Settings) { env.settings = append(env.settings, s) },
	})
	env.srv = httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateAndListProjects(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})

	resp := env.post(t, "/api/projects", `{"name":"demo","path":"`+env.root+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	resp = env.get(t, "/api/projects")
	var projects []store.Project
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 || projects[0].ID != "demo" {
		t.Errorf("projects = %+v", projects)
	}
}

func TestCreateProjectRequiresName(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})
	resp := env.post(t, "/api/projects", `{"path":"/tmp/x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGeneratePRDFailureIs500(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{content: "no json here"})
	env.post(t, "/api/projects", `{"name":"p","path":"`+env.root+`"}`)

	resp := env.post(t, "/api/projects/p/generate-prd", `{"prompt":"build it"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestGeneratePRDStoresPlan(t *testing.T) {
	planJSON := `{"stages":[{"name":"s","mission":"m","stories":[{"title":"t","description":"d","priority":"standard"}]}]}`
	env := newTestEnv(t, &fakeInvoker{content: planJSON})
	env.post(t, "/api/projects", `{"name":"p","path":"`+env.root+`"}`)

	resp := env.post(t, "/api/projects/p/generate-prd", `{"prompt":"build it"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	proj, err := env.store.Project("p")
	if err != nil {
		t.Fatal(err)
	}
	if len(proj.Plan.Stages) != 1 {
		t.Errorf("plan not stored: %+v", proj.Plan)
	}
}

func TestUpdatePRDReplacesPlan(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})
	env.post(t, "/api/projects", `{"name":"p","path":"`+env.root+`"}`)

	body := `{"prd":{"stages":[{"name":"n","mission":"m","stories":[{"title":"t","description":"d","priority":"critical"}]}]}}`
	resp := env.post(t, "/api/projects/p/update-prd", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	proj, _ := env.store.Project("p")
	if len(proj.Plan.Stages) != 1 || proj.Plan.Stages[0].Name != "n" {
		t.Errorf("plan = %+v", proj.Plan)
	}
}

func TestUpdateProjectSettingsRejectsUnknownKeys(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})
	env.post(t, "/api/projects", `{"name":"p","path":"`+env.root+`"}`)

	resp := env.post(t, "/api/projects/p/update-settings", `{"maxIterations":5}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown key status = %d, want 400", resp.StatusCode)
	}

	resp = env.post(t, "/api/projects/p/update-settings", `{"useHumanReview":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	proj, _ := env.store.Project("p")
	if !proj.UseHumanReview {
		t.Error("useHumanReview not applied")
	}
}

func TestProjectAnalyticsWithoutMirror(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})
	env.post(t, "/api/projects", `{"name":"p","path":"`+env.root+`"}`)

	resp := env.get(t, "/api/projects/p/analytics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Events    []interface{} `json:"events"`
		Failures  []interface{} `json:"failures"`
		LastEvent string        `json:"lastEvent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Events) != 0 || len(body.Failures) != 0 || body.LastEvent != "" {
		t.Errorf("no-mirror analytics not empty: %+v", body)
	}
}

func TestLessonsEndpoints(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})
	_ = env.store.SaveLesson(store.Lesson{Error: "broken build output", Timestamp: "ts-1"})

	resp := env.get(t, "/api/lessons")
	var lessons []store.Lesson
	if err := json.NewDecoder(resp.Body).Decode(&lessons); err != nil {
		t.Fatal(err)
	}
	if len(lessons) != 1 {
		t.Fatalf("lessons = %+v", lessons)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/lessons/ts-1", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", delResp.StatusCode)
	}
	if len(env.store.Lessons()) != 0 {
		t.Error("lesson not deleted")
	}
}

func TestReplaceSettingsNotifiesBridge(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})

	body := `{"maxIterations":10,"maxRetriesPerTask":2,"baseSleepTime":100,"backoffMultiplier":1.5,"useReviewerAgent":false,"autoTest":false,"codexPath":"codex","chat":{"enabled":true,"token":"tok","chatId":"42","useHumanReview":true}}`
	resp := env.post(t, "/api/settings", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	got := env.store.Settings()
	if got.MaxIterations != 10 || !got.Chat.Enabled {
		t.Errorf("settings = %+v", got)
	}
	if len(env.settings) != 1 || env.settings[0].Chat.Token != "tok" {
		t.Errorf("bridge callback = %+v", env.settings)
	}
}

func TestGetSettings(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})
	resp := env.get(t, "/api/settings")
	var got store.Settings
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.MaxIterations != 100 {
		t.Errorf("settings = %+v", got)
	}
}
