package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"bookline/internal/app"
	"bookline/internal/config"
	"bookline/internal/db"
	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("org-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := app.ResolveOrg(context.Background(), cfg, "tester", e.Repo); err != nil {
		t.Fatalf("resolve org: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeaders: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var actorHeaders = map[string]string{"X-Actor-Id": "tester", "X-Org-Id": "org-1"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthAndAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list must be 401, got %d", res.StatusCode)
	}
}

func TestBookingConflictRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// register a blockable type and a resource
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/resource-types", map[string]any{
		"name":         "cnc",
		"is_blockable": true,
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create type status %d: %s", res.StatusCode, string(data))
	}
	var rt domain.ResourceType
	if err := json.Unmarshal(data, &rt); err != nil {
		t.Fatalf("unmarshal type: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/resources", map[string]any{
		"type_id":      rt.ID,
		"display_name": "CNC Mill",
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create resource status %d: %s", res.StatusCode, string(data))
	}
	var mill domain.Resource
	if err := json.Unmarshal(data, &mill); err != nil {
		t.Fatalf("unmarshal resource: %v", err)
	}

	schedule := map[string]any{
		"start": "2026-03-02T09:00:00Z",
		"end":   "2026-03-02T11:00:00Z",
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "first run",
		"schedule":    schedule,
		"resources":   []map[string]any{{"resource_id": mill.ID}},
		"assignments": []map[string]any{{"user_id": "tester"}},
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var first domain.Task
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	// overlapping second task is rejected with the conflict envelope
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":     "second run",
		"schedule":  map[string]any{"start": "2026-03-02T10:00:00Z", "end": "2026-03-02T12:00:00Z"},
		"resources": []map[string]any{{"resource_id": mill.ID}},
	}, actorHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("overlap status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "booking_conflict" {
		t.Fatalf("want booking_conflict, got %q", envelope.Error.Code)
	}

	// availability probe agrees
	res, data = doJSON(t, client, http.MethodGet,
		srv.URL+"/v0/availability?resource_ids="+mill.ID+"&start=2026-03-02T10:00:00Z&end=2026-03-02T12:00:00Z",
		nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("availability status %d: %s", res.StatusCode, string(data))
	}
	var avail struct {
		Available bool `json:"available"`
	}
	if err := json.Unmarshal(data, &avail); err != nil {
		t.Fatalf("unmarshal availability: %v", err)
	}
	if avail.Available {
		t.Fatalf("window must be unavailable")
	}

	// completing the first task writes logs and releases the window
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+first.ID, map[string]any{
		"status": "done",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var completed domain.Task
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("unmarshal completed: %v", err)
	}
	if len(completed.TimeLogs) != 1 || completed.TimeLogs[0].DurationMinutes != 120 {
		t.Fatalf("want one 120-minute time log, got %+v", completed.TimeLogs)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":     "second run",
		"schedule":  map[string]any{"start": "2026-03-02T10:00:00Z", "end": "2026-03-02T12:00:00Z"},
		"resources": []map[string]any{{"resource_id": mill.ID}},
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("retry after completion status %d: %s", res.StatusCode, string(data))
	}

	// unknown task is a 404
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/nope", nil, actorHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task status %d", res.StatusCode)
	}
}
