package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ChemResponse-Chain/internal/auth"
	"ChemResponse-Chain/internal/observability/metrics"
	"ChemResponse-Chain/internal/task"
)

func newTestServer(t *testing.T) (*Server, *task.MemoryStore, *task.MemoryQueue) {
	t.Helper()
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	return NewServer(":0", task.NewService(store, queue, 3)), store, queue
}

func TestHandleRunDetailSuccess(t *testing.T) {
	server, store, _ := newTestServer(t)

	sample := &task.Task{
		ID:         "run-success",
		Input:      "氯气泄漏",
		Status:     task.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		CreatedAt:  1700000000,
		UpdatedAt:  1700000001,
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample run: %v", err)
	}
	result := task.ExecutionResult{
		CompletedStages: 3,
		Report:          json.RawMessage(`{"response_plan":{"emergency_level":{"level":"II级"}}}`),
	}
	if err := store.MarkSucceeded(context.Background(), sample.ID, result); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-success", nil)
	rec := httptest.NewRecorder()
	server.handleRunDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected run id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || got.Result.CompletedStages != 3 {
		t.Fatalf("unexpected run result: %+v", got.Result)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-success/report", nil)
	rec = httptest.NewRecorder()
	server.handleRunDetail(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "II级") {
		t.Fatalf("unexpected report response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRunDetailErrors(t *testing.T) {
	server, store, _ := newTestServer(t)
	if err := store.Create(context.Background(), &task.Task{ID: "pending", Input: "氯气泄漏", Status: task.StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"invalid method", http.MethodPost, "/api/v1/runs/run-1", http.StatusMethodNotAllowed},
		{"missing id", http.MethodGet, "/api/v1/runs/", http.StatusBadRequest},
		{"not found", http.MethodGet, "/api/v1/runs/missing", http.StatusNotFound},
		{"unknown sub resource", http.MethodGet, "/api/v1/runs/pending/logs", http.StatusNotFound},
		{"report not ready", http.MethodGet, "/api/v1/runs/pending/report", http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			rec := httptest.NewRecorder()

			server.handleRunDetail(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestCreateRunQueuesTask(t *testing.T) {
	server, store, _ := newTestServer(t)
	handler := server.Handler()

	body := bytes.NewBufferString(`{"id":"run-1","input":"江苏省某化工厂氯气泄漏","num_responses":2}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "run-1" || got.NumResponses != 2 || got.Status != task.StatusPending {
		t.Fatalf("unexpected run: %+v", got)
	}

	stored, err := store.Get(context.Background(), "run-1")
	if err != nil || stored.MaxRetries != 3 {
		t.Fatalf("expected stored run, got %+v %v", stored, err)
	}
}

func TestCreateRunRejectsBadRequests(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	cases := map[string]string{
		"malformed json": `{"input":`,
		"empty input":    `{"input":"  "}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Code == "" {
				t.Fatalf("expected error body, got %s", rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs?wait=soon", strings.NewReader(`{"input":"氯气泄漏"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad wait, got %d", rec.Code)
	}
}

func TestListAndStatsRuns(t *testing.T) {
	server, store, _ := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &task.Task{ID: id, Input: "氯气泄漏 " + id, Status: task.StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := store.MarkFailed(ctx, "b", task.CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?status=failed", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var runs []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "b" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/stats", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var stats task.TaskStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 3 || stats.Failed != 1 || stats.Pending != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	for _, query := range []string{"status=unknown", "limit=-1", "has_result=maybe", "since=yesterday"} {
		req = httptest.NewRequest(http.MethodGet, "/api/v1/runs?"+query, nil)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestCheckInputEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/check-input", strings.NewReader(`{"input":"有东西漏了"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var resp checkInputResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Complete || len(resp.Missing) == 0 {
		t.Fatalf("expected missing categories, got %+v", resp)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	store := task.NewMemoryStore()
	m := metrics.New()
	server := NewServer(":0", task.NewService(store, task.NewMemoryQueue(1), 3), WithMetrics(m))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `handler="run_detail"`) {
		t.Fatalf("expected instrumented handler in metrics output")
	}

	unavailable := NewServer(":0", nil)
	rec = httptest.NewRecorder()
	unavailable.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAuthGuardsRunRoutes(t *testing.T) {
	svc, err := auth.NewService([]auth.Token{
		{Name: "dashboard", Value: "read-token", Permissions: []string{auth.PermissionRunsRead}},
		{Name: "dispatcher", Value: "write-token", Permissions: []string{auth.PermissionRunsRead, auth.PermissionRunsWrite}},
	})
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	store := task.NewMemoryStore()
	server := NewServer(":0", task.NewService(store, task.NewMemoryQueue(4), 3), WithAuth(svc))
	handler := server.Handler()

	do := func(method, path, token, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(http.MethodGet, "/api/v1/runs", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous list: got %d", code)
	}
	if code := do(http.MethodGet, "/api/v1/runs", "read-token", ""); code != http.StatusOK {
		t.Fatalf("reader list: got %d", code)
	}
	body := `{"input":"某化工厂氯气储罐泄漏"}`
	if code := do(http.MethodPost, "/api/v1/runs", "read-token", body); code != http.StatusForbidden {
		t.Fatalf("reader submit: got %d", code)
	}
	if code := do(http.MethodPost, "/api/v1/runs", "write-token", body); code != http.StatusAccepted {
		t.Fatalf("writer submit: got %d", code)
	}
	if code := do(http.MethodGet, "/healthz", "", ""); code != http.StatusOK {
		t.Fatalf("healthz should stay open: got %d", code)
	}
}

func TestCreateRunRejectsUnsafeID(t *testing.T) {
	server, store, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"id":"site/42","input":"氯气泄漏"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := store.Get(context.Background(), "site/42"); err == nil {
		t.Fatalf("unsafe id must not be stored")
	}
}
