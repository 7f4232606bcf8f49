package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/fabricagent/internal/auth"
	"github.com/user/fabricagent/internal/extract"
	"github.com/user/fabricagent/internal/gateway"
	"github.com/user/fabricagent/internal/runtime"
	"github.com/user/fabricagent/internal/state"
	"github.com/user/fabricagent/internal/types"
	"github.com/user/fabricagent/pkg/dataagent"
)

type fakeAuth struct {
	status  auth.Status
	code    *auth.DeviceCode
	err     error
	started int
}

func (f *fakeAuth) Status() auth.Status { return f.status }

func (f *fakeAuth) StartDeviceLogin(ctx context.Context) (*auth.DeviceCode, error) {
	f.started++
	return f.code, f.err
}

type fakeAsker struct {
	last *types.InboundQuestion
	res  *gateway.Result
	err  error
}

func (f *fakeAsker) Ask(ctx context.Context, q *types.InboundQuestion) (*gateway.Result, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type memHistory struct {
	records []types.AskRecord
}

func (m *memHistory) Record(ctx context.Context, rec *types.AskRecord) error {
	rec.ID = uint(len(m.records) + 1)
	m.records = append(m.records, *rec)
	return nil
}

func (m *memHistory) Get(ctx context.Context, id uint) (*types.AskRecord, error) {
	for i := range m.records {
		if m.records[i].ID == id {
			return &m.records[i], nil
		}
	}
	return nil, fmt.Errorf("record %d not found", id)
}

func (m *memHistory) List(ctx context.Context, limit, offset int) ([]types.AskRecord, int64, error) {
	total := int64(len(m.records))
	if offset >= len(m.records) {
		return nil, total, nil
	}
	out := m.records[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memHistory) ListByThread(ctx context.Context, thread types.ThreadName) ([]types.AskRecord, error) {
	var out []types.AskRecord
	for _, r := range m.records {
		if r.ThreadName == string(thread) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memHistory) Delete(ctx context.Context, id uint) error { return nil }

func (m *memHistory) Clear(ctx context.Context) error {
	m.records = nil
	return nil
}

func signedIn() *fakeAuth {
	return &fakeAuth{status: auth.Status{Authenticated: true, Mode: auth.ModeDeviceCode}}
}

func sampleResult() *gateway.Result {
	return &gateway.Result{
		ThreadName: "t1",
		RunID:      "run_1",
		RunStatus:  "completed",
		Response:   "West leads with 120.",
		Messages: []dataagent.Message{{
			ID:   "msg_1",
			Role: "assistant",
			Content: []dataagent.MessageContent{{
				Type: "text",
				Text: &dataagent.TextContent{Value: "West leads with 120."},
			}},
		}},
		Report: &extract.Report{
			Queries: []string{"SELECT region, total FROM sales"},
			DataPreviews: [][]string{{
				"| region | total |",
				"| --- | --- |",
				"| West | 120 |",
			}},
			DataRetrievalQuery:      "SELECT region, total FROM sales",
			DataRetrievalQueryIndex: 1,
		},
	}
}

func newTestServer(t *testing.T, a *fakeAuth, asker *fakeAsker, questions ...*state.SavedQuestion) *Server {
	t.Helper()
	store := state.NewQuestionStore(filepath.Join(t.TempDir(), "questions.json"))
	for _, q := range questions {
		if err := store.Add(q); err != nil {
			t.Fatal(err)
		}
	}
	return NewServer(Options{
		Asker:     asker,
		Auth:      a,
		Questions: store,
		Runner:    runtime.NewQuestionRunner(asker, nil, nil),
		History:   &memHistory{},
	})
}

func do(t *testing.T, srv http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v (%s)", err, w.Body.String())
		}
	}
	return w, resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, signedIn(), &fakeAsker{})

	w, resp := do(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", resp["status"])
	}
	if resp["authenticated"] != true {
		t.Errorf("expected authenticated true, got %v", resp["authenticated"])
	}
}

func TestAuthStart(t *testing.T) {
	a := &fakeAuth{
		status: auth.Status{Mode: auth.ModeDeviceCode},
		code: &auth.DeviceCode{
			UserCode:        "ABCD-1234",
			VerificationURI: "https://microsoft.com/devicelogin",
			ExpiresAt:       time.Now().Add(15 * time.Minute),
		},
	}
	srv := newTestServer(t, a, &fakeAsker{})

	w, resp := do(t, srv, http.MethodPost, "/auth/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp["device_code"] != "ABCD-1234" {
		t.Errorf("unexpected device_code %v", resp["device_code"])
	}
	if resp["verification_uri"] != "https://microsoft.com/devicelogin" {
		t.Errorf("unexpected verification_uri %v", resp["verification_uri"])
	}
	if n, _ := resp["expires_in"].(float64); n <= 0 || n > 900 {
		t.Errorf("unexpected expires_in %v", resp["expires_in"])
	}
	if a.started != 1 {
		t.Errorf("expected one device login, got %d", a.started)
	}
}

func TestAuthStartError(t *testing.T) {
	a := &fakeAuth{err: errors.New("device login: session uses client credentials")}
	srv := newTestServer(t, a, &fakeAsker{})

	w, resp := do(t, srv, http.MethodPost, "/auth/start", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	if resp["success"] != false {
		t.Errorf("expected success false, got %v", resp["success"])
	}
}

func TestAuthStatus(t *testing.T) {
	a := &fakeAuth{status: auth.Status{InProgress: true, Mode: auth.ModeDeviceCode}}
	srv := newTestServer(t, a, &fakeAsker{})

	_, resp := do(t, srv, http.MethodGet, "/auth/status", "")
	if resp["authenticated"] != false || resp["auth_in_progress"] != true {
		t.Errorf("unexpected status %v", resp)
	}
}

func TestAskRequiresAuth(t *testing.T) {
	asker := &fakeAsker{res: sampleResult()}
	srv := newTestServer(t, &fakeAuth{status: auth.Status{Mode: auth.ModeDeviceCode}}, asker)

	for _, path := range []string{"/ask", "/run-details"} {
		w, resp := do(t, srv, http.MethodPost, path, `{"question":"sales?"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected status 401, got %d", path, w.Code)
		}
		if resp["needs_auth"] != true {
			t.Errorf("%s: expected needs_auth, got %v", path, resp)
		}
	}
	if asker.last != nil {
		t.Error("asker should not be called before sign-in")
	}
}

func TestAskClientCredentialsSkipsSignIn(t *testing.T) {
	asker := &fakeAsker{res: sampleResult()}
	srv := newTestServer(t, &fakeAuth{status: auth.Status{Mode: auth.ModeClientCredentials}}, asker)

	w, _ := do(t, srv, http.MethodPost, "/ask", `{"question":"sales?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	srv := newTestServer(t, signedIn(), &fakeAsker{})

	for _, body := range []string{`{"question":""}`, `{"question":"   "}`, `{}`} {
		w, resp := do(t, srv, http.MethodPost, "/ask", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", body, w.Code)
		}
		if resp["error"] != "Question cannot be empty" {
			t.Errorf("%s: unexpected error %v", body, resp["error"])
		}
	}
}

func TestAskInvalidJSON(t *testing.T) {
	srv := newTestServer(t, signedIn(), &fakeAsker{})

	w, _ := do(t, srv, http.MethodPost, "/ask", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestAsk(t *testing.T) {
	asker := &fakeAsker{res: sampleResult()}
	srv := newTestServer(t, signedIn(), asker)

	w, resp := do(t, srv, http.MethodPost, "/ask", `{"question":"  sales by region? ","thread_name":"t1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp["response"] != "West leads with 120." {
		t.Errorf("unexpected response %v", resp["response"])
	}
	if resp["question"] != "sales by region?" {
		t.Errorf("expected trimmed question, got %v", resp["question"])
	}
	if asker.last.Source != "http" || asker.last.ThreadName != "t1" {
		t.Errorf("unexpected inbound question %+v", asker.last)
	}
}

func TestAskErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("get token: %w", auth.ErrNotAuthenticated), http.StatusUnauthorized},
		{fmt.Errorf("wait run: %w", runtime.ErrRunTimeout), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		srv := newTestServer(t, signedIn(), &fakeAsker{err: tt.err})
		w, resp := do(t, srv, http.MethodPost, "/ask", `{"question":"q"}`)
		if w.Code != tt.code {
			t.Errorf("%v: expected status %d, got %d", tt.err, tt.code, w.Code)
		}
		if resp["success"] != false {
			t.Errorf("%v: expected success false", tt.err)
		}
	}
}

func TestRunDetails(t *testing.T) {
	srv := newTestServer(t, signedIn(), &fakeAsker{res: sampleResult()})

	w, resp := do(t, srv, http.MethodPost, "/run-details", `{"question":"sales by region?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp["run_status"] != "completed" {
		t.Errorf("unexpected run_status %v", resp["run_status"])
	}
	if resp["data_retrieval_query"] != "SELECT region, total FROM sales" {
		t.Errorf("unexpected data_retrieval_query %v", resp["data_retrieval_query"])
	}
	if resp["data_retrieval_query_index"] != float64(1) {
		t.Errorf("unexpected index %v", resp["data_retrieval_query_index"])
	}
	if q, _ := resp["sql_queries"].([]any); len(q) != 1 {
		t.Errorf("unexpected sql_queries %v", resp["sql_queries"])
	}
	if p, _ := resp["sql_data_previews"].([]any); len(p) != 1 {
		t.Errorf("unexpected sql_data_previews %v", resp["sql_data_previews"])
	}
	msgs, _ := resp["messages"].(map[string]any)
	if data, _ := msgs["data"].([]any); len(data) != 1 {
		t.Errorf("expected messages.data with one message, got %v", resp["messages"])
	}
	if _, ok := resp["timestamp"].(float64); !ok {
		t.Errorf("expected numeric timestamp, got %v", resp["timestamp"])
	}

	grid, _ := resp["grid"].(map[string]any)
	cols, _ := grid["columnDefs"].([]any)
	rows, _ := grid["rowData"].([]any)
	if len(cols) != 2 || len(rows) != 1 {
		t.Fatalf("unexpected grid %v", resp["grid"])
	}
	row := rows[0].(map[string]any)
	if row["region"] != "West" || row["total"] != float64(120) {
		t.Errorf("unexpected grid row %v", row)
	}
}

func TestRunDetailsWithoutReport(t *testing.T) {
	srv := newTestServer(t, signedIn(), &fakeAsker{res: &gateway.Result{RunStatus: "failed", Response: "No response received from the data agent."}})

	w, resp := do(t, srv, http.MethodPost, "/run-details", `{"question":"q"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if q, ok := resp["sql_queries"].([]any); !ok || len(q) != 0 {
		t.Errorf("expected empty sql_queries, got %v", resp["sql_queries"])
	}
	if _, ok := resp["grid"]; ok {
		t.Errorf("expected no grid, got %v", resp["grid"])
	}
	if _, ok := resp["data_retrieval_query"]; ok {
		t.Errorf("expected no data_retrieval_query, got %v", resp["data_retrieval_query"])
	}
}

func TestSavedQuestion(t *testing.T) {
	asker := &fakeAsker{res: sampleResult()}
	srv := newTestServer(t, signedIn(), asker, &state.SavedQuestion{
		Name:       "weekly-sales",
		Question:   "sales by region?",
		ThreadName: "weekly",
		Enabled:    true,
	})

	w, resp := do(t, srv, http.MethodPost, "/questions/weekly-sales", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp["question"] != "sales by region?" {
		t.Errorf("unexpected question %v", resp["question"])
	}
	if asker.last.ThreadName != "weekly" || asker.last.Question != "sales by region?" {
		t.Errorf("unexpected inbound question %+v", asker.last)
	}

	// Body overrides the saved text.
	_, resp = do(t, srv, http.MethodPost, "/questions/weekly-sales", `{"question":"sales by month?"}`)
	if asker.last.Question != "sales by month?" || resp["question"] != "sales by month?" {
		t.Errorf("override not applied: %+v", asker.last)
	}
}

func TestSavedQuestionInvalidBody(t *testing.T) {
	asker := &fakeAsker{res: sampleResult()}
	srv := newTestServer(t, signedIn(), asker, &state.SavedQuestion{
		Name:     "weekly-sales",
		Question: "sales by region?",
		Enabled:  true,
	})

	w, resp := do(t, srv, http.MethodPost, "/questions/weekly-sales", `{"question":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if resp["error"] != "invalid JSON" {
		t.Errorf("unexpected error %v", resp["error"])
	}
	if asker.last != nil {
		t.Errorf("question should not have been asked: %+v", asker.last)
	}
}

func TestSavedQuestionNotFoundAndDisabled(t *testing.T) {
	srv := newTestServer(t, signedIn(), &fakeAsker{res: sampleResult()}, &state.SavedQuestion{
		Name:     "off",
		Question: "q",
		Enabled:  false,
	})

	w, _ := do(t, srv, http.MethodPost, "/questions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	w, _ = do(t, srv, http.MethodPost, "/questions/off", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}
}

func TestHistory(t *testing.T) {
	hist := &memHistory{}
	ctx := context.Background()
	for _, thread := range []string{"a", "b", "a"} {
		if err := hist.Record(ctx, &types.AskRecord{ThreadName: thread, Question: "q"}); err != nil {
			t.Fatal(err)
		}
	}
	srv := NewServer(Options{Asker: &fakeAsker{}, Auth: signedIn(), History: hist})

	_, resp := do(t, srv, http.MethodGet, "/api/history?limit=2", "")
	if resp["total"] != float64(3) {
		t.Errorf("expected total 3, got %v", resp["total"])
	}
	if recs, _ := resp["records"].([]any); len(recs) != 2 {
		t.Errorf("expected 2 records, got %d", len(recs))
	}

	_, resp = do(t, srv, http.MethodGet, "/api/history?thread=a", "")
	if recs, _ := resp["records"].([]any); len(recs) != 2 {
		t.Errorf("expected 2 records for thread a, got %d", len(recs))
	}
}

func TestHistoryNotConfigured(t *testing.T) {
	srv := NewServer(Options{Asker: &fakeAsker{}, Auth: signedIn()})

	w, _ := do(t, srv, http.MethodGet, "/api/history", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	w, _ = do(t, srv, http.MethodPost, "/questions/x", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestMetricsAndIndex(t *testing.T) {
	srv := newTestServer(t, signedIn(), &fakeAsker{})

	w, _ := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 from /metrics, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default Go collectors in /metrics output")
	}

	w, _ = do(t, srv, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<form") {
		t.Errorf("expected index form, got %d", w.Code)
	}

	w, _ = do(t, srv, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", w.Code)
	}
}
