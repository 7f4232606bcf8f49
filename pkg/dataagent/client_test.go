package dataagent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func staticToken(token string) Credentials {
	return CredentialsFunc(func(context.Context) (string, error) { return token, nil })
}

func TestClientHeadersAndAPIVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("missing or invalid auth header")
		}
		if r.Header.Get("ActivityId") == "" {
			t.Error("missing ActivityId header")
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept application/json, got %q", r.Header.Get("Accept"))
		}
		if r.URL.Query().Get("api-version") != DefaultAPIVersion {
			t.Errorf("expected api-version %s, got %q", DefaultAPIVersion, r.URL.Query().Get("api-version"))
		}
		if r.URL.Path != "/workspaces/w1/aiassistant/openai/assistants" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		if req["model"] != "not used" {
			t.Errorf("expected placeholder model, got %v", req["model"])
		}

		json.NewEncoder(w).Encode(map[string]any{"id": "asst_1"})
	}))
	defer server.Close()

	client := New(Config{URL: server.URL + "/workspaces/w1/aiassistant/openai"}, staticToken("test-token"))
	asst, err := client.CreateAssistant(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if asst.ID != "asst_1" {
		t.Errorf("expected asst_1, got %s", asst.ID)
	}
}

func TestThreadBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{
			"https://api.fabric.microsoft.com/v1/workspaces/w/aiskills/a/aiassistant/openai",
			"https://api.fabric.microsoft.com/v1/workspaces/w/dataagents/a/__private/aiassistant",
		},
		{
			"https://api.fabric.microsoft.com/v1/workspaces/w/dataagents/a/aiassistant/openai/",
			"https://api.fabric.microsoft.com/v1/workspaces/w/dataagents/a/__private/aiassistant",
		},
	}
	for _, tt := range tests {
		if got := ThreadBaseURL(tt.in); got != tt.want {
			t.Errorf("ThreadBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetOrCreateThreadUsesTag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/w/__private/aiassistant/threads/fabric" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if tag := r.URL.Query().Get("tag"); tag != `"sales"` {
			t.Errorf("expected quoted tag, got %q", tag)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "thread_9"})
	}))
	defer server.Close()

	client := New(Config{URL: server.URL + "/w/aiassistant/openai"}, staticToken("t"))
	thread, err := client.GetOrCreateThread(context.Background(), "sales")
	if err != nil {
		t.Fatal(err)
	}
	if thread.ID != "thread_9" || thread.Name != "sales" {
		t.Errorf("unexpected thread %+v", thread)
	}
}

func TestListMessagesFollowsPages(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("order") != "asc" {
			t.Errorf("expected order=asc, got %q", r.URL.Query().Get("order"))
		}
		switch r.URL.Query().Get("after") {
		case "":
			w.Write([]byte(`{"data":[{"id":"m1","role":"user","content":[{"type":"text","text":{"value":"q"}}]}],"has_more":true,"last_id":"m1"}`))
		case "m1":
			w.Write([]byte(`{"data":[{"id":"m2","role":"assistant","content":[{"type":"text","text":{"value":"answer"}}]}],"has_more":false,"last_id":"m2"}`))
		default:
			t.Errorf("unexpected after %q", r.URL.Query().Get("after"))
		}
	}))
	defer server.Close()

	client := New(Config{URL: server.URL}, staticToken("t"))
	msgs, err := client.ListMessages(context.Background(), "thread_1", "asc")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("expected 2 page requests, got %d", calls)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if text, ok := msgs[1].Text(); !ok || text != "answer" {
		t.Errorf("expected assistant text 'answer', got %q", text)
	}
}

func TestListRunStepsToleratesObjectArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"s1","type":"tool_calls","step_details":{"type":"tool_calls","tool_calls":[
			{"id":"c1","type":"function","function":{"name":"q","arguments":{"sql":"SELECT * FROM t"},"output":"[{\"a\":1}]"}},
			{"id":"c2","type":"function","function":{"name":"q","arguments":null}}
		]}}],"has_more":false}`))
	}))
	defer server.Close()

	client := New(Config{URL: server.URL}, staticToken("t"))
	steps, err := client.ListRunSteps(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatal(err)
	}
	calls := steps[0].StepDetails.ToolCalls
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if got := calls[0].ArgumentsText(); got != `{"sql":"SELECT * FROM t"}` {
		t.Errorf("expected raw object arguments, got %q", got)
	}
	if got := calls[0].OutputText(); got != `[{"a":1}]` {
		t.Errorf("expected decoded output string, got %q", got)
	}
	if got := calls[1].ArgumentsText(); got != "" {
		t.Errorf("expected empty arguments for null, got %q", got)
	}
}

func TestClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("busy"))
	}))
	defer server.Close()

	client := New(Config{URL: server.URL}, staticToken("t"))
	_, err := client.RetrieveRun(context.Background(), "thread_1", "run_1")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || !apiErr.Retryable() {
		t.Errorf("expected retryable 503, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "busy") {
		t.Errorf("expected body in error, got %v", err)
	}
}

func TestClientTokenError(t *testing.T) {
	creds := CredentialsFunc(func(context.Context) (string, error) { return "", errors.New("not signed in") })
	client := New(Config{URL: "http://127.0.0.1:0"}, creds)
	if _, err := client.CreateAssistant(context.Background()); err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Errorf("expected token error, got %v", err)
	}
}
