package dataagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/fabricagent/internal/types"
)

var _ Agent = (*Client)(nil)

// Client implements Agent over HTTP.
type Client struct {
	config     Config
	creds      Credentials
	httpClient *http.Client
}

// New creates a Client for the given endpoint. Every request asks creds for
// a token, so a refreshed credential is picked up without rebuilding the client.
func New(config Config, creds Credentials) *Client {
	if config.APIVersion == "" {
		config.APIVersion = DefaultAPIVersion
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	config.URL = strings.TrimRight(config.URL, "/")
	return &Client{
		config: config,
		creds:  creds,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
}

// Retryable reports whether the status code indicates a transient failure.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ThreadBaseURL maps the published agent URL onto the private endpoint that
// serves tag-based thread lookup.
func ThreadBaseURL(agentURL string) string {
	base := strings.TrimRight(agentURL, "/")
	if strings.Contains(base, "aiskills") {
		base = strings.ReplaceAll(base, "aiskills", "dataagents")
	}
	base = strings.TrimSuffix(base, "/openai")
	return strings.ReplaceAll(base, "/aiassistant", "/__private/aiassistant")
}

// assistantRequest is the body for POST /assistants. The service ignores the model.
type assistantRequest struct {
	Model string `json:"model"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	AssistantID string `json:"assistant_id"`
}

// CreateAssistant creates the placeholder assistant required by CreateRun.
func (c *Client) CreateAssistant(ctx context.Context) (*Assistant, error) {
	var out Assistant
	if err := c.do(ctx, http.MethodPost, c.endpoint("/assistants", nil), assistantRequest{Model: "not used"}, &out); err != nil {
		return nil, fmt.Errorf("create assistant: %w", err)
	}
	return &out, nil
}

// GetOrCreateThread looks up the thread tagged with name on the private
// thread endpoint; the service creates it on first use.
func (c *Client) GetOrCreateThread(ctx context.Context, name string) (*Thread, error) {
	q := url.Values{}
	q.Set("tag", `"`+name+`"`)
	u := ThreadBaseURL(c.config.URL) + "/threads/fabric?" + q.Encode()

	var out Thread
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, fmt.Errorf("get thread %q: %w", name, err)
	}
	out.Name = name
	return &out, nil
}

// CreateMessage posts a message to the thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error) {
	var out Message
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.do(ctx, http.MethodPost, c.endpoint(path, nil), messageRequest{Role: role, Content: content}, &out); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &out, nil
}

// CreateRun starts a run of assistantID on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	var out Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	if err := c.do(ctx, http.MethodPost, c.endpoint(path, nil), runRequest{AssistantID: assistantID}, &out); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &out, nil
}

// RetrieveRun returns the current state of the run.
func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var out Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, c.endpoint(path, nil), nil, &out); err != nil {
		return nil, fmt.Errorf("retrieve run: %w", err)
	}
	return &out, nil
}

// ListMessages returns all messages on the thread, following has_more pages.
func (c *Client) ListMessages(ctx context.Context, threadID, order string) ([]Message, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	q := url.Values{}
	if order != "" {
		q.Set("order", order)
	}
	msgs, err := listAll[Message](ctx, c, path, q)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ListRunSteps returns all steps of the run in ascending order.
func (c *Client) ListRunSteps(ctx context.Context, threadID, runID string) ([]RunStep, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/steps"
	q := url.Values{}
	q.Set("order", "asc")
	steps, err := listAll[RunStep](ctx, c, path, q)
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	return steps, nil
}

// listPageLimit is the page size requested from list endpoints.
const listPageLimit = 100

func listAll[T any](ctx context.Context, c *Client, path string, q url.Values) ([]T, error) {
	var all []T
	q.Set("limit", fmt.Sprint(listPageLimit))
	for {
		var page List[T]
		if err := c.do(ctx, http.MethodGet, c.endpoint(path, q), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore || page.LastID == "" {
			return all, nil
		}
		q.Set("after", page.LastID)
	}
}

func (c *Client) endpoint(path string, q url.Values) string {
	params := url.Values{}
	for k, v := range q {
		params[k] = v
	}
	params.Set("api-version", c.config.APIVersion)
	return c.config.URL + path + "?" + params.Encode()
}

func (c *Client) do(ctx context.Context, method, u string, body any, out any) error {
	token, err := c.creds.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ActivityId", string(types.NewActivityID()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			URL:        req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
