package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// NewDefaultRegistry returns a registry with the http(s) and file sinks.
func NewDefaultRegistry(client *http.Client) *Registry {
	r := NewRegistry()
	webhook := HTTPHandler(client)
	r.Register("http://", webhook)
	r.Register("https://", webhook)
	r.Register("file:", FileHandler())
	return r
}

// HTTPHandler POSTs the payload as JSON to the target URL. Any non-2xx
// response is an error.
func HTTPHandler(client *http.Client) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, target string, p *Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("post payload: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return nil
	}
}

// FileHandler appends the payload as one JSON line to the file named after
// the "file:" prefix.
func FileHandler() Handler {
	var mu sync.Mutex
	return func(ctx context.Context, target string, p *Payload) error {
		path := strings.TrimPrefix(strings.TrimPrefix(target, "file:"), "//")
		if path == "" {
			return fmt.Errorf("file target has no path")
		}
		line, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create delivery dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open delivery file: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append delivery file: %w", err)
		}
		return nil
	}
}
