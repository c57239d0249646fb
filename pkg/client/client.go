package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/onboard/pkg/api"
)

// ErrNotFound is returned for unknown task ids
var ErrNotFound = errors.New("task not found")

// Options configure a Client
type Options struct {
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client is an agent API client
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the agent at addr. A bare host:port is
// reached over https.
func NewClient(addr string, opts Options) *Client {
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Minute
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}
	return &Client{
		baseURL: strings.TrimSuffix(addr, "/"),
		http:    &http.Client{Transport: transport, Timeout: opts.Timeout},
	}
}

// APIError is a non-task failure reported by the agent
type APIError struct {
	StatusCode int
	Message    string
	Errors     []string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("agent returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("agent returned %d: %s: %s", e.StatusCode, e.Message, strings.Join(e.Errors, "; "))
}

// Submit posts a declaration, bare or DO-wrapped. The returned task may be
// terminal or still running, depending on the declaration's async flag.
func (c *Client) Submit(ctx context.Context, declaration []byte) (*api.TaskResponse, error) {
	var task api.TaskResponse
	if err := c.do(ctx, http.MethodPost, api.BasePath, declaration, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask returns one task
func (c *Client) GetTask(ctx context.Context, id string, full bool) (*api.TaskResponse, error) {
	path := api.BasePath + "/task/" + url.PathEscape(id)
	if full {
		path += "?show=full"
	}
	var task api.TaskResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// MostRecentTask returns the last submitted task
func (c *Client) MostRecentTask(ctx context.Context) (*api.TaskResponse, error) {
	var task api.TaskResponse
	if err := c.do(ctx, http.MethodGet, api.BasePath, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns every task the agent knows about
func (c *Client) ListTasks(ctx context.Context) ([]api.TaskResponse, error) {
	var tasks []api.TaskResponse
	if err := c.do(ctx, http.MethodGet, api.BasePath+"/task", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Info returns the agent version and accepted schema versions
func (c *Client) Info(ctx context.Context) (*api.InfoResponse, error) {
	var info api.InfoResponse
	if err := c.do(ctx, http.MethodGet, api.BasePath+"/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// WaitForTask polls until the task reaches OK or ERROR
func (c *Client) WaitForTask(ctx context.Context, id string, interval time.Duration) (*api.TaskResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if task.Result.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach agent: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// task routes answer with the task state code, so any task body is a success
	var task struct {
		ID string `json:"id"`
	}
	if resp.StatusCode >= 400 && (json.Unmarshal(data, &task) != nil || task.ID == "") {
		var apiErr api.ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message, Errors: apiErr.Errors}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
