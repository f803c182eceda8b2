package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/tidwall/gjson"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// defaultRequestTimeout is used when NewClient is given no timeout.
	defaultRequestTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 8 * 1024 * 1024

	tasksPath  = "/api/tasks"
	healthPath = "/api/health"
)

// FailureKind classifies why a remote call failed.
type FailureKind int

const (
	// FailureUnreachable means no HTTP response was received.
	FailureUnreachable FailureKind = iota + 1
	// FailureRejected means the server answered with a non-2xx status.
	FailureRejected
	// FailureMalformed means a 2xx response body could not be decoded.
	FailureMalformed
)

func (k FailureKind) String() string {
	switch k {
	case FailureUnreachable:
		return "unreachable"
	case FailureRejected:
		return "rejected"
	case FailureMalformed:
		return "malformed"
	}

	return "unknown"
}

// RemoteError is the single failure type returned by Client. The engine
// treats every RemoteError the same way by default; Kind and Status are
// there for callers that want to tell them apart.
type RemoteError struct {
	Op     string
	Kind   FailureKind
	Status int
	Err    error
}

func (e *RemoteError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *RemoteError) Unwrap() error { return e.Err }

// AsRemoteError extracts a RemoteError from err's chain.
func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	ok := errors.As(err, &re)

	return re, ok
}

// IsRejected reports whether err is a RemoteError for a response with
// the given HTTP status.
func IsRejected(err error, status int) bool {
	re, ok := AsRemoteError(err)
	return ok && re.Kind == FailureRejected && re.Status == status
}

// Client talks to the task REST API. It implements Gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client for the given base URL. A
// non-positive timeout falls back to 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:       timeout,
			CheckRedirect: sameHostRedirectPolicy,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends a JSON request and decodes a 2xx response into result.
// Every failure comes back as a *RemoteError.
func (c *Client) do(ctx context.Context, op, method, path string, body, result any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshalling request body: %w", op, err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{
			Op:   op,
			Kind: FailureUnreachable,
			Err:  fmt.Errorf("%w: %s %s: %w", kerrors.ErrAPIRequest, method, path, err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return &RemoteError{
			Op:     op,
			Kind:   FailureUnreachable,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%w: reading response from %s: %w", kerrors.ErrAPIRequest, path, err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(respBody, "error").String()
		if msg == "" {
			msg = sanitizeResponseBody(respBody)
		}

		return &RemoteError{
			Op:     op,
			Kind:   FailureRejected,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%w: %s %s returned status %d: %s", kerrors.ErrAPIResponse, method, path, resp.StatusCode, msg),
		}
	}

	if result == nil {
		return nil
	}

	if !gjson.ValidBytes(respBody) {
		return &RemoteError{
			Op:     op,
			Kind:   FailureMalformed,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%w: %s %s returned invalid JSON: %s", kerrors.ErrAPIResponse, method, path, sanitizeResponseBody(respBody)),
		}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &RemoteError{
			Op:     op,
			Kind:   FailureMalformed,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%w: decoding response from %s: %w", kerrors.ErrAPIResponse, path, err),
		}
	}

	return nil
}

func taskPath(id string) string {
	return tasksPath + "/" + url.PathEscape(id)
}

// ListAll returns every task in the remote collection. Columns are
// passed through as-is; the engine enforces the column invariant.
func (c *Client) ListAll(ctx context.Context) ([]models.Task, error) {
	var resp []taskResponse
	if err := c.do(ctx, "list", http.MethodGet, tasksPath, nil, &resp); err != nil {
		return nil, err
	}

	tasks := make([]models.Task, 0, len(resp))
	for _, r := range resp {
		tasks = append(tasks, models.Task{
			ID:     r.ID,
			Title:  r.Title,
			Desc:   r.Desc,
			Column: models.Column(r.Column),
		})
	}

	return tasks, nil
}

// Create sends a new task. The server trusts the client-supplied ID.
func (c *Client) Create(ctx context.Context, task models.Task) error {
	req := createRequest{
		ID:     task.ID,
		Title:  task.Title,
		Desc:   task.Desc,
		Column: string(task.Column),
	}

	var resp taskResponse

	return c.do(ctx, "create", http.MethodPost, tasksPath, req, &resp)
}

// Update replaces the remote state of task id.
func (c *Client) Update(ctx context.Context, id string, task models.Task) error {
	req := updateRequest{
		Title:  task.Title,
		Desc:   task.Desc,
		Column: string(task.Column),
	}

	var resp taskResponse

	return c.do(ctx, "update", http.MethodPut, taskPath(id), req, &resp)
}

// Delete removes task id from the remote collection.
func (c *Client) Delete(ctx context.Context, id string) error {
	var resp okResponse
	return c.do(ctx, "delete", http.MethodDelete, taskPath(id), nil, &resp)
}

// Health checks that the API is reachable and reports ok.
func (c *Client) Health(ctx context.Context) error {
	var resp okResponse
	if err := c.do(ctx, "health", http.MethodGet, healthPath, nil, &resp); err != nil {
		return err
	}

	if !resp.OK {
		return &RemoteError{
			Op:   "health",
			Kind: FailureMalformed,
			Err:  fmt.Errorf("%w: health check did not report ok", kerrors.ErrAPIResponse),
		}
	}

	return nil
}
