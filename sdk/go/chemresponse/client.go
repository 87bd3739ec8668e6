// Package chemresponse 是 ChemResponse Chain REST 接口的 Go 客户端。
package chemresponse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout 为未指定 http.Client 时的请求超时。
const DefaultHTTPTimeout = 15 * time.Second

// 运行状态，与服务端保持一致。
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
)

// Client 封装对 /api/v1 的调用。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Submission 为提交运行的请求体。
type Submission struct {
	ID           string         `json:"id,omitempty"`
	Input        string         `json:"input"`
	NumResponses int            `json:"num_responses,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Result 为运行完成后的摘要。
type Result struct {
	CompletedStages int             `json:"completed_stages"`
	FallbackStages  []string        `json:"fallback_stages,omitempty"`
	MissingInput    []string        `json:"missing_input,omitempty"`
	Location        string          `json:"location,omitempty"`
	Report          json.RawMessage `json:"report,omitempty"`
	DurationMS      int64           `json:"duration_ms"`
}

// Run 描述服务端的一次运行。
type Run struct {
	ID           string         `json:"id"`
	Input        string         `json:"input"`
	NumResponses int            `json:"num_responses,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       string         `json:"status"`
	Attempts     int            `json:"attempts"`
	MaxRetries   int            `json:"max_retries"`
	LastError    string         `json:"last_error,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	Result       *Result        `json:"result,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
}

// Terminal 表示运行不会再变化。
func (r Run) Terminal() bool {
	switch r.Status {
	case StatusSucceeded, StatusDegraded, StatusFailed:
		return true
	}
	return false
}

// Stats 为运行的聚合统计。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Degraded        int   `json:"degraded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// InputCheck 为事故描述的要素检查结果。
type InputCheck struct {
	Missing  []string `json:"missing"`
	Complete bool     `json:"complete"`
}

// ListOptions 对应列表与统计接口的查询参数，零值表示不过滤。
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Since     time.Time
	Until     time.Time
	Query     string
	Ascending bool
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(o.Statuses) > 0 {
		v.Set("status", strings.Join(o.Statuses, ","))
	}
	if !o.Since.IsZero() {
		v.Set("since", strconv.FormatInt(o.Since.Unix(), 10))
	}
	if !o.Until.IsZero() {
		v.Set("until", strconv.FormatInt(o.Until.Unix(), 10))
	}
	if o.Query != "" {
		v.Set("q", o.Query)
	}
	if o.Ascending {
		v.Set("order", "asc")
	}
	return v
}

// APIError 为服务端返回的错误。
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chemresponse api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chemresponse api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient 创建客户端；httpClient 为空时使用带超时的默认客户端。
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken 设置 Bearer 令牌，为空时不发送 Authorization。
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken 返回当前令牌。
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// Submit 提交一次运行，立即返回排队中的记录。
func (c *Client) Submit(ctx context.Context, submission Submission) (*Run, error) {
	if submission.Input == "" {
		return nil, errors.New("chemresponse: input is required")
	}
	var run Run
	if err := c.post(ctx, "/api/v1/runs", nil, submission, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SubmitAndWait 提交运行并让服务端最多等待 wait，超时时返回当时的状态。
func (c *Client) SubmitAndWait(ctx context.Context, submission Submission, wait time.Duration) (*Run, error) {
	if submission.Input == "" {
		return nil, errors.New("chemresponse: input is required")
	}
	query := url.Values{"wait": {wait.String()}}
	var run Run
	if err := c.post(ctx, "/api/v1/runs", query, submission, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Get 查询运行。
func (c *Client) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Report 返回运行产出的预案文档原文。
func (c *Client) Report(ctx context.Context, id string) (json.RawMessage, error) {
	var doc json.RawMessage
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/report", nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// List 列出运行。
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	var runs []Run
	if err := c.get(ctx, "/api/v1/runs", opts.values(), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Stats 返回符合过滤条件的统计。
func (c *Client) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/runs/stats", opts.values(), &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// CheckInput 检查事故描述缺少哪些要素。
func (c *Client) CheckInput(ctx context.Context, input string) (InputCheck, error) {
	var check InputCheck
	if err := c.post(ctx, "/api/v1/check-input", nil, map[string]string{"input": input}, &check); err != nil {
		return InputCheck{}, err
	}
	return check, nil
}

// WaitForRun 轮询直到运行进入终态或 ctx 结束。
func (c *Client) WaitForRun(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
