package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failed response is read for the fault message.
const maxErrorBody = 64 << 10

// ProcessRequest is the body of POST /process on the worker.
type ProcessRequest struct {
	FilePath string                 `json:"file_path"`
	TaskType string                 `json:"task_type"`
	Params   map[string]interface{} `json:"params"`
}

// Client 调用外部音频处理 Worker，每次调用只发出一个请求，不重试
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a worker client for baseURL (e.g. http://localhost:8000).
// Every call is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// BaseURL returns the configured worker address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit asks the worker to run taskType on filePath and returns its JSON
// response verbatim. taskType defaults to "trim".
func (c *Client) Submit(ctx context.Context, filePath, taskType string, params map[string]interface{}) (json.RawMessage, error) {
	if taskType == "" {
		taskType = "trim"
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	body, err := json.Marshal(ProcessRequest{FilePath: filePath, TaskType: taskType, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, processingFault(resp.StatusCode, faultDetail(data, resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		// 连接在读取响应体时中断或超时
		return nil, unavailable(err)
	}
	if !json.Valid(data) {
		return nil, processingFault(resp.StatusCode, "worker returned a non-JSON body")
	}
	return json.RawMessage(data), nil
}

// Health calls GET /health on the worker.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode != http.StatusOK {
		return nil, processingFault(resp.StatusCode, faultDetail(data, resp.Status))
	}

	var status map[string]interface{}
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, processingFault(resp.StatusCode, "worker returned a non-JSON health body")
	}
	return status, nil
}

// faultDetail extracts the worker's message from {"detail"}, {"error"} or {"message"}.
func faultDetail(body []byte, fallback string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if v, ok := payload[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
				if b, err := json.Marshal(v); err == nil {
					return string(b)
				}
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fallback
}
