// Package kling talks to the Kling virtual try-on REST API.
package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tryon/internal/domain"
	"tryon/internal/infra"
)

const (
	DefaultBaseURL = "https://api-singapore.klingai.com"
	DefaultModel   = "kolors-virtual-try-on-v1-5"
	tryOnPath      = "/v1/images/kolors-virtual-try-on"
	maxErrorBody   = 512
)

// Options configures the Kling try-on client.
type Options struct {
	Name           string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits try-on tasks and reads their status.
type Client struct {
	name       string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type submitRequest struct {
	ModelName  string `json:"model_name"`
	HumanImage string `json:"human_image"`
	ClothImage string `json:"cloth_image"`
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type taskData struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
	TaskResult    struct {
		Images []struct {
			Index int    `json:"index"`
			URL   string `json:"url"`
		} `json:"images"`
	} `json:"task_result"`
}

// NewClient applies defaults to opts.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "kling"
	}
	return &Client{
		name:       name,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
}

// Name identifies the provider in errors, logs and metrics.
func (c *Client) Name() string {
	return c.name
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Submit creates a try-on task and returns its task id. Extra request
// parameters are merged into the body without overriding the image fields.
func (c *Client) Submit(ctx context.Context, req domain.JobRequest, token domain.SignedToken) (string, error) {
	model := strings.TrimSpace(req.ModelID)
	if model == "" {
		model = c.model
	}
	body, err := encodeSubmit(submitRequest{
		ModelName:  model,
		HumanImage: req.PersonImage.Encoded,
		ClothImage: req.GarmentImage.Encoded,
	}, req.Parameters)
	if err != nil {
		return "", fmt.Errorf("kling: encode request: %w", err)
	}

	var data taskData
	if err := c.do(ctx, http.MethodPost, c.baseURL+tryOnPath, body, token, &data); err != nil {
		return "", err
	}
	taskID := strings.TrimSpace(data.TaskID)
	if taskID == "" {
		return "", &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Message: "response carried no task id"}
	}
	c.logger.Debug().
		Str("provider", c.name).
		Str("job_id", taskID).
		Str("model", model).
		Msg("kling: task submitted")
	return taskID, nil
}

// CheckStatus reads the task once.
func (c *Client) CheckStatus(ctx context.Context, jobID string, token domain.SignedToken) (domain.StatusReport, error) {
	endpoint := c.baseURL + tryOnPath + "/" + url.PathEscape(jobID)
	var data taskData
	if err := c.do(ctx, http.MethodGet, endpoint, nil, token, &data); err != nil {
		return domain.StatusReport{}, err
	}
	report := domain.StatusReport{
		Status: domain.ParseJobStatus(data.TaskStatus),
		Reason: strings.TrimSpace(data.TaskStatusMsg),
	}
	if report.Status == domain.JobStatusSucceeded {
		for _, img := range data.TaskResult.Images {
			if u := strings.TrimSpace(img.URL); u != "" {
				report.ResultReference = u
				break
			}
		}
		if report.ResultReference == "" {
			report.Status = domain.JobStatusFailed
			report.Reason = "no images in successful result"
		}
	}
	return report, nil
}

// Ping checks that the API answers below the 5xx range.
func (c *Client) Ping(ctx context.Context, token domain.SignedToken) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tryOnPath, nil)
	if err != nil {
		return fmt.Errorf("kling: build request: %w", err)
	}
	if token.Value != "" {
		req.Header.Set("Authorization", "Bearer "+token.Value)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 500 {
		return &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, token domain.SignedToken, out *taskData) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("kling: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.Value)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode, Err: err}
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		return &domain.ProviderError{
			Provider: c.name,
			Kind:     domain.ErrProviderUnavailable,
			Status:   resp.StatusCode,
			Message:  "html error page returned",
		}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 300 {
		pe := &domain.ProviderError{
			Provider: c.name,
			Kind:     kindForStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			Message:  truncate(strings.TrimSpace(string(raw))),
		}
		if decodeErr == nil && env.Code != 0 {
			if kind := kindForCode(env.Code); kind != nil && resp.StatusCode != http.StatusUnauthorized {
				pe.Kind = kind
			}
			pe.Code = strconv.Itoa(env.Code)
			pe.Message = env.Message
		}
		return pe
	}
	if decodeErr != nil {
		return &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode, Message: "malformed response", Err: decodeErr}
	}
	if env.Code != 0 {
		kind := kindForCode(env.Code)
		if kind == nil {
			kind = domain.ErrProviderRejected
		}
		return &domain.ProviderError{
			Provider: c.name,
			Kind:     kind,
			Status:   resp.StatusCode,
			Code:     strconv.Itoa(env.Code),
			Message:  env.Message,
		}
	}
	if len(env.Data) == 0 {
		return &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode, Message: "response carried no data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode, Message: "malformed task data", Err: err}
	}
	return nil
}

// encodeSubmit merges params into the request body. The fixed fields win.
func encodeSubmit(base submitRequest, params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return json.Marshal(base)
	}
	merged := make(map[string]any, len(params)+3)
	for k, v := range params {
		merged[k] = v
	}
	merged["model_name"] = base.ModelName
	merged["human_image"] = base.HumanImage
	merged["cloth_image"] = base.ClothImage
	return json.Marshal(merged)
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return domain.ErrAuthentication
	case status == http.StatusTooManyRequests, status >= 500:
		return domain.ErrProviderUnavailable
	default:
		return domain.ErrProviderRejected
	}
}

// kindForCode maps Kling business codes. Nil means the code is unknown.
func kindForCode(code int) error {
	switch {
	case code >= 1000 && code <= 1004:
		return domain.ErrAuthentication
	case code == 1302, code == 1303:
		return domain.ErrProviderUnavailable
	case code >= 1100 && code <= 1103,
		code >= 1200 && code <= 1203,
		code >= 1300 && code <= 1304:
		return domain.ErrProviderRejected
	case code >= 5000 && code <= 5002:
		return domain.ErrProviderUnavailable
	default:
		return nil
	}
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody]
}
