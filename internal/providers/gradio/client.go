// Package gradio drives a try-on model hosted as a Gradio space through the
// event based /call API.
package gradio

import (
	"bufio"
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

	"github.com/google/uuid"

	"tryon/internal/domain"
	"tryon/internal/infra"
)

const (
	DefaultSpaceURL     = "https://kwai-kolors-kolors-virtual-try-on.hf.space"
	DefaultAPIName      = "tryon"
	DefaultStatusWindow = 10 * time.Second
	DefaultTimeout      = 60 * time.Second
	maxEventLine        = 32 << 20
)

// Options configures a Gradio client.
type Options struct {
	Name         string
	SpaceURL     string
	APIName      string
	HTTPClient   *http.Client
	Logger       *infra.Logger
	StatusWindow time.Duration
	// RequestTimeout bounds Submit and Ping. Status streams use StatusWindow.
	RequestTimeout time.Duration
	// SessionHash pins the Gradio session. A random one is generated when empty.
	SessionHash string
}

// Client implements the submit / check-status contract on top of a space.
type Client struct {
	name         string
	spaceURL     string
	apiName      string
	httpClient   *http.Client
	logger       *infra.Logger
	statusWindow time.Duration
	timeout      time.Duration
	sessionHash  string
}

type fileData struct {
	URL  string   `json:"url"`
	Meta fileMeta `json:"meta"`
}

type fileMeta struct {
	Type string `json:"_type"`
}

type callRequest struct {
	Data        []any  `json:"data"`
	SessionHash string `json:"session_hash,omitempty"`
}

type callResponse struct {
	EventID string `json:"event_id"`
}

type outputFile struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// NewClient applies defaults to opts.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// no client timeout: each call carries its own deadline
		httpClient = &http.Client{}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	spaceURL := strings.TrimRight(strings.TrimSpace(opts.SpaceURL), "/")
	if spaceURL == "" {
		spaceURL = DefaultSpaceURL
	}
	apiName := strings.Trim(strings.TrimSpace(opts.APIName), "/")
	if apiName == "" {
		apiName = DefaultAPIName
	}
	window := opts.StatusWindow
	if window <= 0 {
		window = DefaultStatusWindow
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "gradio"
	}
	session := strings.TrimSpace(opts.SessionHash)
	if session == "" {
		session = uuid.NewString()
	}
	return &Client{
		name:         name,
		spaceURL:     spaceURL,
		apiName:      apiName,
		httpClient:   httpClient,
		logger:       infra.LoggerOrDiscard(opts.Logger),
		statusWindow: window,
		timeout:      timeout,
		sessionHash:  session,
	}
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) callURL() string {
	return c.spaceURL + "/gradio_api/call/" + c.apiName
}

// Submit queues a prediction and returns its event id.
func (c *Client) Submit(ctx context.Context, req domain.JobRequest, token domain.SignedToken) (string, error) {
	seed, randomize := seedParams(req.Parameters)
	payload := callRequest{
		Data: []any{
			fileData{URL: req.PersonImage.DataURL(), Meta: fileMeta{Type: "gradio.FileData"}},
			fileData{URL: req.GarmentImage.DataURL(), Meta: fileMeta{Type: "gradio.FileData"}},
			seed,
			randomize,
		},
		SessionHash: c.sessionHash,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gradio: encode request: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.callURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gradio: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuth(httpReq, token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 300 {
		return "", c.statusError(resp.StatusCode, raw)
	}
	var decoded callResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || strings.TrimSpace(decoded.EventID) == "" {
		return "", &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode, Message: "response carried no event id", Err: err}
	}
	c.logger.Debug().
		Str("provider", c.name).
		Str("job_id", decoded.EventID).
		Msg("gradio: prediction queued")
	return decoded.EventID, nil
}

// CheckStatus reads the event stream for at most the status window. A stream
// that yields no terminal event within the window reports Processing.
func (c *Client) CheckStatus(ctx context.Context, jobID string, token domain.SignedToken) (domain.StatusReport, error) {
	windowCtx, cancel := context.WithTimeout(ctx, c.statusWindow)
	defer cancel()

	endpoint := c.callURL() + "/" + url.PathEscape(jobID)
	httpReq, err := http.NewRequestWithContext(windowCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("gradio: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	setAuth(httpReq, token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil && errors.Is(windowCtx.Err(), context.DeadlineExceeded) {
			return domain.StatusReport{Status: domain.JobStatusProcessing}, nil
		}
		return domain.StatusReport{}, c.transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.StatusReport{}, c.statusError(resp.StatusCode, raw)
	}

	report, err := c.readEvents(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.StatusReport{}, ctxErr
		}
		if windowCtx.Err() != nil {
			return domain.StatusReport{Status: domain.JobStatusProcessing}, nil
		}
		return domain.StatusReport{}, &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Message: "event stream interrupted", Err: err}
	}
	return report, nil
}

// Ping fetches the space config.
func (c *Client) Ping(ctx context.Context, token domain.SignedToken) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.spaceURL+"/config", nil)
	if err != nil {
		return fmt.Errorf("gradio: build request: %w", err)
	}
	setAuth(httpReq, token)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 500 {
		return &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) readEvents(body io.Reader) (domain.StatusReport, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	var event string
	var data strings.Builder
	flush := func() (domain.StatusReport, bool) {
		defer func() {
			event = ""
			data.Reset()
		}()
		switch event {
		case "complete":
			ref := c.resultReference(data.String())
			if ref == "" {
				return domain.StatusReport{Status: domain.JobStatusFailed, Reason: "no file in completed prediction"}, true
			}
			return domain.StatusReport{Status: domain.JobStatusSucceeded, ResultReference: ref}, true
		case "error":
			reason := strings.TrimSpace(data.String())
			if reason == "" || reason == "null" {
				reason = "prediction failed"
			}
			return domain.StatusReport{Status: domain.JobStatusFailed, Reason: reason}, true
		default:
			return domain.StatusReport{}, false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if report, done := flush(); done {
				return report, nil
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.StatusReport{}, err
	}
	if report, done := flush(); done {
		return report, nil
	}
	return domain.StatusReport{Status: domain.JobStatusProcessing}, nil
}

// resultReference picks the first output file of a completed prediction.
func (c *Client) resultReference(payload string) string {
	var outputs []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &outputs); err != nil {
		return ""
	}
	for _, raw := range outputs {
		var file outputFile
		if err := json.Unmarshal(raw, &file); err == nil {
			if u := strings.TrimSpace(file.URL); u != "" {
				return u
			}
			if p := strings.TrimSpace(file.Path); p != "" {
				return c.spaceURL + "/gradio_api/file=" + p
			}
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) {
			return s
		}
	}
	return ""
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &domain.ProviderError{Provider: c.name, Kind: domain.ErrProviderUnavailable, Err: err}
}

func (c *Client) statusError(status int, raw []byte) error {
	kind := domain.ErrProviderRejected
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = domain.ErrAuthentication
	case status == http.StatusTooManyRequests, status >= 500:
		kind = domain.ErrProviderUnavailable
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &domain.ProviderError{Provider: c.name, Kind: kind, Status: status, Message: msg}
}

func setAuth(req *http.Request, token domain.SignedToken) {
	if token.Value != "" {
		req.Header.Set("Authorization", "Bearer "+token.Value)
	}
}

func seedParams(params map[string]any) (int, bool) {
	seed, randomize := 0, true
	switch v := params["seed"].(type) {
	case int:
		seed, randomize = v, false
	case float64:
		seed, randomize = int(v), false
	}
	if v, ok := params["randomize_seed"].(bool); ok {
		randomize = v
	}
	return seed, randomize
}
