// Package tryon orchestrates virtual try-on jobs across remote providers.
package tryon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tryon/internal/domain"
	"tryon/internal/infra"
)

const (
	DefaultPollInterval  = 15 * time.Second
	DefaultMaxAttempts   = 20
	DefaultPollTimeout   = 5 * time.Minute
	DefaultCheckAttempts = 2
	DefaultRetryBackoff  = time.Second
)

// Adapter is the provider-specific half of a remote job: it knows the wire
// format, the client owns polling policy.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, req domain.JobRequest, token domain.SignedToken) (string, error)
	CheckStatus(ctx context.Context, jobID string, token domain.SignedToken) (domain.StatusReport, error)
}

// Pinger is implemented by adapters that can report reachability.
type Pinger interface {
	Ping(ctx context.Context, token domain.SignedToken) error
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Adapter Adapter
	Tokens  TokenSource
	Role    domain.Role

	PollInterval time.Duration
	MaxAttempts  int
	Timeout      time.Duration
	// CheckAttempts is the number of tries a single status check gets on
	// transient failures before the poll gives up.
	CheckAttempts int
	RetryBackoff  time.Duration
	// RefreshMargin is the minimum validity a cached token must have left.
	RefreshMargin time.Duration

	Logger  *infra.Logger
	Metrics *infra.Metrics
	Clock   func() time.Time
}

// Client runs the submit and poll lifecycle of jobs against one provider.
type Client struct {
	adapter       Adapter
	tokens        *tokenCache
	role          domain.Role
	interval      time.Duration
	maxAttempts   int
	timeout       time.Duration
	checkAttempts int
	backoff       time.Duration
	logger        *infra.Logger
	metrics       *infra.Metrics
	now           func() time.Time
}

// NewClient validates opts and applies defaults.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Adapter == nil {
		return nil, errors.New("tryon: adapter is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("tryon: token source is required")
	}
	c := &Client{
		adapter:       opts.Adapter,
		role:          opts.Role,
		interval:      opts.PollInterval,
		maxAttempts:   opts.MaxAttempts,
		timeout:       opts.Timeout,
		checkAttempts: opts.CheckAttempts,
		backoff:       opts.RetryBackoff,
		logger:        infra.LoggerOrDiscard(opts.Logger),
		metrics:       opts.Metrics,
		now:           opts.Clock,
	}
	if c.role == "" {
		c.role = domain.RolePrimary
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.timeout <= 0 {
		c.timeout = DefaultPollTimeout
	}
	if c.checkAttempts <= 0 {
		c.checkAttempts = DefaultCheckAttempts
	}
	if c.backoff < 0 {
		c.backoff = 0
	} else if c.backoff == 0 {
		c.backoff = DefaultRetryBackoff
	}
	if c.now == nil {
		c.now = time.Now
	}
	margin := opts.RefreshMargin
	if margin <= 0 {
		margin = c.interval + 30*time.Second
	}
	c.tokens = newTokenCache(opts.Tokens, margin, c.now)
	return c, nil
}

// Name is the provider name of the wrapped adapter.
func (c *Client) Name() string {
	return c.adapter.Name()
}

// Role reports the fallback slot this client was configured for.
func (c *Client) Role() domain.Role {
	return c.role
}

// Submit sends req once. A rejected token is re-signed and the submission
// retried exactly once; other failures are returned as is so a job is never
// created twice.
func (c *Client) Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return domain.JobHandle{}, err
	}
	jobID, err := c.adapter.Submit(ctx, req, token)
	if errors.Is(err, domain.ErrAuthentication) {
		c.logger.Warn().Str("provider", c.Name()).Err(err).Msg("tryon: token rejected on submit, re-signing")
		if token, err = c.tokens.Refresh(token); err != nil {
			return domain.JobHandle{}, err
		}
		jobID, err = c.adapter.Submit(ctx, req, token)
	}
	if err != nil {
		c.metrics.ProviderAttempt(c.Name(), "submit_failed")
		return domain.JobHandle{}, err
	}
	handle := domain.JobHandle{
		JobID:       jobID,
		SubmittedAt: c.now(),
		Provider:    c.Name(),
		Role:        c.role,
	}
	c.logger.Info().
		Str("provider", handle.Provider).
		Str("role", string(handle.Role)).
		Str("job_id", handle.JobID).
		Msg("tryon: job submitted")
	return handle, nil
}

// Poll waits for handle to reach a terminal state. Checks are strictly
// sequential, spaced by the poll interval, and stop at the first terminal
// status. The loop is bounded by both the attempt count and the timeout;
// whichever is hit first yields ErrJobTimeout. Cancelling ctx abandons the
// loop immediately with ctx's error.
func (c *Client) Poll(ctx context.Context, handle domain.JobHandle) (domain.JobResult, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	state := domain.JobStatusSubmitted
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-pollCtx.Done():
			return domain.JobResult{}, c.pollAbort(ctx, handle, attempt-1)
		case <-timer.C:
		}

		report, err := c.check(pollCtx, handle)
		if err != nil {
			if pollCtx.Err() != nil {
				return domain.JobResult{}, c.pollAbort(ctx, handle, attempt)
			}
			return domain.JobResult{}, err
		}
		reported := report.Status
		if reported == domain.JobStatusSucceeded && report.ResultReference == "" {
			reported = domain.JobStatusFailed
			if report.Reason == "" {
				report.Reason = "succeeded without a result reference"
			}
		}
		state = state.Advance(reported)
		c.metrics.PollCheck(handle.Provider, string(state))
		c.logger.Debug().
			Str("provider", handle.Provider).
			Str("job_id", handle.JobID).
			Int("attempt", attempt).
			Str("status", string(state)).
			Msg("tryon: status checked")

		if state.Terminal() {
			result := domain.JobResult{Handle: handle, Status: state, Checks: attempt}
			if state == domain.JobStatusSucceeded {
				result.ResultReference = report.ResultReference
			} else {
				result.Reason = report.Reason
			}
			c.logger.Info().
				Str("provider", handle.Provider).
				Str("job_id", handle.JobID).
				Str("status", string(state)).
				Int("checks", attempt).
				Msg("tryon: job finished")
			return result, nil
		}
		timer.Reset(c.interval)
	}
	return domain.JobResult{}, c.timeoutError(handle, c.maxAttempts, "attempt budget exhausted")
}

// Run submits req and polls it to completion. A job that fails remotely is
// reported as a rejection so the caller can fall back.
func (c *Client) Run(ctx context.Context, req domain.JobRequest) (domain.JobResult, error) {
	handle, err := c.Submit(ctx, req)
	if err != nil {
		return domain.JobResult{}, err
	}
	result, err := c.Poll(ctx, handle)
	if err != nil {
		c.metrics.ProviderAttempt(c.Name(), "poll_failed")
		return domain.JobResult{}, err
	}
	if result.Status == domain.JobStatusFailed {
		c.metrics.ProviderAttempt(c.Name(), "job_failed")
		return result, &domain.ProviderError{
			Provider: c.Name(),
			Kind:     domain.ErrProviderRejected,
			Code:     "job_failed",
			Message:  result.Reason,
		}
	}
	c.metrics.ProviderAttempt(c.Name(), "succeeded")
	return result, nil
}

// Ping checks provider reachability when the adapter supports it.
func (c *Client) Ping(ctx context.Context) error {
	pinger, ok := c.adapter.(Pinger)
	if !ok {
		return nil
	}
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}
	return pinger.Ping(ctx, token)
}

// check performs one logical status check with its own small retry budget.
func (c *Client) check(ctx context.Context, handle domain.JobHandle) (domain.StatusReport, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return domain.StatusReport{}, err
	}
	resigned := false
	var lastErr error
	for try := 1; try <= c.checkAttempts; try++ {
		report, err := c.adapter.CheckStatus(ctx, handle.JobID, token)
		if err == nil {
			return report, nil
		}
		if ctx.Err() != nil {
			return domain.StatusReport{}, ctx.Err()
		}
		switch {
		case errors.Is(err, domain.ErrAuthentication):
			if resigned {
				return domain.StatusReport{}, err
			}
			resigned = true
			c.logger.Warn().Str("provider", handle.Provider).Str("job_id", handle.JobID).Err(err).Msg("tryon: token rejected on status check, re-signing")
			if token, err = c.tokens.Refresh(token); err != nil {
				return domain.StatusReport{}, err
			}
			try--
			continue
		case errors.Is(err, domain.ErrProviderRejected):
			return domain.StatusReport{}, err
		case !errors.Is(err, domain.ErrProviderUnavailable):
			err = &domain.ProviderError{Provider: handle.Provider, Kind: domain.ErrProviderUnavailable, Err: err}
		}
		lastErr = err
		c.logger.Debug().
			Str("provider", handle.Provider).
			Str("job_id", handle.JobID).
			Int("try", try).
			Err(err).
			Msg("tryon: transient status check failure")
		if try < c.checkAttempts {
			if err := sleep(ctx, c.backoff); err != nil {
				return domain.StatusReport{}, err
			}
		}
	}
	return domain.StatusReport{}, lastErr
}

// pollAbort distinguishes caller cancellation from the poll deadline.
func (c *Client) pollAbort(parent context.Context, handle domain.JobHandle, checks int) error {
	if err := parent.Err(); err != nil {
		c.logger.Info().Str("provider", handle.Provider).Str("job_id", handle.JobID).Msg("tryon: poll abandoned by caller")
		return err
	}
	return c.timeoutError(handle, checks, fmt.Sprintf("no terminal status within %s", c.timeout))
}

func (c *Client) timeoutError(handle domain.JobHandle, checks int, reason string) error {
	c.logger.Warn().
		Str("provider", handle.Provider).
		Str("job_id", handle.JobID).
		Int("checks", checks).
		Msg("tryon: job timed out")
	return &domain.ProviderError{
		Provider: handle.Provider,
		Kind:     domain.ErrJobTimeout,
		Code:     "poll_timeout",
		Message:  fmt.Sprintf("job %s: %s after %d checks", handle.JobID, reason, checks),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
