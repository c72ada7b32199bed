package tryon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"tryon/internal/domain"
	"tryon/internal/infra"
)

// ImagePreparer validates and encodes an upload.
type ImagePreparer interface {
	Prepare(raw []byte, declaredMIME string) (domain.PreparedImage, error)
}

// JobRunner runs one full submit and poll cycle against a provider.
type JobRunner interface {
	Name() string
	Run(ctx context.Context, req domain.JobRequest) (domain.JobResult, error)
}

// ResultFetcher turns a result reference into a Deliverable.
type ResultFetcher interface {
	Fetch(ctx context.Context, ref string) (domain.Deliverable, error)
}

// CoordinatorOptions wires a Coordinator. Secondary is optional.
type CoordinatorOptions struct {
	Preparer   ImagePreparer
	Primary    JobRunner
	Secondary  JobRunner
	Fetcher    ResultFetcher
	ModelID    string
	Parameters map[string]any
	Logger     *infra.Logger
	Metrics    *infra.Metrics
}

// Coordinator applies the single-fallback policy: the primary provider is
// tried first and the secondary at most once, only after a provider-class
// failure. It holds no per-request state.
type Coordinator struct {
	preparer   ImagePreparer
	primary    JobRunner
	secondary  JobRunner
	fetcher    ResultFetcher
	modelID    string
	parameters map[string]any
	logger     *infra.Logger
	metrics    *infra.Metrics
}

func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	switch {
	case opts.Preparer == nil:
		return nil, errors.New("tryon: preparer is required")
	case opts.Primary == nil:
		return nil, errors.New("tryon: primary provider is required")
	case opts.Fetcher == nil:
		return nil, errors.New("tryon: fetcher is required")
	}
	params := make(map[string]any, len(opts.Parameters))
	for k, v := range opts.Parameters {
		params[k] = v
	}
	return &Coordinator{
		preparer:   opts.Preparer,
		primary:    opts.Primary,
		secondary:  opts.Secondary,
		fetcher:    opts.Fetcher,
		modelID:    opts.ModelID,
		parameters: params,
		logger:     infra.LoggerOrDiscard(opts.Logger),
		metrics:    opts.Metrics,
	}, nil
}

// Providers lists the configured providers in fallback order.
func (c *Coordinator) Providers() []JobRunner {
	if c.secondary == nil {
		return []JobRunner{c.primary}
	}
	return []JobRunner{c.primary, c.secondary}
}

// Process prepares both images once and runs them through the primary
// provider, falling back to the secondary once on a provider-class failure.
// Image errors are returned before any provider is contacted.
func (c *Coordinator) Process(ctx context.Context, person, garment domain.Upload) (domain.Deliverable, error) {
	req, err := c.prepare(ctx, person, garment)
	if err != nil {
		return domain.Deliverable{}, err
	}

	deliverable, primaryErr := c.attempt(ctx, c.primary, req)
	if primaryErr == nil {
		return deliverable, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Deliverable{}, ctxErr
	}
	if c.secondary == nil || !domain.IsProviderFailure(primaryErr) {
		return domain.Deliverable{}, primaryErr
	}

	c.metrics.Fallback()
	c.logger.Warn().
		Str("primary", c.primary.Name()).
		Str("secondary", c.secondary.Name()).
		Err(primaryErr).
		Msg("tryon: primary provider failed, falling back")

	deliverable, secondaryErr := c.attempt(ctx, c.secondary, req)
	if secondaryErr == nil {
		return deliverable, nil
	}
	if !domain.IsProviderFailure(secondaryErr) {
		return domain.Deliverable{}, secondaryErr
	}
	return domain.Deliverable{}, &domain.ExhaustedError{Primary: primaryErr, Secondary: secondaryErr}
}

func (c *Coordinator) prepare(ctx context.Context, person, garment domain.Upload) (domain.JobRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.JobRequest{}, err
	}
	req := domain.JobRequest{ModelID: c.modelID, Parameters: c.parameters}
	var g errgroup.Group
	g.Go(func() error {
		img, err := c.preparer.Prepare(person.Data, person.MIMEType)
		if err != nil {
			return fmt.Errorf("person image: %w", err)
		}
		req.PersonImage = img
		return nil
	})
	g.Go(func() error {
		img, err := c.preparer.Prepare(garment.Data, garment.MIMEType)
		if err != nil {
			return fmt.Errorf("garment image: %w", err)
		}
		req.GarmentImage = img
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.JobRequest{}, err
	}
	return req, nil
}

func (c *Coordinator) attempt(ctx context.Context, runner JobRunner, req domain.JobRequest) (domain.Deliverable, error) {
	result, err := runner.Run(ctx, req)
	if err != nil {
		return domain.Deliverable{}, err
	}
	deliverable, err := c.fetcher.Fetch(ctx, result.ResultReference)
	if err != nil {
		c.logger.Error().
			Str("provider", runner.Name()).
			Str("job_id", result.Handle.JobID).
			Err(err).
			Msg("tryon: result fetch failed")
		return domain.Deliverable{}, err
	}
	deliverable.Provider = runner.Name()
	deliverable.JobID = result.Handle.JobID
	return deliverable, nil
}

// Outcome is the caller-facing result of ProcessTryOn.
type Outcome struct {
	Success      bool
	Deliverable  domain.Deliverable
	ErrorMessage string
	ErrorKind    domain.ErrorClass
	Err          error
}

// ProcessTryOn runs Process and folds the result into an Outcome. It never
// returns a partial deliverable alongside a failure.
func (c *Coordinator) ProcessTryOn(ctx context.Context, person, garment domain.Upload) Outcome {
	started := time.Now()
	deliverable, err := c.Process(ctx, person, garment)
	if err != nil {
		kind := domain.Classify(err)
		c.metrics.ObserveRequest(string(kind), time.Since(started))
		c.logger.Error().Str("error_kind", string(kind)).Err(err).Msg("tryon: request failed")
		return Outcome{ErrorMessage: err.Error(), ErrorKind: kind, Err: err}
	}
	c.metrics.ObserveRequest("success", time.Since(started))
	c.logger.Info().
		Str("provider", deliverable.Provider).
		Str("job_id", deliverable.JobID).
		Dur("elapsed", time.Since(started)).
		Msg("tryon: request succeeded")
	return Outcome{Success: true, Deliverable: deliverable}
}
