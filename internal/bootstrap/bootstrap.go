// Package bootstrap assembles the try-on service from configuration.
package bootstrap

import (
	"errors"
	"fmt"

	"tryon/internal/domain"
	"tryon/internal/imageprep"
	"tryon/internal/infra"
	"tryon/internal/providers/gradio"
	"tryon/internal/providers/kling"
	"tryon/internal/tryon"
)

// Service bundles the coordinator with the provider clients behind it.
type Service struct {
	Coordinator *tryon.Coordinator
	// Clients lists the provider clients in fallback order.
	Clients []*tryon.Client
}

// Build wires the primary Kling client, the configured secondary, the image
// preparer and the result fetcher into a Coordinator. Metrics may be nil.
func Build(cfg *infra.Config, logger *infra.Logger, metrics *infra.Metrics) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	logger = infra.LoggerOrDiscard(logger)

	primary, err := klingClient(cfg, "kling", cfg.Kling, domain.RolePrimary, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: primary: %w", err)
	}
	clients := []*tryon.Client{primary}

	var secondary *tryon.Client
	switch cfg.Secondary {
	case infra.SecondaryGradio:
		adapter := gradio.NewClient(gradio.Options{
			SpaceURL:       cfg.Gradio.SpaceURL,
			APIName:        cfg.Gradio.APIName,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         logger,
		})
		secondary, err = tryon.NewClient(pollOptions(cfg, adapter, gradio.StaticToken{Value: cfg.Gradio.Token}, domain.RoleSecondary, logger, metrics))
	case infra.SecondaryKling:
		secondary, err = klingClient(cfg, "kling-secondary", cfg.KlingSecondary, domain.RoleSecondary, logger, metrics)
	case infra.SecondaryNone, "":
	default:
		err = fmt.Errorf("unknown secondary provider %q", cfg.Secondary)
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: secondary: %w", err)
	}

	coordOpts := tryon.CoordinatorOptions{
		Preparer: imageprep.NewPreparer(imageprep.Options{
			MaxBytes:     cfg.ImageMaxBytes,
			MaxReencodes: cfg.ImageReencodes,
			MaxPixels:    cfg.ImageMaxPixels,
			Logger:       logger,
		}),
		Primary: primary,
		Fetcher: tryon.NewFetcher(tryon.FetcherOptions{
			MaxBytes: cfg.ResultMaxBytes,
			Timeout:  cfg.RequestTimeout,
			Logger:   logger,
		}),
		Logger:  logger,
		Metrics: metrics,
	}
	if secondary != nil {
		coordOpts.Secondary = secondary
		clients = append(clients, secondary)
	}
	coordinator, err := tryon.NewCoordinator(coordOpts)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	logger.Info().
		Str("primary", primary.Name()).
		Str("secondary", cfg.Secondary).
		Dur("poll_interval", cfg.Poll.Interval).
		Int("poll_max_attempts", cfg.Poll.MaxAttempts).
		Msg("try-on service configured")

	return &Service{Coordinator: coordinator, Clients: clients}, nil
}

func klingClient(cfg *infra.Config, name string, kc infra.KlingConfig, role domain.Role, logger *infra.Logger, metrics *infra.Metrics) (*tryon.Client, error) {
	signer, err := kling.NewSigner(domain.Credential{AccessKeyID: kc.AccessKey, SecretKey: kc.SecretKey}, kc.TokenTTL)
	if err != nil {
		return nil, err
	}
	adapter := kling.NewClient(kling.Options{
		Name:           name,
		BaseURL:        kc.BaseURL,
		Model:          kc.Model,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	return tryon.NewClient(pollOptions(cfg, adapter, signer, role, logger, metrics))
}

func pollOptions(cfg *infra.Config, adapter tryon.Adapter, tokens tryon.TokenSource, role domain.Role, logger *infra.Logger, metrics *infra.Metrics) tryon.ClientOptions {
	return tryon.ClientOptions{
		Adapter:       adapter,
		Tokens:        tokens,
		Role:          role,
		PollInterval:  cfg.Poll.Interval,
		MaxAttempts:   cfg.Poll.MaxAttempts,
		Timeout:       cfg.Poll.Timeout,
		CheckAttempts: cfg.Poll.CheckAttempts,
		Logger:        logger,
		Metrics:       metrics,
	}
}
