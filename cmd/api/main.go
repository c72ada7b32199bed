package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tryon/internal/bootstrap"
	"tryon/internal/http/handlers"
	httpapi "tryon/internal/http/httpapi"
	"tryon/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireBasicAuth(); err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := infra.NewMetrics(registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	svc, err := bootstrap.Build(cfg, &logger, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure try-on service")
	}
	probes := make([]handlers.ProviderProbe, 0, len(svc.Clients))
	for _, c := range svc.Clients {
		probes = append(probes, c)
	}

	app := handlers.NewApp(svc.Coordinator, probes, &logger, handlers.Limits{
		ImageMaxBytes:  cfg.ImageMaxBytes,
		UploadMaxBytes: cfg.UploadMaxBytes,
		PollInterval:   cfg.Poll.Interval,
		PollTimeout:    cfg.Poll.Timeout,
		MaxAttempts:    cfg.Poll.MaxAttempts,
	})

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:            &logger,
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitPerMin:   cfg.RateLimitPerMin,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		Gatherer:          registry,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// in-flight requests may be mid-poll, give them the full fallback budget
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestBudget())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
