package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tryon/internal/domain"
	"tryon/internal/infra"
	"tryon/internal/tryon"
)

// TryOnService is the core operation the web layer depends on.
type TryOnService interface {
	ProcessTryOn(ctx context.Context, person, garment domain.Upload) tryon.Outcome
}

// ProviderProbe reports reachability of one configured provider.
type ProviderProbe interface {
	Name() string
	Role() domain.Role
	Ping(ctx context.Context) error
}

// Limits are echoed by the status endpoint.
type Limits struct {
	ImageMaxBytes  int           `json:"image_max_bytes"`
	UploadMaxBytes int64         `json:"upload_max_bytes"`
	PollInterval   time.Duration `json:"-"`
	PollTimeout    time.Duration `json:"-"`
	MaxAttempts    int           `json:"poll_max_attempts"`
}

type App struct {
	TryOn     TryOnService
	Providers []ProviderProbe
	Logger    *infra.Logger
	Version   string
	Limits    Limits
	// PingTimeout bounds each provider probe of the status endpoint.
	PingTimeout time.Duration

	docs apiDocument
}

func NewApp(svc TryOnService, providers []ProviderProbe, logger *infra.Logger, limits Limits) *App {
	if limits.UploadMaxBytes <= 0 {
		limits.UploadMaxBytes = 30 << 20
	}
	return &App{
		TryOn:       svc,
		Providers:   providers,
		Logger:      infra.LoggerOrDiscard(logger),
		Version:     "1.0.0",
		Limits:      limits,
		PingTimeout: 5 * time.Second,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{
		"success":    false,
		"error":      message,
		"error_kind": kind,
	})
}
