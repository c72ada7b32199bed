package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"tryon/internal/http/handlers"
	"tryon/internal/infra"
	"tryon/internal/middleware"
)

// Options carries the router's cross-cutting settings.
type Options struct {
	Logger            *infra.Logger
	CORSOrigins       []string
	RateLimitPerMin   int
	BasicAuthUser     string
	BasicAuthPassword string
	Gatherer          prometheus.Gatherer
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		middleware.RequestID,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/health", app.Health)
	r.Get("/api/status", app.Status)
	r.Get("/openapi.json", app.OpenAPIJSON)
	r.Get("/docs", app.OpenAPIDocs)
	r.Method(http.MethodGet, "/metrics", handlers.Metrics(opts.Gatherer))

	r.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth("tryon", opts.BasicAuthUser, opts.BasicAuthPassword))
		r.Get("/test-auth", app.TestAuth)
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/process", app.Process)
	})

	return r
}
