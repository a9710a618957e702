package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"adstudio/internal/http/handlers"
	"adstudio/internal/infra"
	"adstudio/internal/metrics"
	"adstudio/internal/middleware"
)

// RouterOptions carries the cross-cutting settings for NewRouter.
type RouterOptions struct {
	Logger          infra.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
	MaxBodyBytes    int64
	Gatherer        prometheus.Gatherer
}

// NewRouter wires the middleware chain and routes onto a chi router.
func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Middleware dasar
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	// Health, metrics & docs
	r.Get("/healthz", app.Health)
	r.Get("/openapi.json", app.OpenAPIJSON)
	r.Get("/docs", app.OpenAPIDocs)
	if opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}

	// API publik: rate limit per IP dan batas ukuran body
	r.Route("/api", func(r chi.Router) {
		r.Use(
			middleware.RateLimit(opts.RateLimitPerMin, time.Minute),
			middleware.BodyLimit(opts.MaxBodyBytes),
		)
		r.Post("/process-image", app.ProcessImage)
	})

	return r
}
