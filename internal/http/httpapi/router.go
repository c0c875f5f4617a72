package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"atelier/internal/http/handlers"
	"atelier/internal/middleware"
)

// Options tunes the router's middleware chain.
type Options struct {
	Logger          zerolog.Logger
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/edits", app.SubmitEdit)
	r.Route("/v1/items", func(r chi.Router) {
		r.Get("/", app.ListItems)
		r.Get("/{id}", app.ItemStatus)
		r.Post("/{id}/cancel", app.ItemCancel)
		r.Delete("/{id}", app.ItemDelete)
	})

	r.Route("/v1/credits", func(r chi.Router) {
		r.Get("/", app.CreditBalance)
		r.Get("/ledger", app.CreditLedger)
	})

	r.Route("/v1/agent/runs", func(r chi.Router) {
		r.Post("/", app.RunStart)
		r.Get("/{id}", app.RunStatus)
		r.Post("/{id}/cancel", app.RunCancel)
		r.Post("/{id}/resume", app.RunResume)
	})

	return r
}
