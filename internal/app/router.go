package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/periodic-erp/periodic/internal/auth"
	decisionhttp "github.com/periodic-erp/periodic/internal/decision/http"
	periodhttp "github.com/periodic-erp/periodic/internal/period/http"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Auth            *auth.Middleware
	PeriodHandler   *periodhttp.Handler
	DecisionHandler *decisionhttp.Handler
}

// NewRouter builds the chi router with the full middleware chain.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: p.Logger, Config: p.Config}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(p.Auth.Authenticate)
		p.PeriodHandler.Routes(r)
		p.DecisionHandler.Routes(r)
	})

	return r
}
