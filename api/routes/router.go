package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/rewardledger/api/controllers"
	"github.com/angelmondragon/rewardledger/api/middleware"
	"github.com/angelmondragon/rewardledger/pkg/config"
	"github.com/angelmondragon/rewardledger/pkg/logger"
)

// NewOpsRouter serves liveness, readiness and Prometheus metrics for the
// worker. gatherer defaults to the process registry.
func NewOpsRouter(
	cfg *config.Config,
	logg *logger.Logger,
	gatherer prometheus.Gatherer,
	checks ...controllers.Check,
) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.With(middleware.Logging(logg)).Get("/ready", controllers.HealthReady(cfg, logg, checks...))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
