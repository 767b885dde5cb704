package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joaquinreyes/atelier-backend/api/controllers"
	"github.com/joaquinreyes/atelier-backend/api/middleware"
	"github.com/joaquinreyes/atelier-backend/internal/engine"
	"github.com/joaquinreyes/atelier-backend/pkg/config"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

// NewRouter wires the sync API. deps holds the readiness pingers for the
// selected record-store backend; gatherer feeds the metrics endpoint and may
// be nil.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	manager *engine.Manager,
	deps map[string]controllers.Pinger,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(manager, logg))
			r.Delete("/", controllers.CartClear(manager, logg))
			r.Post("/items", controllers.CartAddItem(manager, logg))
			r.Put("/items/{productID}", controllers.CartSetQuantity(manager, logg))
			r.Delete("/items/{productID}", controllers.CartRemoveItem(manager, logg))
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", controllers.WishlistFetch(manager, logg))
			r.Delete("/", controllers.WishlistClear(manager, logg))
			r.Post("/{productID}/toggle", controllers.WishlistToggle(manager, logg))
		})

		r.Delete("/session", controllers.SessionDetach(manager, logg))
	})

	return r
}
