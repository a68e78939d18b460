package router

import (
	"net/http"

	"gpuindex/app/handler"
	"gpuindex/app/middleware"
	"gpuindex/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	priceHandler   *handler.PriceHandler
	catalogHandler *handler.CatalogHandler
	opsHandler     *handler.OpsHandler
	eventsHandler  *handler.EventsHandler
	healthHandler  *handler.HealthHandler
	apiKey         string
}

// NewRouter creates a new Router. eventsHandler may be nil when no hub runs in this process.
func NewRouter(priceHandler *handler.PriceHandler, catalogHandler *handler.CatalogHandler, opsHandler *handler.OpsHandler, eventsHandler *handler.EventsHandler, apiKey string) *Router {
	return &Router{
		priceHandler:   priceHandler,
		catalogHandler: catalogHandler,
		opsHandler:     opsHandler,
		eventsHandler:  eventsHandler,
		apiKey:         apiKey,
	}
}

// WithHealth replaces the static health response with store checks
func (r *Router) WithHealth(h *handler.HealthHandler) *Router {
	r.healthHandler = h
	return r
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	api := engine.Group("/api/v1")
	{
		// Public read API
		api.GET("/compare/gpus/:gpu", r.priceHandler.CompareGPU)
		api.GET("/compare/providers/:a/:b", r.priceHandler.CompareProviders)
		api.GET("/history/:gpu", r.priceHandler.History)
		api.GET("/offers", r.priceHandler.Offers)
		api.GET("/providers", r.catalogHandler.ListProviders)
		api.GET("/gpus", r.catalogHandler.ListGPUs)

		// Operator API
		if r.opsHandler != nil {
			ops := api.Group("/ops")
			ops.Use(middleware.APIKey(r.apiKey))
			{
				ops.GET("/jobs", r.opsHandler.ListJobs)
				ops.GET("/anomalies", r.opsHandler.ListAnomalies)
				ops.POST("/reconcile", r.opsHandler.Reconcile)
				ops.POST("/providers/:slug/trigger", r.opsHandler.Trigger)
				ops.GET("/queues", r.opsHandler.Queues)
				ops.GET("/triggers", r.opsHandler.Triggers)
				ops.POST("/rollup", r.opsHandler.Rollup)

				if r.eventsHandler != nil {
					ops.GET("/events", r.eventsHandler.Stream)
				}
			}
		}
	}

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	if r.healthHandler != nil {
		engine.GET("/health", r.healthHandler.Check)
		return
	}
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
