package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/handlers"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, nrApp *newrelic.Application) {
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		ws := v1.Group("/ws")
		{
			ws.GET("/drivers/:id", h.DriverStream)
			ws.GET("/riders", h.RiderStream)
		}

		rides := v1.Group("/rides")
		{
			rides.POST("", h.CreateRide)
			rides.GET("/:id", h.GetRide)
			rides.POST("/:id/complete", h.CompleteRide)
		}

		drivers := v1.Group("/drivers")
		{
			drivers.GET("/active", h.GetActiveDrivers)
			drivers.POST("/location", h.UpdateDriverLocation)
			drivers.GET("/:id/location", h.GetDriverLocation)
			drivers.GET("/:id/assigned-ride", h.GetAssignedRide)
		}

		trips := v1.Group("/trips")
		{
			trips.POST("", h.CreateTrip)
			trips.GET("/current/:driver_id", h.GetCurrentTrip)
			trips.GET("/:id", h.GetTrip)
			trips.POST("/:id/start", h.StartTrip)
			trips.POST("/:id/complete", h.CompleteTrip)
		}

		stations := v1.Group("/stations")
		{
			stations.GET("", h.ListStations)
			stations.GET("/:id", h.GetStation)
		}
	}
}
