// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"greenmile/internal/http/handlers"
	"greenmile/internal/http/middleware"
	"greenmile/internal/infra"
	"greenmile/internal/modules/tracking"
	"greenmile/internal/modules/trip"
)

func NewRouter(
	verifier infra.TokenVerifier,
	trackingSvc *tracking.Service,
	tripSvc *trip.Service,
) http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	h := handlers.NewTrackingHandler(trackingSvc, tripSvc)

	api := r.Group("/api", middleware.Auth(verifier))
	api.POST("/rider-location", h.PushLocation)
	api.GET("/rider-location/by-order/:orderId", h.ProgressByOrder)
	api.GET("/rider-location/route/by-order/:orderId", h.RouteByOrder)
	api.GET("/rider-location/:tripId", h.TripLocation)
	api.PATCH("/rider-location/trips/:tripId/deliver/:orderId", h.Deliver)

	return r
}
