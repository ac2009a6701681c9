// README: Rider-location handlers: pushes, reads, routes, delivery confirmation.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"greenmile/internal/http/middleware"
	"greenmile/internal/modules/tracking"
	"greenmile/internal/modules/trip"
	"greenmile/internal/types"
)

type TrackingHandler struct {
	tracking *tracking.Service
	trips    *trip.Service
}

func NewTrackingHandler(trackingSvc *tracking.Service, tripSvc *trip.Service) *TrackingHandler {
	return &TrackingHandler{tracking: trackingSvc, trips: tripSvc}
}

type pushLocationReq struct {
	TripID  string   `json:"trip_id"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Heading *float64 `json:"heading"`
	Speed   *float64 `json:"speed"`
}

// PushLocation ingests a rider GPS tick. Coordinate ranges are deliberately
// not validated; the rider client is the trust boundary.
func (h *TrackingHandler) PushLocation(c *gin.Context) {
	if middleware.CallerRole(c) != "rider" {
		writeError(c, http.StatusForbidden, "forbidden: rider role required")
		return
	}
	var req pushLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TripID == "" || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "trip_id, lat, and lng are required")
		return
	}
	err := h.tracking.RecordLocation(c.Request.Context(), tracking.RecordCommand{
		TripID:  types.ID(req.TripID),
		RiderID: types.ID(middleware.CallerUID(c)),
		Lat:     *req.Lat,
		Lng:     *req.Lng,
		Heading: req.Heading,
		Speed:   req.Speed,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"received": true})
}

// TripLocation returns the last known location to the trip's rider.
func (h *TrackingHandler) TripLocation(c *gin.Context) {
	tripID := c.Param("tripId")
	if tripID == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	loc, err := h.tracking.LocationForTrip(c.Request.Context(), types.ID(tripID), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"location": loc})
}

// ProgressByOrder returns the tracking view for the order's customer.
func (h *TrackingHandler) ProgressByOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	if orderID == "" {
		writeError(c, http.StatusBadRequest, "missing order id")
		return
	}
	p, err := h.tracking.ProgressForOrder(c.Request.Context(), types.ID(orderID), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

// RouteByOrder returns the cached-or-fresh route, or null when there is no
// route to show. Provider trouble is not an error here.
func (h *TrackingHandler) RouteByOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	if orderID == "" {
		writeError(c, http.StatusBadRequest, "missing order id")
		return
	}
	route, err := h.tracking.RouteForOrder(c.Request.Context(), types.ID(orderID), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"route": route})
}

type deliverReq struct {
	CollectedAmount *int64 `json:"collected_amount"`
	CODNote         string `json:"cod_note"`
}

// Deliver marks one stop delivered; the last stop completes the trip.
func (h *TrackingHandler) Deliver(c *gin.Context) {
	if middleware.CallerRole(c) != "rider" {
		writeError(c, http.StatusForbidden, "forbidden: rider role required")
		return
	}
	tripID := c.Param("tripId")
	orderID := c.Param("orderId")
	if tripID == "" || orderID == "" {
		writeError(c, http.StatusBadRequest, "missing trip or order id")
		return
	}
	var req deliverReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	res, err := h.trips.MarkDelivered(c.Request.Context(), trip.DeliverCommand{
		TripID:          types.ID(tripID),
		OrderID:         types.ID(orderID),
		RiderID:         types.ID(middleware.CallerUID(c)),
		CollectedAmount: req.CollectedAmount,
		Note:            req.CODNote,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"all_delivered": res.AllDelivered})
}
