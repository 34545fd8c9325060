package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/service/matching"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

var outcomeMessages = map[matching.Status]string{
	matching.StatusMatched:        "Driver assigned",
	matching.StatusNoDrivers:      "No drivers available",
	matching.StatusAlreadyMatched: "Rider already has an active ride",
}

// CreateRide handles POST /v1/rides
func (h *Handlers) CreateRide(c *gin.Context) {
	var req dto.CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	h.Logger.Info("Ride request received",
		logger.String("rider_id", req.RiderID),
		logger.String("station_id", req.StationID),
	)

	result, err := h.Dispatch.RequestRide(c.Request.Context(), matching.Request{
		RiderID:     req.RiderID,
		StationID:   req.StationID,
		Destination: req.Destination,
		ArrivalTime: req.ArrivalTime,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := dto.RideOutcomeResponse{
		Status:  string(result.Status),
		Message: outcomeMessages[result.Status],
	}
	if result.Ride != nil {
		resp.RideID = result.Ride.ID
		if result.Ride.MatchedDriverID != nil {
			resp.DriverID = *result.Ride.MatchedDriverID
		}
	}
	if result.Trip != nil {
		resp.TripID = result.Trip.ID
	}
	if result.Status == matching.StatusMatched {
		distance := result.Distance
		resp.Distance = &distance
	}

	c.JSON(http.StatusOK, resp)
}

// GetRide handles GET /v1/rides/:id
func (h *Handlers) GetRide(c *gin.Context) {
	rr, err := h.Dispatch.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rr)
}

// CompleteRide handles POST /v1/rides/:id/complete
func (h *Handlers) CompleteRide(c *gin.Context) {
	var req dto.CompleteRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	rr, err := h.Dispatch.CompleteRide(c.Request.Context(), c.Param("id"), req.DriverID, *req.FinalX, *req.FinalY)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Ride completed", Data: rr})
}
