package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
)

// CreateTrip handles POST /v1/trips
func (h *Handlers) CreateTrip(c *gin.Context) {
	var req dto.CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	t, err := h.Trips.Create(c.Request.Context(), req.RideRequestID, req.DriverID, req.RiderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.TripResponse{Trip: t})
}

// StartTrip handles POST /v1/trips/:id/start
func (h *Handlers) StartTrip(c *gin.Context) {
	t, err := h.Trips.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TripResponse{Trip: t})
}

// CompleteTrip handles POST /v1/trips/:id/complete
func (h *Handlers) CompleteTrip(c *gin.Context) {
	var req dto.CompleteTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	t, err := h.Trips.Complete(c.Request.Context(), c.Param("id"), *req.FinalX, *req.FinalY)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TripResponse{Trip: t})
}

// GetCurrentTrip handles GET /v1/trips/current/:driver_id
func (h *Handlers) GetCurrentTrip(c *gin.Context) {
	t, err := h.Trips.CurrentFor(c.Request.Context(), c.Param("driver_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TripResponse{Trip: t})
}

// GetTrip handles GET /v1/trips/:id
func (h *Handlers) GetTrip(c *gin.Context) {
	t, err := h.Trips.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TripResponse{Trip: t})
}
