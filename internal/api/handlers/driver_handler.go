package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
)

// GetAssignedRide handles GET /v1/drivers/:id/assigned-ride
func (h *Handlers) GetAssignedRide(c *gin.Context) {
	a, err := h.Dispatch.AssignedRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if a == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, dto.AssignedRideResponse{RideRequest: a.Ride, Station: a.Station})
}

// GetDriverLocation handles GET /v1/drivers/:id/location
func (h *Handlers) GetDriverLocation(c *gin.Context) {
	loc := h.Dispatch.DriverLocation(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, dto.DriverLocationResponse{
		DriverID: loc.DriverID,
		X:        loc.Point.X,
		Y:        loc.Point.Y,
		Status:   loc.Status,
		Source:   loc.Source,
	})
}

// UpdateDriverLocation handles POST /v1/drivers/location
func (h *Handlers) UpdateDriverLocation(c *gin.Context) {
	var req dto.UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	status, err := driver.ParseStatus(req.Status)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	h.Dispatch.ReportLocation(c.Request.Context(), req.DriverID, *req.X, *req.Y, status)
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Location updated"})
}

// GetActiveDrivers handles GET /v1/drivers/active
func (h *Handlers) GetActiveDrivers(c *gin.Context) {
	drivers := h.Dispatch.ActiveDrivers()
	c.JSON(http.StatusOK, dto.ActiveDriversResponse{Drivers: drivers, Count: len(drivers)})
}
