package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListStations handles GET /v1/stations
func (h *Handlers) ListStations(c *gin.Context) {
	stations, err := h.Dispatch.Stations(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stations)
}

// GetStation handles GET /v1/stations/:id
func (h *Handlers) GetStation(c *gin.Context) {
	st, err := h.Dispatch.Station(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
