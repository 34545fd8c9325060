package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/station"
	"github.com/gocomet/ride-dispatch/internal/domain/trip"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	"github.com/gocomet/ride-dispatch/internal/service/lifecycle"
	"github.com/gocomet/ride-dispatch/internal/service/observer"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	gorilla "github.com/gorilla/websocket"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Handlers holds all handler dependencies
type Handlers struct {
	Dispatch *dispatch.Service
	Trips    *lifecycle.Service
	Hub      *observer.Hub
	Logger   *logger.Logger
	Checks   map[string]HealthCheck

	upgrader gorilla.Upgrader
	sessions *driverSessions
}

// WebSocketConfig sizes the upgrader buffers
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
}

// NewHandlers creates a new Handlers instance
func NewHandlers(d *dispatch.Service, trips *lifecycle.Service, hub *observer.Hub, log *logger.Logger, ws WebSocketConfig) *Handlers {
	return &Handlers{
		Dispatch: d,
		Trips:    trips,
		Hub:      hub,
		Logger:   log,
		Checks:   make(map[string]HealthCheck),
		sessions: newDriverSessions(),
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  ws.ReadBufferSize,
			WriteBufferSize: ws.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := gin.H{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	body := gin.H{
		"status":     "healthy",
		"observers":  h.Hub.ActiveObservers(),
		"components": components,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// respondError maps domain errors onto the AppError taxonomy and writes them
func (h *Handlers) respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.Logger.Error("Request failed",
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
	}
	c.JSON(appErr.Status, dto.ErrorResponse{Code: appErr.Code, Message: appErr.Message})
}

func respondBadRequest(c *gin.Context, err error) {
	appErr := apperrors.BadRequest("Invalid request payload", err)
	c.JSON(appErr.Status, dto.ErrorResponse{Code: appErr.Code, Message: appErr.Message, Details: err.Error()})
}

func toAppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, station.ErrStationNotFound):
		return apperrors.ErrStationNotFound
	case errors.Is(err, ride.ErrRideNotFound):
		return apperrors.ErrRideNotFound
	case errors.Is(err, trip.ErrTripNotFound):
		return apperrors.ErrTripNotFound
	case errors.Is(err, trip.ErrInvalidTransition), errors.Is(err, ride.ErrInvalidStatus):
		return apperrors.ErrInvalidTransition
	case errors.Is(err, trip.ErrRideNotAssignable):
		return apperrors.ErrRideNotAssignable
	case errors.Is(err, trip.ErrTripExists):
		return apperrors.ErrTripExists
	}
	return apperrors.GetAppError(err)
}

var errMissingCoordinates = errors.New("x and y are required")
