package handlers

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/websocket"
)

// DriverStream handles GET /v1/ws/drivers/:id
//
// Every frame replaces the driver's presence. When the stream ends the driver
// is marked offline, unless a newer stream for the same driver has opened.
func (h *Handlers) DriverStream(c *gin.Context) {
	driverID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Error("Failed to upgrade to WebSocket", logger.Err(err))
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	log := h.Logger.With(logger.String("driver_id", driverID))
	client := websocket.NewClient(conn, driverID, "driver", log)
	client.OnMessage = func(message []byte) {
		update, err := parseDriverMessage(message)
		if err != nil {
			log.Warn("Ignoring malformed driver message", logger.Err(err))
			return
		}
		h.Dispatch.ApplyDriverUpdate(ctx, driverID, update)
	}
	client.OnClose = func() {
		if !h.sessions.close(driverID, client.ID()) {
			log.Info("Replaced driver stream closed", logger.String("client_id", client.ID()))
			return
		}
		log.Info("Driver disconnected")
		h.Dispatch.DriverDisconnected(ctx, driverID)
	}

	h.sessions.open(driverID, client.ID())
	log.Info("Driver connected")
	go client.WritePump()
	go client.ReadPump()
}

// RiderStream handles GET /v1/ws/riders
//
// The stream is receive-only; inbound frames are discarded. The current view is
// sent on join and after every presence change.
func (h *Handlers) RiderStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Error("Failed to upgrade to WebSocket", logger.Err(err))
		return
	}

	client := websocket.NewClient(conn, c.Query("rider_id"), "rider", h.Logger)
	client.OnClose = func() {
		h.Hub.Leave(client)
	}

	go client.WritePump()
	h.Hub.Join(client)
	go client.ReadPump()
}

func parseDriverMessage(message []byte) (dispatch.Update, error) {
	var msg dto.DriverMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return dispatch.Update{}, err
	}
	if msg.X == nil || msg.Y == nil {
		return dispatch.Update{}, errMissingCoordinates
	}
	status, err := driver.ParseStatus(msg.Status)
	if err != nil {
		return dispatch.Update{}, err
	}
	return dispatch.Update{
		X:            *msg.X,
		Y:            *msg.Y,
		Status:       status,
		IdentityHint: msg.Hint(),
	}, nil
}
