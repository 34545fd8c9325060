package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/handlers"
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/station"
	"github.com/gocomet/ride-dispatch/internal/repository/memory"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	"github.com/gocomet/ride-dispatch/internal/service/lifecycle"
	"github.com/gocomet/ride-dispatch/internal/service/matching"
	"github.com/gocomet/ride-dispatch/internal/service/observer"
	"github.com/gocomet/ride-dispatch/internal/service/presence"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router   *gin.Engine
	handlers *handlers.Handlers
	registry *presence.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	store := memory.NewStore()
	store.PutStation(station.Station{ID: "S", Name: "Central", X: 3, Y: 4})

	registry := presence.NewRegistry(log)
	hub := observer.NewHub(registry, log)
	registry.SetBroadcaster(hub)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	trips := lifecycle.NewService(store.Trips(), registry, nil, log)
	svc := dispatch.NewService(dispatch.Config{
		Registry: registry,
		Matcher:  matching.NewService(store.Rides(), store.Stations(), registry, nil, log),
		Trips:    trips,
		Rides:    store.Rides(),
		Stations: store.Stations(),
		Mirror:   memory.NewLocationStore(),
		Logger:   log,
	})

	h := handlers.NewHandlers(svc, trips, hub, log, handlers.WebSocketConfig{ReadBufferSize: 1024, WriteBufferSize: 1024})
	r := gin.New()
	SetupRoutes(r, h, nil)
	return &testServer{router: r, handlers: h, registry: registry}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

// TestCreateRide_Errors tests request validation and error mapping
func TestCreateRide_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{name: "missing station", body: gin.H{"rider_id": "R"}, wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
		{name: "unknown station", body: gin.H{"rider_id": "R", "station_id": "nope"}, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := s.do(t, http.MethodPost, "/v1/rides", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

// TestCreateRide_NoDrivers tests the structured outcome for an empty pool
func TestCreateRide_NoDrivers(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/v1/rides", gin.H{"rider_id": "R", "station_id": "S"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no_drivers", body["status"])
	assert.NotContains(t, body, "distance")
}

// TestRideFlow tests the request/response surface end to end
func TestRideFlow(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/v1/drivers/location", gin.H{"driver_id": "D1", "x": 0, "y": 0, "status": "available"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := s.do(t, http.MethodPost, "/v1/rides", gin.H{
		"rider_id": "R", "station_id": "S", "destination": "Harbour", "arrival_time": "10:00",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "matched", body["status"])
	assert.Equal(t, "D1", body["driver_id"])
	assert.Equal(t, 5.0, body["distance"])
	rideID, _ := body["ride_id"].(string)
	require.NotEmpty(t, rideID)
	assert.NotEmpty(t, body["trip_id"])

	_, body = s.do(t, http.MethodPost, "/v1/rides", gin.H{"rider_id": "R", "station_id": "S"})
	assert.Equal(t, "already_matched", body["status"])
	assert.Equal(t, rideID, body["ride_id"])

	w, body = s.do(t, http.MethodGet, "/v1/drivers/D1/assigned-ride", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rideID, body["id"])
	assert.Equal(t, "Central", body["stations"].(map[string]interface{})["name"])

	w, body = s.do(t, http.MethodPost, "/v1/rides/"+rideID+"/complete", gin.H{"driver_id": "D2", "final_x": 5, "final_y": 5})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", body["code"])

	w, _ = s.do(t, http.MethodPost, "/v1/rides/"+rideID+"/complete", gin.H{"driver_id": "D1", "final_x": 5, "final_y": 5})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = s.do(t, http.MethodPost, "/v1/rides/"+rideID+"/complete", gin.H{"driver_id": "D1", "final_x": 5, "final_y": 5})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", body["code"])

	_, body = s.do(t, http.MethodGet, "/v1/drivers/D1/location", nil)
	assert.Equal(t, 5.0, body["x_coordinate"])
	assert.Equal(t, 5.0, body["y_coordinate"])
	assert.Equal(t, "available", body["status"])

	w, _ = s.do(t, http.MethodGet, "/v1/drivers/D1/assigned-ride", nil)
	assert.Equal(t, "null", strings.TrimSpace(w.Body.String()))

	_, body = s.do(t, http.MethodGet, "/v1/rides/"+rideID, nil)
	assert.Equal(t, "completed", body["status"])
}

// TestDriverLocation_Fallback tests the fixed fallback coordinate
func TestDriverLocation_Fallback(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/v1/drivers/ghost/location", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10.0, body["x_coordinate"])
	assert.Equal(t, 10.0, body["y_coordinate"])
	assert.Equal(t, "fallback", body["source"])
}

// TestTrips tests lifecycle endpoints and transition errors
func TestTrips(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/v1/trips/missing/start", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	s.do(t, http.MethodPost, "/v1/drivers/location", gin.H{"driver_id": "D1", "x": 3, "y": 4, "status": "available"})
	_, body = s.do(t, http.MethodPost, "/v1/rides", gin.H{"rider_id": "R", "station_id": "S"})
	tripID := body["trip_id"].(string)
	rideID := body["ride_id"].(string)

	w, body = s.do(t, http.MethodPost, "/v1/trips", gin.H{"ride_request_id": rideID, "driver_id": "D1", "rider_id": "R"})
	assert.Equal(t, http.StatusConflict, w.Code, "a ride has one unfinished trip")
	assert.Equal(t, "CONFLICT", body["code"])

	w, _ = s.do(t, http.MethodPost, "/v1/trips", gin.H{"ride_request_id": rideID, "driver_id": "D2", "rider_id": "R"})
	assert.Equal(t, http.StatusConflict, w.Code)

	_, body = s.do(t, http.MethodGet, "/v1/trips/current/D1", nil)
	assert.Equal(t, tripID, body["trip"].(map[string]interface{})["id"])

	w, body = s.do(t, http.MethodPost, "/v1/trips/"+tripID+"/complete", gin.H{"final_x": 1, "final_y": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", body["code"])

	w, body = s.do(t, http.MethodPost, "/v1/trips/"+tripID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", body["trip"].(map[string]interface{})["status"])

	w, _ = s.do(t, http.MethodPost, "/v1/trips/"+tripID+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = s.do(t, http.MethodPost, "/v1/trips/"+tripID+"/complete", gin.H{"final_x": 1, "final_y": 2})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["trip"].(map[string]interface{})["status"])

	p, _ := s.registry.Get("D1")
	assert.Equal(t, 2.0, p.Y)

	w, _ = s.do(t, http.MethodGet, "/v1/trips/current/D1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestStations tests the read-only reference endpoints
func TestStations(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/v1/stations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 3.0, list[0]["x_coordinate"])

	w, _ = s.do(t, http.MethodGet, "/v1/stations/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestHealthAndMetrics tests operational endpoints
func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	s.handlers.Checks["postgres"] = func(context.Context) error { return errors.New("connection refused") }
	w, body = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])

	s.do(t, http.MethodPost, "/v1/drivers/location", gin.H{"driver_id": "D1", "x": 0, "y": 0, "status": "available"})
	w, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dispatch_drivers_visible")
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// readUntil reads observer frames until check passes or the deadline hits
func readUntil(t *testing.T, conn *gorilla.Conn, check func(map[string]map[string]interface{}) bool) map[string]map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err, "no matching frame before deadline")
		var frame map[string]map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &frame))
		if check(frame) {
			return frame
		}
	}
}

// TestStreams tests driver updates reaching observers over websockets
func TestStreams(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	rider, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, "/v1/ws/riders"), nil)
	require.NoError(t, err)
	defer rider.Close()
	readUntil(t, rider, func(f map[string]map[string]interface{}) bool { return len(f) == 0 })

	drv, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, "/v1/ws/drivers/D1"), nil)
	require.NoError(t, err)

	require.NoError(t, drv.WriteMessage(gorilla.TextMessage, []byte(`not json`)))
	require.NoError(t, drv.WriteJSON(gin.H{"x": 0, "y": 0, "status": "available", "email": "dana@example.com"}))

	frame := readUntil(t, rider, func(f map[string]map[string]interface{}) bool { return f["D1"] != nil })
	assert.Equal(t, "dana", frame["D1"]["display_name"])
	assert.Equal(t, "available", frame["D1"]["status"])

	w, body := s.do(t, http.MethodPost, "/v1/rides", gin.H{"rider_id": "R", "station_id": "S"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "matched", body["status"])

	readUntil(t, rider, func(f map[string]map[string]interface{}) bool {
		return f["D1"] != nil && f["D1"]["status"] == "busy"
	})

	require.NoError(t, drv.Close())
	readUntil(t, rider, func(f map[string]map[string]interface{}) bool { return f["D1"] == nil })

	p, ok := s.registry.Get("D1")
	require.True(t, ok)
	assert.Equal(t, "offline", string(p.Status))
}

// TestStreams_ReconnectKeepsDriverOnline tests that closing a replaced driver
// stream does not mark the driver offline
func TestStreams_ReconnectKeepsDriverOnline(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	rider, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, "/v1/ws/riders"), nil)
	require.NoError(t, err)
	defer rider.Close()

	old, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, "/v1/ws/drivers/D1"), nil)
	require.NoError(t, err)
	require.NoError(t, old.WriteJSON(gin.H{"x": 1, "y": 0, "status": "available"}))
	readUntil(t, rider, func(f map[string]map[string]interface{}) bool {
		return f["D1"] != nil && f["D1"]["x"] == 1.0
	})

	fresh, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, "/v1/ws/drivers/D1"), nil)
	require.NoError(t, err)
	require.NoError(t, fresh.WriteJSON(gin.H{"x": 2, "y": 0, "status": "available"}))
	readUntil(t, rider, func(f map[string]map[string]interface{}) bool {
		return f["D1"] != nil && f["D1"]["x"] == 2.0
	})

	require.NoError(t, old.Close())
	assert.Never(t, func() bool {
		p, _ := s.registry.Get("D1")
		return p.Status == driver.StatusOffline
	}, 300*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, fresh.Close())
	readUntil(t, rider, func(f map[string]map[string]interface{}) bool { return f["D1"] == nil })
}
