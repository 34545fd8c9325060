package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/handlers"
	"github.com/gocomet/ride-dispatch/internal/api/routes"
	"github.com/gocomet/ride-dispatch/internal/config"
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/domain/station"
	"github.com/gocomet/ride-dispatch/internal/domain/trip"
	"github.com/gocomet/ride-dispatch/internal/events"
	"github.com/gocomet/ride-dispatch/internal/repository/memory"
	"github.com/gocomet/ride-dispatch/internal/repository/postgres"
	redisstore "github.com/gocomet/ride-dispatch/internal/repository/redis"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	"github.com/gocomet/ride-dispatch/internal/service/lifecycle"
	"github.com/gocomet/ride-dispatch/internal/service/matching"
	"github.com/gocomet/ride-dispatch/internal/service/observer"
	"github.com/gocomet/ride-dispatch/internal/service/presence"
	"github.com/gocomet/ride-dispatch/pkg/cache"
	"github.com/gocomet/ride-dispatch/pkg/database"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/monitoring"
	"github.com/redis/go-redis/v9"
)

// ledger bundles the record store behind the engine
type ledger struct {
	rides    ride.Repository
	trips    trip.Repository
	stations station.Repository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ride dispatch engine",
		logger.String("env", cfg.Server.Env),
		logger.String("port", cfg.Server.Port),
		logger.String("store", cfg.Store.Driver),
		logger.String("presence_mirror", cfg.Presence.Mirror),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nrApp, err := monitoring.New(monitoring.Config{
		LicenseKey: cfg.NewRelic.LicenseKey,
		AppName:    cfg.NewRelic.AppName,
		Enabled:    cfg.NewRelic.Enabled,
		LogLevel:   cfg.NewRelic.LogLevel,
	})
	if err != nil {
		appLogger.Warn("Failed to initialize New Relic", logger.Err(err))
		nrApp = monitoring.Disabled()
	} else if nrApp.IsEnabled() {
		appLogger.Info("New Relic APM initialized", logger.String("app_name", cfg.NewRelic.AppName))
	} else {
		appLogger.Info("New Relic APM disabled")
	}
	defer nrApp.Shutdown(10 * time.Second)

	checks := map[string]handlers.HealthCheck{}

	var db *sql.DB
	if cfg.Store.Driver == config.StorePostgres {
		db, err = database.NewPostgresDB(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.Name,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConnections,
			MaxIdle:     cfg.Database.MaxIdleConns,
			MaxLifetime: cfg.Database.MaxLifetime,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
		}
		defer db.Close()
		checks["postgres"] = db.PingContext
		appLogger.Info("Connected to PostgreSQL")

		if cfg.Store.Bootstrap {
			if err := postgres.EnsureSchema(ctx, db); err != nil {
				appLogger.Fatal("Failed to bootstrap schema", logger.Err(err))
			}
		}
	}

	var redisClient *redis.Client
	if cfg.Presence.Mirror == config.MirrorRedis {
		redisClient, err = cache.NewRedisClient(ctx, cache.Config{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			MaxRetries:  cfg.Redis.MaxRetries,
			PoolSize:    cfg.Redis.PoolSize,
			MinIdleConn: cfg.Redis.MinIdleConn,
			DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", logger.Err(err))
		}
		defer cache.Close(redisClient)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		appLogger.Info("Connected to Redis")
	}

	store := newLedger(db, appLogger)
	mirror := newMirror(cfg, db, redisClient)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, appLogger)
		appLogger.Info("Publishing dispatch events to Kafka",
			logger.Strings("brokers", cfg.Kafka.Brokers),
			logger.String("topic", cfg.Kafka.Topic),
		)
	}
	defer publisher.Close()

	registry := presence.NewRegistry(appLogger)
	hub := observer.NewHub(registry, appLogger)
	registry.SetBroadcaster(hub)
	go hub.Run(ctx)

	if cfg.Presence.StaleAfter > 0 {
		go registry.RunLivenessSweep(ctx, cfg.Presence.SweepInterval, cfg.Presence.StaleAfter)
		appLogger.Info("Liveness sweep enabled",
			logger.Duration("stale_after", cfg.Presence.StaleAfter),
			logger.Duration("interval", cfg.Presence.SweepInterval),
		)
	}

	go reportPoolStats(ctx, nrApp, db, redisClient)

	trips := lifecycle.NewService(store.trips, registry, publisher, appLogger, lifecycle.WithMonitor(nrApp))
	svc := dispatch.NewService(dispatch.Config{
		Registry:  registry,
		Matcher:   matching.NewService(store.rides, store.stations, registry, nrApp, appLogger),
		Trips:     trips,
		Rides:     store.rides,
		Stations:  store.stations,
		Mirror:    mirror,
		Publisher: publisher,
		Monitor:   nrApp,
		Logger:    appLogger,
	})

	h := handlers.NewHandlers(svc, trips, hub, appLogger, handlers.WebSocketConfig{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
	})
	h.Checks = checks

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	routes.SetupRoutes(router, h, nrApp.Application)

	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		appLogger.Info("Server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Err(err))
	}

	appLogger.Info("Server stopped gracefully")
}

func newLedger(db *sql.DB, log *logger.Logger) ledger {
	if db != nil {
		return ledger{
			rides:    postgres.NewRideRepository(db),
			trips:    postgres.NewTripRepository(db),
			stations: postgres.NewStationRepository(db),
		}
	}

	store := memory.NewStore()
	for _, st := range demoStations {
		store.PutStation(st)
	}
	log.Info("Using in-memory ledger", logger.Int("stations", len(demoStations)))
	return ledger{
		rides:    store.Rides(),
		trips:    store.Trips(),
		stations: store.Stations(),
	}
}

func newMirror(cfg *config.Config, db *sql.DB, client *redis.Client) driver.LocationStore {
	switch cfg.Presence.Mirror {
	case config.MirrorRedis:
		return redisstore.NewLocationStore(client, cfg.Presence.MirrorTTL)
	case config.MirrorPostgres:
		return postgres.NewLocationStore(db)
	}
	return nil
}

// reportPoolStats forwards connection pool statistics to New Relic every minute
func reportPoolStats(ctx context.Context, nr *monitoring.NewRelicApp, db *sql.DB, client *redis.Client) {
	if !nr.IsEnabled() {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if db != nil {
				nr.RecordDatabasePoolStats(database.PoolStats(db))
			}
			if client != nil {
				nr.RecordRedisPoolStats(cache.GetClientStats(client))
			}
		}
	}
}
