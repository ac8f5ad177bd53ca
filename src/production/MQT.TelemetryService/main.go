package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/controllers"
	jwt "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/implementation/jwt"
	authMiddleware "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/middleware"
	container "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Container"
	fanout "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Fanout"
	mqtingestor "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Ingestor"
	realtime "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Realtime"
	registry "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Registry"
	telemetry "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Telemetry"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}

	logger := ctr.GetLogger()
	config := ctr.GetConfig()
	m := ctr.GetMetrics()
	logger.Info("Starting Telemetry Service")

	// Initialize store
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ctr.InitializeStore(initCtx); err != nil {
		initCancel()
		logger.FatalWithError(err, "Failed to initialize store")
	}
	initCancel()

	deviceRepo, telemetryRepo := ctr.Repositories()
	devices := registry.NewRegistry(deviceRepo, logger, m)
	store := telemetry.NewStore(deviceRepo, telemetryRepo, logger, config.Ingest.RecentLimit)

	// Fan-out: local router, optionally relayed across instances through Redis
	router := fanout.NewRouter(logger, m)
	var publisher fanout.Publisher = router

	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	if client := ctr.GetRedis(); client != nil {
		relay := fanout.NewRedisRelay(client, config.Redis.Channel, router, logger)
		publisher = relay
		go func() {
			if err := relay.Run(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorWithError(err, "Redis relay stopped")
			}
		}()
	}

	pipeline, err := mqtingestor.NewPipeline(devices, store, publisher, m, logger, mqtingestor.PipelineOptions{
		UIDPattern:   config.Ingest.UIDPattern,
		DedupWindow:  config.Ingest.DedupWindow,
		StoreTimeout: config.Ingest.StoreTimeout,
	})
	if err != nil {
		logger.FatalWithError(err, "Failed to build ingestion pipeline")
	}

	// Start MQTT ingestion
	dispatcher := mqtingestor.NewDispatcher(pipeline.Handle, config.Ingest.Lanes, config.Ingest.LaneBuffer, logger)
	ing := mqtingestor.New(config.MQTT, dispatcher, logger)
	if err := ing.Start(context.Background()); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT ingestor")
	}

	ctr.GetHealthChecker().AddCheck("mqtt", func(context.Context) error {
		if !ing.IsConnected() {
			return errors.New("broker disconnected")
		}
		return nil
	})

	// Optional bearer-token auth for the REST API
	var jwtService *jwt.Service
	if config.Auth.Enabled() {
		jwtService = jwt.NewService(jwt.Config{
			SecretKey: config.Auth.JWTSecretKey,
			Issuer:    config.Auth.JWTIssuer,
		})
	}
	authMiddlewareInstance := authMiddleware.NewAuthMiddleware(jwtService, authMiddleware.DefaultConfig())

	// Initialize Gin router
	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	engine.Use(cors.New(corsConfig))

	gateway := realtime.NewGateway(router, config.Realtime, config.CORS.AllowedOrigins, logger, m)
	engine.GET("/ws", gateway.HandleWS)

	// Create controllers and register routes
	deviceController := controllers.NewDeviceController(devices, store, config.Ingest.RecentLimit, logger, authMiddlewareInstance)
	telemetryController := controllers.NewTelemetryController(pipeline, logger, authMiddlewareInstance)
	healthController := controllers.NewHealthController(ctr.GetHealthChecker(), m.Handler())

	deviceController.RegisterRoutes(engine)
	telemetryController.RegisterRoutes(engine)
	healthController.RegisterRoutes(engine)

	// Get port from configuration
	port := config.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      engine,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("Telemetry service running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop intake first so in-flight messages drain into a live store and router
	ing.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
	gateway.Close()
	relayCancel()

	if err := ctr.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Container shutdown failed")
	}
}
