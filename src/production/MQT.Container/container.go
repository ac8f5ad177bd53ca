package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.ApiService/health"
	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Metrics"
	implementation "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	devicesCollection   = "devices"
	telemetryCollection = "telemetries"
)

// Container manages dependencies and their lifecycle
type Container struct {
	config  *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	// Store backends, only the configured one is set
	db          *sql.DB
	mongoClient *mongo.Client
	redisClient *redis.Client

	deviceRepo    interfaces.DeviceRepository
	telemetryRepo interfaces.TelemetryRepository

	healthChecker *health.HealthChecker

	// Mutex for thread-safe access
	mu sync.RWMutex

	// Cleanup functions
	cleanupFuncs []func() error
}

// SimulatorContainer manages dependencies for the device simulator
type SimulatorContainer struct {
	config *config.SimulatorConfig
	logger *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer() (*Container, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return NewContainerWithConfig(cfg), nil
}

// NewContainerWithConfig builds a container around an already loaded configuration
func NewContainerWithConfig(cfg *config.Config) *Container {
	log := logger.NewLogger(&cfg.Logging)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Container{
		config:        cfg,
		logger:        log,
		metrics:       metrics.New(reg),
		healthChecker: health.NewHealthChecker(),
	}
}

// NewSimulatorContainer creates a new container for the device simulator
func NewSimulatorContainer() (*SimulatorContainer, error) {
	cfg, err := config.LoadSimulatorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load simulator configuration: %w", err)
	}

	return &SimulatorContainer{
		config: cfg,
		logger: logger.NewLogger(&cfg.Logging),
	}, nil
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetConfig returns the simulator configuration
func (c *SimulatorContainer) GetConfig() *config.SimulatorConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetLogger returns the logger
func (c *SimulatorContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics collectors
func (c *Container) GetMetrics() *metrics.Metrics {
	return c.metrics
}

// GetHealthChecker returns the health checker
func (c *Container) GetHealthChecker() *health.HealthChecker {
	return c.healthChecker
}

// InitializeStore connects the configured store backend and prepares its schema
func (c *Container) InitializeStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deviceRepo != nil {
		return nil
	}

	switch c.config.Database.Driver {
	case config.DriverPostgres:
		db, err := health.ConnectPostgresWithTimeout(c.config, 20*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.db = db
		if err := health.NewDatabaseManager(db).CreateTables(ctx); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
		c.deviceRepo = implementation.NewPostgresDeviceRepository(db)
		c.telemetryRepo = implementation.NewPostgresTelemetryRepository(db)

	case config.DriverMongo:
		client, err := health.ConnectMongoWithTimeout(c.config)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.mongoClient = client
		database := client.Database(c.config.Database.MongoDB)

		devices := implementation.NewMongoDeviceRepository(database.Collection(devicesCollection))
		if err := devices.EnsureIndexes(ctx); err != nil {
			return err
		}
		readings := implementation.NewMongoTelemetryRepository(database.Collection(telemetryCollection))
		if err := readings.EnsureIndexes(ctx); err != nil {
			return err
		}
		c.deviceRepo = devices
		c.telemetryRepo = readings

	case config.DriverMemory:
		c.logger.Warn("Using in-memory store, data is lost on restart")
		c.deviceRepo = implementation.NewMemoryDeviceRepository()
		c.telemetryRepo = implementation.NewMemoryTelemetryRepository()

	default:
		return fmt.Errorf("unknown store driver %q", c.config.Database.Driver)
	}

	c.healthChecker.AddCheck("store", c.deviceRepo.Ping)
	c.logger.Logger.Info().Str("driver", c.config.Database.Driver).Msg("Store initialized")
	return nil
}

// Repositories returns the store repositories. InitializeStore must have succeeded.
func (c *Container) Repositories() (interfaces.DeviceRepository, interfaces.TelemetryRepository) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceRepo, c.telemetryRepo
}

// GetRedis returns the relay client, or nil when REDIS_ADDR is unset
func (c *Container) GetRedis() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.config.Redis.Enabled() {
		return nil
	}
	if c.redisClient == nil {
		c.redisClient = redis.NewClient(&redis.Options{
			Addr:     c.config.Redis.Addr,
			Password: c.config.Redis.Password,
			DB:       c.config.Redis.DB,
		})
		client := c.redisClient
		c.healthChecker.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return c.redisClient
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	defer c.mu.Unlock()

	// Execute cleanup functions in reverse order
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}
	c.cleanupFuncs = nil

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.logger.ErrorWithError(err, "Error closing redis connection")
		}
		c.redisClient = nil
	}
	if c.mongoClient != nil {
		if err := c.mongoClient.Disconnect(ctx); err != nil {
			c.logger.ErrorWithError(err, "Error closing mongo connection")
		}
		c.mongoClient = nil
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.ErrorWithError(err, "Error closing database connection")
		}
		c.db = nil
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
