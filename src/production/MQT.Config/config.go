package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Database configuration
	Database DatabaseConfig `json:"database"`

	// MQTT configuration
	MQTT MQTTConfig `json:"mqtt"`

	// Ingestion pipeline configuration
	Ingest IngestConfig `json:"ingest"`

	// Websocket fan-out configuration
	Realtime RealtimeConfig `json:"realtime"`

	// Redis relay configuration
	Redis RedisConfig `json:"redis"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration
	CORS CORSConfig `json:"cors"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver string `json:"driver"`

	MongoURI     string        `json:"mongo_uri"`
	MongoDB      string        `json:"mongo_db"`
	MongoTimeout time.Duration `json:"mongo_timeout"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
	MinConns int    `json:"min_conns"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerURL       string        `json:"broker_url"`
	BrokerHost      string        `json:"broker_host"`
	BrokerPort      int           `json:"broker_port"`
	BrokerUser      string        `json:"broker_user"`
	BrokerPass      string        `json:"broker_pass"`
	UseTLS          bool          `json:"use_tls"`
	CACertPath      string        `json:"ca_cert_path"`
	Topic           string        `json:"topic"`
	ClientID        string        `json:"client_id"`
	SharedGroup     string        `json:"shared_group"`
	QoS             int           `json:"qos"`
	KeepAlive       time.Duration `json:"keep_alive"`
	PingTimeout     time.Duration `json:"ping_timeout"`
	ConnectAttempts int           `json:"connect_attempts"`
}

// IngestConfig holds ingestion pipeline tuning
type IngestConfig struct {
	Lanes        int           `json:"lanes"`
	LaneBuffer   int           `json:"lane_buffer"`
	DedupWindow  time.Duration `json:"dedup_window"`
	UIDPattern   string        `json:"uid_pattern"`
	RecentLimit  int           `json:"recent_limit"`
	StoreTimeout time.Duration `json:"store_timeout"`
}

// RealtimeConfig holds websocket gateway settings
type RealtimeConfig struct {
	SendBuffer   int           `json:"send_buffer"`
	WriteTimeout time.Duration `json:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval"`
}

// RedisConfig holds the optional cross-instance relay settings
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// Enabled reports whether fan-out should be relayed through Redis
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AuthConfig holds authentication-related configuration
type AuthConfig struct {
	JWTSecretKey string `json:"jwt_secret_key"`
	JWTIssuer    string `json:"jwt_issuer"`
}

// Enabled reports whether the REST read API requires a bearer token
func (a AuthConfig) Enabled() bool {
	return a.JWTSecretKey != ""
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
	MaxSizeMB    int    `json:"max_size_mb"`
	MaxBackups   int    `json:"max_backups"`
	MaxAgeDays   int    `json:"max_age_days"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// SimulatorConfig holds configuration for the device simulator
type SimulatorConfig struct {
	MQTT        MQTTConfig    `json:"mqtt"`
	Logging     LoggingConfig `json:"logging"`
	Devices     []string      `json:"devices"`
	Firmware    string        `json:"firmware"`
	Interval    time.Duration `json:"interval"`
	TopicPrefix string        `json:"topic_prefix"`
}

// Load loads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "5000"),
			ReadTimeout:     getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(getEnv("STORE_DRIVER", DriverMongo)),
			MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDB:      getEnv("MONGO_DB", "airquality"),
			MongoTimeout: getDuration("MONGO_TIMEOUT", 30*time.Second),
			Host:         getEnv("POSTGRES_HOST", "localhost"),
			Port:         getInt("POSTGRES_PORT", 5432),
			User:         getEnv("POSTGRES_USER", ""),
			Password:     getEnv("POSTGRES_PASSWORD", ""),
			DBName:       getEnv("POSTGRES_DB", "airquality"),
			SSLMode:      getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:     getInt("POSTGRES_MAX_CONNS", 25),
			MinConns:     getInt("POSTGRES_MIN_CONNS", 5),
		},
		MQTT: loadMQTT("telemetry-ingestor"),
		Ingest: IngestConfig{
			Lanes:        getInt("INGEST_LANES", 8),
			LaneBuffer:   getInt("INGEST_LANE_BUFFER", 256),
			DedupWindow:  getDuration("INGEST_DEDUP_WINDOW", 0),
			UIDPattern:   getEnv("INGEST_UID_PATTERN", ""),
			RecentLimit:  getInt("RECENT_READINGS_LIMIT", 10),
			StoreTimeout: getDuration("INGEST_STORE_TIMEOUT", 5*time.Second),
		},
		Realtime: RealtimeConfig{
			SendBuffer:   getInt("WS_SEND_BUFFER", 64),
			WriteTimeout: getDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PingInterval: getDuration("WS_PING_INTERVAL", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "telemetry:fanout"),
		},
		Auth: AuthConfig{
			JWTSecretKey: getEnv("JWT_SECRET_KEY", ""),
			JWTIssuer:    getEnv("JWT_ISSUER", "mpt-auth-service"),
		},
		Logging: loadLogging(),
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization"}),
			ExposedHeaders:   getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadSimulatorConfig loads configuration for the device simulator
func LoadSimulatorConfig() (*SimulatorConfig, error) {
	_ = godotenv.Load()

	config := &SimulatorConfig{
		MQTT:        loadMQTT("telemetry-simulator"),
		Logging:     loadLogging(),
		Devices:     getStringSlice("SIM_DEVICES", []string{"dev-1001", "dev-1002", "dev-1003"}),
		Firmware:    getEnv("SIM_FIRMWARE", "1.0.0"),
		Interval:    getDuration("SIM_INTERVAL", 5*time.Second),
		TopicPrefix: getEnv("SIM_TOPIC_PREFIX", "/application/out/"),
	}

	if len(config.Devices) == 0 {
		return nil, fmt.Errorf("SIM_DEVICES must name at least one device")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("SIM_INTERVAL must be positive")
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMongo:
		if c.Database.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required")
		}
	case DriverPostgres:
		if c.Database.User == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("POSTGRES_PASSWORD is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Database.Driver)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	if c.Ingest.Lanes < 1 {
		return fmt.Errorf("INGEST_LANES must be at least 1")
	}
	if c.Ingest.LaneBuffer < 0 {
		return fmt.Errorf("INGEST_LANE_BUFFER must not be negative")
	}
	if c.Ingest.RecentLimit < 1 {
		return fmt.Errorf("RECENT_READINGS_LIMIT must be at least 1")
	}
	if c.Ingest.UIDPattern != "" {
		if _, err := regexp.Compile(c.Ingest.UIDPattern); err != nil {
			return fmt.Errorf("INGEST_UID_PATTERN: %w", err)
		}
	}
	if c.Realtime.SendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be at least 1")
	}
	if !c.Auth.Enabled() {
		log.Println("WARNING: JWT_SECRET_KEY not set, REST read API is unauthenticated")
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (m MQTTConfig) GetMQTTBrokerURL() string {
	if m.BrokerURL != "" {
		return m.BrokerURL
	}
	scheme := "tcp"
	if m.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.BrokerHost, m.BrokerPort)
}

// SubscriptionTopic returns the topic filter, wrapped in a shared subscription when configured
func (m MQTTConfig) SubscriptionTopic() string {
	if m.SharedGroup == "" {
		return m.Topic
	}
	return fmt.Sprintf("$share/%s/%s", m.SharedGroup, m.Topic)
}

func loadMQTT(defaultClientID string) MQTTConfig {
	return MQTTConfig{
		BrokerURL:       getEnv("MQTT_BROKER_URL", ""),
		BrokerHost:      getEnv("BROKER_HOST", "localhost"),
		BrokerPort:      getInt("BROKER_PORT", 1883),
		BrokerUser:      getEnv("BROKER_USER", ""),
		BrokerPass:      getEnv("BROKER_PASS", ""),
		UseTLS:          getBool("BROKER_TLS", false),
		CACertPath:      getEnv("BROKER_CA_FILE", ""),
		Topic:           getEnv("MQTT_TOPIC", "/application/out/+"),
		ClientID:        getEnv("MQTT_CLIENT_ID", defaultClientID),
		SharedGroup:     getEnv("MQTT_SHARED_GROUP", ""),
		QoS:             getInt("MQTT_QOS", 1),
		KeepAlive:       getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
		PingTimeout:     getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
		ConnectAttempts: getInt("MQTT_CONNECT_ATTEMPTS", 5),
	}
}

func loadLogging() LoggingConfig {
	return LoggingConfig{
		Level:        getEnv("LOG_LEVEL", "info"),
		Format:       getEnv("LOG_FORMAT", "text"),
		Output:       getEnv("LOG_OUTPUT", "stdout"),
		EnableCaller: getBool("LOG_ENABLE_CALLER", false),
		MaxSizeMB:    getInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups:   getInt("LOG_MAX_BACKUPS", 5),
		MaxAgeDays:   getInt("LOG_MAX_AGE_DAYS", 28),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
