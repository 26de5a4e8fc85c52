package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	RateLimit   RateLimitConfig
	Validation  ValidationConfig
	Alerts      AlertConfig
	Auth        AuthConfig
	CORS        CORSConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
	// MigrateOnStart applies embedded schema migrations before serving
	MigrateOnStart bool
}

// RabbitMQConfig holds RabbitMQ connection and routing settings.
// An empty URL disables event publishing.
type RabbitMQConfig struct {
	URL               string
	EventsExchange    string
	ReadingRoutingKey string
	AlertRoutingKey   string
}

// RateLimitConfig holds the per-device request quota
type RateLimitConfig struct {
	MaxRequests   int
	WindowSeconds int
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int
}

// AlertConfig holds alert thresholds
type AlertConfig struct {
	EnergyHighWatts      float64
	EnergyCriticalWatts  float64
	WaterLowPercent      float64
	WaterCriticalPercent float64
	WaterHighPercent     float64
	SpikeThreshold       float64
	MinDataPoints        int
}

// AuthConfig holds identity provider settings for the dashboard read API
type AuthConfig struct {
	JWTSecret string
}

// CORSConfig holds allowed browser origins
type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "iot-ingest"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8080),
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MigrateOnStart: getEnvAsBool("DATABASE_MIGRATE_ON_START", false),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			EventsExchange:    getEnv("RABBITMQ_EVENTS_EXCHANGE", "iot-monitor.events.exchange"),
			ReadingRoutingKey: getEnv("RABBITMQ_READING_ROUTING_KEY", "reading.ingested"),
			AlertRoutingKey:   getEnv("RABBITMQ_ALERT_ROUTING_KEY", "alert.raised"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 12),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 3600),
		},
		Validation: ValidationConfig{
			TimestampToleranceMinutes: getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", 0),
		},
		Alerts: AlertConfig{
			EnergyHighWatts:      getEnvAsFloat("ALERT_ENERGY_HIGH_WATTS", 3000),
			EnergyCriticalWatts:  getEnvAsFloat("ALERT_ENERGY_CRITICAL_WATTS", 5000),
			WaterLowPercent:      getEnvAsFloat("ALERT_WATER_LOW_PERCENT", 20),
			WaterCriticalPercent: getEnvAsFloat("ALERT_WATER_CRITICAL_PERCENT", 10),
			WaterHighPercent:     getEnvAsFloat("ALERT_WATER_HIGH_PERCENT", 90),
			SpikeThreshold:       getEnvAsFloat("ALERT_SPIKE_THRESHOLD", 3.0),
			MinDataPoints:        getEnvAsInt("ALERT_MIN_DATA_POINTS", 3),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive, got %d", cfg.RateLimit.WindowSeconds)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
