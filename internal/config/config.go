// internal/config/config.go

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"eventmap/internal/domain/geo"
	geosvc "eventmap/internal/service/geo"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Geo         GeoConfig
	MapView     MapViewConfig
	Prefs       PrefsConfig
	Log         LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
	Migrate      bool
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// GeoConfig holds geospatial configuration
type GeoConfig struct {
	DefaultRadius    float64
	RadiusUnit       geo.Unit
	ClusterThreshold float64
	ClusterMode      geosvc.ClusterMode
	DefaultLocation  geo.GeoPoint
	GPSTimeout       time.Duration
	TimeZone         *time.Location
}

// DefaultRadiusKm returns the default radius converted to kilometers
func (g GeoConfig) DefaultRadiusKm() float64 {
	return geosvc.RadiusToKm(g.DefaultRadius, g.RadiusUnit)
}

// MapViewConfig holds map session configuration
type MapViewConfig struct {
	StateTopic            string
	AuthTopic             string
	SessionTTL            time.Duration
	MonitoringInterval    time.Duration
	SearchAreaThresholdKm float64
}

// PrefsConfig holds the persisted preference store configuration
type PrefsConfig struct {
	Path string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables, reading a .env file
// first when one is present
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("error loading .env: %w", err)
	}

	return FromEnv()
}

// FromEnv builds configuration from the process environment only
func FromEnv() (Config, error) {
	clusterMode, err := geosvc.ParseClusterMode(getEnv("GEO_CLUSTER_MODE", ""))
	if err != nil {
		return Config{}, err
	}

	defaultLocation, err := geo.ParsePoint(getEnv("GEO_DEFAULT_LOCATION", "39.828300,-98.579500"))
	if err != nil {
		return Config{}, fmt.Errorf("GEO_DEFAULT_LOCATION: %w", err)
	}

	tz, err := time.LoadLocation(getEnv("GEO_TIMEZONE", "Local"))
	if err != nil {
		return Config{}, fmt.Errorf("GEO_TIMEZONE: %w", err)
	}

	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "eventmap"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			Migrate:      getEnvAsBool("DB_MIGRATE", true),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Geo: GeoConfig{
			DefaultRadius:    getEnvAsFloat("GEO_DEFAULT_RADIUS", 10),
			RadiusUnit:       geo.ParseUnit(getEnv("GEO_RADIUS_UNIT", "mi")),
			ClusterThreshold: getEnvAsFloat("GEO_CLUSTER_THRESHOLD", geosvc.DefaultClusterThresholdKm),
			ClusterMode:      clusterMode,
			DefaultLocation:  defaultLocation,
			GPSTimeout:       getEnvAsDuration("GEO_GPS_TIMEOUT", 8*time.Second),
			TimeZone:         tz,
		},
		MapView: MapViewConfig{
			StateTopic:            getEnv("MAPVIEW_STATE_TOPIC", "mapview"),
			AuthTopic:             getEnv("MAPVIEW_AUTH_TOPIC", "auth.state"),
			SessionTTL:            getEnvAsDuration("MAPVIEW_SESSION_TTL", 30*time.Minute),
			MonitoringInterval:    getEnvAsDuration("MAPVIEW_MONITORING_INTERVAL", 1*time.Minute),
			SearchAreaThresholdKm: getEnvAsFloat("MAPVIEW_SEARCH_AREA_THRESHOLD", 1),
		},
		Prefs: PrefsConfig{
			Path: getEnv("PREFS_PATH", "eventmap-prefs.sqlite"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Geo.DefaultRadius <= 0 {
		return fmt.Errorf("default radius must be positive, got %v", config.Geo.DefaultRadius)
	}

	if config.Geo.ClusterThreshold <= 0 {
		return fmt.Errorf("cluster threshold must be positive, got %v", config.Geo.ClusterThreshold)
	}

	if !config.Geo.DefaultLocation.Valid() {
		return fmt.Errorf("default location %s is out of range", config.Geo.DefaultLocation)
	}

	if config.MapView.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %v", config.MapView.SessionTTL)
	}

	if config.Database.Password == "postgres" && config.Environment != "development" {
		return fmt.Errorf("database password must be set in non-development environments")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
