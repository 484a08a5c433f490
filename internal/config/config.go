// Package config reads process configuration from the environment, after
// loading an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/models"
)

// Transports accepted in TRANSPORT.
const (
	TransportMQTT   = "mqtt"
	TransportMemory = "memory"
)

// Config holds everything the dashboard and simulator binaries need.
type Config struct {
	Transport       string
	MQTTBrokerURL   string
	MQTTTopicPrefix string

	MongoURI          string
	MongoDB           string
	HistoryCollection string
	HistoryRetention  time.Duration

	OSRMBaseURL     string
	GeocoderBaseURL string

	Port           string
	ViewerID       string
	TokenServerURL string
	ClientSecret   string

	TickInterval      time.Duration
	MinSpawnDistance  int
	MaxSpawnRange     int
	DispatchLegs      int
	MaxActiveVehicles int
	StaleAfter        time.Duration
	FleetSize         int
	Origin            models.Coordinate

	LogLevel  string
	LogFormat string
}

// Load reads .env when present and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Transport:         strings.ToLower(getEnv("TRANSPORT", TransportMemory)),
		MQTTBrokerURL:     getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTTopicPrefix:   getEnv("MQTT_TOPIC_PREFIX", "fleet"),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getEnv("MONGO_DB", "fleet_delivery"),
		HistoryCollection: getEnv("HISTORY_COLLECTION", "history"),
		OSRMBaseURL:       getEnv("OSRM_BASE_URL", "https://router.project-osrm.org"),
		GeocoderBaseURL:   getEnv("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
		Port:              getEnv("PORT", "8080"),
		ViewerID:          os.Getenv("VIEWER_ID"),
		TokenServerURL:    os.Getenv("TOKEN_SERVER_URL"),
		ClientSecret:      os.Getenv("TOKEN_CLIENT_SECRET"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.TickInterval, err = getMillis("TICK_INTERVAL_MS", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.MinSpawnDistance, err = getInt("MIN_SPAWN_DISTANCE_M", 1000); err != nil {
		return nil, err
	}
	if cfg.MaxSpawnRange, err = getInt("MAX_SPAWN_RANGE_M", 2000); err != nil {
		return nil, err
	}
	if cfg.DispatchLegs, err = getInt("DISPATCH_LEGS", 4); err != nil {
		return nil, err
	}
	if cfg.MaxActiveVehicles, err = getInt("MAX_ACTIVE_VEHICLES", 10); err != nil {
		return nil, err
	}
	if cfg.FleetSize, err = getInt("FLEET_SIZE", 3); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = getDuration("STALE_AFTER", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HistoryRetention, err = getDuration("HISTORY_RETENTION", 24*time.Hour); err != nil {
		return nil, err
	}

	// Default origin is downtown San Francisco.
	lat, err := getFloat("ORIGIN_LAT", 37.7838)
	if err != nil {
		return nil, err
	}
	lng, err := getFloat("ORIGIN_LNG", -122.399)
	if err != nil {
		return nil, err
	}
	cfg.Origin = models.Coordinate{Lat: lat, Lng: lng}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportMQTT, TransportMemory:
	default:
		return fmt.Errorf("unsupported TRANSPORT %q", c.Transport)
	}
	if !c.Origin.Valid() {
		return fmt.Errorf("origin %v is out of range", c.Origin)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be positive")
	}
	if c.MinSpawnDistance <= 0 {
		return fmt.Errorf("MIN_SPAWN_DISTANCE_M must be positive, got %d", c.MinSpawnDistance)
	}
	if c.MaxSpawnRange < 0 {
		return fmt.Errorf("MAX_SPAWN_RANGE_M must not be negative, got %d", c.MaxSpawnRange)
	}
	if c.FleetSize < 0 || c.MaxActiveVehicles < 0 {
		return fmt.Errorf("vehicle counts must not be negative")
	}
	return nil
}

// ConfigureLogging applies LOG_LEVEL and LOG_FORMAT to the standard logger.
func (c *Config) ConfigureLogging() {
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("log_level", c.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getMillis(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// getDuration accepts Go duration strings. A negative STALE_AFTER disables eviction.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
