package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration. Values come from defaults, then
// the optional YAML file named by CONFIG_FILE, then environment variables.
type Config struct {
	// Server
	HTTPAddr string `yaml:"httpAddr"`

	// Auth
	JWTSecret   string `yaml:"jwtSecret"`
	ScopeSource string `yaml:"scopeSource"` // "claims" or "postgres"

	// Stores
	ReadingStore     string        `yaml:"readingStore"`    // "postgres", "influx" or "memory"
	HierarchySource  string        `yaml:"hierarchySource"` // "postgres" or "file"
	HierarchyFile    string        `yaml:"hierarchyFile"`
	DatabaseURL      string        `yaml:"databaseUrl"`
	DBConnectRetries int           `yaml:"dbConnectRetries"`
	InfluxURL        string        `yaml:"influxUrl"`
	InfluxToken      string        `yaml:"influxToken"`
	InfluxDatabase   string        `yaml:"influxDatabase"`
	QueryTimeout     time.Duration `yaml:"queryTimeout"`
	BreakerFailures  int           `yaml:"breakerFailures"`
	BreakerOpenFor   time.Duration `yaml:"breakerOpenFor"`

	// Cache
	CacheEnabled         bool          `yaml:"cacheEnabled"`
	CacheTTL             time.Duration `yaml:"cacheTTL"`
	CacheCleanupInterval time.Duration `yaml:"cacheCleanupInterval"`

	// Realtime
	BroadcastInterval time.Duration `yaml:"broadcastInterval"`
	BroadcastWorkers  int           `yaml:"broadcastWorkers"`
	RoomTimeout       time.Duration `yaml:"roomTimeout"`
	MaxClientsPerRoom int           `yaml:"maxClientsPerRoom"`
	DefaultTimeWindow string        `yaml:"defaultTimeWindow"`
	WSAllowedOrigins  []string      `yaml:"wsAllowedOrigins"`
	WSSendBuffer      int           `yaml:"wsSendBuffer"`
	WSPingInterval    time.Duration `yaml:"wsPingInterval"`

	// Logging
	LogLevel      string `yaml:"logLevel"`
	LogOutput     string `yaml:"logOutput"` // "stdout" or "file"
	LogDirectory  string `yaml:"logDirectory"`
	LogFileMaxAge int    `yaml:"logFileMaxAge"` // days

	// Warnings collects adjustments made by Validate, for logging once the
	// logger exists.
	Warnings []string `yaml:"-"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		HTTPAddr:             ":8080",
		ScopeSource:          "claims",
		ReadingStore:         "memory",
		HierarchySource:      "file",
		HierarchyFile:        "configs/hierarchy.yaml",
		DBConnectRetries:     5,
		InfluxDatabase:       "generation",
		QueryTimeout:         5 * time.Second,
		BreakerFailures:      5,
		BreakerOpenFor:       30 * time.Second,
		CacheEnabled:         true,
		CacheTTL:             30 * time.Second,
		CacheCleanupInterval: time.Minute,
		BroadcastInterval:    30 * time.Second,
		BroadcastWorkers:     8,
		RoomTimeout:          10 * time.Second,
		MaxClientsPerRoom:    500,
		DefaultTimeWindow:    "1h",
		WSSendBuffer:         64,
		WSPingInterval:       30 * time.Second,
		LogLevel:             "info",
		LogOutput:            "stdout",
		LogDirectory:         "./logs",
		LogFileMaxAge:        7,
	}
}

// Load reads .env (if present), the YAML overlay and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenvDefault("HTTP_ADDR", c.HTTPAddr)
	c.JWTSecret = getenvDefault("AUTH_JWT_SECRET", c.JWTSecret)
	c.ScopeSource = strings.ToLower(getenvDefault("SCOPE_SOURCE", c.ScopeSource))

	c.ReadingStore = strings.ToLower(getenvDefault("READING_STORE", c.ReadingStore))
	c.HierarchySource = strings.ToLower(getenvDefault("HIERARCHY_SOURCE", c.HierarchySource))
	c.HierarchyFile = getenvDefault("HIERARCHY_FILE", c.HierarchyFile)
	c.DatabaseURL = getenvDefault("DATABASE_URL", c.DatabaseURL)
	c.DBConnectRetries = getenvIntDefault("DB_CONNECT_RETRIES", c.DBConnectRetries)
	c.InfluxURL = getenvDefault("INFLUXDB_URL", c.InfluxURL)
	c.InfluxToken = getenvDefault("INFLUXDB_TOKEN", c.InfluxToken)
	c.InfluxDatabase = getenvDefault("INFLUXDB_DATABASE", c.InfluxDatabase)
	c.QueryTimeout = getenvDuration("QUERY_TIMEOUT", c.QueryTimeout)
	c.BreakerFailures = getenvIntDefault("BREAKER_FAILURES", c.BreakerFailures)
	c.BreakerOpenFor = getenvDuration("BREAKER_OPEN_FOR", c.BreakerOpenFor)

	c.CacheEnabled = getenvBool("CACHE_ENABLED", c.CacheEnabled)
	c.CacheTTL = getenvDuration("CACHE_TTL", c.CacheTTL)
	c.CacheCleanupInterval = getenvDuration("CACHE_CLEANUP_INTERVAL", c.CacheCleanupInterval)

	c.BroadcastInterval = getenvDuration("BROADCAST_INTERVAL", c.BroadcastInterval)
	c.BroadcastWorkers = getenvIntDefault("BROADCAST_WORKERS", c.BroadcastWorkers)
	c.RoomTimeout = getenvDuration("ROOM_TIMEOUT", c.RoomTimeout)
	c.MaxClientsPerRoom = getenvIntDefault("MAX_CLIENTS_PER_ROOM", c.MaxClientsPerRoom)
	c.DefaultTimeWindow = getenvDefault("DEFAULT_TIME_WINDOW", c.DefaultTimeWindow)
	c.WSAllowedOrigins = getenvList("WS_ALLOWED_ORIGINS", c.WSAllowedOrigins)
	c.WSSendBuffer = getenvIntDefault("WS_SEND_BUFFER", c.WSSendBuffer)
	c.WSPingInterval = getenvDuration("WS_PING_INTERVAL", c.WSPingInterval)

	c.LogLevel = getenvDefault("LOG_LEVEL", c.LogLevel)
	c.LogOutput = strings.ToLower(getenvDefault("LOG_OUTPUT", c.LogOutput))
	c.LogDirectory = getenvDefault("LOG_DIRECTORY", c.LogDirectory)
	c.LogFileMaxAge = getenvIntDefault("LOG_FILE_MAX_AGE", c.LogFileMaxAge)
}

// Validate checks ranges and store selections. A cache TTL longer than the
// broadcast interval is clamped and reported in Warnings.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	switch c.ScopeSource {
	case "claims", "postgres":
	default:
		errs = append(errs, fmt.Errorf("invalid SCOPE_SOURCE: %s (use 'claims' or 'postgres')", c.ScopeSource))
	}
	switch c.ReadingStore {
	case "postgres", "memory":
	case "influx":
		if c.InfluxURL == "" {
			errs = append(errs, errors.New("INFLUXDB_URL is required when READING_STORE=influx"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid READING_STORE: %s (use 'postgres', 'influx' or 'memory')", c.ReadingStore))
	}
	switch c.HierarchySource {
	case "postgres":
	case "file":
		if c.HierarchyFile == "" {
			errs = append(errs, errors.New("HIERARCHY_FILE is required when HIERARCHY_SOURCE=file"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid HIERARCHY_SOURCE: %s (use 'postgres' or 'file')", c.HierarchySource))
	}
	if c.NeedsDatabase() && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required by the selected stores"))
	}
	switch c.LogOutput {
	case "stdout", "file":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_OUTPUT: %s (use 'stdout' or 'file')", c.LogOutput))
	}

	if c.BroadcastInterval < time.Second {
		errs = append(errs, fmt.Errorf("invalid BROADCAST_INTERVAL: %s (must be at least 1s)", c.BroadcastInterval))
	}
	if c.BroadcastWorkers < 1 || c.BroadcastWorkers > 256 {
		errs = append(errs, fmt.Errorf("invalid BROADCAST_WORKERS: %d (must be 1-256)", c.BroadcastWorkers))
	}
	if c.RoomTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid ROOM_TIMEOUT: %s", c.RoomTimeout))
	}
	if c.QueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid QUERY_TIMEOUT: %s", c.QueryTimeout))
	}
	if c.MaxClientsPerRoom < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_CLIENTS_PER_ROOM: %d", c.MaxClientsPerRoom))
	}
	if c.WSSendBuffer < 1 {
		errs = append(errs, fmt.Errorf("invalid WS_SEND_BUFFER: %d", c.WSSendBuffer))
	}
	if c.DBConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_CONNECT_RETRIES: %d", c.DBConnectRetries))
	}

	if c.CacheEnabled {
		if c.CacheTTL <= 0 {
			errs = append(errs, fmt.Errorf("invalid CACHE_TTL: %s", c.CacheTTL))
		} else if c.BroadcastInterval > 0 && c.CacheTTL > c.BroadcastInterval {
			c.Warnings = append(c.Warnings, fmt.Sprintf("CACHE_TTL %s exceeds BROADCAST_INTERVAL %s; clamped", c.CacheTTL, c.BroadcastInterval))
			c.CacheTTL = c.BroadcastInterval
		}
	}
	return errors.Join(errs...)
}

// NeedsDatabase reports whether any selected component reads from Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.ReadingStore == "postgres" || c.HierarchySource == "postgres" || c.ScopeSource == "postgres"
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func getenvList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
