// Package config loads application configuration. Values come from the
// environment first, with an optional YAML file overlay for deployments
// that prefer files, and a watcher for the runtime-changeable limits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"loom-backend/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Remote   RemoteConfig   `yaml:"remote"`
	Logging  LoggingConfig  `yaml:"logging"`
	Features Features       `yaml:"features"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// EngineConfig holds the graph engine limits.
type EngineConfig struct {
	HistoryCapacity int `yaml:"historyCapacity"` // undo snapshots kept
	MaxKeyPoints    int `yaml:"maxKeyPoints"`    // key points aggregated per summary
	MaxDeleteBatch  int `yaml:"maxDeleteBatch"`  // ids per delete request
	ReferenceLimit  int `yaml:"referenceLimit"`  // raw references before summarize-first kicks in
}

// RemoteConfig holds settings for the upstream context service.
type RemoteConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Features contains feature flags for the application.
type Features struct {
	EnableMetrics bool `yaml:"enableMetrics"`
	EnableTracing bool `yaml:"enableTracing"`
}

// TracingConfig holds the OTLP exporter settings.
type TracingConfig struct {
	ServiceName string  `yaml:"serviceName"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sampleRate"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			HistoryCapacity: 50,
			MaxKeyPoints:    5,
			MaxDeleteBatch:  100,
			ReferenceLimit:  2,
		},
		Remote: RemoteConfig{
			BaseURL: "",
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Features: Features{
			EnableMetrics: true,
			EnableTracing: false,
		},
		Tracing: TracingConfig{
			ServiceName: "loom-backend",
			Endpoint:    "localhost:4317",
			SampleRate:  0.1,
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file named
// by LOOM_CONFIG_FILE, then environment variable overrides.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("LOOM_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.NewInternalError("failed to read config file", err).WithResource(path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid config file %s: %v", path, err))
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Address = getEnv("SERVER_ADDRESS", c.Server.Address)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Remote.BaseURL = getEnv("REMOTE_BASE_URL", c.Remote.BaseURL)
	c.Tracing.Endpoint = getEnv("OTLP_ENDPOINT", c.Tracing.Endpoint)

	c.Engine.HistoryCapacity = getEnvInt("HISTORY_CAPACITY", c.Engine.HistoryCapacity)
	c.Engine.MaxKeyPoints = getEnvInt("MAX_KEY_POINTS", c.Engine.MaxKeyPoints)
	c.Engine.MaxDeleteBatch = getEnvInt("MAX_DELETE_BATCH", c.Engine.MaxDeleteBatch)
	c.Engine.ReferenceLimit = getEnvInt("REFERENCE_LIMIT", c.Engine.ReferenceLimit)

	c.Features.EnableMetrics = getEnvBool("ENABLE_METRICS", c.Features.EnableMetrics)
	c.Features.EnableTracing = getEnvBool("ENABLE_TRACING", c.Features.EnableTracing)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.HistoryCapacity < 1 {
		return errors.NewValidationError("engine.historyCapacity must be at least 1")
	}
	if c.Engine.MaxKeyPoints < 1 {
		return errors.NewValidationError("engine.maxKeyPoints must be at least 1")
	}
	if c.Engine.MaxDeleteBatch < 1 {
		return errors.NewValidationError("engine.maxDeleteBatch must be at least 1")
	}
	if c.Engine.ReferenceLimit < 1 {
		return errors.NewValidationError("engine.referenceLimit must be at least 1")
	}
	if c.Server.Address == "" {
		return errors.NewValidationError("server.address is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return fallback
}
