package telemetry

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config configures the frontend telemetry pipeline.
//
// Values are resolved in three layers:
//  1. Profile defaults (lowest priority)
//  2. Optional YAML file named by FRONTEND_OTEL_CONFIG_FILE
//  3. Environment variables (highest priority)
type Config struct {
	// Resource identity
	ServiceName    string `yaml:"service_name" env:"FRONTEND_OTEL_SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" env:"FRONTEND_OTEL_SERVICE_VERSION"`
	Environment    string `yaml:"environment" env:"FRONTEND_OTEL_ENVIRONMENT"`

	// PageOrigin is the origin relative URLs are resolved against when
	// computing route labels.
	PageOrigin string `yaml:"page_origin" env:"FRONTEND_OTEL_PAGE_ORIGIN"`

	// Export endpoints
	TracesEndpoint  string `yaml:"traces_endpoint" env:"FRONTEND_OTEL_TRACES_ENDPOINT"`
	MetricsEndpoint string `yaml:"metrics_endpoint" env:"FRONTEND_OTEL_METRICS_ENDPOINT"`
	Protocol        string `yaml:"protocol" env:"FRONTEND_OTEL_PROTOCOL"` // "http" or "grpc"
	Insecure        bool   `yaml:"insecure" env:"FRONTEND_OTEL_INSECURE"`
	ConsoleExport   bool   `yaml:"console_export" env:"FRONTEND_OTEL_CONSOLE_EXPORT"`

	// Batching
	ExportInterval     time.Duration `yaml:"export_interval" env:"FRONTEND_OTEL_EXPORT_INTERVAL"`
	BatchTimeout       time.Duration `yaml:"batch_timeout" env:"FRONTEND_OTEL_BATCH_TIMEOUT"`
	MaxExportBatchSize int           `yaml:"max_export_batch_size" env:"FRONTEND_OTEL_MAX_EXPORT_BATCH_SIZE"`

	// Propagation
	PropagateTraceHeaderURLs string   `yaml:"propagate_trace_header_urls" env:"FRONTEND_OTEL_PROPAGATE_URLS"`
	Propagators              []string `yaml:"propagators" env:"FRONTEND_OTEL_PROPAGATORS" envSeparator:","`

	// Route label cardinality control
	RouteCardinalityLimit int           `yaml:"route_cardinality_limit" env:"FRONTEND_OTEL_ROUTE_LIMIT"`
	RouteTTL              time.Duration `yaml:"route_ttl" env:"FRONTEND_OTEL_ROUTE_TTL"`

	// Export circuit breaker
	CircuitBreaker CircuitConfig `yaml:"circuit_breaker" envPrefix:"FRONTEND_OTEL_CIRCUIT_"`

	// Session trace store
	Sessions SessionConfig `yaml:"sessions" envPrefix:"FRONTEND_OTEL_SESSION_"`

	// Logging
	LogLevel  string `yaml:"log_level" env:"FRONTEND_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"FRONTEND_LOG_FORMAT"`
}

// SessionConfig selects where session root span contexts are kept.
type SessionConfig struct {
	Provider string        `yaml:"provider" env:"PROVIDER"` // "memory" or "redis"
	RedisURL string        `yaml:"redis_url" env:"REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`

	// MaxSessions bounds the memory store; 0 uses DefaultMaxSessions.
	MaxSessions int `yaml:"max_sessions" env:"MAX_SESSIONS"`
}

// Profile represents a pre-configured telemetry profile
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileProduction  Profile = "production"
)

const (
	defaultServiceName     = "fastapi-mfe-test"
	defaultServiceVersion  = "0.1.0"
	defaultPageOrigin      = "http://localhost"
	defaultTracesEndpoint  = "http://localhost/otel/v1/traces"
	defaultMetricsEndpoint = "http://localhost/otel/v1/metrics"
	defaultExportInterval  = 15 * time.Second
	defaultPropagateURLs   = ".+"
)

// Profiles contains pre-configured telemetry profiles
var Profiles = map[Profile]Config{
	ProfileDevelopment: {
		ServiceName:              defaultServiceName,
		ServiceVersion:           defaultServiceVersion,
		Environment:              "development",
		PageOrigin:               defaultPageOrigin,
		TracesEndpoint:           defaultTracesEndpoint,
		MetricsEndpoint:          defaultMetricsEndpoint,
		Protocol:                 "http",
		Insecure:                 true,
		ConsoleExport:            true,
		ExportInterval:           defaultExportInterval,
		BatchTimeout:             2 * time.Second,
		MaxExportBatchSize:       512,
		PropagateTraceHeaderURLs: defaultPropagateURLs,
		Propagators:              []string{"b3"},
		RouteCardinalityLimit:    1000,
		RouteTTL:                 10 * time.Minute,
		CircuitBreaker:           CircuitConfig{Enabled: false},
		Sessions:                 SessionConfig{Provider: "memory", TTL: 30 * time.Minute},
		LogLevel:                 "debug",
		LogFormat:                "console",
	},
	ProfileProduction: {
		ServiceName:              defaultServiceName,
		ServiceVersion:           defaultServiceVersion,
		Environment:              "production",
		PageOrigin:               defaultPageOrigin,
		TracesEndpoint:           defaultTracesEndpoint,
		MetricsEndpoint:          defaultMetricsEndpoint,
		Protocol:                 "http",
		ExportInterval:           defaultExportInterval,
		BatchTimeout:             5 * time.Second,
		MaxExportBatchSize:       512,
		PropagateTraceHeaderURLs: defaultPropagateURLs,
		Propagators:              []string{"b3"},
		RouteCardinalityLimit:    500,
		RouteTTL:                 10 * time.Minute,
		CircuitBreaker: CircuitConfig{
			Enabled:      true,
			MaxFailures:  5,
			RecoveryTime: 30 * time.Second,
			HalfOpenMax:  1,
		},
		Sessions:  SessionConfig{Provider: "memory", TTL: 30 * time.Minute},
		LogLevel:  "info",
		LogFormat: "json",
	},
}

// UseProfile returns a configuration based on a profile name
func UseProfile(profile Profile) Config {
	if config, ok := Profiles[profile]; ok {
		config.Propagators = append([]string(nil), config.Propagators...)
		return config
	}
	// Default to development profile
	return UseProfile(ProfileDevelopment)
}

// LoadConfig builds a Config from the given profile, the optional YAML file
// named by FRONTEND_OTEL_CONFIG_FILE and the environment.
func LoadConfig(profile Profile) (Config, error) {
	cfg := UseProfile(profile)

	if path := os.Getenv("FRONTEND_OTEL_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		var fromFile Config
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		var switches yamlSwitches
		if err := yaml.Unmarshal(data, &switches); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		cfg = cfg.WithOverrides(fromFile)
		switches.toSwitches().apply(&cfg)
	}

	var fromEnv Config
	present := make(map[string]bool)
	err := env.ParseWithOptions(&fromEnv, env.Options{
		OnSet: func(key string, value interface{}, isDefault bool) {
			if v, ok := value.(string); ok && v != "" && !isDefault {
				present[key] = true
			}
		},
	})
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	applyStandardOTelEnv(&fromEnv)
	cfg = cfg.WithOverrides(fromEnv)
	envSwitches(fromEnv, present).apply(&cfg)

	return cfg, cfg.Validate()
}

// switches carries the boolean settings a layer set explicitly. WithOverrides
// only sees zero values, so it cannot turn a profile's true back off.
type switches struct {
	Insecure       *bool
	ConsoleExport  *bool
	CircuitEnabled *bool
}

func (s switches) apply(c *Config) {
	if s.Insecure != nil {
		c.Insecure = *s.Insecure
	}
	if s.ConsoleExport != nil {
		c.ConsoleExport = *s.ConsoleExport
	}
	if s.CircuitEnabled != nil {
		c.CircuitBreaker.Enabled = *s.CircuitEnabled
	}
}

type yamlSwitches struct {
	Insecure       *bool `yaml:"insecure"`
	ConsoleExport  *bool `yaml:"console_export"`
	CircuitBreaker struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"circuit_breaker"`
}

func (y yamlSwitches) toSwitches() switches {
	return switches{
		Insecure:       y.Insecure,
		ConsoleExport:  y.ConsoleExport,
		CircuitEnabled: y.CircuitBreaker.Enabled,
	}
}

// envSwitches picks the booleans whose variables were set in the environment.
func envSwitches(fromEnv Config, present map[string]bool) switches {
	var s switches
	if present["FRONTEND_OTEL_INSECURE"] {
		s.Insecure = &fromEnv.Insecure
	}
	if present["FRONTEND_OTEL_CONSOLE_EXPORT"] {
		s.ConsoleExport = &fromEnv.ConsoleExport
	}
	if present["FRONTEND_OTEL_CIRCUIT_ENABLED"] {
		s.CircuitEnabled = &fromEnv.CircuitBreaker.Enabled
	}
	return s
}

// applyStandardOTelEnv fills unset fields from the OTEL_* variables the SDKs
// understand, so either naming works.
func applyStandardOTelEnv(c *Config) {
	if c.ServiceName == "" {
		c.ServiceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if c.TracesEndpoint == "" {
		c.TracesEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
	}
	if c.MetricsEndpoint == "" {
		c.MetricsEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	}
}

// WithOverrides applies overrides to a config
func (c Config) WithOverrides(overrides Config) Config {
	// Override non-zero values
	if overrides.ServiceName != "" {
		c.ServiceName = overrides.ServiceName
	}
	if overrides.ServiceVersion != "" {
		c.ServiceVersion = overrides.ServiceVersion
	}
	if overrides.Environment != "" {
		c.Environment = overrides.Environment
	}
	if overrides.PageOrigin != "" {
		c.PageOrigin = overrides.PageOrigin
	}
	if overrides.TracesEndpoint != "" {
		c.TracesEndpoint = overrides.TracesEndpoint
	}
	if overrides.MetricsEndpoint != "" {
		c.MetricsEndpoint = overrides.MetricsEndpoint
	}
	if overrides.Protocol != "" {
		c.Protocol = overrides.Protocol
	}
	if overrides.Insecure {
		c.Insecure = true
	}
	if overrides.ConsoleExport {
		c.ConsoleExport = true
	}
	if overrides.ExportInterval > 0 {
		c.ExportInterval = overrides.ExportInterval
	}
	if overrides.BatchTimeout > 0 {
		c.BatchTimeout = overrides.BatchTimeout
	}
	if overrides.MaxExportBatchSize > 0 {
		c.MaxExportBatchSize = overrides.MaxExportBatchSize
	}
	if overrides.PropagateTraceHeaderURLs != "" {
		c.PropagateTraceHeaderURLs = overrides.PropagateTraceHeaderURLs
	}
	if len(overrides.Propagators) > 0 {
		c.Propagators = overrides.Propagators
	}
	if overrides.RouteCardinalityLimit > 0 {
		c.RouteCardinalityLimit = overrides.RouteCardinalityLimit
	}
	if overrides.RouteTTL > 0 {
		c.RouteTTL = overrides.RouteTTL
	}
	if overrides.CircuitBreaker.Enabled {
		c.CircuitBreaker.Enabled = true
	}
	if overrides.CircuitBreaker.MaxFailures > 0 {
		c.CircuitBreaker.MaxFailures = overrides.CircuitBreaker.MaxFailures
	}
	if overrides.CircuitBreaker.RecoveryTime > 0 {
		c.CircuitBreaker.RecoveryTime = overrides.CircuitBreaker.RecoveryTime
	}
	if overrides.CircuitBreaker.HalfOpenMax > 0 {
		c.CircuitBreaker.HalfOpenMax = overrides.CircuitBreaker.HalfOpenMax
	}
	if overrides.Sessions.Provider != "" {
		c.Sessions.Provider = overrides.Sessions.Provider
	}
	if overrides.Sessions.RedisURL != "" {
		c.Sessions.RedisURL = overrides.Sessions.RedisURL
	}
	if overrides.Sessions.TTL > 0 {
		c.Sessions.TTL = overrides.Sessions.TTL
	}
	if overrides.Sessions.MaxSessions > 0 {
		c.Sessions.MaxSessions = overrides.Sessions.MaxSessions
	}
	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}
	if overrides.LogFormat != "" {
		c.LogFormat = overrides.LogFormat
	}

	return c
}

// Validate reports the first invalid field, wrapped as ErrInvalidConfiguration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return configError("service_name", "must not be empty")
	}
	switch c.Protocol {
	case "", "http", "grpc":
	default:
		return configError("protocol", "%q is not one of http, grpc: %v", c.Protocol, ErrUnknownProtocol)
	}
	if c.ExportInterval < 0 {
		return configError("export_interval", "must not be negative")
	}
	if c.PropagateTraceHeaderURLs != "" {
		if _, err := regexp.Compile(c.PropagateTraceHeaderURLs); err != nil {
			return configError("propagate_trace_header_urls", "%v", err)
		}
	}
	for _, name := range c.Propagators {
		if _, ok := propagatorFactories[strings.ToLower(strings.TrimSpace(name))]; !ok {
			return configError("propagators", "%q: %v", name, ErrUnknownPropagator)
		}
	}
	switch c.Sessions.Provider {
	case "", "memory":
	case "redis":
		if c.Sessions.RedisURL == "" {
			return configError("sessions.redis_url", "required when provider is redis")
		}
	default:
		return configError("sessions.provider", "%q: %v", c.Sessions.Provider, ErrUnknownSessionStore)
	}
	return nil
}

// withDefaults fills zero values a partially populated Config may carry.
func (c Config) withDefaults() Config {
	base := UseProfile(ProfileDevelopment)
	if c.ServiceName == "" {
		c.ServiceName = base.ServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = base.ServiceVersion
	}
	if c.PageOrigin == "" {
		c.PageOrigin = base.PageOrigin
	}
	if c.TracesEndpoint == "" {
		c.TracesEndpoint = base.TracesEndpoint
	}
	if c.MetricsEndpoint == "" {
		c.MetricsEndpoint = base.MetricsEndpoint
	}
	if c.Protocol == "" {
		c.Protocol = "http"
	}
	if c.ExportInterval == 0 {
		c.ExportInterval = defaultExportInterval
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = base.BatchTimeout
	}
	if c.MaxExportBatchSize == 0 {
		c.MaxExportBatchSize = base.MaxExportBatchSize
	}
	if c.PropagateTraceHeaderURLs == "" {
		c.PropagateTraceHeaderURLs = defaultPropagateURLs
	}
	if len(c.Propagators) == 0 {
		c.Propagators = base.Propagators
	}
	if c.RouteCardinalityLimit == 0 {
		c.RouteCardinalityLimit = base.RouteCardinalityLimit
	}
	if c.RouteTTL == 0 {
		c.RouteTTL = base.RouteTTL
	}
	if c.Sessions.Provider == "" {
		c.Sessions.Provider = "memory"
	}
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = base.Sessions.TTL
	}
	return c
}
