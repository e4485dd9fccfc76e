// Package config provides configuration management for compmgr
package config

import (
	"strings"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// ComponentParams holds the parameter block of one component instance
type ComponentParams map[string]any

// Config represents the complete compmgr configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Root component manager configuration
	Manager ManagerConfig `yaml:"manager" json:"manager"`

	// Monitoring configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Per-instance component parameters, keyed by instance name
	Components map[string]ComponentParams `yaml:"components,omitempty" json:"components,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode raises logging to debug outside production
	Debug bool `yaml:"debug" json:"debug"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// ManagerConfig configures the root component manager
type ManagerConfig struct {
	// Manager name, used as the descriptor prefix of its components
	Name string `yaml:"name" json:"name"`

	// Absolute configuration path inherited by components
	Path string `yaml:"path" json:"path"`

	// Timeout for bringing all components up
	InitTimeout time.Duration `yaml:"init_timeout" json:"init_timeout"`

	// Timeout for bringing all components down
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Watch the configuration file and push parameter changes to components
	HotReload bool `yaml:"hot_reload" json:"hot_reload"`
}

// MonitorConfig contains monitoring configuration
type MonitorConfig struct {
	// Enable monitoring
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Prometheus metric namespace
	Namespace string `yaml:"namespace" json:"namespace"`

	// HTTP admin endpoint
	HTTP HTTPMonitorConfig `yaml:"http" json:"http"`
}

// HTTPMonitorConfig contains HTTP monitoring configuration
type HTTPMonitorConfig struct {
	// Listen address
	Address string `yaml:"address" json:"address"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// Metrics endpoint path
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`

	// Health check endpoint path
	HealthPath string `yaml:"health_path" json:"health_path"`

	// Component listing endpoint path
	ComponentsPath string `yaml:"components_path" json:"components_path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "compmgr",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       false,
			Description: "compmgr application",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
		},
		Manager: ManagerConfig{
			Name:            "manager",
			Path:            "",
			InitTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			HotReload:       false,
		},
		Monitor: MonitorConfig{
			Enabled:   false,
			Namespace: "compmgr",
			HTTP: HTTPMonitorConfig{
				Address:        "0.0.0.0",
				Port:           9090,
				MetricsPath:    "/metrics",
				HealthPath:     "/health",
				ComponentsPath: "/components",
			},
		},
		Components: make(map[string]ComponentParams),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		return ErrInvalidLogFormat
	}

	// Validate manager config
	if c.Manager.Name == "" || strings.ContainsAny(c.Manager.Name, ": \t\n") {
		return ErrInvalidManagerName
	}
	if c.Manager.InitTimeout <= 0 || c.Manager.ShutdownTimeout <= 0 {
		return ErrInvalidTimeout
	}

	// Validate monitor config
	if c.Monitor.Enabled {
		if c.Monitor.HTTP.Port <= 0 || c.Monitor.HTTP.Port > 65535 {
			return ErrInvalidPort
		}
		for _, p := range []string{c.Monitor.HTTP.MetricsPath, c.Monitor.HTTP.HealthPath, c.Monitor.HTTP.ComponentsPath} {
			if !strings.HasPrefix(p, "/") {
				return ErrInvalidMonitorPath
			}
		}
	}

	return nil
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// EffectiveLogLevel returns the configured log level, raised to debug when
// debug mode is on. Debug mode is ignored in production.
func (c *Config) EffectiveLogLevel() LogLevel {
	if !c.App.Debug || c.IsProduction() {
		return c.Log.Level
	}
	if c.Log.Level == LogLevelTrace {
		return LogLevelTrace
	}
	return LogLevelDebug
}

// Params returns the parameters of every configured instance in
// the shape expected by component.Manager.Configure
func (c *Config) Params() map[string]map[string]any {
	params := make(map[string]map[string]any, len(c.Components))
	for name, p := range c.Components {
		params[name] = p
	}
	return params
}
