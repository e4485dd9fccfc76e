// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"./configs",
			"/etc/compmgr",
			os.Getenv("HOME") + "/.compmgr",
		},
		envPrefix:     "COMPMGR",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file, or from defaults and
// environment when filename is empty
func (l *Loader) Load(filename string) (*Config, error) {
	if filename != "" {
		config, err := l.loadFromFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
		}
		return config, nil
	}
	return l.finish(l.defaults())
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(l.mergeConfig(l.defaults(), config))
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, _, err := l.findConfigFile()
	if err != nil {
		if errors.Is(err, ErrConfigFileNotFound) {
			return l.finish(l.defaults())
		}
		return nil, err
	}
	return l.loadFromFile(configFile)
}

// finish applies environment overrides and validates
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// defaults returns a private copy of the default configuration
func (l *Loader) defaults() *Config {
	src := l.defaultConfig
	if src == nil {
		src = DefaultConfig()
	}
	cp := *src
	cp.Components = make(map[string]ComponentParams, len(src.Components))
	for k, v := range src.Components {
		cp.Components[k] = v
	}
	return &cp
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, ConfigFormat, error) {
	filenames := []string{
		"compmgr.yaml", "compmgr.yml",
		"config.yaml", "config.yml",
		"compmgr.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				format, err := formatOf(filename)
				if err != nil {
					continue
				}
				return fullPath, format, nil
			}
		}
	}

	return "", "", ErrConfigFileNotFound
}

// formatOf determines the format from the file extension
func formatOf(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// loadFromFile loads configuration from a file
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}

	// Merge with default config to fill missing fields
	return l.finish(l.mergeConfig(l.defaults(), config))
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML config: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON config: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	// App configuration
	if val := os.Getenv(l.envPrefix + "_APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := os.Getenv(l.envPrefix + "_APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(val)
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Manager configuration
	if val := os.Getenv(l.envPrefix + "_MANAGER_NAME"); val != "" {
		config.Manager.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_MANAGER_PATH"); val != "" {
		config.Manager.Path = val
	}
	if val := os.Getenv(l.envPrefix + "_MANAGER_INIT_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s_MANAGER_INIT_TIMEOUT: %w", l.envPrefix, err)
		}
		config.Manager.InitTimeout = d
	}

	// Monitor configuration
	if val := os.Getenv(l.envPrefix + "_MONITOR_ENABLED"); val != "" {
		config.Monitor.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv(l.envPrefix + "_MONITOR_PORT"); val != "" {
		port, err := parsePort(val)
		if err != nil {
			return fmt.Errorf("%s_MONITOR_PORT: %w", l.envPrefix, err)
		}
		config.Monitor.HTTP.Port = port
	}

	return nil
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	port, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

// mergeConfig merges user config with default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	// Start with default config
	merged := *defaultConfig

	// App config
	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}
	if userConfig.App.Description != "" {
		merged.App.Description = userConfig.App.Description
	}
	merged.App.Debug = userConfig.App.Debug

	// Log config
	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}
	if userConfig.Log.Output != "" {
		merged.Log.Output = userConfig.Log.Output
	}

	// Manager config
	if userConfig.Manager.Name != "" {
		merged.Manager.Name = userConfig.Manager.Name
	}
	if userConfig.Manager.Path != "" {
		merged.Manager.Path = userConfig.Manager.Path
	}
	if userConfig.Manager.InitTimeout != 0 {
		merged.Manager.InitTimeout = userConfig.Manager.InitTimeout
	}
	if userConfig.Manager.ShutdownTimeout != 0 {
		merged.Manager.ShutdownTimeout = userConfig.Manager.ShutdownTimeout
	}
	merged.Manager.HotReload = userConfig.Manager.HotReload

	// Monitor config
	merged.Monitor.Enabled = userConfig.Monitor.Enabled
	if userConfig.Monitor.Namespace != "" {
		merged.Monitor.Namespace = userConfig.Monitor.Namespace
	}
	if userConfig.Monitor.HTTP.Address != "" {
		merged.Monitor.HTTP.Address = userConfig.Monitor.HTTP.Address
	}
	if userConfig.Monitor.HTTP.Port != 0 {
		merged.Monitor.HTTP.Port = userConfig.Monitor.HTTP.Port
	}
	if userConfig.Monitor.HTTP.MetricsPath != "" {
		merged.Monitor.HTTP.MetricsPath = userConfig.Monitor.HTTP.MetricsPath
	}
	if userConfig.Monitor.HTTP.HealthPath != "" {
		merged.Monitor.HTTP.HealthPath = userConfig.Monitor.HTTP.HealthPath
	}
	if userConfig.Monitor.HTTP.ComponentsPath != "" {
		merged.Monitor.HTTP.ComponentsPath = userConfig.Monitor.HTTP.ComponentsPath
	}

	// Component parameters
	if userConfig.Components != nil {
		if merged.Components == nil {
			merged.Components = make(map[string]ComponentParams)
		}
		for k, v := range userConfig.Components {
			merged.Components[k] = v
		}
	}

	return &merged
}
