// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName     = errors.New("invalid application name")
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidManagerName = errors.New("invalid manager name")
	ErrInvalidTimeout     = errors.New("invalid timeout")
	ErrInvalidPort        = errors.New("invalid port number")
	ErrInvalidMonitorPath = errors.New("invalid monitor path")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound = errors.New("configuration file not found")
	ErrConfigParseError   = errors.New("configuration parse error")
	ErrUnsupportedFormat  = errors.New("unsupported configuration format")
	ErrConfigWatchError   = errors.New("configuration watch error")
)
