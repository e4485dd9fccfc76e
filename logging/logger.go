// Package logging builds the logrus logger shared by the manager and its services.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/najoast/compmgr/config"
)

// New creates a logger from the log section of the configuration.
// Output is "stdout", "stderr" or a file path opened for appending. The
// returned Closer releases the output and must be called once the logger
// is retired.
func New(cfg config.LogConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	if err := SetLevel(logger, cfg.Level); err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("%w: %s", config.ErrInvalidLogFormat, cfg.Format)
	}

	out, closer, err := Open(cfg.Output)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(out)

	return logger, closer, nil
}

// SetLevel applies a configured level to an existing logger.
// An empty level leaves the logger unchanged.
func SetLevel(logger *logrus.Logger, level config.LogLevel) error {
	if level == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(string(level))
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidLogLevel, err)
	}
	logger.SetLevel(lvl)
	return nil
}

// Open resolves a configured output. The standard streams come with a
// Closer that does nothing.
func Open(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output %s: %w", output, err)
	}
	return f, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
