// Package config provides configuration watching and hot-reload functionality
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the quiet period after the last file event before a reload
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches configuration files for changes and provides hot-reload functionality
type Watcher struct {
	// Configuration file path
	configFile string

	// Configuration format
	format ConfigFormat

	// Configuration loader
	loader *Loader

	// Current configuration
	config   *Config
	configMu sync.RWMutex

	// File system watcher
	fsWatcher *fsnotify.Watcher

	// Event callbacks
	callbacks   []ConfigChangeCallback
	callbacksMu sync.RWMutex

	log      logrus.FieldLogger
	debounce time.Duration

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for goroutines
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// ConfigChangeCallback is called when configuration changes
type ConfigChangeCallback func(oldConfig, newConfig *Config)

// NewWatcher creates a new configuration watcher
func NewWatcher(configFile string, loader *Loader) (*Watcher, error) {
	format, err := formatOf(configFile)
	if err != nil {
		return nil, err
	}
	if loader == nil {
		loader = NewLoader()
	}

	// Load initial configuration
	config, err := loader.LoadFromFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	// Create file system watcher
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create file system watcher: %v", ErrConfigWatchError, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		configFile: filepath.Clean(configFile),
		format:     format,
		loader:     loader,
		config:     config,
		fsWatcher:  fsWatcher,
		log:        logrus.StandardLogger().WithField("component", "config-watcher"),
		debounce:   DefaultDebounce,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// SetLogger replaces the watcher's logger
func (w *Watcher) SetLogger(log logrus.FieldLogger) *Watcher {
	w.log = log
	return w
}

// SetDebounce sets the quiet period used to coalesce bursts of file events
func (w *Watcher) SetDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Start starts watching the configuration file
func (w *Watcher) Start() error {
	// Watch the parent directory so that editors replacing the file
	// through rename keep being observed.
	if err := w.fsWatcher.Add(filepath.Dir(w.configFile)); err != nil {
		return fmt.Errorf("%w: failed to watch config file: %v", ErrConfigWatchError, err)
	}

	w.wg.Add(1)
	go w.watchLoop()

	w.log.Infof("Watching configuration file %s", w.configFile)
	return nil
}

// Stop stops watching the configuration file
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		w.cancel()
		w.stopErr = w.fsWatcher.Close()
		w.wg.Wait()
	})
	return w.stopErr
}

// GetConfig returns the current configuration
func (w *Watcher) GetConfig() *Config {
	w.configMu.RLock()
	defer w.configMu.RUnlock()
	return w.config
}

// OnConfigChange registers a callback for configuration changes
func (w *Watcher) OnConfigChange(callback ConfigChangeCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Reload manually reloads the configuration
func (w *Watcher) Reload() error {
	return w.reloadConfig()
}

// watchLoop watches for file system events
func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.configFile {
				continue
			}

			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, func() {
					if w.ctx.Err() != nil {
						return
					}
					if err := w.reloadConfig(); err != nil {
						w.log.WithError(err).Error("Failed to reload config")
					}
				})

			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.log.Warnf("Config file %s was removed or renamed", w.configFile)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Error("Config watcher error")
		}
	}
}

// reloadConfig reloads the configuration from file
func (w *Watcher) reloadConfig() error {
	newConfig, err := w.loader.LoadFromFile(w.configFile)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	w.configMu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.configMu.Unlock()

	w.notifyCallbacks(oldConfig, newConfig)

	w.log.Infof("Configuration reloaded from %s", w.configFile)
	return nil
}

// notifyCallbacks notifies all registered callbacks of configuration changes
func (w *Watcher) notifyCallbacks(oldConfig, newConfig *Config) {
	w.callbacksMu.RLock()
	callbacks := make([]ConfigChangeCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.log.Errorf("Config change callback panicked: %v", r)
				}
			}()
			callback(oldConfig, newConfig)
		}()
	}
}

// Provider represents a configuration provider interface
type Provider interface {
	// Load loads configuration from the provider
	Load() (*Config, error)

	// Watch watches for configuration changes
	Watch(ctx context.Context, callback ConfigChangeCallback) error

	// Close closes the provider
	Close() error
}

// FileProvider provides configuration from files
type FileProvider struct {
	loader  *Loader
	watcher *Watcher
}

// NewFileProvider creates a new file-based configuration provider
func NewFileProvider(configFile string) (*FileProvider, error) {
	loader := NewLoader()

	provider := &FileProvider{
		loader: loader,
	}

	// If config file is specified, create watcher
	if configFile != "" {
		watcher, err := NewWatcher(configFile, loader)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
		provider.watcher = watcher
	}

	return provider, nil
}

// Watcher returns the underlying file watcher, or nil when no file was given
func (fp *FileProvider) Watcher() *Watcher {
	return fp.watcher
}

// Load loads configuration
func (fp *FileProvider) Load() (*Config, error) {
	if fp.watcher != nil {
		return fp.watcher.GetConfig(), nil
	}
	return fp.loader.AutoLoad()
}

// Watch watches for configuration changes until ctx is done
func (fp *FileProvider) Watch(ctx context.Context, callback ConfigChangeCallback) error {
	if fp.watcher == nil {
		return errors.New("watcher not available")
	}

	fp.watcher.OnConfigChange(callback)

	if err := fp.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	go func() {
		<-ctx.Done()
		fp.watcher.Stop()
	}()

	return nil
}

// Close closes the provider
func (fp *FileProvider) Close() error {
	if fp.watcher != nil {
		return fp.watcher.Stop()
	}
	return nil
}
