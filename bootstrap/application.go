package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/najoast/compmgr/component"
	"github.com/najoast/compmgr/config"
	"github.com/najoast/compmgr/logging"
	"github.com/najoast/compmgr/metrics"
	"github.com/najoast/compmgr/monitor"
)

// Names of the core services registered by NewApplication
const (
	ServiceComponents    = "components"
	ServiceConfigWatcher = "config-watcher"
	ServiceMonitor       = "monitor"
)

// SetupFunc populates the root manager before services start
type SetupFunc func(ctx context.Context, m *component.Manager) error

// DefaultApplication implements the Application interface
type DefaultApplication struct {
	// config holds the application configuration
	config *config.Config

	// configFile is watched for changes when hot reload is enabled
	configFile string

	// lifecycleManager manages service lifecycles
	lifecycleManager *DefaultLifecycleManager

	log       *logrus.Logger
	logOut    io.Closer
	manager   *component.Manager
	collector *metrics.Collector
	monitor   *monitor.Server

	setup []SetupFunc

	// mutex protects concurrent access
	mutex sync.RWMutex

	// running indicates if the application is running
	running bool

	// shutdownChan for graceful shutdown
	shutdownChan chan os.Signal
}

// NewApplication creates a new application with its core services registered
func NewApplication() *DefaultApplication {
	app := &DefaultApplication{
		log:          logrus.StandardLogger(),
		shutdownChan: make(chan os.Signal, 1),
	}
	app.lifecycleManager = NewLifecycleManager(app.log)
	app.registerCoreServices()
	return app
}

// Configure builds the logger, metrics, root manager and admin server from cfg
func (app *DefaultApplication) Configure(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("configuration cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return errors.New("cannot configure application while running")
	}

	logCfg := cfg.Log
	logCfg.Level = cfg.EffectiveLogLevel()
	logger, logOut, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if app.logOut != nil {
		app.logOut.Close()
	}

	collector := metrics.NewCollector(cfg.Monitor.Namespace)
	manager := component.NewManager(cfg.Manager.Name,
		component.WithPath(cfg.Manager.Path),
		component.WithLogger(logger.WithField("app", cfg.App.Name)),
		component.WithObserver(collector),
	)

	app.config = cfg
	app.log = logger
	app.logOut = logOut
	app.collector = collector
	app.manager = manager
	app.lifecycleManager.log = logger.WithField("subsystem", "lifecycle")
	app.lifecycleManager.SetTimeouts(cfg.Manager.InitTimeout, cfg.Manager.ShutdownTimeout)

	app.monitor = nil
	if cfg.Monitor.Enabled {
		app.monitor = monitor.NewServer(cfg.Monitor.HTTP, manager,
			monitor.WithMetrics(collector.Handler()),
			monitor.WithHealth(app.health),
			monitor.WithLogger(logger),
		)
	}
	return nil
}

// Run configures the components, starts all services and blocks until ctx
// is done or a termination signal arrives. A fatal component lookup during
// the run is returned as an error.
func (app *DefaultApplication) Run(ctx context.Context) (err error) {
	app.mutex.RLock()
	configured := app.config != nil
	app.mutex.RUnlock()
	if !configured {
		if err := app.Configure(config.DefaultConfig()); err != nil {
			return err
		}
	}

	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return errors.New("application is already running")
	}
	// A previous Shutdown released the log output.
	if app.logOut == nil {
		out, closer, err := logging.Open(app.config.Log.Output)
		if err != nil {
			app.mutex.Unlock()
			return fmt.Errorf("failed to reopen log output: %w", err)
		}
		app.log.SetOutput(out)
		app.logOut = closer
	}
	app.running = true
	app.mutex.Unlock()

	defer func() {
		if err != nil {
			if stopErr := app.Shutdown(context.Background()); stopErr != nil {
				app.log.WithError(stopErr).Error("Shutdown after failure")
			}
		}
	}()
	defer component.RecoverFatal(&err)

	signal.Notify(app.shutdownChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.shutdownChan)

	for _, fn := range app.setup {
		if err := fn(ctx, app.manager); err != nil {
			return &ApplicationError{Operation: "setup", Err: err}
		}
	}
	if err := app.manager.Configure(app.config.Params()); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	if err := app.lifecycleManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}
	app.log.WithFields(logrus.Fields{
		"components":  app.manager.Len(),
		"environment": app.config.App.Environment,
		"version":     app.config.App.Version,
	}).Infof("%s started", app.config.App.Name)

	select {
	case sig := <-app.shutdownChan:
		app.log.Infof("Received %s, starting graceful shutdown", sig)
	case <-ctx.Done():
		app.log.Info("Context cancelled, starting graceful shutdown")
	}

	return app.Shutdown(context.Background())
}

// Shutdown stops all services and tears the component tree down
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil // Already shut down
	}
	app.running = false
	timeout := app.config.Manager.ShutdownTimeout
	app.mutex.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := app.lifecycleManager.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	// Components added by setup before a failed start were never handed to
	// the components service.
	if err := app.manager.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := app.closeLog(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to stop services: %w", err)
	}
	return nil
}

// closeLog releases the log output. Later messages go to stderr until the
// next Run reopens it.
func (app *DefaultApplication) closeLog() error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.logOut == nil {
		return nil
	}
	app.log.SetOutput(os.Stderr)
	err := app.logOut.Close()
	app.logOut = nil
	return err
}

// Manager returns the root component manager, or nil before Configure
func (app *DefaultApplication) Manager() *component.Manager {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.manager
}

// LifecycleManager returns the lifecycle manager
func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycleManager
}

// Metrics returns the registry metrics collector, or nil before Configure
func (app *DefaultApplication) Metrics() *metrics.Collector {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.collector
}

// Monitor returns the admin server, or nil when monitoring is disabled
func (app *DefaultApplication) Monitor() *monitor.Server {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.monitor
}

// registerCoreServices registers the services every application runs
func (app *DefaultApplication) registerCoreServices() {
	app.lifecycleManager.Register(ServiceComponents, &ComponentsService{app: app})
	app.lifecycleManager.Register(ServiceConfigWatcher, &ConfigWatcherService{app: app}, ServiceComponents)
	app.lifecycleManager.Register(ServiceMonitor, &MonitorService{app: app}, ServiceComponents)
}

// applyConfig pushes a reloaded configuration into the running application
func (app *DefaultApplication) applyConfig(_, newConfig *config.Config) {
	app.mutex.Lock()
	app.config.Components = newConfig.Components
	app.config.Log.Level = newConfig.Log.Level
	app.config.App.Debug = newConfig.App.Debug
	level := app.config.EffectiveLogLevel()
	logger, manager := app.log, app.manager
	app.mutex.Unlock()

	if err := logging.SetLevel(logger, level); err != nil {
		logger.WithError(err).Warn("Ignoring reloaded log level")
	}
	if err := manager.Configure(newConfig.Params()); err != nil {
		logger.WithError(err).Warn("Reloaded component parameters rejected")
	}
}

// health aggregates service health for the admin endpoint
func (app *DefaultApplication) health(ctx context.Context) (bool, any) {
	statuses, err := app.lifecycleManager.Health(ctx)
	if err != nil {
		return false, map[string]string{"error": err.Error()}
	}
	healthy := true
	for _, s := range statuses {
		if s.State != HealthUnknown && !s.State.IsOperational() {
			healthy = false
		}
	}
	return healthy, statuses
}

// ComponentsService brings the root manager's components up and down
type ComponentsService struct {
	app *DefaultApplication
}

func (s *ComponentsService) Name() string {
	return ServiceComponents
}

// Start brings every component up. Components that fail stay registered
// in the failed state and are reported through Health.
func (s *ComponentsService) Start(ctx context.Context) error {
	m := s.app.Manager()
	if err := m.Init(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("component init interrupted: %w", ctxErr)
		}
		s.app.log.WithError(err).Warn("Some components failed to initialize")
	}
	return nil
}

func (s *ComponentsService) Stop(ctx context.Context) error {
	return s.app.Manager().Close(ctx)
}

func (s *ComponentsService) Health(ctx context.Context) (HealthStatus, error) {
	m := s.app.Manager()
	if m == nil {
		return HealthStatus{State: HealthUnknown, Message: "Manager not configured"}, nil
	}

	var failed []string
	counts := make(map[string]interface{})
	for _, c := range m.Components() {
		st := c.State()
		if st == component.StateFailed {
			failed = append(failed, c.InstanceName())
		}
		n, _ := counts[st.String()].(int)
		counts[st.String()] = n + 1
	}
	counts["total"] = m.Len()

	switch {
	case !m.Initialized():
		return HealthStatus{State: HealthStopped, Message: "Manager not initialized", Data: counts}, nil
	case len(failed) > 0:
		counts["failed_components"] = failed
		return HealthStatus{
			State:   HealthUnhealthy,
			Message: fmt.Sprintf("%d component(s) failed to initialize", len(failed)),
			Data:    counts,
		}, nil
	default:
		return HealthStatus{State: HealthHealthy, Message: "All components initialized", Data: counts}, nil
	}
}

// ConfigWatcherService reloads the configuration file and pushes component
// parameters and the log level into the running application
type ConfigWatcherService struct {
	app *DefaultApplication

	mu       sync.Mutex
	provider config.Provider
	file     string
	cancel   context.CancelFunc
}

func (s *ConfigWatcherService) Name() string {
	return ServiceConfigWatcher
}

// Start applies the file's current content and subscribes to its changes.
// The watch outlives ctx and ends with Stop.
func (s *ConfigWatcherService) Start(ctx context.Context) error {
	s.app.mutex.RLock()
	file := s.app.configFile
	enabled := file != "" && s.app.config.Manager.HotReload
	log := s.app.log.WithField("service", ServiceConfigWatcher)
	s.app.mutex.RUnlock()

	if !enabled {
		return nil
	}

	provider, err := config.NewFileProvider(file)
	if err != nil {
		return err
	}
	provider.Watcher().SetLogger(log)

	// Picks up edits made between Build and Start.
	current, err := provider.Load()
	if err != nil {
		provider.Close()
		return err
	}
	s.app.applyConfig(nil, current)

	watchCtx, cancel := context.WithCancel(context.Background())
	if err := provider.Watch(watchCtx, s.app.applyConfig); err != nil {
		cancel()
		provider.Close()
		return err
	}

	s.mu.Lock()
	s.provider, s.file, s.cancel = provider, file, cancel
	s.mu.Unlock()
	return nil
}

func (s *ConfigWatcherService) Stop(ctx context.Context) error {
	s.mu.Lock()
	provider, cancel := s.provider, s.cancel
	s.provider, s.cancel = nil, nil
	s.mu.Unlock()

	if provider == nil {
		return nil
	}
	cancel()
	return provider.Close()
}

func (s *ConfigWatcherService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.provider == nil {
		return HealthStatus{State: HealthUnknown, Message: "Hot reload disabled"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "Watching configuration",
		Data:    map[string]interface{}{"file": s.file},
	}, nil
}

// MonitorService runs the admin HTTP server when monitoring is enabled
type MonitorService struct {
	app *DefaultApplication
}

func (s *MonitorService) Name() string {
	return ServiceMonitor
}

func (s *MonitorService) Start(ctx context.Context) error {
	if srv := s.app.Monitor(); srv != nil {
		return srv.Start()
	}
	return nil
}

func (s *MonitorService) Stop(ctx context.Context) error {
	if srv := s.app.Monitor(); srv != nil {
		return srv.Stop(ctx)
	}
	return nil
}

func (s *MonitorService) Health(ctx context.Context) (HealthStatus, error) {
	srv := s.app.Monitor()
	if srv == nil {
		return HealthStatus{State: HealthUnknown, Message: "Monitoring disabled"}, nil
	}
	if addr := srv.Addr(); addr != nil {
		return HealthStatus{
			State:   HealthHealthy,
			Message: "Monitor server running",
			Data:    map[string]interface{}{"address": addr.String()},
		}, nil
	}
	return HealthStatus{State: HealthStopped, Message: "Monitor server not running"}, nil
}

// ApplicationBuilder helps build and configure applications
type ApplicationBuilder struct {
	app    *DefaultApplication
	config *config.Config
	errs   []error
}

// NewApplicationBuilder creates a new application builder
func NewApplicationBuilder() *ApplicationBuilder {
	return &ApplicationBuilder{
		app: NewApplication(),
	}
}

// WithConfig sets the configuration
func (b *ApplicationBuilder) WithConfig(cfg *config.Config) *ApplicationBuilder {
	b.config = cfg
	return b
}

// WithConfigFile loads configuration from a file and watches it when
// hot reload is enabled
func (b *ApplicationBuilder) WithConfigFile(filename string) *ApplicationBuilder {
	cfg, err := config.NewLoader().LoadFromFile(filename)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.config = cfg
	b.app.configFile = filename
	return b
}

// WithService registers a service
func (b *ApplicationBuilder) WithService(name string, service Service, deps ...string) *ApplicationBuilder {
	if err := b.app.lifecycleManager.Register(name, service, deps...); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// WithComponents registers a function that adds components to the root
// manager when the application runs
func (b *ApplicationBuilder) WithComponents(fn SetupFunc) *ApplicationBuilder {
	b.app.setup = append(b.app.setup, fn)
	return b
}

// Build builds the configured application
func (b *ApplicationBuilder) Build() (*DefaultApplication, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}
	cfg := b.config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := b.app.Configure(cfg); err != nil {
		return nil, fmt.Errorf("failed to configure application: %w", err)
	}
	return b.app, nil
}
