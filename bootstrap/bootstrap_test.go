package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/compmgr/component"
	"github.com/najoast/compmgr/config"
)

// TestService is a simple service implementation for testing
type TestService struct {
	name     string
	startErr error
	order    *[]string
	mu       *sync.Mutex
	started  atomic.Bool
	stopped  atomic.Bool
}

func newTestService(name string, order *[]string, mu *sync.Mutex) *TestService {
	return &TestService{name: name, order: order, mu: mu}
}

func (s *TestService) record(what string) {
	if s.order == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.order = append(*s.order, what+":"+s.name)
}

func (s *TestService) Name() string {
	return s.name
}

func (s *TestService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.record("start")
	s.started.Store(true)
	return nil
}

func (s *TestService) Stop(ctx context.Context) error {
	s.record("stop")
	s.stopped.Store(true)
	return nil
}

func (s *TestService) Health(ctx context.Context) (HealthStatus, error) {
	if s.started.Load() && !s.stopped.Load() {
		return HealthStatus{
			State:   HealthHealthy,
			Message: "Service is running",
		}, nil
	}
	return HealthStatus{
		State:   HealthUnhealthy,
		Message: "Service is not running",
	}, nil
}

// sensor is a component that records its hooks.
type sensor struct {
	component.Base
	initErr error
	inits   atomic.Int32
	uninits atomic.Int32

	mu     sync.Mutex
	params map[string]any
}

func (s *sensor) Init(context.Context) error {
	s.inits.Add(1)
	return s.initErr
}

func (s *sensor) Uninit(context.Context) error {
	s.uninits.Add(1)
	return nil
}

func (s *sensor) Configure(params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	return nil
}

func (s *sensor) param(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[key]
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Log.Level = config.LogLevelError
	cfg.Manager.Name = "engine"
	return cfg
}

func TestLifecycleManager(t *testing.T) {
	lm := NewLifecycleManager(quietLogger())
	testService := &TestService{name: "test"}

	require.NoError(t, lm.Register("test", testService))
	assert.Error(t, lm.Register("test", testService))
	assert.Error(t, lm.Register("", testService))
	assert.Error(t, lm.Register("nil", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, lm.Start(ctx))
	assert.True(t, lm.IsStarted())
	assert.True(t, testService.started.Load())
	assert.Error(t, lm.Start(ctx))
	assert.Error(t, lm.Register("late", &TestService{name: "late"}))

	health, err := lm.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, health["test"].State)

	require.NoError(t, lm.Stop(ctx))
	assert.True(t, testService.stopped.Load())
	assert.False(t, lm.IsStarted())

	// Stopping a stopped manager is a no-op.
	require.NoError(t, lm.Stop(ctx))
}

func TestLifecycleDependencyOrder(t *testing.T) {
	lm := NewLifecycleManager(quietLogger())
	var order []string
	var mu sync.Mutex

	require.NoError(t, lm.Register("api", newTestService("api", &order, &mu), "db", "cache"))
	require.NoError(t, lm.Register("cache", newTestService("cache", &order, &mu), "db"))
	require.NoError(t, lm.Register("db", newTestService("db", &order, &mu)))
	require.NoError(t, lm.Register("audit", newTestService("audit", &order, &mu)))

	ctx := context.Background()
	require.NoError(t, lm.Start(ctx))
	require.NoError(t, lm.Stop(ctx))

	assert.Equal(t, []string{
		"start:audit", "start:db", "start:cache", "start:api",
		"stop:api", "stop:cache", "stop:db", "stop:audit",
	}, order)

	deps, ok := lm.GetDependencies("api")
	require.True(t, ok)
	assert.Equal(t, []string{"db", "cache"}, deps)
	assert.Equal(t, []string{"api", "audit", "cache", "db"}, lm.Services())
}

func TestLifecycleStartFailureRollsBack(t *testing.T) {
	lm := NewLifecycleManager(quietLogger())
	var order []string
	var mu sync.Mutex

	first := newTestService("first", &order, &mu)
	broken := newTestService("second", &order, &mu)
	broken.startErr = errors.New("port in use")

	require.NoError(t, lm.Register("first", first))
	require.NoError(t, lm.Register("second", broken, "first"))

	err := lm.Start(context.Background())
	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "second", appErr.Service)
	assert.Equal(t, "start failed for service second: port in use", err.Error())

	assert.Equal(t, []string{"start:first", "stop:first"}, order)
	assert.False(t, lm.IsStarted())
}

func TestLifecycleInvalidGraph(t *testing.T) {
	lm := NewLifecycleManager(quietLogger())
	require.NoError(t, lm.Register("a", &TestService{name: "a"}, "b"))
	require.NoError(t, lm.Register("b", &TestService{name: "b"}, "a"))
	assert.ErrorContains(t, lm.Start(context.Background()), "circular dependency")

	lm = NewLifecycleManager(quietLogger())
	require.NoError(t, lm.Register("a", &TestService{name: "a"}, "ghost"))
	assert.ErrorContains(t, lm.Start(context.Background()), "ghost")
}

func TestLifecycleEvents(t *testing.T) {
	lm := NewLifecycleManager(quietLogger())
	seen := make(chan string, 32)
	lm.AddListener(func(ev LifecycleEvent) { seen <- ev.Type })
	lm.AddListener(func(LifecycleEvent) { panic("listener bug") })

	require.NoError(t, lm.Register("svc", &TestService{name: "svc"}))
	require.NoError(t, lm.Start(context.Background()))

	ev := <-lm.Events()
	assert.Equal(t, "service.registered", ev.Type)
	assert.Equal(t, "svc", ev.Service)

	got := map[string]bool{}
	deadline := time.After(time.Second)
	for !got["lifecycle.started"] {
		select {
		case typ := <-seen:
			got[typ] = true
		case <-deadline:
			t.Fatalf("lifecycle.started not delivered, got %v", got)
		}
	}
}

func TestApplication(t *testing.T) {
	app := NewApplication()

	assert.Nil(t, app.Manager())
	assert.Error(t, app.Configure(nil))

	bad := testConfig()
	bad.Manager.Name = "bad:name"
	assert.ErrorIs(t, app.Configure(bad), config.ErrInvalidManagerName)

	require.NoError(t, app.Configure(testConfig()))
	require.NotNil(t, app.Manager())
	assert.Equal(t, "engine", app.Manager().Name())
	assert.NotNil(t, app.Metrics())
	assert.Nil(t, app.Monitor())

	assert.Equal(t, []string{ServiceComponents, ServiceConfigWatcher, ServiceMonitor}, app.LifecycleManager().Services())
}

// runApp runs app in the background and waits for its components to come up.
func runApp(t *testing.T, app *DefaultApplication) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		lm := app.LifecycleManager().(*DefaultLifecycleManager)
		return lm.IsStarted()
	}, 3*time.Second, 10*time.Millisecond)
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
		return nil
	}
}

func TestApplicationRun(t *testing.T) {
	var cam *sensor
	cfg := testConfig()
	cfg.Components = map[string]config.ComponentParams{"cam0": {"fps": 30}}

	app, err := NewApplicationBuilder().
		WithConfig(cfg).
		WithComponents(func(ctx context.Context, m *component.Manager) error {
			var err error
			cam, err = component.AddComponent(ctx, m, "cam#", func(string) *sensor { return &sensor{} })
			return err
		}).
		Build()
	require.NoError(t, err)

	cancel, done := runApp(t, app)

	assert.Equal(t, "cam0", cam.InstanceName())
	assert.Equal(t, "engine:cam0", cam.Descriptor())
	assert.True(t, cam.Initialized())
	assert.Equal(t, 30, cam.param("fps"))

	health, err := app.LifecycleManager().Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, health[ServiceComponents].State)
	assert.Equal(t, HealthUnknown, health[ServiceMonitor].State)

	cancel()
	require.NoError(t, wait(t, done))

	assert.EqualValues(t, 1, cam.uninits.Load())
	assert.Nil(t, cam.Parent())
	assert.Zero(t, app.Manager().Len())
}

func TestApplicationReportsFailedComponents(t *testing.T) {
	app, err := NewApplicationBuilder().
		WithConfig(testConfig()).
		WithComponents(func(ctx context.Context, m *component.Manager) error {
			_, err := component.AddComponent(ctx, m, "broken", func(string) *sensor {
				return &sensor{initErr: errors.New("no device")}
			})
			return err
		}).
		Build()
	require.NoError(t, err)

	cancel, done := runApp(t, app)
	defer func() {
		cancel()
		wait(t, done)
	}()

	status, err := (&ComponentsService{app: app}).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthUnhealthy, status.State)
	assert.Equal(t, []string{"broken"}, status.Data["failed_components"])

	healthy, _ := app.health(context.Background())
	assert.False(t, healthy)
}

func TestApplicationRunRecoversFatalLookup(t *testing.T) {
	app, err := NewApplicationBuilder().
		WithConfig(testConfig()).
		WithComponents(func(ctx context.Context, m *component.Manager) error {
			if _, err := component.AddComponent(ctx, m, "cam", func(string) *sensor { return &sensor{} }); err != nil {
				return err
			}
			component.GetComponent[*sensor](m, "detector")
			return nil
		}).
		Build()
	require.NoError(t, err)

	err = app.Run(context.Background())
	require.ErrorIs(t, err, component.ErrNotFound)

	var fatal *component.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "detector", fatal.Instance)

	// The partially built tree was torn down.
	assert.Zero(t, app.Manager().Len())
}

func TestApplicationSetupError(t *testing.T) {
	app, err := NewApplicationBuilder().
		WithConfig(testConfig()).
		WithComponents(func(ctx context.Context, m *component.Manager) error {
			if _, err := component.AddComponent(ctx, m, "cam", func(string) *sensor { return &sensor{} }); err != nil {
				return err
			}
			_, err := component.AddComponent(ctx, m, "cam", func(string) *sensor { return &sensor{} })
			return err
		}).
		Build()
	require.NoError(t, err)

	err = app.Run(context.Background())
	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "setup", appErr.Operation)
	assert.ErrorIs(t, err, component.ErrNameCollision)
}

func TestApplicationBuilderErrors(t *testing.T) {
	_, err := NewApplicationBuilder().
		WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")).
		Build()
	assert.ErrorIs(t, err, config.ErrConfigFileNotFound)

	_, err = NewApplicationBuilder().
		WithService(ServiceComponents, &TestService{name: "dup"}).
		Build()
	assert.Error(t, err)
}

func TestApplicationCustomService(t *testing.T) {
	var order []string
	var mu sync.Mutex
	svc := newTestService("worker", &order, &mu)

	app, err := NewApplicationBuilder().
		WithConfig(testConfig()).
		WithService("worker", svc, ServiceComponents).
		Build()
	require.NoError(t, err)

	cancel, done := runApp(t, app)
	assert.True(t, svc.started.Load())
	assert.True(t, app.Manager().Initialized())

	cancel()
	require.NoError(t, wait(t, done))
	assert.True(t, svc.stopped.Load())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestApplicationMonitor(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.Enabled = true
	cfg.Monitor.Namespace = "apptest"
	cfg.Monitor.HTTP.Address = "127.0.0.1"
	cfg.Monitor.HTTP.Port = freePort(t)

	app, err := NewApplicationBuilder().
		WithConfig(cfg).
		WithComponents(func(ctx context.Context, m *component.Manager) error {
			_, err := component.AddComponent(ctx, m, "", func(string) *sensor { return &sensor{} })
			return err
		}).
		Build()
	require.NoError(t, err)

	cancel, done := runApp(t, app)
	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Monitor.HTTP.Port)

	body := httpGet(t, base+"/components")
	assert.Contains(t, body, `"instance":"sensor0"`)

	body = httpGet(t, base+"/metrics")
	assert.Contains(t, body, `apptest_components_registered{manager="engine"} 1`)

	body = httpGet(t, base+"/health")
	assert.Contains(t, body, `"components"`)

	cancel()
	require.NoError(t, wait(t, done))
	assert.Nil(t, app.Monitor().Addr())
}

func httpGet(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, url)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestApplicationHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compmgr.yaml")
	write := func(fps int, level string) {
		content := fmt.Sprintf(`
log:
  level: %s
manager:
  name: engine
  hot_reload: true
components:
  cam0:
    fps: %d
`, level, fps)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	write(30, "error")

	var cam *sensor
	app, err := NewApplicationBuilder().
		WithConfigFile(path).
		WithComponents(func(ctx context.Context, m *component.Manager) error {
			var err error
			cam, err = component.AddComponent(ctx, m, "cam0", func(string) *sensor { return &sensor{} })
			return err
		}).
		Build()
	require.NoError(t, err)

	cancel, done := runApp(t, app)
	defer func() {
		cancel()
		wait(t, done)
	}()

	assert.Equal(t, 30, cam.param("fps"))

	svc, ok := app.lifecycleManager.GetService(ServiceConfigWatcher)
	require.True(t, ok)
	status, err := svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, status.State)
	assert.Equal(t, path, status.Data["file"])

	time.Sleep(100 * time.Millisecond)
	write(60, "debug")

	assert.Eventually(t, func() bool {
		return cam.param("fps") == 60
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return app.log.GetLevel() == logrus.DebugLevel
	}, time.Second, 20*time.Millisecond)
}

func TestApplicationDebugMode(t *testing.T) {
	cfg := testConfig()
	cfg.App.Debug = true

	app := NewApplication()
	require.NoError(t, app.Configure(cfg))
	assert.Equal(t, logrus.DebugLevel, app.log.GetLevel())

	cfg = testConfig()
	cfg.App.Debug = true
	cfg.App.Environment = config.EnvProduction
	require.NoError(t, app.Configure(cfg))
	assert.Equal(t, logrus.ErrorLevel, app.log.GetLevel())
}

func TestApplicationReleasesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	cfg := testConfig()
	cfg.Log.Level = config.LogLevelInfo
	cfg.Log.Output = path

	app := NewApplication()
	require.NoError(t, app.Configure(cfg))
	first := app.log.Out.(*os.File)

	// Reconfiguring releases the previous file.
	require.NoError(t, app.Configure(cfg))
	assert.ErrorIs(t, first.Close(), os.ErrClosed)

	for i := 0; i < 2; i++ {
		cancel, done := runApp(t, app)
		cancel()
		require.NoError(t, wait(t, done))

		assert.Nil(t, app.logOut)
		assert.Equal(t, os.Stderr, app.log.Out)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "started"))
}

func TestConfigWatcherServiceStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compmgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manager:\n  name: engine\n  hot_reload: true\n"), 0644))

	app, err := NewApplicationBuilder().WithConfigFile(path).Build()
	require.NoError(t, err)
	app.log.SetOutput(io.Discard)

	svc := &ConfigWatcherService{app: app}
	require.NoError(t, svc.Start(context.Background()))
	watcher := svc.provider.(*config.FileProvider).Watcher()

	require.NoError(t, svc.Stop(context.Background()))
	assert.Nil(t, svc.provider)
	assert.NoError(t, watcher.Stop())

	status, err := svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthUnknown, status.State)
}
