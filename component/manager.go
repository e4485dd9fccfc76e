package component

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Observer receives registry activity. The metrics package provides a
// Prometheus-backed implementation.
type Observer interface {
	ComponentAdded(manager, class string)
	ComponentRemoved(manager, class string)
	ComponentInitialized(manager, class string, took time.Duration, err error)
	NameCollision(manager string)
	LookupFailed(manager, reason string)
}

type nopObserver struct{}

func (nopObserver) ComponentAdded(string, string)                              {}
func (nopObserver) ComponentRemoved(string, string)                            {}
func (nopObserver) ComponentInitialized(string, string, time.Duration, error) {}
func (nopObserver) NameCollision(string)                                       {}
func (nopObserver) LookupFailed(string, string)                                {}

// Manager owns a set of named sub-components and brings them to its own
// run-state.
//
// Locking: subMu guards subComponents, initialized and the registry-written
// fields of every child. upgradeMu is held by every mutator for its whole
// scan-then-mutate sequence, so a mutator can scan while readers keep the
// shared side of subMu, and escalate to subMu.Lock only for the mutation.
// Bring-up and tear-down hooks never run under subMu. Registry operations
// must not be called from a constructor passed to AddComponent on the same
// manager.
type Manager struct {
	name     string
	log      logrus.FieldLogger
	observer Observer

	pathMu sync.RWMutex
	path   string

	upgradeMu     sync.Mutex
	subMu         sync.RWMutex
	subComponents []Component
	initialized   bool

	watcherMu sync.RWMutex
	watchers  map[uint64]chan Event
	watcherID uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithPath sets the absolute configuration path inherited by new components.
func WithPath(path string) Option {
	return func(m *Manager) { m.path = path }
}

// WithLogger sets the logger used for registry diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithObserver registers an observer for registry activity.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithInitialized starts the manager in the initialized run-state, so every
// component added afterwards is brought up immediately.
func WithInitialized(initialized bool) Option {
	return func(m *Manager) { m.initialized = initialized }
}

// NewManager creates an empty manager.
func NewManager(name string, opts ...Option) *Manager {
	m := &Manager{
		name:     name,
		log:      logrus.StandardLogger(),
		observer: nopObserver{},
		watchers: make(map[uint64]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("manager", name)
	return m
}

// Name returns the manager name.
func (m *Manager) Name() string { return m.name }

// AbsolutePath resolves rel against the manager path.
func (m *Manager) AbsolutePath(rel string) string {
	m.pathMu.RLock()
	p := m.path
	m.pathMu.RUnlock()

	if rel == "" {
		return p
	}
	if filepath.IsAbs(rel) || p == "" {
		return rel
	}
	return filepath.Join(p, rel)
}

// SetPath changes the path inherited by components added from now on.
// Existing components keep the path they were given.
func (m *Manager) SetPath(path string) {
	m.pathMu.Lock()
	defer m.pathMu.Unlock()
	m.path = path
}

// Initialized reports the run-state of the manager.
func (m *Manager) Initialized() bool {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return m.initialized
}

// Init brings the manager to the initialized run-state and brings up every
// registered component in insertion order. Components added while Init runs
// are brought up exactly once, either here or by AddComponent. Bring-up
// errors are joined; failing components stay registered.
func (m *Manager) Init(ctx context.Context) error {
	m.subMu.Lock()
	if m.initialized {
		m.subMu.Unlock()
		return nil
	}
	m.initialized = true
	subs := slices.Clone(m.subComponents)
	m.subMu.Unlock()

	m.log.Debug("Initializing")

	var errs []error
	for _, c := range subs {
		if c.Parent() != m {
			continue // removed meanwhile
		}
		if err := m.bringUp(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Uninit leaves the initialized run-state and brings down every initialized
// component in reverse insertion order.
func (m *Manager) Uninit(ctx context.Context) error {
	m.subMu.Lock()
	if !m.initialized {
		m.subMu.Unlock()
		return nil
	}
	m.initialized = false
	subs := slices.Clone(m.subComponents)
	m.subMu.Unlock()

	m.log.Debug("Uninitializing")

	var errs []error
	for i := len(subs) - 1; i >= 0; i-- {
		if err := m.bringDown(ctx, subs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close brings the manager down and removes every component, newest first.
func (m *Manager) Close(ctx context.Context) error {
	err := m.Uninit(ctx)

	m.upgradeMu.Lock()
	defer m.upgradeMu.Unlock()

	for len(m.subComponents) > 0 {
		m.teardownLocked(ctx, len(m.subComponents)-1, "Component")
	}
	return err
}

// Configure hands each Configurable component the parameter block stored
// under its instance name. Components without a block are left untouched.
func (m *Manager) Configure(params map[string]map[string]any) error {
	var errs []error
	for _, c := range m.Components() {
		cfg, ok := c.(Configurable)
		if !ok {
			continue
		}
		p, ok := params[c.InstanceName()]
		if !ok {
			continue
		}
		if err := cfg.Configure(p); err != nil {
			m.log.WithField("component", c.InstanceName()).WithError(err).Warn("Configure failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Components returns a snapshot of the registered components in insertion
// order.
func (m *Manager) Components() []Component {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return slices.Clone(m.subComponents)
}

// Names returns the instance names of the registered components in
// insertion order.
func (m *Manager) Names() []string {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	names := make([]string, 0, len(m.subComponents))
	for _, c := range m.subComponents {
		names = append(names, c.InstanceName())
	}
	return names
}

// Len returns the number of registered components.
func (m *Manager) Len() int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subComponents)
}

// HasComponent reports whether a component with the given instance name is
// registered.
func (m *Manager) HasComponent(instance string) bool {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return m.nameTakenLocked(instance)
}

// bringUp runs the bring-up step of c at most once per run-state cycle.
func (m *Manager) bringUp(ctx context.Context, c Component) error {
	b := c.base()
	if !b.beginInit() {
		return nil
	}

	start := time.Now()
	var err error
	if in, ok := c.(Initializer); ok {
		err = in.Init(ctx)
	}
	b.finishInit(err)
	m.observer.ComponentInitialized(m.name, c.ClassName(), time.Since(start), err)

	if err != nil {
		m.log.WithFields(logrus.Fields{
			"component": c.InstanceName(),
			"class":     c.ClassName(),
		}).WithError(err).Warn("Component init failed")
		m.notify(EventInitFailed, c, err)
		return &InitError{Instance: c.InstanceName(), Err: err}
	}

	m.notify(EventInitialized, c, nil)

	// Removed or brought down while Init was running; teardown skipped it.
	if c.Parent() != m || !m.Initialized() {
		m.bringDown(ctx, c)
	}
	return nil
}

func (m *Manager) bringDown(ctx context.Context, c Component) error {
	if !c.base().beginUninit() {
		return nil
	}

	var err error
	if un, ok := c.(Uninitializer); ok {
		err = un.Uninit(ctx)
	}
	if err != nil {
		m.log.WithField("component", c.InstanceName()).WithError(err).Warn("Component uninit failed")
	}
	m.notify(EventUninitialized, c, err)
	return err
}

// teardownLocked brings down and erases subComponents[idx]. The caller holds
// upgradeMu; the exclusive side of subMu is only taken for the erase.
func (m *Manager) teardownLocked(ctx context.Context, idx int, displayName string) {
	c := m.subComponents[idx]
	_ = m.bringDown(ctx, c)

	m.subMu.Lock()
	m.subComponents = slices.Delete(m.subComponents, idx, idx+1)
	c.base().unlink()
	m.subMu.Unlock()

	m.observer.ComponentRemoved(m.name, c.ClassName())
	m.notify(EventRemoved, c, nil)
	m.log.WithField("component", c.InstanceName()).Debugf("Removed %s [%s]", displayName, c.InstanceName())
}
