package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultLifecycleManager implements the LifecycleManager interface
type DefaultLifecycleManager struct {
	// services holds all registered services
	services map[string]Service

	// dependencies tracks service dependencies
	dependencies map[string][]string

	// startOrder tracks the order services were started
	startOrder []string

	// mutex protects concurrent access
	mutex sync.RWMutex

	// started indicates if the lifecycle manager has been started
	started bool

	// stopping indicates if the lifecycle manager is shutting down
	stopping bool

	// eventChan for broadcasting lifecycle events
	eventChan chan LifecycleEvent

	// listeners for lifecycle events
	listeners []func(LifecycleEvent)

	// timeouts for service operations
	startTimeout time.Duration
	stopTimeout  time.Duration

	log logrus.FieldLogger
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(log logrus.FieldLogger) *DefaultLifecycleManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DefaultLifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		eventChan:    make(chan LifecycleEvent, 100),
		startTimeout: 30 * time.Second,
		stopTimeout:  30 * time.Second,
		log:          log.WithField("subsystem", "lifecycle"),
	}
}

// Register registers a service with the lifecycle manager
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	if name == "" {
		return errors.New("service name cannot be empty")
	}
	if service == nil {
		return errors.New("service cannot be nil")
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return fmt.Errorf("cannot register service %s: lifecycle manager already started", name)
	}

	if _, exists := lm.services[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	lm.services[name] = service
	lm.dependencies[name] = deps

	lm.broadcastEvent(LifecycleEvent{
		Type:      "service.registered",
		Service:   name,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"dependencies": deps},
	})

	return nil
}

// Start starts all services in dependency order. When a service fails to
// start, the services already started are stopped in reverse order.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return errors.New("lifecycle manager already started")
	}

	startOrder, err := lm.calculateStartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate start order: %w", err)
	}

	lm.broadcastEvent(LifecycleEvent{
		Type:      "lifecycle.starting",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"order": startOrder},
	})

	for _, serviceName := range startOrder {
		service := lm.services[serviceName]

		lm.broadcastEvent(LifecycleEvent{
			Type:      "service.starting",
			Service:   serviceName,
			Timestamp: time.Now(),
		})

		startCtx, cancel := context.WithTimeout(ctx, lm.startTimeout)
		err := service.Start(startCtx)
		cancel()

		if err != nil {
			lm.broadcastEvent(LifecycleEvent{
				Type:      "service.start_failed",
				Service:   serviceName,
				Timestamp: time.Now(),
				Error:     err,
			})
			lm.log.WithField("service", serviceName).WithError(err).Error("Service failed to start")
			lm.stopStarted(ctx)
			return &ApplicationError{Operation: "start", Service: serviceName, Err: err}
		}

		lm.startOrder = append(lm.startOrder, serviceName)
		lm.log.WithField("service", serviceName).Debug("Service started")

		lm.broadcastEvent(LifecycleEvent{
			Type:      "service.started",
			Service:   serviceName,
			Timestamp: time.Now(),
		})
	}

	lm.started = true

	lm.broadcastEvent(LifecycleEvent{
		Type:      "lifecycle.started",
		Timestamp: time.Now(),
	})

	return nil
}

// Stop stops all services in reverse dependency order
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if !lm.started {
		return nil // Already stopped
	}

	if lm.stopping {
		return errors.New("lifecycle manager already stopping")
	}

	lm.stopping = true

	lm.broadcastEvent(LifecycleEvent{
		Type:      "lifecycle.stopping",
		Timestamp: time.Now(),
	})

	err := lm.stopStarted(ctx)

	lm.started = false
	lm.stopping = false

	lm.broadcastEvent(LifecycleEvent{
		Type:      "lifecycle.stopped",
		Timestamp: time.Now(),
	})

	return err
}

// stopStarted stops every started service, newest first. Caller holds mutex.
func (lm *DefaultLifecycleManager) stopStarted(ctx context.Context) error {
	var errs []error

	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		serviceName := lm.startOrder[i]
		service := lm.services[serviceName]

		lm.broadcastEvent(LifecycleEvent{
			Type:      "service.stopping",
			Service:   serviceName,
			Timestamp: time.Now(),
		})

		stopCtx, cancel := context.WithTimeout(ctx, lm.stopTimeout)
		err := service.Stop(stopCtx)
		cancel()

		if err != nil {
			errs = append(errs, &ApplicationError{Operation: "stop", Service: serviceName, Err: err})
			lm.log.WithField("service", serviceName).WithError(err).Warn("Service failed to stop")
			lm.broadcastEvent(LifecycleEvent{
				Type:      "service.stop_failed",
				Service:   serviceName,
				Timestamp: time.Now(),
				Error:     err,
			})
		} else {
			lm.broadcastEvent(LifecycleEvent{
				Type:      "service.stopped",
				Service:   serviceName,
				Timestamp: time.Now(),
			})
		}
	}

	lm.startOrder = nil
	return errors.Join(errs...)
}

// Health returns the health status of all services
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mutex.RLock()
	services := make(map[string]Service, len(lm.services))
	for name, service := range lm.services {
		services[name] = service
	}
	lm.mutex.RUnlock()

	health := make(map[string]HealthStatus, len(services))

	for name, service := range services {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := service.Health(healthCtx)
		cancel()

		if err != nil {
			health[name] = HealthStatus{
				State:     HealthUnhealthy,
				Message:   err.Error(),
				LastCheck: time.Now(),
			}
		} else {
			health[name] = status
		}
	}

	return health, nil
}

// Services returns all registered service names
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Events returns a channel for lifecycle events
func (lm *DefaultLifecycleManager) Events() <-chan LifecycleEvent {
	return lm.eventChan
}

// AddListener adds a lifecycle event listener
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.listeners = append(lm.listeners, listener)
}

// calculateStartOrder calculates the order to start services based on
// dependencies. Services with no ordering constraint between them start in
// name order.
func (lm *DefaultLifecycleManager) calculateStartOrder() ([]string, error) {
	// Topological sort using Kahn's algorithm
	inDegree := make(map[string]int)
	graph := make(map[string][]string)

	for service := range lm.services {
		inDegree[service] = 0
		graph[service] = []string{}
	}

	for service, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.services[dep]; !exists {
				return nil, fmt.Errorf("dependency %s of service %s is not registered", dep, service)
			}
			graph[dep] = append(graph[dep], service)
			inDegree[service]++
		}
	}

	queue := []string{}
	for service, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, service)
		}
	}
	sort.Strings(queue)

	result := []string{}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		next := graph[current]
		sort.Strings(next)
		for _, dependent := range next {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(lm.services) {
		return nil, errors.New("circular dependency detected")
	}

	return result, nil
}

// broadcastEvent broadcasts a lifecycle event to all listeners
func (lm *DefaultLifecycleManager) broadcastEvent(event LifecycleEvent) {
	// Send to channel (non-blocking)
	select {
	case lm.eventChan <- event:
	default:
	}

	for _, listener := range lm.listeners {
		go func(l func(LifecycleEvent)) {
			defer func() {
				if r := recover(); r != nil {
					lm.log.Errorf("Lifecycle listener panicked: %v", r)
				}
			}()
			l(event)
		}(listener)
	}
}

// SetTimeouts sets the timeouts for service start and stop operations
func (lm *DefaultLifecycleManager) SetTimeouts(start, stop time.Duration) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.startTimeout = start
	lm.stopTimeout = stop
}

// IsStarted returns true if the lifecycle manager has been started
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	return lm.started
}

// GetService returns a registered service by name
func (lm *DefaultLifecycleManager) GetService(name string) (Service, bool) {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	service, exists := lm.services[name]
	return service, exists
}

// GetDependencies returns the dependencies for a service
func (lm *DefaultLifecycleManager) GetDependencies(name string) ([]string, bool) {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	deps, exists := lm.dependencies[name]
	if !exists {
		return nil, false
	}

	result := make([]string, len(deps))
	copy(result, deps)
	return result, true
}
