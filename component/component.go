package component

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// State is the run-state of a single component.
type State uint8

const (
	// StateConstructed means the component is registered but not brought up
	StateConstructed State = iota

	// StateInitializing means bring-up is in progress
	StateInitializing

	// StateInitialized means bring-up completed successfully
	StateInitialized

	// StateFailed means bring-up returned an error; the component stays registered
	StateFailed

	// StateUninitialized means the component was brought down
	StateUninitialized
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateFailed:
		return "failed"
	case StateUninitialized:
		return "uninitialized"
	default:
		return "unknown"
	}
}

// Component is the capability shared by everything a Manager can own.
// It can only be satisfied by embedding Base, so the generic registry
// operations reject foreign types at compile time.
type Component interface {
	UID() uuid.UUID
	InstanceName() string
	ClassName() string
	Descriptor() string
	Parent() *Manager
	Path() string
	SetPath(path string)
	AbsolutePath(rel string) string
	State() State
	Initialized() bool

	base() *Base
}

// Initializer is implemented by components that need work done when they are
// brought to the run-state of their manager.
type Initializer interface {
	Init(ctx context.Context) error
}

// Uninitializer is implemented by components that release resources when
// they are brought down or removed.
type Uninitializer interface {
	Uninit(ctx context.Context) error
}

// Configurable is implemented by components that accept a parameter block
// from the configuration file, keyed by their instance name.
type Configurable interface {
	Configure(params map[string]any) error
}

// Base carries the registry-owned fields of a component. Embed it by value:
//
//	type Camera struct {
//		component.Base
//		fps int
//	}
//
// Instance name, class name and UID are written once while the component is
// linked into its manager and never change afterwards.
type Base struct {
	uid          uuid.UUID
	instanceName string
	className    string

	mu     sync.RWMutex
	parent *Manager
	path   string
	state  State
}

func (b *Base) base() *Base { return b }

// UID returns the unique identifier assigned when the component was added.
func (b *Base) UID() uuid.UUID { return b.uid }

// InstanceName returns the name that identifies the component among its siblings.
func (b *Base) InstanceName() string { return b.instanceName }

// ClassName returns the canonical type name of the component.
func (b *Base) ClassName() string { return b.className }

// Parent returns the owning manager, or nil once the component was removed.
// The manager does not stay alive because of this pointer; it is only valid
// while the component is registered.
func (b *Base) Parent() *Manager {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.parent
}

// Descriptor returns "<manager>:<instance>", or the bare instance name for a
// detached component.
func (b *Base) Descriptor() string {
	if p := b.Parent(); p != nil {
		return p.Name() + DescriptorSeparator + b.instanceName
	}
	return b.instanceName
}

// Path returns the configuration path of the component.
func (b *Base) Path() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.path
}

// SetPath replaces the configuration path of the component.
func (b *Base) SetPath(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.path = path
}

// AbsolutePath resolves rel against the component path. Absolute inputs are
// returned untouched and an empty input yields the component path itself.
func (b *Base) AbsolutePath(rel string) string {
	p := b.Path()
	if rel == "" {
		return p
	}
	if filepath.IsAbs(rel) || p == "" {
		return rel
	}
	return filepath.Join(p, rel)
}

// State returns the current run-state.
func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Initialized reports whether bring-up completed successfully.
func (b *Base) Initialized() bool {
	return b.State() == StateInitialized
}

// link attaches the component to m. Called before the component is visible
// to any reader.
func (b *Base) link(m *Manager, instance, className string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uid = uuid.New()
	b.instanceName = instance
	b.className = className
	b.parent = m
	b.path = m.AbsolutePath("")
	b.state = StateConstructed
}

func (b *Base) unlink() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent = nil
}

// beginInit claims the bring-up of the component. It returns false when the
// component is already up or being brought up.
func (b *Base) beginInit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateConstructed, StateUninitialized:
		b.state = StateInitializing
		return true
	default:
		return false
	}
}

func (b *Base) finishInit(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.state = StateFailed
		return
	}
	b.state = StateInitialized
}

// beginUninit claims the tear-down of an initialized component.
func (b *Base) beginUninit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateInitialized {
		return false
	}
	b.state = StateUninitialized
	return true
}
