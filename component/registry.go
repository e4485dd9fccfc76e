package component

import (
	"context"
	"errors"
	"reflect"
)

// AddComponent constructs a component of type T, registers it under a unique
// instance name and, when m is already initialized, brings it up.
//
// An empty instance name defaults to "<TypeName>#". Every '#' in the name is
// replaced by the lowest number giving a free name; any other name that is
// already taken fails with a *NameCollisionError before newFn is called.
// newFn receives the resolved name; pass constructor arguments by closing
// over them.
//
// Bring-up runs outside the registry locks. If it fails the component stays
// registered in StateFailed and is returned together with an *InitError.
func AddComponent[T Component](ctx context.Context, m *Manager, instance string, newFn func(instance string) T) (T, error) {
	comp, initialized, err := insertComponent(m, instance, newFn)
	if err != nil {
		var zero T
		if errors.Is(err, ErrNameCollision) {
			m.observer.NameCollision(m.name)
		}
		m.log.WithField("component", instance).WithError(err).Debug("Adding component rejected")
		return zero, err
	}

	m.log.WithField("component", comp.InstanceName()).Debugf("Adding Component [%s]", comp.InstanceName())
	m.observer.ComponentAdded(m.name, comp.ClassName())
	m.notify(EventAdded, comp, nil)

	if initialized {
		if err := m.bringUp(ctx, comp); err != nil {
			return comp, err
		}
	}
	return comp, nil
}

// insertComponent resolves the name, constructs, links and appends the new
// component. The component is fully linked before it becomes visible.
func insertComponent[T Component](m *Manager, instance string, newFn func(string) T) (T, bool, error) {
	var zero T

	m.upgradeMu.Lock()
	defer m.upgradeMu.Unlock()

	name, err := m.computeInstanceName(instance, TypeName[T]())
	if err != nil {
		return zero, false, err
	}

	comp := newFn(name)
	if isNil(comp) {
		return zero, false, ErrNilComponent
	}
	comp.base().link(m, name, typeName(reflect.TypeOf(comp)))

	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subComponents = append(m.subComponents, comp)

	return comp, m.initialized, nil
}

// GetComponent returns the component registered under instance as a T.
//
// A missing name or a component of another type is a programming error:
// GetComponent logs it and panics with a *FatalError. With T = Component the
// match is returned as is.
func GetComponent[T Component](m *Manager, instance string) T {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for _, c := range m.subComponents {
		if c.InstanceName() != instance {
			continue
		}
		if typed, ok := c.(T); ok {
			return typed
		}
		panic(m.fatal(&FatalError{
			Instance: instance,
			Expected: TypeName[T](),
			Actual:   typeName(reflect.TypeOf(c)),
			Err:      ErrTypeMismatch,
		}, "type_mismatch"))
	}

	panic(m.fatal(&FatalError{Instance: instance, Expected: TypeName[T](), Err: ErrNotFound}, "not_found"))
}

func (m *Manager) fatal(fe *FatalError, reason string) *FatalError {
	m.observer.LookupFailed(m.name, reason)
	m.log.WithField("component", fe.Instance).Error(fe.Error())
	return fe
}

// RemoveComponent detaches the component referenced by *handle, matched by
// identity. On success *handle is cleared before the component is brought
// down and erased, and true is returned. An unknown handle is reported in the
// log and ignored.
func RemoveComponent[T Component](ctx context.Context, m *Manager, handle *T) bool {
	if handle == nil || isNil(*handle) {
		m.log.Error("Cannot remove a nil component. Ignored.")
		return false
	}
	target := (*handle).base()

	m.upgradeMu.Lock()
	defer m.upgradeMu.Unlock()

	for i, c := range m.subComponents {
		if c.base() != target {
			continue
		}
		var zero T
		*handle = zero
		m.teardownLocked(ctx, i, "Component")
		return true
	}

	name := target.InstanceName()
	m.log.WithField("component", name).Errorf("Component [%s] not found. Ignored.", name)
	return false
}

// RemoveComponentByName detaches the component registered under instance.
// A missing name is logged only when warnIfNotFound is set.
func (m *Manager) RemoveComponentByName(ctx context.Context, instance string, warnIfNotFound bool) bool {
	m.upgradeMu.Lock()
	defer m.upgradeMu.Unlock()

	for i, c := range m.subComponents {
		if c.InstanceName() == instance {
			m.teardownLocked(ctx, i, "Component")
			return true
		}
	}

	if warnIfNotFound {
		m.log.WithField("component", instance).Warnf("Component [%s] not found. Ignored.", instance)
	}
	return false
}

func isNil(c Component) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
