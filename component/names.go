package component

import (
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// DescriptorSeparator joins a manager name and an instance name in a
// component descriptor. It is not allowed inside instance names.
const DescriptorSeparator = ":"

// numberPlaceholder in a requested instance name is replaced by the lowest
// number that makes the name unique among siblings.
const numberPlaceholder = "#"

// TypeName returns the canonical name of T: the bare type name without
// package path or pointer marker. For *camera.Sensor it returns "Sensor".
func TypeName[T any]() string {
	return typeName(reflect.TypeOf((*T)(nil)).Elem())
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		// Unnamed types (func, struct literals) fall back to their spelling.
		name = t.String()
	}
	// Generic instantiations carry their package-qualified arguments.
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}

// validateName rejects names that would break descriptors, lookups or the
// per-component monitor route.
func validateName(name string) error {
	if strings.Contains(name, DescriptorSeparator) || strings.Contains(name, "/") {
		return ErrInvalidName
	}
	for _, r := range name {
		if unicode.IsSpace(r) {
			return ErrInvalidName
		}
	}
	return nil
}

// computeInstanceName resolves the final instance name. Callers must hold the
// registry write side.
func (m *Manager) computeInstanceName(requested, className string) (string, error) {
	inst := requested
	if inst == "" {
		inst = className + numberPlaceholder
	}
	if err := validateName(inst); err != nil {
		return "", err
	}

	if strings.Contains(inst, numberPlaceholder) {
		for n := 0; ; n++ {
			candidate := strings.ReplaceAll(inst, numberPlaceholder, strconv.Itoa(n))
			if !m.nameTakenLocked(candidate) {
				return candidate, nil
			}
		}
	}

	if m.nameTakenLocked(inst) {
		return "", &NameCollisionError{Manager: m.name, Requested: requested}
	}
	return inst, nil
}

func (m *Manager) nameTakenLocked(name string) bool {
	for _, c := range m.subComponents {
		if c.InstanceName() == name {
			return true
		}
	}
	return false
}
