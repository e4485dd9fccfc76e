package component

import (
	"errors"
	"fmt"
)

// Registry errors
var (
	ErrNameCollision = errors.New("instance name already in use")
	ErrInvalidName   = errors.New("invalid instance name")
	ErrNilComponent  = errors.New("constructor returned a nil component")
	ErrNotFound      = errors.New("component not found")
	ErrTypeMismatch  = errors.New("component type mismatch")
	ErrInitFailed    = errors.New("component initialization failed")
)

// NameCollisionError is returned by AddComponent when the requested name is
// already held by a sibling.
type NameCollisionError struct {
	Manager   string
	Requested string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("provided instance name [%s] clashes with existing sub-components of [%s]", e.Requested, e.Manager)
}

func (e *NameCollisionError) Unwrap() error {
	return ErrNameCollision
}

// InitError reports a failed bring-up. The component stays registered.
type InitError struct {
	Instance string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init of component [%s] failed: %v", e.Instance, e.Err)
}

func (e *InitError) Unwrap() []error {
	return []error{ErrInitFailed, e.Err}
}

// FatalError is the panic value raised by GetComponent when a required child
// is missing or has the wrong type. It marks a programming error and is only
// meant to be converted back into an error by a top-level handler such as
// RecoverFatal.
type FatalError struct {
	Instance string
	Expected string
	Actual   string
	Err      error
}

func (e *FatalError) Error() string {
	if errors.Is(e.Err, ErrTypeMismatch) {
		return fmt.Sprintf("Component [%s] is not of type [%s] (actual type [%s])", e.Instance, e.Expected, e.Actual)
	}
	return fmt.Sprintf("Component [%s] not found", e.Instance)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// RecoverFatal converts a *FatalError panic into an error stored in errp.
// Any other panic value is re-raised. Use it deferred at the top of a call
// chain:
//
//	func run() (err error) {
//		defer component.RecoverFatal(&err)
//		...
//	}
func RecoverFatal(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	fe, ok := r.(*FatalError)
	if !ok {
		panic(r)
	}
	if errp != nil {
		*errp = fe
	}
}
