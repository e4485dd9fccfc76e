package component

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// Foo is a plain component without hooks.
type Foo struct {
	Base
	label string
}

func newFoo(label string) func(string) *Foo {
	return func(string) *Foo { return &Foo{label: label} }
}

// Bar counts its bring-up and tear-down calls.
type Bar struct {
	Base
	inits   atomic.Int32
	uninits atomic.Int32
	initErr error
	params  map[string]any
	mu      sync.Mutex
}

func (b *Bar) Init(context.Context) error {
	b.inits.Add(1)
	return b.initErr
}

func (b *Bar) Uninit(context.Context) error {
	b.uninits.Add(1)
	return nil
}

func (b *Bar) Configure(params map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, bad := params["fail"]; bad {
		return errors.New("bad parameter")
	}
	b.params = params
	return nil
}

func newBar(string) *Bar { return &Bar{} }

// recordingObserver captures observer callbacks.
type recordingObserver struct {
	mu         sync.Mutex
	added      int
	removed    int
	inits      int
	initErrs   int
	collisions int
	lookups    []string
}

func (o *recordingObserver) ComponentAdded(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.added++
}

func (o *recordingObserver) ComponentRemoved(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed++
}

func (o *recordingObserver) ComponentInitialized(_, _ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inits++
	if err != nil {
		o.initErrs++
	}
}

func (o *recordingObserver) NameCollision(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.collisions++
}

func (o *recordingObserver) LookupFailed(_, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups = append(o.lookups, reason)
}

func newTestManager(opts ...Option) (*Manager, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewManager("mgr", append([]Option{WithLogger(logger)}, opts...)...), hook
}
