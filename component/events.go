package component

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType represents the kind of change a Manager reports to its watchers.
type EventType uint8

const (
	// EventAdded indicates a component was linked into the manager
	EventAdded EventType = iota

	// EventInitialized indicates a component completed bring-up
	EventInitialized

	// EventInitFailed indicates bring-up of a component returned an error
	EventInitFailed

	// EventUninitialized indicates a component was brought down
	EventUninitialized

	// EventRemoved indicates a component was detached from the manager
	EventRemoved
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventInitialized:
		return "initialized"
	case EventInitFailed:
		return "init_failed"
	case EventUninitialized:
		return "uninitialized"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes a change in the component set of a manager.
type Event struct {
	ID        uuid.UUID
	Type      EventType
	Manager   string
	Instance  string
	Class     string
	Err       error
	Timestamp time.Time
}

const watcherBuffer = 100

// Watch returns a channel receiving every subsequent event of the manager.
// The channel is closed when ctx is done. Slow watchers miss events rather
// than stall the registry.
func (m *Manager) Watch(ctx context.Context) <-chan Event {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	m.watcherID++
	id := m.watcherID

	ch := make(chan Event, watcherBuffer)
	m.watchers[id] = ch

	go func() {
		<-ctx.Done()
		m.watcherMu.Lock()
		delete(m.watchers, id)
		close(ch)
		m.watcherMu.Unlock()
	}()

	return ch
}

func (m *Manager) notify(t EventType, c Component, err error) {
	ev := Event{
		ID:        uuid.New(),
		Type:      t,
		Manager:   m.name,
		Instance:  c.InstanceName(),
		Class:     c.ClassName(),
		Err:       err,
		Timestamp: time.Now(),
	}

	m.watcherMu.RLock()
	defer m.watcherMu.RUnlock()

	for _, w := range m.watchers {
		select {
		case w <- ev:
		default:
			// Channel is full, skip this watcher
		}
	}
}
