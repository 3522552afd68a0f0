// Package telemetry fans out connection state and battery readings to
// in-process observers and websocket clients.
package telemetry

import (
	"sync"
	"time"

	"github.com/chaz8081/glancectl/internal/ble"
)

// EventType names what an Event reports.
type EventType string

const (
	EventState   EventType = "state"
	EventBattery EventType = "battery"
)

// Event is one telemetry sample.
type Event struct {
	Type      EventType `json:"type"`
	Device    string    `json:"device"`
	State     string    `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
	Battery   *int      `json:"battery,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateEvent converts a Manager transition.
func StateEvent(c ble.StateChange) Event {
	ev := Event{Type: EventState, Device: c.Device, State: c.To.String(), Timestamp: c.At}
	if c.Err != nil {
		ev.Error = c.Err.Error()
	}
	return ev
}

// BatteryEvent reports a battery percentage.
func BatteryEvent(device string, level int, at time.Time) Event {
	return Event{Type: EventBattery, Device: device, Battery: &level, Timestamp: at}
}

// Hub is the observer registry. Publish calls every observer in
// registration order on the caller's goroutine.
type Hub struct {
	mu        sync.Mutex
	observers map[int]func(Event)
	nextID    int
	latest    map[EventType]Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		observers: make(map[int]func(Event)),
		latest:    make(map[EventType]Event),
	}
}

// Register adds fn and returns a func that removes it.
func (h *Hub) Register(fn func(Event)) (cancel func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.observers[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.observers, id)
		h.mu.Unlock()
	}
}

// Publish records ev as the latest of its type and delivers it.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	h.latest[ev.Type] = ev
	fns := make([]func(Event), 0, len(h.observers))
	for i := 0; i < h.nextID; i++ {
		if fn, ok := h.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Latest returns the most recent event of each type, state first.
func (h *Hub) Latest() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, t := range []EventType{EventState, EventBattery} {
		if ev, ok := h.latest[t]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// ObserveManager publishes every state change of m until the returned
// func is called.
func (h *Hub) ObserveManager(m *ble.Manager) (cancel func()) {
	return m.Observe(func(c ble.StateChange) { h.Publish(StateEvent(c)) })
}
