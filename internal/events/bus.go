package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(CameraOpenedEvent{...})
func (b *Bus) Publish(ev Event) {
	// Use type switch to call the generic Publish with the correct type
	switch e := ev.(type) {
	case SerialsUpdatedEvent:
		event.Publish(b.dispatcher, e)
	case CameraOpenedEvent:
		event.Publish(b.dispatcher, e)
	case CameraClosedEvent:
		event.Publish(b.dispatcher, e)
	case PlayingChangedEvent:
		event.Publish(b.dispatcher, e)
	case SettingsReadEvent:
		event.Publish(b.dispatcher, e)
	case SettingChangedEvent:
		event.Publish(b.dispatcher, e)
	case FrameReceivedEvent:
		event.Publish(b.dispatcher, e)
	case CameraExceptionEvent:
		event.Publish(b.dispatcher, e)
	case WorkerExitedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives (type inference)
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e CameraOpenedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	// The kelindar/event library needs the concrete event type, so match
	// the handler signature against each known type.
	switch h := handler.(type) {
	case func(SerialsUpdatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraOpenedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PlayingChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SettingsReadEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SettingChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameReceivedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraExceptionEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerExitedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// SubscribeToChannel subscribes events of type T onto a channel without
// blocking the dispatcher. Events are dropped when the channel is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}
