package events

import "stationd/core/types"

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Recorder is implemented by events that can flatten themselves into the
// generic, loggable record shape so a downstream sink doesn't need to know
// about every concrete event type.
type Recorder interface {
	Record() types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
