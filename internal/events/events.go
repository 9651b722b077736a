// Package events defines the observer contract of the download engine.
//
// An Event is a tagged union: Type selects the variant and the payload
// fields that are meaningful for it. For each run of a job the engine emits
// one Start once the file size is known, zero or more Progress, then one of
// Complete, Error or Paused. A run that fails before the size is known
// emits Error without a preceding Start.
package events

import "sync"

// Type indicates which event variant occurred.
type Type string

const (
	Start    Type = "start"
	Progress Type = "progress"
	Paused   Type = "paused"
	Complete Type = "complete"
	Error    Type = "error"
)

// Event carries one lifecycle or progress notification for a job.
type Event struct {
	Type  Type
	JobID string

	// Start
	TotalBytes int64
	FileName   string

	// Progress
	Downloaded int64
	Total      int64
	Speed      int64 // bytes per second

	// Complete
	FinalPath string

	// Error
	Message string
}

// Emitter receives engine events. Emit must not block the caller for long;
// the engine invokes it from the download hot path.
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(e Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// Bus is a channel-backed Emitter for observers that want to range over
// events. Progress events are dropped when the buffer is full; lifecycle
// events always get through.
type Bus struct {
	ch        chan Event
	closeOnce sync.Once
}

func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{ch: make(chan Event, buffer)}
}

func (b *Bus) Emit(e Event) {
	if e.Type == Progress {
		select {
		case b.ch <- e:
		default:
		}
		return
	}
	b.ch <- e
}

// Events returns the receive side of the bus.
func (b *Bus) Events() <-chan Event { return b.ch }

// Close closes the event channel. Call only after the emitting job has
// returned from Start.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.ch) })
}
