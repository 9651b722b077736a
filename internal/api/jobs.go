package api

import (
	"sync"

	"turbodl/internal/engine"
	"turbodl/internal/events"
)

// managedJob pairs a running engine job with the server-side event fanout.
// It implements events.Emitter; the engine pushes into it and every SSE
// subscriber gets a copy.
type managedJob struct {
	job *engine.Job

	mu          sync.Mutex
	last        events.Event
	subscribers map[chan events.Event]struct{}
}

func newManagedJob() *managedJob {
	return &managedJob{subscribers: make(map[chan events.Event]struct{})}
}

func (m *managedJob) Emit(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = e
	for sub := range m.subscribers {
		select {
		case sub <- e:
		default: // slow subscriber drops samples, never blocks the engine
		}
	}
}

func (m *managedJob) subscribe() chan events.Event {
	sub := make(chan events.Event, 16)
	m.mu.Lock()
	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()
	return sub
}

func (m *managedJob) unsubscribe(sub chan events.Event) {
	m.mu.Lock()
	delete(m.subscribers, sub)
	m.mu.Unlock()
}

// reopen resets nothing on the engine side; it exists so a resumed job gets
// a clean "last event" for new subscribers.
func (m *managedJob) reopen() {
	m.mu.Lock()
	m.last = events.Event{}
	m.mu.Unlock()
}

func (m *managedJob) statusPayload() map[string]interface{} {
	m.mu.Lock()
	last := m.last
	m.mu.Unlock()

	p := map[string]interface{}{
		"id":         m.job.ID(),
		"status":     string(m.job.Status()),
		"fileName":   m.job.FileName(),
		"downloaded": m.job.Downloaded(),
		"total":      m.job.TotalBytes(),
	}
	switch last.Type {
	case events.Complete:
		p["finalPath"] = last.FinalPath
	case events.Error:
		p["error"] = last.Message
	}
	return p
}
