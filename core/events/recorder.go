package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"lendmesh/core/types"
)

const defaultRecorderCapacity = 512

// Recorder keeps the most recent events as flattened types.Event values so
// read surfaces can serve them without knowing each module's payload types.
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	buffer   []types.Event
}

// NewRecorder builds a ring buffer of the given capacity; zero or negative
// falls back to the default.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{capacity: capacity}
}

// Emit implements Emitter. Event payloads flatten to string attributes via
// their JSON form.
func (r *Recorder) Emit(event Event) {
	if r == nil || event == nil {
		return
	}
	flat := types.Event{Type: event.EventType(), Attributes: flatten(event)}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, flat)
	if len(r.buffer) > r.capacity {
		r.buffer = r.buffer[len(r.buffer)-r.capacity:]
	}
}

// Recent returns up to limit events, newest last. A non-positive limit returns
// everything buffered.
func (r *Recorder) Recent(limit int) []types.Event {
	if r == nil {
		return []types.Event{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.buffer)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]types.Event, n)
	copy(out, r.buffer[len(r.buffer)-n:])
	return out
}

func flatten(event Event) map[string]string {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	// UseNumber keeps big integer amounts exact instead of rounding through
	// float64.
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(fields))
	for key, value := range fields {
		attrs[key] = fmt.Sprintf("%v", value)
	}
	return attrs
}
