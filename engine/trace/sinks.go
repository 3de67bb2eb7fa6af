package trace

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fmzchao/studio/common/queue"
)

// MemorySink keeps events in memory, ordered as appended. Used by tests and
// embedded runs.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores the event
func (s *MemorySink) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of all appended events
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]Event, len(s.events))
	copy(snapshot, s.events)
	return snapshot
}

// RunEvents returns the events of one run, in append order
func (s *MemorySink) RunEvents(runID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// QueueSink publishes events to an in-process topic queue for best-effort
// asynchronous delivery
type QueueSink struct {
	queue queue.Queue
	topic string
}

// NewQueueSink creates a queue-backed sink publishing to topic
func NewQueueSink(q queue.Queue, topic string) *QueueSink {
	if topic == "" {
		topic = "trace"
	}
	return &QueueSink{queue: q, topic: topic}
}

// Append publishes the event as a JSON message keyed by run id
func (s *QueueSink) Append(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.queue.Publish(ctx, s.topic, event.RunID, data)
}

// MultiSink fans one event out to several sinks. The first error is
// returned after every sink has been tried.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Append delivers the event to every sink
func (s *MultiSink) Append(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Append(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
