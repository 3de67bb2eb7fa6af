package nodeio

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fmzchao/studio/common/queue"
)

// MemorySink keeps events in memory, for tests and embedded runs
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the event
func (s *MemorySink) Write(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of all written events
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]Event, len(s.events))
	copy(snapshot, s.events)
	return snapshot
}

// NodeEvents returns the events of one node within a run
func (s *MemorySink) NodeEvents(runID, nodeRef string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.RunID == runID && e.NodeRef == nodeRef {
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
		topic = "nodeio"
	}
	return &QueueSink{queue: q, topic: topic}
}

// Write publishes the event as a JSON message keyed by run id
func (s *QueueSink) Write(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.queue.Publish(ctx, s.topic, event.RunID, data)
}
