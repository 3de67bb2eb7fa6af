// Package logs carries structured per-action log output to a sink. Console
// components and runner-captured streams feed a per-action collector; sinks
// receive batches and may deliver asynchronously.
package logs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/common/queue"
)

// Stream identifies the origin of a log entry
type Stream string

const (
	StreamStdout  Stream = "stdout"
	StreamStderr  Stream = "stderr"
	StreamConsole Stream = "console"
)

// Entry is one structured log line
type Entry struct {
	RunID     string                 `json:"runId"`
	NodeRef   string                 `json:"nodeRef"`
	Stream    Stream                 `json:"stream"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Sink receives log entries. Delivery may be best-effort and asynchronous.
type Sink interface {
	Write(ctx context.Context, entries []Entry) error
}

// Split breaks a multi-line message on CR/LF into one entry per line. Each
// line is re-timestamped with a microsecond drift so sinks that order by
// timestamp preserve line order.
func Split(base Entry) []Entry {
	normalized := strings.ReplaceAll(base.Message, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	lines := strings.Split(normalized, "\n")

	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		entry := base
		entry.Message = line
		entry.Timestamp = base.Timestamp.Add(time.Duration(len(entries)) * time.Microsecond)
		entries = append(entries, entry)
	}
	return entries
}

// Collector buffers entries for one action and flushes them to a sink when
// the action finishes
type Collector struct {
	runID   string
	nodeRef string
	sink    Sink
	log     *logger.Logger

	mu      sync.Mutex
	entries []Entry
}

// NewCollector creates a collector for one action invocation
func NewCollector(runID, nodeRef string, sink Sink, log *logger.Logger) *Collector {
	return &Collector{
		runID:   runID,
		nodeRef: nodeRef,
		sink:    sink,
		log:     log,
	}
}

// Log records a message on the given stream, splitting multi-line content
func (c *Collector) Log(stream Stream, level, message string, metadata map[string]interface{}) {
	base := Entry{
		RunID:     c.runID,
		NodeRef:   c.nodeRef,
		Stream:    stream,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	split := Split(base)

	c.mu.Lock()
	c.entries = append(c.entries, split...)
	c.mu.Unlock()
}

// Console records console output at the given level
func (c *Collector) Console(level, message string) {
	c.Log(StreamConsole, level, message, nil)
}

// Stdout records captured standard output
func (c *Collector) Stdout(message string) {
	c.Log(StreamStdout, "info", message, nil)
}

// Stderr records captured standard error
func (c *Collector) Stderr(message string) {
	c.Log(StreamStderr, "error", message, nil)
}

// Entries returns a snapshot of the buffered entries
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]Entry, len(c.entries))
	copy(snapshot, c.entries)
	return snapshot
}

// Flush sends buffered entries to the sink and clears the buffer
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.entries
	c.entries = nil
	c.mu.Unlock()

	if len(batch) == 0 || c.sink == nil {
		return
	}
	if err := c.sink.Write(ctx, batch); err != nil {
		c.log.Warn("log sink write failed",
			"run_id", c.runID, "node_ref", c.nodeRef, "entries", len(batch), "error", err)
	}
}

// MemorySink keeps entries in memory, for tests and embedded runs
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends entries
func (s *MemorySink) Write(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

// Entries returns a snapshot of everything written
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]Entry, len(s.entries))
	copy(snapshot, s.entries)
	return snapshot
}

// QueueSink publishes entries to an in-process topic queue for best-effort
// asynchronous delivery to an aggregator
type QueueSink struct {
	queue queue.Queue
	topic string
}

// NewQueueSink creates a queue-backed sink publishing to topic
func NewQueueSink(q queue.Queue, topic string) *QueueSink {
	if topic == "" {
		topic = "logs"
	}
	return &QueueSink{queue: q, topic: topic}
}

// Write publishes each entry as a JSON message keyed by run id
func (s *QueueSink) Write(ctx context.Context, entries []Entry) error {
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := s.queue.Publish(ctx, s.topic, entry.RunID, data); err != nil {
			return err
		}
	}
	return nil
}
