// Package trace emits the ordered event stream describing one run. A
// per-run sequencer assigns dense, strictly increasing sequence numbers;
// sinks may deliver asynchronously, with sequence as the authoritative
// ordering key.
package trace

import (
	"context"
	"sync"
	"time"

	"github.com/fmzchao/studio/common/logger"
)

// EventType classifies a trace event
type EventType string

const (
	NodeStarted   EventType = "NODE_STARTED"
	NodeProgress  EventType = "NODE_PROGRESS"
	NodeCompleted EventType = "NODE_COMPLETED"
	NodeFailed    EventType = "NODE_FAILED"
	NodeSkipped   EventType = "NODE_SKIPPED"
	AwaitingInput EventType = "AWAITING_INPUT"
)

// Level is the severity of a trace event
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one trace row. Sequence is assigned by the sequencer; callers
// leave it zero.
type Event struct {
	RunID          string                 `json:"runId"`
	NodeRef        string                 `json:"nodeRef"`
	Type           EventType              `json:"type"`
	Timestamp      time.Time              `json:"timestamp"`
	Level          Level                  `json:"level"`
	Message        string                 `json:"message,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	OutputSummary  map[string]interface{} `json:"outputSummary,omitempty"`
	Error          map[string]interface{} `json:"error,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Sequence       int64                  `json:"sequence"`
	WorkflowID     string                 `json:"workflowId,omitempty"`
	OrganizationID string                 `json:"organizationId,omitempty"`
}

// RunMetadata is stamped onto every event of a run
type RunMetadata struct {
	WorkflowID     string
	OrganizationID string
}

// Sink receives sequenced events. Append must tolerate at-least-once
// delivery; (runId, sequence) identifies an event uniquely.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Sequencer stamps each event with the next per-run sequence number and
// dispatches it to the sink. Assignment and dispatch happen under one lock,
// so events reach the sink in sequence order.
type Sequencer struct {
	sink Sink
	log  *logger.Logger

	mu       sync.Mutex
	counters map[string]int64
	metadata map[string]RunMetadata
}

// NewSequencer creates a sequencer over sink
func NewSequencer(sink Sink, log *logger.Logger) *Sequencer {
	return &Sequencer{
		sink:     sink,
		log:      log,
		counters: make(map[string]int64),
		metadata: make(map[string]RunMetadata),
	}
}

// SetRunMetadata registers run-level metadata before the first event
func (s *Sequencer) SetRunMetadata(runID string, meta RunMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[runID] = meta
	if _, ok := s.counters[runID]; !ok {
		s.counters[runID] = 0
	}
}

// Record stamps event with the next sequence for its run and dispatches it.
// Sink failures are logged, never propagated: tracing must not fail the run.
// Returns the assigned sequence.
func (s *Sequencer) Record(ctx context.Context, event Event) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[event.RunID]++
	event.Sequence = s.counters[event.RunID]
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}
	if meta, ok := s.metadata[event.RunID]; ok {
		event.WorkflowID = meta.WorkflowID
		event.OrganizationID = meta.OrganizationID
	}

	if s.sink != nil {
		if err := s.sink.Append(ctx, event); err != nil {
			s.log.Warn("trace sink append failed",
				"run_id", event.RunID,
				"node_ref", event.NodeRef,
				"type", event.Type,
				"sequence", event.Sequence,
				"error", err)
		}
	}
	return event.Sequence
}

// FinalizeRun clears the run's counter and metadata
func (s *Sequencer) FinalizeRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, runID)
	delete(s.metadata, runID)
}

// Sequence returns the last assigned sequence for a run
func (s *Sequencer) Sequence(runID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[runID]
}
