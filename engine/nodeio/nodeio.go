// Package nodeio records the inputs and outputs of every action invocation.
// Oversized payloads are spilled to the object store or, as a last resort,
// truncated, so events stay within sink message limits.
package nodeio

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/storage"
)

// EventKind distinguishes start and completion records
type EventKind string

const (
	EventStart      EventKind = "NODE_IO_START"
	EventCompletion EventKind = "NODE_IO_COMPLETION"
)

// DefaultEventSizeLimit is the payload size above which events are spilled
const DefaultEventSizeLimit = 100 * 1024

// DefaultTruncateLimit is the size above which payloads are truncated when
// spilling is unavailable
const DefaultTruncateLimit = 900 * 1024

// Event is one node-I/O record. Inputs are set on start events, outputs and
// status on completion events.
type Event struct {
	Kind         EventKind   `json:"kind"`
	RunID        string      `json:"runId"`
	NodeRef      string      `json:"nodeRef"`
	WorkflowID   string      `json:"workflowId,omitempty"`
	ComponentID  string      `json:"componentId,omitempty"`
	Inputs       interface{} `json:"inputs,omitempty"`
	Outputs      interface{} `json:"outputs,omitempty"`
	Status       string      `json:"status,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Sink receives node-I/O events
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Recorder applies the size policy and forwards events to the sink.
// Recording is best-effort: failures are logged, never returned, so I/O
// bookkeeping cannot fail an action.
type Recorder struct {
	sink          Sink
	store         storage.Store
	eventLimit    int
	truncateLimit int
	log           *logger.Logger
}

// RecorderOpts configures a Recorder
type RecorderOpts struct {
	Sink           Sink
	Store          storage.Store
	EventSizeLimit int
	TruncateLimit  int
	Logger         *logger.Logger
}

// NewRecorder creates a recorder; zero limits select the defaults
func NewRecorder(opts RecorderOpts) *Recorder {
	eventLimit := opts.EventSizeLimit
	if eventLimit <= 0 {
		eventLimit = DefaultEventSizeLimit
	}
	truncateLimit := opts.TruncateLimit
	if truncateLimit <= 0 {
		truncateLimit = DefaultTruncateLimit
	}
	return &Recorder{
		sink:          opts.Sink,
		store:         opts.Store,
		eventLimit:    eventLimit,
		truncateLimit: truncateLimit,
		log:           opts.Logger,
	}
}

// RecordStart writes a NODE_IO_START event
func (r *Recorder) RecordStart(ctx context.Context, event Event) {
	event.Kind = EventStart
	event.Inputs = r.fit(ctx, event.RunID, event.NodeRef, event.Inputs)
	r.write(ctx, event)
}

// RecordCompletion writes a NODE_IO_COMPLETION event
func (r *Recorder) RecordCompletion(ctx context.Context, event Event) {
	event.Kind = EventCompletion
	event.Outputs = r.fit(ctx, event.RunID, event.NodeRef, event.Outputs)
	r.write(ctx, event)
}

func (r *Recorder) write(ctx context.Context, event Event) {
	if r.sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := r.sink.Write(ctx, event); err != nil {
		r.log.Warn("node-io sink write failed",
			"run_id", event.RunID,
			"node_ref", event.NodeRef,
			"kind", event.Kind,
			"error", err)
	}
}

// fit keeps a payload within the event size limit: spill to the object
// store when one is configured, otherwise drop the payload noting its size,
// truncating outright only above the hard limit
func (r *Recorder) fit(ctx context.Context, runID, nodeRef string, payload interface{}) interface{} {
	if payload == nil {
		return nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		r.log.Warn("node-io payload not serializable",
			"run_id", runID, "node_ref", nodeRef, "error", err)
		return map[string]interface{}{"_truncated": true, "_originalSize": -1}
	}
	size := len(encoded)
	if size <= r.eventLimit {
		return payload
	}

	if r.store != nil {
		id := storage.NewID()
		name := runID + "/" + nodeRef + ".io.json"
		if err := r.store.Upload(ctx, id, name, encoded, "application/json"); err == nil {
			r.log.Info("node-io payload spilled",
				"run_id", runID, "node_ref", nodeRef, "object_id", id, "size", size)
			return map[string]interface{}{"_spilled_reference": id}
		}
		r.log.Warn("node-io payload spill failed, dropping payload",
			"run_id", runID, "node_ref", nodeRef, "size", size)
	}

	if size > r.truncateLimit {
		return map[string]interface{}{"_truncated": true, "_originalSize": size}
	}
	return map[string]interface{}{"_spilled": true, "size": size}
}
